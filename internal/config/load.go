package config

import (
	"errors"
	"fmt"
	"os"
)

// Loaded is a resolved config plus the non-fatal problems found loading it.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

// Load resolves, reads, parses and validates the configuration. An
// unreadable or malformed file yields defaults plus a warning; only path
// resolution can fail.
func Load(explicitPath string) (Loaded, error) {
	path, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}
	return loadFile(path), nil
}

func loadFile(path string) Loaded {
	loaded := Loaded{Path: path, Config: Default()}
	defaults := func(format string, args ...any) Loaded {
		loaded.Warnings = []Warning{{Message: fmt.Sprintf(format, args...) + "; using defaults"}}
		return loaded
	}

	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return defaults("config file %q not found", path)
	case err != nil:
		loaded.Exists = true
		return defaults("read config %q: %v", path, err)
	}
	loaded.Exists = true

	cfg, warnings, err := Parse(string(content), loaded.Config)
	if err != nil {
		return defaults("parse config %q: %v", path, err)
	}
	loaded.Config = cfg
	loaded.Warnings = warnings
	return loaded
}
