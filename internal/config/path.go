package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ConfigEnv names the environment variable that overrides the config path
// when --config is not given.
const ConfigEnv = "VOXPAGE_CONFIG"

// ResolvePath picks the config file location: the explicit --config value,
// then $VOXPAGE_CONFIG, then $XDG_CONFIG_HOME, then ~/.config. A leading ~/
// is expanded in the first two.
func ResolvePath(explicit string) (string, error) {
	for _, candidate := range []string{explicit, os.Getenv(ConfigEnv)} {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			return expandHome(candidate)
		}
	}

	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "voxpage", "config.jsonc"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for config fallback")
	}
	return filepath.Join(home, ".config", "voxpage", "config.jsonc"), nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for ~ expansion")
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// StateDir returns the directory for logs, history and debug dumps:
// $XDG_STATE_HOME/voxpage, falling back to ~/.local/state/voxpage.
func StateDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return filepath.Join(xdg, "voxpage"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("unable to resolve user home for state dir")
	}
	return filepath.Join(home, ".local", "state", "voxpage"), nil
}
