package config

import (
	"fmt"
	"strings"

	"github.com/mattn/go-shellwords"
)

// parseCommand splits a shell-style command line into argv, expanding
// environment references like $HOME. A blank or #-commented line yields an
// empty command.
func parseCommand(raw string) (CommandConfig, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return CommandConfig{Raw: raw}, nil
	}

	parser := shellwords.NewParser()
	parser.ParseEnv = true
	argv, err := parser.Parse(trimmed)
	if err != nil {
		return CommandConfig{}, fmt.Errorf("invalid command %q: %w", trimmed, err)
	}
	if len(argv) == 0 {
		argv = nil
	}
	return CommandConfig{Raw: raw, Argv: argv}, nil
}

func mustCommand(raw string) CommandConfig {
	cmd, err := parseCommand(raw)
	if err != nil {
		panic(err)
	}
	return cmd
}
