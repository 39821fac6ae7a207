// Package cli defines the voxpage command tree and parses arguments into a
// command for the app runner.
package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

type Command string

const (
	CommandToggle   Command = "toggle"
	CommandStop     Command = "stop"
	CommandCancel   Command = "cancel"
	CommandStatus   Command = "status"
	CommandLanguage Command = "language"
	CommandTargets  Command = "targets"
	CommandHistory  Command = "history"
	CommandDevices  Command = "devices"
	CommandDoctor   Command = "doctor"
	CommandVersion  Command = "version"
	CommandHelp     Command = "help"
)

const defaultHistoryLimit = 10

type Parsed struct {
	Command    Command
	ConfigPath string
	ShowHelp   bool

	// Language is the code passed to the language command.
	Language string
	// HTMLPath makes targets read a saved page instead of the live tab.
	HTMLPath string
	// SavePath makes targets write the live tab's snapshot to disk.
	SavePath string
	// Host classifies a saved page, which carries no location of its own.
	Host string
	// Limit caps the history listing.
	Limit int
}

// Parse runs args through the command tree without executing anything.
func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true, Limit: defaultHistoryLimit}
	root := newRootCommand(&parsed)

	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return Parsed{}, err
	}
	return parsed, nil
}

func newRootCommand(parsed *Parsed) *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:           "voxpage",
		Short:         "Dictate into the focused browser tab",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(*cobra.Command, []string) error {
			if showVersion {
				parsed.Command = CommandVersion
				parsed.ShowHelp = false
			}
			return nil
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetHelpFunc(func(*cobra.Command, []string) {
		parsed.Command = CommandHelp
		parsed.ShowHelp = true
	})

	root.PersistentFlags().StringVar(&parsed.ConfigPath, "config", "", "config file path")
	root.Flags().BoolVar(&showVersion, "version", false, "show version")

	root.AddCommand(
		simpleCommand(parsed, CommandToggle, "Start dictation or stop and commit when active"),
		simpleCommand(parsed, CommandStop, "Stop active dictation and commit the text"),
		simpleCommand(parsed, CommandCancel, "Cancel active dictation and restore the field"),
		simpleCommand(parsed, CommandStatus, "Print current state"),
		simpleCommand(parsed, CommandDevices, "List available input devices"),
		simpleCommand(parsed, CommandDoctor, "Run configuration and environment checks"),
		simpleCommand(parsed, CommandVersion, "Print version information"),
		languageCommand(parsed),
		targetsCommand(parsed),
		historyCommand(parsed),
	)
	return root
}

func simpleCommand(parsed *Parsed, command Command, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(command),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			parsed.Command = command
			parsed.ShowHelp = false
			return nil
		},
	}
}

func languageCommand(parsed *Parsed) *cobra.Command {
	return &cobra.Command{
		Use:   "language CODE",
		Short: "Switch the recognition language",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			parsed.Command = CommandLanguage
			parsed.ShowHelp = false
			parsed.Language = args[0]
			return nil
		},
	}
}

func targetsCommand(parsed *Parsed) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Show the site class and ranked input and submit candidates",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if parsed.HTMLPath != "" && parsed.SavePath != "" {
				return fmt.Errorf("--html and --save cannot be combined")
			}
			if parsed.Host != "" && parsed.HTMLPath == "" {
				return fmt.Errorf("--host requires --html")
			}
			parsed.Command = CommandTargets
			parsed.ShowHelp = false
			return nil
		},
	}
	cmd.Flags().StringVar(&parsed.HTMLPath, "html", "", "rank a saved HTML page instead of the live tab")
	cmd.Flags().StringVar(&parsed.SavePath, "save", "", "write the live tab snapshot to FILE")
	cmd.Flags().StringVar(&parsed.Host, "host", "", "host to classify a saved page as (with --html)")
	return cmd
}

func historyCommand(parsed *Parsed) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent dictations",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if parsed.Limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			parsed.Command = CommandHistory
			parsed.ShowHelp = false
			return nil
		},
	}
	cmd.Flags().IntVar(&parsed.Limit, "limit", defaultHistoryLimit, "number of entries to show")
	return cmd
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command>

Commands:
  toggle           Start dictation, or stop and commit when already listening
  stop             Stop active dictation and commit the text
  cancel           Cancel active dictation and restore the field
  status           Print current state
  language CODE    Switch the recognition language (restarts an active session)
  targets          Show the site class and ranked input/submit candidates
                     --html FILE  rank a saved page instead of the live tab
                     --host HOST  site host for a saved page
                     --save FILE  write the live tab snapshot to FILE
  history          List recent dictations (--limit N, default %[2]d)
  devices          List available input devices
  doctor           Run configuration and environment checks
  version          Print version information
  help             Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/voxpage/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName, defaultHistoryLimit)
}
