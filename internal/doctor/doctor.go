// Package doctor runs runtime readiness diagnostics for config, tools, audio,
// the browser endpoint, and service credentials.
package doctor

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/voxpage/internal/audio"
	"github.com/rbright/voxpage/internal/browser"
	"github.com/rbright/voxpage/internal/config"
	"github.com/rbright/voxpage/internal/hypr"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Options override probes for tests.
type Options struct {
	HTTPClient  *http.Client
	SelectAudio func(ctx context.Context, input string, fallback string) (audio.Selection, error)
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, cfg config.Loaded, opts Options) Report {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 2 * time.Second}
	}
	if opts.SelectAudio == nil {
		opts.SelectAudio = audio.SelectDevice
	}

	checks := []Check{checkConfig(cfg)}

	checks = append(checks, checkSecret("stt.api_key_env", cfg.Config.STT.APIKeyEnv))
	if cfg.Config.Correction.Enable {
		checks = append(checks, checkSecret("correction.api_key_env", cfg.Config.Correction.APIKeyEnv))
	}

	checks = append(checks, checkCommand(cfg.Config.Clipboard.Argv, "clipboard_cmd"))
	if cfg.Config.Indicator.Enable {
		if strings.EqualFold(cfg.Config.Indicator.Backend, "desktop") {
			checks = append(checks, checkBinary("busctl", "desktop notifications"))
		} else {
			checks = append(checks, checkEnv("HYPRLAND_INSTANCE_SIGNATURE", func(v string) bool {
				return strings.TrimSpace(v) != ""
			}, "Hyprland session detected", "HYPRLAND_INSTANCE_SIGNATURE is empty"))
			checks = append(checks, checkBinary("hyprctl", "hypr notifications"))
			checks = append(checks, checkActiveWindow(ctx))
		}
	}

	checks = append(checks, checkAudioSelection(ctx, cfg.Config, opts.SelectAudio))
	checks = append(checks, checkDevTools(ctx, cfg.Config.Browser, opts.HTTPClient))

	return Report{Checks: checks}
}

func checkConfig(cfg config.Loaded) Check {
	if len(cfg.Warnings) == 0 {
		return Check{Name: "config", Pass: true, Message: fmt.Sprintf("loaded %q", cfg.Path)}
	}
	messages := make([]string, 0, len(cfg.Warnings))
	for _, w := range cfg.Warnings {
		if w.Line > 0 {
			messages = append(messages, fmt.Sprintf("line %d: %s", w.Line, w.Message))
			continue
		}
		messages = append(messages, w.Message)
	}
	return Check{
		Name:    "config",
		Pass:    false,
		Message: fmt.Sprintf("%q has %d warning(s): %s", cfg.Path, len(messages), strings.Join(messages, "; ")),
	}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkSecret reports whether the variable named by key holds a value
// without echoing it.
func checkSecret(key string, envName string) Check {
	envName = strings.TrimSpace(envName)
	if envName == "" {
		return Check{Name: key, Pass: false, Message: "variable name is empty"}
	}
	if strings.TrimSpace(os.Getenv(envName)) == "" {
		return Check{Name: key, Pass: false, Message: fmt.Sprintf("%s is not set", envName)}
	}
	return Check{Name: key, Pass: true, Message: fmt.Sprintf("%s is set", envName)}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(
	ctx context.Context,
	cfg config.Config,
	selectDevice func(context.Context, string, string) (audio.Selection, error),
) Check {
	selection, err := selectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkDevTools lists the endpoint's tabs and confirms the configured tab exists.
func checkDevTools(ctx context.Context, cfg config.BrowserConfig, client *http.Client) Check {
	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	tabs, err := browser.ListTabs(probeCtx, client, cfg.DevToolsURL)
	if err != nil {
		return Check{Name: "browser.devtools", Pass: false, Message: err.Error()}
	}
	tab, err := browser.SelectTab(tabs, cfg.Tab)
	if err != nil {
		return Check{Name: "browser.devtools", Pass: false, Message: fmt.Sprintf("%s: %v", cfg.DevToolsURL, err)}
	}
	return Check{
		Name:    "browser.devtools",
		Pass:    true,
		Message: fmt.Sprintf("%d tab(s); would attach to %q", len(tabs), tab.URL),
	}
}

// checkActiveWindow reports the focused client. It is informational since
// doctor usually runs from a terminal.
func checkActiveWindow(ctx context.Context) Check {
	queryCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	window, err := hypr.QueryActiveWindow(queryCtx)
	if err != nil {
		return Check{Name: "hypr.activewindow", Pass: true, Message: fmt.Sprintf("unavailable: %v", err)}
	}
	kind := "not a browser"
	if window.IsBrowser() {
		kind = "browser"
	}
	return Check{Name: "hypr.activewindow", Pass: true, Message: fmt.Sprintf("%q (%s)", window.Class, kind)}
}
