package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate replaces invalid values with defaults and returns a warning for each.
// Configuration problems are never fatal.
func Validate(cfg Config) (Config, []Warning) {
	def := Default()
	warnings := make([]Warning, 0)
	fallback := func(key string, format string, args ...any) {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("%s: %s; using default", key, fmt.Sprintf(format, args...))})
	}

	if strings.TrimSpace(cfg.Language) == "" {
		fallback("language", "must not be empty")
		cfg.Language = def.Language
	}
	if cfg.SilenceMS < MinSilenceMS || cfg.SilenceMS > MaxSilenceMS {
		fallback("silence_ms", "%d outside %d..%d", cfg.SilenceMS, MinSilenceMS, MaxSilenceMS)
		cfg.SilenceMS = def.SilenceMS
	}
	if cfg.SafetyTimeoutMS < MinSafetyTimeoutMS || cfg.SafetyTimeoutMS > MaxSafetyTimeoutMS {
		fallback("safety_timeout_ms", "%d outside %d..%d", cfg.SafetyTimeoutMS, MinSafetyTimeoutMS, MaxSafetyTimeoutMS)
		cfg.SafetyTimeoutMS = def.SafetyTimeoutMS
	}
	if cfg.SafetyTimeoutMS <= cfg.SilenceMS {
		fallback("safety_timeout_ms", "must exceed silence_ms")
		cfg.SafetyTimeoutMS = def.SafetyTimeoutMS
	}

	if cfg.Correction.Model == "" {
		fallback("correction.model", "must not be empty")
		cfg.Correction.Model = def.Correction.Model
	}
	if cfg.Correction.APIKeyEnv == "" {
		fallback("correction.api_key_env", "must not be empty")
		cfg.Correction.APIKeyEnv = def.Correction.APIKeyEnv
	}
	if cfg.Correction.BaseURL != "" && !validHTTPURL(cfg.Correction.BaseURL) {
		fallback("correction.base_url", "%q is not an http(s) URL", cfg.Correction.BaseURL)
		cfg.Correction.BaseURL = def.Correction.BaseURL
	}
	if cfg.Correction.TimeoutMS <= 0 || cfg.Correction.TimeoutMS > 60_000 {
		fallback("correction.timeout_ms", "%d outside 1..60000", cfg.Correction.TimeoutMS)
		cfg.Correction.TimeoutMS = def.Correction.TimeoutMS
	}
	if cfg.Correction.TimeoutMS >= cfg.SafetyTimeoutMS {
		limit := min(def.Correction.TimeoutMS, cfg.SafetyTimeoutMS/2)
		warnings = append(warnings, Warning{Message: fmt.Sprintf(
			"correction.timeout_ms: %d must be below safety_timeout_ms %d; using %d",
			cfg.Correction.TimeoutMS, cfg.SafetyTimeoutMS, limit,
		)})
		cfg.Correction.TimeoutMS = limit
	}
	if strings.TrimSpace(cfg.Correction.SystemPrompt) == "" {
		fallback("correction.system_prompt", "must not be empty")
		cfg.Correction.SystemPrompt = def.Correction.SystemPrompt
	}
	if cfg.Correction.PriorTurns < 0 || cfg.Correction.PriorTurns > 20 {
		fallback("correction.prior_turns", "%d outside 0..20", cfg.Correction.PriorTurns)
		cfg.Correction.PriorTurns = def.Correction.PriorTurns
	}

	if cfg.STT.APIKeyEnv == "" {
		fallback("stt.api_key_env", "must not be empty")
		cfg.STT.APIKeyEnv = def.STT.APIKeyEnv
	}
	if !validStreamURL(cfg.STT.Endpoint) {
		fallback("stt.endpoint", "%q is not a ws(s) or http(s) URL", cfg.STT.Endpoint)
		cfg.STT.Endpoint = def.STT.Endpoint
	}
	if cfg.STT.EndpointingMS < 0 || cfg.STT.EndpointingMS > 10_000 {
		fallback("stt.endpointing_ms", "%d outside 0..10000", cfg.STT.EndpointingMS)
		cfg.STT.EndpointingMS = def.STT.EndpointingMS
	}

	if !validHTTPURL(cfg.Browser.DevToolsURL) {
		fallback("browser.devtools_url", "%q is not an http(s) URL", cfg.Browser.DevToolsURL)
		cfg.Browser.DevToolsURL = def.Browser.DevToolsURL
	}

	switch cfg.Indicator.Backend {
	case "hypr", "desktop":
	default:
		fallback("indicator.backend", "%q is not one of: hypr, desktop", cfg.Indicator.Backend)
		cfg.Indicator.Backend = def.Indicator.Backend
	}
	if cfg.Indicator.Backend == "desktop" && cfg.Indicator.DesktopAppName == "" {
		fallback("indicator.desktop_app_name", "must not be empty when indicator.backend=desktop")
		cfg.Indicator.DesktopAppName = def.Indicator.DesktopAppName
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		fallback("indicator.error_timeout_ms", "must be >= 0")
		cfg.Indicator.ErrorTimeoutMS = def.Indicator.ErrorTimeoutMS
	}

	if len(cfg.Clipboard.Argv) == 0 {
		fallback("clipboard_cmd", "must not be empty")
		cfg.Clipboard = def.Clipboard
	}

	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		fallback("log.level", "unknown level %q", cfg.Log.Level)
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.MaxSizeMB <= 0 {
		fallback("log.max_size_mb", "must be > 0")
		cfg.Log.MaxSizeMB = def.Log.MaxSizeMB
	}
	if cfg.Log.MaxBackups < 0 {
		fallback("log.max_backups", "must be >= 0")
		cfg.Log.MaxBackups = def.Log.MaxBackups
	}
	if cfg.Log.MaxAgeDays < 0 {
		fallback("log.max_age_days", "must be >= 0")
		cfg.Log.MaxAgeDays = def.Log.MaxAgeDays
	}

	return cfg, warnings
}

func validHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

func validStreamURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Scheme {
	case "ws", "wss", "http", "https":
		return true
	}
	return false
}
