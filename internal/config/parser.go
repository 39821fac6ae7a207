package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/titanous/json5"
)

type fileConfig struct {
	Language        *string `json:"language"`
	SilenceMS       *int    `json:"silence_ms"`
	SafetyTimeoutMS *int    `json:"safety_timeout_ms"`
	AutoSubmit      *bool   `json:"auto_submit"`
	ShowPanel       *bool   `json:"show_panel"`

	Correction   *fileCorrection `json:"correction"`
	STT          *fileSTT        `json:"stt"`
	Audio        *fileAudio      `json:"audio"`
	Browser      *fileBrowser    `json:"browser"`
	Indicator    *fileIndicator  `json:"indicator"`
	ClipboardCmd *string         `json:"clipboard_cmd"`
	Log          *fileLog        `json:"log"`
	Debug        *fileDebug      `json:"debug"`
}

type fileCorrection struct {
	Enable       *bool   `json:"enable"`
	Model        *string `json:"model"`
	APIKeyEnv    *string `json:"api_key_env"`
	BaseURL      *string `json:"base_url"`
	TimeoutMS    *int    `json:"timeout_ms"`
	SystemPrompt *string `json:"system_prompt"`
	PriorTurns   *int    `json:"prior_turns"`
}

type fileSTT struct {
	Model         *string  `json:"model"`
	APIKeyEnv     *string  `json:"api_key_env"`
	Endpoint      *string  `json:"endpoint"`
	EndpointingMS *int     `json:"endpointing_ms"`
	Punctuate     *bool    `json:"punctuate"`
	Keywords      []string `json:"keywords"`
}

type fileAudio struct {
	Input    *string `json:"input"`
	Fallback *string `json:"fallback"`
}

type fileBrowser struct {
	DevToolsURL *string `json:"devtools_url"`
	Tab         *string `json:"tab"`
}

type fileIndicator struct {
	Enable         *bool   `json:"enable"`
	Backend        *string `json:"backend"`
	DesktopAppName *string `json:"desktop_app_name"`
	SoundEnable    *bool   `json:"sound_enable"`
	ErrorTimeoutMS *int    `json:"error_timeout_ms"`
}

type fileLog struct {
	Level      *string `json:"level"`
	MaxSizeMB  *int    `json:"max_size_mb"`
	MaxBackups *int    `json:"max_backups"`
	MaxAgeDays *int    `json:"max_age_days"`
}

type fileDebug struct {
	AudioDump *bool `json:"audio_dump"`
	STTDump   *bool `json:"stt_dump"`
}

// knownKeys lists accepted keys; a nil entry is a scalar, a non-nil entry a section.
var knownKeys = map[string]map[string]struct{}{
	"language":          nil,
	"silence_ms":        nil,
	"safety_timeout_ms": nil,
	"auto_submit":       nil,
	"show_panel":        nil,
	"clipboard_cmd":     nil,
	"correction":        keySet("enable", "model", "api_key_env", "base_url", "timeout_ms", "system_prompt", "prior_turns"),
	"stt":               keySet("model", "api_key_env", "endpoint", "endpointing_ms", "punctuate", "keywords"),
	"audio":             keySet("input", "fallback"),
	"browser":           keySet("devtools_url", "tab"),
	"indicator":         keySet("enable", "backend", "desktop_app_name", "sound_enable", "error_timeout_ms"),
	"log":               keySet("max_size_mb", "max_backups", "max_age_days"),
	"debug":             keySet("audio_dump", "stt_dump"),
}

func keySet(keys ...string) map[string]struct{} {
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}

// Parse reads JSONC/JSON5 configuration content on top of base.
//
// Syntax and type errors are returned; unknown keys and out-of-range values
// become warnings and keep their defaults.
func Parse(content string, base Config) (Config, []Warning, error) {
	if strings.TrimSpace(content) == "" {
		cfg, warnings := Validate(base)
		return cfg, warnings, nil
	}

	var raw map[string]any
	if err := json5.Unmarshal([]byte(content), &raw); err != nil {
		return Config{}, nil, err
	}
	warnings := unknownKeyWarnings(content, raw)

	var payload fileConfig
	if err := json5.Unmarshal([]byte(content), &payload); err != nil {
		return Config{}, nil, err
	}

	cfg := base
	applyWarnings := payload.applyTo(&cfg)
	warnings = append(warnings, applyWarnings...)

	cfg, validated := Validate(cfg)
	warnings = append(warnings, validated...)
	return cfg, warnings, nil
}

func unknownKeyWarnings(content string, raw map[string]any) []Warning {
	var warnings []Warning
	for _, key := range sortedKeys(raw) {
		section, known := knownKeys[key]
		if !known {
			warnings = append(warnings, Warning{Line: lineOf(content, key), Message: fmt.Sprintf("unknown key %q ignored", key)})
			continue
		}
		if section == nil {
			continue
		}
		nested, ok := raw[key].(map[string]any)
		if !ok {
			continue
		}
		for _, sub := range sortedKeys(nested) {
			if _, ok := section[sub]; !ok {
				warnings = append(warnings, Warning{Line: lineOf(content, sub), Message: fmt.Sprintf("unknown key %q ignored", key+"."+sub)})
			}
		}
	}
	return warnings
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// lineOf returns the 1-based line of the first occurrence of key, or 0.
func lineOf(content string, key string) int {
	for i, line := range strings.Split(content, "\n") {
		if strings.Contains(line, `"`+key+`"`) || strings.Contains(line, `'`+key+`'`) || strings.HasPrefix(strings.TrimSpace(line), key+":") {
			return i + 1
		}
	}
	return 0
}

func (payload fileConfig) applyTo(cfg *Config) []Warning {
	warnings := make([]Warning, 0)

	if payload.Language != nil {
		cfg.Language = strings.TrimSpace(*payload.Language)
	}
	if payload.SilenceMS != nil {
		cfg.SilenceMS = *payload.SilenceMS
	}
	if payload.SafetyTimeoutMS != nil {
		cfg.SafetyTimeoutMS = *payload.SafetyTimeoutMS
	}
	if payload.AutoSubmit != nil {
		cfg.AutoSubmit = *payload.AutoSubmit
	}
	if payload.ShowPanel != nil {
		cfg.ShowPanel = *payload.ShowPanel
	}

	if c := payload.Correction; c != nil {
		if c.Enable != nil {
			cfg.Correction.Enable = *c.Enable
		}
		if c.Model != nil {
			cfg.Correction.Model = strings.TrimSpace(*c.Model)
		}
		if c.APIKeyEnv != nil {
			cfg.Correction.APIKeyEnv = strings.TrimSpace(*c.APIKeyEnv)
		}
		if c.BaseURL != nil {
			cfg.Correction.BaseURL = strings.TrimSpace(*c.BaseURL)
		}
		if c.TimeoutMS != nil {
			cfg.Correction.TimeoutMS = *c.TimeoutMS
		}
		if c.SystemPrompt != nil {
			cfg.Correction.SystemPrompt = *c.SystemPrompt
		}
		if c.PriorTurns != nil {
			cfg.Correction.PriorTurns = *c.PriorTurns
		}
	}

	if s := payload.STT; s != nil {
		if s.Model != nil {
			cfg.STT.Model = strings.TrimSpace(*s.Model)
		}
		if s.APIKeyEnv != nil {
			cfg.STT.APIKeyEnv = strings.TrimSpace(*s.APIKeyEnv)
		}
		if s.Endpoint != nil {
			cfg.STT.Endpoint = strings.TrimSpace(*s.Endpoint)
		}
		if s.EndpointingMS != nil {
			cfg.STT.EndpointingMS = *s.EndpointingMS
		}
		if s.Punctuate != nil {
			cfg.STT.Punctuate = *s.Punctuate
		}
		if s.Keywords != nil {
			cfg.STT.Keywords = cfg.STT.Keywords[:0]
			for _, kw := range s.Keywords {
				if kw = strings.TrimSpace(kw); kw != "" {
					cfg.STT.Keywords = append(cfg.STT.Keywords, kw)
				}
			}
		}
	}

	if payload.Audio != nil {
		if payload.Audio.Input != nil {
			cfg.Audio.Input = *payload.Audio.Input
		}
		if payload.Audio.Fallback != nil {
			cfg.Audio.Fallback = *payload.Audio.Fallback
		}
	}

	if payload.Browser != nil {
		if payload.Browser.DevToolsURL != nil {
			cfg.Browser.DevToolsURL = strings.TrimSpace(*payload.Browser.DevToolsURL)
		}
		if payload.Browser.Tab != nil {
			cfg.Browser.Tab = strings.TrimSpace(*payload.Browser.Tab)
		}
	}

	if i := payload.Indicator; i != nil {
		if i.Enable != nil {
			cfg.Indicator.Enable = *i.Enable
		}
		if i.Backend != nil {
			cfg.Indicator.Backend = strings.ToLower(strings.TrimSpace(*i.Backend))
		}
		if i.DesktopAppName != nil {
			cfg.Indicator.DesktopAppName = strings.TrimSpace(*i.DesktopAppName)
		}
		if i.SoundEnable != nil {
			cfg.Indicator.SoundEnable = *i.SoundEnable
		}
		if i.ErrorTimeoutMS != nil {
			cfg.Indicator.ErrorTimeoutMS = *i.ErrorTimeoutMS
		}
	}

	if payload.ClipboardCmd != nil {
		cmd, err := parseCommand(*payload.ClipboardCmd)
		if err != nil {
			warnings = append(warnings, Warning{Message: fmt.Sprintf("clipboard_cmd: %v; using default", err)})
		} else {
			cfg.Clipboard = cmd
		}
	}

	if l := payload.Log; l != nil {
		if l.Level != nil {
			cfg.Log.Level = strings.ToLower(strings.TrimSpace(*l.Level))
		}
		if l.MaxSizeMB != nil {
			cfg.Log.MaxSizeMB = *l.MaxSizeMB
		}
		if l.MaxBackups != nil {
			cfg.Log.MaxBackups = *l.MaxBackups
		}
		if l.MaxAgeDays != nil {
			cfg.Log.MaxAgeDays = *l.MaxAgeDays
		}
	}

	if payload.Debug != nil {
		if payload.Debug.AudioDump != nil {
			cfg.Debug.EnableAudioDump = *payload.Debug.AudioDump
		}
		if payload.Debug.STTDump != nil {
			cfg.Debug.EnableSTTDump = *payload.Debug.STTDump
		}
	}

	return warnings
}
