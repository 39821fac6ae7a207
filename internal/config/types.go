// Package config resolves, parses, validates, and defaults voxpage configuration.
package config

import "time"

// Config is the fully materialized runtime configuration used by voxpage.
type Config struct {
	Language        string
	SilenceMS       int
	SafetyTimeoutMS int
	AutoSubmit      bool
	ShowPanel       bool
	Correction      CorrectionConfig
	STT             STTConfig
	Audio           AudioConfig
	Browser         BrowserConfig
	Indicator       IndicatorConfig
	Clipboard       CommandConfig
	Log             LogConfig
	Debug           DebugConfig
}

// SilenceTimeout is the pause after the last interim result that completes an utterance.
func (c Config) SilenceTimeout() time.Duration {
	return time.Duration(c.SilenceMS) * time.Millisecond
}

// SafetyTimeout bounds how long a session may stay outside idle.
func (c Config) SafetyTimeout() time.Duration {
	return time.Duration(c.SafetyTimeoutMS) * time.Millisecond
}

// CorrectionConfig controls the optional language-model correction pass.
type CorrectionConfig struct {
	Enable       bool
	Model        string
	APIKeyEnv    string
	BaseURL      string
	TimeoutMS    int
	SystemPrompt string
	PriorTurns   int
}

// Timeout bounds one correction request.
func (c CorrectionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// STTConfig controls the streaming speech-to-text connection.
type STTConfig struct {
	Model         string
	APIKeyEnv     string
	Endpoint      string
	EndpointingMS int
	Punctuate     bool
	Keywords      []string
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string
	Fallback string
}

// BrowserConfig locates the DevTools endpoint and the tab to drive.
type BrowserConfig struct {
	DevToolsURL string
	Tab         string
}

// IndicatorConfig controls notification and audio cue behavior.
type IndicatorConfig struct {
	Enable         bool
	Backend        string
	DesktopAppName string
	SoundEnable    bool
	ErrorTimeoutMS int
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// LogConfig controls the rotating log file.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool
	EnableSTTDump   bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
