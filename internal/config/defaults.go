package config

const (
	DefaultSilenceMS       = 1500
	MinSilenceMS           = 300
	MaxSilenceMS           = 10_000
	DefaultSafetyTimeoutMS = 90_000
	MinSafetyTimeoutMS     = 5_000
	MaxSafetyTimeoutMS     = 600_000
)

const defaultSystemPrompt = "You fix speech-recognition mistakes in dictated text. " +
	"Correct misheard words, punctuation and capitalization. Keep the wording and language. " +
	"Reply with the corrected text only."

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	clipboard := "wl-copy --trim-newline"

	return Config{
		Language:        "en-US",
		SilenceMS:       DefaultSilenceMS,
		SafetyTimeoutMS: DefaultSafetyTimeoutMS,
		AutoSubmit:      false,
		ShowPanel:       true,
		Correction: CorrectionConfig{
			Enable:       false,
			Model:        "gpt-4o-mini",
			APIKeyEnv:    "OPENAI_API_KEY",
			TimeoutMS:    8000,
			SystemPrompt: defaultSystemPrompt,
			PriorTurns:   3,
		},
		STT: STTConfig{
			Model:         "nova-3",
			APIKeyEnv:     "DEEPGRAM_API_KEY",
			Endpoint:      "wss://api.deepgram.com/v1/listen",
			EndpointingMS: 300,
			Punctuate:     true,
		},
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
		},
		Browser: BrowserConfig{
			DevToolsURL: "http://127.0.0.1:9222",
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			Backend:        "hypr",
			DesktopAppName: "voxpage-indicator",
			SoundEnable:    true,
			ErrorTimeoutMS: 1600,
		},
		Clipboard: mustCommand(clipboard),
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Debug: DebugConfig{},
	}
}
