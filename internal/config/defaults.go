package config

const (
	defaultStagingDir          = "~/.local/share/scriptreel/staging"
	defaultLogDir              = "~/.local/share/scriptreel/logs"
	defaultAPIBind             = "127.0.0.1:8320"
	defaultGeminiBaseURL       = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel         = "gemini-2.0-flash"
	defaultGeminiTimeout       = 60
	defaultElevenLabsBaseURL   = "https://api.elevenlabs.io/v1"
	defaultElevenLabsVoiceID   = "21m00Tcm4TlvDq8ikWAM"
	defaultElevenLabsTimeout   = 120
	defaultVideoGenTimeout     = 600
	defaultVideoGenPollSeconds = 5
	defaultStorageRegion       = "auto"
	defaultStorageTimeout      = 300
	defaultSceneConcurrency    = 1
	defaultHeartbeatInterval   = 15
	defaultHeartbeatTimeout    = 120
	defaultAnalyzeTimeout      = 120
	defaultRenderTimeout       = 600
	defaultNarrationTimeout    = 180
	defaultComposeTimeout      = 300
	defaultPublishTimeout      = 300
	defaultNtfyTimeout         = 10
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Gemini: Gemini{
			BaseURL:        defaultGeminiBaseURL,
			Model:          defaultGeminiModel,
			TimeoutSeconds: defaultGeminiTimeout,
		},
		ElevenLabs: ElevenLabs{
			BaseURL:        defaultElevenLabsBaseURL,
			DefaultVoiceID: defaultElevenLabsVoiceID,
			TimeoutSeconds: defaultElevenLabsTimeout,
		},
		VideoGen: VideoGen{
			TimeoutSeconds:      defaultVideoGenTimeout,
			PollIntervalSeconds: defaultVideoGenPollSeconds,
		},
		Storage: Storage{
			Region:         defaultStorageRegion,
			TimeoutSeconds: defaultStorageTimeout,
		},
		Notifications: Notifications{
			TimeoutSeconds: defaultNtfyTimeout,
		},
		Workflow: Workflow{
			SceneConcurrency:        defaultSceneConcurrency,
			HeartbeatInterval:       defaultHeartbeatInterval,
			HeartbeatTimeout:        defaultHeartbeatTimeout,
			AnalyzeTimeoutSeconds:   defaultAnalyzeTimeout,
			RenderTimeoutSeconds:    defaultRenderTimeout,
			NarrationTimeoutSeconds: defaultNarrationTimeout,
			ComposeTimeoutSeconds:   defaultComposeTimeout,
			PublishTimeoutSeconds:   defaultPublishTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
