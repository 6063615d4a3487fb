package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	LogDir     string `toml:"log_dir"`
	APIBind    string `toml:"api_bind"`
	APIToken   string `toml:"api_token"`
}

// Gemini contains configuration for the script analysis model.
type Gemini struct {
	APIKeys        []string `toml:"api_keys"`
	BaseURL        string   `toml:"base_url"`
	Model          string   `toml:"model"`
	TimeoutSeconds int      `toml:"timeout_seconds"`
}

// ElevenLabs contains configuration for narration synthesis.
type ElevenLabs struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	DefaultVoiceID string `toml:"default_voice_id"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// VideoGen contains configuration for the scene rendering service.
type VideoGen struct {
	BaseURL             string `toml:"base_url"`
	APIKey              string `toml:"api_key"`
	TimeoutSeconds      int    `toml:"timeout_seconds"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
}

// Storage contains configuration for the S3-compatible publish target.
type Storage struct {
	Endpoint       string `toml:"endpoint"`
	Bucket         string `toml:"bucket"`
	Region         string `toml:"region"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	PublicBaseURL  string `toml:"public_base_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notifications contains configuration for push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Workflow contains configuration for orchestrator behavior.
type Workflow struct {
	SceneConcurrency        int `toml:"scene_concurrency"`
	HeartbeatInterval       int `toml:"heartbeat_interval"`
	HeartbeatTimeout        int `toml:"heartbeat_timeout"`
	ComposeTimeoutSeconds   int `toml:"compose_timeout_seconds"`
	NarrationTimeoutSeconds int `toml:"narration_timeout_seconds"`
	RenderTimeoutSeconds    int `toml:"render_timeout_seconds"`
	AnalyzeTimeoutSeconds   int `toml:"analyze_timeout_seconds"`
	PublishTimeoutSeconds   int `toml:"publish_timeout_seconds"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config is the root scriptreel configuration.
type Config struct {
	Paths         Paths         `toml:"paths"`
	Gemini        Gemini        `toml:"gemini"`
	ElevenLabs    ElevenLabs    `toml:"elevenlabs"`
	VideoGen      VideoGen      `toml:"videogen"`
	Storage       Storage       `toml:"storage"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the standard config file location.
func DefaultConfigPath() string {
	return "~/.config/scriptreel/config.toml"
}

// Load reads configuration from path, falling back to defaults when the file
// does not exist. The resolved path is returned alongside the config.
func Load(path string) (*Config, string, error) {
	resolved := ExpandPath(strings.TrimSpace(path))
	if resolved == "" {
		resolved = ExpandPath(DefaultConfigPath())
	}

	cfg := Default()
	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, resolved, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// Defaults plus environment overlay are enough to run.
	default:
		return nil, resolved, fmt.Errorf("read config %s: %w", resolved, err)
	}

	cfg.applyEnvOverlay()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, resolved, err
	}
	return &cfg, resolved, nil
}

// applyEnvOverlay lets secrets come from the environment (optionally seeded
// from a .env file in the working directory) instead of the config file.
func (c *Config) applyEnvOverlay() {
	_ = godotenv.Load()

	if keys := strings.TrimSpace(os.Getenv("GEMINI_API_KEYS")); keys != "" {
		parts := strings.Split(keys, ",")
		parsed := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				parsed = append(parsed, trimmed)
			}
		}
		if len(parsed) > 0 {
			c.Gemini.APIKeys = parsed
		}
	}
	if key := strings.TrimSpace(os.Getenv("ELEVENLABS_API_KEY")); key != "" {
		c.ElevenLabs.APIKey = key
	}
	if key := strings.TrimSpace(os.Getenv("VIDEOGEN_API_KEY")); key != "" {
		c.VideoGen.APIKey = key
	}
	if key := strings.TrimSpace(os.Getenv("R2_ACCESS_KEY")); key != "" {
		c.Storage.AccessKey = key
	}
	if key := strings.TrimSpace(os.Getenv("R2_SECRET_KEY")); key != "" {
		c.Storage.SecretKey = key
	}
	if token := strings.TrimSpace(os.Getenv("SCRIPTREEL_API_TOKEN")); token != "" {
		c.Paths.APIToken = token
	}
}

func (c *Config) normalize() {
	c.Paths.StagingDir = ExpandPath(c.Paths.StagingDir)
	c.Paths.LogDir = ExpandPath(c.Paths.LogDir)
	c.Gemini.BaseURL = strings.TrimRight(strings.TrimSpace(c.Gemini.BaseURL), "/")
	c.ElevenLabs.BaseURL = strings.TrimRight(strings.TrimSpace(c.ElevenLabs.BaseURL), "/")
	c.VideoGen.BaseURL = strings.TrimRight(strings.TrimSpace(c.VideoGen.BaseURL), "/")
	c.Storage.Endpoint = strings.TrimRight(strings.TrimSpace(c.Storage.Endpoint), "/")
	c.Storage.PublicBaseURL = strings.TrimRight(strings.TrimSpace(c.Storage.PublicBaseURL), "/")
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
}

// EnsureDirectories creates the staging and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StagingDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// WriteSample writes the annotated sample config to path.
func WriteSample(path string) error {
	resolved := ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(resolved); err == nil {
		return fmt.Errorf("config file already exists: %s", resolved)
	}
	return os.WriteFile(resolved, []byte(sampleConfig), 0o644)
}

// ExpandPath resolves a leading ~ against the current user's home directory.
func ExpandPath(path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return ""
	}
	if trimmed == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
		return trimmed
	}
	if strings.HasPrefix(trimmed, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, trimmed[2:])
		}
	}
	return trimmed
}
