package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"scriptreel/internal/config"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, resolved, err := config.Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if cfg.Gemini.Model != "gemini-2.0-flash" {
		t.Fatalf("unexpected default model: %q", cfg.Gemini.Model)
	}
	if cfg.Workflow.SceneConcurrency != 1 {
		t.Fatalf("unexpected default scene concurrency: %d", cfg.Workflow.SceneConcurrency)
	}
}

func TestLoadParsesFileAndNormalizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[paths]
staging_dir = "/tmp/scriptreel-test/staging"
log_dir = "/tmp/scriptreel-test/logs"

[gemini]
base_url = "https://example.test/v1beta/"
api_keys = ["k1", "k2"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Gemini.BaseURL != "https://example.test/v1beta" {
		t.Fatalf("expected trailing slash stripped, got %q", cfg.Gemini.BaseURL)
	}
	if len(cfg.Gemini.APIKeys) != 2 {
		t.Fatalf("expected 2 api keys, got %d", len(cfg.Gemini.APIKeys))
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv("GEMINI_API_KEYS", "env-a, env-b ,")
	t.Setenv("ELEVENLABS_API_KEY", "env-tts")

	cfg, _, err := config.Load(filepath.Join(t.TempDir(), "config.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Gemini.APIKeys) != 2 || cfg.Gemini.APIKeys[0] != "env-a" || cfg.Gemini.APIKeys[1] != "env-b" {
		t.Fatalf("unexpected keys from environment: %#v", cfg.Gemini.APIKeys)
	}
	if cfg.ElevenLabs.APIKey != "env-tts" {
		t.Fatalf("expected elevenlabs key from environment, got %q", cfg.ElevenLabs.APIKey)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := config.Default()
	cfg.Workflow.SceneConcurrency = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for scene_concurrency = 0")
	}

	cfg = config.Default()
	cfg.Logging.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unsupported log format")
	}
}

func TestMissingCredentials(t *testing.T) {
	cfg := config.Default()
	missing := cfg.MissingCredentials()
	if len(missing) != 4 {
		t.Fatalf("expected all credential groups missing, got %v", missing)
	}

	cfg.Gemini.APIKeys = []string{"k"}
	cfg.ElevenLabs.APIKey = "k"
	cfg.VideoGen.BaseURL = "https://render.test"
	cfg.Storage.Endpoint = "https://storage.test"
	cfg.Storage.AccessKey = "ak"
	if missing := cfg.MissingCredentials(); len(missing) != 0 {
		t.Fatalf("expected nothing missing, got %v", missing)
	}
}
