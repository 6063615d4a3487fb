package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks settings that would otherwise fail at an awkward moment.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Paths.StagingDir) == "" {
		problems = append(problems, "paths.staging_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		problems = append(problems, "paths.log_dir must not be empty")
	}
	if c.Workflow.SceneConcurrency < 1 {
		problems = append(problems, "workflow.scene_concurrency must be at least 1")
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		problems = append(problems, "workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		problems = append(problems, "workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		problems = append(problems, fmt.Sprintf("logging.format: unsupported value %q", c.Logging.Format))
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New("invalid configuration: " + strings.Join(problems, "; "))
}

// MissingCredentials lists stage collaborators that have no credentials
// configured. The daemon runs without them, but the affected stages will
// fail or degrade; surfacing the list up front keeps that from surprising.
func (c *Config) MissingCredentials() []string {
	var missing []string
	if len(c.Gemini.APIKeys) == 0 {
		missing = append(missing, "gemini.api_keys")
	}
	if strings.TrimSpace(c.ElevenLabs.APIKey) == "" {
		missing = append(missing, "elevenlabs.api_key")
	}
	if strings.TrimSpace(c.VideoGen.BaseURL) == "" {
		missing = append(missing, "videogen.base_url")
	}
	if strings.TrimSpace(c.Storage.Endpoint) == "" || strings.TrimSpace(c.Storage.AccessKey) == "" {
		missing = append(missing, "storage")
	}
	return missing
}
