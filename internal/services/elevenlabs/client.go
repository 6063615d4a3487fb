package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"scriptreel/internal/config"
	"scriptreel/internal/services"
)

const (
	defaultHTTPTimeout = 60 * time.Second
	defaultModelID     = "eleven_multilingual_v2"
)

// Voice describes one synthesis voice offered by the API.
type Voice struct {
	ID       string `json:"voice_id"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// Client talks to the ElevenLabs REST API.
type Client struct {
	apiKey         string
	baseURL        string
	defaultVoiceID string
	httpClient     *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs an ElevenLabs client from configuration.
func NewClient(cfg config.ElevenLabs, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		apiKey:         strings.TrimSpace(cfg.APIKey),
		baseURL:        strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		defaultVoiceID: strings.TrimSpace(cfg.DefaultVoiceID),
		httpClient:     &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Configured reports whether an API key is present. Without one the pipeline
// runs in degraded mode and skips narration.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// Voices lists the voices available to the configured key.
func (c *Client) Voices(ctx context.Context) ([]Voice, error) {
	if !c.Configured() {
		return nil, services.Wrap(services.ErrResourceUnavailable, "", "list voices", "api key not configured", nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs voices: new request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrExternalCall, "", "list voices", "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, statusFailure("list voices", resp)
	}

	var decoded struct {
		Voices []Voice `json:"voices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, services.Wrap(services.ErrExternalCall, "", "list voices", "decode response", err)
	}
	return decoded.Voices, nil
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// SynthesizeNarration renders narration audio for the supplied text and
// writes the MP3 stream to outputPath. An empty voiceID falls back to the
// configured default voice.
func (c *Client) SynthesizeNarration(ctx context.Context, text, voiceID, outputPath string) (string, error) {
	const op = "synthesize narration"
	text = strings.TrimSpace(text)
	if text == "" {
		return "", services.Wrap(services.ErrValidation, "synthesizing_audio", op, "narration text must not be empty", nil)
	}
	if !c.Configured() {
		return "", services.Wrap(services.ErrResourceUnavailable, "synthesizing_audio", op, "api key not configured", nil)
	}
	voiceID = strings.TrimSpace(voiceID)
	if voiceID == "" {
		voiceID = c.defaultVoiceID
	}
	if voiceID == "" {
		return "", services.Wrap(services.ErrValidation, "synthesizing_audio", op, "no voice id available", nil)
	}

	payload := synthesisRequest{
		Text:          text,
		ModelID:       defaultModelID,
		VoiceSettings: voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("elevenlabs synthesize: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/text-to-speech/"+voiceID, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("elevenlabs synthesize: new request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", services.Wrap(services.ErrCancelled, "synthesizing_audio", op, "", err)
		}
		return "", services.Wrap(services.ErrExternalCall, "synthesizing_audio", op, "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", statusFailure(op, resp)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", fmt.Errorf("elevenlabs synthesize: prepare output dir: %w", err)
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return "", fmt.Errorf("elevenlabs synthesize: create output: %w", err)
	}
	written, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", services.Wrap(services.ErrExternalCall, "synthesizing_audio", op, "stream audio", err)
	}
	if written == 0 {
		return "", services.Wrap(services.ErrExternalCall, "synthesizing_audio", op, "empty audio stream", nil)
	}
	return outputPath, nil
}

func statusFailure(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return services.Wrap(services.ErrResourceUnavailable, "", op, detail, nil)
	}
	return services.Wrap(services.ErrExternalCall, "", op, detail, nil)
}
