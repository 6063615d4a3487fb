package videogen

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
	"scriptreel/internal/pipeline"
	"scriptreel/internal/services"
)

const (
	defaultHTTPTimeout  = 120 * time.Second
	defaultPollInterval = 3 * time.Second
)

type taskStatus string

const (
	taskPending    taskStatus = "pending"
	taskProcessing taskStatus = "processing"
	taskCompleted  taskStatus = "completed"
	taskFailed     taskStatus = "failed"
)

// Client drives the text-to-video rendering service.
type Client struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	pollInterval time.Duration
	clock        func() <-chan time.Time
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

// WithPollInterval overrides the task polling cadence.
func WithPollInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// NewClient constructs a renderer client from configuration.
func NewClient(cfg config.VideoGen, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	pollInterval := defaultPollInterval
	if cfg.PollIntervalSeconds > 0 {
		pollInterval = time.Duration(cfg.PollIntervalSeconds) * time.Second
	}
	client := &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:       strings.TrimSpace(cfg.APIKey),
		httpClient:   &http.Client{Timeout: timeout},
		pollInterval: pollInterval,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type submitRequest struct {
	Prompt          string `json:"prompt"`
	AspectRatio     string `json:"aspect_ratio"`
	DurationSeconds int    `json:"duration"`
}

type submitResponse struct {
	TaskID string `json:"task_id"`
}

type taskResponse struct {
	Status   taskStatus `json:"status"`
	VideoURL string     `json:"video_url"`
	Error    string     `json:"error"`
}

// RenderScene submits a render task, waits for it to finish, and downloads
// the resulting clip to the requested output path.
func (c *Client) RenderScene(ctx context.Context, req pipeline.RenderRequest) (string, error) {
	const stage = "rendering_scenes"
	if strings.TrimSpace(req.Prompt) == "" {
		return "", services.Wrap(services.ErrValidation, stage, "render scene", "prompt must not be empty", nil)
	}
	if c.baseURL == "" {
		return "", services.Wrap(services.ErrResourceUnavailable, stage, "render scene", "render service not configured", nil)
	}

	taskID, err := c.submit(ctx, req)
	if err != nil {
		return "", err
	}
	videoURL, err := c.waitForTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	if err := c.download(ctx, videoURL, req.OutputPath); err != nil {
		return "", err
	}
	return req.OutputPath, nil
}

func (c *Client) submit(ctx context.Context, req pipeline.RenderRequest) (string, error) {
	payload := submitRequest{
		Prompt:          strings.TrimSpace(req.Prompt),
		AspectRatio:     req.AspectRatio,
		DurationSeconds: req.DurationSeconds,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("videogen submit: encode body: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("videogen submit: new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", c.transportFailure("submit render task", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return "", c.statusFailure("submit render task", resp)
	}

	var decoded submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", services.Wrap(services.ErrExternalCall, "rendering_scenes", "submit render task", "decode response", err)
	}
	if strings.TrimSpace(decoded.TaskID) == "" {
		return "", services.Wrap(services.ErrExternalCall, "rendering_scenes", "submit render task", "missing task id", nil)
	}
	return decoded.TaskID, nil
}

func (c *Client) waitForTask(ctx context.Context, taskID string) (string, error) {
	const op = "poll render task"
	for {
		task, err := c.pollOnce(ctx, taskID)
		if err != nil {
			return "", err
		}
		switch task.Status {
		case taskCompleted:
			if strings.TrimSpace(task.VideoURL) == "" {
				return "", services.Wrap(services.ErrExternalCall, "rendering_scenes", op, "completed task has no video url", nil)
			}
			return task.VideoURL, nil
		case taskFailed:
			detail := strings.TrimSpace(task.Error)
			if detail == "" {
				detail = "render task failed"
			}
			return "", services.Wrap(services.ErrExternalCall, "rendering_scenes", op, detail, nil)
		case taskPending, taskProcessing, "":
			// keep polling
		default:
			return "", services.Wrap(services.ErrExternalCall, "rendering_scenes", op, "unknown task status "+string(task.Status), nil)
		}

		select {
		case <-ctx.Done():
			return "", services.Wrap(services.ErrCancelled, "rendering_scenes", op, "", ctx.Err())
		case <-c.tick():
		}
	}
}

func (c *Client) tick() <-chan time.Time {
	if c.clock != nil {
		return c.clock()
	}
	return time.After(c.pollInterval)
}

func (c *Client) pollOnce(ctx context.Context, taskID string) (taskResponse, error) {
	var task taskResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks/"+taskID, nil)
	if err != nil {
		return task, fmt.Errorf("videogen poll: new request: %w", err)
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return task, c.transportFailure("poll render task", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return task, c.statusFailure("poll render task", resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		return task, services.Wrap(services.ErrExternalCall, "rendering_scenes", "poll render task", "decode response", err)
	}
	return task, nil
}

func (c *Client) download(ctx context.Context, videoURL, outputPath string) error {
	const op = "download clip"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURL, nil)
	if err != nil {
		return fmt.Errorf("videogen download: new request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.transportFailure(op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return c.statusFailure(op, resp)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return fmt.Errorf("videogen download: prepare output dir: %w", err)
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("videogen download: create output: %w", err)
	}
	written, err := io.Copy(out, resp.Body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return services.Wrap(services.ErrExternalCall, "rendering_scenes", op, "stream clip", err)
	}
	if written == 0 {
		return services.Wrap(services.ErrExternalCall, "rendering_scenes", op, "empty clip", nil)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func (c *Client) transportFailure(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return services.Wrap(services.ErrCancelled, "rendering_scenes", op, "", err)
	}
	return services.Wrap(services.ErrExternalCall, "rendering_scenes", op, "", err)
}

func (c *Client) statusFailure(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return services.Wrap(services.ErrResourceUnavailable, "rendering_scenes", op, detail, nil)
	}
	return services.Wrap(services.ErrExternalCall, "rendering_scenes", op, detail, nil)
}
