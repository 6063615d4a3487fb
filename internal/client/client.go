package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"scriptreel/internal/daemon"
	"scriptreel/internal/queue"
	"scriptreel/internal/services/elevenlabs"
)

// ErrDaemonUnavailable is returned when the daemon cannot be reached.
var ErrDaemonUnavailable = errors.New("daemon unavailable")

// Client talks to the daemon API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// New constructs a client against the given bind address ("host:port" or a
// full URL).
func New(bind, token string, opts ...Option) *Client {
	base := strings.TrimSpace(bind)
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	client := &Client{
		baseURL:    strings.TrimRight(base, "/"),
		token:      strings.TrimSpace(token),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Submit enqueues a generation job.
func (c *Client) Submit(ctx context.Context, script, aspectRatio, voiceID string) (daemon.JobView, error) {
	payload := map[string]string{
		"script":       script,
		"aspect_ratio": aspectRatio,
		"voice_id":     voiceID,
	}
	var view daemon.JobView
	err := c.doJSON(ctx, http.MethodPost, "/api/jobs", payload, &view)
	return view, err
}

// Job fetches one job's detail view.
func (c *Client) Job(ctx context.Context, id string) (daemon.JobView, error) {
	var view daemon.JobView
	err := c.doJSON(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &view)
	return view, err
}

// Jobs lists jobs, optionally filtered by stage.
func (c *Client) Jobs(ctx context.Context, stages ...queue.Stage) ([]daemon.JobView, error) {
	path := "/api/jobs"
	if len(stages) > 0 {
		values := url.Values{}
		for _, stage := range stages {
			values.Add("stage", string(stage))
		}
		path += "?" + values.Encode()
	}
	var body struct {
		Jobs []daemon.JobView `json:"jobs"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &body); err != nil {
		return nil, err
	}
	return body.Jobs, nil
}

// Cancel stops a job.
func (c *Client) Cancel(ctx context.Context, id string) (daemon.JobView, error) {
	var view daemon.JobView
	err := c.doJSON(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/cancel", nil, &view)
	return view, err
}

// Retry requeues a finished job.
func (c *Client) Retry(ctx context.Context, id string) (daemon.JobView, error) {
	var view daemon.JobView
	err := c.doJSON(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/retry", nil, &view)
	return view, err
}

// Remove deletes a finished job's record.
func (c *Client) Remove(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/jobs/"+url.PathEscape(id), nil, nil)
}

// ClearFinished deletes completed job records; includeFailed extends the
// sweep to failed ones. It returns the number of records removed.
func (c *Client) ClearFinished(ctx context.Context, includeFailed bool) (int64, error) {
	path := "/api/jobs"
	if includeFailed {
		path += "?failed=1"
	}
	var body struct {
		Cleared int64 `json:"cleared"`
	}
	if err := c.doJSON(ctx, http.MethodDelete, path, nil, &body); err != nil {
		return 0, err
	}
	return body.Cleared, nil
}

// Voices lists available narration voices.
func (c *Client) Voices(ctx context.Context) ([]elevenlabs.Voice, error) {
	var body struct {
		Voices []elevenlabs.Voice `json:"voices"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/voices", nil, &body); err != nil {
		return nil, err
	}
	return body.Voices, nil
}

// Health fetches the daemon health summary.
func (c *Client) Health(ctx context.Context) (daemon.HealthView, error) {
	var view daemon.HealthView
	err := c.doJSON(ctx, http.MethodGet, "/api/health", nil, &view)
	return view, err
}

// Watch streams job snapshots until the job goes terminal, the stream ends,
// or the callback returns false.
func (c *Client) Watch(ctx context.Context, id string, fn func(daemon.JobView) bool) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id)+"/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// Streaming requests must not be bounded by the default client timeout.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var view daemon.JobView
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &view); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		if !fn(view) {
			return nil
		}
		if stage, ok := queue.ParseStage(view.Stage); ok && stage.IsTerminal() {
			return nil
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	if c.baseURL == "" {
		return nil, errors.New("daemon address not configured")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, target any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return apiError(resp)
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var decoded struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &decoded); err == nil && decoded.Error != "" {
		return fmt.Errorf("daemon: %s (http %d)", decoded.Error, resp.StatusCode)
	}
	return fmt.Errorf("daemon: http %d", resp.StatusCode)
}
