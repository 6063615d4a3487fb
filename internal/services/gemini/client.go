package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"scriptreel/internal/config"
	"scriptreel/internal/pipeline"
	"scriptreel/internal/services"
)

const (
	defaultHTTPTimeout    = 30 * time.Second
	defaultRetryAttempts  = 4
	defaultRetryBaseDelay = 1 * time.Second
	defaultRetryMaxDelay  = 10 * time.Second
)

// Client talks to the Gemini generateContent endpoint.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client

	keyMu    sync.Mutex
	keys     []string
	keyIndex int

	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
	sleeper          func(time.Duration)
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

// WithRetryMaxAttempts overrides the default retry count.
func WithRetryMaxAttempts(attempts int) Option {
	return func(c *Client) {
		c.retryMaxAttempts = attempts
	}
}

// WithRetryBackoff overrides the retry backoff delays.
func WithRetryBackoff(baseDelay, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxDelay = maxDelay
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a Gemini client from configuration.
func NewClient(cfg config.Gemini, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	keys := make([]string, 0, len(cfg.APIKeys))
	for _, key := range cfg.APIKeys {
		if trimmed := strings.TrimSpace(key); trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	client := &Client{
		baseURL:          strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		model:            strings.TrimSpace(cfg.Model),
		keys:             keys,
		httpClient:       &http.Client{Timeout: timeout},
		retryMaxAttempts: defaultRetryAttempts,
		retryBaseDelay:   defaultRetryBaseDelay,
		retryMaxDelay:    defaultRetryMaxDelay,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// AnalyzeScript splits a narration script into an ordered scene plan.
func (c *Client) AnalyzeScript(ctx context.Context, script string) (*pipeline.ScenePlan, error) {
	script = strings.TrimSpace(script)
	if script == "" {
		return nil, services.Wrap(services.ErrValidation, "analyzing", "analyze script", "script must not be empty", nil)
	}
	content, err := c.generateWithRetry(ctx, scenePlanPrompt+"\n\nScript:\n"+script, true, "gemini analyze")
	if err != nil {
		return nil, err
	}
	var plan pipeline.ScenePlan
	if err := DecodeModelJSON(content, &plan); err != nil {
		return nil, services.Wrap(services.ErrExternalCall, "analyzing", "analyze script", "parse scene plan", err)
	}
	plan.Normalize()
	if err := plan.Validate(); err != nil {
		return nil, services.Wrap(services.ErrExternalCall, "analyzing", "analyze script", "invalid scene plan", err)
	}
	return &plan, nil
}

// RefinePrompt rewrites a scene description into a text-to-video prompt.
func (c *Client) RefinePrompt(ctx context.Context, description, theme string) (string, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return "", services.Wrap(services.ErrValidation, "rendering_scenes", "refine prompt", "description must not be empty", nil)
	}
	if strings.TrimSpace(theme) == "" {
		theme = pipeline.FallbackTheme
	}
	content, err := c.generateWithRetry(ctx, fmt.Sprintf(refinePromptTemplate, theme, description), false, "gemini refine")
	if err != nil {
		return "", err
	}
	refined := strings.TrimSpace(strings.Trim(strings.TrimSpace(content), `"`))
	if refined == "" {
		return "", services.Wrap(services.ErrExternalCall, "rendering_scenes", "refine prompt", "empty refinement", nil)
	}
	return refined, nil
}

type generateRequest struct {
	Contents         []requestContent `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type requestContent struct {
	Parts []requestPart `json:"parts"`
}

type requestPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("gemini request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

func (c *Client) generateWithRetry(ctx context.Context, prompt string, jsonResponse bool, op string) (string, error) {
	if len(c.keys) == 0 {
		return "", services.Wrap(services.ErrResourceUnavailable, "", op, "no api keys configured", nil)
	}

	attempts := c.retryAttempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		content, err := c.generateOnce(ctx, prompt, jsonResponse)
		if err == nil {
			return content, nil
		}
		lastErr = err

		if quotaExhausted(err) {
			// Burn through remaining keys before waiting on backoff.
			c.rotateKey()
		}
		delay, retry := c.retryDelay(ctx, err, attempt, attempts)
		if !retry {
			return "", classify(op, err)
		}
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return "", services.Wrap(services.ErrCancelled, "", op, "retry interrupted", sleepErr)
		}
	}
	return "", classify(op, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr))
}

func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return services.Wrap(services.ErrCancelled, "", op, "", err)
	}
	return services.Wrap(services.ErrExternalCall, "", op, "", err)
}

func (c *Client) generateOnce(ctx context.Context, prompt string, jsonResponse bool) (string, error) {
	cfg := generationConfig{Temperature: 0.4}
	if jsonResponse {
		cfg.ResponseMimeType = "application/json"
	}
	payload := generateRequest{
		Contents:         []requestContent{{Parts: []requestPart{{Text: prompt}}}},
		GenerationConfig: cfg,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("gemini request: encode body: %w", err)
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("gemini request: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.currentKey())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("gemini request: http error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("gemini request: read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return "", &httpStatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var decoded generateResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", fmt.Errorf("gemini request: decode response: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("gemini request: api error %s: %s", decoded.Error.Status, strings.TrimSpace(decoded.Error.Message))
	}
	for _, candidate := range decoded.Candidates {
		for _, part := range candidate.Content.Parts {
			if text := strings.TrimSpace(part.Text); text != "" {
				return text, nil
			}
		}
	}
	return "", errors.New("gemini request: empty candidates")
}

func (c *Client) currentKey() string {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if len(c.keys) == 0 {
		return ""
	}
	return c.keys[c.keyIndex%len(c.keys)]
}

func (c *Client) rotateKey() {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	if len(c.keys) > 1 {
		c.keyIndex = (c.keyIndex + 1) % len(c.keys)
	}
}

// KeyCount reports how many API keys are in rotation.
func (c *Client) KeyCount() int {
	c.keyMu.Lock()
	defer c.keyMu.Unlock()
	return len(c.keys)
}

func quotaExhausted(err error) bool {
	var statusErr *httpStatusError
	if !errors.As(err, &statusErr) {
		return false
	}
	if statusErr.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return statusErr.StatusCode == http.StatusForbidden &&
		strings.Contains(strings.ToLower(statusErr.Body), "quota")
}

func (c *Client) retryAttempts() int {
	if c.retryMaxAttempts <= 0 {
		return 1
	}
	return c.retryMaxAttempts
}

func (c *Client) retryDelay(ctx context.Context, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt >= maxAttempts || err == nil || ctx == nil || ctx.Err() != nil {
		return 0, false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}

	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusRequestTimeout,
			statusErr.StatusCode == http.StatusTooManyRequests,
			statusErr.StatusCode >= http.StatusInternalServerError:
			return c.backoffDelay(attempt), true
		case quotaExhausted(err):
			return c.backoffDelay(attempt), true
		default:
			return 0, false
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return c.backoffDelay(attempt), true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return c.backoffDelay(attempt), true
	}
	return 0, false
}

func (c *Client) backoffDelay(attempt int) time.Duration {
	base := c.retryBaseDelay
	if base < 0 {
		base = defaultRetryBaseDelay
	}
	maxDelay := c.retryMaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultRetryMaxDelay
	}
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			return maxDelay
		}
		delay *= 2
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// DecodeModelJSON decodes JSON from a model response, tolerating code fences
// and surrounding prose.
func DecodeModelJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}

	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}

	sanitized := sanitizeJSONPayload(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return fmt.Errorf("%w (payload snippet: %s)", directErr, payloadSnippet(trimmed))
	}
	if err := json.Unmarshal([]byte(sanitized), target); err != nil {
		return fmt.Errorf("%w (sanitized payload snippet: %s)", err, payloadSnippet(sanitized))
	}
	return nil
}

func sanitizeJSONPayload(content string) string {
	trimmed := strings.TrimSpace(stripCodeFenceBlock(content))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	if start := strings.Index(trimmed, "["); start >= 0 {
		if end := strings.LastIndex(trimmed, "]"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFenceBlock(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := trimmed[3:]
	body = strings.TrimLeft(body, " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = body[4:]
		body = strings.TrimLeft(body, " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

func payloadSnippet(content string) string {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "<empty>"
	}
	replacer := strings.NewReplacer("\r", " ", "\n", " ", "\t", " ")
	clean := strings.Join(strings.Fields(replacer.Replace(trimmed)), " ")
	const limit = 160
	runes := []rune(clean)
	if len(runes) > limit {
		clean = string(runes[:limit]) + "..."
	}
	return clean
}
