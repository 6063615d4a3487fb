package r2

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"scriptreel/internal/config"
	"scriptreel/internal/services"
)

const defaultHTTPTimeout = 120 * time.Second

// Publisher uploads finished videos to an R2 bucket and returns durable URLs.
type Publisher struct {
	endpoint      string
	bucket        string
	publicBaseURL string
	httpClient    *http.Client
	signer        *signer
}

// Option customizes the publisher.
type Option func(*Publisher)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Publisher) {
		if client != nil {
			p.httpClient = client
		}
	}
}

// WithClock overrides the signing timestamp source (useful for tests).
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		if now != nil {
			p.signer.now = now
		}
	}
}

// NewPublisher constructs a publisher from configuration.
func NewPublisher(cfg config.Storage, opts ...Option) *Publisher {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "auto"
	}
	publisher := &Publisher{
		endpoint:      strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"),
		bucket:        strings.TrimSpace(cfg.Bucket),
		publicBaseURL: strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
		httpClient:    &http.Client{Timeout: timeout},
		signer: &signer{
			accessKey: strings.TrimSpace(cfg.AccessKey),
			secretKey: strings.TrimSpace(cfg.SecretKey),
			region:    region,
		},
	}
	for _, opt := range opts {
		opt(publisher)
	}
	return publisher
}

// Configured reports whether the publisher has everything needed to upload.
func (p *Publisher) Configured() bool {
	return p.endpoint != "" && p.bucket != "" && p.signer.accessKey != "" && p.signer.secretKey != ""
}

// Publish uploads the file at mediaPath under the given object key and
// returns the public URL for the stored object.
func (p *Publisher) Publish(ctx context.Context, mediaPath, contentType, key string) (string, error) {
	const (
		stage = "publishing"
		op    = "upload video"
	)
	if !p.Configured() {
		return "", services.Wrap(services.ErrResourceUnavailable, stage, op, "storage not configured", nil)
	}
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", services.Wrap(services.ErrValidation, stage, op, "object key must not be empty", nil)
	}

	payload, err := os.ReadFile(mediaPath)
	if err != nil {
		return "", services.Wrap(services.ErrInternal, stage, op, "read media", err)
	}
	if len(payload) == 0 {
		return "", services.Wrap(services.ErrValidation, stage, op, "media file is empty", nil)
	}

	objectURL := fmt.Sprintf("%s/%s/%s", p.endpoint, p.bucket, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, objectURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("r2 publish: new request: %w", err)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(payload))
	p.signer.sign(req, hexSHA256(payload))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", services.Wrap(services.ErrCancelled, stage, op, "", err)
		}
		return "", services.Wrap(services.ErrExternalCall, stage, op, "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		detail := fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return "", services.Wrap(services.ErrResourceUnavailable, stage, op, detail, nil)
		}
		return "", services.Wrap(services.ErrExternalCall, stage, op, detail, nil)
	}

	if p.publicBaseURL != "" {
		return p.publicBaseURL + "/" + key, nil
	}
	return objectURL, nil
}
