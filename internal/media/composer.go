package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"scriptreel/internal/pipeline"
	"scriptreel/internal/services"
)

const ffmpegBinary = "ffmpeg"

// Composer concatenates scene clips and muxes narration over the result.
type Composer struct {
	binary  string
	runner  func(ctx context.Context, name string, args ...string) error
	lookup  func(name string) (string, error)
	workDir string
}

// Option customizes the composer.
type Option func(*Composer)

// WithBinary overrides the ffmpeg binary path.
func WithBinary(path string) Option {
	return func(c *Composer) {
		if strings.TrimSpace(path) != "" {
			c.binary = path
		}
	}
}

// WithRunner overrides command execution (useful for tests).
func WithRunner(runner func(ctx context.Context, name string, args ...string) error) Option {
	return func(c *Composer) {
		if runner != nil {
			c.runner = runner
		}
	}
}

// WithLookup overrides binary resolution (useful for tests).
func WithLookup(lookup func(name string) (string, error)) Option {
	return func(c *Composer) {
		if lookup != nil {
			c.lookup = lookup
		}
	}
}

// NewComposer constructs a composer that stages its concat lists under
// workDir.
func NewComposer(workDir string, opts ...Option) *Composer {
	composer := &Composer{
		binary:  ffmpegBinary,
		lookup:  exec.LookPath,
		workDir: workDir,
	}
	composer.runner = composer.runFFmpeg
	for _, opt := range opts {
		opt(composer)
	}
	return composer
}

// Compose joins the clips in order and, when narration is present, muxes it
// as the audio track. Returns the output path on success.
func (c *Composer) Compose(ctx context.Context, req pipeline.ComposeRequest) (string, error) {
	const (
		stage = "composing"
		op    = "compose video"
	)
	if len(req.ClipPaths) == 0 {
		return "", services.Wrap(services.ErrValidation, stage, op, "no clips to compose", nil)
	}
	for _, clip := range req.ClipPaths {
		if _, err := os.Stat(clip); err != nil {
			return "", services.Wrap(services.ErrInternal, stage, op, "missing clip "+clip, err)
		}
	}
	if _, err := c.lookup(c.binary); err != nil {
		return "", services.Wrap(services.ErrResourceUnavailable, stage, op, c.binary+" not found in PATH", err)
	}

	listPath, err := c.writeConcatList(req.ClipPaths)
	if err != nil {
		return "", services.Wrap(services.ErrInternal, stage, op, "write concat list", err)
	}
	defer os.Remove(listPath)

	if err := os.MkdirAll(filepath.Dir(req.OutputPath), 0o755); err != nil {
		return "", services.Wrap(services.ErrInternal, stage, op, "prepare output dir", err)
	}

	args := composeArgs(listPath, req.NarrationPath, req.OutputPath)
	if err := c.runner(ctx, c.binary, args...); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return "", services.Wrap(services.ErrCancelled, stage, op, "", err)
		}
		return "", services.Wrap(services.ErrInternal, stage, op, "ffmpeg failed", err)
	}

	info, err := os.Stat(req.OutputPath)
	if err != nil || info.Size() == 0 {
		return "", services.Wrap(services.ErrInternal, stage, op, "output missing or empty", err)
	}
	return req.OutputPath, nil
}

// composeArgs builds the ffmpeg argument list. Narration, when present, is
// muxed as a second input with -shortest so the video ends with the shorter
// stream.
func composeArgs(listPath, narrationPath, outputPath string) []string {
	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
	}
	if narrationPath != "" {
		args = append(args,
			"-i", narrationPath,
			"-map", "0:v:0",
			"-map", "1:a:0",
		)
	}
	args = append(args,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
	)
	if narrationPath != "" {
		args = append(args, "-c:a", "aac", "-shortest")
	} else {
		args = append(args, "-an")
	}
	return append(args, outputPath)
}

// writeConcatList writes the concat demuxer input file. Quotes in paths are
// escaped the way the demuxer expects.
func (c *Composer) writeConcatList(clips []string) (string, error) {
	if err := os.MkdirAll(c.workDir, 0o755); err != nil {
		return "", err
	}
	file, err := os.CreateTemp(c.workDir, "concat-*.txt")
	if err != nil {
		return "", err
	}
	var builder strings.Builder
	for _, clip := range clips {
		absolute, err := filepath.Abs(clip)
		if err != nil {
			absolute = clip
		}
		escaped := strings.ReplaceAll(absolute, "'", `'\''`)
		fmt.Fprintf(&builder, "file '%s'\n", escaped)
	}
	if _, err := file.WriteString(builder.String()); err != nil {
		_ = file.Close()
		_ = os.Remove(file.Name())
		return "", err
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(file.Name())
		return "", err
	}
	return file.Name(), nil
}

func (c *Composer) runFFmpeg(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if len(detail) > 2048 {
			detail = detail[len(detail)-2048:]
		}
		if detail != "" {
			return fmt.Errorf("%w: %s", err, detail)
		}
		return err
	}
	return nil
}
