package pipeline

import (
	"context"
	"errors"
)

// Analyzer breaks a raw script into an ordered scene plan.
type Analyzer interface {
	AnalyzeScript(ctx context.Context, script string) (*ScenePlan, error)
}

// PromptRefiner turns a scene description into an optimized generation
// prompt for the plan's theme. Failure is non-fatal; callers fall back to
// the raw description.
type PromptRefiner interface {
	RefinePrompt(ctx context.Context, description, theme string) (string, error)
}

// RenderRequest carries everything the renderer needs for one scene clip.
type RenderRequest struct {
	Prompt          string
	AspectRatio     string
	DurationSeconds int
	OutputPath      string
}

// SceneRenderer produces one video clip per scene and returns its handle
// (a local file path until publishing).
type SceneRenderer interface {
	RenderScene(ctx context.Context, req RenderRequest) (string, error)
}

// NarrationSynthesizer converts the concatenated narration text into a
// single audio artifact written to outputPath.
type NarrationSynthesizer interface {
	SynthesizeNarration(ctx context.Context, text, voiceID, outputPath string) (string, error)
}

// ComposeRequest carries the ordered clips and optional narration track.
type ComposeRequest struct {
	ClipPaths     []string
	NarrationPath string
	OutputPath    string
}

// Composer concatenates clips in order and muxes the narration track,
// trimming to the shorter of total video and audio duration.
type Composer interface {
	Compose(ctx context.Context, req ComposeRequest) (string, error)
}

// Publisher uploads composed media and returns a durable content address.
type Publisher interface {
	Publish(ctx context.Context, mediaPath, contentType, key string) (string, error)
}

// Clients bundles the collaborators one orchestrator run needs.
type Clients struct {
	Analyzer  Analyzer
	Refiner   PromptRefiner
	Renderer  SceneRenderer
	Narrator  NarrationSynthesizer
	Composer  Composer
	Publisher Publisher
}

// Validate ensures the required collaborators are wired. The refiner and
// narrator are optional: rendering uses raw descriptions without a refiner
// and composition runs narration-free without a narrator.
func (c Clients) Validate() error {
	if c.Analyzer == nil {
		return errors.New("pipeline clients: analyzer required")
	}
	if c.Renderer == nil {
		return errors.New("pipeline clients: renderer required")
	}
	if c.Composer == nil {
		return errors.New("pipeline clients: composer required")
	}
	if c.Publisher == nil {
		return errors.New("pipeline clients: publisher required")
	}
	return nil
}
