package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"scriptreel/internal/logging"
	"scriptreel/internal/pipeline"
	"scriptreel/internal/queue"
	"scriptreel/internal/services"
)

type sceneResult struct {
	index    int
	clipPath string
	err      error
}

// renderScenes renders every scene of the plan, at most SceneConcurrency at
// a time. Individual scene failures are skipped; the surviving clips come
// back in scene order. Losing every scene fails the run.
func (o *Orchestrator) renderScenes(ctx context.Context, logger *slog.Logger, job *queue.Job, plan *pipeline.ScenePlan, stagingDir string) ([]string, error) {
	total := len(plan.Scenes)
	if total == 0 {
		return nil, services.Wrap(services.ErrValidation, "rendering_scenes", "render scenes", "scene plan is empty", nil)
	}

	concurrency := o.cfg.Workflow.SceneConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	if concurrency > total {
		concurrency = total
	}

	renderCtx, cancel := o.stageContext(ctx, o.cfg.Workflow.RenderTimeoutSeconds)
	defer cancel()

	jobs := make(chan pipeline.Scene)
	results := make([]sceneResult, total)
	var completed atomic.Int64

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for worker := 0; worker < concurrency; worker++ {
		go func() {
			defer wg.Done()
			for scene := range jobs {
				result := o.renderScene(renderCtx, logger, job, plan, scene, stagingDir)
				results[scene.Index-1] = result

				done := completed.Add(1)
				progressValue := progressRenderStart +
					float64(progressRenderEnd-progressRenderStart)*float64(done)/float64(total)
				message := fmt.Sprintf("Rendering scenes (%d/%d)", done, total)
				if err := o.setProgress(ctx, job.ID, progressValue, message); err != nil {
					logger.Warn("progress update failed", logging.Error(err))
				}
			}
		}()
	}

	for _, scene := range plan.Scenes {
		select {
		case jobs <- scene:
		case <-renderCtx.Done():
		}
		if renderCtx.Err() != nil {
			break
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, services.Wrap(services.ErrCancelled, "rendering_scenes", "render scenes", "", err)
	}

	clips := make([]string, 0, total)
	var firstErr error
	for _, result := range results {
		if result.err != nil {
			if firstErr == nil {
				firstErr = result.err
			}
			continue
		}
		if result.clipPath != "" {
			clips = append(clips, result.clipPath)
		}
	}
	if len(clips) == 0 {
		// A cancellation-tagged scene error would misclassify the whole run,
		// so only non-cancel causes ride along.
		if errors.Is(firstErr, services.ErrCancelled) {
			firstErr = nil
		}
		return nil, services.Wrap(services.ErrResourceUnavailable, "rendering_scenes", "render scenes", "no scenes could be rendered", firstErr)
	}
	if skipped := total - len(clips); skipped > 0 {
		logger.Warn("continuing with partial scene set",
			logging.Int("rendered", len(clips)),
			logging.Int("skipped", skipped),
			logging.String(logging.FieldEventType, "scenes_skipped"),
		)
	}
	return clips, nil
}

// renderScene refines the prompt (best effort) and renders one clip.
func (o *Orchestrator) renderScene(ctx context.Context, logger *slog.Logger, job *queue.Job, plan *pipeline.ScenePlan, scene pipeline.Scene, stagingDir string) sceneResult {
	sceneLogger := logger.With(logging.Int(logging.FieldSceneIndex, scene.Index))

	prompt := scene.Description
	if o.clients.Refiner != nil {
		refined, err := o.clients.Refiner.RefinePrompt(ctx, scene.Description, plan.Theme)
		if err != nil {
			sceneLogger.Warn("prompt refinement failed, using raw description", logging.Error(err))
		} else if refined != "" {
			prompt = refined
		}
	}

	clipPath, err := o.clients.Renderer.RenderScene(ctx, pipeline.RenderRequest{
		Prompt:          prompt,
		AspectRatio:     job.AspectRatio,
		DurationSeconds: scene.DurationSeconds,
		OutputPath:      filepath.Join(stagingDir, fmt.Sprintf("scene_%d.mp4", scene.Index)),
	})
	if err != nil {
		sceneLogger.Warn("scene render failed, skipping scene",
			logging.Error(err),
			logging.String(logging.FieldEventType, "scene_skipped"),
		)
		return sceneResult{index: scene.Index, err: err}
	}
	return sceneResult{index: scene.Index, clipPath: clipPath}
}
