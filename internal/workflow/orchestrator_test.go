package workflow_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"scriptreel/internal/pipeline"
	"scriptreel/internal/queue"
	"scriptreel/internal/services"
	"scriptreel/internal/workflow"
)

func TestRunCompletesAndRecordsArtifacts(t *testing.T) {
	h := newHarness(t)
	job := h.newJob(t, "a short story about the sea")

	ch, cancel := h.bus.Subscribe(job.ID)
	defer cancel()

	if err := h.orchestrator(t).Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	final := h.job(t, job.ID)
	if final.Stage != queue.StageCompleted || final.Progress != 100 {
		t.Fatalf("unexpected terminal state: %#v", final)
	}
	if final.Message != "Video ready" {
		t.Fatalf("unexpected message %q", final.Message)
	}

	set := h.artifacts(t, job.ID)
	if set.ScenePlan == nil || len(set.ScenePlan.Scenes) != 3 {
		t.Fatalf("scene plan artifact missing: %#v", set.ScenePlan)
	}
	if len(set.SceneClips) != 3 {
		t.Fatalf("expected 3 clips, got %v", set.SceneClips)
	}
	if set.Narration == "" || set.ComposedMedia == "" {
		t.Fatalf("intermediate artifacts missing: %#v", set)
	}
	if set.VideoURL != "https://cdn.example.com/jobs/"+job.ID+".mp4" {
		t.Fatalf("unexpected video url %q", set.VideoURL)
	}

	snapshots := collectSnapshots(t, ch)
	assertMonotonicProgress(t, snapshots)
	assertValidTransitions(t, queue.StageQueued, snapshots)
}

func assertMonotonicProgress(t *testing.T, snapshots []queue.Job) {
	t.Helper()
	last := -1.0
	for _, snapshot := range snapshots {
		if snapshot.Progress < last {
			t.Fatalf("progress regressed from %f to %f at stage %s", last, snapshot.Progress, snapshot.Stage)
		}
		last = snapshot.Progress
	}
}

func assertValidTransitions(t *testing.T, start queue.Stage, snapshots []queue.Job) {
	t.Helper()
	current := start
	for _, snapshot := range snapshots {
		if snapshot.Stage == current {
			continue
		}
		if !queue.CanTransition(current, snapshot.Stage) {
			t.Fatalf("invalid transition %s -> %s", current, snapshot.Stage)
		}
		current = snapshot.Stage
	}
}

func TestRunFallsBackToSingleSceneWhenAnalyzerFails(t *testing.T) {
	h := newHarness(t)
	h.clients.Analyzer = &fakeAnalyzer{err: errors.New("model unavailable")}

	var mu sync.Mutex
	var prompts []string
	h.clients.Refiner = nil
	h.clients.Renderer = &fakeRenderer{fn: func(ctx context.Context, req pipeline.RenderRequest) (string, error) {
		mu.Lock()
		prompts = append(prompts, req.Prompt)
		mu.Unlock()
		if err := writeFile(req.OutputPath, "clip"); err != nil {
			return "", err
		}
		return req.OutputPath, nil
	}}

	job := h.newJob(t, "a lone ship crosses the storm")
	if err := h.orchestrator(t).Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	final := h.job(t, job.ID)
	if final.Stage != queue.StageCompleted {
		t.Fatalf("expected completion, got %s: %s", final.Stage, final.ErrorMessage)
	}
	if len(prompts) != 1 || prompts[0] != "a lone ship crosses the storm" {
		t.Fatalf("fallback should render one scene from the raw script, got %v", prompts)
	}
	set := h.artifacts(t, job.ID)
	if set.ScenePlan == nil || len(set.ScenePlan.Scenes) != 1 || set.ScenePlan.Theme != pipeline.FallbackTheme {
		t.Fatalf("fallback plan not recorded: %#v", set.ScenePlan)
	}
}

func TestRunSkipsFailedScenesAndKeepsOrder(t *testing.T) {
	h := newHarness(t)
	h.clients.Refiner = nil
	h.clients.Renderer = &fakeRenderer{fn: func(ctx context.Context, req pipeline.RenderRequest) (string, error) {
		if strings.Contains(req.Prompt, "city at noon") {
			return "", services.Wrap(services.ErrExternalCall, "rendering_scenes", "render scene", "upstream rejected", nil)
		}
		if err := writeFile(req.OutputPath, "clip"); err != nil {
			return "", err
		}
		return req.OutputPath, nil
	}}
	composer := &fakeComposer{}
	h.clients.Composer = composer

	job := h.newJob(t, "script")
	if err := h.orchestrator(t).Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	final := h.job(t, job.ID)
	if final.Stage != queue.StageCompleted {
		t.Fatalf("expected completion, got %s: %s", final.Stage, final.ErrorMessage)
	}
	if final.Message != "Video ready (rendered 2 of 3 scenes)" {
		t.Fatalf("unexpected message %q", final.Message)
	}

	clips := composer.lastRequest.ClipPaths
	if len(clips) != 2 {
		t.Fatalf("expected 2 surviving clips, got %v", clips)
	}
	if !strings.Contains(clips[0], "scene_1") || !strings.Contains(clips[1], "scene_3") {
		t.Fatalf("clips out of scene order: %v", clips)
	}
}

func TestRunNormalizesSparseSceneIndexes(t *testing.T) {
	h := newHarness(t)
	h.clients.Analyzer = &fakeAnalyzer{plan: &pipeline.ScenePlan{
		Scenes: []pipeline.Scene{
			{Index: 9, Description: "finale", DurationSeconds: 5, Narration: "last."},
			{Index: 4, Description: "opening", DurationSeconds: 5, Narration: "first."},
		},
		Theme: "cinematic",
	}}
	composer := &fakeComposer{}
	h.clients.Composer = composer

	job := h.newJob(t, "script")
	if err := h.orchestrator(t).Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	final := h.job(t, job.ID)
	if final.Stage != queue.StageCompleted {
		t.Fatalf("expected completion, got %s: %s", final.Stage, final.ErrorMessage)
	}
	clips := composer.lastRequest.ClipPaths
	if len(clips) != 2 {
		t.Fatalf("expected 2 clips, got %v", clips)
	}
	if !strings.Contains(clips[0], "scene_1") || !strings.Contains(clips[1], "scene_2") {
		t.Fatalf("sparse indexes not renumbered in order: %v", clips)
	}
}

func TestRunFailsWhenNoScenesRender(t *testing.T) {
	h := newHarness(t)
	h.clients.Renderer = &fakeRenderer{fn: func(ctx context.Context, req pipeline.RenderRequest) (string, error) {
		return "", services.Wrap(services.ErrExternalCall, "rendering_scenes", "render scene", "all renders rejected", nil)
	}}

	job := h.newJob(t, "script")
	err := h.orchestrator(t).Run(context.Background(), job.ID)
	if err == nil {
		t.Fatal("expected run failure")
	}

	final := h.job(t, job.ID)
	if final.Stage != queue.StageFailed {
		t.Fatalf("expected failed stage, got %s", final.Stage)
	}
	if final.ErrorCode != services.CodeResourceUnavailable {
		t.Fatalf("unexpected error code %q", final.ErrorCode)
	}
	if !strings.Contains(final.ErrorMessage, "no scenes could be rendered") {
		t.Fatalf("unexpected error message %q", final.ErrorMessage)
	}
}

func TestRunContinuesWithoutNarrationWhenSynthesisFails(t *testing.T) {
	h := newHarness(t)
	h.clients.Narrator = &fakeNarrator{fn: func(ctx context.Context, text, voiceID, outputPath string) (string, error) {
		return "", services.Wrap(services.ErrResourceUnavailable, "synthesizing_audio", "synthesize narration", "api key not configured", nil)
	}}
	composer := &fakeComposer{}
	h.clients.Composer = composer

	job := h.newJob(t, "script")
	if err := h.orchestrator(t).Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	final := h.job(t, job.ID)
	if final.Stage != queue.StageCompleted {
		t.Fatalf("expected completion, got %s: %s", final.Stage, final.ErrorMessage)
	}
	if final.Message != "Video ready (without narration)" {
		t.Fatalf("degraded mode not noted in message %q", final.Message)
	}
	if composer.lastRequest.NarrationPath != "" {
		t.Fatalf("composer should receive no narration, got %q", composer.lastRequest.NarrationPath)
	}
	if set := h.artifacts(t, job.ID); set.Narration != "" {
		t.Fatalf("narration artifact should be absent, got %q", set.Narration)
	}
}

func TestRunFailsWhenComposerFails(t *testing.T) {
	h := newHarness(t)
	h.clients.Composer = &fakeComposer{fn: func(ctx context.Context, req pipeline.ComposeRequest) (string, error) {
		return "", services.Wrap(services.ErrInternal, "composing", "compose video", "ffmpeg failed", nil)
	}}

	job := h.newJob(t, "script")
	if err := h.orchestrator(t).Run(context.Background(), job.ID); err == nil {
		t.Fatal("expected run failure")
	}

	final := h.job(t, job.ID)
	if final.Stage != queue.StageFailed || final.ErrorCode != services.CodeInternal {
		t.Fatalf("unexpected terminal state: %#v", final)
	}
}

func TestRunFailsWhenPublisherFails(t *testing.T) {
	h := newHarness(t)
	h.clients.Publisher = &fakePublisher{fn: func(ctx context.Context, mediaPath, contentType, key string) (string, error) {
		return "", services.Wrap(services.ErrExternalCall, "publishing", "upload video", "http 503", nil)
	}}

	job := h.newJob(t, "script")
	if err := h.orchestrator(t).Run(context.Background(), job.ID); err == nil {
		t.Fatal("expected run failure")
	}

	final := h.job(t, job.ID)
	if final.Stage != queue.StageFailed || final.ErrorCode != services.CodeExternalCall {
		t.Fatalf("unexpected terminal state: %#v", final)
	}
	if set := h.artifacts(t, job.ID); set.ComposedMedia == "" {
		t.Fatal("composed media artifact should survive a publish failure")
	}
}

func TestRunCancellationRecordsCancelledState(t *testing.T) {
	h := newHarness(t)
	rendering := make(chan struct{})
	h.clients.Renderer = &fakeRenderer{fn: func(ctx context.Context, req pipeline.RenderRequest) (string, error) {
		close(rendering)
		<-ctx.Done()
		return "", services.Wrap(services.ErrCancelled, "rendering_scenes", "render scene", "", ctx.Err())
	}}
	h.cfg.Workflow.SceneConcurrency = 1
	h.clients.Analyzer = &fakeAnalyzer{plan: &pipeline.ScenePlan{
		Scenes: []pipeline.Scene{{Index: 1, Description: "only scene", DurationSeconds: 5, Narration: "text"}},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	job := h.newJob(t, "script")

	done := make(chan error, 1)
	go func() {
		done <- h.orchestrator(t).Run(ctx, job.ID)
	}()
	<-rendering
	cancel()

	if err := <-done; err == nil {
		t.Fatal("expected cancellation error")
	}
	final := h.job(t, job.ID)
	if final.Stage != queue.StageFailed {
		t.Fatalf("expected failed stage, got %s", final.Stage)
	}
	if final.ErrorCode != services.CodeCancelled {
		t.Fatalf("unexpected error code %q", final.ErrorCode)
	}
	if final.ErrorMessage != queue.CancelledMessage {
		t.Fatalf("unexpected message %q", final.ErrorMessage)
	}
}

func TestRunRespectsSceneConcurrencyLimit(t *testing.T) {
	h := newHarness(t)
	h.cfg.Workflow.SceneConcurrency = 2

	var mu sync.Mutex
	active, peak := 0, 0
	release := make(chan struct{})
	started := make(chan struct{}, 8)
	h.clients.Renderer = &fakeRenderer{fn: func(ctx context.Context, req pipeline.RenderRequest) (string, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		started <- struct{}{}
		<-release
		mu.Lock()
		active--
		mu.Unlock()
		if err := writeFile(req.OutputPath, "clip"); err != nil {
			return "", err
		}
		return req.OutputPath, nil
	}}

	job := h.newJob(t, "script")
	done := make(chan error, 1)
	go func() {
		done <- h.orchestrator(t).Run(context.Background(), job.ID)
	}()

	<-started
	<-started
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if peak != 2 {
		t.Fatalf("expected peak concurrency 2, got %d", peak)
	}
}

func TestRunRenderProgressStaysWithinStageWindow(t *testing.T) {
	h := newHarness(t)
	job := h.newJob(t, "script")

	ch, cancelSub := h.bus.Subscribe(job.ID)
	defer cancelSub()

	if err := h.orchestrator(t).Run(context.Background(), job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	sawRenderTick := false
	for _, snapshot := range collectSnapshots(t, ch) {
		if snapshot.Stage != queue.StageRenderingScenes {
			continue
		}
		if snapshot.Progress < 30 || snapshot.Progress > 60 {
			t.Fatalf("render progress %f outside stage window", snapshot.Progress)
		}
		if snapshot.Progress > 30 {
			sawRenderTick = true
		}
	}
	if !sawRenderTick {
		t.Fatal("expected per-scene progress updates during rendering")
	}
}

func TestNewOrchestratorRejectsMissingClients(t *testing.T) {
	h := newHarness(t)
	h.clients.Renderer = nil
	if _, err := workflow.NewOrchestrator(h.cfg, h.store, h.bus, h.clients, nil); err == nil {
		t.Fatal("expected error for missing renderer")
	}
}
