package workflow_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"scriptreel/internal/config"
	"scriptreel/internal/pipeline"
	"scriptreel/internal/progress"
	"scriptreel/internal/queue"
	"scriptreel/internal/workflow"
)

type fakeAnalyzer struct {
	plan *pipeline.ScenePlan
	err  error
}

func (f *fakeAnalyzer) AnalyzeScript(ctx context.Context, script string) (*pipeline.ScenePlan, error) {
	if f.err != nil {
		return nil, f.err
	}
	plan := *f.plan
	return &plan, nil
}

type fakeRefiner struct {
	fn func(ctx context.Context, description, theme string) (string, error)
}

func (f *fakeRefiner) RefinePrompt(ctx context.Context, description, theme string) (string, error) {
	if f.fn != nil {
		return f.fn(ctx, description, theme)
	}
	return "refined: " + description, nil
}

type fakeRenderer struct {
	fn func(ctx context.Context, req pipeline.RenderRequest) (string, error)
}

func (f *fakeRenderer) RenderScene(ctx context.Context, req pipeline.RenderRequest) (string, error) {
	if f.fn != nil {
		return f.fn(ctx, req)
	}
	if err := writeFile(req.OutputPath, "clip"); err != nil {
		return "", err
	}
	return req.OutputPath, nil
}

type fakeNarrator struct {
	fn func(ctx context.Context, text, voiceID, outputPath string) (string, error)
}

func (f *fakeNarrator) SynthesizeNarration(ctx context.Context, text, voiceID, outputPath string) (string, error) {
	if f.fn != nil {
		return f.fn(ctx, text, voiceID, outputPath)
	}
	if err := writeFile(outputPath, "audio"); err != nil {
		return "", err
	}
	return outputPath, nil
}

type fakeComposer struct {
	fn func(ctx context.Context, req pipeline.ComposeRequest) (string, error)

	lastRequest pipeline.ComposeRequest
}

func (f *fakeComposer) Compose(ctx context.Context, req pipeline.ComposeRequest) (string, error) {
	f.lastRequest = req
	if f.fn != nil {
		return f.fn(ctx, req)
	}
	if err := writeFile(req.OutputPath, "final"); err != nil {
		return "", err
	}
	return req.OutputPath, nil
}

type fakePublisher struct {
	fn func(ctx context.Context, mediaPath, contentType, key string) (string, error)
}

func (f *fakePublisher) Publish(ctx context.Context, mediaPath, contentType, key string) (string, error) {
	if f.fn != nil {
		return f.fn(ctx, mediaPath, contentType, key)
	}
	return "https://cdn.example.com/" + key, nil
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

type harness struct {
	cfg     *config.Config
	store   *queue.Store
	bus     *progress.Bus
	clients pipeline.Clients
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Workflow.SceneConcurrency = 2
	cfg.Workflow.HeartbeatInterval = 1

	store, err := queue.Open(&cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	bus := progress.NewBus(nil)
	t.Cleanup(bus.Close)

	return &harness{
		cfg:   &cfg,
		store: store,
		bus:   bus,
		clients: pipeline.Clients{
			Analyzer:  &fakeAnalyzer{plan: defaultPlan()},
			Refiner:   &fakeRefiner{},
			Renderer:  &fakeRenderer{},
			Narrator:  &fakeNarrator{},
			Composer:  &fakeComposer{},
			Publisher: &fakePublisher{},
		},
	}
}

func defaultPlan() *pipeline.ScenePlan {
	plan := &pipeline.ScenePlan{
		Scenes: []pipeline.Scene{
			{Index: 1, Description: "sunrise over hills", DurationSeconds: 6, Narration: "first line."},
			{Index: 2, Description: "city at noon", DurationSeconds: 8, Narration: "second line."},
			{Index: 3, Description: "stars at night", DurationSeconds: 6, Narration: "third line."},
		},
		Theme: "cinematic",
	}
	plan.Normalize()
	return plan
}

func (h *harness) orchestrator(t *testing.T) *workflow.Orchestrator {
	t.Helper()
	orchestrator, err := workflow.NewOrchestrator(h.cfg, h.store, h.bus, h.clients, nil)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return orchestrator
}

func (h *harness) dispatcher(t *testing.T) *workflow.Dispatcher {
	t.Helper()
	return workflow.NewDispatcher(h.store, h.bus, h.orchestrator(t), nil)
}

func (h *harness) newJob(t *testing.T, script string) *queue.Job {
	t.Helper()
	job, err := h.store.NewJob(context.Background(), script, "9:16", "voice-a")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	return job
}

func (h *harness) job(t *testing.T, id string) *queue.Job {
	t.Helper()
	job, err := h.store.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job == nil {
		t.Fatalf("job %s vanished", id)
	}
	return job
}

func (h *harness) artifacts(t *testing.T, id string) queue.ArtifactSet {
	t.Helper()
	set, err := h.job(t, id).Artifacts()
	if err != nil {
		t.Fatalf("decode artifacts: %v", err)
	}
	return set
}

func waitForTerminal(t *testing.T, h *harness, id string) *queue.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job := h.job(t, id)
		if job.Stage.IsTerminal() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal stage", id)
	return nil
}

// collectSnapshots drains a subscription until the channel closes or the
// job goes terminal.
func collectSnapshots(t *testing.T, ch <-chan queue.Job) []queue.Job {
	t.Helper()
	var snapshots []queue.Job
	timeout := time.After(10 * time.Second)
	for {
		select {
		case job, ok := <-ch:
			if !ok {
				return snapshots
			}
			snapshots = append(snapshots, job)
			if job.Stage.IsTerminal() {
				return snapshots
			}
		case <-timeout:
			t.Fatal("timed out collecting snapshots")
		}
	}
}
