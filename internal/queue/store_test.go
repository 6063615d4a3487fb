package queue_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"scriptreel/internal/config"
	"scriptreel/internal/queue"
)

func newTestStore(t *testing.T) *queue.Store {
	t.Helper()
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.StagingDir = filepath.Join(base, "staging")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	store, err := queue.Open(&cfg)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewJobStartsQueued(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "a fox runs through snow", "9:16", "voice-a")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if job.Stage != queue.StageQueued {
		t.Fatalf("expected queued stage, got %s", job.Stage)
	}
	if job.Progress != 0 {
		t.Fatalf("expected zero progress, got %f", job.Progress)
	}
	if job.ID == "" || job.CreatedAt.IsZero() {
		t.Fatalf("job missing identity fields: %#v", job)
	}

	fetched, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if fetched == nil || fetched.Script != "a fox runs through snow" || fetched.VoiceID != "voice-a" {
		t.Fatalf("unexpected fetched job: %#v", fetched)
	}
}

func TestNewJobRejectsEmptyScript(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.NewJob(context.Background(), "   ", "", ""); err == nil {
		t.Fatal("expected error for blank script")
	}
}

func TestGetByIDMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)
	job, err := store.GetByID(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job != nil {
		t.Fatalf("expected nil for unknown id, got %#v", job)
	}
}

func TestTransformPersistsAndBumpsRevision(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "script", "", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}

	updated, err := store.Transform(ctx, job.ID, func(j *queue.Job) error {
		return j.AdvanceStage(queue.StageAnalyzing, 10, "Analyzing script")
	})
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if updated.Stage != queue.StageAnalyzing || updated.Progress != 10 {
		t.Fatalf("mutation not applied: %#v", updated)
	}
	if updated.Revision != job.Revision+1 {
		t.Fatalf("expected revision bump, got %d -> %d", job.Revision, updated.Revision)
	}

	persisted, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if persisted.Stage != queue.StageAnalyzing || persisted.Revision != updated.Revision {
		t.Fatalf("transform not persisted: %#v", persisted)
	}
}

func TestTransformUnknownJobFails(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Transform(context.Background(), "missing", func(j *queue.Job) error { return nil })
	if err == nil {
		t.Fatal("expected error for unknown job")
	}
}

func TestTransformRejectsInvalidTransition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "script", "", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if _, err := store.Transform(ctx, job.ID, func(j *queue.Job) error {
		return j.AdvanceStage(queue.StageComposing, 85, "skip ahead")
	}); err == nil {
		t.Fatal("expected invalid transition error")
	}

	persisted, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if persisted.Stage != queue.StageQueued {
		t.Fatalf("failed mutation must not persist, got %s", persisted.Stage)
	}
}

func TestConcurrentTransformsSerializePerJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "script", "", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			_, err := store.Transform(ctx, job.ID, func(j *queue.Job) error {
				j.SetProgress(j.Progress+1, "")
				return nil
			})
			if err != nil {
				t.Errorf("transform: %v", err)
			}
		}()
	}
	wg.Wait()

	persisted, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if persisted.Progress != writers {
		t.Fatalf("expected progress %d after serialized writes, got %f", writers, persisted.Progress)
	}
	if persisted.Revision != writers {
		t.Fatalf("expected revision %d, got %d", writers, persisted.Revision)
	}
}

func TestListFiltersByStage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.NewJob(ctx, "one", "", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	second, err := store.NewJob(ctx, "two", "", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if _, err := store.Transform(ctx, second.ID, func(j *queue.Job) error {
		j.SetFailed("internal_fault", "boom")
		return nil
	}); err != nil {
		t.Fatalf("transform: %v", err)
	}

	queued, err := store.List(ctx, queue.StageQueued)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != first.ID {
		t.Fatalf("unexpected queued set: %#v", queued)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(all))
	}
}

func TestResetStuckRunsRequeuesRunningJobs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	job, err := store.NewJob(ctx, "script", "", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if _, err := store.Transform(ctx, job.ID, func(j *queue.Job) error {
		return j.AdvanceStage(queue.StageAnalyzing, 10, "Analyzing script")
	}); err != nil {
		t.Fatalf("transform: %v", err)
	}

	reset, err := store.ResetStuckRuns(ctx, time.Minute)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reset != 1 {
		t.Fatalf("expected one requeued job, got %d", reset)
	}

	persisted, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if persisted.Stage != queue.StageQueued || persisted.Progress != 0 {
		t.Fatalf("job not requeued: %#v", persisted)
	}
}

func TestResetStuckRunsSparesLiveHeartbeats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	live, err := store.NewJob(ctx, "live script", "", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	stale, err := store.NewJob(ctx, "stale script", "", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	for _, job := range []*queue.Job{live, stale} {
		if _, err := store.Transform(ctx, job.ID, func(j *queue.Job) error {
			return j.AdvanceStage(queue.StageAnalyzing, 10, "Analyzing script")
		}); err != nil {
			t.Fatalf("transform: %v", err)
		}
	}
	if err := store.UpdateHeartbeat(ctx, live.ID); err != nil {
		t.Fatalf("update heartbeat: %v", err)
	}
	expired := time.Now().UTC().Add(-time.Hour)
	if _, err := store.Transform(ctx, stale.ID, func(j *queue.Job) error {
		j.LastHeartbeat = &expired
		return nil
	}); err != nil {
		t.Fatalf("transform: %v", err)
	}

	reset, err := store.ResetStuckRuns(ctx, time.Minute)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reset != 1 {
		t.Fatalf("expected one requeued job, got %d", reset)
	}

	persisted, err := store.GetByID(ctx, live.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if persisted.Stage != queue.StageAnalyzing {
		t.Fatalf("live job should keep running, got stage %s", persisted.Stage)
	}
	requeued, err := store.GetByID(ctx, stale.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if requeued.Stage != queue.StageQueued || requeued.LastHeartbeat != nil {
		t.Fatalf("stale job not requeued: %#v", requeued)
	}
}

func TestHealthCountsByLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.NewJob(ctx, "queued job", "", ""); err != nil {
		t.Fatalf("new job: %v", err)
	}
	failed, err := store.NewJob(ctx, "failing job", "", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if _, err := store.Transform(ctx, failed.ID, func(j *queue.Job) error {
		j.SetFailed("external_call_failure", "upstream down")
		return nil
	}); err != nil {
		t.Fatalf("transform: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Total != 2 || health.Queued != 1 || health.Failed != 1 {
		t.Fatalf("unexpected health summary: %#v", health)
	}
}

func TestClearCompletedLeavesOthers(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	done, err := store.NewJob(ctx, "done job", "", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	stages := []queue.Stage{
		queue.StageAnalyzing, queue.StageRenderingScenes, queue.StageSynthesizingAudio,
		queue.StageComposing, queue.StagePublishing, queue.StageCompleted,
	}
	for _, stage := range stages {
		if _, err := store.Transform(ctx, done.ID, func(j *queue.Job) error {
			return j.AdvanceStage(stage, 100, "")
		}); err != nil {
			t.Fatalf("advance to %s: %v", stage, err)
		}
	}
	if _, err := store.NewJob(ctx, "still queued", "", ""); err != nil {
		t.Fatalf("new job: %v", err)
	}

	removed, err := store.ClearCompleted(ctx)
	if err != nil {
		t.Fatalf("clear completed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one removed job, got %d", removed)
	}
	remaining, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Stage != queue.StageQueued {
		t.Fatalf("unexpected remaining jobs: %#v", remaining)
	}
}

func TestStatsGroupsByStage(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := store.NewJob(ctx, "queued job", "", ""); err != nil {
			t.Fatalf("new job: %v", err)
		}
	}
	failed, err := store.NewJob(ctx, "failing job", "", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if _, err := store.Transform(ctx, failed.ID, func(j *queue.Job) error {
		j.SetFailed("internal_fault", "boom")
		return nil
	}); err != nil {
		t.Fatalf("transform: %v", err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats[queue.StageQueued] != 3 || stats[queue.StageFailed] != 1 {
		t.Fatalf("unexpected stats: %#v", stats)
	}
}

func TestRemoveAndClear(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.NewJob(ctx, "first", "", "")
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	if _, err := store.NewJob(ctx, "second", "", ""); err != nil {
		t.Fatalf("new job: %v", err)
	}

	removed, err := store.Remove(ctx, first.ID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !removed {
		t.Fatal("expected removal of existing job")
	}
	if removed, err = store.Remove(ctx, first.ID); err != nil || removed {
		t.Fatalf("expected no-op for missing job, got removed=%v err=%v", removed, err)
	}

	cleared, err := store.Clear(ctx)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("expected one cleared job, got %d", cleared)
	}
	remaining, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("unexpected remaining jobs: %#v", remaining)
	}
}
