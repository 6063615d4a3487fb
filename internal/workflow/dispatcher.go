package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"scriptreel/internal/logging"
	"scriptreel/internal/progress"
	"scriptreel/internal/queue"
	"scriptreel/internal/services"
)

// Dispatcher accepts jobs, starts at most one run per job, and drains
// in-flight runs on shutdown.
type Dispatcher struct {
	store        *queue.Store
	bus          *progress.Bus
	orchestrator *Orchestrator
	logger       *slog.Logger

	mu     sync.Mutex
	runs   map[string]context.CancelFunc
	wg     sync.WaitGroup
	closed bool
}

// NewDispatcher constructs a dispatcher over the given orchestrator.
func NewDispatcher(store *queue.Store, bus *progress.Bus, orchestrator *Orchestrator, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Dispatcher{
		store:        store,
		bus:          bus,
		orchestrator: orchestrator,
		logger:       logging.WithComponent(logger, "dispatcher"),
		runs:         make(map[string]context.CancelFunc),
	}
}

// Submit enqueues a new job and starts its run.
func (d *Dispatcher) Submit(ctx context.Context, script, aspectRatio, voiceID string) (*queue.Job, error) {
	if strings.TrimSpace(script) == "" {
		return nil, services.Wrap(services.ErrValidation, "", "submit", "script must not be empty", nil)
	}
	job, err := d.store.NewJob(ctx, script, aspectRatio, voiceID)
	if err != nil {
		return nil, err
	}
	d.startRun(job.ID)
	return job, nil
}

// Status returns the current snapshot of a job.
func (d *Dispatcher) Status(ctx context.Context, jobID string) (*queue.Job, error) {
	job, err := d.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("job %s: %w", jobID, queue.ErrNotFound)
	}
	return job, nil
}

// List returns jobs, optionally filtered by stage.
func (d *Dispatcher) List(ctx context.Context, stages ...queue.Stage) ([]*queue.Job, error) {
	return d.store.List(ctx, stages...)
}

// Health reports aggregate job counts.
func (d *Dispatcher) Health(ctx context.Context) (queue.HealthSummary, error) {
	return d.store.Health(ctx)
}

// Subscribe attaches a watcher to a job's progress snapshots.
func (d *Dispatcher) Subscribe(jobID string) (<-chan queue.Job, func()) {
	return d.bus.Subscribe(jobID)
}

// Cancel stops a job. A running job's context is cancelled and the run
// records the terminal state; a queued job moves to failed directly.
// Cancelling a finished job is an error.
func (d *Dispatcher) Cancel(ctx context.Context, jobID string) error {
	job, err := d.Status(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Stage.IsTerminal() {
		return services.Wrap(services.ErrValidation, "", "cancel", fmt.Sprintf("job already finished in stage %s", job.Stage), nil)
	}

	d.mu.Lock()
	cancel, running := d.runs[jobID]
	d.mu.Unlock()
	if running {
		cancel()
		return nil
	}

	updated, err := d.store.Transform(ctx, jobID, func(j *queue.Job) error {
		if j.Stage.IsTerminal() {
			return services.Wrap(services.ErrValidation, "", "cancel", fmt.Sprintf("job already finished in stage %s", j.Stage), nil)
		}
		j.SetFailed(services.CodeCancelled, queue.CancelledMessage)
		return nil
	})
	if err != nil {
		return err
	}
	d.bus.Publish(updated.Snapshot())
	return nil
}

// Retry returns a finished job to the queue and starts a fresh run.
func (d *Dispatcher) Retry(ctx context.Context, jobID string) (*queue.Job, error) {
	job, err := d.store.Transform(ctx, jobID, func(j *queue.Job) error {
		if !j.Stage.IsTerminal() {
			return services.Wrap(services.ErrValidation, "", "retry", fmt.Sprintf("job still active in stage %s", j.Stage), nil)
		}
		return j.ResetForRun()
	})
	if err != nil {
		return nil, err
	}
	d.bus.Publish(job.Snapshot())
	d.startRun(jobID)
	return job, nil
}

// Remove deletes a finished job's record. Active jobs must be cancelled
// first.
func (d *Dispatcher) Remove(ctx context.Context, jobID string) error {
	job, err := d.Status(ctx, jobID)
	if err != nil {
		return err
	}
	if !job.Stage.IsTerminal() {
		return services.Wrap(services.ErrValidation, "", "remove", fmt.Sprintf("job still active in stage %s", job.Stage), nil)
	}
	removed, err := d.store.Remove(ctx, jobID)
	if err != nil {
		return err
	}
	if !removed {
		return fmt.Errorf("job %s: %w", jobID, queue.ErrNotFound)
	}
	return nil
}

// ClearFinished deletes completed job records, or every terminal record when
// includeFailed is set. Active jobs are never touched.
func (d *Dispatcher) ClearFinished(ctx context.Context, includeFailed bool) (int64, error) {
	cleared, err := d.store.ClearCompleted(ctx)
	if err != nil {
		return 0, err
	}
	if !includeFailed {
		return cleared, nil
	}
	failed, err := d.store.List(ctx, queue.StageFailed)
	if err != nil {
		return cleared, err
	}
	for _, job := range failed {
		removed, err := d.store.Remove(ctx, job.ID)
		if err != nil {
			return cleared, err
		}
		if removed {
			cleared++
		}
	}
	return cleared, nil
}

// ResumePending starts runs for every queued job. Called at daemon startup
// after interrupted runs are requeued.
func (d *Dispatcher) ResumePending(ctx context.Context) error {
	pending, err := d.store.List(ctx, queue.StageQueued)
	if err != nil {
		return err
	}
	for _, job := range pending {
		d.startRun(job.ID)
	}
	if len(pending) > 0 {
		d.logger.Info("resumed pending jobs", logging.Int("count", len(pending)))
	}
	return nil
}

// RunningCount reports how many runs are in flight.
func (d *Dispatcher) RunningCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.runs)
}

// Stop cancels all in-flight runs and waits for them to record terminal
// state. The dispatcher accepts no new runs afterwards.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.wg.Wait()
		return
	}
	d.closed = true
	cancels := make([]context.CancelFunc, 0, len(d.runs))
	for _, cancel := range d.runs {
		cancels = append(cancels, cancel)
	}
	d.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	d.wg.Wait()
}

// startRun launches the orchestrator for a job unless one already owns it.
// Run contexts are detached from the caller so API requests returning early
// never abort a run.
func (d *Dispatcher) startRun(jobID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("dispatcher stopped, leaving job queued", logging.String(logging.FieldJobID, jobID))
		return
	}
	if _, exists := d.runs[jobID]; exists {
		return
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.runs[jobID] = cancel
	d.wg.Add(1)

	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.runs, jobID)
			d.mu.Unlock()
			cancel()
			d.wg.Done()
		}()
		if err := d.orchestrator.Run(runCtx, jobID); err != nil {
			d.logger.Debug("run ended with failure",
				logging.String(logging.FieldJobID, jobID),
				logging.Error(err),
			)
		}
	}()
}
