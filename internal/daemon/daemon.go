package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"scriptreel/internal/config"
	"scriptreel/internal/deps"
	"scriptreel/internal/logging"
	"scriptreel/internal/progress"
	"scriptreel/internal/queue"
	"scriptreel/internal/staging"
	"scriptreel/internal/workflow"
)

// staleStagingAge is how old an abandoned staging directory must be before
// boot-time cleanup removes it.
const staleStagingAge = 72 * time.Hour

// Daemon coordinates background processing and enforces single-instance
// execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	store      *queue.Store
	bus        *progress.Bus
	dispatcher *workflow.Dispatcher
	voices     VoiceLister

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, bus *progress.Bus, dispatcher *workflow.Dispatcher, voices VoiceLister, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || bus == nil || dispatcher == nil {
		return nil, errors.New("daemon requires config, store, bus, and dispatcher")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := filepath.Join(cfg.Paths.LogDir, "scriptreeld.lock")
	return &Daemon{
		cfg:        cfg,
		logger:     logging.WithComponent(logger, "daemon"),
		store:      store,
		bus:        bus,
		dispatcher: dispatcher,
		voices:     voices,
		lockPath:   lockPath,
		lock:       flock.New(lockPath),
	}, nil
}

// Start acquires the instance lock, requeues interrupted runs, resumes
// pending jobs, and brings the API up.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another scriptreel daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	staleAfter := time.Duration(d.cfg.Workflow.HeartbeatTimeout) * time.Second
	requeued, err := d.store.ResetStuckRuns(runCtx, staleAfter)
	if err != nil {
		d.releaseLock()
		cancel()
		return fmt.Errorf("requeue interrupted runs: %w", err)
	}
	if requeued > 0 {
		d.logger.Info("requeued interrupted runs", logging.Int64("count", requeued))
	}
	d.checkBinaries()
	d.cleanStaging(runCtx)
	if err := d.dispatcher.ResumePending(runCtx); err != nil {
		d.releaseLock()
		cancel()
		return fmt.Errorf("resume pending jobs: %w", err)
	}

	api, err := newAPIServer(d.cfg, d.dispatcher, d.voices, d.logger)
	if err != nil {
		d.releaseLock()
		cancel()
		return err
	}
	d.api = api
	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			d.releaseLock()
			cancel()
			return err
		}
	}

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.String("lock", d.lockPath),
		logging.String("queue_db", d.store.Path()),
	)
	return nil
}

// Stop shuts the API down, drains in-flight runs, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.api != nil {
		d.api.stop()
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.dispatcher.Stop()
	d.bus.Close()
	d.releaseLock()
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Addr returns the API listen address once started.
func (d *Daemon) Addr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

// checkBinaries warns about missing external tools without blocking startup;
// the affected stages surface their own errors at run time.
func (d *Daemon) checkBinaries() {
	statuses := deps.CheckBinaries(deps.Default())
	for _, status := range deps.MissingRequired(statuses) {
		d.logger.Warn("external dependency unavailable",
			logging.String("name", status.Name),
			logging.String("detail", status.Detail),
			logging.String(logging.FieldErrorHint, "install "+strings.ToLower(status.Name)+" before submitting jobs"),
		)
	}
}

// cleanStaging reclaims staging directories left behind by jobs that will
// never resume: anything not owned by an active job, plus anything stale.
func (d *Daemon) cleanStaging(ctx context.Context) {
	active, err := d.store.List(ctx,
		queue.StageQueued,
		queue.StageAnalyzing,
		queue.StageRenderingScenes,
		queue.StageSynthesizingAudio,
		queue.StageComposing,
		queue.StagePublishing,
	)
	if err != nil {
		d.logger.Warn("skipping staging cleanup", logging.Error(err))
		return
	}
	activeIDs := make(map[string]struct{}, len(active))
	for _, job := range active {
		activeIDs[job.ID] = struct{}{}
	}

	orphaned := staging.CleanOrphaned(d.cfg.Paths.StagingDir, activeIDs, d.logger)
	stale := staging.CleanStale(d.cfg.Paths.StagingDir, staleStagingAge, d.logger)
	if removed := len(orphaned.Removed) + len(stale.Removed); removed > 0 {
		d.logger.Info("staging cleanup complete", logging.Int("removed", removed))
	}
}

func (d *Daemon) releaseLock() {
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
}
