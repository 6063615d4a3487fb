package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"scriptreel/internal/config"
	"scriptreel/internal/logging"
	"scriptreel/internal/notifications"
	"scriptreel/internal/pipeline"
	"scriptreel/internal/progress"
	"scriptreel/internal/queue"
	"scriptreel/internal/services"
)

// Progress anchors for each stage of a run.
const (
	progressAnalyzing   = 10
	progressRenderStart = 30
	progressRenderEnd   = 60
	progressSynthesize  = 70
	progressCompose     = 85
	progressPublish     = 95
	progressComplete    = 100
)

// Orchestrator runs a single job through the full generation pipeline.
type Orchestrator struct {
	cfg     *config.Config
	store   *queue.Store
	bus     *progress.Bus
	clients pipeline.Clients
	logger  *slog.Logger

	heartbeat *HeartbeatMonitor
	notifier  notifications.Service
	// keepStaging leaves per-job staging dirs behind for inspection.
	keepStaging bool
}

// OrchestratorOption configures optional orchestrator behavior.
type OrchestratorOption func(*Orchestrator)

// WithKeepStaging disables staging cleanup after a run.
func WithKeepStaging(keep bool) OrchestratorOption {
	return func(o *Orchestrator) {
		o.keepStaging = keep
	}
}

// WithNotifier overrides the lifecycle notification service.
func WithNotifier(notifier notifications.Service) OrchestratorOption {
	return func(o *Orchestrator) {
		if notifier != nil {
			o.notifier = notifier
		}
	}
}

// NewOrchestrator constructs an orchestrator.
func NewOrchestrator(cfg *config.Config, store *queue.Store, bus *progress.Bus, clients pipeline.Clients, logger *slog.Logger, opts ...OrchestratorOption) (*Orchestrator, error) {
	if err := clients.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	orchestrator := &Orchestrator{
		cfg:     cfg,
		store:   store,
		bus:     bus,
		clients: clients,
		logger:  logging.WithComponent(logger, "workflow"),
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
		),
		notifier: notifications.NewService(cfg),
	}
	for _, opt := range opts {
		opt(orchestrator)
	}
	return orchestrator, nil
}

// Run executes the pipeline for one queued job. It always leaves the job in
// a terminal stage: completed on success, failed otherwise.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	logger := logging.WithJob(o.logger, jobID)

	job, err := o.advance(ctx, jobID, queue.StageAnalyzing, progressAnalyzing, "Analyzing script")
	if err != nil {
		return o.fail(jobID, logger, err)
	}

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	var heartbeatWG sync.WaitGroup
	heartbeatWG.Add(1)
	go o.heartbeat.StartLoop(heartbeatCtx, &heartbeatWG, jobID)
	defer func() {
		stopHeartbeat()
		heartbeatWG.Wait()
	}()

	stagingDir := o.stagingDir(jobID)
	if !o.keepStaging {
		defer os.RemoveAll(stagingDir)
	}

	plan := o.analyze(ctx, logger, job)
	if err := o.checkpoint(ctx); err != nil {
		return o.fail(jobID, logger, err)
	}
	if _, err := o.saveArtifacts(ctx, jobID, func(set *queue.ArtifactSet) {
		set.ScenePlan = plan
	}); err != nil {
		return o.fail(jobID, logger, err)
	}

	if _, err := o.advance(ctx, jobID, queue.StageRenderingScenes, progressRenderStart, "Rendering scenes"); err != nil {
		return o.fail(jobID, logger, err)
	}
	clips, renderErr := o.renderScenes(ctx, logger, job, plan, stagingDir)
	if renderErr != nil {
		return o.fail(jobID, logger, renderErr)
	}
	if err := o.checkpoint(ctx); err != nil {
		return o.fail(jobID, logger, err)
	}
	if _, err := o.saveArtifacts(ctx, jobID, func(set *queue.ArtifactSet) {
		set.SceneClips = clips
	}); err != nil {
		return o.fail(jobID, logger, err)
	}

	if _, err := o.advance(ctx, jobID, queue.StageSynthesizingAudio, progressSynthesize, "Synthesizing narration"); err != nil {
		return o.fail(jobID, logger, err)
	}
	narrationPath := o.synthesize(ctx, logger, job, plan, stagingDir)
	if err := o.checkpoint(ctx); err != nil {
		return o.fail(jobID, logger, err)
	}
	if narrationPath != "" {
		if _, err := o.saveArtifacts(ctx, jobID, func(set *queue.ArtifactSet) {
			set.Narration = narrationPath
		}); err != nil {
			return o.fail(jobID, logger, err)
		}
	}

	if _, err := o.advance(ctx, jobID, queue.StageComposing, progressCompose, "Composing video"); err != nil {
		return o.fail(jobID, logger, err)
	}
	composedPath, err := o.compose(ctx, jobID, clips, narrationPath, stagingDir)
	if err != nil {
		return o.fail(jobID, logger, err)
	}
	if err := o.checkpoint(ctx); err != nil {
		return o.fail(jobID, logger, err)
	}
	if _, err := o.saveArtifacts(ctx, jobID, func(set *queue.ArtifactSet) {
		set.ComposedMedia = composedPath
	}); err != nil {
		return o.fail(jobID, logger, err)
	}

	if _, err := o.advance(ctx, jobID, queue.StagePublishing, progressPublish, "Publishing video"); err != nil {
		return o.fail(jobID, logger, err)
	}
	videoURL, err := o.publish(ctx, jobID, composedPath)
	if err != nil {
		return o.fail(jobID, logger, err)
	}
	if _, err := o.saveArtifacts(ctx, jobID, func(set *queue.ArtifactSet) {
		set.VideoURL = videoURL
	}); err != nil {
		return o.fail(jobID, logger, err)
	}

	message := completionMessage(len(clips), len(plan.Scenes), narrationPath != "")
	final, err := o.advance(ctx, jobID, queue.StageCompleted, progressComplete, message)
	if err != nil {
		return o.fail(jobID, logger, err)
	}
	logger.Info("job completed",
		logging.String(logging.FieldStage, string(final.Stage)),
		logging.String("video_url", videoURL),
	)
	o.notifyCompleted(jobID, logger, message, videoURL)
	return nil
}

// notifyCompleted and notifyFailed push lifecycle events on a detached
// context; notification failures never affect the run outcome.
func (o *Orchestrator) notifyCompleted(jobID string, logger *slog.Logger, message, videoURL string) {
	if o.notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := o.notifier.NotifyJobCompleted(notifyCtx, jobID, message, videoURL); err != nil {
		logger.Warn("completion notification failed", logging.Error(err))
	}
}

func (o *Orchestrator) notifyFailed(jobID string, logger *slog.Logger, reason string) {
	if o.notifier == nil {
		return
	}
	notifyCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := o.notifier.NotifyJobFailed(notifyCtx, jobID, reason); err != nil {
		logger.Warn("failure notification failed", logging.Error(err))
	}
}

// analyze asks the analyzer for a scene plan and falls back to a single
// full-script scene when the analyzer cannot produce one.
func (o *Orchestrator) analyze(ctx context.Context, logger *slog.Logger, job *queue.Job) *pipeline.ScenePlan {
	analyzeCtx, cancel := o.stageContext(ctx, o.cfg.Workflow.AnalyzeTimeoutSeconds)
	defer cancel()

	plan, err := o.clients.Analyzer.AnalyzeScript(analyzeCtx, job.Script)
	if err == nil && plan != nil && len(plan.Scenes) > 0 {
		// Scene slotting depends on contiguous 1-based indexes, which only
		// the in-tree analyzer guarantees.
		plan.Normalize()
		return plan
	}
	logger.Warn("script analysis failed, using single-scene fallback",
		logging.Error(err),
		logging.String(logging.FieldEventType, "analyzer_fallback"),
	)
	fallback := pipeline.FallbackPlan(job.Script)
	return &fallback
}

// synthesize renders narration audio. Any failure degrades the run to a
// silent video rather than failing it.
func (o *Orchestrator) synthesize(ctx context.Context, logger *slog.Logger, job *queue.Job, plan *pipeline.ScenePlan, stagingDir string) string {
	if o.clients.Narrator == nil {
		logger.Info("no narrator configured, producing silent video")
		return ""
	}
	text := plan.NarrationText()
	if text == "" {
		logger.Info("scene plan has no narration text, producing silent video")
		return ""
	}

	synthCtx, cancel := o.stageContext(ctx, o.cfg.Workflow.NarrationTimeoutSeconds)
	defer cancel()

	outputPath := filepath.Join(stagingDir, "narration.mp3")
	narrationPath, err := o.clients.Narrator.SynthesizeNarration(synthCtx, text, job.VoiceID, outputPath)
	if err != nil {
		if ctx.Err() != nil {
			return ""
		}
		logger.Warn("narration synthesis failed, continuing without audio",
			logging.Error(err),
			logging.String(logging.FieldEventType, "narration_degraded"),
		)
		return ""
	}
	return narrationPath
}

func (o *Orchestrator) compose(ctx context.Context, jobID string, clips []string, narrationPath, stagingDir string) (string, error) {
	composeCtx, cancel := o.stageContext(ctx, o.cfg.Workflow.ComposeTimeoutSeconds)
	defer cancel()

	return o.clients.Composer.Compose(composeCtx, pipeline.ComposeRequest{
		ClipPaths:     clips,
		NarrationPath: narrationPath,
		OutputPath:    filepath.Join(stagingDir, "final.mp4"),
	})
}

func (o *Orchestrator) publish(ctx context.Context, jobID, composedPath string) (string, error) {
	publishCtx, cancel := o.stageContext(ctx, o.cfg.Workflow.PublishTimeoutSeconds)
	defer cancel()

	return o.clients.Publisher.Publish(publishCtx, composedPath, "video/mp4", "jobs/"+jobID+".mp4")
}

// advance persists a stage transition and publishes the snapshot.
func (o *Orchestrator) advance(ctx context.Context, jobID string, to queue.Stage, progressValue float64, message string) (*queue.Job, error) {
	job, err := o.store.Transform(ctx, jobID, func(j *queue.Job) error {
		return j.AdvanceStage(to, progressValue, message)
	})
	if err != nil {
		return nil, err
	}
	o.publishSnapshot(job)
	return job, nil
}

// setProgress raises progress within the current stage.
func (o *Orchestrator) setProgress(ctx context.Context, jobID string, progressValue float64, message string) error {
	job, err := o.store.Transform(ctx, jobID, func(j *queue.Job) error {
		j.SetProgress(progressValue, message)
		return nil
	})
	if err != nil {
		return err
	}
	o.publishSnapshot(job)
	return nil
}

func (o *Orchestrator) saveArtifacts(ctx context.Context, jobID string, update func(*queue.ArtifactSet)) (*queue.Job, error) {
	return o.store.Transform(ctx, jobID, func(j *queue.Job) error {
		set, err := j.Artifacts()
		if err != nil {
			return err
		}
		update(&set)
		return j.SetArtifacts(set)
	})
}

// fail moves the job to the failed stage with a classified cause. The
// persistence context is detached so a cancelled run can still record its
// terminal state.
func (o *Orchestrator) fail(jobID string, logger *slog.Logger, cause error) error {
	code := services.CauseCode(cause)
	message := services.UserMessage(cause)
	if code == services.CodeCancelled {
		message = queue.CancelledMessage
	}

	persistCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	job, err := o.store.Transform(persistCtx, jobID, func(j *queue.Job) error {
		if j.Stage.IsTerminal() {
			return fmt.Errorf("job %s already terminal in stage %s", jobID, j.Stage)
		}
		j.SetFailed(code, message)
		return nil
	})
	if err != nil {
		logger.Error("failed to persist job failure", logging.Error(err))
		return cause
	}
	o.publishSnapshot(job)
	logger.Error("job failed",
		logging.Error(cause),
		logging.String("error_code", code),
	)
	if code != services.CodeCancelled {
		o.notifyFailed(jobID, logger, message)
	}
	return cause
}

func (o *Orchestrator) publishSnapshot(job *queue.Job) {
	if o.bus == nil || job == nil {
		return
	}
	o.bus.Publish(job.Snapshot())
}

func (o *Orchestrator) checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return services.Wrap(services.ErrCancelled, "", "run checkpoint", "", err)
	}
	return nil
}

func (o *Orchestrator) stageContext(ctx context.Context, timeoutSeconds int) (context.Context, context.CancelFunc) {
	if timeoutSeconds <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
}

func (o *Orchestrator) stagingDir(jobID string) string {
	return filepath.Join(o.cfg.Paths.StagingDir, jobID)
}

// completionMessage surfaces any degradation (lost scenes, missing narration)
// in the final status text.
func completionMessage(rendered, planned int, narrated bool) string {
	var notes []string
	if planned > 0 && rendered < planned {
		notes = append(notes, fmt.Sprintf("rendered %d of %d scenes", rendered, planned))
	}
	if !narrated {
		notes = append(notes, "without narration")
	}
	if len(notes) == 0 {
		return "Video ready"
	}
	return "Video ready (" + strings.Join(notes, ", ") + ")"
}
