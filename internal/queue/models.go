package queue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"scriptreel/internal/pipeline"
)

// Stage represents a job's position in the generation pipeline.
type Stage string

const (
	StageQueued            Stage = "queued"
	StageAnalyzing         Stage = "analyzing"
	StageRenderingScenes   Stage = "rendering_scenes"
	StageSynthesizingAudio Stage = "synthesizing_audio"
	StageComposing         Stage = "composing"
	StagePublishing        Stage = "publishing"
	StageCompleted         Stage = "completed"
	StageFailed            Stage = "failed"
)

// CancelledMessage is the message recorded when a user stops a job.
const CancelledMessage = "Cancelled by user"

var pipelineOrder = []Stage{
	StageQueued,
	StageAnalyzing,
	StageRenderingScenes,
	StageSynthesizingAudio,
	StageComposing,
	StagePublishing,
	StageCompleted,
}

var allStages = append(append([]Stage(nil), pipelineOrder...), StageFailed)

var stageSet = func() map[Stage]struct{} {
	set := make(map[Stage]struct{}, len(allStages))
	for _, stage := range allStages {
		set[stage] = struct{}{}
	}
	return set
}()

var stagePosition = func() map[Stage]int {
	pos := make(map[Stage]int, len(pipelineOrder))
	for i, stage := range pipelineOrder {
		pos[stage] = i
	}
	return pos
}()

// AllStages returns the ordered list of known stages.
func AllStages() []Stage {
	cp := make([]Stage, len(allStages))
	copy(cp, allStages)
	return cp
}

// ParseStage converts a string into a known Stage.
func ParseStage(value string) (Stage, bool) {
	normalized := Stage(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stageSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether the stage ends a run.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageFailed
}

// IsRunning reports whether a run currently owns the job.
func (s Stage) IsRunning() bool {
	if s.IsTerminal() || s == StageQueued {
		return false
	}
	_, ok := stagePosition[s]
	return ok
}

// RunningStages lists the stages an active run passes through.
func RunningStages() []Stage {
	out := make([]Stage, 0, len(pipelineOrder)-2)
	for _, stage := range pipelineOrder {
		if stage.IsRunning() {
			out = append(out, stage)
		}
	}
	return out
}

// CanTransition reports whether moving from one stage to another follows a
// pipeline edge: the next stage in order, failure from any non-terminal
// stage, or a retry of a terminal job back to queued.
func CanTransition(from, to Stage) bool {
	if from == to {
		return false
	}
	if to == StageFailed {
		return !from.IsTerminal()
	}
	if to == StageQueued {
		return from.IsTerminal()
	}
	fromPos, okFrom := stagePosition[from]
	toPos, okTo := stagePosition[to]
	return okFrom && okTo && toPos == fromPos+1
}

// ArtifactSet is the typed view of a job's artifacts column. Entries are
// only ever added during a run, never removed.
type ArtifactSet struct {
	ScenePlan     *pipeline.ScenePlan `json:"scene_plan,omitempty"`
	SceneClips    []string            `json:"scene_clips,omitempty"`
	Narration     string              `json:"narration,omitempty"`
	ComposedMedia string              `json:"composed_media,omitempty"`
	VideoURL      string              `json:"video_url,omitempty"`
}

// Job is one generation request and its progress through the pipeline.
type Job struct {
	ID            string
	Script        string
	AspectRatio   string
	VoiceID       string
	Stage         Stage
	Progress      float64
	Message       string
	ArtifactsJSON string
	ErrorMessage  string
	ErrorCode     string
	Revision      int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastHeartbeat *time.Time
}

// Artifacts decodes the artifacts column; an empty column yields a zero set.
func (j *Job) Artifacts() (ArtifactSet, error) {
	var set ArtifactSet
	raw := strings.TrimSpace(j.ArtifactsJSON)
	if raw == "" {
		return set, nil
	}
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		return ArtifactSet{}, fmt.Errorf("decode artifacts for job %s: %w", j.ID, err)
	}
	return set, nil
}

// SetArtifacts encodes the artifact set back into the column.
func (j *Job) SetArtifacts(set ArtifactSet) error {
	encoded, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("encode artifacts for job %s: %w", j.ID, err)
	}
	j.ArtifactsJSON = string(encoded)
	return nil
}

// SetProgress raises progress and replaces the activity message. Progress
// never moves backward within a run.
func (j *Job) SetProgress(progress float64, message string) {
	if progress > j.Progress {
		j.Progress = progress
	}
	if message != "" {
		j.Message = message
	}
}

// AdvanceStage validates and applies a stage transition.
func (j *Job) AdvanceStage(to Stage, progress float64, message string) error {
	if !CanTransition(j.Stage, to) {
		return fmt.Errorf("invalid stage transition %s -> %s for job %s", j.Stage, to, j.ID)
	}
	j.Stage = to
	j.SetProgress(progress, message)
	return nil
}

// SetFailed marks the job failed with a structured cause. The message is
// always non-empty so clients have something to show.
func (j *Job) SetFailed(code, message string) {
	j.Stage = StageFailed
	j.ErrorCode = code
	if strings.TrimSpace(message) == "" {
		message = "generation failed"
	}
	j.ErrorMessage = message
	j.Message = message
	j.LastHeartbeat = nil
}

// ResetForRun returns a terminal job to queued for a fresh run.
func (j *Job) ResetForRun() error {
	if err := j.AdvanceStage(StageQueued, 0, "Queued for retry"); err != nil {
		return err
	}
	j.Progress = 0
	j.ErrorMessage = ""
	j.ErrorCode = ""
	return nil
}

// Snapshot returns an independent copy safe to hand to subscribers.
func (j *Job) Snapshot() Job {
	cp := *j
	if j.LastHeartbeat != nil {
		hb := *j.LastHeartbeat
		cp.LastHeartbeat = &hb
	}
	return cp
}

// HealthSummary describes aggregated job counts per lifecycle state.
type HealthSummary struct {
	Total     int
	Queued    int
	Running   int
	Completed int
	Failed    int
}
