package daemon

import (
	"time"

	"scriptreel/internal/queue"
)

// JobView is the wire representation of a job.
type JobView struct {
	ID           string            `json:"id"`
	Script       string            `json:"script,omitempty"`
	AspectRatio  string            `json:"aspect_ratio,omitempty"`
	VoiceID      string            `json:"voice_id,omitempty"`
	Stage        string            `json:"stage"`
	Progress     float64           `json:"progress"`
	Message      string            `json:"message,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	ErrorCode    string            `json:"error_code,omitempty"`
	Artifacts    *queue.ArtifactSet `json:"artifacts,omitempty"`
	Revision     int64             `json:"revision"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// jobView converts a stored job into its wire form. includeScript controls
// whether the full script text rides along (detail views only).
func jobView(job *queue.Job, includeScript bool) JobView {
	view := JobView{
		ID:           job.ID,
		AspectRatio:  job.AspectRatio,
		VoiceID:      job.VoiceID,
		Stage:        string(job.Stage),
		Progress:     job.Progress,
		Message:      job.Message,
		ErrorMessage: job.ErrorMessage,
		ErrorCode:    job.ErrorCode,
		Revision:     job.Revision,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
	if includeScript {
		view.Script = job.Script
	}
	if set, err := job.Artifacts(); err == nil {
		if set.ScenePlan != nil || len(set.SceneClips) > 0 || set.Narration != "" ||
			set.ComposedMedia != "" || set.VideoURL != "" {
			copied := set
			view.Artifacts = &copied
		}
	}
	return view
}

// HealthView is the wire representation of aggregate job counts.
type HealthView struct {
	Status string `json:"status"`
	Jobs   struct {
		Total     int `json:"total"`
		Queued    int `json:"queued"`
		Running   int `json:"running"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
	} `json:"jobs"`
}
