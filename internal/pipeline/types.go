package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	// DefaultSceneDurationSeconds is used when analysis omits a duration and
	// for the single-scene fallback plan.
	DefaultSceneDurationSeconds = 10
	// FallbackTheme tags plans produced without a usable analysis result.
	FallbackTheme = "general"
)

// Scene is one ordered segment of the generated video.
type Scene struct {
	Index           int    `json:"scene_number"`
	Description     string `json:"description"`
	DurationSeconds int    `json:"duration"`
	Narration       string `json:"audio_text"`
}

// ScenePlan is the analyzer's decomposition of a script.
type ScenePlan struct {
	Scenes               []Scene `json:"scenes"`
	TotalDurationSeconds int     `json:"total_duration"`
	Theme                string  `json:"theme"`
}

// Validate reports whether the plan can drive the pipeline. An invalid plan
// triggers the single-scene fallback rather than failing the job.
func (p ScenePlan) Validate() error {
	if len(p.Scenes) == 0 {
		return errors.New("scene plan has no scenes")
	}
	for i, scene := range p.Scenes {
		if strings.TrimSpace(scene.Description) == "" {
			return fmt.Errorf("scene %d has an empty description", i+1)
		}
	}
	return nil
}

// Normalize orders scenes by index and fills defaulted fields so downstream
// stages can rely on ascending, contiguous processing order.
func (p *ScenePlan) Normalize() {
	sort.SliceStable(p.Scenes, func(i, j int) bool {
		return p.Scenes[i].Index < p.Scenes[j].Index
	})
	total := 0
	for i := range p.Scenes {
		scene := &p.Scenes[i]
		scene.Index = i + 1
		if scene.DurationSeconds <= 0 {
			scene.DurationSeconds = DefaultSceneDurationSeconds
		}
		if strings.TrimSpace(scene.Narration) == "" {
			scene.Narration = scene.Description
		}
		total += scene.DurationSeconds
	}
	if p.TotalDurationSeconds <= 0 {
		p.TotalDurationSeconds = total
	}
	if strings.TrimSpace(p.Theme) == "" {
		p.Theme = FallbackTheme
	}
}

// FallbackPlan builds the single-scene plan used when analysis fails or
// returns something unusable: the raw script becomes both the visual
// description and the narration.
func FallbackPlan(script string) ScenePlan {
	return ScenePlan{
		Scenes: []Scene{{
			Index:           1,
			Description:     script,
			DurationSeconds: DefaultSceneDurationSeconds,
			Narration:       script,
		}},
		TotalDurationSeconds: DefaultSceneDurationSeconds,
		Theme:                FallbackTheme,
	}
}

// NarrationText joins the scene narrations in index order, the exact text
// sent to the synthesizer. Scene ordering here must match clip ordering or
// audio drifts against video.
func (p ScenePlan) NarrationText() string {
	parts := make([]string, 0, len(p.Scenes))
	for _, scene := range p.Scenes {
		if text := strings.TrimSpace(scene.Narration); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
