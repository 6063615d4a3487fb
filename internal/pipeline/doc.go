// Package pipeline defines the contracts between the orchestrator and its
// external stage collaborators, plus the scene plan model shared by both.
//
// Every collaborator is a narrow interface so the orchestrator never knows
// which vendor sits behind analysis, rendering, narration, composition, or
// publishing.
package pipeline
