// Package workflow drives queued jobs through the generation pipeline.
//
// The Orchestrator owns one run: it advances the job through analyzing,
// rendering, synthesizing, composing, and publishing, persisting every
// transition and publishing each snapshot to watchers. The Dispatcher sits
// above it, enforcing one run per job and draining in-flight runs on
// shutdown.
package workflow
