package queue

import (
	"context"
	"fmt"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    script TEXT NOT NULL,
    aspect_ratio TEXT,
    voice_id TEXT,
    stage TEXT NOT NULL,
    progress REAL NOT NULL DEFAULT 0,
    message TEXT,
    artifacts_json TEXT,
    error_message TEXT,
    error_code TEXT,
    revision INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    last_heartbeat TEXT
)`

const createJobsStageIndex = `
CREATE INDEX IF NOT EXISTS idx_jobs_stage_created ON jobs (stage, created_at)`

func (s *Store) initSchema(ctx context.Context) error {
	for _, stmt := range []string{createJobsTable, createJobsStageIndex} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
