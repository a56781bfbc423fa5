package database

import (
	"context"
	stdsql "database/sql"
	"fmt"
)

// CreateSupportingIndexes creates GIN indexes that are cheaper to keep out
// of the golang-migrate history and apply idempotently on startup, mirroring
// the teacher's post-migration index step. Here they cover the task tags
// column (free-form, frequently filtered by the API collaborator) and the
// trial analysis payload column.
func CreateSupportingIndexes(ctx context.Context, db *stdsql.DB) error {
	statements := []string{
		`CREATE INDEX IF NOT EXISTS idx_tasks_tags_gin ON tasks USING gin(tags)`,
		`CREATE INDEX IF NOT EXISTS idx_trials_analysis_payload_gin ON trials USING gin(analysis_payload)`,
	}

	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
