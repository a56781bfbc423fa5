package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/evalpipe/evalpipe/pkg/models"
)

// QueueStore implements spec §4.1's queue client operations against the
// jobq/jobq_log tables.
type QueueStore struct{}

// NewQueueStore constructs a QueueStore. It carries no state: every method
// takes the Queryer (a *sqlx.DB or an in-flight *sqlx.Tx) explicitly, so the
// same instance can be shared across goroutines and transactions.
func NewQueueStore() *QueueStore {
	return &QueueStore{}
}

// Enqueue inserts one queued job row plus one audit-log row. Must be called
// with a Queryer that is the caller's own transaction (or the caller's own
// already-committed connection) so a committed trial/task row and its
// queued job become visible together (spec §4.1, P3).
func (q *QueueStore) Enqueue(ctx context.Context, db Queryer, entrypoint string, payload []byte, priority int) (int64, error) {
	var jobID int64
	row := db.QueryRowxContext(ctx, `
		INSERT INTO jobq (priority, entrypoint, payload, status)
		VALUES ($1, $2, $3, 'queued')
		RETURNING id`,
		priority, entrypoint, payload,
	)
	if err := row.Scan(&jobID); err != nil {
		return 0, fmt.Errorf("enqueue job: %w", err)
	}

	if err := q.insertLog(ctx, db, jobID, "queued", entrypoint, priority); err != nil {
		return 0, fmt.Errorf("log enqueue: %w", err)
	}

	return jobID, nil
}

// ClaimedJob is the result of a successful ClaimOne.
type ClaimedJob struct {
	JobID      int64  `db:"job_id"`
	Entrypoint string `db:"entrypoint"`
	Priority   int    `db:"priority"`
	Payload    []byte `db:"payload"`
}

// ErrNoJobAvailable is returned by ClaimOne when no queued row matches.
var ErrNoJobAvailable = errors.New("no job available")

// ClaimOne row-locks and claims a single queued job for entrypoint,
// transitioning it to picked. Must run inside a short transaction: the
// caller commits immediately after, it does not hold the row lock across
// the handler's work (spec §4.1, §9).
func (q *QueueStore) ClaimOne(ctx context.Context, db Queryer, entrypoint string) (*ClaimedJob, error) {
	var job ClaimedJob
	err := db.GetContext(ctx, &job, `
		UPDATE jobq SET status = 'picked', updated_at = now()
		WHERE id = (
			SELECT id FROM jobq
			WHERE entrypoint = $1 AND status = 'queued'
			ORDER BY priority DESC, id ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id AS job_id, entrypoint, priority, payload`,
		entrypoint,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoJobAvailable
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}

	if err := q.insertLog(ctx, db, job.JobID, "picked", job.Entrypoint, job.Priority); err != nil {
		return nil, err
	}
	return &job, nil
}

// Complete marks a job success or failed.
func (q *QueueStore) Complete(ctx context.Context, db Queryer, jobID int64, success bool) error {
	status := "success"
	if !success {
		status = "failed"
	}

	var job struct {
		Entrypoint string `db:"entrypoint"`
		Priority   int    `db:"priority"`
	}
	if err := db.GetContext(ctx, &job, `
		UPDATE jobq SET status = $2, updated_at = now() WHERE id = $1
		RETURNING entrypoint, priority`,
		jobID, status,
	); err != nil {
		return fmt.Errorf("complete job %d: %w", jobID, err)
	}

	return q.insertLog(ctx, db, jobID, status, job.Entrypoint, job.Priority)
}

// CancelByField marks queued rows cancelled whose JSON payload has
// field ∈ values. Best-effort: a missing jobq table (not yet migrated) is
// silently treated as zero cancellations, per spec §4.1.
func (q *QueueStore) CancelByField(ctx context.Context, db Queryer, field string, values []string) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}

	res, err := db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE jobq SET status = 'cancelled', updated_at = now()
		WHERE status = 'queued'
		AND convert_from(payload, 'UTF8')::jsonb ->> '%s' = ANY($1::text[])`, field),
		values,
	)
	if err != nil {
		if isMissingTable(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("cancel by field %s: %w", field, err)
	}
	return res.RowsAffected()
}

// DiscoverActiveEntrypoints returns the distinct entrypoints of jobq rows
// currently queued or picked, for the dispatcher's active-queue-key discovery
// (spec §4.6 step 2).
func (q *QueueStore) DiscoverActiveEntrypoints(ctx context.Context, db Queryer) ([]string, error) {
	var entrypoints []string
	err := db.SelectContext(ctx, &entrypoints, `
		SELECT DISTINCT entrypoint FROM jobq WHERE status IN ('queued', 'picked')`)
	if err != nil {
		return nil, fmt.Errorf("discover active entrypoints: %w", err)
	}
	return entrypoints, nil
}

// CountsByEntrypoints fetches queued/picked counts per entrypoint in one
// grouped query (spec §4.6 step 3).
func (q *QueueStore) CountsByEntrypoints(ctx context.Context, db Queryer, entrypoints []string) (map[string]EntrypointCounts, error) {
	counts := make(map[string]EntrypointCounts, len(entrypoints))
	for _, e := range entrypoints {
		counts[e] = EntrypointCounts{}
	}
	if len(entrypoints) == 0 {
		return counts, nil
	}

	var rows []struct {
		Entrypoint string `db:"entrypoint"`
		Status     string `db:"status"`
		Count      int    `db:"count"`
	}
	err := db.SelectContext(ctx, &rows, `
		SELECT entrypoint, status, count(*) AS count
		FROM jobq
		WHERE entrypoint = ANY($1::text[]) AND status IN ('queued', 'picked')
		GROUP BY entrypoint, status`,
		entrypoints,
	)
	if err != nil {
		return nil, fmt.Errorf("count by entrypoints: %w", err)
	}

	for _, r := range rows {
		c := counts[r.Entrypoint]
		switch r.Status {
		case "queued":
			c.Queued = r.Count
		case "picked":
			c.Picked = r.Count
		}
		counts[r.Entrypoint] = c
	}
	return counts, nil
}

// EntrypointCounts is the queued/picked row count for one entrypoint.
type EntrypointCounts struct {
	Queued int
	Picked int
}

func (q *QueueStore) insertLog(ctx context.Context, db Queryer, jobID int64, status, entrypoint string, priority int) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO jobq_log (job_id, status, entrypoint, priority)
		VALUES ($1, $2, $3, $4)`,
		jobID, status, entrypoint, priority,
	)
	if err != nil {
		return fmt.Errorf("log transition for job %d: %w", jobID, err)
	}
	return nil
}

// isMissingTable reports whether err is Postgres's "relation does not
// exist" error (SQLSTATE 42P01), used to make queue-row cancellation
// best-effort against a not-yet-migrated database.
func isMissingTable(err error) bool {
	return strings.Contains(err.Error(), "42P01") || strings.Contains(err.Error(), "does not exist")
}

// DecodePayload is a convenience wrapper around models.DecodeJobPayload for
// callers that only have the raw bytes.
func DecodePayload(raw []byte) (models.JobPayload, error) {
	return models.DecodeJobPayload(raw)
}
