package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SlotStore implements spec §4.2's slot-lessor contract against the slots
// table.
type SlotStore struct{}

// NewSlotStore constructs a SlotStore.
func NewSlotStore() *SlotStore {
	return &SlotStore{}
}

// EnsureSlots idempotently inserts rows (queueKey, 0..limit-1).
func (s *SlotStore) EnsureSlots(ctx context.Context, db Queryer, queueKey string, limit int) error {
	for i := 0; i < limit; i++ {
		if _, err := db.ExecContext(ctx, `
			INSERT INTO slots (queue_key, slot)
			VALUES ($1, $2)
			ON CONFLICT (queue_key, slot) DO NOTHING`,
			queueKey, i,
		); err != nil {
			return fmt.Errorf("ensure slot %s/%d: %w", queueKey, i, err)
		}
	}
	return nil
}

// ErrNoSlotAvailable is returned by Acquire when every slot for queueKey is
// currently leased.
var ErrNoSlotAvailable = errors.New("no slot available")

// Acquire selects the first free or expired slot for queueKey and leases it
// to workerID for leaseSeconds. Callers must run this inside a short
// transaction that commits immediately (spec §4.2: "must not hold the pool
// connection beyond the update").
func (s *SlotStore) Acquire(ctx context.Context, db Queryer, queueKey string, limit int, workerID string, leaseSeconds int) (int, error) {
	if err := s.EnsureSlots(ctx, db, queueKey, limit); err != nil {
		return 0, err
	}

	var slot int
	err := db.GetContext(ctx, &slot, `
		UPDATE slots SET locked_by = $3, locked_until = now() + ($4 || ' seconds')::interval
		WHERE (queue_key, slot) = (
			SELECT queue_key, slot FROM slots
			WHERE queue_key = $1 AND (locked_until IS NULL OR locked_until <= now())
			ORDER BY slot ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING slot`,
		queueKey, limit, workerID, leaseSeconds,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNoSlotAvailable
		}
		return 0, fmt.Errorf("acquire slot for %s: %w", queueKey, err)
	}
	return slot, nil
}

// Release clears the lease on (queueKey, slot) only if it is still held by
// workerID, preventing a late worker from releasing a lease that has
// already been re-issued to someone else.
func (s *SlotStore) Release(ctx context.Context, db Queryer, queueKey string, slot int, workerID string) error {
	_, err := db.ExecContext(ctx, `
		UPDATE slots SET locked_by = NULL, locked_until = NULL
		WHERE queue_key = $1 AND slot = $2 AND locked_by = $3`,
		queueKey, slot, workerID,
	)
	if err != nil {
		return fmt.Errorf("release slot %s/%d: %w", queueKey, slot, err)
	}
	return nil
}

// SweepExpired clears all leases whose locked_until has passed. Intended to
// run inside the dispatcher loop.
func (s *SlotStore) SweepExpired(ctx context.Context, db Queryer) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE slots SET locked_by = NULL, locked_until = NULL
		WHERE locked_until IS NOT NULL AND locked_until <= now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep expired slots: %w", err)
	}
	return res.RowsAffected()
}

// LiveLeaseCount returns the number of slots for queueKey with a live
// (unexpired) lease, for tests exercising P2.
func (s *SlotStore) LiveLeaseCount(ctx context.Context, db Queryer, queueKey string) (int, error) {
	var count int
	err := db.GetContext(ctx, &count, `
		SELECT count(*) FROM slots
		WHERE queue_key = $1 AND locked_until IS NOT NULL AND locked_until > now()`,
		queueKey,
	)
	if err != nil {
		return 0, fmt.Errorf("count live leases for %s: %w", queueKey, err)
	}
	return count, nil
}

// LeaseDeadline is a helper for tests and callers that need to compute an
// expected lease expiry without waiting on the database clock.
func LeaseDeadline(leaseSeconds int) time.Time {
	return time.Now().Add(time.Duration(leaseSeconds) * time.Second)
}
