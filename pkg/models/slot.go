package models

import "time"

// SlotLease is one (queue_key, slot) row in the slots table. A queue key has
// at most limit(queue_key) rows, created lazily by EnsureSlots; at any time,
// at most limit(queue_key) of them have LockedUntil in the future.
type SlotLease struct {
	QueueKey    string     `db:"queue_key"`
	Slot        int        `db:"slot"`
	LockedBy    *string    `db:"locked_by"`
	LockedUntil *time.Time `db:"locked_until"`
}
