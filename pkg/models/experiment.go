package models

import "time"

// Experiment is a named grouping of tasks. The core treats experiments as
// append-only: once created, the core never mutates an experiment except for
// the public-share flags, which are owned by the API collaborator.
type Experiment struct {
	ID         string    `db:"id"`
	Name       string    `db:"name"`
	TenantID   *string   `db:"tenant_id"`
	Public     bool      `db:"public"`
	DeletedAt  *time.Time `db:"deleted_at"`
	ShareToken *string   `db:"share_token"`
	CreatedAt  time.Time `db:"created_at"`
}
