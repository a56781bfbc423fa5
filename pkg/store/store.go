// Package store implements the raw-SQL repositories the pipeline core reads
// and writes through. Per spec §9 ("use raw SQL inserts into the queue
// table and log table inside the caller's transaction"), every write here
// either runs inside a caller-supplied *sqlx.Tx or opens and commits its own
// short transaction — never holds a connection across a sandbox run.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/evalpipe/evalpipe/pkg/database"
	"github.com/jmoiron/sqlx"
)

// Queryer is satisfied by both *sqlx.DB and *sqlx.Tx, letting repository
// methods run either standalone or inside a caller's transaction.
type Queryer interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Store bundles the database handle the repositories operate against.
type Store struct {
	db *sqlx.DB
}

// New wraps a database.Client for use by the store repositories.
func New(client *database.Client) *Store {
	return &Store{db: client.DB}
}

// DB returns the underlying connection pool, for callers that need to open
// their own transaction spanning multiple repositories (e.g. the API
// collaborator's task+trials+jobs submission).
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// WithTx runs fn inside a new transaction, committing on success and
// rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return WithTx(ctx, s.db, fn)
}

// WithTx runs fn inside a new transaction on db, committing on success and
// rolling back on error or panic. Exported standalone so callers that only
// hold a *sqlx.DB (not a full Store) — the pipeline and queue packages — can
// share the same transaction-wrapping behavior.
func WithTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			return fmt.Errorf("%w (rollback also failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
