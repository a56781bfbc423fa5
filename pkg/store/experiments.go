package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/evalpipe/evalpipe/pkg/models"
)

// ExperimentStore persists models.Experiment rows. Experiments are
// append-only from the core's perspective (spec §3): the only methods here
// are Create and lookup-by-id/name.
type ExperimentStore struct{}

// NewExperimentStore constructs an ExperimentStore.
func NewExperimentStore() *ExperimentStore {
	return &ExperimentStore{}
}

// ErrExperimentNotFound is returned when no row matches.
var ErrExperimentNotFound = errors.New("experiment not found")

// Create inserts a new experiment row.
func (s *ExperimentStore) Create(ctx context.Context, db Queryer, e *models.Experiment) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO experiments (id, name, tenant_id, public, share_token, created_at)
		VALUES ($1, $2, $3, $4, $5, now())`,
		e.ID, e.Name, e.TenantID, e.Public, e.ShareToken,
	)
	if err != nil {
		return fmt.Errorf("create experiment %s: %w", e.ID, err)
	}
	return nil
}

// Get fetches an experiment by id.
func (s *ExperimentStore) Get(ctx context.Context, db Queryer, id string) (*models.Experiment, error) {
	var e models.Experiment
	err := db.GetContext(ctx, &e, `SELECT * FROM experiments WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExperimentNotFound
		}
		return nil, fmt.Errorf("get experiment %s: %w", id, err)
	}
	return &e, nil
}

// GetOrCreateByName finds the most recent non-deleted experiment with the
// given (tenant_id, name), or creates one with the supplied id if none
// exists. Spec §3: "(tenant_id, name) uniqueness is not enforced by the
// core" — this is a convenience for the API collaborator's submission path,
// not a uniqueness guarantee.
func (s *ExperimentStore) GetOrCreateByName(ctx context.Context, db Queryer, id, name string, tenantID *string) (*models.Experiment, error) {
	var e models.Experiment
	err := db.GetContext(ctx, &e, `
		SELECT * FROM experiments
		WHERE name = $1 AND deleted_at IS NULL
		AND ((tenant_id IS NULL AND $2::text IS NULL) OR tenant_id = $2)
		ORDER BY created_at DESC
		LIMIT 1`,
		name, tenantID,
	)
	if err == nil {
		return &e, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("lookup experiment %s: %w", name, err)
	}

	created := &models.Experiment{ID: id, Name: name, TenantID: tenantID}
	if err := s.Create(ctx, db, created); err != nil {
		return nil, err
	}
	return created, nil
}
