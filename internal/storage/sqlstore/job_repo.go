package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/romariotrain/media-derivatives/internal/media/models"
)

type JobRepo struct {
	q sqlx.ExtContext
}

func (r *JobRepo) SaveJob(ctx context.Context, j *models.DerivativeJob) error {
	const q = `
		INSERT INTO derivative_jobs (media_id, family, state, attempts, last_error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (media_id, family) DO UPDATE SET
			state = excluded.state,
			attempts = excluded.attempts,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at
	`
	_, err := r.q.ExecContext(ctx, r.q.Rebind(q), j.MediaID, j.Family, j.State, j.Attempts, j.LastError, j.UpdatedAt)
	if err != nil {
		return fmt.Errorf("job save: %w", err)
	}
	return nil
}

func (r *JobRepo) GetJob(ctx context.Context, mediaID uuid.UUID, family models.Family) (*models.DerivativeJob, error) {
	const q = `
		SELECT media_id, family, state, attempts, last_error, updated_at
		FROM derivative_jobs
		WHERE media_id = ? AND family = ?
	`
	var j models.DerivativeJob
	if err := sqlx.GetContext(ctx, r.q, &j, r.q.Rebind(q), mediaID, family); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("job get: %w", err)
	}
	return &j, nil
}

func (r *JobRepo) ListJobs(ctx context.Context, mediaID uuid.UUID) ([]models.DerivativeJob, error) {
	const q = `
		SELECT media_id, family, state, attempts, last_error, updated_at
		FROM derivative_jobs
		WHERE media_id = ?
		ORDER BY family
	`
	var jobs []models.DerivativeJob
	if err := sqlx.SelectContext(ctx, r.q, &jobs, r.q.Rebind(q), mediaID); err != nil {
		return nil, fmt.Errorf("job list: %w", err)
	}
	return jobs, nil
}
