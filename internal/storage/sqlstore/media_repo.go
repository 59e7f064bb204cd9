package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/romariotrain/media-derivatives/internal/media/models"
)

const mediaColumns = `id, owner_id, kind, file_name, original_path, size_bytes, status, created_at, updated_at`

type MediaRepo struct {
	q     sqlx.ExtContext
	clock func() time.Time
}

func NewMediaRepo(db *sqlx.DB) *MediaRepo {
	return &MediaRepo{q: db, clock: time.Now}
}

func (r *MediaRepo) Create(ctx context.Context, m *models.Media) error {
	const q = `
		INSERT INTO media (` + mediaColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.q.ExecContext(ctx, r.q.Rebind(q),
		m.ID, m.OwnerID, m.Kind, m.FileName, m.OriginalPath, m.SizeBytes, m.Status, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return models.ErrConflict
		}
		return fmt.Errorf("media create: %w", err)
	}
	return nil
}

func (r *MediaRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Media, error) {
	const q = `
		SELECT ` + mediaColumns + `
		FROM media
		WHERE id = ?
	`

	var m models.Media
	if err := sqlx.GetContext(ctx, r.q, &m, r.q.Rebind(q), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("media get by id: %w", err)
	}

	return &m, nil
}

// GetForUpdate is GetByID holding the row lock until the transaction ends,
// so a concurrent status change waits for it. SQLite has one writer and
// needs no lock clause.
func (r *MediaRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Media, error) {
	q := `
		SELECT ` + mediaColumns + `
		FROM media
		WHERE id = ?
	`
	if r.q.DriverName() == DriverPostgres {
		q += ` FOR UPDATE`
	}

	var m models.Media
	if err := sqlx.GetContext(ctx, r.q, &m, r.q.Rebind(q), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("media get for update: %w", err)
	}

	return &m, nil
}

func (r *MediaRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.Status) (*models.Media, error) {
	const q = `
		UPDATE media
		SET status = ?, updated_at = ?
		WHERE id = ?
		RETURNING ` + mediaColumns

	var m models.Media
	if err := sqlx.GetContext(ctx, r.q, &m, r.q.Rebind(q), status, r.clock().UTC(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("media update status: %w", err)
	}

	return &m, nil
}

func (r *MediaRepo) deleteMedia(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.q.ExecContext(ctx, r.q.Rebind(`DELETE FROM media WHERE id = ?`), id)
	if err != nil {
		return false, fmt.Errorf("media delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("media delete: %w", err)
	}
	return n > 0, nil
}
