package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/romariotrain/media-derivatives/internal/media/repository"
)

// Store implements repository.Registry. Inside InTx every embedded
// repository is bound to the same *sqlx.Tx.
type Store struct {
	*MediaRepo
	*ArtifactRepo
	*MetadataRepo
	*JobRepo
	*OutboxRepo

	db *sqlx.DB
	tx *sqlx.Tx
}

var _ repository.Registry = (*Store)(nil)

func New(db *sqlx.DB) *Store {
	s := bind(db, time.Now)
	s.db = db
	return s
}

func bind(q sqlx.ExtContext, clock func() time.Time) *Store {
	return &Store{
		MediaRepo:    &MediaRepo{q: q, clock: clock},
		ArtifactRepo: &ArtifactRepo{q: q},
		MetadataRepo: &MetadataRepo{q: q},
		JobRepo:      &JobRepo{q: q},
		OutboxRepo:   &OutboxRepo{q: q},
	}
}

func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) InTx(ctx context.Context, fn func(tx repository.Registry) error) error {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	bound := bind(tx, s.MediaRepo.clock)
	bound.db = s.db
	bound.tx = tx

	if err := fn(bound); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
