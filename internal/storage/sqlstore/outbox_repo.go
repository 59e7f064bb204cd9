package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/repository"
)

type OutboxRepo struct {
	q sqlx.ExtContext
}

func NewOutboxRepo(db *sqlx.DB) *OutboxRepo {
	return &OutboxRepo{q: db}
}

// AddEvent must run inside the transaction that made the change the event
// describes.
func (r *OutboxRepo) AddEvent(ctx context.Context, topic string, event models.DomainEvent) error {
	const query = `
		INSERT INTO outbox (event_id, event_type, aggregate_id, topic, payload, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	_, err = r.q.ExecContext(ctx, r.q.Rebind(query),
		event.EventID().String(),
		event.EventType(),
		event.AggregateID().String(),
		topic,
		string(payload),
		event.OccurredAt().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}

	return nil
}

func (r *OutboxRepo) GetPending(ctx context.Context, limit int) ([]repository.OutboxRecord, error) {
	const q = `
		SELECT id, event_id, event_type, aggregate_id, topic, payload, occurred_at
		FROM outbox
		WHERE processed_at IS NULL
		ORDER BY id ASC
		LIMIT ?
	`

	var records []repository.OutboxRecord
	if err := sqlx.SelectContext(ctx, r.q, &records, r.q.Rebind(q), limit); err != nil {
		return nil, fmt.Errorf("get pending: %w", err)
	}

	return records, nil
}

func (r *OutboxRepo) MarkProcessed(ctx context.Context, id int64) error {
	const q = `
		UPDATE outbox
		SET processed_at = ?
		WHERE id = ?
	`

	if _, err := r.q.ExecContext(ctx, r.q.Rebind(q), time.Now().UTC(), id); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}

	return nil
}
