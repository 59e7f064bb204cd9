package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DomainEvent пишется в outbox вместе с изменением, которое его породило
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	AggregateID() uuid.UUID
	OccurredAt() time.Time
}

// MediaStatusChanged публикуется при каждом переходе статуса медиа
type MediaStatusChanged struct {
	eventID    uuid.UUID
	mediaID    uuid.UUID
	from       Status
	to         Status
	occurredAt time.Time
}

func NewMediaStatusChanged(mediaID uuid.UUID, from, to Status) *MediaStatusChanged {
	return &MediaStatusChanged{
		eventID:    uuid.New(),
		mediaID:    mediaID,
		from:       from,
		to:         to,
		occurredAt: time.Now(),
	}
}

// Реализация интерфейса DomainEvent
func (e *MediaStatusChanged) EventID() uuid.UUID     { return e.eventID }
func (e *MediaStatusChanged) EventType() string      { return "MediaStatusChanged" }
func (e *MediaStatusChanged) AggregateID() uuid.UUID { return e.mediaID }
func (e *MediaStatusChanged) OccurredAt() time.Time  { return e.occurredAt }

// Геттеры для payload
func (e *MediaStatusChanged) From() Status { return e.from }
func (e *MediaStatusChanged) To() Status   { return e.to }

// Кастомная JSON сериализация
func (e *MediaStatusChanged) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		EventID    uuid.UUID `json:"event_id"`
		MediaID    uuid.UUID `json:"media_id"`
		From       Status    `json:"from"`
		To         Status    `json:"to"`
		OccurredAt time.Time `json:"occurred_at"`
	}{
		EventID:    e.eventID,
		MediaID:    e.mediaID,
		From:       e.from,
		To:         e.to,
		OccurredAt: e.occurredAt,
	})
}

// JobRequested is written to the outbox when a derivative job is enqueued.
// Its JSON form is the queue payload itself.
type JobRequested struct {
	job        Job
	occurredAt time.Time
}

func NewJobRequested(job Job) *JobRequested {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	return &JobRequested{job: job, occurredAt: time.Now()}
}

func (e *JobRequested) EventID() uuid.UUID     { return e.job.ID }
func (e *JobRequested) EventType() string      { return "JobRequested." + string(e.job.Family) }
func (e *JobRequested) AggregateID() uuid.UUID { return e.job.MediaID }
func (e *JobRequested) OccurredAt() time.Time  { return e.occurredAt }
func (e *JobRequested) Job() Job               { return e.job }

// Payload события и есть сообщение очереди, без обёртки
func (e *JobRequested) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.job)
}
