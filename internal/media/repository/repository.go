package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/romariotrain/media-derivatives/internal/media/models"
)

type MediaRepository interface {
	Create(ctx context.Context, m *models.Media) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Media, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.Status) (*models.Media, error)
}

// ArtifactRepository stores rows that reference derivative files.
type ArtifactRepository interface {
	AddRendition(ctx context.Context, r *models.TranscodedRendition) error
	AddSegment(ctx context.Context, s *models.VideoSegment) error
	// DeleteVideoArtifacts drops every rendition and segment row of a media.
	DeleteVideoArtifacts(ctx context.Context, mediaID uuid.UUID) error
	// AddImageRendition reports false when a row for (media, resolution)
	// already existed; the existing row is kept.
	AddImageRendition(ctx context.Context, r *models.ImageRendition) (bool, error)
	AddSubtitle(ctx context.Context, s *models.Subtitle) error
	ListArtifacts(ctx context.Context, mediaID uuid.UUID) (models.Artifacts, error)
}

type MetadataRepository interface {
	UpsertVideoMetadata(ctx context.Context, m *models.VideoMetadata) error
	UpsertPdfMetadata(ctx context.Context, m *models.PdfMetadata) error
	UpsertImageMetadata(ctx context.Context, m *models.ImageMetadata) error
}

type JobRepository interface {
	// SaveJob inserts or replaces the row of (media, family).
	SaveJob(ctx context.Context, j *models.DerivativeJob) error
	GetJob(ctx context.Context, mediaID uuid.UUID, family models.Family) (*models.DerivativeJob, error)
	ListJobs(ctx context.Context, mediaID uuid.UUID) ([]models.DerivativeJob, error)
}

// OutboxRecord is an event waiting to be delivered to Topic.
type OutboxRecord struct {
	ID          int64     `db:"id"`
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	AggregateID string    `db:"aggregate_id"`
	Topic       string    `db:"topic"`
	Payload     []byte    `db:"payload"`
	OccurredAt  time.Time `db:"occurred_at"`
}

type OutboxRepository interface {
	AddEvent(ctx context.Context, topic string, event models.DomainEvent) error
	GetPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkProcessed(ctx context.Context, id int64) error
}

// Registry is the full artifact registry.
type Registry interface {
	MediaRepository
	ArtifactRepository
	MetadataRepository
	JobRepository
	OutboxRepository

	// InTx runs fn against a registry bound to one transaction. Any error
	// from fn rolls back every write made through tx.
	InTx(ctx context.Context, fn func(tx Registry) error) error

	// DeleteMediaCascade removes the media row with every derivative,
	// metadata, job and subtitle row in one transaction.
	DeleteMediaCascade(ctx context.Context, mediaID uuid.UUID) error
}
