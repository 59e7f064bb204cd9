package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/queue"
	"github.com/romariotrain/media-derivatives/internal/media/repository"
	"github.com/romariotrain/media-derivatives/internal/metrics"
)

type sent struct {
	topic string
	key   string
	value []byte
}

type fakeSink struct {
	mu     sync.Mutex
	sent   []sent
	failOn string
}

func (s *fakeSink) PublishTo(_ context.Context, topic, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if topic == s.failOn {
		return errors.New("leader not available")
	}
	s.sent = append(s.sent, sent{topic: topic, key: key, value: value})
	return nil
}

func newPublisher(t *testing.T, repo repository.OutboxRepository, sink Sink) *Publisher {
	t.Helper()
	p, err := NewPublisher(PublisherConfig{
		OutboxRepo:   repo,
		Sink:         sink,
		DefaultTopic: "media.events",
		Interval:     10 * time.Millisecond,
		BatchSize:    10,
		Logger:       zerolog.Nop(),
	})
	require.NoError(t, err)
	return p
}

func TestNewPublisher_Validation(t *testing.T) {
	repo := repository.NewMemoryRepository()
	sink := &fakeSink{}

	tests := []struct {
		name    string
		cfg     PublisherConfig
		wantErr string
	}{
		{"no repo", PublisherConfig{Sink: sink, Interval: time.Second, BatchSize: 1}, "outbox repository is required"},
		{"no sink", PublisherConfig{OutboxRepo: repo, Interval: time.Second, BatchSize: 1}, "sink is required"},
		{"zero interval", PublisherConfig{OutboxRepo: repo, Sink: sink, BatchSize: 1}, "interval must be positive"},
		{"zero batch", PublisherConfig{OutboxRepo: repo, Sink: sink, Interval: time.Second}, "batch size must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPublisher(tt.cfg)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestPublisher_RoutesByTopic(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	sink := &fakeSink{}
	p := newPublisher(t, repo, sink)

	mediaID := uuid.New()
	require.NoError(t, repo.AddEvent(ctx, "media.jobs.video_transcode",
		models.NewJobRequested(models.Job{MediaID: mediaID, Family: models.FamilyTranscode})))
	require.NoError(t, repo.AddEvent(ctx, "",
		models.NewMediaStatusChanged(mediaID, models.UploadedStatus, models.ProcessingStatus)))

	before := testutil.ToFloat64(metrics.OutboxPublishedTotal.WithLabelValues("media.jobs.video_transcode"))

	n, err := p.publishBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, sink.sent, 2)
	assert.Equal(t, "media.jobs.video_transcode", sink.sent[0].topic)
	assert.Equal(t, mediaID.String(), sink.sent[0].key)
	assert.Equal(t, "media.events", sink.sent[1].topic)

	job, err := models.DecodeJob(sink.sent[0].value)
	require.NoError(t, err)
	assert.Equal(t, models.FamilyTranscode, job.Family)

	pending, err := repo.GetPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	after := testutil.ToFloat64(metrics.OutboxPublishedTotal.WithLabelValues("media.jobs.video_transcode"))
	assert.Equal(t, before+1, after)
}

func TestPublisher_FailedRecordStaysPending(t *testing.T) {
	ctx := context.Background()
	repo := repository.NewMemoryRepository()
	sink := &fakeSink{failOn: "media.jobs.pdf_preview"}
	p := newPublisher(t, repo, sink)

	mediaID := uuid.New()
	require.NoError(t, repo.AddEvent(ctx, "media.jobs.pdf_preview",
		models.NewJobRequested(models.Job{MediaID: mediaID, Family: models.FamilyPdfPreview})))

	n, err := p.publishBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	pending, err := repo.GetPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	sink.failOn = ""
	n, err = p.publishBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPublisher_StartFeedsMemoryQueue(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := repository.NewMemoryRepository()
	q := queue.NewMemoryQueue(4)
	p := newPublisher(t, repo, q)

	mediaID := uuid.New()
	require.NoError(t, repo.AddEvent(ctx, "media.jobs.image_resolutions",
		models.NewJobRequested(models.Job{MediaID: mediaID, Family: models.FamilyImageResolutions})))

	done := make(chan error, 1)
	go func() { done <- p.Start(ctx) }()

	fetchCtx, fetchCancel := context.WithTimeout(ctx, 2*time.Second)
	defer fetchCancel()
	job, err := q.Fetch(fetchCtx)
	require.NoError(t, err)
	assert.Equal(t, mediaID, job.MediaID)
	assert.Equal(t, models.FamilyImageResolutions, job.Family)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
