package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/media/queue"
)

type SourceConfig struct {
	Brokers []string
	GroupID string
	Topic   string
	Family  models.Family
	Logger  zerolog.Logger
}

// JobSource reads the topic of one family as a consumer group member.
// Offsets are committed before the job is handed out, so a crash mid-job
// loses that job: at-most-once delivery.
type JobSource struct {
	reader *kafkago.Reader
	family models.Family
	logger zerolog.Logger
}

var _ queue.Source = (*JobSource)(nil)

func NewJobSource(cfg SourceConfig) (*JobSource, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("brokers list is empty")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is empty")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("group id is empty")
	}

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID + "." + string(cfg.Family),
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		MaxWait:        time.Second,
		StartOffset:    kafkago.FirstOffset,
		CommitInterval: 0,
	})

	return &JobSource{
		reader: reader,
		family: cfg.Family,
		logger: cfg.Logger.With().Str("component", "job_source").Str("topic", cfg.Topic).Logger(),
	}, nil
}

func (s *JobSource) Fetch(ctx context.Context) (models.Job, error) {
	for {
		msg, err := s.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return models.Job{}, queue.ErrClosed
			}
			return models.Job{}, fmt.Errorf("fetch message: %w", err)
		}

		if err := s.reader.CommitMessages(ctx, msg); err != nil {
			return models.Job{}, fmt.Errorf("commit offset: %w", err)
		}

		job, err := models.DecodeJob(msg.Value)
		if err != nil {
			s.logger.Error().
				Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("dropping undecodable job")
			continue
		}
		if job.Family == "" {
			job.Family = s.family
		}
		return job, nil
	}
}

func (s *JobSource) Close() error {
	return s.reader.Close()
}
