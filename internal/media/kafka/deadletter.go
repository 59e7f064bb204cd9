package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/romariotrain/media-derivatives/internal/media/models"
)

// DeadLetterWriter publishes jobs that exhausted their attempts.
type DeadLetterWriter struct {
	producer *Producer
	topic    string
}

func NewDeadLetterWriter(p *Producer, topic string) *DeadLetterWriter {
	return &DeadLetterWriter{producer: p, topic: topic}
}

type deadLetter struct {
	Job      models.Job `json:"job"`
	Error    string     `json:"error"`
	FailedAt time.Time  `json:"failed_at"`
}

func (w *DeadLetterWriter) DeadLetter(ctx context.Context, job models.Job, cause error) error {
	dl := deadLetter{Job: job, FailedAt: time.Now().UTC()}
	if cause != nil {
		dl.Error = cause.Error()
	}
	payload, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	return w.producer.PublishTo(ctx, w.topic, job.MediaID.String(), payload)
}
