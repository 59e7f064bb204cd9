// Package queue runs one family's jobs on a fixed pool of workers.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/romariotrain/media-derivatives/internal/media/models"
)

// ErrClosed is returned by Fetch once the source has been closed.
var ErrClosed = errors.New("queue closed")

// Source delivers jobs. Fetch blocks until a job arrives, ctx is done or
// the source is closed.
type Source interface {
	Fetch(ctx context.Context) (models.Job, error)
	Close() error
}

type Handler interface {
	Handle(ctx context.Context, job models.Job) error
}

type HandlerFunc func(ctx context.Context, job models.Job) error

func (f HandlerFunc) Handle(ctx context.Context, job models.Job) error { return f(ctx, job) }

// DeadLetter receives jobs that failed every attempt.
type DeadLetter interface {
	DeadLetter(ctx context.Context, job models.Job, cause error) error
}

// MemoryQueue is an in-process Source for tests and single-binary runs.
type MemoryQueue struct {
	jobs      chan models.Job
	closeOnce sync.Once
	done      chan struct{}
}

func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{
		jobs: make(chan models.Job, size),
		done: make(chan struct{}),
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, job models.Job) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.jobs <- job:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PublishTo lets MemoryQueue stand in for the broker behind the outbox.
func (q *MemoryQueue) PublishTo(ctx context.Context, _, _ string, value []byte) error {
	job, err := models.DecodeJob(value)
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, job)
}

func (q *MemoryQueue) Fetch(ctx context.Context) (models.Job, error) {
	select {
	case job := <-q.jobs:
		return job, nil
	case <-q.done:
		return models.Job{}, ErrClosed
	case <-ctx.Done():
		return models.Job{}, ctx.Err()
	}
}

func (q *MemoryQueue) Len() int { return len(q.jobs) }

func (q *MemoryQueue) Close() error {
	q.closeOnce.Do(func() { close(q.done) })
	return nil
}
