package queue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/romariotrain/media-derivatives/internal/media/models"
	"github.com/romariotrain/media-derivatives/internal/metrics"
)

// Pool fetches from one Source and runs Handler on Workers goroutines.
type Pool struct {
	Family  models.Family
	Source  Source
	Handler Handler
	Workers int

	// RetryAttempts counts the first try; 1 disables retries.
	RetryAttempts int
	RetryBackoff  time.Duration
	ShouldRetry   func(error) bool
	DeadLetter    DeadLetter

	// DrainTimeout bounds how long in-flight jobs may run after ctx is done.
	DrainTimeout time.Duration

	Logger zerolog.Logger
}

// Run blocks until ctx is done and in-flight jobs have drained or were
// cancelled after DrainTimeout.
func (p *Pool) Run(ctx context.Context) error {
	workers := max(p.Workers, 1)
	logger := p.Logger.With().Str("component", "pool").Str("family", string(p.Family)).Logger()

	// jobs survive ctx until the drain deadline
	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()
	stopDrain := context.AfterFunc(ctx, func() {
		if p.DrainTimeout <= 0 {
			cancelJobs()
			return
		}
		time.AfterFunc(p.DrainTimeout, cancelJobs)
	})
	defer stopDrain()

	jobs := make(chan models.Job)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobs)
		for {
			job, err := p.Source.Fetch(gctx)
			if err != nil {
				if gctx.Err() != nil || errors.Is(err, ErrClosed) {
					return nil
				}
				logger.Error().Err(err).Msg("fetch job")
				select {
				case <-gctx.Done():
					return nil
				case <-time.After(time.Second):
				}
				continue
			}
			select {
			case jobs <- job:
			case <-gctx.Done():
				logger.Warn().Str("media_id", job.MediaID.String()).Msg("job fetched during shutdown not started")
				return nil
			}
		}
	})

	for range workers {
		g.Go(func() error {
			for job := range jobs {
				p.run(jobCtx, logger, job)
			}
			return nil
		})
	}

	logger.Info().Int("workers", workers).Msg("pool started")
	err := g.Wait()
	logger.Info().Msg("pool stopped")
	return err
}

func (p *Pool) run(ctx context.Context, logger zerolog.Logger, job models.Job) {
	attempts := max(p.RetryAttempts, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		job.Attempt = attempt
		err = p.Handler.Handle(ctx, job)
		if err == nil {
			return
		}
		if attempt == attempts || ctx.Err() != nil || (p.ShouldRetry != nil && !p.ShouldRetry(err)) {
			break
		}

		metrics.JobRetriesTotal.WithLabelValues(string(p.Family)).Inc()
		logger.Warn().Err(err).Str("media_id", job.MediaID.String()).Int("attempt", attempt).Msg("retrying job")
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.RetryBackoff * time.Duration(attempt)):
		}
	}

	if p.DeadLetter == nil || ctx.Err() != nil {
		return
	}
	if dlErr := p.DeadLetter.DeadLetter(ctx, job, err); dlErr != nil {
		logger.Error().Err(dlErr).Str("media_id", job.MediaID.String()).Msg("dead letter")
		return
	}
	metrics.DeadLettersTotal.WithLabelValues(string(p.Family)).Inc()
}
