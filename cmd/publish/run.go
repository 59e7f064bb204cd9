package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/romariotrain/media-derivatives/internal/app"
	"github.com/romariotrain/media-derivatives/internal/config"
	"github.com/romariotrain/media-derivatives/internal/media/kafka"
	"github.com/romariotrain/media-derivatives/internal/media/outbox"
	"github.com/romariotrain/media-derivatives/internal/metrics"
	"github.com/romariotrain/media-derivatives/internal/storage/sqlstore"
)

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	db, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()

	producer, err := kafka.NewProducer(kafka.ProducerConfig{
		Brokers: cfg.Kafka.Brokers,
		Topic:   cfg.Kafka.EventsTopic,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	defer producer.Close()

	if err := producer.HealthCheck(ctx); err != nil {
		logger.Warn().Err(err).Msg("kafka not reachable yet, publisher will keep retrying")
	}

	publisher, err := outbox.NewPublisher(outbox.PublisherConfig{
		OutboxRepo:   sqlstore.NewOutboxRepo(db),
		Sink:         producer,
		DefaultTopic: cfg.Kafka.EventsTopic,
		Interval:     cfg.Outbox.Interval(),
		BatchSize:    cfg.Outbox.BatchSize,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	metricsSrv := &http.Server{
		Addr:              cfg.HTTP.MetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.Serve(gctx, metricsSrv) })
	g.Go(func() error { return publisher.Start(gctx) })

	err = g.Wait()
	m := producer.GetMetrics()
	logger.Info().
		Int64("published", m.MessagesPublished).
		Int64("failed", m.MessagesFailed).
		Int64("retries", m.RetriesTotal).
		Dur("avg_publish_time", m.AvgPublishTime).
		Msg("producer totals")
	return err
}
