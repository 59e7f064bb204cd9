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
	"github.com/romariotrain/media-derivatives/internal/media/consumer"
	"github.com/romariotrain/media-derivatives/internal/media/kafka"
	"github.com/romariotrain/media-derivatives/internal/media/paths"
	"github.com/romariotrain/media-derivatives/internal/media/probe"
	"github.com/romariotrain/media-derivatives/internal/media/process"
	"github.com/romariotrain/media-derivatives/internal/media/queue"
	"github.com/romariotrain/media-derivatives/internal/media/service"
	"github.com/romariotrain/media-derivatives/internal/metrics"
	"github.com/romariotrain/media-derivatives/internal/storage/sqlstore"
)

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	db, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()

	for _, st := range process.CheckTools(cfg.Tools.Binaries()) {
		if !st.Available {
			logger.Warn().Str("tool", st.Command).Str("detail", st.Detail).Msg("tool unavailable, its jobs will fail")
		}
	}

	store := sqlstore.New(db)
	resolver := paths.New(cfg.Storage.Root, cfg.Storage.PublicBaseURL)
	runner := process.NewExec(process.ExecConfig{Timeout: cfg.Tools.Timeout(), Logger: logger})
	svc := service.New(store, resolver, cfg.Kafka)

	deps := consumer.Deps{
		Registry:   store,
		Paths:      resolver,
		Runner:     runner,
		Prober:     probe.New(runner, cfg.Tools.FFprobe, cfg.Tools.Pdfinfo),
		Tools:      cfg.Tools,
		ScratchDir: cfg.Storage.ScratchDir,
		Logger:     logger,
	}
	handlers := []consumer.Handler{
		consumer.NewVideoTranscode(deps),
		consumer.NewThumbnail(deps),
		consumer.NewImageResolutions(deps),
		consumer.NewPdfPreview(deps),
	}

	var deadLetter queue.DeadLetter
	if cfg.Kafka.DeadLetterTopic != "" {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.DeadLetterTopic,
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		defer producer.Close()
		deadLetter = kafka.NewDeadLetterWriter(producer, cfg.Kafka.DeadLetterTopic)
	}

	metricsSrv := &http.Server{
		Addr:              cfg.HTTP.MetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.Serve(gctx, metricsSrv) })

	for _, h := range handlers {
		family := h.Family()
		source, err := kafka.NewJobSource(kafka.SourceConfig{
			Brokers: cfg.Kafka.Brokers,
			GroupID: cfg.Kafka.GroupID,
			Topic:   cfg.Kafka.Topics.For(family),
			Family:  family,
			Logger:  logger,
		})
		if err != nil {
			return fmt.Errorf("job source %s: %w", family, err)
		}
		defer source.Close()

		pool := &queue.Pool{
			Family:        family,
			Source:        source,
			Handler:       consumer.NewJobRunner(h, svc, logger),
			Workers:       cfg.Workers.For(family),
			RetryAttempts: cfg.Workers.RetryAttempts,
			RetryBackoff:  cfg.Workers.RetryBackoff(),
			ShouldRetry:   consumer.Retriable,
			DeadLetter:    deadLetter,
			DrainTimeout:  cfg.Workers.DrainTimeout(),
			Logger:        logger,
		}
		g.Go(func() error { return pool.Run(gctx) })
	}

	logger.Info().Str("metrics_addr", cfg.HTTP.MetricsAddr).Msg("processing started")
	return g.Wait()
}
