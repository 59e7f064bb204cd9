package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/romariotrain/media-derivatives/internal/app"
	"github.com/romariotrain/media-derivatives/internal/config"
	"github.com/romariotrain/media-derivatives/internal/media/cleanup"
	"github.com/romariotrain/media-derivatives/internal/media/httpapi"
	"github.com/romariotrain/media-derivatives/internal/media/paths"
	"github.com/romariotrain/media-derivatives/internal/media/service"
	"github.com/romariotrain/media-derivatives/internal/storage/sqlstore"
)

func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	db, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()

	// Dependencies
	store := sqlstore.New(db)
	resolver := paths.New(cfg.Storage.Root, cfg.Storage.PublicBaseURL)
	svc := service.New(store, resolver, cfg.Kafka)
	orch := cleanup.New(store, svc, resolver, logger)
	router := httpapi.NewRouter(httpapi.New(svc, orch, resolver, logger))

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info().Str("addr", srv.Addr).Msg("http api listening")
	return app.Serve(ctx, srv)
}
