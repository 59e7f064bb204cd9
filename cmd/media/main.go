package main

import (
	"context"
	"fmt"
	"os"

	"github.com/romariotrain/media-derivatives/internal/app"
	"github.com/romariotrain/media-derivatives/internal/config"
	"github.com/romariotrain/media-derivatives/internal/logging"
)

const serviceName = "media"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		Service: serviceName,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", serviceName, err)
		os.Exit(1)
	}

	code := app.Run(serviceName, logger, func(ctx context.Context) error {
		return run(ctx, cfg, logger)
	})
	os.Exit(code)
}
