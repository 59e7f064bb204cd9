// Package app runs a service process until SIGINT/SIGTERM.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

type Runner func(ctx context.Context) error

// Run cancels the runner's context on a signal and waits for it to return,
// so workers can drain. The result is the process exit code.
func Run(serviceName string, logger zerolog.Logger, run Runner) int {
	logger.Info().Str("service", serviceName).Msg("starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- run(ctx) }()

	var err error
	select {
	case err = <-errCh:
	case <-ctx.Done():
		logger.Info().Str("service", serviceName).Msg("shutting down")
		err = <-errCh
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Str("service", serviceName).Msg("failed")
		return 1
	}
	logger.Info().Str("service", serviceName).Msg("stopped")
	return 0
}

// Serve runs srv until ctx is done, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown %s: %w", srv.Addr, err)
		}
		return nil

	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen and serve %s: %w", srv.Addr, err)
	}
}
