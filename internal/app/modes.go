package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"karavan/pkg/logging"
)

// runServer starts the services, serves the HTTP API and blocks until ctx
// is cancelled or SIGINT/SIGTERM arrives, then shuts everything down.
//
// Signal Handling:
//   - SIGINT (Ctrl+C): Triggers graceful shutdown
//   - SIGTERM: Triggers graceful shutdown (common in container environments)
func runServer(ctx context.Context, config *Config, services *Services) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := services.Start(ctx); err != nil {
		logging.Error("CLI", err, "Failed to start services")
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- services.Server.Listen(config.KaravanConfig.Server.Address)
	}()

	logging.Info("CLI", "Services started. Press Ctrl+C to stop all services and exit.")

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if err != nil {
			logging.Error("CLI", err, "HTTP server failed")
		}
	}

	logging.Info("CLI", "--- Shutting down services ---")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	services.Stop(shutdownCtx)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
