package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/upb/waf-gateway/app"
	"github.com/upb/waf-gateway/config"
	"github.com/upb/waf-gateway/internal/observability"
	"github.com/upb/waf-gateway/routes"
	"go.uber.org/zap"
)

func main() {
	logger, err := initLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(logger); err != nil {
		logger.Error("waf gateway exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

// run loads configuration and serves until a shutdown signal arrives. The
// bootstrap logger only reports failures that happen before the configured
// logger exists.
func run(bootstrap *zap.Logger) error {
	ctx := context.Background()

	cfg, err := config.New(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := configuredLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	_ = bootstrap.Sync()

	logger.Info("starting waf gateway",
		zap.String("version", app.Version),
		zap.String("environment", cfg.Environment),
		zap.String("address", cfg.Server.Address()))

	deps, err := app.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}

	handler, err := routes.SetupRoutes(deps)
	if err != nil {
		_ = deps.Close(ctx)
		return fmt.Errorf("failed to set up routes: %w", err)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		runErr = fmt.Errorf("server error: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	if err := deps.Close(shutdownCtx); err != nil {
		logger.Error("failed to close dependencies", zap.Error(err))
	}

	logger.Info("waf gateway stopped")
	return runErr
}

// initLogger builds the bootstrap logger from LOG_LEVEL and LOG_FORMAT in the
// process environment, before any .env file has been loaded.
func initLogger() (*zap.Logger, error) {
	return observability.NewLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

// configuredLogger builds the serving logger from the loaded configuration
func configuredLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to configure logger: %w", err)
	}
	return logger.With(zap.String("environment", cfg.Environment)), nil
}
