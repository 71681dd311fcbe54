package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"accounts/internal/adapter/http/routes"
	"accounts/internal/core/port"
	"accounts/internal/core/telemetry"
	"accounts/pkg/config"

	"github.com/samber/oops"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// StartServer serves the API until ctx is cancelled, then drains in-flight
// requests before returning.
func StartServer(ctx context.Context, cfg *config.AppConfig, metrics *telemetry.AppMetrics, probe port.Telemetry, logger *otelzap.Logger) error {
	container, err := NewContainer(ctx, cfg, probe, logger)
	if err != nil {
		return err
	}
	defer container.Close()

	if cfg.FlushCacheOnStart {
		if err := container.AccountService.FlushAPIKeyCache(ctx); err != nil {
			logger.Warn("Failed to flush API key cache", zap.Error(err))
		} else {
			logger.Info("API key cache flushed")
		}
	}

	router := routes.SetupRouterWithConfig(routes.HandlersConfig{
		AccountHandler: container.AccountHandler,
		Issuer:         container.Issuer,
	}, metrics, logger, cfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	logger.Info("Server starting",
		zap.String("port", cfg.Port),
		zap.String("environment", cfg.Environment),
		zap.Bool("rate_limit_enabled", cfg.RateLimitEnabled),
		zap.Bool("https_enforced", cfg.EnforceHTTPS))

	errCh := make(chan error, 1)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return oops.Code("SERVER_FAILED").With("port", cfg.Port).Wrap(err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return oops.Code("SERVER_SHUTDOWN_FAILED").Wrap(err)
	}

	return nil
}
