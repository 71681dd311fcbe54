package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"accounts/internal/adapter/database/postgres"
	"accounts/internal/adapter/database/sqlite"
	server "accounts/internal/adapter/http"
	"accounts/internal/adapter/telemetry"
	"accounts/pkg/auth"
	"accounts/pkg/config"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	serviceName    = "accounts"
	serviceVersion = "1.0.0"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Client account service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(newServeCommand(), newMigrateCommand(), newGenKeyCommand())

	return root
}

func newServeCommand() *cobra.Command {
	var flushCache bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("flush-cache") {
				cfg.FlushCacheOnStart = flushCache
			}

			logger, err := config.NewLogger(serviceName, cfg.LogLevel)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tel, err := telemetry.NewContainer(ctx, telemetry.Config{
				ServiceName:    serviceName,
				ServiceVersion: serviceVersion,
				Environment:    cfg.Environment,
				MetricsPort:    cfg.MetricsPort,
				OTLPEndpoint:   cfg.OTLPEndpoint,
			}, logger)
			if err != nil {
				logger.Error("Failed to initialize telemetry", zap.Error(err))
				return err
			}

			defer func() {
				if err := tel.Shutdown(context.Background()); err != nil {
					logger.Error("Telemetry shutdown failed", zap.Error(err))
				}
			}()

			tel.AppMetrics.StartSystemMetrics(ctx)

			if err := server.StartServer(ctx, cfg, tel.AppMetrics, tel.NewTelemetryProbe(logger), logger); err != nil {
				logger.Error("Server stopped with error", zap.Error(err))
				return err
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&flushCache, "flush-cache", false, "drop cached API key views before serving")

	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			switch cfg.DatabaseDriver {
			case "postgres":
				if cfg.DatabaseURL == "" {
					return oops.Code("DATABASE_URL_MISSING").Errorf("DATABASE_URL is not set")
				}
				err = postgres.RunMigrations(cfg.DatabaseURL)
			case "sqlite", "":
				// Opening the database applies pending migrations.
				var db *sqlite.DB
				db, err = sqlite.NewDB(sqlite.Options{Path: cfg.DatabasePath, LogLevel: cfg.LogLevel})
				if err == nil {
					db.Close()
				}
			default:
				err = oops.Code("DATABASE_DRIVER_UNKNOWN").Errorf("unknown database driver %q", cfg.DatabaseDriver)
			}

			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", cfg.DatabaseDriver)
			return nil
		},
	}
}

func newGenKeyCommand() *cobra.Command {
	var size int

	cmd := &cobra.Command{
		Use:   "gen-key",
		Short: "Print a random secret suitable for JWT_SECRET or CURSOR_SECRET_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			if size < auth.MinSecretBytes {
				return oops.Code("KEY_TOO_SHORT").Errorf("key size must be at least %d bytes", auth.MinSecretBytes)
			}

			key := make([]byte, size)
			if _, err := rand.Read(key); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(key))
			return nil
		},
	}

	cmd.Flags().IntVar(&size, "bytes", auth.MinSecretBytes, "number of random bytes")

	return cmd
}
