package http

import (
	"context"
	"io"

	"accounts/internal/adapter/cache/memory"
	"accounts/internal/adapter/cache/redis"
	"accounts/internal/adapter/database/postgres"
	pgrepository "accounts/internal/adapter/database/postgres/repository"
	"accounts/internal/adapter/database/sqlite"
	sqliterepository "accounts/internal/adapter/database/sqlite/repository"
	"accounts/internal/adapter/http/handler"
	"accounts/internal/core/port"
	"accounts/internal/core/service"
	"accounts/internal/core/util"
	"accounts/pkg/auth"
	"accounts/pkg/config"
	"accounts/pkg/db/cursor"

	"github.com/samber/oops"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

type Container struct {
	AccountRepo    port.AccountRepository
	Cache          port.CacheRepository
	Issuer         *auth.Issuer
	AccountService *service.AccountService
	AccountHandler *handler.AccountHandler

	closers []func()
}

func NewContainer(ctx context.Context, cfg *config.AppConfig, probe port.Telemetry, logger *otelzap.Logger) (*Container, error) {
	c := &Container{}

	issuer, err := auth.NewIssuer([]byte(cfg.JWTSecret), cfg.TokenTTL)
	if err != nil {
		return nil, oops.Code("JWT_SECRET_INVALID").Wrap(err)
	}
	c.Issuer = issuer

	cursorSecret := cfg.CursorSecretKey
	if cursorSecret == "" {
		logger.Warn("CURSOR_SECRET_KEY is not set, signing cursors with JWT_SECRET")
		cursorSecret = cfg.JWTSecret
	}

	repo, err := c.openRepository(ctx, cfg, probe, logger)
	if err != nil {
		return nil, err
	}
	c.AccountRepo = repo

	cache, err := c.openCache(ctx, cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Cache = cache

	svc, err := service.NewAccountService(service.AccountServiceDeps{
		Repo:      repo,
		Hasher:    util.NewBcryptHasher(cfg.PasswordCost),
		Keys:      util.NewAPIKeyGenerator(),
		Tokens:    issuer,
		Cursors:   cursor.NewCodec([]byte(cursorSecret)),
		Cache:     cache,
		CacheTTL:  cfg.APIKeyCacheTTL,
		Telemetry: probe,
	})
	if err != nil {
		c.Close()
		return nil, err
	}

	c.AccountService = svc
	c.AccountHandler = handler.NewAccountHandler(svc, logger)

	logger.Info("Container ready",
		zap.String("database_driver", cfg.DatabaseDriver),
		zap.String("cache_driver", cfg.CacheDriver))

	return c, nil
}

func (c *Container) openRepository(ctx context.Context, cfg *config.AppConfig, probe port.Telemetry, logger *otelzap.Logger) (port.AccountRepository, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		db, err := postgres.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, db.Close)

		return pgrepository.NewAccountRepository(db, probe), nil
	case "sqlite", "":
		var sqlLog io.Writer
		if cfg.LogLevel != "debug" {
			sqlLog = io.Discard
		}

		db, err := sqlite.NewDB(sqlite.Options{
			Path:     cfg.DatabasePath,
			LogLevel: cfg.LogLevel,
			LogOut:   sqlLog,
		})
		if err != nil {
			return nil, err
		}
		c.closers = append(c.closers, func() { db.Close() })

		return sqliterepository.NewAccountRepository(db, probe), nil
	default:
		return nil, oops.Code("DATABASE_DRIVER_UNKNOWN").With("driver", cfg.DatabaseDriver).Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
}

func (c *Container) openCache(ctx context.Context, cfg *config.AppConfig) (port.CacheRepository, error) {
	var (
		cache port.CacheRepository
		err   error
	)

	switch cfg.CacheDriver {
	case "redis":
		cache, err = redis.NewRedisRepository(ctx, cfg.RedisAddr)
	case "memory", "":
		cache = memory.NewMemoryRepository(cfg.APIKeyCacheTTL)
	case "none":
		return nil, nil
	default:
		err = oops.Code("CACHE_DRIVER_UNKNOWN").With("driver", cfg.CacheDriver).Errorf("unknown cache driver %q", cfg.CacheDriver)
	}

	if err != nil {
		return nil, err
	}

	c.closers = append(c.closers, func() { cache.Close() })

	return cache, nil
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
