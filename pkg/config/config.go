package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/samber/oops"
)

type AppConfig struct {
	Port        string `env:"PORT" envDefault:"8080"`
	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	DatabaseDriver string `env:"DATABASE_DRIVER" envDefault:"sqlite"`
	DatabasePath   string `env:"DATABASE_PATH" envDefault:"accounts.db"`
	DatabaseURL    string `env:"DATABASE_URL"`

	JWTSecret       string        `env:"JWT_SECRET"`
	TokenTTL        time.Duration `env:"TOKEN_TTL" envDefault:"5m"`
	PasswordCost    int           `env:"PASSWORD_COST" envDefault:"10"`
	CursorSecretKey string        `env:"CURSOR_SECRET_KEY"`

	CacheDriver    string        `env:"CACHE_DRIVER" envDefault:"memory"`
	RedisAddr      string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	APIKeyCacheTTL time.Duration `env:"API_KEY_CACHE_TTL" envDefault:"30s"`
	// FlushCacheOnStart drops cached API-key views before serving, e.g. after
	// a deploy that changes the view shape in a shared Redis.
	FlushCacheOnStart bool `env:"FLUSH_CACHE_ON_START" envDefault:"false"`

	OTLPEndpoint string `env:"OTLP_ENDPOINT"`

	RateLimitEnabled bool `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	RateLimitConfigs map[string]RateLimitConfig

	EnforceHTTPS bool `env:"ENFORCE_HTTPS" envDefault:"false"`

	// TrustedProxies lists the proxy addresses or CIDRs whose forwarding
	// headers are honoured. Empty means the peer address is the client.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Load reads AppConfig from the environment. Secrets are not defaulted; the
// caller decides whether a missing one is fatal.
func Load() (*AppConfig, error) {
	cfg := GetDefaultConfig()

	if err := env.Parse(cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}

	return cfg, nil
}

func GetDefaultConfig() *AppConfig {
	return &AppConfig{
		Port:           "8080",
		MetricsPort:    "9090",
		Environment:    "development",
		LogLevel:       "info",
		DatabaseDriver: "sqlite",
		DatabasePath:   "accounts.db",
		TokenTTL:       5 * time.Minute,
		PasswordCost:   10,
		CacheDriver:    "memory",
		RedisAddr:      "localhost:6379",
		APIKeyCacheTTL: 30 * time.Second,

		RateLimitEnabled: true,
		RateLimitConfigs: map[string]RateLimitConfig{
			"POST /clients":       {Requests: 5, Window: time.Minute},
			"POST /clients/login": {Requests: 10, Window: time.Minute},
			"GET /clients/by-api-key/:apiKey": {
				Requests: 300,
				Window:   time.Minute,
			},
		},
		EnforceHTTPS: false,
	}
}

func (c *AppConfig) IsProduction() bool {
	return c.Environment == "production"
}
