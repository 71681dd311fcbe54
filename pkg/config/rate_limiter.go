package config

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	. "accounts/pkg"
	"accounts/pkg/auth"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

type RateLimitRecorder interface {
	RecordRateLimitHit(ctx context.Context, path, keyType string)
	RecordRateLimitAllowed(ctx context.Context, path, keyType string)
}

type RateLimitEndpointConfig struct {
	Requests int
	Window   time.Duration
	KeyFunc  func(*gin.Context) string
}

type RateLimiter struct {
	cache   *cache.Cache
	config  map[string]RateLimitEndpointConfig
	logger  *zap.Logger
	metrics RateLimitRecorder
	mutex   sync.RWMutex
}

type RateLimitEntry struct {
	Count     int
	ResetTime time.Time
}

func NewRateLimiter(logger *zap.Logger, metrics RateLimitRecorder) *RateLimiter {
	c := cache.New(5*time.Minute, 10*time.Minute)

	configs := map[string]RateLimitEndpointConfig{
		"POST /clients": {
			Requests: 5,
			Window:   time.Minute,
			KeyFunc:  GetClientIP,
		},
		"POST /clients/login": {
			Requests: 10,
			Window:   time.Minute,
			KeyFunc:  GetClientIP,
		},
		"GET /clients/by-api-key/:apiKey": {
			Requests: 300,
			Window:   time.Minute,
			KeyFunc:  GetClientIP,
		},
		"GET /clients": {
			Requests: 100,
			Window:   time.Minute,
			KeyFunc:  getAccountID,
		},
		"PUT /clients/:id": {
			Requests: 20,
			Window:   time.Minute,
			KeyFunc:  getAccountID,
		},
		"PUT /clients/:id/usage": {
			Requests: 600,
			Window:   time.Minute,
			KeyFunc:  getAccountID,
		},
		"PATCH /clients/:id/password": {
			Requests: 5,
			Window:   time.Minute,
			KeyFunc:  getAccountID,
		},
		"default": {
			Requests: 60,
			Window:   time.Minute,
			KeyFunc:  GetClientIP,
		},
	}

	return &RateLimiter{
		cache:   c,
		config:  configs,
		logger:  logger,
		metrics: metrics,
	}
}

// Apply overrides the limits of the given "METHOD /path" keys, keeping each
// endpoint's key function.
func (rl *RateLimiter) Apply(overrides map[string]RateLimitConfig) {
	for path, o := range overrides {
		rl.mutex.RLock()
		current, exists := rl.config[path]
		rl.mutex.RUnlock()

		if !exists {
			current.KeyFunc = GetClientIP
		}

		current.Requests = o.Requests
		current.Window = o.Window
		rl.SetConfig(path, current)
	}
}

func (rl *RateLimiter) RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		normalizedPath := rl.normalizePath(path)
		methodPath := c.Request.Method + " " + normalizedPath

		rl.mutex.RLock()
		config, exists := rl.config[methodPath]
		if !exists {
			config, exists = rl.config[normalizedPath]
			if !exists {
				config = rl.config["default"]
			}
		}
		rl.mutex.RUnlock()

		key := rl.generateKey(c, methodPath, config.KeyFunc)

		rl.logger.Debug("Rate limit check",
			zap.String("method_path", methodPath),
			zap.String("key", key),
			zap.Int("limit", config.Requests),
			zap.Duration("window", config.Window))

		allowed, remaining, resetTime := rl.checkRateLimit(key, config)

		keyType := "ip"
		if strings.Contains(key, "account_") {
			keyType = "account"
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(config.Requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(resetTime.Unix(), 10))

		if !allowed {
			if rl.metrics != nil {
				rl.metrics.RecordRateLimitHit(c.Request.Context(), normalizedPath, keyType)
			}

			rl.logger.Warn("Rate limit exceeded",
				zap.String("key", key),
				zap.String("path", normalizedPath),
				zap.Int("limit", config.Requests),
				zap.Duration("window", config.Window))

			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": gin.H{
					"code": "RATE_LIMITED",
					"errors": []gin.H{{
						"field":   "request",
						"message": fmt.Sprintf("Too many requests. Limit: %d per %v", config.Requests, config.Window),
					}},
				},
				"retry_after": int(time.Until(resetTime).Seconds()),
			})
			return
		}

		if rl.metrics != nil {
			rl.metrics.RecordRateLimitAllowed(c.Request.Context(), normalizedPath, keyType)
		}

		c.Next()
	}
}

func (rl *RateLimiter) checkRateLimit(key string, config RateLimitEndpointConfig) (bool, int, time.Time) {
	now := time.Now()

	rl.mutex.Lock()
	defer rl.mutex.Unlock()

	if entry, found := rl.cache.Get(key); found {
		rateLimitEntry := entry.(RateLimitEntry)

		if now.After(rateLimitEntry.ResetTime) {
			resetTime := now.Add(config.Window)
			rl.cache.Set(key, RateLimitEntry{Count: 1, ResetTime: resetTime}, config.Window)
			return true, config.Requests - 1, resetTime
		}

		if rateLimitEntry.Count >= config.Requests {
			return false, 0, rateLimitEntry.ResetTime
		}

		rateLimitEntry.Count++
		rl.cache.Set(key, rateLimitEntry, time.Until(rateLimitEntry.ResetTime))

		return true, config.Requests - rateLimitEntry.Count, rateLimitEntry.ResetTime
	}

	resetTime := now.Add(config.Window)
	rl.cache.Set(key, RateLimitEntry{Count: 1, ResetTime: resetTime}, config.Window)

	return true, config.Requests - 1, resetTime
}

// normalizePath maps concrete /clients paths onto their route pattern for
// requests that did not match a route.
func (rl *RateLimiter) normalizePath(path string) string {
	if !strings.HasPrefix(path, "/clients/") {
		return path
	}

	parts := strings.Split(path, "/")

	switch {
	case len(parts) == 4 && parts[2] == "by-api-key":
		parts[3] = ":apiKey"
	case len(parts) >= 3 && parts[2] != "login" && parts[2] != "by-api-key" && !strings.HasPrefix(parts[2], ":"):
		parts[2] = ":id"
	}

	return strings.Join(parts, "/")
}

func (rl *RateLimiter) generateKey(c *gin.Context, path string, keyFunc func(*gin.Context) string) string {
	return fmt.Sprintf("rate_limit:%s:%s", path, keyFunc(c))
}

func getAccountID(c *gin.Context) string {
	if accountID, exists := c.Get(auth.AccountIDKey); exists {
		return fmt.Sprintf("account_%v", accountID)
	}
	return GetClientIP(c)
}

func (rl *RateLimiter) SetConfig(path string, config RateLimitEndpointConfig) {
	rl.mutex.Lock()
	defer rl.mutex.Unlock()
	rl.config[path] = config
}

func (rl *RateLimiter) GetStats() map[string]any {
	rl.mutex.RLock()
	defer rl.mutex.RUnlock()

	return map[string]any{
		"active_entries": rl.cache.ItemCount(),
		"configs":        len(rl.config),
	}
}
