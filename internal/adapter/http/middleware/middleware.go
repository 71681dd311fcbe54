package middleware

import (
	"strconv"
	"time"

	"accounts/internal/core/telemetry"
	"accounts/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

func MetricsMiddleware(metrics *telemetry.AppMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		metrics.RecordRequest(
			c.Request.Context(),
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
		)
	}
}

func SetupGinMiddleware(router *gin.Engine, serviceName string, metrics *telemetry.AppMetrics, logger *otelzap.Logger, cfg *config.AppConfig) {
	httpsEnforcer := config.NewHTTPSEnforcer(cfg, logger.Logger)
	router.Use(httpsEnforcer.HTTPSMiddleware())

	router.Use(otelgin.Middleware(serviceName))
	router.Use(CurrentMiddleware())
	router.Use(LoggingMiddleware(logger, serviceName))

	if metrics != nil {
		router.Use(MetricsMiddleware(metrics))
	}
}

// RateLimit is installed per group so that account-keyed rules see the id
// set by the JWT middleware.
func RateLimit(cfg *config.AppConfig, logger *otelzap.Logger, metrics *telemetry.AppMetrics) gin.HandlerFunc {
	var recorder config.RateLimitRecorder
	if metrics != nil {
		recorder = metrics
	}

	limiter := config.NewRateLimiter(logger.Logger, recorder)
	limiter.Apply(cfg.RateLimitConfigs)

	return limiter.RateLimitMiddleware()
}
