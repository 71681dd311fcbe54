package routes

import (
	"accounts/internal/adapter/http/handler"
	"accounts/internal/adapter/http/middleware"
	"accounts/internal/core/telemetry"
	"accounts/pkg/auth"
	"accounts/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

const ServiceName = "accounts"

type HandlersConfig struct {
	AccountHandler *handler.AccountHandler
	Issuer         *auth.Issuer
}

func SetupRouterWithConfig(handlers HandlersConfig, metrics *telemetry.AppMetrics, logger *otelzap.Logger, cfg *config.AppConfig) *gin.Engine {
	if gin.Mode() == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Rate-limit keys come from ClientIP, so only configured proxies may set
	// the forwarded address.
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		logger.Warn("Invalid TRUSTED_PROXIES, trusting none", zap.Error(err))
		_ = router.SetTrustedProxies(nil)
	}

	middleware.SetupGinMiddleware(router, ServiceName, metrics, logger, cfg)

	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	var limiter gin.HandlerFunc
	if cfg.RateLimitEnabled {
		limiter = middleware.RateLimit(cfg, logger, metrics)
	}

	setupClientRoutes(router, handlers, limiter)

	return router
}

func setupClientRoutes(router *gin.Engine, handlers HandlersConfig, limiter gin.HandlerFunc) {
	if handlers.AccountHandler == nil {
		return
	}

	h := handlers.AccountHandler

	public := router.Group("/clients")
	if limiter != nil {
		public.Use(limiter)
	}
	{
		public.POST("", h.Register)
		public.POST("/login", h.Login)
		public.GET("/by-api-key/:apiKey", h.GetByAPIKey)
	}

	protected := router.Group("/clients")
	protected.Use(auth.GinJwtMiddleware(handlers.Issuer))
	protected.Use(middleware.BindAccount())
	if limiter != nil {
		protected.Use(limiter)
	}
	{
		protected.GET("", h.List)
		protected.GET("/:id", h.GetByID)
		protected.PUT("/:id", h.UpdateProfile)
		protected.PUT("/:id/usage", h.UpdateUsage)
		protected.PATCH("/:id/password", h.ChangePassword)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, X-Request-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func SetupRouterForTests(handlers HandlersConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	_ = router.SetTrustedProxies(nil)

	router.Use(gin.Recovery())
	router.Use(middleware.CurrentMiddleware())
	router.Use(corsMiddleware())

	setupClientRoutes(router, handlers, nil)

	return router
}
