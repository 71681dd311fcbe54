package routes_test

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "accounts/pkg/test"

	"accounts/internal/adapter/database/sqlite/repository"
	"accounts/internal/adapter/http/handler"
	"accounts/internal/adapter/http/routes"
	"accounts/internal/core/service"
	"accounts/internal/core/telemetry"
	"accounts/internal/core/util"
	"accounts/pkg/auth"
	"accounts/pkg/config"
	"accounts/pkg/db/cursor"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newRouter(t *testing.T, cfg *config.AppConfig) *gin.Engine {
	gin.SetMode(gin.TestMode)

	db := InitTestDB(t)
	probe := telemetry.NewNoOpProbe()

	issuer, err := auth.NewIssuer([]byte(strings.Repeat("r", auth.MinSecretBytes)), auth.DefaultTokenTTL)
	require.NoError(t, err)

	svc, err := service.NewAccountService(service.AccountServiceDeps{
		Repo:      repository.NewAccountRepository(db, probe),
		Hasher:    util.NewBcryptHasher(bcrypt.MinCost),
		Keys:      util.NewAPIKeyGenerator(),
		Tokens:    issuer,
		Cursors:   cursor.NewCodec([]byte("cursor-secret")),
		Telemetry: probe,
	})
	require.NoError(t, err)

	logger := config.NewNopLogger()

	return routes.SetupRouterWithConfig(routes.HandlersConfig{
		AccountHandler: handler.NewAccountHandler(svc, logger),
		Issuer:         issuer,
	}, nil, logger, cfg)
}

func login(router *gin.Engine, remoteAddr, forwardedFor string) int {
	req := httptest.NewRequest(http.MethodPost, "/clients/login", strings.NewReader(`{"email":"nobody@example.com","password":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = remoteAddr
	req.Header.Set("X-Forwarded-For", forwardedFor)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	return rr.Code
}

func TestLoginRateLimit_ForwardedForCannotRotateKey(t *testing.T) {
	router := newRouter(t, config.GetDefaultConfig())

	for i := 0; i < 10; i++ {
		code := login(router, "203.0.113.9:4000", fmt.Sprintf("198.51.100.%d", i))
		assert.Equal(t, http.StatusUnauthorized, code)
	}

	assert.Equal(t, http.StatusTooManyRequests, login(router, "203.0.113.9:4000", "198.51.100.200"))
}

func TestLoginRateLimit_TrustedProxyForwardsClientAddress(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.TrustedProxies = []string{"10.0.0.0/8"}
	router := newRouter(t, cfg)

	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusUnauthorized, login(router, "10.0.0.5:4000", "198.51.100.1"))
	}

	assert.Equal(t, http.StatusTooManyRequests, login(router, "10.0.0.5:4000", "198.51.100.1"))
	assert.Equal(t, http.StatusUnauthorized, login(router, "10.0.0.5:4000", "198.51.100.2"))
}
