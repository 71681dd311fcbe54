package pkg

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clientIPFor(t *testing.T, trusted []string, remoteAddr, forwardedFor string) string {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	require.NoError(t, router.SetTrustedProxies(trusted))

	var got string
	router.GET("/ip", func(c *gin.Context) {
		got = GetClientIP(c)
	})

	req := httptest.NewRequest(http.MethodGet, "/ip", nil)
	req.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}

	router.ServeHTTP(httptest.NewRecorder(), req)

	return got
}

func TestGetClientIP_IgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	assert.Equal(t, "203.0.113.9", clientIPFor(t, nil, "203.0.113.9:4000", "1.2.3.4"))
}

func TestGetClientIP_HonoursTrustedProxy(t *testing.T) {
	assert.Equal(t, "1.2.3.4", clientIPFor(t, []string{"10.0.0.0/8"}, "10.1.2.3:4000", "1.2.3.4"))
}
