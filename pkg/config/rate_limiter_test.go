package config

import (
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"accounts/internal/core/telemetry"
	. "accounts/pkg"
	"accounts/pkg/auth"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func newTestLimiter() *RateLimiter {
	return NewRateLimiter(zap.NewNop(), telemetry.NewAppMetrics(prometheus.NewRegistry()))
}

func withAccount(id string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(auth.AccountIDKey, id)
		c.Next()
	}
}

func TestNewRateLimiter(t *testing.T) {
	RegisterTestingT(t)
	rl := newTestLimiter()

	Expect(rl).ToNot(BeNil())
	Expect(rl.cache).ToNot(BeNil())
	Expect(rl.config).To(HaveKey("POST /clients/login"))
	Expect(rl.logger).ToNot(BeNil())
	Expect(rl.metrics).ToNot(BeNil())
}

func TestRateLimitMiddleware_AllowedRequests(t *testing.T) {
	RegisterTestingT(t)
	rl := newTestLimiter()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(rl.RateLimitMiddleware())

	router.GET("/test", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(200))
		Expect(w.Header().Get("X-RateLimit-Limit")).To(Equal("60"))
		Expect(w.Header().Get("X-RateLimit-Remaining")).To(Equal(strconv.Itoa(59 - i)))
	}
}

func TestRateLimitMiddleware_LoginExceedsLimit(t *testing.T) {
	RegisterTestingT(t)
	rl := newTestLimiter()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(rl.RateLimitMiddleware())

	router.POST("/clients/login", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	for i := 0; i < 12; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/clients/login", nil)
		router.ServeHTTP(w, req)

		if i < 10 {
			Expect(w.Code).To(Equal(200))
		} else {
			Expect(w.Code).To(Equal(http.StatusTooManyRequests))
			Expect(w.Body.String()).To(ContainSubstring("RATE_LIMITED"))
		}
	}
}

func TestRateLimitMiddleware_AccountBasedLimiting(t *testing.T) {
	RegisterTestingT(t)
	rl := newTestLimiter()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(withAccount("123"))
	router.Use(rl.RateLimitMiddleware())

	callCount := 0
	router.PATCH("/clients/:id/password", func(c *gin.Context) {
		callCount++
		c.JSON(200, gin.H{"count": callCount})
	})

	expectedRemaining := []int{4, 3, 2, 1, 0}

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("PATCH", "/clients/123/password", strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(200))
		Expect(callCount).To(Equal(i + 1))
		Expect(w.Header().Get("X-RateLimit-Remaining")).To(Equal(strconv.Itoa(expectedRemaining[i])))
	}

	// Another account has its own budget.
	other := gin.New()
	other.Use(withAccount("456"))
	other.Use(rl.RateLimitMiddleware())
	other.PATCH("/clients/:id/password", func(c *gin.Context) { c.Status(200) })

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("PATCH", "/clients/456/password", nil)
	other.ServeHTTP(w, req)

	Expect(w.Code).To(Equal(200))
	Expect(w.Header().Get("X-RateLimit-Remaining")).To(Equal("4"))
}

func TestRateLimitMiddleware_WindowReset(t *testing.T) {
	RegisterTestingT(t)
	rl := newTestLimiter()
	rl.SetConfig("GET /test", RateLimitEndpointConfig{Requests: 2, Window: 50 * time.Millisecond, KeyFunc: GetClientIP})

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(rl.RateLimitMiddleware())

	router.GET("/test", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	Expect(codes).To(Equal([]int{200, 200, 429}))

	time.Sleep(100 * time.Millisecond)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/test", nil)
	router.ServeHTTP(w, req)
	Expect(w.Code).To(Equal(200))
}

func TestRateLimiter_Apply(t *testing.T) {
	RegisterTestingT(t)
	rl := newTestLimiter()

	rl.Apply(map[string]RateLimitConfig{
		"POST /clients/login": {Requests: 3, Window: time.Second},
		"GET /custom":         {Requests: 7, Window: time.Minute},
	})

	Expect(rl.config["POST /clients/login"].Requests).To(Equal(3))
	Expect(rl.config["POST /clients/login"].KeyFunc).ToNot(BeNil())
	Expect(rl.config["GET /custom"].Requests).To(Equal(7))
	Expect(rl.config["GET /custom"].KeyFunc).ToNot(BeNil())
}

func TestRateLimiter_NormalizePath(t *testing.T) {
	RegisterTestingT(t)
	rl := newTestLimiter()

	Expect(rl.normalizePath("/clients")).To(Equal("/clients"))
	Expect(rl.normalizePath("/clients/login")).To(Equal("/clients/login"))
	Expect(rl.normalizePath("/clients/abc")).To(Equal("/clients/:id"))
	Expect(rl.normalizePath("/clients/abc/usage")).To(Equal("/clients/:id/usage"))
	Expect(rl.normalizePath("/clients/by-api-key/KEY")).To(Equal("/clients/by-api-key/:apiKey"))
}

func TestRateLimiterGetStats(t *testing.T) {
	RegisterTestingT(t)
	rl := newTestLimiter()

	stats := rl.GetStats()
	Expect(stats).To(HaveKey("active_entries"))
	Expect(stats).To(HaveKey("configs"))
}

func TestRateLimitMiddleware_NoDoubleCounting(t *testing.T) {
	RegisterTestingT(t)
	rl := newTestLimiter()

	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(withAccount("123"))
	router.Use(rl.RateLimitMiddleware())

	var callCount int
	var callCountMutex sync.Mutex
	router.PUT("/clients/:id", func(c *gin.Context) {
		callCountMutex.Lock()
		callCount++
		callCountMutex.Unlock()
		c.Status(200)
	})

	numRequests := 10
	results := make([]int, numRequests)
	var wg sync.WaitGroup

	for i := 0; i < numRequests; i++ {
		index := i
		wg.Go(func() {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest("PUT", "/clients/123", strings.NewReader(`{}`))
			router.ServeHTTP(w, req)

			remaining, _ := strconv.Atoi(w.Header().Get("X-RateLimit-Remaining"))
			results[index] = remaining
		})
	}

	wg.Wait()

	Expect(callCount).To(Equal(numRequests))

	expectedRemaining := []int{19, 18, 17, 16, 15, 14, 13, 12, 11, 10}
	sort.Ints(results)
	sort.Ints(expectedRemaining)

	Expect(results).To(Equal(expectedRemaining))
}
