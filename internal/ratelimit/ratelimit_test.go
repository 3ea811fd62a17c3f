package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newTestLimiter(burst int) (*Limiter, *time.Time) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New(Config{RequestsPerMinute: 600, BurstSize: burst, CleanupInterval: time.Minute})
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiterBurstThenDeny(t *testing.T) {
	l, _ := newTestLimiter(3)
	defer l.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("a"), "request %d", i)
	}
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "keys are independent")
}

func TestLimiterReplenishes(t *testing.T) {
	l, now := newTestLimiter(1)
	defer l.Stop()

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	*now = now.Add(100 * time.Millisecond)
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
}

func TestLimiterStopTwice(t *testing.T) {
	l := New(DefaultConfig())
	l.Stop()
	l.Stop()
}

func TestMiddlewareKeysByAccount(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l, _ := newTestLimiter(1)
	defer l.Stop()

	router := gin.New()
	router.Use(l.Middleware())
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(account string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if account != "" {
			req.Header.Set("X-Account-Address", account)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("0xAAA"))
	assert.Equal(t, http.StatusTooManyRequests, do("0xaaa"), "account key is case-insensitive")
	assert.Equal(t, http.StatusOK, do("0xbbb"))
	assert.Equal(t, http.StatusOK, do(""), "anonymous requests fall back to the client IP")
	assert.Equal(t, http.StatusTooManyRequests, do(""))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 120, cfg.RequestsPerMinute)
	assert.Equal(t, 20, cfg.BurstSize)
	assert.Equal(t, time.Minute, cfg.CleanupInterval)
}
