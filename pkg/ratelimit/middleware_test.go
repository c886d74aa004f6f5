package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventpipe/internal/config"
)

func TestLimiter_Allow(t *testing.T) {
	l := New(config.RateLimitConfig{RPS: 1, Burst: 2})
	frozen := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return frozen }

	ok, remaining := l.Allow("10.0.0.1")
	assert.True(t, ok)
	assert.Equal(t, 1, remaining)

	ok, _ = l.Allow("10.0.0.1")
	assert.True(t, ok)

	ok, remaining = l.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.Zero(t, remaining)

	ok, _ = l.Allow("10.0.0.2")
	assert.True(t, ok, "buckets are per client")

	frozen = frozen.Add(time.Second)
	ok, _ = l.Allow("10.0.0.1")
	assert.True(t, ok, "bucket refills over time")
}

func TestLimiter_Evict(t *testing.T) {
	l := New(config.RateLimitConfig{RPS: 10, Burst: 10, MaxAge: time.Minute})
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("a")
	now = now.Add(30 * time.Second)
	l.Allow("b")
	now = now.Add(45 * time.Second)

	assert.Equal(t, 1, l.evict())
	assert.Equal(t, 1, l.clientCount())
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := New(config.RateLimitConfig{RPS: 1, Burst: 1})

	router := gin.New()
	router.Use(l.Middleware())
	router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("Retry-After"))
	assert.Contains(t, second.Body.String(), "RATE_LIMIT_EXCEEDED")
}
