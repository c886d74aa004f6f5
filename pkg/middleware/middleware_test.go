package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventpipe/internal/logger"
	"eventpipe/pkg/logging"
)

func newRouter() (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)
	var seen string
	router := gin.New()
	router.Use(CorrelationID(), Logger(logger.NopLogger()), Recovery(logger.NopLogger()))
	router.GET("/ok", func(c *gin.Context) {
		seen = logging.GetCorrelationID(c.Request.Context())
		c.Status(http.StatusOK)
	})
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})
	return router, &seen
}

func TestCorrelationID(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    string
	}{
		{"propagates correlation header", map[string]string{HeaderCorrelationID: "corr-1"}, "corr-1"},
		{"falls back to request id", map[string]string{HeaderRequestID: "req-9"}, "req-9"},
		{"prefers correlation header", map[string]string{HeaderCorrelationID: "corr-2", HeaderRequestID: "req-2"}, "corr-2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, seen := newRouter()
			req := httptest.NewRequest(http.MethodGet, "/ok", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, w.Header().Get(HeaderCorrelationID))
			assert.Equal(t, tt.want, *seen)
		})
	}

	t.Run("generates uuid", func(t *testing.T) {
		router, seen := newRouter()
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))

		id := w.Header().Get(HeaderCorrelationID)
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, id, *seen)
	})
}

func TestRecovery(t *testing.T) {
	router, _ := newRouter()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
}

func TestIsProbe(t *testing.T) {
	assert.True(t, isProbe("/health"))
	assert.True(t, isProbe("/metrics"))
	assert.False(t, isProbe("/api/v1/events"))
}
