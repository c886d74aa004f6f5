package dlq

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventpipe/internal/logger"
)

func newTestRouter(t *testing.T) (*gin.Engine, *Service, *memRepo, *fakeQueue) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc, repo, queue := newTestService()
	router := gin.New()
	NewHandler(svc, logger.NopLogger()).RegisterRoutes(router)
	return router, svc, repo, queue
}

func do(router http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestHandler_List(t *testing.T) {
	router, svc, repo, _ := newTestRouter(t)
	require.NoError(t, svc.AddToDLQ(context.Background(), failedEvent("evt_000000000001"), "x", 3))

	w := do(router, http.MethodGet, "/api/v1/dlq?service=billing&reprocessed=false&limit=10&offset=2")
	require.Equal(t, http.StatusOK, w.Code)

	var body ListResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body.Total)
	require.Len(t, body.Events, 1)

	assert.Equal(t, "billing", repo.lastList.Service)
	require.NotNil(t, repo.lastList.Reprocessed)
	assert.False(t, *repo.lastList.Reprocessed)
	assert.Equal(t, 10, repo.lastList.Limit)
	assert.Equal(t, 2, repo.lastList.Offset)
}

func TestHandler_ListRejectsBadQuery(t *testing.T) {
	router, _, _, _ := newTestRouter(t)

	for _, q := range []string{"reprocessed=maybe", "limit=0", "limit=abc", "offset=-1"} {
		w := do(router, http.MethodGet, "/api/v1/dlq?"+q)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
		assert.Contains(t, w.Body.String(), "VALIDATION_ERROR", q)
	}
}

func TestHandler_GetAndDelete(t *testing.T) {
	router, svc, repo, _ := newTestRouter(t)
	require.NoError(t, svc.AddToDLQ(context.Background(), failedEvent("evt_000000000001"), "x", 3))
	id := onlyEntry(t, repo).ID

	w := do(router, http.MethodGet, "/api/v1/dlq/"+id)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"eventId":"evt_000000000001"`)

	w = do(router, http.MethodDelete, "/api/v1/dlq/"+id)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(router, http.MethodGet, "/api/v1/dlq/"+id)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(router, http.MethodGet, "/api/v1/dlq/not-a-uuid")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Reprocess(t *testing.T) {
	router, svc, repo, queue := newTestRouter(t)
	require.NoError(t, svc.AddToDLQ(context.Background(), failedEvent("evt_000000000001"), "x", 3))
	id := onlyEntry(t, repo).ID

	w := do(router, http.MethodPost, "/api/v1/dlq/"+id+"/reprocess")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"reprocessed":true`)
	assert.Len(t, queue.events, 1)

	w = do(router, http.MethodPatch, "/api/v1/dlq/"+id+"/reprocess")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"reprocessed":false`)

	w = do(router, http.MethodPost, "/api/v1/dlq/"+uuid.NewString()+"/reprocess")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_Statistics(t *testing.T) {
	router, svc, _, _ := newTestRouter(t)
	ctx := context.Background()
	require.NoError(t, svc.AddToDLQ(ctx, failedEvent("evt_000000000001"), "x", 3))
	require.NoError(t, svc.AddToDLQ(ctx, failedEvent("evt_000000000002"), "x", 3))

	w := do(router, http.MethodGet, "/api/v1/dlq/statistics")
	require.Equal(t, http.StatusOK, w.Code)

	var stats Statistics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.EqualValues(t, 2, stats.Total)
	assert.EqualValues(t, 2, stats.Pending)
	assert.EqualValues(t, 2, stats.ByService["billing"])
}
