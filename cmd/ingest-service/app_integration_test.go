//go:build integration

package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventpipe/internal/config"
	"eventpipe/internal/events"
	"eventpipe/internal/logger"
	"eventpipe/internal/testinfra"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join("..", "..", "configs", "ingest-service.yaml"))
	require.NoError(t, err)

	cfg.Checkpoint.Path = filepath.Join(t.TempDir(), "checkpoint.json")
	cfg.RateLimit.Enabled = false
	cfg.Tracing.Enabled = false
	cfg.DLQ.KafkaEnabled = false
	return cfg
}

// startApp wires the pipeline against an existing database, skipping the
// connection bootstrap.
func startApp(t *testing.T, cfg *config.Config, app *App) *httptest.Server {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, app.initBuffer(ctx))
	router, err := app.initPipeline(ctx)
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func postEvent(t *testing.T, base, service, message string) *http.Response {
	t.Helper()
	body, err := json.Marshal(map[string]interface{}{
		"timestamp": "2024-03-01T10:00:00.000Z",
		"service":   service,
		"message":   message,
		"metadata":  map[string]interface{}{"region": "eu-west-1"},
	})
	require.NoError(t, err)

	resp, err := http.Post(base+"/api/v1/events", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestIngestFlushSearch(t *testing.T) {
	db := testinfra.Postgres(t)
	cfg := testConfig(t)
	app := NewApp(cfg, logger.NopLogger())
	app.db = db
	srv := startApp(t, cfg, app)

	for i := 0; i < 3; i++ {
		resp := postEvent(t, srv.URL, "checkout", "<b>order</b> placed")
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}
	assert.Equal(t, 3, app.buffer.Size())

	result := app.worker.ProcessBatch(context.Background())
	require.NoError(t, result.Err)
	assert.Equal(t, 3, result.Persisted)

	q := url.Values{
		"service": {"checkout"},
		"from":    {"2024-03-01T00:00:00Z"},
		"to":      {"2024-03-02T00:00:00Z"},
	}
	resp, err := http.Get(srv.URL + "/api/v1/events?" + q.Encode())
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var search events.SearchResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&search))
	assert.Equal(t, int64(3), search.Total)
	require.Len(t, search.Items, 3)
	assert.Equal(t, "order placed", search.Items[0].Message)
	assert.JSONEq(t, `{"region":"eu-west-1"}`, string(search.Items[0].Metadata))

	health, err := http.Get(srv.URL + "/health/detailed")
	require.NoError(t, err)
	defer health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}

func TestCheckpointSurvivesRestart(t *testing.T) {
	db := testinfra.Postgres(t)
	cfg := testConfig(t)

	first := NewApp(cfg, logger.NopLogger())
	first.db = db
	srv := startApp(t, cfg, first)
	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusAccepted, postEvent(t, srv.URL, "auth", "login").StatusCode)
	}
	first.checkpointer.Final(context.Background())

	second := NewApp(cfg, logger.NopLogger())
	second.db = db
	startApp(t, cfg, second)
	assert.Equal(t, 5, second.buffer.Size())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	second.worker.Stop(ctx)
	assert.Zero(t, second.buffer.Size())
}
