package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/drops/internal/events"
	"github.com/systmms/drops/internal/health"
	"github.com/systmms/drops/internal/logging"
)

func TestTriggerHandler(t *testing.T) {
	cfg := writeTestConfig(t)
	require.NoError(t, cfg.Load())

	channel := events.NewChannel(4, cfg.Logger)
	channel.Start(context.Background(), func(context.Context, events.FailoverRequest) error { return nil })
	t.Cleanup(channel.Stop)
	handler := &triggerHandler{channel: channel, cfg: cfg, logger: cfg.Logger}

	t.Run("accepts a valid request", func(t *testing.T) {
		req := events.NewFailoverRequest("checkout", "region outage", false)
		body, err := req.Encode()
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/trigger", bytes.NewReader(body)))

		require.Equal(t, http.StatusAccepted, rec.Code)
		var resp map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, req.ID, resp["id"])
		assert.Equal(t, "checkout", resp["pair"])
	})

	t.Run("rejects unknown pairs", func(t *testing.T) {
		req := events.NewFailoverRequest("search", "no such pair", false)
		body, err := req.Encode()
		require.NoError(t, err)

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/trigger", bytes.NewReader(body)))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("rejects malformed bodies", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/trigger", strings.NewReader("not json")))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("rejects GET", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/trigger", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestStatusHandler(t *testing.T) {
	cfg := writeTestConfig(t)
	require.NoError(t, cfg.Load())

	logger := logging.NewWithWriter(&bytes.Buffer{}, false, true)
	channel := events.NewChannel(4, logger)
	monitor := health.NewMonitor(health.DefaultMonitorConfig(), channel, logger)
	defer monitor.Close()

	engine := buildEngine(cfg, "drops", engineDeps{})
	handler := &statusHandler{engine: engine, monitor: monitor, channel: channel}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Runs)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
