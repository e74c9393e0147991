package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nsealgo/controller/internal/config"
	"github.com/nsealgo/controller/internal/di"
	"github.com/nsealgo/controller/internal/domain"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{
		DataDir:         t.TempDir(),
		Port:            8001,
		PaperTrading:    true,
		MasterUserID:    "master",
		StartingCapital: 1_000_000,
	}
	c, err := di.Wire(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return New(Config{Log: zerolog.Nop(), Container: c, Port: 8001, DevMode: true})
}

func doRequest(s *Server, method, path string, body []byte) *httptest.ResponseRecorder {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthReportsStoppedStateInitially(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "stopped", body["state"])
}

func TestControlStartStopPauseResumeLifecycle(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/control/start", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodPost, "/api/control/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code) // already running

	rec = doRequest(s, http.MethodPost, "/api/control/pause", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodPost, "/api/control/resume", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodPost, "/api/control/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestControlClosePositionNotFoundReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/api/control/close_position/NONEXISTENT", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestControlCloseAllReportsClosedCount(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.c.Positions.Open(domain.Position{
		Symbol: "RELIANCE", Side: domain.Long, Quantity: 10, AveragePrice: 2500, CurrentPrice: 2500,
	}))
	s.c.QuoteCache.Put(domain.Quote{Symbol: "RELIANCE", LTP: 2500})

	rec := doRequest(s, http.MethodPost, "/api/control/close_all", []byte(`{"reason":"test"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 1, body["closed"])
}

func TestControlOverrideLossLimitClearsEmergencyStop(t *testing.T) {
	s := newTestServer(t)
	s.c.Risk.MonitorPortfolioRisk(1_000_000, -1_000_000, 0, nil, func(string) {})
	require.True(t, s.c.Risk.EmergencyStopTriggered())

	rec := doRequest(s, http.MethodPost, "/api/control/override_loss_limit", []byte(`{"reason":"reviewed"}`))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, s.c.Risk.EmergencyStopTriggered())
}

func TestListPositionsReturnsOpenBook(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.c.Positions.Open(domain.Position{
		Symbol: "TCS", Side: domain.Long, Quantity: 5, AveragePrice: 3000, CurrentPrice: 3000,
	}))

	rec := doRequest(s, http.MethodGet, "/api/positions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]domain.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Contains(t, body, "TCS")
}
