package diag

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbms-io/supervisor-sub000/internal/bacnet"
	"github.com/openbms-io/supervisor-sub000/internal/config"
)

func testServer(t *testing.T, ready bool) *httptest.Server {
	t.Helper()
	status := func() Snapshot {
		return Snapshot{
			MonitoringStatus:  "ACTIVE",
			MQTTConnected:     true,
			ReaderUtilization: map[string]bacnet.ReaderStatus{
				"r1": {ActiveOperations: 0, IsBusy: false, IP: "192.168.1.10", Port: 47808, Strategy: bacnet.StrategyRoundRobin},
				"r2": {ActiveOperations: 1, IsBusy: true, IP: "192.168.1.11", Port: 47808, Strategy: bacnet.StrategyRoundRobin},
			},
			Time:              time.Now().UTC().Format(time.RFC3339),
		}
	}
	s := NewServer(config.DiagConfig{Host: "127.0.0.1", Port: 0}, status, func() bool { return ready }, slog.Default())
	ts := httptest.NewServer(s.srv.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestServer_Health(t *testing.T) {
	ts := testServer(t, true)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body["status"])
}

func TestServer_Ready(t *testing.T) {
	ts := testServer(t, true)

	resp, err := http.Get(ts.URL + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_NotReady(t *testing.T) {
	ts := testServer(t, false)

	resp, err := http.Get(ts.URL + "/ready")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "not ready", body["status"])
}

func TestServer_Status(t *testing.T) {
	ts := testServer(t, true)

	resp, err := http.Get(ts.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var snap Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "ACTIVE", snap.MonitoringStatus)
	assert.True(t, snap.MQTTConnected)
	require.Len(t, snap.ReaderUtilization, 2)
	assert.Equal(t, bacnet.ReaderStatus{
		ActiveOperations: 1, IsBusy: true, IP: "192.168.1.11", Port: 47808, Strategy: bacnet.StrategyRoundRobin,
	}, snap.ReaderUtilization["r2"])
	assert.NotEmpty(t, snap.Time)
}

func TestServer_Metrics(t *testing.T) {
	ts := testServer(t, true)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
