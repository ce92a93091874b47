package bridge

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthEndpoint(t *testing.T) {
	h := newTestHarness(t)

	resp, err := http.Get(h.httpSrv.URL + "/api/v1/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var health HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "healthy", health.Components["bus"])
}

func TestStatusEndpoint(t *testing.T) {
	h := newTestHarness(t)

	ws := h.dial(t)
	h.authenticate(t, ws, "u1")

	resp, err := http.Get(h.httpSrv.URL + "/api/v1/bridge/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status StatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, "running", status.Status)
	assert.Equal(t, 1, status.ConnectedDevices)
	assert.Equal(t, []string{"u1"}, status.Users)
}
