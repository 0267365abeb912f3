package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/archapi/pkg/device"
	"github.com/cuemby/archapi/pkg/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadiness(t *testing.T) {
	metrics.SetCriticalComponents("api")
	defer metrics.SetCriticalComponents("catalog", "runtime", "api")

	s, _ := newTestServer(t, false)

	metrics.UpdateComponent("api", false, "starting")
	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/ready", nil), -1)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	metrics.UpdateComponent("api", true, "")
	code, body := get(t, s, "/ready")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "watchtower", checks["device"])
	assert.Equal(t, "ok", checks["catalog"])
	assert.Equal(t, "ready", checks["api"])
}

func TestReadinessInitError(t *testing.T) {
	metrics.SetCriticalComponents()
	defer metrics.SetCriticalComponents("catalog", "runtime", "api")

	svc := device.New(device.Options{InitError: errors.New("could not find robot_type in expected paths")})
	resp := NewHealthServer(svc, "test").Check()
	assert.Equal(t, "not ready", resp.Status)
	assert.Equal(t, "Device failed to initialize", resp.Message)
	assert.Contains(t, resp.Checks["device"], "robot_type")

	assert.Equal(t, "not ready", NewHealthServer(nil, "test").Check().Status)
}

func TestLivenessAndMetrics(t *testing.T) {
	s, _ := newTestServer(t, false)

	code, body := get(t, s, "/live")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "alive", body["status"])

	resp, err := s.App().Test(httptest.NewRequest(http.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
