package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func healthz(t *testing.T, h *HealthStatus) (int, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec.Code, body
}

func TestHealthStatus(t *testing.T) {
	h := NewHealthStatus("BTC", []string{"1m", "5m"})
	ok := pingFunc(func(context.Context) error { return nil })
	down := pingFunc(func(context.Context) error { return errors.New("down") })

	code, body := healthz(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code, "ws not connected yet")
	assert.Equal(t, "degraded", body["status"])

	h.SetWSConnected(true)
	h.Check(context.Background(), "sqlite", ok)
	code, body = healthz(t, h)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "BTC", body["symbol"])

	h.Check(context.Background(), "redis", down)
	code, body = healthz(t, h)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "degraded", body["status"])
	checks := body["checks"].(map[string]any)
	assert.Equal(t, "down", checks["redis"].(map[string]any)["error"])

	h.Check(context.Background(), "sqlite", down)
	_, body = healthz(t, h)
	assert.Equal(t, "unhealthy", body["status"])
}

func TestServer_MetricsAndAPI(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.TicksTotal.Add(3)
	m.PassesTotal.WithLabelValues("ok").Inc()
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TicksTotal))

	api := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = io.WriteString(w, "api") })
	s := NewServer(":0", NewHealthStatus("BTC", nil), reg, api)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(raw), "trader_ticks_total 3")
	assert.Contains(t, string(raw), `trader_passes_total{result="ok"} 1`)

	resp, err = http.Get(srv.URL + "/api/v1/anything")
	require.NoError(t, err)
	raw, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "api", string(raw))
}
