package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/trail/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		t.Fatalf("failed to read gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}

func resetHealth() {
	healthChecker = newHealthChecker()
}

func TestGetHealth_OneUnhealthy(t *testing.T) {
	resetHealth()

	RegisterComponent("tracker", true, "")
	RegisterComponent("queue", false, "database closed")

	health := GetHealth()
	if health.Status != "unhealthy" {
		t.Errorf("expected status 'unhealthy', got '%s'", health.Status)
	}
	if health.Components["queue"] != "unhealthy: database closed" {
		t.Errorf("unexpected queue status: %s", health.Components["queue"])
	}
}

func TestGetReadiness_MissingComponent(t *testing.T) {
	resetHealth()

	RegisterComponent("queue", true, "")

	readiness := GetReadiness()
	if readiness.Status != "not_ready" {
		t.Errorf("expected status 'not_ready', got '%s'", readiness.Status)
	}
	if readiness.Components["tracker"] != "not registered" {
		t.Errorf("unexpected tracker status: %s", readiness.Components["tracker"])
	}
}

func TestReadyHandler(t *testing.T) {
	resetHealth()

	RegisterComponent("queue", true, "")
	RegisterComponent("tracker", true, "")

	rec := httptest.NewRecorder()
	ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body HealthStatus
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ready" {
		t.Errorf("expected 'ready', got '%s'", body.Status)
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	resetHealth()

	RegisterComponent("queue", false, "disk full")

	rec := httptest.NewRecorder()
	HealthHandler()(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

type fakeDepth struct {
	n   int
	err error
}

func (f fakeDepth) Len() (int, error) { return f.n, f.err }

type fakeState types.AuthState

func (f fakeState) State() types.AuthState { return types.AuthState(f) }

func TestCollectorCollect(t *testing.T) {
	resetHealth()

	c := NewCollector(fakeDepth{n: 12}, fakeState(types.AuthStatePinRequired))
	c.collect()

	if got := gaugeValue(t, QueueDepth); got != 12 {
		t.Errorf("QueueDepth = %v, want 12", got)
	}
	if got := gaugeValue(t, AuthState.WithLabelValues(string(types.AuthStatePinRequired))); got != 1 {
		t.Errorf("pin_required gauge = %v, want 1", got)
	}
	if got := gaugeValue(t, AuthState.WithLabelValues(string(types.AuthStateAuthenticated))); got != 0 {
		t.Errorf("authenticated gauge = %v, want 0", got)
	}
	if !healthChecker.components["queue"].Healthy {
		t.Error("queue component should be healthy after a successful collect")
	}
}
