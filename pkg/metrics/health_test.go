package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHealthCheckBasic(t *testing.T) {
	h := NewHealthCheck(NewCollector("health", nil), "1.0.0")

	response := h.Check()

	if response.Status != HealthStatusHealthy {
		t.Errorf("expected healthy status, got %s", response.Status)
	}
	if response.Version != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %s", response.Version)
	}
	if res, ok := response.Checks["crypto_self_test"]; !ok || res.Status != HealthStatusHealthy {
		t.Errorf("crypto self-test missing or failing: %+v", res)
	}
	if response.Metrics == nil {
		t.Error("expected metrics summary")
	}
}

func TestHealthCheckWithFailingCheck(t *testing.T) {
	h := NewHealthCheck(NewCollector("health", nil), "1.0.0")
	h.AddCheck("ticket_keys", func() error { return errors.New("ticket keys not rotated") })

	response := h.Check()

	if response.Status != HealthStatusUnhealthy {
		t.Errorf("expected unhealthy status, got %s", response.Status)
	}
	if response.Checks["ticket_keys"].Message != "ticket keys not rotated" {
		t.Errorf("unexpected message %q", response.Checks["ticket_keys"].Message)
	}

	h.RemoveCheck("ticket_keys")
	if h.Check().Status != HealthStatusHealthy {
		t.Error("expected healthy after removing the check")
	}
}

func TestHealthCheckDegradedByFailureRate(t *testing.T) {
	c := NewCollector("health", nil)
	h := NewHealthCheck(c, "")
	for i := 0; i < 9; i++ {
		c.HandshakeFinished(RoleServer, time.Millisecond, nil)
	}
	c.HandshakeFinished(RoleServer, time.Millisecond, errors.New("reset"))

	if got := h.Check().Status; got != HealthStatusDegraded {
		t.Errorf("expected degraded at 10%% failures, got %s", got)
	}
}

func TestHealthHandler(t *testing.T) {
	h := NewHealthCheck(NewCollector("health", nil), "1.2.3")

	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var body struct {
		Status  string                       `json:"status"`
		Version string                       `json:"version"`
		Checks  map[string]map[string]string `json:"checks"`
		Metrics map[string]float64           `json:"metrics"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON %q: %v", rec.Body.String(), err)
	}
	if body.Status != "healthy" || body.Version != "1.2.3" {
		t.Errorf("unexpected body %+v", body)
	}
	if body.Checks["crypto_self_test"]["status"] != "healthy" {
		t.Errorf("self-test result missing: %+v", body.Checks)
	}
	if _, ok := body.Metrics["failure_rate"]; !ok {
		t.Errorf("failure rate missing: %+v", body.Metrics)
	}
}

func TestHealthHandlerUnhealthy(t *testing.T) {
	h := NewHealthCheck(nil, "")
	h.AddCheck("failing", func() error { return errors.New("down") })

	rec := httptest.NewRecorder()
	h.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), `"ready":false`) {
		t.Errorf("readiness: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.LivenessHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"alive"`) {
		t.Errorf("liveness: %d %s", rec.Code, rec.Body.String())
	}
}

func TestServerRoutes(t *testing.T) {
	c := NewCollector("srv", nil)
	c.HandshakeStarted(RoleClient)
	s := NewServer(ServerConfig{Collector: c, Version: "dev"})
	s.AddHealthCheck("extra", func() error { return nil })

	for path, want := range map[string]string{
		"/metrics": "srv_handshakes_started_total",
		"/health":  `"extra"`,
		"/healthz": "alive",
		"/readyz":  `"ready":true`,
	} {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), want) {
			t.Errorf("%s: %d, body missing %q", path, rec.Code, want)
		}
	}

	if srv := s.HTTPServer(":0"); srv.ReadHeaderTimeout == 0 {
		t.Error("expected header timeout")
	}
}
