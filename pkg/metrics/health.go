package metrics

import (
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/francoispqt/gojay"

	"github.com/sara-star-quant/quantum-tls/pkg/crypto"
)

// HealthStatus is the overall health state.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// DegradedFailureRate is the handshake failure rate above which the service
// reports itself degraded.
const DegradedFailureRate = 0.05

// CheckFunc performs a health check. A nil result means healthy.
type CheckFunc func() error

// HealthCheck runs named checks and summarizes handshake metrics.
type HealthCheck struct {
	mu        sync.RWMutex
	checks    map[string]CheckFunc
	collector *Collector
	startTime time.Time
	version   string
}

// CheckResult is the result of one check.
type CheckResult struct {
	Status  HealthStatus
	Message string
	Latency time.Duration
}

// HealthResponse is the body of the /health endpoint.
type HealthResponse struct {
	Status    HealthStatus
	Timestamp time.Time
	Uptime    time.Duration
	Version   string
	Checks    map[string]CheckResult
	Metrics   *Snapshot
}

func (r *HealthResponse) IsNil() bool { return r == nil }

func (r *HealthResponse) MarshalJSONObject(enc *gojay.Encoder) {
	enc.StringKey("status", string(r.Status))
	enc.StringKey("timestamp", r.Timestamp.Format(time.RFC3339))
	enc.StringKey("uptime", r.Uptime.Truncate(time.Second).String())
	enc.StringKeyOmitEmpty("version", r.Version)
	if len(r.Checks) > 0 {
		enc.ObjectKey("checks", gojay.EncodeObjectFunc(func(enc *gojay.Encoder) {
			for _, name := range slices.Sorted(maps.Keys(r.Checks)) {
				res := r.Checks[name]
				enc.ObjectKey(name, gojay.EncodeObjectFunc(func(enc *gojay.Encoder) {
					enc.StringKey("status", string(res.Status))
					enc.StringKeyOmitEmpty("message", res.Message)
					enc.StringKey("latency", res.Latency.String())
				}))
			}
		}))
	}
	if m := r.Metrics; m != nil {
		enc.ObjectKey("metrics", gojay.EncodeObjectFunc(func(enc *gojay.Encoder) {
			enc.Uint64Key("handshakes_started", m.HandshakesStarted)
			enc.Uint64Key("handshakes_completed", m.HandshakesCompleted)
			enc.Uint64Key("handshakes_failed", m.HandshakesFailed)
			enc.Uint64Key("handshakes_canceled", m.HandshakesCanceled)
			enc.Uint64Key("alerts_sent", m.AlertsSent)
			enc.Float64Key("failure_rate", m.FailureRate())
		}))
	}
}

// NewHealthCheck creates a health check reporting collector's totals. The
// crypto self-test is always registered.
func NewHealthCheck(collector *Collector, version string) *HealthCheck {
	h := &HealthCheck{
		checks:    make(map[string]CheckFunc),
		collector: collector,
		startTime: time.Now(),
		version:   version,
	}
	h.AddCheck("crypto_self_test", crypto.SelfTestError)
	return h
}

// AddCheck registers a named check.
func (h *HealthCheck) AddCheck(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// RemoveCheck removes a named check.
func (h *HealthCheck) RemoveCheck(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.checks, name)
}

// Check runs every check. A failing check makes the service unhealthy; a
// handshake failure rate above DegradedFailureRate makes it degraded.
func (h *HealthCheck) Check() HealthResponse {
	h.mu.RLock()
	checks := maps.Clone(h.checks)
	h.mu.RUnlock()

	resp := HealthResponse{
		Status:    HealthStatusHealthy,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.startTime),
		Version:   h.version,
		Checks:    make(map[string]CheckResult, len(checks)),
	}

	for name, check := range checks {
		start := time.Now()
		err := check()
		res := CheckResult{Status: HealthStatusHealthy, Latency: time.Since(start)}
		if err != nil {
			res.Status = HealthStatusUnhealthy
			res.Message = err.Error()
			resp.Status = HealthStatusUnhealthy
		}
		resp.Checks[name] = res
	}

	if h.collector != nil {
		snap := h.collector.Snapshot()
		resp.Metrics = &snap
		if resp.Status == HealthStatusHealthy && snap.FailureRate() > DegradedFailureRate {
			resp.Status = HealthStatusDegraded
		}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v gojay.MarshalerJSONObject) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := gojay.BorrowEncoder(w)
	defer enc.Release()
	_ = enc.EncodeObject(v)
}

// Handler serves the full health report.
func (h *HealthCheck) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := h.Check()
		code := http.StatusOK
		if resp.Status == HealthStatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, &resp)
	})
}

// LivenessHandler always reports alive.
func (h *HealthCheck) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, gojay.EncodeObjectFunc(func(enc *gojay.Encoder) {
			enc.StringKey("status", "alive")
		}))
	})
}

// ReadinessHandler reports ready unless a check fails.
func (h *HealthCheck) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := h.Check()
		ready := resp.Status != HealthStatusUnhealthy
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, gojay.EncodeObjectFunc(func(enc *gojay.Encoder) {
			enc.StringKey("status", string(resp.Status))
			enc.BoolKey("ready", ready)
		}))
	})
}

// --- Server ---

const (
	serverReadHeaderTimeout = 5 * time.Second
	serverWriteTimeout      = 10 * time.Second
	serverIdleTimeout       = 2 * time.Minute
)

// Server serves /metrics, /health, /healthz and /readyz.
type Server struct {
	mux       *http.ServeMux
	collector *Collector
	health    *HealthCheck
}

// ServerConfig configures the observability server.
type ServerConfig struct {
	Collector *Collector
	Version   string
}

// NewServer creates an observability server for cfg.Collector, or the
// global collector when it is nil.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Collector == nil {
		cfg.Collector = Global()
	}
	s := &Server{
		mux:       http.NewServeMux(),
		collector: cfg.Collector,
		health:    NewHealthCheck(cfg.Collector, cfg.Version),
	}
	s.mux.Handle("/metrics", cfg.Collector.Handler())
	s.mux.Handle("/health", s.health.Handler())
	s.mux.Handle("/healthz", s.health.LivenessHandler())
	s.mux.Handle("/readyz", s.health.ReadinessHandler())
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// AddHealthCheck adds a named check to /health and /readyz.
func (s *Server) AddHealthCheck(name string, check CheckFunc) {
	s.health.AddCheck(name, check)
}

// HTTPServer returns an http.Server for addr with conservative timeouts.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: serverReadHeaderTimeout,
		WriteTimeout:      serverWriteTimeout,
		IdleTimeout:       serverIdleTimeout,
	}
}

// ListenAndServe serves on addr until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	return s.HTTPServer(addr).ListenAndServe()
}
