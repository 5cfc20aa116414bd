package metrics

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "quantum_tls"

// Role identifies the side of a handshake.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

// Labels are constant labels attached to every metric of a collector.
type Labels map[string]string

// HandshakeDurationBuckets covers handshake durations in seconds.
var HandshakeDurationBuckets = prometheus.ExponentialBuckets(0.0005, 2, 16)

// Collector records handshake metrics into its own Prometheus registry.
// It is safe for concurrent use.
type Collector struct {
	registry *prometheus.Registry

	started       *prometheus.CounterVec
	completed     *prometheus.CounterVec
	failed        *prometheus.CounterVec
	canceled      *prometheus.CounterVec
	retries       *prometheus.CounterVec
	alerts        *prometheus.CounterVec
	resumptions   *prometheus.CounterVec
	tickets       *prometheus.CounterVec
	substitutions prometheus.Counter
	limited       prometheus.Counter
	duration      *prometheus.HistogramVec

	// Totals mirrored for Snapshot, which health checks read without
	// gathering the registry.
	startedTotal   atomic.Uint64
	completedTotal atomic.Uint64
	failedTotal    atomic.Uint64
	canceledTotal  atomic.Uint64
	alertsTotal    atomic.Uint64

	createdAt time.Time
	labels    Labels
}

// NewCollector creates a collector whose metrics are named
// <namespace>_<metric>. An empty namespace selects DefaultNamespace.
func NewCollector(namespace string, labels Labels) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if labels == nil {
		labels = make(Labels)
	}
	constLabels := prometheus.Labels(labels)

	c := &Collector{
		registry: prometheus.NewRegistry(),
		started: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "handshakes_started_total",
			Help: "Handshakes started", ConstLabels: constLabels,
		}, []string{"role"}),
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "handshakes_completed_total",
			Help: "Handshakes completed", ConstLabels: constLabels,
		}, []string{"role"}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "handshakes_failed_total",
			Help: "Handshakes failed, by the alert that ended them", ConstLabels: constLabels,
		}, []string{"role", "alert"}),
		canceled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "handshakes_canceled_total",
			Help: "Handshake attempts abandoned by the caller's context", ConstLabels: constLabels,
		}, []string{"role"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "handshake_suspensions_total",
			Help: "Handshake calls that returned a retry, by reason", ConstLabels: constLabels,
		}, []string{"role", "reason"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_sent_total",
			Help: "Fatal alerts sent", ConstLabels: constLabels,
		}, []string{"role", "alert"}),
		resumptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "resumptions_total",
			Help: "Abbreviated handshakes", ConstLabels: constLabels,
		}, []string{"role"}),
		tickets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "tickets_issued_total",
			Help: "Session tickets issued", ConstLabels: constLabels,
		}, []string{"kind"}),
		substitutions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rsa_premaster_substitutions_total",
			Help: "Handshakes that failed after a malformed RSA premaster was replaced", ConstLabels: constLabels,
		}),
		limited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "handshakes_rate_limited_total",
			Help: "Handshakes rejected by DoS protection", ConstLabels: constLabels,
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "handshake_duration_seconds",
			Help: "Duration of the handshake", Buckets: HandshakeDurationBuckets,
			ConstLabels: constLabels,
		}, []string{"role", "outcome"}),
		createdAt: time.Now(),
		labels:    labels,
	}
	c.registry.MustRegister(c.collectors()...)
	return c
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.started, c.completed, c.failed, c.canceled, c.retries, c.alerts, c.resumptions,
		c.tickets, c.substitutions, c.limited, c.duration,
	}
}

// Register adds the collector's metrics to another registerer, such as
// prometheus.DefaultRegisterer. Metrics that are already registered are
// skipped.
func (c *Collector) Register(r prometheus.Registerer) error {
	for _, m := range c.collectors() {
		if err := r.Register(m); err != nil {
			if !errors.As(err, &prometheus.AlreadyRegisteredError{}) {
				return err
			}
		}
	}
	return nil
}

// Registry returns the collector's own registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the collector's metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// --- Handshake Metrics ---

// HandshakeStarted counts a new handshake.
func (c *Collector) HandshakeStarted(role Role) {
	c.started.WithLabelValues(string(role)).Inc()
	c.startedTotal.Add(1)
}

// Handshake outcome labels.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
)

// OutcomeLabel classifies the error a handshake attempt ended with. A
// context error means the caller gave up; the connection has not failed
// and may be resumed.
func OutcomeLabel(err error) string {
	switch {
	case err == nil:
		return OutcomeCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	default:
		return OutcomeFailed
	}
}

// HandshakeFinished records the outcome and duration of a handshake
// attempt. Failures are labelled with the alert carried by err; canceled
// attempts are not failures and stay out of the failure rate.
func (c *Collector) HandshakeFinished(role Role, d time.Duration, err error) {
	outcome := OutcomeLabel(err)
	switch outcome {
	case OutcomeCompleted:
		c.completed.WithLabelValues(string(role)).Inc()
		c.completedTotal.Add(1)
	case OutcomeCanceled:
		c.canceled.WithLabelValues(string(role)).Inc()
		c.canceledTotal.Add(1)
	default:
		c.failed.WithLabelValues(string(role), AlertLabel(err)).Inc()
		c.failedTotal.Add(1)
	}
	c.duration.WithLabelValues(string(role), outcome).Observe(d.Seconds())
}

// Suspended counts a Handshake call that returned a retry.
func (c *Collector) Suspended(role Role, reason string) {
	c.retries.WithLabelValues(string(role), reason).Inc()
}

// AlertSent counts a fatal alert.
func (c *Collector) AlertSent(role Role, alert string) {
	c.alerts.WithLabelValues(string(role), alert).Inc()
	c.alertsTotal.Add(1)
}

// Resumed counts an abbreviated handshake.
func (c *Collector) Resumed(role Role) {
	c.resumptions.WithLabelValues(string(role)).Inc()
}

// TicketIssued counts a NewSessionTicket message.
func (c *Collector) TicketIssued(placeholder bool) {
	kind := "sealed"
	if placeholder {
		kind = "placeholder"
	}
	c.tickets.WithLabelValues(kind).Inc()
}

// PremasterSubstituted counts an RSA premaster replaced by random bytes.
func (c *Collector) PremasterSubstituted() {
	c.substitutions.Inc()
}

// HandshakeLimited counts a handshake rejected by DoS protection.
func (c *Collector) HandshakeLimited() {
	c.limited.Inc()
}

// AlertLabel returns the alert name carried by err, or "none".
func AlertLabel(err error) string {
	var ae *qerrors.AlertError
	if errors.As(err, &ae) {
		return ae.Alert.String()
	}
	return "none"
}

// --- Snapshot ---

// Snapshot is a point-in-time summary of the handshake totals.
type Snapshot struct {
	Timestamp time.Time
	Uptime    time.Duration

	HandshakesStarted   uint64
	HandshakesCompleted uint64
	HandshakesFailed    uint64
	HandshakesCanceled  uint64
	AlertsSent          uint64

	Labels Labels
}

// FailureRate returns failed handshakes as a fraction of finished ones.
func (s Snapshot) FailureRate() float64 {
	finished := s.HandshakesCompleted + s.HandshakesFailed
	if finished == 0 {
		return 0
	}
	return float64(s.HandshakesFailed) / float64(finished)
}

// Snapshot returns the current totals.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Timestamp:           time.Now(),
		Uptime:              time.Since(c.createdAt),
		HandshakesStarted:   c.startedTotal.Load(),
		HandshakesCompleted: c.completedTotal.Load(),
		HandshakesFailed:    c.failedTotal.Load(),
		HandshakesCanceled:  c.canceledTotal.Load(),
		AlertsSent:          c.alertsTotal.Load(),
		Labels:              c.labels,
	}
}

// --- Global Collector ---

var (
	globalCollector   *Collector
	globalCollectorMu sync.Mutex
)

// Global returns the process-wide collector, creating it on first use.
func Global() *Collector {
	globalCollectorMu.Lock()
	defer globalCollectorMu.Unlock()
	if globalCollector == nil {
		globalCollector = NewCollector(DefaultNamespace, nil)
	}
	return globalCollector
}

// SetGlobal replaces the process-wide collector.
func SetGlobal(c *Collector) {
	globalCollectorMu.Lock()
	defer globalCollectorMu.Unlock()
	globalCollector = c
}
