package metrics

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/sara-star-quant/quantum-tls/pkg/handshake"
)

// Attributes annotate a span or a span event.
type Attributes map[string]any

// Tracer opens handshake spans. NoOpTracer, SimpleTracer and the tracer
// returned by NewOTelTracer implement it.
type Tracer interface {
	// StartSpan opens a span and returns a context carrying it.
	StartSpan(ctx context.Context, name string, kind SpanKind, attrs Attributes) (context.Context, Span)
}

// Span is an open span. A handshake drives its span from one goroutine at a
// time, but implementations must tolerate SetAttributes after End.
type Span interface {
	SetAttributes(attrs Attributes)
	AddEvent(name string, attrs Attributes)
	// End closes the span; a non-nil err marks it failed.
	End(err error)
}

// SpanKind identifies the side of the connection a span describes.
type SpanKind int

const (
	SpanKindInternal SpanKind = iota
	SpanKindServer
	SpanKindClient
)

// Span names used by the handshake observers.
const (
	SpanHandshakeClient = "tls.handshake.client"
	SpanHandshakeServer = "tls.handshake.server"
)

// HandshakeSpanName returns the span name for a role.
func HandshakeSpanName(role Role) string {
	if role == RoleServer {
		return SpanHandshakeServer
	}
	return SpanHandshakeClient
}

// Span attribute keys.
const (
	AttrRole        = "tls.role"
	AttrDTLS        = "tls.dtls"
	AttrServerName  = "tls.server_name"
	AttrVersion     = "tls.version"
	AttrCipherSuite = "tls.cipher_suite"
	AttrResumed     = "tls.resumed"
	AttrState       = "tls.handshake.state"
	AttrOutcome     = "tls.handshake.outcome"
	AttrRetries     = "tls.handshake.retries"
	AttrFrom        = "tls.handshake.from"
	AttrTo          = "tls.handshake.to"
	AttrAlert       = "tls.alert"
	AttrRetryReason = "tls.retry.reason"
	AttrPlaceholder = "tls.ticket.placeholder"
)

// Span event names, one per observer hook.
const (
	SpanEventStateChange = "state_change"
	SpanEventRetry       = "suspended"
	SpanEventAlert       = "alert_sent"
	SpanEventResumption  = "session_resumed"
	SpanEventTicket      = "ticket_issued"
	SpanEventPremaster   = "rsa_premaster_substituted"
)

// HandshakeAttributes returns the attributes set on a handshake span when
// it ends. Parameters not yet negotiated are left out.
func HandshakeAttributes(out handshake.Outcome) Attributes {
	a := Attributes{
		AttrOutcome: OutcomeLabel(out.Err),
		AttrResumed: out.Resumed,
	}
	if out.State != "" {
		a[AttrState] = out.State
	}
	if v := out.VersionName(); v != "" {
		a[AttrVersion] = v
	}
	if s := out.CipherSuiteName(); s != "" {
		a[AttrCipherSuite] = s
	}
	if out.ServerName != "" {
		a[AttrServerName] = out.ServerName
	}
	if out.Err != nil {
		if alert := AlertLabel(out.Err); alert != "none" {
			a[AttrAlert] = alert
		}
	}
	return a
}

// --- Context ---

type spanContextKey struct{}

func contextWithSpan(ctx context.Context, span Span) context.Context {
	return context.WithValue(ctx, spanContextKey{}, span)
}

// SpanFromContext returns the span opened by a Tracer for ctx, or a span
// that discards everything.
func SpanFromContext(ctx context.Context) Span {
	if span, ok := ctx.Value(spanContextKey{}).(Span); ok {
		return span
	}
	return noopSpan{}
}

// --- NoOp Tracer ---

// NoOpTracer discards spans. It is the default global tracer.
type NoOpTracer struct{}

// StartSpan returns ctx unchanged and a span that does nothing.
func (NoOpTracer) StartSpan(ctx context.Context, _ string, _ SpanKind, _ Attributes) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) SetAttributes(Attributes)     {}
func (noopSpan) AddEvent(string, Attributes) {}
func (noopSpan) End(error)                   {}

// --- Simple Tracer ---

// SimpleTracer keeps finished spans in memory, for tests and the CLI's
// -trace mode.
type SimpleTracer struct {
	mu    sync.Mutex
	spans []RecordedSpan
}

// SpanEvent is an event recorded on a span.
type SpanEvent struct {
	Name       string
	Time       time.Time
	Attributes Attributes
}

// RecordedSpan is a finished span.
type RecordedSpan struct {
	Name       string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Kind       SpanKind
	Attributes Attributes
	Events     []SpanEvent
	Error      error
	TraceID    string
	SpanID     string
	ParentID   string
}

// Event returns the first event with the given name.
func (s RecordedSpan) Event(name string) (SpanEvent, bool) {
	for _, ev := range s.Events {
		if ev.Name == name {
			return ev, true
		}
	}
	return SpanEvent{}, false
}

// NewSimpleTracer creates an empty SimpleTracer.
func NewSimpleTracer() *SimpleTracer {
	return &SimpleTracer{}
}

type simpleSpan struct {
	tracer *SimpleTracer
	mu     sync.Mutex
	rec    RecordedSpan
	ended  bool
}

// StartSpan opens a span. A span already in ctx becomes its parent.
func (t *SimpleTracer) StartSpan(ctx context.Context, name string, kind SpanKind, attrs Attributes) (context.Context, Span) {
	s := &simpleSpan{tracer: t, rec: RecordedSpan{
		Name:       name,
		StartTime:  time.Now(),
		Kind:       kind,
		Attributes: make(Attributes, len(attrs)),
		TraceID:    generateID(),
		SpanID:     generateID(),
	}}
	for k, v := range attrs {
		s.rec.Attributes[k] = v
	}
	if parent, ok := SpanFromContext(ctx).(*simpleSpan); ok {
		s.rec.TraceID = parent.rec.TraceID
		s.rec.ParentID = parent.rec.SpanID
	}
	return contextWithSpan(ctx, s), s
}

func (s *simpleSpan) SetAttributes(attrs Attributes) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	for k, v := range attrs {
		s.rec.Attributes[k] = v
	}
}

func (s *simpleSpan) AddEvent(name string, attrs Attributes) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.rec.Events = append(s.rec.Events, SpanEvent{Name: name, Time: time.Now(), Attributes: attrs})
}

func (s *simpleSpan) End(err error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.rec.EndTime = time.Now()
	s.rec.Duration = s.rec.EndTime.Sub(s.rec.StartTime)
	s.rec.Error = err
	rec := s.rec
	s.mu.Unlock()

	s.tracer.mu.Lock()
	s.tracer.spans = append(s.tracer.spans, rec)
	s.tracer.mu.Unlock()
}

// Spans returns the finished spans in the order they ended.
func (t *SimpleTracer) Spans() []RecordedSpan {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]RecordedSpan(nil), t.spans...)
}

// Find returns the finished spans with the given name.
func (t *SimpleTracer) Find(name string) []RecordedSpan {
	var out []RecordedSpan
	for _, s := range t.Spans() {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// Reset clears the finished spans.
func (t *SimpleTracer) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.spans = nil
}

// generateID returns a random 64-bit identifier in hex.
func generateID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// --- Global Tracer ---

var (
	globalTracer   Tracer = NoOpTracer{}
	globalTracerMu sync.RWMutex
)

// SetTracer sets the tracer used by observers created without one. A nil
// tracer restores NoOpTracer.
func SetTracer(t Tracer) {
	if t == nil {
		t = NoOpTracer{}
	}
	globalTracerMu.Lock()
	defer globalTracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer.
func GetTracer() Tracer {
	globalTracerMu.RLock()
	defer globalTracerMu.RUnlock()
	return globalTracer
}
