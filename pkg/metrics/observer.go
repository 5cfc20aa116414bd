package metrics

import (
	"context"
	"time"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	"github.com/sara-star-quant/quantum-tls/pkg/handshake"
)

// HandshakeObserver implements handshake.Observer. It records metrics into
// a Collector, opens one span per handshake attempt, logs transitions and
// writes an optional event log. One observer serves every handshake of a
// Config and is safe for concurrent use; per-handshake state lives in the
// context returned by OnHandshakeStart.
type HandshakeObserver struct {
	collector *Collector
	tracer    Tracer
	logger    *Logger
	events    *EventLog
	role      Role
	dtls      bool
}

var _ handshake.Observer = (*HandshakeObserver)(nil)

// HandshakeObserverConfig configures a handshake observer. Nil fields fall
// back to the global collector, tracer and logger.
type HandshakeObserverConfig struct {
	Collector *Collector
	Tracer    Tracer
	Logger    *Logger
	Events    *EventLog
	Role      Role
	DTLS      bool
}

// NewHandshakeObserver creates an observer for one side of the handshake.
func NewHandshakeObserver(cfg HandshakeObserverConfig) *HandshakeObserver {
	if cfg.Collector == nil {
		cfg.Collector = Global()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = GetTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = GetLogger()
	}
	if cfg.Role == "" {
		cfg.Role = RoleClient
	}
	return &HandshakeObserver{
		collector: cfg.Collector,
		tracer:    cfg.Tracer,
		logger: cfg.Logger.Named("handshake." + string(cfg.Role)).With(Fields{
			"role": string(cfg.Role),
			"dtls": cfg.DTLS,
		}),
		events: cfg.Events,
		role:   cfg.Role,
		dtls:   cfg.DTLS,
	}
}

type handshakeKey struct{}

// attempt is the per-handshake state carried in the context returned by
// OnHandshakeStart.
type attempt struct {
	span    Span
	start   time.Time
	retries int
}

func attemptFrom(ctx context.Context) *attempt {
	if a, ok := ctx.Value(handshakeKey{}).(*attempt); ok {
		return a
	}
	return &attempt{span: noopSpan{}, start: time.Now()}
}

// OnHandshakeStart opens the handshake span. The returned function records
// the outcome, sets the negotiated parameters on the span and closes it.
func (o *HandshakeObserver) OnHandshakeStart(ctx context.Context) (context.Context, func(handshake.Outcome)) {
	kind := SpanKindClient
	if o.role == RoleServer {
		kind = SpanKindServer
	}
	ctx, span := o.tracer.StartSpan(ctx, HandshakeSpanName(o.role), kind,
		Attributes{AttrRole: string(o.role), AttrDTLS: o.dtls})
	at := &attempt{span: span, start: time.Now()}
	ctx = context.WithValue(ctx, handshakeKey{}, at)

	o.collector.HandshakeStarted(o.role)
	o.logger.Debug("handshake started")
	o.events.Record(Event{Type: EventHandshakeStart, Role: o.role})

	return ctx, func(out handshake.Outcome) {
		d := time.Since(at.start)
		o.collector.HandshakeFinished(o.role, d, out.Err)

		attrs := HandshakeAttributes(out)
		attrs[AttrRetries] = at.retries
		span.SetAttributes(attrs)

		ev := Event{
			Type:        EventHandshakeEnd,
			Role:        o.role,
			Duration:    d,
			Outcome:     OutcomeLabel(out.Err),
			State:       out.State,
			Version:     out.VersionName(),
			CipherSuite: out.CipherSuiteName(),
			ServerName:  out.ServerName,
			Resumed:     out.Resumed,
			Retries:     at.retries,
		}
		switch ev.Outcome {
		case OutcomeCompleted:
			o.logger.Info("handshake completed", Fields{
				"duration":     d,
				"version":      ev.Version,
				"cipher_suite": ev.CipherSuite,
				"resumed":      out.Resumed,
			})
		case OutcomeCanceled:
			o.logger.Info("handshake canceled", Fields{"state": out.State, "duration": d})
			ev.Error = out.Err.Error()
		default:
			ev.Alert, ev.Error = AlertLabel(out.Err), out.Err.Error()
			o.logger.Error("handshake failed", Fields{
				"error":    ev.Error,
				"alert":    ev.Alert,
				"state":    out.State,
				"duration": d,
			})
		}
		o.events.Record(ev)
		span.End(out.Err)
	}
}

// OnStateChange logs a state transition.
func (o *HandshakeObserver) OnStateChange(ctx context.Context, from, to string) {
	attemptFrom(ctx).span.AddEvent(SpanEventStateChange, Attributes{AttrFrom: from, AttrTo: to})
	o.logger.Debug("state change", Fields{"from": from, "to": to})
	o.events.Record(Event{Type: EventStateChange, Role: o.role, From: from, To: to})
}

// OnRetry records a suspended Handshake call.
func (o *HandshakeObserver) OnRetry(ctx context.Context, reason handshake.RetryReason) {
	at := attemptFrom(ctx)
	at.retries++
	at.span.AddEvent(SpanEventRetry, Attributes{AttrRetryReason: reason.String()})
	o.collector.Suspended(o.role, reason.String())
	o.logger.Debug("handshake suspended", Fields{"reason": reason.String()})
	o.events.Record(Event{Type: EventRetry, Role: o.role, Reason: reason.String()})
}

// OnAlertSent records a fatal alert sent to the peer.
func (o *HandshakeObserver) OnAlertSent(ctx context.Context, alert constants.AlertDescription) {
	attemptFrom(ctx).span.AddEvent(SpanEventAlert, Attributes{AttrAlert: alert.String()})
	o.collector.AlertSent(o.role, alert.String())
	o.logger.Warn("alert sent", Fields{"alert": alert.String()})
	o.events.Record(Event{Type: EventAlertSent, Role: o.role, Alert: alert.String()})
}

// OnResumption records an abbreviated handshake.
func (o *HandshakeObserver) OnResumption(ctx context.Context) {
	attemptFrom(ctx).span.AddEvent(SpanEventResumption, nil)
	o.collector.Resumed(o.role)
	o.logger.Debug("session resumed")
	o.events.Record(Event{Type: EventResumption, Role: o.role})
}

// OnTicketIssued records a NewSessionTicket sent by the server.
func (o *HandshakeObserver) OnTicketIssued(ctx context.Context, placeholder bool) {
	attemptFrom(ctx).span.AddEvent(SpanEventTicket, Attributes{AttrPlaceholder: placeholder})
	o.collector.TicketIssued(placeholder)
	if placeholder {
		o.logger.Warn("session too large for a ticket, sent placeholder")
	}
	o.events.Record(Event{Type: EventTicketIssued, Role: o.role, Placeholder: placeholder})
}

// OnPremasterSubstituted records a failed handshake whose RSA premaster did
// not decrypt correctly.
func (o *HandshakeObserver) OnPremasterSubstituted(ctx context.Context) {
	attemptFrom(ctx).span.AddEvent(SpanEventPremaster, nil)
	o.collector.PremasterSubstituted()
	o.logger.Warn("RSA premaster was malformed")
	o.events.Record(Event{Type: EventPremasterReplace, Role: o.role})
}

// Logger returns the observer's logger.
func (o *HandshakeObserver) Logger() *Logger {
	return o.logger
}
