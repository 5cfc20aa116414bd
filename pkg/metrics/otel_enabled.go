//go:build otel

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NewOTelTracer returns a Tracer that exports handshake spans through the
// global OpenTelemetry TracerProvider under the given instrumentation name.
// Retries, alerts and resumptions become span events, and the negotiated
// version and cipher suite are set as attributes when the handshake ends.
func NewOTelTracer(instrumentation string) Tracer {
	if instrumentation == "" {
		instrumentation = "quantum-tls"
	}
	return otelTracer{tracer: otel.Tracer(instrumentation)}
}

// OTelEnabled reports whether OpenTelemetry support is built in.
func OTelEnabled() bool { return true }

type otelTracer struct {
	tracer trace.Tracer
}

func (t otelTracer) StartSpan(ctx context.Context, name string, kind SpanKind, attrs Attributes) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name,
		trace.WithSpanKind(otelSpanKind(kind)),
		trace.WithAttributes(otelAttributes(attrs)...))
	s := otelSpan{span: span}
	return contextWithSpan(ctx, s), s
}

type otelSpan struct {
	span trace.Span
}

func (s otelSpan) SetAttributes(attrs Attributes) {
	s.span.SetAttributes(otelAttributes(attrs)...)
}

func (s otelSpan) AddEvent(name string, attrs Attributes) {
	s.span.AddEvent(name, trace.WithAttributes(otelAttributes(attrs)...))
}

func (s otelSpan) End(err error) {
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}
	s.span.End()
}

func otelSpanKind(kind SpanKind) trace.SpanKind {
	switch kind {
	case SpanKindServer:
		return trace.SpanKindServer
	case SpanKindClient:
		return trace.SpanKindClient
	default:
		return trace.SpanKindInternal
	}
}

// otelAttributes converts the value types handshake spans carry.
func otelAttributes(attrs Attributes) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case uint16:
			out = append(out, attribute.Int(k, int(val)))
		case fmt.Stringer:
			out = append(out, attribute.String(k, val.String()))
		default:
			out = append(out, attribute.String(k, fmt.Sprint(val)))
		}
	}
	return out
}
