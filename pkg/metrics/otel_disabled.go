//go:build !otel

package metrics

// NewOTelTracer returns NoOpTracer; build with -tags otel to export spans.
func NewOTelTracer(string) Tracer { return NoOpTracer{} }

// OTelEnabled reports whether OpenTelemetry support is built in.
func OTelEnabled() bool { return false }
