package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sara-star-quant/quantum-tls/pkg/handshake"
	"github.com/sara-star-quant/quantum-tls/pkg/metrics"
)

type obsOptions struct {
	addr      string
	logLevel  string
	logFormat string
	tracing   string
	events    string
}

type observability struct {
	collector  *metrics.Collector
	logger     *metrics.Logger
	events     *metrics.EventLog
	eventsFile *os.File
	spans      *metrics.SimpleTracer
}

func setupObservability(opts obsOptions) (*observability, error) {
	format, err := parseLogFormat(opts.logFormat)
	if err != nil {
		return nil, err
	}

	logger := metrics.NewLogger(
		metrics.WithOutput(os.Stderr),
		metrics.WithLevel(metrics.ParseLevel(opts.logLevel)),
		metrics.WithFormat(format),
		metrics.WithFields(metrics.Fields{"app": "quantum-tls"}),
	)
	metrics.SetLogger(logger)

	o := &observability{logger: logger}
	switch strings.ToLower(opts.tracing) {
	case "none", "":
		metrics.SetTracer(metrics.NoOpTracer{})
	case "simple":
		o.spans = metrics.NewSimpleTracer()
		metrics.SetTracer(o.spans)
	case "otel":
		if !metrics.OTelEnabled() {
			return nil, fmt.Errorf("otel tracing not enabled (build with -tags otel)")
		}
		metrics.SetTracer(metrics.NewOTelTracer("quantum-tls"))
	default:
		return nil, fmt.Errorf("invalid tracing mode: %s (use none, simple, or otel)", opts.tracing)
	}

	collector := metrics.NewCollector(metrics.DefaultNamespace, metrics.Labels{
		"service": "quantum-tls",
	})
	metrics.SetGlobal(collector)
	o.collector = collector
	if opts.events != "" {
		f, err := os.Create(opts.events)
		if err != nil {
			return nil, err
		}
		o.eventsFile = f
		o.events = metrics.NewEventLog(f)
	}
	return o, nil
}

func (o *observability) observer(role metrics.Role, dtls bool) handshake.Observer {
	return metrics.NewHandshakeObserver(metrics.HandshakeObserverConfig{
		Collector: o.collector,
		Logger:    o.logger,
		Events:    o.events,
		Role:      role,
		DTLS:      dtls,
	})
}

// serve starts the observability server on addr in the background.
func (o *observability) serve(addr string) {
	if addr == "" {
		return
	}
	server := metrics.NewServer(metrics.ServerConfig{
		Collector: o.collector,
		Version:   getVersion(),
	})
	go func() {
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			o.logger.Error("observability server error", metrics.Fields{"error": err.Error()})
		}
	}()
	fmt.Printf("✓ Observability server on %s (metrics: /metrics, health: /health)\n", addr)
}

// printSpans writes one line per recorded handshake span.
func (o *observability) printSpans() {
	if o.spans == nil {
		return
	}
	for _, s := range o.spans.Spans() {
		fmt.Printf("  span %-22s %-9v %-9v suite=%v resumed=%v retries=%v\n",
			s.Name, s.Duration.Round(time.Microsecond), s.Attributes[metrics.AttrOutcome],
			s.Attributes[metrics.AttrCipherSuite], s.Attributes[metrics.AttrResumed],
			s.Attributes[metrics.AttrRetries])
	}
}

func (o *observability) Close() error {
	o.printSpans()
	if o.eventsFile == nil {
		return nil
	}
	if err := o.events.Err(); err != nil {
		_ = o.eventsFile.Close()
		return err
	}
	return o.eventsFile.Close()
}

func parseLogFormat(format string) (metrics.Format, error) {
	switch strings.ToLower(format) {
	case "text":
		return metrics.FormatText, nil
	case "json":
		return metrics.FormatJSON, nil
	default:
		return metrics.FormatText, fmt.Errorf("invalid log format: %s (use text or json)", format)
	}
}
