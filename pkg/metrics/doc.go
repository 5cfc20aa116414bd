// Package metrics provides observability for quantum-tls handshakes.
//
// # Overview
//
// The package offers:
//   - Prometheus metrics for handshakes, alerts, resumptions and tickets
//   - Tracing through a small Tracer interface (OpenTelemetry with -tags otel)
//   - Structured, levelled logging that never writes secret fields
//   - A newline-delimited JSON event log of handshake transitions
//   - Health check endpoints
//
// # Handshake Observer
//
// HandshakeObserver implements handshake.Observer and ties the pieces
// together. Create one per role and set it on the handshake.Config:
//
//	collector := metrics.NewCollector("quantum_tls", metrics.Labels{"instance": "edge-1"})
//	cfg := handshake.DefaultConfig()
//	cfg.Observer = metrics.NewHandshakeObserver(metrics.HandshakeObserverConfig{
//		Collector: collector,
//		Logger:    metrics.ProductionLogger(os.Stderr),
//		Events:    metrics.NewEventLog(eventFile),
//		Role:      metrics.RoleServer,
//	})
//
// Handshakes rejected by a handshake.RateLimiter are recorded with
// RateLimitObserver:
//
//	limiter := metrics.NewRateLimitObserver(collector, nil, nil).
//		Attach(handshake.NewRateLimiter(100, 20))
//	cfg.DoSProtection = limiter.Allow
//
// # Prometheus Export
//
// Each Collector owns a registry. Serve it directly or add it to another
// registerer:
//
//	http.Handle("/metrics", collector.Handler())
//	collector.Register(prometheus.DefaultRegisterer)
//
// # Tracing
//
//	metrics.SetTracer(metrics.NewOTelTracer("quantum-tls")) // build with -tags otel
//
// Each handshake attempt opens one span, tls.handshake.client or
// tls.handshake.server. Suspensions (with their retry reason), state
// changes, alerts, resumptions and issued tickets are span events; when the
// attempt ends the span gets the negotiated version and cipher suite,
// whether the session was resumed, the final state and the outcome. An
// attempt abandoned through its context ends with outcome "canceled" and is
// not counted as a failure; the next Handshake call opens a new span.
//
// # Structured Logging
//
//	logger := metrics.NewLogger(
//		metrics.WithLevel(metrics.LevelInfo),
//		metrics.WithFormat(metrics.FormatJSON),
//	)
//	logger.Named("handshake").Info("completed", metrics.Fields{"cipher_suite": name})
//
// Fields whose key mentions a secret, premaster, psk, private key or
// password are written as [REDACTED].
//
// # Observability Server
//
//	server := metrics.NewServer(metrics.ServerConfig{Collector: collector, Version: version.String()})
//	go server.ListenAndServe(":9090")
//
// This serves /metrics, /health, /healthz and /readyz. The health report
// always includes the cryptographic self-test and turns degraded when more
// than DegradedFailureRate of finished handshakes fail.
package metrics
