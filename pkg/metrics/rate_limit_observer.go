package metrics

import "github.com/sara-star-quant/quantum-tls/pkg/handshake"

// RateLimitObserver records handshakes rejected by a handshake.RateLimiter.
// Attach it with Attach or by assigning OnLimited to RateLimiter.OnLimited.
type RateLimitObserver struct {
	collector *Collector
	logger    *Logger
	events    *EventLog
}

// NewRateLimitObserver creates a rate limit observer. Nil arguments fall
// back to the global collector and logger.
func NewRateLimitObserver(collector *Collector, logger *Logger, events *EventLog) *RateLimitObserver {
	if collector == nil {
		collector = Global()
	}
	if logger == nil {
		logger = GetLogger()
	}
	return &RateLimitObserver{
		collector: collector,
		logger:    logger.Named("rate_limit"),
		events:    events,
	}
}

// Attach installs the observer on l.
func (o *RateLimitObserver) Attach(l *handshake.RateLimiter) *handshake.RateLimiter {
	l.OnLimited = o.OnLimited
	return l
}

// OnLimited records a rejected handshake.
func (o *RateLimitObserver) OnLimited(info *handshake.ClientHelloInfo) {
	o.collector.HandshakeLimited()
	if info.ServerName != "" {
		o.logger.Warn("handshake rate limit exceeded", Fields{"server_name": info.ServerName})
	} else {
		o.logger.Warn("handshake rate limit exceeded")
	}
	o.events.Record(Event{Type: EventRateLimited, Role: RoleServer, ServerName: info.ServerName})
}
