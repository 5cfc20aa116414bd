package metrics

import (
	"bytes"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sara-star-quant/quantum-tls/pkg/handshake"
)

func TestRateLimitObserverRecordsMetrics(t *testing.T) {
	collector := NewCollector("rl", nil)
	var logs, events bytes.Buffer
	observer := NewRateLimitObserver(collector, TestLogger(&logs), NewEventLog(&events))

	limiter := observer.Attach(handshake.NewRateLimiter(0, 1).LimitPerServerName(0.001))
	info := &handshake.ClientHelloInfo{ServerName: "example.test"}
	if !limiter.Allow(info) {
		t.Fatal("first handshake denied")
	}
	if limiter.Allow(info) {
		t.Fatal("second handshake allowed")
	}

	if got := testutil.ToFloat64(collector.limited); got != 1 {
		t.Fatalf("expected one limited handshake, got %v", got)
	}
	if !strings.Contains(logs.String(), "server_name=example.test") {
		t.Errorf("log missing server name: %s", logs.String())
	}
	if !strings.Contains(events.String(), `"event":"handshake_rate_limited"`) {
		t.Errorf("event missing: %s", events.String())
	}
}
