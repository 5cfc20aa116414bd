package handshake

import (
	"context"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
)

// Observer provides hooks for handshake metrics, logging and tracing.
// Implementations should be lightweight; callbacks run inside the state
// machine. metrics.HandshakeObserver is the standard implementation.
//
// OnHandshakeStart returns the context every later hook of the same
// handshake receives, so an implementation shared by many connections can
// keep per-handshake state (such as a span) in it.
type Observer interface {
	OnHandshakeStart(ctx context.Context) (context.Context, func(Outcome))
	OnStateChange(ctx context.Context, from, to string)
	OnRetry(ctx context.Context, reason RetryReason)
	OnAlertSent(ctx context.Context, alert constants.AlertDescription)
	OnResumption(ctx context.Context)
	OnTicketIssued(ctx context.Context, placeholder bool)

	// OnPremasterSubstituted is reported only once the handshake has failed
	// its Finished check, never while the connection is still running.
	OnPremasterSubstituted(ctx context.Context)
}

// Outcome describes how a handshake attempt ended. Err is nil on success,
// the fatal error on failure, or the context's error when the caller gave
// up; a canceled handshake may be resumed and then reports a new attempt.
type Outcome struct {
	Err         error
	State       string
	Version     uint16
	CipherSuite uint16
	Resumed     bool
	ServerName  string
}

// VersionName returns the protocol name of the negotiated version, or ""
// before version negotiation.
func (o Outcome) VersionName() string {
	if o.Version == 0 {
		return ""
	}
	return constants.VersionName(o.Version)
}

// CipherSuiteName returns the negotiated suite's name, or "".
func (o Outcome) CipherSuiteName() string {
	if s, ok := CipherSuiteByID(o.CipherSuite); ok {
		return s.Name
	}
	return ""
}

type nopObserver struct{}

func (nopObserver) OnHandshakeStart(ctx context.Context) (context.Context, func(Outcome)) {
	return ctx, func(Outcome) {}
}
func (nopObserver) OnStateChange(context.Context, string, string)           {}
func (nopObserver) OnRetry(context.Context, RetryReason)                    {}
func (nopObserver) OnAlertSent(context.Context, constants.AlertDescription) {}
func (nopObserver) OnResumption(context.Context)                            {}
func (nopObserver) OnTicketIssued(context.Context, bool)                    {}
func (nopObserver) OnPremasterSubstituted(context.Context)                  {}
