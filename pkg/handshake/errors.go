package handshake

import (
	"fmt"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

// Retry conditions that collaborators return to suspend a handshake. They
// are the same values as in internal/errors so that record layers and key
// backends outside this module can return them.
var (
	ErrWouldBlock = qerrors.ErrWouldBlock
	ErrPending    = qerrors.ErrPending
)

// RetryReason names the condition a suspended handshake is waiting for.
type RetryReason int

const (
	RetryRead RetryReason = iota + 1
	RetryWrite
	RetryCertificateSelection
	RetryCertificate
	RetryClientCertificate
	RetryPrivateKey
	RetrySessionLookup
)

// String returns the reason name.
func (r RetryReason) String() string {
	switch r {
	case RetryRead:
		return "read"
	case RetryWrite:
		return "write"
	case RetryCertificateSelection:
		return "certificate selection"
	case RetryCertificate:
		return "certificate"
	case RetryClientCertificate:
		return "client certificate"
	case RetryPrivateKey:
		return "private key operation"
	case RetrySessionLookup:
		return "session lookup"
	default:
		return "unknown"
	}
}

// RetryError is returned by Handshake when the state machine is suspended.
// Calling Handshake again re-enters the same state.
type RetryError struct {
	Reason RetryReason
	Err    error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("handshake suspended (%s): %v", e.Reason, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

// IsRetry reports whether err suspends rather than fails the handshake.
func IsRetry(err error) bool {
	return qerrors.IsRetry(err)
}

// retryAs tags a retry condition with its reason. Other errors pass
// through unchanged.
func retryAs(reason RetryReason, err error) error {
	if err == nil || !qerrors.IsRetry(err) {
		return err
	}
	var re *RetryError
	if qerrors.As(err, &re) {
		return err
	}
	return &RetryError{Reason: reason, Err: err}
}

func alertf(alert constants.AlertDescription, err error) error {
	return qerrors.NewAlertError(alert, err)
}
