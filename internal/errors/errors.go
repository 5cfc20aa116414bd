// Package errors defines the error types shared by the quantum-tls packages.
// Messages identify the failing check without echoing secret material, and
// every fatal handshake failure carries the alert that was sent to the peer.
package errors

import (
	"errors"
	"fmt"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
)

// Sentinel errors for the bignum engine
var (
	// ErrDivisionByZero indicates a zero divisor or modulus
	ErrDivisionByZero = errors.New("bn: division by zero")

	// ErrInvalidModulus indicates an even or zero modulus where an odd one is required
	ErrInvalidModulus = errors.New("bn: invalid modulus")

	// ErrNotASquare indicates the input has no square root modulo p
	ErrNotASquare = errors.New("bn: not a square")

	// ErrNegativeInput indicates an operation that requires a non-negative operand
	ErrNegativeInput = errors.New("bn: negative input")

	// ErrBufferTooSmall indicates an encoding does not fit the requested width
	ErrBufferTooSmall = errors.New("bn: buffer too small")

	// ErrInvalidEncoding indicates a malformed serialized integer
	ErrInvalidEncoding = errors.New("bn: invalid encoding")

	// ErrBitsTooSmall indicates a requested bit length cannot satisfy the constraints
	ErrBitsTooSmall = errors.New("bn: bits too small")

	// ErrNoInverse indicates the value is not invertible modulo the modulus
	ErrNoInverse = errors.New("bn: no inverse")

	// ErrNotPrime indicates the modulus of a prime-only operation is composite
	ErrNotPrime = errors.New("bn: modulus not prime")

	// ErrNegativeNumber indicates a negative value given to an unsigned encoding
	ErrNegativeNumber = errors.New("bn: negative number")

	// ErrInvalidRange indicates an empty range for uniform sampling
	ErrInvalidRange = errors.New("bn: invalid range")
)

// Sentinel errors for key exchange
var (
	// ErrInvalidPublicKey indicates the peer's public value failed validation
	ErrInvalidPublicKey = errors.New("kex: invalid peer public value")

	// ErrInvalidKeySize indicates a key or share has the wrong length
	ErrInvalidKeySize = errors.New("kex: invalid key size")

	// ErrUnsupportedGroup indicates the named group is not enabled
	ErrUnsupportedGroup = errors.New("kex: unsupported group")

	// ErrBadDHParams indicates DHE parameters outside the accepted range
	ErrBadDHParams = errors.New("kex: bad DH parameters")

	// ErrKeyExchangeState indicates an operation called out of order
	ErrKeyExchangeState = errors.New("kex: invalid state")

	// ErrInvalidPrivateKey indicates missing or malformed private material
	ErrInvalidPrivateKey = errors.New("kex: invalid private key")

	// ErrInvalidCiphertext indicates a malformed KEM ciphertext
	ErrInvalidCiphertext = errors.New("kex: invalid ciphertext")
)

// Sentinel errors for ticket sealing
var (
	// ErrAuthenticationFailed indicates AEAD authentication failed
	ErrAuthenticationFailed = errors.New("aead: authentication failed")

	// ErrCiphertextTooShort indicates the sealed value is truncated
	ErrCiphertextTooShort = errors.New("aead: ciphertext too short")
)

// Sentinel errors for protocol operations
var (
	// ErrInvalidMessage indicates a handshake message is malformed
	ErrInvalidMessage = errors.New("protocol: invalid message")

	// ErrUnexpectedMessage indicates a message arrived in the wrong state
	ErrUnexpectedMessage = errors.New("protocol: unexpected message")

	// ErrUnsupportedVersion indicates no common protocol version
	ErrUnsupportedVersion = errors.New("protocol: unsupported version")

	// ErrVersionMismatch indicates a message disagreed with the pinned version
	ErrVersionMismatch = errors.New("protocol: version mismatch")

	// ErrUnsupportedCipherSuite indicates no acceptable cipher suite
	ErrUnsupportedCipherSuite = errors.New("protocol: unsupported cipher suite")

	// ErrWrongCipherReturned indicates the server picked a suite the client did not offer
	ErrWrongCipherReturned = errors.New("protocol: wrong cipher returned")

	// ErrHandshakeFailed indicates the handshake failed
	ErrHandshakeFailed = errors.New("protocol: handshake failed")

	// ErrInvalidState indicates an operation in an invalid state
	ErrInvalidState = errors.New("protocol: invalid state")

	// ErrMessageTooLarge indicates a message exceeds its size limit
	ErrMessageTooLarge = errors.New("protocol: message too large")

	// ErrBadSignature indicates a signature failed verification
	ErrBadSignature = errors.New("protocol: bad signature")

	// ErrBadFinished indicates the peer's Finished did not match the transcript
	ErrBadFinished = errors.New("protocol: digest check failed")

	// ErrCertificateRequired indicates a required peer certificate was not sent
	ErrCertificateRequired = errors.New("protocol: peer did not return a certificate")

	// ErrWrongCertificateType indicates the leaf key does not match the cipher suite
	ErrWrongCertificateType = errors.New("protocol: wrong certificate type")

	// ErrPSKIdentityNotFound indicates no key matches the PSK identity
	ErrPSKIdentityNotFound = errors.New("protocol: psk identity not found")

	// ErrSessionMismatch indicates a resumed session disagrees with the negotiation
	ErrSessionMismatch = errors.New("protocol: resumed session mismatch")

	// ErrInvalidTicket indicates a session ticket is invalid or malformed
	ErrInvalidTicket = errors.New("protocol: invalid ticket")

	// ErrExpiredTicket indicates a session ticket has expired
	ErrExpiredTicket = errors.New("protocol: expired ticket")

	// ErrConnectionRejected indicates a callback rejected the connection
	ErrConnectionRejected = errors.New("protocol: connection rejected")

	// ErrInvalidConfig indicates the configuration cannot drive a handshake
	ErrInvalidConfig = errors.New("protocol: invalid config")

	// ErrPeerAlert indicates the peer sent a fatal alert
	ErrPeerAlert = errors.New("protocol: peer sent alert")
)

// Record layer errors
var (
	// ErrConnectionClosed indicates the transport reached EOF or was closed
	ErrConnectionClosed = errors.New("record: connection closed")

	// ErrRecordOverflow indicates a record longer than the protocol allows
	ErrRecordOverflow = errors.New("record: record overflow")

	// ErrBadRecord indicates a malformed record header
	ErrBadRecord = errors.New("record: malformed record")
)

// Retry conditions. These are not failures: the caller re-invokes the
// handshake once the condition clears.
var (
	// ErrWouldBlock indicates the transport has no data or cannot accept writes yet
	ErrWouldBlock = errors.New("would block")

	// ErrPending indicates an asynchronous callback has not completed
	ErrPending = errors.New("operation pending")
)

// CryptoError wraps a cryptographic error with additional context
type CryptoError struct {
	Op  string // Operation that failed
	Err error  // Underlying error
}

func (e *CryptoError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error {
	return e.Err
}

// NewCryptoError creates a new CryptoError
func NewCryptoError(op string, err error) *CryptoError {
	return &CryptoError{Op: op, Err: err}
}

// ProtocolError wraps a protocol error with additional context
type ProtocolError struct {
	Phase string // Handshake phase (e.g., "server_hello", "client_key_exchange")
	Err   error  // Underlying error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol %s: %v", e.Phase, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NewProtocolError creates a new ProtocolError
func NewProtocolError(phase string, err error) *ProtocolError {
	return &ProtocolError{Phase: phase, Err: err}
}

// AlertError is a fatal failure together with the alert that reports it.
type AlertError struct {
	Alert constants.AlertDescription
	Err   error
}

func (e *AlertError) Error() string {
	return fmt.Sprintf("%v (alert %s)", e.Err, e.Alert)
}

func (e *AlertError) Unwrap() error {
	return e.Err
}

// NewAlertError creates a new AlertError
func NewAlertError(alert constants.AlertDescription, err error) *AlertError {
	return &AlertError{Alert: alert, Err: err}
}

// AlertFor returns the alert carried by err, or internal_error when err
// carries none.
func AlertFor(err error) constants.AlertDescription {
	var ae *AlertError
	if errors.As(err, &ae) {
		return ae.Alert
	}
	return constants.AlertInternalError
}

// IsRetry reports whether err is a retry condition rather than a failure.
func IsRetry(err error) bool {
	return errors.Is(err, ErrWouldBlock) || errors.Is(err, ErrPending)
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
