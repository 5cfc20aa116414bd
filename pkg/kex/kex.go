// Package kex implements the key exchanges negotiated by TLS cipher suites.
//
// Every exchange is a two-message protocol driven through one interface.
// The server is the initiator: it calls Offer and places the result in
// ServerKeyExchange. The client is the responder: it calls Accept on the
// parsed parameters and sends the response in ClientKeyExchange. The server
// then calls Finish on that response. Both sides end with the same premaster
// input, and Cleanup scrubs the ephemeral private key.
//
//	server                         client
//	  offer  = Offer(rand)   --->
//	                         <---  response, secret = Accept(rand, offer)
//	  secret = Finish(response)
//
// Supported kinds:
//   - DHE: explicit finite-field group (p, g), bignum arithmetic
//   - ECDHE: named groups X25519, P-256 and P-384
//   - Hybrid: X25519 combined with ML-KEM-768
//   - PSK: no ephemeral share, only the premaster composition
//
// Which kinds and groups a connection may use is held by Capabilities, so new
// exchanges can be registered without touching the handshake state machines.
package kex

import (
	"io"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

// Kind is a key-exchange algorithm family.
type Kind uint8

const (
	KindDHE Kind = iota + 1
	KindECDHE
	KindPSK
	KindHybrid
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindDHE:
		return "DHE"
	case KindECDHE:
		return "ECDHE"
	case KindPSK:
		return "PSK"
	case KindHybrid:
		return "Hybrid"
	default:
		return "unknown"
	}
}

// GroupExplicit is the group of exchanges whose parameters travel on the
// wire (DHE) or that have none (PSK).
const GroupExplicit uint16 = 0

// KeyExchange is one side of a single key exchange. It is not safe for
// concurrent use and must not be reused across handshakes.
type KeyExchange interface {
	// Kind returns the algorithm family.
	Kind() Kind

	// Group returns the named group, or GroupExplicit.
	Group() uint16

	// Offer generates the initiator's ephemeral key and returns the
	// serialized ServerKeyExchange parameters.
	Offer(r io.Reader) ([]byte, error)

	// Accept consumes the initiator's parameters, generates the responder's
	// share, and returns the ClientKeyExchange body and the shared secret.
	Accept(r io.Reader, offer []byte) (response, secret []byte, err error)

	// Finish consumes the responder's ClientKeyExchange body and returns
	// the shared secret.
	Finish(response []byte) ([]byte, error)

	// Cleanup scrubs the ephemeral private key.
	Cleanup()
}

func decodeError(err error) error {
	return qerrors.NewAlertError(constants.AlertDecodeError, err)
}

func illegalParameter(err error) error {
	return qerrors.NewAlertError(constants.AlertIllegalParameter, err)
}

func internalError(err error) error {
	return qerrors.NewAlertError(constants.AlertInternalError, err)
}
