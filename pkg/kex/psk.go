package kex

import (
	"io"

	"golang.org/x/crypto/cryptobyte"

	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

// plain PSK has no ephemeral share; other_secret is a zero block of the
// PSK's length (RFC 4279 §2).
type pskExchange struct {
	n int
}

// NewPSK returns the exchange for plain PSK suites with a key of pskLen
// bytes.
func NewPSK(pskLen int) KeyExchange {
	return &pskExchange{n: pskLen}
}

func (p *pskExchange) Kind() Kind    { return KindPSK }
func (p *pskExchange) Group() uint16 { return GroupExplicit }

func (p *pskExchange) Offer(io.Reader) ([]byte, error) { return nil, nil }

func (p *pskExchange) Accept(_ io.Reader, offer []byte) ([]byte, []byte, error) {
	if len(offer) != 0 {
		return nil, nil, decodeError(qerrors.ErrInvalidMessage)
	}
	return nil, make([]byte, p.n), nil
}

func (p *pskExchange) Finish(response []byte) ([]byte, error) {
	if len(response) != 0 {
		return nil, decodeError(qerrors.ErrInvalidMessage)
	}
	return make([]byte, p.n), nil
}

func (p *pskExchange) Cleanup() {}

// PSKPremaster composes the premaster secret of PSK suites:
//
//	struct {
//	    opaque other_secret<0..2^16-1>;
//	    opaque psk<0..2^16-1>;
//	};
func PSKPremaster(otherSecret, psk []byte) ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(otherSecret) })
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(psk) })
	out, err := b.Bytes()
	if err != nil {
		return nil, internalError(err)
	}
	return out, nil
}
