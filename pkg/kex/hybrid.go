// hybrid.go implements the post-quantum hybrid exchange: X25519 combined
// with ML-KEM-768.
//
// The exchange keeps the CECPQ1 message shapes, a single u16-prefixed blob in
// each direction, with the lattice half replaced by ML-KEM:
//
//	offer    = x25519_pub(32) || mlkem_ek(1184)
//	response = x25519_pub(32) || mlkem_ct(1088)
//	secret   = x25519_shared(32) || mlkem_shared(32)
//
// The secret stays secure if either component does. Both halves enter the
// TLS PRF through the premaster, so no separate combiner is needed.
package kex

import (
	"io"

	"golang.org/x/crypto/cryptobyte"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
	"github.com/sara-star-quant/quantum-tls/pkg/crypto"
)

type hybrid struct {
	x *crypto.ECDHKeyPair
	m *crypto.MLKEMKeyPair
}

// NewHybrid returns an X25519+ML-KEM-768 exchange.
func NewHybrid() KeyExchange {
	return &hybrid{}
}

func (h *hybrid) Kind() Kind    { return KindHybrid }
func (h *hybrid) Group() uint16 { return constants.GroupX25519MLKEM768 }

func (h *hybrid) Offer(r io.Reader) ([]byte, error) {
	if h.x != nil {
		return nil, internalError(qerrors.ErrKeyExchangeState)
	}
	x, err := crypto.GenerateECDHKeyPair(constants.GroupX25519, r)
	if err != nil {
		return nil, internalError(err)
	}
	m, err := crypto.GenerateMLKEMKeyPair(r)
	if err != nil {
		return nil, internalError(err)
	}
	h.x, h.m = x, m

	var b cryptobyte.Builder
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(x.PublicKeyBytes())
		b.AddBytes(m.PublicKeyBytes())
	})
	return b.Bytes()
}

func (h *hybrid) Accept(r io.Reader, offer []byte) ([]byte, []byte, error) {
	if h.x != nil {
		return nil, nil, internalError(qerrors.ErrKeyExchangeState)
	}
	s := cryptobyte.String(offer)
	var body cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&body) || !s.Empty() {
		return nil, nil, decodeError(qerrors.ErrInvalidMessage)
	}
	if len(body) != constants.HybridOfferSize {
		return nil, nil, illegalParameter(qerrors.ErrInvalidKeySize)
	}
	peerX := body[:constants.X25519PublicKeySize]
	peerEK := body[constants.X25519PublicKeySize:]

	x, err := crypto.GenerateECDHKeyPair(constants.GroupX25519, r)
	if err != nil {
		return nil, nil, internalError(err)
	}
	h.x = x
	xs, err := x.SharedSecret(peerX)
	if err != nil {
		return nil, nil, illegalParameter(err)
	}
	ct, ms, err := crypto.MLKEMEncapsulate(r, peerEK)
	if err != nil {
		crypto.Zeroize(xs)
		return nil, nil, illegalParameter(err)
	}

	var b cryptobyte.Builder
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(x.PublicKeyBytes())
		b.AddBytes(ct)
	})
	resp, err := b.Bytes()
	if err != nil {
		return nil, nil, internalError(err)
	}
	return resp, combine(xs, ms), nil
}

func (h *hybrid) Finish(response []byte) ([]byte, error) {
	if h.x == nil || h.m == nil {
		return nil, internalError(qerrors.ErrKeyExchangeState)
	}
	s := cryptobyte.String(response)
	var body cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&body) || !s.Empty() {
		return nil, decodeError(qerrors.ErrInvalidMessage)
	}
	if len(body) != constants.HybridResponseSize {
		return nil, illegalParameter(qerrors.ErrInvalidKeySize)
	}

	xs, err := h.x.SharedSecret(body[:constants.X25519PublicKeySize])
	if err != nil {
		return nil, illegalParameter(err)
	}
	ms, err := h.m.Decapsulate(body[constants.X25519PublicKeySize:])
	if err != nil {
		crypto.Zeroize(xs)
		return nil, illegalParameter(err)
	}
	return combine(xs, ms), nil
}

func combine(xs, ms []byte) []byte {
	out := make([]byte, 0, constants.HybridSecretSize)
	out = append(out, xs...)
	out = append(out, ms...)
	crypto.ZeroizeMultiple(xs, ms)
	return out
}

func (h *hybrid) Cleanup() {
	if h.x != nil {
		h.x.Zeroize()
	}
	if h.m != nil {
		h.m.Zeroize()
	}
}
