// ecdhe.go implements elliptic-curve ephemeral Diffie-Hellman over named
// groups (RFC 8422 §5.4):
//
//	struct {
//	    ECCurveType curve_type;   // named_curve (3)
//	    NamedCurve  namedcurve;
//	    opaque      point<1..2^8-1>;
//	} ServerECDHParams;
//
// The client answers with opaque point<1..2^8-1>. Point validation happens in
// pkg/crypto when the share is parsed.
package kex

import (
	"io"

	"golang.org/x/crypto/cryptobyte"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
	"github.com/sara-star-quant/quantum-tls/pkg/crypto"
)

type ecdhe struct {
	group uint16
	kp    *crypto.ECDHKeyPair
}

// NewECDHE returns an ECDHE exchange on group.
func NewECDHE(group uint16) (KeyExchange, error) {
	if _, err := crypto.CurveForGroup(group); err != nil {
		return nil, err
	}
	return &ecdhe{group: group}, nil
}

func (e *ecdhe) Kind() Kind    { return KindECDHE }
func (e *ecdhe) Group() uint16 { return e.group }

func (e *ecdhe) generate(r io.Reader) error {
	if e.kp != nil {
		return internalError(qerrors.ErrKeyExchangeState)
	}
	kp, err := crypto.GenerateECDHKeyPair(e.group, r)
	if err != nil {
		return internalError(err)
	}
	e.kp = kp
	return nil
}

func (e *ecdhe) Offer(r io.Reader) ([]byte, error) {
	if err := e.generate(r); err != nil {
		return nil, err
	}
	var b cryptobyte.Builder
	b.AddUint8(constants.CurveTypeNamed)
	b.AddUint16(e.group)
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(e.kp.PublicKeyBytes()) })
	return b.Bytes()
}

func (e *ecdhe) Accept(r io.Reader, offer []byte) ([]byte, []byte, error) {
	s := cryptobyte.String(offer)
	var curveType uint8
	var group uint16
	var point cryptobyte.String
	if !s.ReadUint8(&curveType) || curveType != constants.CurveTypeNamed ||
		!s.ReadUint16(&group) ||
		!s.ReadUint8LengthPrefixed(&point) || point.Empty() || !s.Empty() {
		return nil, nil, decodeError(qerrors.ErrInvalidMessage)
	}
	if group != e.group {
		return nil, nil, illegalParameter(qerrors.ErrUnsupportedGroup)
	}
	if err := e.generate(r); err != nil {
		return nil, nil, err
	}
	secret, err := e.kp.SharedSecret(point)
	if err != nil {
		return nil, nil, illegalParameter(err)
	}

	var b cryptobyte.Builder
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(e.kp.PublicKeyBytes()) })
	resp, err := b.Bytes()
	if err != nil {
		return nil, nil, internalError(err)
	}
	return resp, secret, nil
}

func (e *ecdhe) Finish(response []byte) ([]byte, error) {
	if e.kp == nil {
		return nil, internalError(qerrors.ErrKeyExchangeState)
	}
	s := cryptobyte.String(response)
	var point cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&point) || point.Empty() || !s.Empty() {
		return nil, decodeError(qerrors.ErrInvalidMessage)
	}
	secret, err := e.kp.SharedSecret(point)
	if err != nil {
		return nil, illegalParameter(err)
	}
	return secret, nil
}

func (e *ecdhe) Cleanup() {
	if e.kp != nil {
		e.kp.Zeroize()
	}
}
