package bn

import (
	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

// MarshalASN1 appends x to b as a DER INTEGER in minimal form: a leading
// zero byte is added only when the top bit of the magnitude is set. Negative
// values return ErrNegativeNumber without touching b.
func (x *Int) MarshalASN1(b *cryptobyte.Builder) error {
	if x.neg {
		return qerrors.ErrNegativeNumber
	}
	b.AddASN1(asn1.INTEGER, func(c *cryptobyte.Builder) {
		if x.IsZero() || x.BitLen()%8 == 0 {
			c.AddUint8(0)
		}
		c.AddBytes(x.Bytes())
	})
	return nil
}

// ParseASN1Unsigned reads a DER INTEGER from s into z. Encodings that are
// empty, negative or carry a redundant leading zero byte return
// ErrInvalidEncoding, and z is left unchanged.
func (z *Int) ParseASN1Unsigned(s *cryptobyte.String) error {
	var body cryptobyte.String
	if !s.ReadASN1(&body, asn1.INTEGER) || len(body) == 0 {
		return qerrors.ErrInvalidEncoding
	}
	if body[0]&0x80 != 0 {
		return qerrors.ErrNegativeNumber
	}
	if len(body) > 1 && body[0] == 0 && body[1]&0x80 == 0 {
		return qerrors.ErrInvalidEncoding
	}
	z.SetBytes(body)
	return nil
}

// ParseASN1UnsignedBuggy reads an INTEGER the way some broken encoders
// write it: leading zero bytes are allowed and a set top bit is read as
// part of a positive magnitude. Everything ParseASN1Unsigned accepts is
// accepted with the same value. This is only for interoperating with such
// peers and is never used by default.
func (z *Int) ParseASN1UnsignedBuggy(s *cryptobyte.String) error {
	var body cryptobyte.String
	if !s.ReadASN1(&body, asn1.INTEGER) || len(body) == 0 {
		return qerrors.ErrInvalidEncoding
	}
	z.SetBytes(body)
	return nil
}
