package bn

import (
	"crypto/rand"
	"io"

	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

// Top-bit controls for Rand.
const (
	// TopAny leaves the most significant bit random.
	TopAny = -1
	// TopOne forces the most significant bit to 1.
	TopOne = 0
	// TopTwo forces the two most significant bits to 1.
	TopTwo = 1
)

// Bottom-bit controls for Rand.
const (
	BottomAny = 0
	BottomOdd = 1
)

func reader(r io.Reader) io.Reader {
	if r == nil {
		return rand.Reader
	}
	return r
}

// Rand sets z to a random non-negative value of at most bits bits read from
// r (crypto/rand when nil). top and bottom force leading and trailing bits
// as described by the Top* and Bottom* constants. A bit length of zero
// always yields zero regardless of the flags.
func (z *Int) Rand(r io.Reader, bits, top, bottom int) error {
	if bits < 0 || top < TopAny || top > TopTwo || (bottom != BottomAny && bottom != BottomOdd) {
		return qerrors.ErrBitsTooSmall
	}
	if bits == 0 {
		z.SetZero()
		return nil
	}

	buf := make([]byte, (bits+7)/8)
	if _, err := io.ReadFull(reader(r), buf); err != nil {
		return qerrors.NewCryptoError("bn-rand", err)
	}

	bit := uint(bits-1) % 8
	buf[0] &= byte(1<<(bit+1) - 1)
	if top != TopAny {
		if top == TopTwo && bits > 1 {
			if bit == 0 {
				buf[0] = 1
				buf[1] |= 0x80
			} else {
				buf[0] |= 3 << (bit - 1)
			}
		} else {
			buf[0] |= 1 << bit
		}
	}
	if bottom == BottomOdd {
		buf[len(buf)-1] |= 1
	}
	z.SetBytes(buf)
	return nil
}

// RandRange sets z to a uniformly random value in [0, max) by rejection
// sampling. max must be positive.
func (z *Int) RandRange(r io.Reader, max *Int) error {
	if max.Sign() <= 0 {
		return qerrors.ErrInvalidRange
	}
	if max.IsOne() {
		z.SetZero()
		return nil
	}
	n := max.BitLen()
	c := new(Int)
	// each attempt succeeds with probability above one half
	for i := 0; i < 100; i++ {
		if err := c.Rand(r, n, TopAny, BottomAny); err != nil {
			return err
		}
		if c.Cmp(max) < 0 {
			z.Set(c)
			return nil
		}
	}
	return qerrors.NewCryptoError("bn-rand-range", qerrors.ErrInvalidRange)
}
