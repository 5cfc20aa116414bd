// Package bn implements arbitrary-precision signed integers for the
// public-key operations of the handshake: RSA, finite-field Diffie-Hellman
// and signature verification.
//
// An Int is a sign and a little-endian magnitude of 64-bit words. The
// representation is canonical: the magnitude has no leading zero words and
// zero is never negative. Mutating methods follow the z.Op(x, y) shape and
// store the result in z; z may alias any operand. Operations that can fail
// (division by zero, unsuitable moduli, malformed encodings) return an error
// and leave z unchanged.
//
// Values are not safe for concurrent mutation.
package bn

import (
	"math/bits"
)

// Int is an arbitrary-precision signed integer. The zero value is 0.
type Int struct {
	neg bool
	d   []Word
}

// New returns a new Int set to zero.
func New() *Int {
	return new(Int)
}

// NewInt returns a new Int set to x.
func NewInt(x int64) *Int {
	return new(Int).SetInt64(x)
}

// FromWord returns a new Int set to w.
func FromWord(w Word) *Int {
	return new(Int).SetWord(w)
}

// set installs a freshly computed magnitude and restores canonical form.
func (z *Int) set(neg bool, d []Word) *Int {
	z.d = norm(d)
	z.neg = neg && len(z.d) > 0
	return z
}

// SetInt64 sets z to x and returns z.
func (z *Int) SetInt64(x int64) *Int {
	neg := x < 0
	u := uint64(x)
	if neg {
		u = -u
	}
	return z.set(neg, []Word{u})
}

// SetWord sets z to w and returns z.
func (z *Int) SetWord(w Word) *Int {
	return z.set(false, []Word{w})
}

// SetZero sets z to 0.
func (z *Int) SetZero() *Int {
	z.neg = false
	z.d = nil
	return z
}

// Clear overwrites the magnitude words and sets z to 0. It is used to scrub
// private exponents once they are no longer needed.
func (z *Int) Clear() {
	clear(z.d[:cap(z.d)])
	z.SetZero()
}

// SetOne sets z to 1.
func (z *Int) SetOne() *Int {
	return z.SetWord(1)
}

// Set sets z to x and returns z.
func (z *Int) Set(x *Int) *Int {
	if z != x {
		z.set(x.neg, natCopy(x.d))
	}
	return z
}

// Copy returns a new Int equal to x.
func (x *Int) Copy() *Int {
	return new(Int).Set(x)
}

// Neg sets z to -x and returns z.
func (z *Int) Neg(x *Int) *Int {
	z.Set(x)
	z.neg = !z.neg && len(z.d) > 0
	return z
}

// Abs sets z to |x| and returns z.
func (z *Int) Abs(x *Int) *Int {
	z.Set(x)
	z.neg = false
	return z
}

// Sign returns -1, 0 or +1 depending on the sign of x.
func (x *Int) Sign() int {
	switch {
	case len(x.d) == 0:
		return 0
	case x.neg:
		return -1
	default:
		return 1
	}
}

// IsZero reports whether x is 0.
func (x *Int) IsZero() bool { return len(x.d) == 0 }

// IsOne reports whether x is +1.
func (x *Int) IsOne() bool { return !x.neg && len(x.d) == 1 && x.d[0] == 1 }

// IsWord reports whether x equals the non-negative word w.
func (x *Int) IsWord(w Word) bool {
	if w == 0 {
		return x.IsZero()
	}
	return !x.neg && len(x.d) == 1 && x.d[0] == w
}

// IsOdd reports whether x is odd.
func (x *Int) IsOdd() bool { return len(x.d) > 0 && x.d[0]&1 == 1 }

// IsNegative reports whether x < 0.
func (x *Int) IsNegative() bool { return x.neg }

// BitLen returns the length of |x| in bits. BitLen of 0 is 0.
func (x *Int) BitLen() int {
	if len(x.d) == 0 {
		return 0
	}
	return (len(x.d)-1)*wordBits + bits.Len64(x.d[len(x.d)-1])
}

// ByteLen returns the length of |x| in bytes.
func (x *Int) ByteLen() int {
	return (x.BitLen() + 7) / 8
}

// Bit returns bit i of |x|.
func (x *Int) Bit(i int) uint {
	w := i / wordBits
	if i < 0 || w >= len(x.d) {
		return 0
	}
	return uint(x.d[w]>>(uint(i)%wordBits)) & 1
}

// SetBit sets bit i of the magnitude of z to b (0 or 1) and returns z.
func (z *Int) SetBit(i int, b uint) *Int {
	w := i / wordBits
	d := z.d
	if w >= len(d) {
		if b == 0 {
			return z
		}
		nd := make([]Word, w+1)
		copy(nd, d)
		d = nd
	} else {
		d = natCopy(d)
	}
	mask := Word(1) << (uint(i) % wordBits)
	if b == 0 {
		d[w] &^= mask
	} else {
		d[w] |= mask
	}
	return z.set(z.neg, d)
}

// MaskBits truncates the magnitude of z to its low n bits.
func (z *Int) MaskBits(n int) *Int {
	if n < 0 {
		n = 0
	}
	w := (n + wordBits - 1) / wordBits
	if w > len(z.d) {
		return z
	}
	d := natCopy(z.d[:w])
	if r := n % wordBits; r != 0 {
		d[w-1] &= (Word(1) << uint(r)) - 1
	}
	return z.set(z.neg, d)
}

// Cmp compares x and y and returns -1, 0 or +1.
func (x *Int) Cmp(y *Int) int {
	switch {
	case x.neg && !y.neg:
		return -1
	case !x.neg && y.neg:
		return 1
	}
	r := natCmp(x.d, y.d)
	if x.neg {
		r = -r
	}
	return r
}

// CmpAbs compares |x| and |y|.
func (x *Int) CmpAbs(y *Int) int {
	return natCmp(x.d, y.d)
}

// Words returns a copy of the little-endian magnitude of x.
func (x *Int) Words() []Word {
	return natCopy(x.d)
}

// String returns the decimal representation of x.
func (x *Int) String() string {
	return x.Decimal()
}
