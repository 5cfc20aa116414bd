package bn

import (
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

// GCD sets z to the greatest common divisor of |x| and |y| and returns z.
// GCD(0, 0) is 0.
func (z *Int) GCD(x, y *Int) *Int {
	a := new(Int).Abs(x)
	b := new(Int).Abs(y)
	for !b.IsZero() {
		r := new(Int)
		// b is non-zero
		_ = r.Mod(a, b)
		a, b = b, r
	}
	return z.Set(a)
}

// ModInverse sets z to the inverse of x modulo m, in [0, m). It returns
// ErrNoInverse when gcd(x, m) != 1 and ErrDivisionByZero for m = 0.
func (z *Int) ModInverse(x, m *Int) error {
	if m.IsZero() {
		return qerrors.ErrDivisionByZero
	}
	mod := new(Int).Abs(m)
	a := new(Int)
	if err := a.NNMod(x, mod); err != nil {
		return err
	}

	// extended Euclid on (a, mod) tracking the coefficient of a
	oldR, r := a, mod.Copy()
	oldS, s := NewInt(1), New()
	for !r.IsZero() {
		q, rem := new(Int), new(Int)
		if err := QuoRem(q, rem, oldR, r); err != nil {
			return err
		}
		oldR, r = r, rem
		oldS, s = s, new(Int).Sub(oldS, new(Int).Mul(q, s))
	}
	if !oldR.IsOne() {
		return qerrors.ErrNoInverse
	}
	return z.NNMod(oldS, mod)
}
