package bn

import (
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

// Modular exponentiation entry points.
//
// Every variant defines x^0 mod m as 0 for all positive m. Modulo 1 the
// only residue is 0, and callers in this module rely on the same rule for
// larger moduli; internal algorithms that need the mathematical x^0 = 1
// use modExp instead.

// ModExp sets z to x^p mod m in [0, m). Odd moduli use Montgomery
// multiplication; even moduli fall back to square-and-multiply with
// division. A zero modulus returns ErrDivisionByZero.
func (z *Int) ModExp(x, p, m *Int) error {
	if m.IsZero() {
		return qerrors.ErrDivisionByZero
	}
	if m.neg {
		return qerrors.ErrInvalidModulus
	}
	if p.neg {
		return qerrors.ErrNegativeInput
	}
	if p.IsZero() || m.IsOne() {
		z.SetZero()
		return nil
	}
	if m.IsOdd() {
		return z.ModExpMont(x, p, m)
	}
	r, err := modExpSimple(x, p, m)
	if err != nil {
		return err
	}
	z.Set(r)
	return nil
}

// ModExpMont sets z to x^p mod m for an odd positive m. Zero or even
// moduli return ErrInvalidModulus.
func (z *Int) ModExpMont(x, p, m *Int) error {
	mc, err := NewMontgomeryContext(m)
	if err != nil {
		return err
	}
	return mc.Exp(z, x, p)
}

// ModExpMontConsttime is ModExpMont for secret exponents; see
// MontgomeryContext.ExpConsttime.
func (z *Int) ModExpMontConsttime(x, p, m *Int) error {
	mc, err := NewMontgomeryContext(m)
	if err != nil {
		return err
	}
	return mc.ExpConsttime(z, x, p)
}

// ModExpMontWord sets z to a^p mod m for a single-word base.
func (z *Int) ModExpMontWord(a Word, p, m *Int) error {
	return z.ModExpMont(FromWord(a), p, m)
}

// modExpSimple computes x^p mod m by binary square-and-multiply using
// ModMul. It accepts any non-zero modulus and returns 1 mod m for p = 0.
func modExpSimple(x, p, m *Int) (*Int, error) {
	base := new(Int)
	if err := base.NNMod(x, m); err != nil {
		return nil, err
	}
	acc := new(Int)
	if err := acc.NNMod(NewInt(1), m); err != nil {
		return nil, err
	}
	for i := p.BitLen() - 1; i >= 0; i-- {
		if err := acc.ModSqr(acc, m); err != nil {
			return nil, err
		}
		if p.Bit(i) == 1 {
			if err := acc.ModMul(acc, base, m); err != nil {
				return nil, err
			}
		}
	}
	return acc, nil
}

// modExp returns x^p mod m with the mathematical convention x^0 = 1,
// for internal algorithms (primality testing, square roots).
func modExp(x, p, m *Int) (*Int, error) {
	if m.IsZero() {
		return nil, qerrors.ErrDivisionByZero
	}
	if p.neg {
		return nil, qerrors.ErrNegativeInput
	}
	if m.IsOdd() && !m.neg {
		mc, err := NewMontgomeryContext(m)
		if err != nil {
			return nil, err
		}
		return new(Int).set(false, mc.exp(mc.reduce(x), p.d)), nil
	}
	return modExpSimple(x, p, m)
}
