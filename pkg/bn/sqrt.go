package bn

import (
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

// ModSqrt sets z to a square root of a modulo the prime p, in [0, p).
// Negative inputs return ErrNegativeInput; a quadratic non-residue (or a
// composite p for which the search fails) returns ErrNotASquare. The result
// is always checked by squaring it back.
func (z *Int) ModSqrt(a, p *Int) error {
	if a.neg {
		return qerrors.ErrNegativeInput
	}
	if p.IsZero() {
		return qerrors.ErrDivisionByZero
	}
	if p.neg || (!p.IsOdd() && !p.IsWord(2)) || p.IsOne() {
		return qerrors.ErrInvalidModulus
	}

	A := new(Int)
	if err := A.NNMod(a, p); err != nil {
		return err
	}
	if p.IsWord(2) || A.IsZero() || A.IsOne() {
		z.Set(A)
		return nil
	}

	// Euler's criterion: A^((p-1)/2) must be 1
	pm1 := new(Int).SubWord(p, 1)
	half := new(Int).Rsh1(pm1)
	leg, err := modExp(A, half, p)
	if err != nil {
		return err
	}
	if !leg.IsOne() {
		return qerrors.ErrNotASquare
	}

	var r *Int
	switch {
	case p.d[0]&3 == 3:
		// r = A^((p+1)/4)
		e := new(Int).Rsh(new(Int).AddWord(p, 1), 2)
		r, err = modExp(A, e, p)
	case p.d[0]&7 == 5:
		r, err = sqrtAtkin(A, p)
	default:
		r, err = sqrtTonelliShanks(A, p)
	}
	if err != nil {
		return err
	}

	check := new(Int)
	if err := check.ModSqr(r, p); err != nil {
		return err
	}
	if check.Cmp(A) != 0 {
		return qerrors.ErrNotASquare
	}
	z.Set(r)
	return nil
}

// sqrtAtkin handles p ≡ 5 (mod 8): with b = (2A)^((p-5)/8) and
// i = 2A·b², the root is A·b·(i - 1).
func sqrtAtkin(A, p *Int) (*Int, error) {
	twoA := new(Int)
	if err := twoA.ModAdd(A, A, p); err != nil {
		return nil, err
	}
	e := new(Int).Rsh(new(Int).SubWord(p, 5), 3)
	b, err := modExp(twoA, e, p)
	if err != nil {
		return nil, err
	}
	i := new(Int)
	if err := i.ModSqr(b, p); err != nil {
		return nil, err
	}
	if err := i.ModMul(i, twoA, p); err != nil {
		return nil, err
	}
	if err := i.ModSub(i, NewInt(1), p); err != nil {
		return nil, err
	}
	r := new(Int)
	if err := r.ModMul(A, b, p); err != nil {
		return nil, err
	}
	if err := r.ModMul(r, i, p); err != nil {
		return nil, err
	}
	return r, nil
}

// sqrtTonelliShanks is the general case for residues modulo an odd prime.
func sqrtTonelliShanks(A, p *Int) (*Int, error) {
	// p - 1 = q · 2^e with q odd
	q := new(Int).SubWord(p, 1)
	e := 0
	for !q.IsOdd() {
		q.Rsh1(q)
		e++
	}

	// find a non-residue y by trial
	half := new(Int).Rsh1(new(Int).SubWord(p, 1))
	pm1 := new(Int).SubWord(p, 1)
	var y *Int
	for c := Word(2); ; c++ {
		cand := FromWord(c)
		if cand.Cmp(p) >= 0 {
			return nil, qerrors.ErrNotPrime
		}
		l, err := modExp(cand, half, p)
		if err != nil {
			return nil, err
		}
		if l.Cmp(pm1) == 0 {
			if y, err = modExp(cand, q, p); err != nil {
				return nil, err
			}
			break
		}
		if !l.IsOne() {
			return nil, qerrors.ErrNotPrime
		}
	}

	// x = A^((q+1)/2), b = A^q
	x, err := modExp(A, new(Int).Rsh1(new(Int).AddWord(q, 1)), p)
	if err != nil {
		return nil, err
	}
	b, err := modExp(A, q, p)
	if err != nil {
		return nil, err
	}

	r := e
	for !b.IsOne() {
		// least m with b^(2^m) = 1
		m := 0
		t := b.Copy()
		for !t.IsOne() {
			if err := t.ModSqr(t, p); err != nil {
				return nil, err
			}
			m++
			if m >= r {
				return nil, qerrors.ErrNotASquare
			}
		}
		// g = y^(2^(r-m-1))
		g := y.Copy()
		for i := 0; i < r-m-1; i++ {
			if err := g.ModSqr(g, p); err != nil {
				return nil, err
			}
		}
		if err := y.ModSqr(g, p); err != nil {
			return nil, err
		}
		if err := x.ModMul(x, g, p); err != nil {
			return nil, err
		}
		if err := b.ModMul(b, y, p); err != nil {
			return nil, err
		}
		r = m
	}
	return x, nil
}
