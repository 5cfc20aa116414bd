package bn

import (
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

// QuoRem sets q to x / y truncated towards zero and r to x - q*y. The
// remainder has the sign of x. Either q or r may be nil when the caller
// does not need it. A zero divisor returns ErrDivisionByZero and leaves
// q and r unchanged.
func QuoRem(q, r, x, y *Int) error {
	if y.IsZero() {
		return qerrors.ErrDivisionByZero
	}
	qd, rd := natDiv(x.d, y.d)
	qneg, rneg := x.neg != y.neg, x.neg
	if q != nil {
		q.set(qneg, qd)
	}
	if r != nil {
		r.set(rneg, rd)
	}
	return nil
}

// Quo sets z to x / y truncated towards zero.
func (z *Int) Quo(x, y *Int) error {
	return QuoRem(z, nil, x, y)
}

// Mod sets z to the truncated remainder of x / m; the result has the sign
// of x.
func (z *Int) Mod(x, m *Int) error {
	return QuoRem(nil, z, x, m)
}

// NNMod sets z to x mod |m| in the range [0, |m|).
func (z *Int) NNMod(x, m *Int) error {
	if m.IsZero() {
		return qerrors.ErrDivisionByZero
	}
	_, rd := natDiv(x.d, m.d)
	if x.neg && len(norm(rd)) > 0 {
		rd = natSub(m.d, rd)
	}
	z.set(false, rd)
	return nil
}

// ModAdd sets z to (x + y) mod m in [0, |m|).
func (z *Int) ModAdd(x, y, m *Int) error {
	return z.NNMod(new(Int).Add(x, y), m)
}

// ModSub sets z to (x - y) mod m in [0, |m|).
func (z *Int) ModSub(x, y, m *Int) error {
	return z.NNMod(new(Int).Sub(x, y), m)
}

// ModMul sets z to x * y mod m in [0, |m|).
func (z *Int) ModMul(x, y, m *Int) error {
	if m.IsZero() {
		return qerrors.ErrDivisionByZero
	}
	return z.NNMod(new(Int).Mul(x, y), m)
}

// ModSqr sets z to x² mod m in [0, |m|).
func (z *Int) ModSqr(x, m *Int) error {
	if m.IsZero() {
		return qerrors.ErrDivisionByZero
	}
	return z.NNMod(new(Int).Sqr(x), m)
}

// DivWord sets z to x / w truncated towards zero and returns the
// magnitude of the remainder.
func (z *Int) DivWord(x *Int, w Word) (Word, error) {
	if w == 0 {
		return 0, qerrors.ErrDivisionByZero
	}
	q, r := natDivWord(x.d, w)
	z.set(x.neg, q)
	return r, nil
}

// ModWord returns |x| mod w.
func (x *Int) ModWord(w Word) (Word, error) {
	if w == 0 {
		return 0, qerrors.ErrDivisionByZero
	}
	return natModWord(x.d, w), nil
}
