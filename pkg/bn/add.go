package bn

import (
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

// Add sets z to x + y and returns z.
func (z *Int) Add(x, y *Int) *Int {
	if x.neg == y.neg {
		return z.set(x.neg, natAdd(x.d, y.d))
	}
	// opposite signs: subtract the smaller magnitude from the larger
	if natCmp(x.d, y.d) >= 0 {
		return z.set(x.neg, natSub(x.d, y.d))
	}
	return z.set(y.neg, natSub(y.d, x.d))
}

// Sub sets z to x - y and returns z.
func (z *Int) Sub(x, y *Int) *Int {
	if x.neg != y.neg {
		return z.set(x.neg, natAdd(x.d, y.d))
	}
	if natCmp(x.d, y.d) >= 0 {
		return z.set(x.neg, natSub(x.d, y.d))
	}
	return z.set(!x.neg, natSub(y.d, x.d))
}

// UAdd sets z to |x| + |y|. Both operands are expected to be non-negative;
// their signs are ignored.
func (z *Int) UAdd(x, y *Int) *Int {
	return z.set(false, natAdd(x.d, y.d))
}

// USub sets z to |x| - |y|. It requires |x| >= |y| and returns
// ErrNegativeInput otherwise, leaving z unchanged.
func (z *Int) USub(x, y *Int) error {
	if natCmp(x.d, y.d) < 0 {
		return qerrors.ErrNegativeInput
	}
	z.set(false, natSub(x.d, y.d))
	return nil
}

// AddWord sets z to x + w and returns z.
func (z *Int) AddWord(x *Int, w Word) *Int {
	return z.Add(x, FromWord(w))
}

// SubWord sets z to x - w and returns z.
func (z *Int) SubWord(x *Int, w Word) *Int {
	return z.Sub(x, FromWord(w))
}
