package bn

// Mul sets z to x * y and returns z. The product of zero and a negative
// value is +0.
func (z *Int) Mul(x, y *Int) *Int {
	if x == y {
		return z.Sqr(x)
	}
	return z.set(x.neg != y.neg, natMul(x.d, y.d))
}

// Sqr sets z to x * x and returns z.
func (z *Int) Sqr(x *Int) *Int {
	return z.set(false, natSqr(x.d))
}

// MulWord sets z to x * w and returns z.
func (z *Int) MulWord(x *Int, w Word) *Int {
	if w == 0 || len(x.d) == 0 {
		return z.SetZero()
	}
	d := make([]Word, len(x.d)+1)
	d[len(x.d)] = mulAddVWW(d[:len(x.d)], x.d, w, 0)
	return z.set(x.neg, d)
}

// Exp sets z to x**e for a small non-negative exponent and returns z.
// Exp(x, 0) is 1.
func (z *Int) Exp(x *Int, e uint) *Int {
	base := x.Copy()
	acc := []Word{1}
	neg := false
	if x.neg && e&1 == 1 {
		neg = true
	}
	for e > 0 {
		if e&1 == 1 {
			acc = natMul(acc, base.d)
		}
		e >>= 1
		if e > 0 {
			base.d = natSqr(base.d)
		}
	}
	return z.set(neg, acc)
}
