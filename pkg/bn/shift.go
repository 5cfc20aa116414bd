package bn

// Lsh sets z to x << n and returns z. The sign of x is kept.
func (z *Int) Lsh(x *Int, n uint) *Int {
	return z.set(x.neg, natShl(x.d, n))
}

// Rsh sets z to |x| >> n with the sign of x, truncating towards zero as
// the magnitude shrinks. A result of zero is non-negative.
func (z *Int) Rsh(x *Int, n uint) *Int {
	return z.set(x.neg, natShr(x.d, n))
}

// Lsh1 sets z to x << 1.
func (z *Int) Lsh1(x *Int) *Int {
	n := len(x.d)
	if n == 0 {
		return z.SetZero()
	}
	d := make([]Word, n+1)
	var c Word
	for i, w := range x.d {
		d[i] = w<<1 | c
		c = w >> (wordBits - 1)
	}
	d[n] = c
	return z.set(x.neg, d)
}

// Rsh1 sets z to x >> 1 with the same truncation rules as Rsh.
func (z *Int) Rsh1(x *Int) *Int {
	n := len(x.d)
	if n == 0 {
		return z.SetZero()
	}
	d := make([]Word, n)
	for i := 0; i < n; i++ {
		d[i] = x.d[i] >> 1
		if i+1 < n {
			d[i] |= x.d[i+1] << (wordBits - 1)
		}
	}
	return z.set(x.neg, d)
}
