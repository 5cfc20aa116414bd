package bn

import "math/bits"

// Word is one limb of a magnitude.
type Word = uint64

const wordBits = 64

// nat is a little-endian magnitude. A normalized nat has no leading zero
// words; zero is the empty slice.

func norm(x []Word) []Word {
	i := len(x)
	for i > 0 && x[i-1] == 0 {
		i--
	}
	return x[:i]
}

func natCopy(x []Word) []Word {
	if len(x) == 0 {
		return nil
	}
	z := make([]Word, len(x))
	copy(z, x)
	return z
}

func natCmp(x, y []Word) int {
	x, y = norm(x), norm(y)
	switch {
	case len(x) < len(y):
		return -1
	case len(x) > len(y):
		return 1
	}
	for i := len(x) - 1; i >= 0; i-- {
		switch {
		case x[i] < y[i]:
			return -1
		case x[i] > y[i]:
			return 1
		}
	}
	return 0
}

// addVV sets z = x + y for equal-length slices and returns the carry.
func addVV(z, x, y []Word) (c Word) {
	for i := range z {
		z[i], c = bits.Add64(x[i], y[i], c)
	}
	return c
}

// subVV sets z = x - y for equal-length slices and returns the borrow.
func subVV(z, x, y []Word) (b Word) {
	for i := range z {
		z[i], b = bits.Sub64(x[i], y[i], b)
	}
	return b
}

// mulAddVWW sets z = x*y + r and returns the high word.
func mulAddVWW(z, x []Word, y, r Word) (c Word) {
	c = r
	for i := range z {
		hi, lo := bits.Mul64(x[i], y)
		var cc Word
		lo, cc = bits.Add64(lo, c, 0)
		z[i] = lo
		c = hi + cc
	}
	return c
}

// addMulVVW sets z += x*y and returns the carry out.
func addMulVVW(z, x []Word, y Word) (c Word) {
	for i := range x {
		hi, lo := bits.Mul64(x[i], y)
		var cc Word
		lo, cc = bits.Add64(lo, z[i], 0)
		hi += cc
		lo, cc = bits.Add64(lo, c, 0)
		hi += cc
		z[i] = lo
		c = hi
	}
	return c
}

// natAdd returns x + y in a fresh slice.
func natAdd(x, y []Word) []Word {
	if len(x) < len(y) {
		x, y = y, x
	}
	z := make([]Word, len(x)+1)
	var c Word
	for i := range y {
		z[i], c = bits.Add64(x[i], y[i], c)
	}
	for i := len(y); i < len(x); i++ {
		z[i], c = bits.Add64(x[i], 0, c)
	}
	z[len(x)] = c
	return norm(z)
}

// natSub returns x - y in a fresh slice. It requires x >= y.
func natSub(x, y []Word) []Word {
	z := make([]Word, len(x))
	var b Word
	for i := range y {
		z[i], b = bits.Sub64(x[i], y[i], b)
	}
	for i := len(y); i < len(x); i++ {
		z[i], b = bits.Sub64(x[i], 0, b)
	}
	return norm(z)
}

// natMul returns x * y in a fresh slice using the schoolbook method.
func natMul(x, y []Word) []Word {
	if len(x) == 0 || len(y) == 0 {
		return nil
	}
	z := make([]Word, len(x)+len(y))
	for i, yi := range y {
		if yi == 0 {
			continue
		}
		z[i+len(x)] = addMulVVW(z[i:i+len(x)], x, yi)
	}
	return norm(z)
}

// natSqr returns x * x. Cross products are computed once and doubled.
func natSqr(x []Word) []Word {
	n := len(x)
	if n == 0 {
		return nil
	}
	if n == 1 {
		hi, lo := bits.Mul64(x[0], x[0])
		return norm([]Word{lo, hi})
	}
	z := make([]Word, 2*n)
	for i := 0; i < n-1; i++ {
		z[i+n] = addMulVVW(z[2*i+1:i+n], x[i+1:], x[i])
	}
	// double the cross products
	var c Word
	for i := range z {
		next := z[i] >> (wordBits - 1)
		z[i] = z[i]<<1 | c
		c = next
	}
	// add the squares on the diagonal
	c = 0
	for i := 0; i < n; i++ {
		hi, lo := bits.Mul64(x[i], x[i])
		var c1, c2 Word
		z[2*i], c1 = bits.Add64(z[2*i], lo, c)
		z[2*i+1], c2 = bits.Add64(z[2*i+1], hi, c1)
		c = c2
	}
	return norm(z)
}

// natShl returns x << s in a fresh slice.
func natShl(x []Word, s uint) []Word {
	if len(x) == 0 {
		return nil
	}
	ws, bs := int(s/wordBits), s%wordBits
	z := make([]Word, len(x)+ws+1)
	if bs == 0 {
		copy(z[ws:], x)
		return norm(z)
	}
	var c Word
	for i, w := range x {
		z[i+ws] = w<<bs | c
		c = w >> (wordBits - bs)
	}
	z[len(x)+ws] = c
	return norm(z)
}

// natShr returns x >> s in a fresh slice.
func natShr(x []Word, s uint) []Word {
	ws, bs := int(s/wordBits), s%wordBits
	if ws >= len(x) {
		return nil
	}
	n := len(x) - ws
	z := make([]Word, n)
	if bs == 0 {
		copy(z, x[ws:])
		return norm(z)
	}
	for i := 0; i < n; i++ {
		w := x[i+ws] >> bs
		if i+ws+1 < len(x) {
			w |= x[i+ws+1] << (wordBits - bs)
		}
		z[i] = w
	}
	return norm(z)
}

// natDivWord returns x / y and x mod y. y must be non-zero.
func natDivWord(x []Word, y Word) ([]Word, Word) {
	q := make([]Word, len(x))
	var r Word
	for i := len(x) - 1; i >= 0; i-- {
		q[i], r = bits.Div64(r, x[i], y)
	}
	return norm(q), r
}

// natModWord returns x mod y. y must be non-zero.
func natModWord(x []Word, y Word) Word {
	var r Word
	for i := len(x) - 1; i >= 0; i-- {
		_, r = bits.Div64(r, x[i], y)
	}
	return r
}

// natDiv returns the quotient and remainder of u / v using Knuth's
// Algorithm D. v must be normalized and non-zero.
func natDiv(u, v []Word) (q, r []Word) {
	u = norm(u)
	if len(v) == 1 {
		qw, rw := natDivWord(u, v[0])
		return qw, norm([]Word{rw})
	}
	if natCmp(u, v) < 0 {
		return nil, natCopy(u)
	}

	n := len(v)
	m := len(u) - n
	s := uint(bits.LeadingZeros64(v[n-1]))

	vn := make([]Word, n)
	copy(vn, natShl(v, s))
	un := make([]Word, len(u)+1)
	copy(un, natShl(u, s))

	q = make([]Word, m+1)
	qhatv := make([]Word, n+1)
	vn1, vn2 := vn[n-1], vn[n-2]

	for j := m; j >= 0; j-- {
		qhat := ^Word(0)
		if ujn := un[j+n]; ujn != vn1 {
			var rhat Word
			qhat, rhat = bits.Div64(ujn, un[j+n-1], vn1)
			x1, x2 := bits.Mul64(qhat, vn2)
			for x1 > rhat || (x1 == rhat && x2 > un[j+n-2]) {
				qhat--
				prev := rhat
				rhat += vn1
				if rhat < prev {
					break
				}
				x1, x2 = bits.Mul64(qhat, vn2)
			}
		}

		qhatv[n] = mulAddVWW(qhatv[:n], vn, qhat, 0)
		if c := subVV(un[j:j+n+1], un[j:j+n+1], qhatv); c != 0 {
			c = addVV(un[j:j+n], un[j:j+n], vn)
			un[j+n] += c
			qhat--
		}
		q[j] = qhat
	}

	return norm(q), natShr(un[:n], s)
}

// ctSelect returns x when mask is all ones and y when it is zero.
func ctSelect(mask, x, y Word) Word {
	return (x & mask) | (y &^ mask)
}

// ctEq returns all ones when a == b and zero otherwise, without branching.
func ctEq(a, b Word) Word {
	x := a ^ b
	// (x | -x) has its top bit set iff x != 0
	return ((x | -x) >> (wordBits - 1)) - 1
}
