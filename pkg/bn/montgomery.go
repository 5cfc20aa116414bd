package bn

import (
	"math/bits"

	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

// MontgomeryContext holds the precomputed values for multiplication modulo
// an odd modulus N in Montgomery form, where R = 2^(64*k) for a k-word N.
// A context is read-only after construction and may be shared.
type MontgomeryContext struct {
	mod *Int
	n   []Word // modulus, exactly k words
	rr  []Word // R² mod N, k words
	one []Word // R mod N, k words
	n0  Word   // -N⁻¹ mod 2^64
}

// NewMontgomeryContext returns a context for the odd, positive modulus m.
// Zero, even and negative moduli return ErrInvalidModulus.
func NewMontgomeryContext(m *Int) (*MontgomeryContext, error) {
	if m.IsZero() || !m.IsOdd() || m.neg {
		return nil, qerrors.ErrInvalidModulus
	}
	k := len(m.d)
	mc := &MontgomeryContext{
		mod: m.Copy(),
		n:   natCopy(m.d),
	}

	r := make([]Word, k+1)
	r[k] = 1
	_, rm := natDiv(r, mc.n)
	mc.one = mc.pad(rm)

	r2 := make([]Word, 2*k+1)
	r2[2*k] = 1
	_, rr := natDiv(r2, mc.n)
	mc.rr = mc.pad(rr)

	// Newton iteration doubles the number of correct low bits each step;
	// an odd n is its own inverse modulo 8.
	inv := mc.n[0]
	for i := 0; i < 5; i++ {
		inv *= 2 - mc.n[0]*inv
	}
	mc.n0 = -inv
	return mc, nil
}

// Modulus returns a copy of N.
func (mc *MontgomeryContext) Modulus() *Int {
	return mc.mod.Copy()
}

// pad returns x (already reduced) widened to exactly k words.
func (mc *MontgomeryContext) pad(x []Word) []Word {
	z := make([]Word, len(mc.n))
	copy(z, norm(x))
	return z
}

// mul returns x*y*R⁻¹ mod N for k-word inputs below N. The final
// subtraction is masked so the running time does not depend on the
// operands.
func (mc *MontgomeryContext) mul(x, y []Word) []Word {
	k := len(mc.n)
	t := make([]Word, k+2)
	for i := 0; i < k; i++ {
		c := addMulVVW(t[:k], x, y[i])
		var cc Word
		t[k], cc = bits.Add64(t[k], c, 0)
		t[k+1] = cc

		m := t[0] * mc.n0
		c = addMulVVW(t[:k], mc.n, m)
		t[k], cc = bits.Add64(t[k], c, 0)
		t[k+1] += cc

		// t[0] is now zero; divide by the word base
		copy(t, t[1:])
		t[k+1] = 0
	}

	res := make([]Word, k)
	b := subVV(res, t[:k], mc.n)
	_, keep := bits.Sub64(t[k], b, 0)
	mask := -keep
	for j := range res {
		res[j] = ctSelect(mask, t[j], res[j])
	}
	return res
}

func (mc *MontgomeryContext) toMont(x []Word) []Word {
	return mc.mul(mc.pad(x), mc.rr)
}

func (mc *MontgomeryContext) fromMont(x []Word) []Word {
	one := make([]Word, len(mc.n))
	one[0] = 1
	return norm(mc.mul(x, one))
}

// reduce returns |x| mod N as a nat, honouring the sign of x.
func (mc *MontgomeryContext) reduce(x *Int) []Word {
	r := new(Int)
	// the modulus is never zero here
	_ = r.NNMod(x, mc.mod)
	return r.d
}

// ModMul sets z to x*y mod N using Montgomery multiplication.
func (mc *MontgomeryContext) ModMul(z, x, y *Int) {
	a := mc.toMont(mc.reduce(x))
	b := mc.toMont(mc.reduce(y))
	z.set(false, mc.fromMont(mc.mul(a, b)))
}

// Exp sets z to x^p mod N using left-to-right square-and-multiply. The
// running time depends on p; use ExpConsttime for secret exponents.
func (mc *MontgomeryContext) Exp(z, x, p *Int) error {
	if p.neg {
		return qerrors.ErrNegativeInput
	}
	if p.IsZero() {
		z.SetZero()
		return nil
	}
	z.set(false, mc.exp(mc.reduce(x), p.d))
	return nil
}

// exp returns x^p mod N for reduced x, with x^0 = 1 mod N.
func (mc *MontgomeryContext) exp(x, p []Word) []Word {
	xm := mc.toMont(x)
	acc := natCopy(mc.one)
	for i := natBitLen(p) - 1; i >= 0; i-- {
		acc = mc.mul(acc, acc)
		if natBit(p, i) == 1 {
			acc = mc.mul(acc, xm)
		}
	}
	return mc.fromMont(acc)
}

const consttimeWindow = 4

// ExpConsttime sets z to x^p mod N with a fixed window. Every window does
// the same squarings and one multiplication by an entry fetched with a
// masked scan of the whole table, and the exponent is processed to at
// least the bit length of N, so neither timing nor memory access depends
// on the bits of p.
func (mc *MontgomeryContext) ExpConsttime(z, x, p *Int) error {
	if p.neg {
		return qerrors.ErrNegativeInput
	}
	if p.IsZero() {
		z.SetZero()
		return nil
	}
	nbits := len(p.d) * wordBits
	if b := mc.mod.BitLen(); b > nbits {
		nbits = b
	}
	z.set(false, mc.expConsttime(mc.reduce(x), p.d, nbits))
	return nil
}

func (mc *MontgomeryContext) expConsttime(x, p []Word, nbits int) []Word {
	k := len(mc.n)
	table := make([][]Word, 1<<consttimeWindow)
	table[0] = natCopy(mc.one)
	table[1] = mc.toMont(x)
	for i := 2; i < len(table); i++ {
		table[i] = mc.mul(table[i-1], table[1])
	}

	nbits = (nbits + consttimeWindow - 1) / consttimeWindow * consttimeWindow
	acc := natCopy(mc.one)
	entry := make([]Word, k)
	for i := nbits - consttimeWindow; i >= 0; i -= consttimeWindow {
		for j := 0; j < consttimeWindow; j++ {
			acc = mc.mul(acc, acc)
		}
		var digit Word
		for j := consttimeWindow - 1; j >= 0; j-- {
			digit = digit<<1 | natBit(p, i+j)
		}
		for e := range entry {
			entry[e] = 0
		}
		for t := range table {
			mask := ctEq(Word(t), digit)
			for e := 0; e < k; e++ {
				entry[e] |= table[t][e] & mask
			}
		}
		acc = mc.mul(acc, entry)
	}
	return mc.fromMont(acc)
}

func natBitLen(x []Word) int {
	x = norm(x)
	if len(x) == 0 {
		return 0
	}
	return (len(x)-1)*wordBits + bits.Len64(x[len(x)-1])
}

// natBit returns bit i of x; bits past the end are zero.
func natBit(x []Word, i int) Word {
	w := i / wordBits
	if w >= len(x) {
		return 0
	}
	return (x[w] >> (uint(i) % wordBits)) & 1
}
