package bn

import (
	"io"

	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

// smallPrimes are used for trial division before Miller-Rabin.
var smallPrimes = []Word{
	2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37, 41, 43, 47, 53, 59, 61, 67, 71,
	73, 79, 83, 89, 97, 101, 103, 107, 109, 113, 127, 131, 137, 139, 149, 151,
	157, 163, 167, 173, 179, 181, 191, 193, 197, 199, 211, 223, 227, 229, 233,
	239, 241, 251, 257, 263, 269, 271, 277, 281, 283, 293, 307, 311, 313, 317,
	331, 337, 347, 349, 353, 359, 367, 373, 379, 383, 389, 397, 401, 409, 419,
	421, 431, 433, 439, 443, 449, 457, 461, 463, 467, 479, 487, 491, 499, 503,
	509, 521, 523, 541,
}

// PrimeChecksForSize returns the number of Miller-Rabin rounds giving a
// false positive rate below 2^-80 for random candidates of the given size.
func PrimeChecksForSize(bits int) int {
	switch {
	case bits >= 3747:
		return 3
	case bits >= 1345:
		return 4
	case bits >= 476:
		return 5
	case bits >= 400:
		return 6
	case bits >= 347:
		return 7
	case bits >= 308:
		return 8
	case bits >= 55:
		return 27
	default:
		return 34
	}
}

// ProbablyPrime reports whether x is prime with trial division followed by
// the given number of Miller-Rabin rounds using random bases from r
// (crypto/rand when nil). rounds <= 0 selects PrimeChecksForSize.
func (x *Int) ProbablyPrime(r io.Reader, rounds int) (bool, error) {
	if x.neg || x.IsZero() || x.IsOne() {
		return false, nil
	}
	for _, p := range smallPrimes {
		if x.IsWord(p) {
			return true, nil
		}
		if natModWord(x.d, p) == 0 {
			return false, nil
		}
	}
	if rounds <= 0 {
		rounds = PrimeChecksForSize(x.BitLen())
	}
	return millerRabin(r, x, rounds)
}

func millerRabin(rnd io.Reader, n *Int, rounds int) (bool, error) {
	nm1 := new(Int).SubWord(n, 1)
	d := nm1.Copy()
	s := 0
	for !d.IsOdd() {
		d.Rsh1(d)
		s++
	}
	mc, err := NewMontgomeryContext(n)
	if err != nil {
		return false, err
	}

	// bases are drawn from [2, n-2]
	span := new(Int).SubWord(n, 3)
	a := new(Int)
	for i := 0; i < rounds; i++ {
		if err := a.RandRange(rnd, span); err != nil {
			return false, err
		}
		a.AddWord(a, 2)

		y := new(Int).set(false, mc.exp(a.d, d.d))
		if y.IsOne() || y.Cmp(nm1) == 0 {
			continue
		}
		composite := true
		for j := 1; j < s; j++ {
			mc.ModMul(y, y, y)
			if y.Cmp(nm1) == 0 {
				composite = false
				break
			}
			if y.IsOne() {
				break
			}
		}
		if composite {
			return false, nil
		}
	}
	return true, nil
}

// GeneratePrime returns a random probable prime of exactly bits bits read
// from r (crypto/rand when nil). With safe set, (p-1)/2 is prime as well.
// When add is non-nil the result satisfies p ≡ rem (mod add); rem defaults
// to 1, or 3 for safe primes.
func GeneratePrime(r io.Reader, bits int, safe bool, add, rem *Int) (*Int, error) {
	min := 2
	if safe {
		min = 3
	}
	if bits < min {
		return nil, qerrors.ErrBitsTooSmall
	}
	if add != nil && (add.Sign() <= 0 || add.BitLen() >= bits) {
		return nil, qerrors.ErrBitsTooSmall
	}
	if add != nil && rem == nil {
		rem = NewInt(1)
		if safe {
			rem = NewInt(3)
		}
	}

	rounds := PrimeChecksForSize(bits)
	cand := new(Int)
	for {
		if err := candidate(r, cand, bits, add, rem); err != nil {
			return nil, err
		}
		if cand.BitLen() != bits {
			continue
		}
		ok, err := cand.ProbablyPrime(r, rounds)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if !safe {
			return cand, nil
		}
		half := new(Int).Rsh1(cand)
		if ok, err = half.ProbablyPrime(r, rounds); err != nil {
			return nil, err
		}
		if ok {
			return cand, nil
		}
	}
}

// candidate draws an odd value with the top bits set, adjusted to the
// requested congruence.
func candidate(r io.Reader, z *Int, bits int, add, rem *Int) error {
	if add == nil {
		return z.Rand(r, bits, TopTwo, BottomOdd)
	}
	if err := z.Rand(r, bits, TopOne, BottomAny); err != nil {
		return err
	}
	m := new(Int)
	if err := m.NNMod(z, add); err != nil {
		return err
	}
	z.Sub(z, m)
	z.Add(z, rem)
	return nil
}
