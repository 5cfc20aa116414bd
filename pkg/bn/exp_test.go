package bn_test

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
	"github.com/sara-star-quant/quantum-tls/pkg/bn"
)

// --- Modular Exponentiation Tests ---

func TestModExpAgainstBig(t *testing.T) {
	r := rand.New(rand.NewSource(10))
	for i := 0; i < 60; i++ {
		x := randInt(r, 5, true)
		p := randInt(r, 3, false)
		m := randInt(r, 5, false)
		if m.IsZero() || p.IsZero() || m.IsOne() {
			continue
		}
		bx := new(big.Int).Mod(toBig(t, x), toBig(t, m))
		want := new(big.Int).Exp(bx, toBig(t, p), toBig(t, m))

		got := new(bn.Int)
		require.NoError(t, got.ModExp(x, p, m))
		requireBig(t, want, got)

		if m.IsOdd() {
			mont := new(bn.Int)
			require.NoError(t, mont.ModExpMont(x, p, m))
			requireBig(t, want, mont)

			ct := new(bn.Int)
			require.NoError(t, ct.ModExpMontConsttime(x, p, m))
			require.Equal(t, 0, ct.Cmp(mont), "constant-time and variable-time paths disagree")
		}
	}
}

func TestModExpZeroExponent(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	zero := bn.New()
	for _, mv := range []int64{1, 2, 3, 4, 7, 8, 255, 65537} {
		m := bn.NewInt(mv)
		for i := 0; i < 5; i++ {
			x := randInt(r, 3, true)
			z := bn.NewInt(99)
			require.NoError(t, z.ModExp(x, zero, m))
			require.True(t, z.IsZero(), "ModExp(x, 0, %d)", mv)

			if m.IsOdd() {
				z.SetWord(99)
				require.NoError(t, z.ModExpMont(x, zero, m))
				require.True(t, z.IsZero())
				z.SetWord(99)
				require.NoError(t, z.ModExpMontConsttime(x, zero, m))
				require.True(t, z.IsZero())
				z.SetWord(99)
				require.NoError(t, z.ModExpMontWord(7, zero, m))
				require.True(t, z.IsZero())
			}
		}
	}
}

func TestModExpModulusOne(t *testing.T) {
	one := bn.NewInt(1)
	z := new(bn.Int)
	require.NoError(t, z.ModExp(bn.NewInt(12), bn.NewInt(5), one))
	require.True(t, z.IsZero())
	require.NoError(t, z.ModExpMont(bn.NewInt(12), bn.NewInt(5), one))
	require.True(t, z.IsZero())
	require.NoError(t, z.ModExpMontConsttime(bn.NewInt(12), bn.NewInt(5), one))
	require.True(t, z.IsZero())
}

func TestModExpRejectsModuli(t *testing.T) {
	x, p := bn.NewInt(3), bn.NewInt(5)
	z := bn.NewInt(42)

	require.ErrorIs(t, z.ModExp(x, p, bn.New()), qerrors.ErrDivisionByZero)
	require.ErrorIs(t, z.ModExpMont(x, p, bn.New()), qerrors.ErrInvalidModulus)
	require.ErrorIs(t, z.ModExpMontConsttime(x, p, bn.New()), qerrors.ErrInvalidModulus)
	require.ErrorIs(t, z.ModExpMont(x, p, bn.NewInt(10)), qerrors.ErrInvalidModulus)
	require.ErrorIs(t, z.ModExpMontConsttime(x, p, bn.NewInt(10)), qerrors.ErrInvalidModulus)
	require.ErrorIs(t, z.ModExpMontWord(3, p, bn.NewInt(10)), qerrors.ErrInvalidModulus)
	require.ErrorIs(t, z.ModExp(x, bn.NewInt(-1), bn.NewInt(7)), qerrors.ErrNegativeInput)
	require.Equal(t, "42", z.String())

	_, err := bn.NewMontgomeryContext(bn.New())
	require.ErrorIs(t, err, qerrors.ErrInvalidModulus)
	_, err = bn.NewMontgomeryContext(bn.NewInt(16))
	require.ErrorIs(t, err, qerrors.ErrInvalidModulus)
	_, err = bn.NewMontgomeryContext(bn.NewInt(-15))
	require.ErrorIs(t, err, qerrors.ErrInvalidModulus)

	// even moduli are fine on the general path
	require.NoError(t, z.ModExp(x, p, bn.NewInt(10)))
	require.Equal(t, "3", z.String())
}

func TestMontgomeryContext(t *testing.T) {
	r := rand.New(rand.NewSource(12))
	for i := 0; i < 50; i++ {
		m := randInt(r, 6, false)
		m.SetBit(0, 1)
		mc, err := bn.NewMontgomeryContext(m)
		require.NoError(t, err)
		require.Equal(t, 0, mc.Modulus().Cmp(m))

		a := randInt(r, 8, true)
		b := randInt(r, 8, true)
		got := new(bn.Int)
		mc.ModMul(got, a, b)

		want := new(bn.Int)
		require.NoError(t, want.ModMul(a, b, m))
		require.Equal(t, 0, got.Cmp(want))
	}
}

func TestModExpLargeConsttime(t *testing.T) {
	// RFC 3526 group 14 prime, exponent of full size
	p, err := bn.ParseASCII("0xFFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF0598DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF6955817183995497CEA956AE515D2261898FA051015728E5A8AACAA68FFFFFFFFFFFFFFFF")
	require.NoError(t, err)
	r := rand.New(rand.NewSource(13))
	for i := 0; i < 3; i++ {
		e := randInt(r, 32, false)
		want := new(bn.Int)
		require.NoError(t, want.ModExpMont(bn.NewInt(2), e, p))
		got := new(bn.Int)
		require.NoError(t, got.ModExpMontConsttime(bn.NewInt(2), e, p))
		require.Equal(t, 0, got.Cmp(want))
		requireBig(t, new(big.Int).Exp(big.NewInt(2), toBig(t, e), toBig(t, p)), got)
	}
}

// --- Square Root Tests ---

func TestModSqrt(t *testing.T) {
	primes := []string{
		"3", "5", "7", "13", "17", "29", "41", "97", "10007", "65537",
		// 2^255 - 19, p ≡ 5 (mod 8)
		"57896044618658097711785492504343953926634992332820282019728792003956564819949",
		// 2^127 - 1, p ≡ 3 (mod 4)
		"170141183460469231731687303715884105727",
	}
	r := rand.New(rand.NewSource(20))
	for _, ps := range primes {
		p, _, err := bn.ParseDecimal(ps)
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			a := randInt(r, 4, false)
			sq := new(bn.Int)
			require.NoError(t, sq.ModSqr(a, p))

			root := new(bn.Int)
			require.NoError(t, root.ModSqrt(sq, p), "p=%s a=%s", ps, a)
			check := new(bn.Int)
			require.NoError(t, check.ModSqr(root, p))
			require.Equal(t, 0, check.Cmp(sq))
		}
	}
}

func TestModSqrtRejects(t *testing.T) {
	z := bn.NewInt(5)
	// 2 is not a square modulo 13
	require.ErrorIs(t, z.ModSqrt(bn.NewInt(2), bn.NewInt(13)), qerrors.ErrNotASquare)
	// 3 is not a square modulo 17
	require.ErrorIs(t, z.ModSqrt(bn.NewInt(3), bn.NewInt(17)), qerrors.ErrNotASquare)
	require.ErrorIs(t, z.ModSqrt(bn.NewInt(-4), bn.NewInt(13)), qerrors.ErrNegativeInput)
	require.ErrorIs(t, z.ModSqrt(bn.NewInt(4), bn.New()), qerrors.ErrDivisionByZero)
	require.ErrorIs(t, z.ModSqrt(bn.NewInt(4), bn.NewInt(12)), qerrors.ErrInvalidModulus)
	require.Equal(t, "5", z.String())

	require.NoError(t, z.ModSqrt(bn.NewInt(1), bn.NewInt(2)))
	require.Equal(t, "1", z.String())
	require.NoError(t, z.ModSqrt(bn.NewInt(26), bn.NewInt(13)))
	require.True(t, z.IsZero())
}
