package crypto_test

import (
	"bytes"
	"crypto/ecdh"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
	"github.com/sara-star-quant/quantum-tls/pkg/crypto"
)

// --- Random Tests ---

func TestSecureRandom(t *testing.T) {
	buf := make([]byte, 32)
	require.NoError(t, crypto.SecureRandom(buf))
	require.NotEqual(t, make([]byte, 32), buf)
}

func TestSecureRandomBytes(t *testing.T) {
	for _, size := range []int{16, 32, 64, 128} {
		buf, err := crypto.SecureRandomBytes(size)
		require.NoError(t, err)
		require.Len(t, buf, size)
	}
}

func TestMustSecureRandomBytes(t *testing.T) {
	require.NotPanics(t, func() {
		require.Len(t, crypto.MustSecureRandomBytes(24), 24)
	})
}

func TestReadRandomUsesReader(t *testing.T) {
	src := bytes.NewReader([]byte{1, 2, 3, 4})
	buf := make([]byte, 4)
	require.NoError(t, crypto.ReadRandom(src, buf))
	require.Equal(t, []byte{1, 2, 3, 4}, buf)

	// short source
	err := crypto.ReadRandom(bytes.NewReader([]byte{1}), buf)
	var cerr *qerrors.CryptoError
	require.True(t, errors.As(err, &cerr))
}

func TestConstantTimeCompare(t *testing.T) {
	a := []byte("hello world")
	require.True(t, crypto.ConstantTimeCompare(a, []byte("hello world")))
	require.False(t, crypto.ConstantTimeCompare(a, []byte("hello worle")))
	require.False(t, crypto.ConstantTimeCompare(a, []byte("hello")))
}

func TestZeroize(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5}
	crypto.Zeroize(buf)
	require.Equal(t, make([]byte, 5), buf)

	a, b := []byte{9, 9}, []byte{7}
	crypto.ZeroizeMultiple(a, b, nil)
	require.Equal(t, []byte{0, 0}, a)
	require.Equal(t, []byte{0}, b)
}

// --- ECDH Tests ---

func TestECDHKeyExchange(t *testing.T) {
	for _, group := range []uint16{constants.GroupX25519, constants.GroupP256, constants.GroupP384} {
		alice, err := crypto.GenerateECDHKeyPair(group, nil)
		require.NoError(t, err)
		bob, err := crypto.GenerateECDHKeyPair(group, nil)
		require.NoError(t, err)

		s1, err := alice.SharedSecret(bob.PublicKeyBytes())
		require.NoError(t, err)
		s2, err := bob.SharedSecret(alice.PublicKeyBytes())
		require.NoError(t, err)
		require.Equal(t, s1, s2, "group %d", group)
	}
}

func TestECDHPublicKeySizes(t *testing.T) {
	sizes := map[uint16]int{
		constants.GroupX25519: 32,
		constants.GroupP256:   65,
		constants.GroupP384:   97,
	}
	for group, size := range sizes {
		kp, err := crypto.GenerateECDHKeyPair(group, nil)
		require.NoError(t, err)
		require.Len(t, kp.PublicKeyBytes(), size)
	}
}

// RFC 7748 section 6.1
func TestECDHX25519KnownAnswer(t *testing.T) {
	priv, _ := hex.DecodeString("77076d0a7318a57d3c16c17251b26645df4c2f87ebc0992ab177fba51db92c2a")
	peer, _ := hex.DecodeString("de9edb7d7b7dc1b4d35b61c2ece435373f8343c85b78674dadfc7e146f882b4f")
	want, _ := hex.DecodeString("4a5d9d5ba4ce2de1728e3bf480350f25e07e21c947d19e3376f09b3c1e161742")

	key, err := ecdh.X25519().NewPrivateKey(priv)
	require.NoError(t, err)
	kp := &crypto.ECDHKeyPair{Group: constants.GroupX25519, PrivateKey: key}

	got, err := kp.SharedSecret(peer)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestECDHRejectsInvalidPeers(t *testing.T) {
	x, err := crypto.GenerateECDHKeyPair(constants.GroupX25519, nil)
	require.NoError(t, err)

	// low-order point yields an all-zero secret
	_, err = x.SharedSecret(make([]byte, 32))
	require.ErrorIs(t, err, qerrors.ErrInvalidPublicKey)

	_, err = x.SharedSecret(make([]byte, 31))
	require.ErrorIs(t, err, qerrors.ErrInvalidPublicKey)

	p, err := crypto.GenerateECDHKeyPair(constants.GroupP256, nil)
	require.NoError(t, err)
	bad := p.PublicKeyBytes()
	bad[len(bad)-1] ^= 0xff
	_, err = p.SharedSecret(bad)
	require.ErrorIs(t, err, qerrors.ErrInvalidPublicKey)

	// identity encoding
	_, err = p.SharedSecret([]byte{0})
	require.ErrorIs(t, err, qerrors.ErrInvalidPublicKey)
}

func TestECDHUnsupportedGroup(t *testing.T) {
	_, err := crypto.GenerateECDHKeyPair(25, nil)
	require.ErrorIs(t, err, qerrors.ErrUnsupportedGroup)
	_, err = crypto.ParseECDHPublicKey(constants.GroupX25519MLKEM768, make([]byte, 32))
	require.ErrorIs(t, err, qerrors.ErrUnsupportedGroup)
}

func TestECDHZeroize(t *testing.T) {
	kp, err := crypto.GenerateECDHKeyPair(constants.GroupX25519, nil)
	require.NoError(t, err)
	peer := kp.PublicKeyBytes()
	kp.Zeroize()
	_, err = kp.SharedSecret(peer)
	require.ErrorIs(t, err, qerrors.ErrInvalidPrivateKey)
}

// --- ML-KEM Tests ---

func TestMLKEMEncapsulationDecapsulation(t *testing.T) {
	kp, err := crypto.GenerateMLKEMKeyPair(nil)
	require.NoError(t, err)
	require.Len(t, kp.PublicKeyBytes(), constants.MLKEMPublicKeySize)

	ct, ss1, err := crypto.MLKEMEncapsulate(nil, kp.PublicKeyBytes())
	require.NoError(t, err)
	require.Len(t, ct, constants.MLKEMCiphertextSize)
	require.Len(t, ss1, constants.MLKEMSharedSecretSize)

	ss2, err := kp.Decapsulate(ct)
	require.NoError(t, err)
	require.Equal(t, ss1, ss2)
}

func TestMLKEMDeterministicFromSeed(t *testing.T) {
	seed := bytes.Repeat([]byte{0x42}, 64)
	a, err := crypto.GenerateMLKEMKeyPair(bytes.NewReader(seed))
	require.NoError(t, err)
	b, err := crypto.GenerateMLKEMKeyPair(bytes.NewReader(seed))
	require.NoError(t, err)
	require.Equal(t, a.PublicKeyBytes(), b.PublicKeyBytes())
}

func TestMLKEMImplicitRejection(t *testing.T) {
	kp, err := crypto.GenerateMLKEMKeyPair(nil)
	require.NoError(t, err)
	ct, ss, err := crypto.MLKEMEncapsulate(nil, kp.PublicKeyBytes())
	require.NoError(t, err)

	ct[0] ^= 1
	got, err := kp.Decapsulate(ct)
	require.NoError(t, err)
	require.NotEqual(t, ss, got)
}

func TestMLKEMInvalidInputs(t *testing.T) {
	kp, err := crypto.GenerateMLKEMKeyPair(nil)
	require.NoError(t, err)

	_, err = kp.Decapsulate(make([]byte, 10))
	require.ErrorIs(t, err, qerrors.ErrInvalidCiphertext)

	_, _, err = crypto.MLKEMEncapsulate(nil, make([]byte, 10))
	require.ErrorIs(t, err, qerrors.ErrInvalidPublicKey)

	kp.Zeroize()
	_, err = kp.Decapsulate(make([]byte, constants.MLKEMCiphertextSize))
	require.ErrorIs(t, err, qerrors.ErrInvalidPrivateKey)
}

// --- AEAD Tests ---

func TestAEADRoundTrip(t *testing.T) {
	for _, alg := range []crypto.AEADAlgorithm{crypto.AEADAES256GCM, crypto.AEADChaCha20Poly1305} {
		t.Run(alg.String(), func(t *testing.T) {
			key := crypto.MustSecureRandomBytes(constants.TicketAEADKeySize)
			a, err := crypto.NewAEAD(alg, key)
			require.NoError(t, err)
			require.Equal(t, alg, a.Algorithm())

			plaintext := []byte("session state")
			ad := []byte("key name")
			sealed, err := a.Seal(nil, plaintext, ad)
			require.NoError(t, err)
			require.Len(t, sealed, len(plaintext)+a.Overhead())
			require.Equal(t, constants.TicketNonceSize+constants.TicketTagSize, a.Overhead())

			got, err := a.Open(sealed, ad)
			require.NoError(t, err)
			require.Equal(t, plaintext, got)

			_, err = a.Open(sealed, []byte("other"))
			require.ErrorIs(t, err, qerrors.ErrAuthenticationFailed)

			sealed[constants.TicketNonceSize] ^= 0x80
			_, err = a.Open(sealed, ad)
			require.ErrorIs(t, err, qerrors.ErrAuthenticationFailed)

			_, err = a.Open(sealed[:a.Overhead()-1], ad)
			require.ErrorIs(t, err, qerrors.ErrCiphertextTooShort)
		})
	}
}

func TestAEADFreshNonces(t *testing.T) {
	a, err := crypto.NewAEAD(crypto.AEADAES256GCM, make([]byte, 32))
	require.NoError(t, err)
	s1, err := a.Seal(nil, []byte("x"), nil)
	require.NoError(t, err)
	s2, err := a.Seal(nil, []byte("x"), nil)
	require.NoError(t, err)
	require.NotEqual(t, s1, s2)
}

func TestAEADChaChaKnownAnswer(t *testing.T) {
	key, _ := hex.DecodeString("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	want, _ := hex.DecodeString("40a9ff609a53490c94c20e5b7a69a6139796413115a0ed39f2f015e011")

	a, err := crypto.NewAEAD(crypto.AEADChaCha20Poly1305, key)
	require.NoError(t, err)
	sealed, err := a.Seal(bytes.NewReader(make([]byte, 12)), []byte("POST-KAT-TEST"), nil)
	require.NoError(t, err)
	require.Equal(t, want, sealed[12:])
}

func TestAEADInvalidParameters(t *testing.T) {
	_, err := crypto.NewAEAD(crypto.AEADAES256GCM, make([]byte, 16))
	require.ErrorIs(t, err, qerrors.ErrInvalidKeySize)
	_, err = crypto.NewAEAD(crypto.AEADAlgorithm(9), make([]byte, 32))
	require.ErrorIs(t, err, qerrors.ErrUnsupportedCipherSuite)
	require.Equal(t, "unknown", crypto.AEADAlgorithm(9).String())
}

// --- Self-Test Tests ---

func TestSelfTest(t *testing.T) {
	res := crypto.RunSelfTest()
	require.True(t, res.Passed, "%v", res.Errors)
	require.True(t, res.PRFPassed)
	require.True(t, res.KDFPassed)
	require.True(t, res.AEADPassed)
	require.True(t, res.MLKEMPassed)
	require.NoError(t, crypto.SelfTestError())
	require.Same(t, res, crypto.RunSelfTest())
}
