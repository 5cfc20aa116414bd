// Package crypto provides the cryptographic building blocks of the quantum-tls
// handshake: randomness, ephemeral key agreement (ECDH and ML-KEM-768), the
// TLS pseudo-random function, SHAKE-256 key derivation and the AEAD used to
// seal session tickets.
//
// Security Note: every function that needs randomness accepts an io.Reader
// so that a handshake can be driven from the connection's configured source;
// a nil reader always means crypto/rand.
package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"io"

	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

// Reader is the default source of cryptographically secure random bytes.
var Reader io.Reader = rand.Reader

// RandReader returns r, or Reader when r is nil.
func RandReader(r io.Reader) io.Reader {
	if r == nil {
		return Reader
	}
	return r
}

// ReadRandom fills b from r (Reader when nil).
func ReadRandom(r io.Reader, b []byte) error {
	if _, err := io.ReadFull(RandReader(r), b); err != nil {
		return qerrors.NewCryptoError("ReadRandom", err)
	}
	return nil
}

// SecureRandom fills b from the operating system CSPRNG.
//
// An error here means the system random number generator failed and should
// be treated as fatal.
func SecureRandom(b []byte) error {
	return ReadRandom(nil, b)
}

// SecureRandomBytes returns n bytes from the operating system CSPRNG.
func SecureRandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if err := SecureRandom(b); err != nil {
		return nil, err
	}
	return b, nil
}

// MustSecureRandomBytes returns n random bytes and panics if the CSPRNG fails.
func MustSecureRandomBytes(n int) []byte {
	b, err := SecureRandomBytes(n)
	if err != nil {
		panic("crypto: failed to read from CSPRNG: " + err.Error())
	}
	return b
}

// ConstantTimeCompare reports whether a and b are equal without leaking the
// position of the first difference. Slices of different length are unequal.
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Zeroize overwrites b with zeros.
//
// Note: the Go runtime may already have copied the data; this only clears
// the slice the caller holds.
func Zeroize(b []byte) {
	clear(b)
}

// ZeroizeMultiple zeroizes every slice.
func ZeroizeMultiple(slices ...[]byte) {
	for _, s := range slices {
		Zeroize(s)
	}
}
