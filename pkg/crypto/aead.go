// aead.go implements the authenticated encryption used to seal session
// tickets.
//
// Two algorithms are supported:
//   - AES-256-GCM: hardware accelerated on most servers
//   - ChaCha20-Poly1305: constant time without AES instructions
//
// Ticket keys are long-lived and may be shared by many server processes, so
// nonces are drawn at random rather than from a counter. With 96-bit nonces
// the collision bound allows about 2^32 tickets per key, far beyond any
// rotation interval.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

// AEADAlgorithm selects the ticket cipher.
type AEADAlgorithm uint8

const (
	AEADAES256GCM AEADAlgorithm = iota
	AEADChaCha20Poly1305
)

// String returns the algorithm name.
func (a AEADAlgorithm) String() string {
	switch a {
	case AEADAES256GCM:
		return "AES-256-GCM"
	case AEADChaCha20Poly1305:
		return "ChaCha20-Poly1305"
	default:
		return "unknown"
	}
}

// AEAD seals and opens values with a random nonce prefix. It is safe for
// concurrent use.
type AEAD struct {
	cipher cipher.AEAD
	alg    AEADAlgorithm
}

// NewAEAD creates an AEAD for alg with a 32-byte key.
func NewAEAD(alg AEADAlgorithm, key []byte) (*AEAD, error) {
	if len(key) != constants.TicketAEADKeySize {
		return nil, qerrors.ErrInvalidKeySize
	}

	var c cipher.AEAD
	switch alg {
	case AEADAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, qerrors.NewCryptoError("NewAEAD", err)
		}
		if c, err = cipher.NewGCM(block); err != nil {
			return nil, qerrors.NewCryptoError("NewAEAD", err)
		}
	case AEADChaCha20Poly1305:
		var err error
		if c, err = chacha20poly1305.New(key); err != nil {
			return nil, qerrors.NewCryptoError("NewAEAD", err)
		}
	default:
		return nil, qerrors.ErrUnsupportedCipherSuite
	}
	return &AEAD{cipher: c, alg: alg}, nil
}

// Algorithm returns the configured algorithm.
func (a *AEAD) Algorithm() AEADAlgorithm { return a.alg }

// Overhead returns the bytes Seal adds: nonce plus tag.
func (a *AEAD) Overhead() int {
	return constants.TicketNonceSize + a.cipher.Overhead()
}

// Seal encrypts plaintext and returns nonce || ciphertext || tag. The nonce
// is read from r (Reader when nil).
func (a *AEAD) Seal(r io.Reader, plaintext, additionalData []byte) ([]byte, error) {
	out := make([]byte, constants.TicketNonceSize, a.Overhead()+len(plaintext))
	if err := ReadRandom(r, out); err != nil {
		return nil, err
	}
	return a.cipher.Seal(out, out[:constants.TicketNonceSize], plaintext, additionalData), nil
}

// Open authenticates and decrypts a value produced by Seal.
func (a *AEAD) Open(sealed, additionalData []byte) ([]byte, error) {
	if len(sealed) < a.Overhead() {
		return nil, qerrors.ErrCiphertextTooShort
	}
	nonce := sealed[:constants.TicketNonceSize]
	plaintext, err := a.cipher.Open(nil, nonce, sealed[constants.TicketNonceSize:], additionalData)
	if err != nil {
		return nil, qerrors.ErrAuthenticationFailed
	}
	return plaintext, nil
}
