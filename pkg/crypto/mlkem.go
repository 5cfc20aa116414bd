// mlkem.go wraps ML-KEM-768 (NIST FIPS 203), the post-quantum half of the
// hybrid key exchange.
//
// ML-KEM security rests on Module Learning With Errors over
// R_q = Z_q[X]/(X^256 + 1), q = 3329, with module rank k = 3 for the 768
// parameter set (NIST category 3). Decapsulation uses implicit rejection: a
// malformed ciphertext yields a pseudo-random secret rather than an error,
// so a tampered hybrid share surfaces as a Finished mismatch.
package crypto

import (
	"io"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

// MLKEMKeyPair is an ephemeral ML-KEM-768 key pair.
type MLKEMKeyPair struct {
	public  *mlkem768.PublicKey
	private *mlkem768.PrivateKey
}

// GenerateMLKEMKeyPair generates a key pair using r (Reader when nil).
func GenerateMLKEMKeyPair(r io.Reader) (*MLKEMKeyPair, error) {
	pk, sk, err := mlkem768.GenerateKeyPair(RandReader(r))
	if err != nil {
		return nil, qerrors.NewCryptoError("MLKEMKeyPair.Generate", err)
	}
	return &MLKEMKeyPair{public: pk, private: sk}, nil
}

// PublicKeyBytes returns the packed encapsulation key.
func (kp *MLKEMKeyPair) PublicKeyBytes() []byte {
	buf := make([]byte, mlkem768.PublicKeySize)
	kp.public.Pack(buf)
	return buf
}

// Decapsulate recovers the shared secret from a peer ciphertext.
func (kp *MLKEMKeyPair) Decapsulate(ciphertext []byte) ([]byte, error) {
	if kp == nil || kp.private == nil {
		return nil, qerrors.ErrInvalidPrivateKey
	}
	if len(ciphertext) != constants.MLKEMCiphertextSize {
		return nil, qerrors.ErrInvalidCiphertext
	}
	ss := make([]byte, mlkem768.SharedKeySize)
	kp.private.DecapsulateTo(ss, ciphertext)
	return ss, nil
}

// Zeroize drops the decapsulation key.
func (kp *MLKEMKeyPair) Zeroize() {
	// circl does not expose key storage for zeroization
	kp.private = nil
}

// MLKEMEncapsulate encapsulates a fresh secret to the packed encapsulation
// key ek, drawing the encapsulation seed from r (Reader when nil).
func MLKEMEncapsulate(r io.Reader, ek []byte) (ciphertext, sharedSecret []byte, err error) {
	if len(ek) != constants.MLKEMPublicKeySize {
		return nil, nil, qerrors.ErrInvalidPublicKey
	}
	pk := new(mlkem768.PublicKey)
	if err := pk.Unpack(ek); err != nil {
		return nil, nil, qerrors.NewCryptoError("MLKEMEncapsulate", qerrors.ErrInvalidPublicKey)
	}

	seed := make([]byte, mlkem768.EncapsulationSeedSize)
	if err := ReadRandom(r, seed); err != nil {
		return nil, nil, err
	}
	defer Zeroize(seed)

	ct := make([]byte, mlkem768.CiphertextSize)
	ss := make([]byte, mlkem768.SharedKeySize)
	pk.EncapsulateTo(ct, ss, seed)
	return ct, ss, nil
}
