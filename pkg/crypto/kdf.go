// kdf.go derives long-lived key material with SHAKE-256 (FIPS 202).
//
// The handshake itself uses the TLS PRF (prf.go). SHAKE-256 is used where a
// key has to be expanded from an operator-supplied seed: session ticket keys
// and DTLS cookie secrets. Inputs are length-prefixed and domain separated:
//
//	output = SHAKE-256(len(domain) || domain || n || len(in_1) || in_1 || ..., L)
package crypto

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"

	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

const maxDerivedKeySize = 1 << 20

// DeriveKey derives outputLen bytes from input under domain.
func DeriveKey(domain string, input []byte, outputLen int) ([]byte, error) {
	return DeriveKeyMultiple(domain, [][]byte{input}, outputLen)
}

// DeriveKeyMultiple derives outputLen bytes from several inputs under domain.
func DeriveKeyMultiple(domain string, inputs [][]byte, outputLen int) ([]byte, error) {
	if outputLen <= 0 || outputLen > maxDerivedKeySize {
		return nil, qerrors.NewCryptoError("DeriveKey", qerrors.ErrInvalidKeySize)
	}

	h := sha3.NewShake256()
	var lenBuf [4]byte

	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(domain)))
	h.Write(lenBuf[:])
	h.Write([]byte(domain))

	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(inputs)))
	h.Write(lenBuf[:])

	for _, in := range inputs {
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(in)))
		h.Write(lenBuf[:])
		h.Write(in)
	}

	out := make([]byte, outputLen)
	_, _ = h.Read(out) // SHAKE never fails
	return out, nil
}
