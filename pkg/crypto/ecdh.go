// ecdh.go implements ephemeral elliptic-curve Diffie-Hellman over the named
// groups offered in ECDHE cipher suites.
//
// Supported groups:
//   - X25519 (RFC 7748): Montgomery ladder, constant time, 32-byte shares
//   - P-256 and P-384 (FIPS 186): uncompressed points, 65 and 97 bytes
//
// Point validation is performed by crypto/ecdh when the peer share is parsed:
// NIST points must be on the curve and not the identity. X25519 accepts every
// 32-byte string, so low-order inputs are caught by rejecting an all-zero
// shared secret.
package crypto

import (
	"crypto/ecdh"
	"io"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

// ECDHKeyPair is an ephemeral key pair on one named group.
type ECDHKeyPair struct {
	// Group is the TLS named-group identifier
	Group uint16

	// PrivateKey is the secret scalar
	PrivateKey *ecdh.PrivateKey
}

// CurveForGroup maps a TLS named group to its crypto/ecdh curve.
func CurveForGroup(group uint16) (ecdh.Curve, error) {
	switch group {
	case constants.GroupX25519:
		return ecdh.X25519(), nil
	case constants.GroupP256:
		return ecdh.P256(), nil
	case constants.GroupP384:
		return ecdh.P384(), nil
	default:
		return nil, qerrors.ErrUnsupportedGroup
	}
}

// GenerateECDHKeyPair generates an ephemeral key pair on group using r
// (Reader when nil).
func GenerateECDHKeyPair(group uint16, r io.Reader) (*ECDHKeyPair, error) {
	curve, err := CurveForGroup(group)
	if err != nil {
		return nil, err
	}
	priv, err := curve.GenerateKey(RandReader(r))
	if err != nil {
		return nil, qerrors.NewCryptoError("ECDHKeyPair.Generate", err)
	}
	return &ECDHKeyPair{Group: group, PrivateKey: priv}, nil
}

// PublicKeyBytes returns the wire encoding of the public share.
func (kp *ECDHKeyPair) PublicKeyBytes() []byte {
	return kp.PrivateKey.PublicKey().Bytes()
}

// ParseECDHPublicKey validates and parses a peer share on group.
func ParseECDHPublicKey(group uint16, data []byte) (*ecdh.PublicKey, error) {
	curve, err := CurveForGroup(group)
	if err != nil {
		return nil, err
	}
	pub, err := curve.NewPublicKey(data)
	if err != nil {
		return nil, qerrors.NewCryptoError("ParseECDHPublicKey", qerrors.ErrInvalidPublicKey)
	}
	return pub, nil
}

// SharedSecret computes the Diffie-Hellman output with the peer's encoded
// share. An all-zero result (a low-order X25519 input) is rejected.
func (kp *ECDHKeyPair) SharedSecret(peer []byte) ([]byte, error) {
	if kp == nil || kp.PrivateKey == nil {
		return nil, qerrors.ErrInvalidPrivateKey
	}
	pub, err := ParseECDHPublicKey(kp.Group, peer)
	if err != nil {
		return nil, err
	}
	secret, err := kp.PrivateKey.ECDH(pub)
	if err != nil {
		return nil, qerrors.NewCryptoError("ECDH", qerrors.ErrInvalidPublicKey)
	}
	var acc byte
	for _, b := range secret {
		acc |= b
	}
	if acc == 0 {
		return nil, qerrors.NewCryptoError("ECDH", qerrors.ErrInvalidPublicKey)
	}
	return secret, nil
}

// Zeroize drops the private scalar.
func (kp *ECDHKeyPair) Zeroize() {
	// ecdh.PrivateKey does not expose its storage; dropping the reference is
	// the most that can be done here.
	kp.PrivateKey = nil
}
