package handshake

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"io"
	"math/big"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
	"github.com/sara-star-quant/quantum-tls/pkg/crypto"
)

const channelIDCoordSize = 32

// channelIDHash is the digest a Channel ID key signs:
//
//	SHA-256(magic || ["Resumption\0" || original_hash] || handshake_hash)
func channelIDHash(h crypto.PRFHash, transcript []byte, resumed bool, original []byte) []byte {
	d := sha256.New()
	d.Write([]byte(constants.ChannelIDMagic))
	if resumed {
		d.Write([]byte(constants.ChannelIDResumeMagic))
		d.Write(original)
	}
	d.Write(crypto.TranscriptHash(h, transcript))
	return d.Sum(nil)
}

// signChannelID returns x || y || r || s.
func signChannelID(rand io.Reader, key *ecdsa.PrivateKey, digest []byte) ([]byte, error) {
	r, s, err := ecdsa.Sign(crypto.RandReader(rand), key, digest)
	if err != nil {
		return nil, qerrors.NewCryptoError("ChannelID", err)
	}
	out := make([]byte, constants.ChannelIDSize)
	key.X.FillBytes(out[0:32])
	key.Y.FillBytes(out[32:64])
	r.FillBytes(out[64:96])
	s.FillBytes(out[96:128])
	return out, nil
}

// verifyChannelID checks a Channel ID body and returns the key x || y.
func verifyChannelID(body, digest []byte) ([]byte, error) {
	if len(body) != constants.ChannelIDSize {
		return nil, alertf(constants.AlertDecodeError, qerrors.ErrInvalidMessage)
	}
	point := append([]byte{4}, body[:2*channelIDCoordSize]...)
	if _, err := ecdh.P256().NewPublicKey(point); err != nil {
		return nil, alertf(constants.AlertIllegalParameter, qerrors.ErrInvalidPublicKey)
	}
	pub := &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(body[0:32]),
		Y:     new(big.Int).SetBytes(body[32:64]),
	}
	r := new(big.Int).SetBytes(body[64:96])
	s := new(big.Int).SetBytes(body[96:128])
	if !ecdsa.Verify(pub, digest, r, s) {
		return nil, alertf(constants.AlertDecryptError, qerrors.ErrBadSignature)
	}
	return append([]byte(nil), body[:2*channelIDCoordSize]...), nil
}
