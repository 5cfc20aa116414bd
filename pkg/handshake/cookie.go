package handshake

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
	"github.com/sara-star-quant/quantum-tls/pkg/crypto"
	"github.com/sara-star-quant/quantum-tls/pkg/protocol"
)

// CookieGenerator issues stateless DTLS cookies. A cookie is an HMAC over the
// peer address and the ClientHello fields that must not change between the
// two hellos, so a server keeps no state before the client proves it can
// receive at its address. It is safe for concurrent use.
type CookieGenerator struct {
	key []byte
}

// NewCookieGenerator derives the cookie key from secret with HKDF-SHA256.
func NewCookieGenerator(secret []byte) (*CookieGenerator, error) {
	if len(secret) < 16 {
		return nil, qerrors.ErrInvalidKeySize
	}
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, secret, nil, []byte(constants.DomainSeparatorCookie))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, qerrors.NewCryptoError("NewCookieGenerator", err)
	}
	return &CookieGenerator{key: key}, nil
}

// NewRandomCookieGenerator uses a random secret read from r.
func NewRandomCookieGenerator(r io.Reader) (*CookieGenerator, error) {
	secret := make([]byte, 32)
	defer crypto.Zeroize(secret)
	if err := crypto.ReadRandom(r, secret); err != nil {
		return nil, err
	}
	return NewCookieGenerator(secret)
}

// Generate returns the cookie for a ClientHello from peer.
func (g *CookieGenerator) Generate(peer []byte, hello *protocol.ClientHello) []byte {
	mac := hmac.New(sha256.New, g.key)
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(peer)))
	mac.Write(n[:])
	mac.Write(peer)
	binary.BigEndian.PutUint16(n[:], hello.Version)
	mac.Write(n[:])
	mac.Write(hello.Random)
	mac.Write([]byte{byte(len(hello.SessionID))})
	mac.Write(hello.SessionID)
	for _, s := range hello.CipherSuites {
		binary.BigEndian.PutUint16(n[:], s)
		mac.Write(n[:])
	}
	return mac.Sum(nil)[:constants.MaxDTLSCookieSize]
}

// Verify reports whether hello carries the cookie issued to peer.
func (g *CookieGenerator) Verify(peer []byte, hello *protocol.ClientHello) bool {
	if len(hello.Cookie) == 0 {
		return false
	}
	return hmac.Equal(hello.Cookie, g.Generate(peer, hello))
}
