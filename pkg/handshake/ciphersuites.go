package handshake

import (
	"github.com/sara-star-quant/quantum-tls/internal/constants"
	"github.com/sara-star-quant/quantum-tls/pkg/crypto"
	"github.com/sara-star-quant/quantum-tls/pkg/kex"
	"github.com/sara-star-quant/quantum-tls/pkg/protocol"
)

// Key-exchange masks.
const (
	KxRSA uint8 = 1 << iota
	KxDHE
	KxECDHE
	KxPSK
	KxHybrid
)

// Authentication masks.
const (
	AuthRSA uint8 = 1 << iota
	AuthECDSA
	AuthPSK
)

// Cipher suite identifiers.
const (
	TLS_RSA_WITH_AES_128_CBC_SHA                  uint16 = 0x002f
	TLS_DHE_RSA_WITH_AES_128_CBC_SHA              uint16 = 0x0033
	TLS_RSA_WITH_AES_256_CBC_SHA                  uint16 = 0x0035
	TLS_PSK_WITH_AES_128_CBC_SHA                  uint16 = 0x008c
	TLS_RSA_WITH_AES_128_GCM_SHA256               uint16 = 0x009c
	TLS_RSA_WITH_AES_256_GCM_SHA384               uint16 = 0x009d
	TLS_DHE_RSA_WITH_AES_128_GCM_SHA256           uint16 = 0x009e
	TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA          uint16 = 0xc009
	TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA            uint16 = 0xc013
	TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256       uint16 = 0xc02b
	TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384       uint16 = 0xc02c
	TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256         uint16 = 0xc02f
	TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384         uint16 = 0xc030
	TLS_ECDHE_PSK_WITH_AES_128_CBC_SHA            uint16 = 0xc035
	TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256   uint16 = 0xcca8
	TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256 uint16 = 0xcca9
	TLS_ECDHE_PSK_WITH_CHACHA20_POLY1305_SHA256   uint16 = 0xccac

	// Hybrid X25519 + ML-KEM-768 suites on the CECPQ1 code points.
	TLS_HYBRID_RSA_WITH_CHACHA20_POLY1305_SHA256   uint16 = 0x16b7
	TLS_HYBRID_ECDSA_WITH_CHACHA20_POLY1305_SHA256 uint16 = 0x16b8
	TLS_HYBRID_RSA_WITH_AES_256_GCM_SHA384         uint16 = 0x16b9
	TLS_HYBRID_ECDSA_WITH_AES_256_GCM_SHA384       uint16 = 0x16ba
)

// CipherSuite is a static cipher suite descriptor. Versions are TLS
// versions; DTLS versions are compared through their TLS equivalent.
type CipherSuite struct {
	ID         uint16
	Name       string
	Kx         uint8
	Auth       uint8
	MinVersion uint16
	MaxVersion uint16

	// PRF is the TLS 1.2 PRF hash. Earlier versions always use MD5+SHA1.
	PRF crypto.PRFHash

	AEAD   bool
	MACLen int
	KeyLen int
	// IVLen is the fixed IV for AEAD suites and the CBC IV, which is only
	// derived from the key block before TLS 1.1.
	IVLen int
}

var cipherSuites = []*CipherSuite{
	cbc(TLS_RSA_WITH_AES_128_CBC_SHA, "TLS_RSA_WITH_AES_128_CBC_SHA", KxRSA, AuthRSA, 16),
	cbc(TLS_DHE_RSA_WITH_AES_128_CBC_SHA, "TLS_DHE_RSA_WITH_AES_128_CBC_SHA", KxDHE, AuthRSA, 16),
	cbc(TLS_RSA_WITH_AES_256_CBC_SHA, "TLS_RSA_WITH_AES_256_CBC_SHA", KxRSA, AuthRSA, 32),
	cbc(TLS_PSK_WITH_AES_128_CBC_SHA, "TLS_PSK_WITH_AES_128_CBC_SHA", KxPSK, AuthPSK, 16),
	gcm(TLS_RSA_WITH_AES_128_GCM_SHA256, "TLS_RSA_WITH_AES_128_GCM_SHA256", KxRSA, AuthRSA, 16, crypto.PRFSHA256),
	gcm(TLS_RSA_WITH_AES_256_GCM_SHA384, "TLS_RSA_WITH_AES_256_GCM_SHA384", KxRSA, AuthRSA, 32, crypto.PRFSHA384),
	gcm(TLS_DHE_RSA_WITH_AES_128_GCM_SHA256, "TLS_DHE_RSA_WITH_AES_128_GCM_SHA256", KxDHE, AuthRSA, 16, crypto.PRFSHA256),
	cbc(TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA, "TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA", KxECDHE, AuthECDSA, 16),
	cbc(TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA, "TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA", KxECDHE, AuthRSA, 16),
	gcm(TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256, "TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256", KxECDHE, AuthECDSA, 16, crypto.PRFSHA256),
	gcm(TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384, "TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384", KxECDHE, AuthECDSA, 32, crypto.PRFSHA384),
	gcm(TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256, "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256", KxECDHE, AuthRSA, 16, crypto.PRFSHA256),
	gcm(TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384, "TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384", KxECDHE, AuthRSA, 32, crypto.PRFSHA384),
	cbc(TLS_ECDHE_PSK_WITH_AES_128_CBC_SHA, "TLS_ECDHE_PSK_WITH_AES_128_CBC_SHA", KxECDHE, AuthPSK, 16),
	chacha(TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256, "TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256", KxECDHE, AuthRSA),
	chacha(TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256, "TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256", KxECDHE, AuthECDSA),
	chacha(TLS_ECDHE_PSK_WITH_CHACHA20_POLY1305_SHA256, "TLS_ECDHE_PSK_WITH_CHACHA20_POLY1305_SHA256", KxECDHE, AuthPSK),
	chacha(TLS_HYBRID_RSA_WITH_CHACHA20_POLY1305_SHA256, "TLS_HYBRID_RSA_WITH_CHACHA20_POLY1305_SHA256", KxHybrid, AuthRSA),
	chacha(TLS_HYBRID_ECDSA_WITH_CHACHA20_POLY1305_SHA256, "TLS_HYBRID_ECDSA_WITH_CHACHA20_POLY1305_SHA256", KxHybrid, AuthECDSA),
	gcm(TLS_HYBRID_RSA_WITH_AES_256_GCM_SHA384, "TLS_HYBRID_RSA_WITH_AES_256_GCM_SHA384", KxHybrid, AuthRSA, 32, crypto.PRFSHA384),
	gcm(TLS_HYBRID_ECDSA_WITH_AES_256_GCM_SHA384, "TLS_HYBRID_ECDSA_WITH_AES_256_GCM_SHA384", KxHybrid, AuthECDSA, 32, crypto.PRFSHA384),
}

func cbc(id uint16, name string, kx, auth uint8, keyLen int) *CipherSuite {
	return &CipherSuite{
		ID: id, Name: name, Kx: kx, Auth: auth,
		MinVersion: constants.VersionTLS10, MaxVersion: constants.VersionTLS12,
		PRF: crypto.PRFSHA256, MACLen: 20, KeyLen: keyLen, IVLen: 16,
	}
}

func gcm(id uint16, name string, kx, auth uint8, keyLen int, prf crypto.PRFHash) *CipherSuite {
	return &CipherSuite{
		ID: id, Name: name, Kx: kx, Auth: auth,
		MinVersion: constants.VersionTLS12, MaxVersion: constants.VersionTLS12,
		PRF: prf, AEAD: true, KeyLen: keyLen, IVLen: 4,
	}
}

func chacha(id uint16, name string, kx, auth uint8) *CipherSuite {
	return &CipherSuite{
		ID: id, Name: name, Kx: kx, Auth: auth,
		MinVersion: constants.VersionTLS12, MaxVersion: constants.VersionTLS12,
		PRF: crypto.PRFSHA256, AEAD: true, KeyLen: 32, IVLen: 12,
	}
}

// CipherSuiteByID looks up a suite by wire value.
func CipherSuiteByID(id uint16) (*CipherSuite, bool) {
	for _, s := range cipherSuites {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// CipherSuites returns every implemented suite.
func CipherSuites() []*CipherSuite {
	out := make([]*CipherSuite, len(cipherSuites))
	copy(out, cipherSuites)
	return out
}

// DefaultCipherSuites is the preference order used when Config.CipherSuites
// is empty: forward-secret AEAD first, static RSA last. PSK suites are only
// usable with PSK callbacks and are appended by the caller.
func DefaultCipherSuites() []uint16 {
	return []uint16{
		TLS_HYBRID_ECDSA_WITH_AES_256_GCM_SHA384,
		TLS_HYBRID_RSA_WITH_AES_256_GCM_SHA384,
		TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
		TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA,
		TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
		TLS_DHE_RSA_WITH_AES_128_GCM_SHA256,
		TLS_DHE_RSA_WITH_AES_128_CBC_SHA,
		TLS_RSA_WITH_AES_128_GCM_SHA256,
		TLS_RSA_WITH_AES_256_GCM_SHA384,
		TLS_RSA_WITH_AES_128_CBC_SHA,
		TLS_RSA_WITH_AES_256_CBC_SHA,
	}
}

// SupportsVersion reports whether the suite may be used at wire version v.
func (s *CipherSuite) SupportsVersion(v uint16) bool {
	t := protocol.TLSVersion(v)
	return t != 0 && t >= s.MinVersion && t <= s.MaxVersion
}

// PRFHash returns the PRF used with the suite at wire version v.
func (s *CipherSuite) PRFHash(v uint16) crypto.PRFHash {
	if protocol.TLSVersion(v) < constants.VersionTLS12 {
		return crypto.PRFMD5SHA1
	}
	return s.PRF
}

// KexKind maps the key-exchange mask onto a kex kind. Static RSA has none.
func (s *CipherSuite) KexKind() (kex.Kind, bool) {
	switch s.Kx {
	case KxDHE:
		return kex.KindDHE, true
	case KxECDHE:
		return kex.KindECDHE, true
	case KxHybrid:
		return kex.KindHybrid, true
	case KxPSK:
		return kex.KindPSK, true
	}
	return 0, false
}

// UsesCertificate reports whether the server authenticates with a
// certificate.
func (s *CipherSuite) UsesCertificate() bool {
	return s.Auth&(AuthRSA|AuthECDSA) != 0
}

// UsesPSK reports whether the suite mixes in a pre-shared key.
func (s *CipherSuite) UsesPSK() bool {
	return s.Auth&AuthPSK != 0
}

// ForwardSecret reports whether the premaster comes from an ephemeral
// exchange.
func (s *CipherSuite) ForwardSecret() bool {
	return s.Kx&(KxDHE|KxECDHE|KxHybrid) != 0
}

// hasServerKeyExchange reports whether ServerKeyExchange is mandatory.
// Plain PSK sends it only to carry an identity hint.
func (s *CipherSuite) hasServerKeyExchange() bool {
	return s.ForwardSecret()
}

// keyBlockLen is the key_block length at wire version v.
func (s *CipherSuite) keyBlockLen(v uint16) int {
	return 2 * (s.MACLen + s.KeyLen + s.ivLen(v))
}

func (s *CipherSuite) ivLen(v uint16) int {
	if !s.AEAD && protocol.TLSVersion(v) > constants.VersionTLS10 {
		return 0
	}
	return s.IVLen
}

func (s *CipherSuite) String() string {
	return s.Name
}
