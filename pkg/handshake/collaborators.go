package handshake

import (
	stdcrypto "crypto"
	"io"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
)

// Direction selects which half of the record layer a cipher change applies
// to.
type Direction uint8

const (
	DirectionRead Direction = iota
	DirectionWrite
)

func (d Direction) String() string {
	if d == DirectionWrite {
		return "write"
	}
	return "read"
}

// CipherParams is the key material for one direction after
// ChangeCipherSpec. Record protection itself is done by the record layer.
type CipherParams struct {
	Version     uint16
	CipherSuite uint16
	MACKey      []byte
	Key         []byte
	IV          []byte
}

// RecordLayer moves handshake messages across the wire. Methods return
// ErrWouldBlock when the transport cannot make progress; the handshake
// returns that to its caller and re-enters the same state later.
type RecordLayer interface {
	// ReadHandshakeMessage returns the next complete handshake message.
	// A ChangeCipherSpec or application data record in its place fails
	// with an unexpected_message AlertError.
	ReadHandshakeMessage() (typ uint8, body []byte, err error)

	// WriteHandshakeMessage queues a message. It must not block; queued
	// data is sent by Flush.
	WriteHandshakeMessage(typ uint8, body []byte) error

	SendAlert(level constants.AlertLevel, desc constants.AlertDescription) error

	// ChangeCipherState with DirectionWrite sends ChangeCipherSpec and
	// protects later records with params. DirectionRead consumes the
	// peer's ChangeCipherSpec, returning ErrWouldBlock until it arrives.
	ChangeCipherState(dir Direction, params *CipherParams) error

	Flush() error

	// SetVersion pins the record version once the peer's version is
	// known. Later records carrying another version are rejected.
	SetVersion(version uint16)
}

// KeyType is the public key algorithm of a certificate.
type KeyType uint8

const (
	KeyTypeUnknown KeyType = iota
	KeyTypeRSA
	KeyTypeECDSA
)

func (k KeyType) String() string {
	switch k {
	case KeyTypeRSA:
		return "RSA"
	case KeyTypeECDSA:
		return "ECDSA"
	default:
		return "unknown"
	}
}

// authMask is the cipher suite authentication a key of this type serves.
func (k KeyType) authMask() uint8 {
	switch k {
	case KeyTypeRSA:
		return AuthRSA
	case KeyTypeECDSA:
		return AuthECDSA
	}
	return 0
}

// CertificateVerifier validates peer certificates and public-key
// operations. X509Verifier is the crypto/x509 implementation.
type CertificateVerifier interface {
	// VerifyChain validates a DER chain, leaf first. An AlertError selects
	// the alert; other errors are reported as bad_certificate.
	VerifyChain(chain [][]byte) error

	PublicKey(cert []byte) (stdcrypto.PublicKey, error)
	CertificateType(cert []byte) (KeyType, error)

	// VerifySignature checks sig over data, which is hashed as alg
	// requires.
	VerifySignature(pub stdcrypto.PublicKey, alg uint16, data, sig []byte) error

	// EncryptPKCS1 encrypts an RSA premaster secret to pub.
	EncryptPKCS1(rand io.Reader, pub stdcrypto.PublicKey, msg []byte) ([]byte, error)
}

// Signer is a private key backend. Sign and Decrypt may return ErrPending
// to complete asynchronously; the handshake calls them again on re-entry.
type Signer interface {
	KeyType() KeyType

	// Sign hashes data as alg requires and signs the digest.
	Sign(rand io.Reader, alg uint16, data []byte) ([]byte, error)

	// Decrypt performs a raw RSA decryption and returns the full
	// modulus-sized block without removing padding.
	Decrypt(ciphertext []byte) ([]byte, error)

	MaxSignatureLen() int
}

// Certificate is a chain together with its private key.
type Certificate struct {
	Chain  [][]byte
	Signer Signer
}

// SessionCache stores sessions for session-id resumption. Implementations
// must be safe for concurrent use and must treat stored sessions as
// immutable.
type SessionCache interface {
	// Lookup returns nil, nil on a miss. ErrPending suspends the handshake.
	Lookup(id []byte) (*Session, error)
	Store(s *Session) error
}
