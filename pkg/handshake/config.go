package handshake

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"io"
	"slices"
	"time"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
	"github.com/sara-star-quant/quantum-tls/pkg/kex"
	"github.com/sara-star-quant/quantum-tls/pkg/protocol"
)

// VerifyMode controls peer certificate checks. The server flags combine.
type VerifyMode uint8

const (
	// VerifyNone skips chain verification on the client and does not
	// request a client certificate on the server.
	VerifyNone VerifyMode = 0

	// VerifyPeer verifies the server chain (client) or requests a client
	// certificate (server).
	VerifyPeer VerifyMode = 1 << iota

	// VerifyFailIfNoPeerCert rejects clients that send no certificate.
	VerifyFailIfNoPeerCert

	// VerifyPeerIfNoChannelID skips the request when Channel ID is
	// negotiated.
	VerifyPeerIfNoChannelID
)

// SelectResult is the outcome of the select-certificate callback.
type SelectResult int

const (
	SelectAccept SelectResult = iota
	SelectRetry
	SelectReject
)

// ClientHelloInfo exposes the parsed ClientHello to server callbacks.
type ClientHelloInfo struct {
	Version             uint16
	CipherSuites        []uint16
	ServerName          string
	Groups              []uint16
	SignatureAlgorithms []uint16
	ALPNProtocols       []string
	Raw                 *protocol.ClientHello
}

// CertificateRequestInfo exposes a CertificateRequest to the client
// certificate callback.
type CertificateRequestInfo struct {
	CertificateTypes       []uint8
	SignatureAlgorithms    []uint16
	CertificateAuthorities [][]byte
	Version                uint16
}

// Config configures a client or server. A Config may be shared by many
// connections once passed to NewClient or NewServer and must not be
// modified afterwards.
type Config struct {
	// DTLS selects datagram TLS versions.
	DTLS bool

	// MinVersion and MaxVersion bound the negotiated wire version.
	MinVersion uint16
	MaxVersion uint16

	// CipherSuites in preference order.
	CipherSuites []uint16

	// SignatureAlgorithms advertised and accepted from TLS 1.2 on.
	SignatureAlgorithms []uint16

	// Capabilities selects key-exchange kinds, ECDHE groups and the
	// server DH group.
	Capabilities *kex.Capabilities

	// Certificate is the server certificate, or the client certificate
	// sent when requested and ClientCertificate is nil.
	Certificate *Certificate

	// Verifier validates peer certificates and signatures.
	Verifier CertificateVerifier

	VerifyMode VerifyMode

	// RetainOnlySHA256OfClientCerts stores the leaf hash instead of the
	// client chain.
	RetainOnlySHA256OfClientCerts bool

	ServerName string

	// PSK
	PSKIdentityHint string
	PSKClient       func(hint string) (identity string, psk []byte, err error)
	PSKServer       func(identity string) ([]byte, error)

	// Session resumption. SessionCache is used by servers; clients receive
	// new sessions through OnNewSession and resume with Client.SetSession.
	SessionCache          SessionCache
	TicketKeys            *TicketKeys
	DisableSessionTickets bool
	SessionTimeout        time.Duration
	OnNewSession          func(*Session)

	DisableExtendedMasterSecret bool

	// NextProtos is the ALPN (and NPN when EnableNPN is set) protocol list
	// in preference order.
	NextProtos []string
	EnableNPN  bool

	// OCSPStapling requests a stapled response (client); OCSPResponse is
	// the response a server staples.
	OCSPStapling bool
	OCSPResponse []byte

	// ChannelIDKey is the client P-256 Channel ID key. EnableChannelID
	// makes a server accept Channel ID.
	ChannelIDKey    *ecdsa.PrivateKey
	EnableChannelID bool

	// FalseStart lets a client return from Handshake after sending its
	// Finished on eligible full handshakes.
	FalseStart bool

	// Server callbacks.
	SelectCertificate func(*ClientHelloInfo) SelectResult
	GetCertificate    func(*ClientHelloInfo) (*Certificate, error)
	DoSProtection     func(*ClientHelloInfo) bool

	// ClientCertificate selects the client certificate. It may return
	// ErrPending. A nil certificate sends an empty Certificate message.
	ClientCertificate func(*CertificateRequestInfo) (*Certificate, error)

	// Cookies enables the DTLS HelloVerifyRequest exchange on a server.
	Cookies *CookieGenerator

	// Rand is the randomness source; nil means crypto/rand.
	Rand io.Reader

	// Time returns the current time; nil means time.Now.
	Time func() time.Time

	Observer Observer
}

// DefaultConfig returns a TLS 1.0-1.2 configuration with the default
// suites, signature algorithms and key exchanges.
func DefaultConfig() *Config {
	return &Config{
		MinVersion:          constants.VersionTLS10,
		MaxVersion:          constants.VersionTLS12,
		CipherSuites:        DefaultCipherSuites(),
		SignatureAlgorithms: DefaultSignatureAlgorithms(),
		Capabilities:        kex.DefaultCapabilities(),
		Verifier:            &X509Verifier{},
		VerifyMode:          VerifyPeer,
		SessionTimeout:      constants.DefaultSessionTimeoutSeconds * time.Second,
	}
}

// DefaultDTLSConfig is DefaultConfig for DTLS 1.0 and 1.2.
func DefaultDTLSConfig() *Config {
	c := DefaultConfig()
	c.DTLS = true
	c.MinVersion = constants.VersionDTLS10
	c.MaxVersion = constants.VersionDTLS12
	return c
}

// Clone returns a shallow copy with independent slices. Collaborators
// (verifier, cache, ticket keys, callbacks) are shared.
func (c *Config) Clone() *Config {
	n := *c
	n.CipherSuites = slices.Clone(c.CipherSuites)
	n.SignatureAlgorithms = slices.Clone(c.SignatureAlgorithms)
	n.NextProtos = slices.Clone(c.NextProtos)
	n.OCSPResponse = slices.Clone(c.OCSPResponse)
	if c.Capabilities != nil {
		n.Capabilities = c.Capabilities.Clone()
	}
	return &n
}

func (c *Config) validate() error {
	if !protocol.SupportedVersion(c.DTLS, c.MinVersion) || !protocol.SupportedVersion(c.DTLS, c.MaxVersion) ||
		protocol.CompareVersions(c.MinVersion, c.MaxVersion) > 0 {
		return qerrors.ErrInvalidConfig
	}
	if len(c.CipherSuites) == 0 || c.Capabilities == nil {
		return qerrors.ErrInvalidConfig
	}
	for _, id := range c.CipherSuites {
		if _, ok := CipherSuiteByID(id); !ok {
			return qerrors.ErrInvalidConfig
		}
	}
	for _, p := range c.NextProtos {
		if len(p) == 0 || len(p) > 255 {
			return qerrors.ErrInvalidConfig
		}
	}
	if len(c.PSKIdentityHint) > constants.MaxPSKIdentitySize {
		return qerrors.ErrInvalidConfig
	}
	if c.ChannelIDKey != nil && c.ChannelIDKey.Curve != elliptic.P256() {
		return qerrors.ErrInvalidConfig
	}
	if c.Certificate != nil && (len(c.Certificate.Chain) == 0 || c.Certificate.Signer == nil) {
		return qerrors.ErrInvalidConfig
	}
	return nil
}

func (c *Config) now() time.Time {
	if c.Time != nil {
		return c.Time()
	}
	return time.Now()
}

func (c *Config) sessionTimeout() time.Duration {
	if c.SessionTimeout > 0 {
		return c.SessionTimeout
	}
	return constants.DefaultSessionTimeoutSeconds * time.Second
}

func (c *Config) observer() Observer {
	if c.Observer != nil {
		return c.Observer
	}
	return nopObserver{}
}

// suitesForVersion returns the configured suites usable at version v with
// the enabled key exchanges.
func (c *Config) suitesForVersion(v uint16) []*CipherSuite {
	var out []*CipherSuite
	for _, id := range c.CipherSuites {
		s, _ := CipherSuiteByID(id)
		if s == nil || !s.SupportsVersion(v) {
			continue
		}
		if kind, ok := s.KexKind(); ok && !c.Capabilities.Enabled(kind) {
			continue
		}
		out = append(out, s)
	}
	return out
}
