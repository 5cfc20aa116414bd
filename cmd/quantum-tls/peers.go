package main

import (
	stdcrypto "crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	"github.com/sara-star-quant/quantum-tls/pkg/crypto"
	"github.com/sara-star-quant/quantum-tls/pkg/handshake"
)

var errUnknownIdentity = errors.New("unknown PSK identity")

// peerOptions describes the client and server of a demo or benchmark.
type peerOptions struct {
	suite      string
	key        string
	psk        string
	serverName string
	dtls       bool

	// trust makes the client verify the server chain against the
	// generated certificate. Remote clients cannot know it.
	trust bool
}

type peers struct {
	client *handshake.Config
	server *handshake.Config
	cache  *handshake.MemoryCache
}

func buildPeers(opts peerOptions) (*peers, error) {
	base := handshake.DefaultConfig
	if opts.dtls {
		base = handshake.DefaultDTLSConfig
	}
	ccfg, scfg := base(), base()
	ccfg.ServerName = opts.serverName
	scfg.VerifyMode = handshake.VerifyNone

	if opts.suite != "" {
		suite, err := suiteByName(opts.suite)
		if err != nil {
			return nil, err
		}
		ccfg.CipherSuites = []uint16{suite.ID}
		scfg.CipherSuites = []uint16{suite.ID}
		if suite.Auth&handshake.AuthRSA != 0 {
			opts.key = "rsa"
		} else if suite.Auth&handshake.AuthECDSA != 0 {
			opts.key = "ecdsa"
		}
	}

	cert, leaf, err := generateCertificate(opts.key, opts.serverName)
	if err != nil {
		return nil, err
	}
	scfg.Certificate = cert
	if opts.trust {
		pool := x509.NewCertPool()
		pool.AddCert(leaf)
		ccfg.Verifier = &handshake.X509Verifier{Roots: pool, DNSName: opts.serverName}
	} else {
		ccfg.VerifyMode = handshake.VerifyNone
	}

	if opts.psk != "" {
		key, err := hex.DecodeString(opts.psk)
		if err != nil {
			return nil, fmt.Errorf("invalid --psk: %w", err)
		}
		if len(key) == 0 || len(key) > constants.MaxPSKSize {
			return nil, fmt.Errorf("invalid --psk length %d", len(key))
		}
		ccfg.PSKClient = func(string) (string, []byte, error) { return "quantum-tls-demo", key, nil }
		scfg.PSKIdentityHint = "quantum-tls"
		scfg.PSKServer = func(identity string) ([]byte, error) {
			if identity != "quantum-tls-demo" {
				return nil, errUnknownIdentity
			}
			return key, nil
		}
	}

	tk, err := handshake.NewTicketKeys(rand.Reader, crypto.AEADAES256GCM)
	if err != nil {
		return nil, err
	}
	scfg.TicketKeys = tk
	cache := handshake.NewMemoryCache(1024)
	scfg.SessionCache = cache

	if opts.dtls {
		cookies, err := handshake.NewRandomCookieGenerator(rand.Reader)
		if err != nil {
			return nil, err
		}
		scfg.Cookies = cookies
	}
	return &peers{client: ccfg, server: scfg, cache: cache}, nil
}

func suiteByName(name string) (*handshake.CipherSuite, error) {
	for _, s := range handshake.CipherSuites() {
		if strings.EqualFold(s.Name, name) {
			return s, nil
		}
	}
	return nil, fmt.Errorf("unknown cipher suite %q (see 'quantum-tls suites')", name)
}

// generateCertificate creates a self-signed certificate valid for one day.
func generateCertificate(keyType, name string) (*handshake.Certificate, *x509.Certificate, error) {
	var key stdcrypto.Signer
	var err error
	switch keyType {
	case "ecdsa", "":
		key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case "rsa":
		key, err = rsa.GenerateKey(rand.Reader, 2048)
	default:
		return nil, nil, fmt.Errorf("invalid key type %q (use ecdsa or rsa)", keyType)
	}
	if err != nil {
		return nil, nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, nil, err
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: name},
		DNSNames:              []string{name},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		return nil, nil, err
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, err
	}
	return &handshake.Certificate{Chain: [][]byte{der}, Signer: handshake.NewKeySigner(key)}, leaf, nil
}

func printSuites() {
	fmt.Printf("%-48s %-6s %-7s %s\n", "NAME", "ID", "AEAD", "VERSIONS")
	for _, s := range handshake.CipherSuites() {
		fmt.Printf("%-48s %04x   %-7t %s - %s\n", s.Name, s.ID, s.AEAD,
			constants.VersionName(s.MinVersion), constants.VersionName(s.MaxVersion))
	}
}
