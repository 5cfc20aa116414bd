// Package integration provides end-to-end tests that run quantum-tls
// handshakes over real network connections.
package integration

import (
	"context"
	stdcrypto "crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
	"github.com/sara-star-quant/quantum-tls/pkg/crypto"
	"github.com/sara-star-quant/quantum-tls/pkg/handshake"
	"github.com/sara-star-quant/quantum-tls/pkg/record"
)

const serverName = "integration.example.test"

type identity struct {
	cert *handshake.Certificate
	leaf *x509.Certificate
}

var (
	identityOnce sync.Once
	ecdsaID      identity
	rsaID        identity
)

func newIdentity(key stdcrypto.Signer) identity {
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: serverName},
		DNSNames:              []string{serverName},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		panic(err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		panic(err)
	}
	return identity{
		cert: &handshake.Certificate{Chain: [][]byte{der}, Signer: handshake.NewKeySigner(key)},
		leaf: leaf,
	}
}

func identities() (ecdsaI, rsaI identity) {
	identityOnce.Do(func() {
		ek, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			panic(err)
		}
		rk, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		ecdsaID, rsaID = newIdentity(ek), newIdentity(rk)
	})
	return ecdsaID, rsaID
}

// configs returns a client trusting both identities and a server presenting id.
func configs(id identity) (ccfg, scfg *handshake.Config) {
	e, r := identities()
	pool := x509.NewCertPool()
	pool.AddCert(e.leaf)
	pool.AddCert(r.leaf)

	ccfg = handshake.DefaultConfig()
	ccfg.ServerName = serverName
	ccfg.Verifier = &handshake.X509Verifier{Roots: pool, DNSName: serverName}

	scfg = handshake.DefaultConfig()
	scfg.VerifyMode = handshake.VerifyNone
	scfg.Certificate = id.cert
	return ccfg, scfg
}

type result struct {
	client, server       handshake.ConnectionState
	clientErr, serverErr error
	clientRL, serverRL   *record.Layer
}

// blockingHandshake retries h until it finishes or ctx is done.
func blockingHandshake(ctx context.Context, h interface{ Handshake(context.Context) error }) error {
	for {
		err := h.Handshake(ctx)
		if !handshake.IsRetry(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// runOverConns runs a client on c and a server on s, each in its own
// goroutine.
func runOverConns(t *testing.T, c, s net.Conn, ccfg, scfg *handshake.Config, session *handshake.Session) *result {
	t.Helper()
	rcfg := record.Config{DTLS: ccfg.DTLS, ReadTimeout: 50 * time.Millisecond, WriteTimeout: time.Second}
	res := &result{clientRL: record.New(c, rcfg), serverRL: record.New(s, rcfg)}

	client, err := handshake.NewClient(ccfg, res.clientRL)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if session != nil {
		if err := client.SetSession(session); err != nil {
			t.Fatalf("SetSession: %v", err)
		}
	}
	server, err := handshake.NewServer(scfg, res.serverRL)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	if addr, ok := c.LocalAddr().(*net.TCPAddr); ok {
		server.SetPeerAddress(addr.IP)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		res.clientErr = blockingHandshake(ctx, client)
		if res.clientErr != nil {
			// unblock a server waiting for the next flight
			_ = c.Close()
		}
		return nil
	})
	g.Go(func() error {
		res.serverErr = blockingHandshake(ctx, server)
		if res.serverErr != nil {
			_ = s.Close()
		}
		return nil
	})
	_ = g.Wait()

	res.client = client.ConnectionState()
	res.server = server.ConnectionState()
	return res
}

// runTCP runs one handshake over a loopback TCP connection.
func runTCP(t *testing.T, ccfg, scfg *handshake.Config, session *handshake.Session) *result {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer func() { _ = ln.Close() }()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	clientConn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	serverConn, ok := <-accepted
	if !ok {
		t.Fatal("Accept failed")
	}
	t.Cleanup(func() {
		_ = clientConn.Close()
		_ = serverConn.Close()
	})
	return runOverConns(t, clientConn, serverConn, ccfg, scfg, session)
}

func requireSuccess(t *testing.T, r *result) {
	t.Helper()
	if r.clientErr != nil {
		t.Fatalf("Client handshake failed: %v", r.clientErr)
	}
	if r.serverErr != nil {
		t.Fatalf("Server handshake failed: %v", r.serverErr)
	}
	if r.client.CipherSuite != r.server.CipherSuite || r.client.Version != r.server.Version {
		t.Fatalf("Peers disagree: client %04x/%04x, server %04x/%04x",
			r.client.Version, r.client.CipherSuite, r.server.Version, r.server.CipherSuite)
	}
	cw := r.clientRL.CipherState(handshake.DirectionWrite)
	sr := r.serverRL.CipherState(handshake.DirectionRead)
	if cw == nil || sr == nil || string(cw.Key) != string(sr.Key) {
		t.Fatal("Client write keys do not match server read keys")
	}
}

// TestHandshakeOverTCP establishes a verified ECDHE-ECDSA connection.
func TestHandshakeOverTCP(t *testing.T) {
	e, _ := identities()
	ccfg, scfg := configs(e)

	r := runTCP(t, ccfg, scfg, nil)
	requireSuccess(t, r)

	if r.client.Version != constants.VersionTLS12 {
		t.Errorf("Version = %04x, want TLS 1.2", r.client.Version)
	}
	if !r.client.ExtendedMasterSecret {
		t.Error("Extended master secret not negotiated")
	}
	if r.server.ServerName != serverName {
		t.Errorf("Server saw SNI %q", r.server.ServerName)
	}
	if len(r.client.PeerCertificates) != 1 {
		t.Errorf("Client got %d peer certificates", len(r.client.PeerCertificates))
	}
}

// TestDifferentCipherSuites runs each key-exchange family over TCP.
func TestDifferentCipherSuites(t *testing.T) {
	e, r := identities()
	tests := []struct {
		name  string
		suite uint16
		id    identity
	}{
		{"RSA", handshake.TLS_RSA_WITH_AES_128_GCM_SHA256, r},
		{"RSA-CBC", handshake.TLS_RSA_WITH_AES_256_CBC_SHA, r},
		{"DHE-RSA", handshake.TLS_DHE_RSA_WITH_AES_128_GCM_SHA256, r},
		{"ECDHE-RSA", handshake.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256, r},
		{"ECDHE-ECDSA", handshake.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384, e},
		{"Hybrid-ECDSA", handshake.TLS_HYBRID_ECDSA_WITH_CHACHA20_POLY1305_SHA256, e},
		{"Hybrid-RSA", handshake.TLS_HYBRID_RSA_WITH_AES_256_GCM_SHA384, r},
		{"ECDHE-PSK", handshake.TLS_ECDHE_PSK_WITH_AES_128_CBC_SHA, e},
		{"PSK", handshake.TLS_PSK_WITH_AES_128_CBC_SHA, e},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ccfg, scfg := configs(tt.id)
			ccfg.CipherSuites = []uint16{tt.suite}
			scfg.CipherSuites = []uint16{tt.suite}
			psk := []byte("integration pre-shared key")
			ccfg.PSKClient = func(string) (string, []byte, error) { return "client", psk, nil }
			scfg.PSKServer = func(string) ([]byte, error) { return psk, nil }

			res := runTCP(t, ccfg, scfg, nil)
			requireSuccess(t, res)
			if res.client.CipherSuite != tt.suite {
				t.Errorf("Negotiated %04x, want %04x", res.client.CipherSuite, tt.suite)
			}
		})
	}
}

// TestLegacyVersions negotiates down to each older TLS version.
func TestLegacyVersions(t *testing.T) {
	_, r := identities()
	for _, v := range []uint16{constants.VersionTLS10, constants.VersionTLS11} {
		t.Run(constants.VersionName(v), func(t *testing.T) {
			ccfg, scfg := configs(r)
			scfg.MaxVersion = v
			ccfg.CipherSuites = []uint16{handshake.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA}

			res := runTCP(t, ccfg, scfg, nil)
			requireSuccess(t, res)
			if res.client.Version != v {
				t.Errorf("Version = %04x, want %04x", res.client.Version, v)
			}
		})
	}
}

// TestResumptionOverTCP resumes through the session cache and through a
// ticket on fresh connections.
func TestResumptionOverTCP(t *testing.T) {
	e, _ := identities()
	tk, err := handshake.NewTicketKeys(rand.Reader, crypto.AEADChaCha20Poly1305)
	if err != nil {
		t.Fatal(err)
	}

	for _, tickets := range []bool{false, true} {
		name := "cache"
		if tickets {
			name = "ticket"
		}
		t.Run(name, func(t *testing.T) {
			ccfg, scfg := configs(e)
			scfg.SessionCache = handshake.NewMemoryCache(16)
			if tickets {
				scfg.TicketKeys = tk
			} else {
				ccfg.DisableSessionTickets = true
			}
			var session *handshake.Session
			ccfg.OnNewSession = func(s *handshake.Session) { session = s }

			requireSuccess(t, runTCP(t, ccfg, scfg, nil))
			if session == nil {
				t.Fatal("No session published")
			}
			if tickets != (len(session.Ticket) > 0) {
				t.Fatalf("Ticket present = %t, want %t", len(session.Ticket) > 0, tickets)
			}

			r := runTCP(t, ccfg, scfg, session)
			requireSuccess(t, r)
			if !r.client.Resumed || !r.server.Resumed {
				t.Errorf("Not resumed: client %t, server %t", r.client.Resumed, r.server.Resumed)
			}
		})
	}
}

// TestDTLSOverStream runs DTLS 1.2 with a cookie exchange over net.Pipe.
func TestDTLSOverStream(t *testing.T) {
	e, _ := identities()
	ccfg, scfg := configs(e)
	for _, cfg := range []*handshake.Config{ccfg, scfg} {
		cfg.DTLS = true
		cfg.MinVersion = constants.VersionDTLS10
		cfg.MaxVersion = constants.VersionDTLS12
	}
	cookies, err := handshake.NewRandomCookieGenerator(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	scfg.Cookies = cookies

	c, s := net.Pipe()
	defer func() { _ = c.Close() }()
	defer func() { _ = s.Close() }()

	r := runOverConns(t, c, s, ccfg, scfg, nil)
	requireSuccess(t, r)
	if r.client.Version != constants.VersionDTLS12 {
		t.Errorf("Version = %04x, want DTLS 1.2", r.client.Version)
	}
}

// TestUntrustedServer fails verification on the client, which alerts the
// server.
func TestUntrustedServer(t *testing.T) {
	e, _ := identities()
	ccfg, scfg := configs(e)
	ccfg.Verifier = &handshake.X509Verifier{Roots: x509.NewCertPool()}

	r := runTCP(t, ccfg, scfg, nil)
	if r.clientErr == nil {
		t.Fatal("Client accepted an untrusted chain")
	}
	var ae *qerrors.AlertError
	if !errors.As(r.clientErr, &ae) {
		t.Fatalf("Client error carries no alert: %v", r.clientErr)
	}
	if r.serverErr == nil {
		t.Fatal("Server completed against a failed client")
	}
}

// TestHandshakeTimeout gives up on a server that never answers.
func TestHandshakeTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer func() { _ = ln.Close() }()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		time.Sleep(time.Second)
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer func() { _ = conn.Close() }()

	e, _ := identities()
	ccfg, _ := configs(e)
	client, err := handshake.NewClient(ccfg, record.New(conn, record.Config{ReadTimeout: 20 * time.Millisecond}))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err = blockingHandshake(ctx, client)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected deadline exceeded, got %v", err)
	}
	if client.State() != handshake.ClientReadServerHello {
		t.Errorf("Client state = %v, want %v", client.State(), handshake.ClientReadServerHello)
	}
}
