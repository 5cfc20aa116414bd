package handshake_test

import (
	"context"
	stdcrypto "crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
	"github.com/sara-star-quant/quantum-tls/pkg/handshake"
	"github.com/sara-star-quant/quantum-tls/pkg/record"
)

// --- Certificates ---

type testCert struct {
	der  []byte
	x509 *x509.Certificate
	key  stdcrypto.Signer
}

func (c *testCert) certificate() *handshake.Certificate {
	return &handshake.Certificate{Chain: [][]byte{c.der}, Signer: handshake.NewKeySigner(c.key)}
}

var (
	certOnce   sync.Once
	ecdsaCert  *testCert
	rsaCert    *testCert
	clientCert *testCert
)

func newTestCert(key stdcrypto.Signer, name string, serial int64) *testCert {
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		DNSNames:              []string{name},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, key.Public(), key)
	if err != nil {
		panic(err)
	}
	parsed, err := x509.ParseCertificate(der)
	if err != nil {
		panic(err)
	}
	return &testCert{der: der, x509: parsed, key: key}
}

func testCerts() (ecdsaC, rsaC, clientC *testCert) {
	certOnce.Do(func() {
		ek, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			panic(err)
		}
		rk, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		ck, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			panic(err)
		}
		ecdsaCert = newTestCert(ek, "ecdsa.example.test", 1)
		rsaCert = newTestCert(rk, "rsa.example.test", 2)
		clientCert = newTestCert(ck, "client.example.test", 3)
	})
	return ecdsaCert, rsaCert, clientCert
}

func testVerifier() *handshake.X509Verifier {
	e, r, c := testCerts()
	pool := x509.NewCertPool()
	pool.AddCert(e.x509)
	pool.AddCert(r.x509)
	pool.AddCert(c.x509)
	return &handshake.X509Verifier{Roots: pool}
}

// --- Configs ---

func clientConfig() *handshake.Config {
	cfg := handshake.DefaultConfig()
	cfg.Verifier = testVerifier()
	return cfg
}

func serverConfig(cert *testCert) *handshake.Config {
	cfg := handshake.DefaultConfig()
	cfg.Verifier = testVerifier()
	cfg.VerifyMode = handshake.VerifyNone
	if cert != nil {
		cfg.Certificate = cert.certificate()
	}
	return cfg
}

// --- Observer ---

type recordingObserver struct {
	mu          sync.Mutex
	states      []string
	alerts      []constants.AlertDescription
	resumptions int
	tickets     []bool
	substituted int
	retries     []handshake.RetryReason
	started     int
	outcomes    []handshake.Outcome
	ended       []error
}

type attemptKey struct{}

func (o *recordingObserver) OnHandshakeStart(ctx context.Context) (context.Context, func(handshake.Outcome)) {
	o.mu.Lock()
	o.started++
	attempt := o.started
	o.mu.Unlock()
	return context.WithValue(ctx, attemptKey{}, attempt), func(out handshake.Outcome) {
		o.mu.Lock()
		o.outcomes = append(o.outcomes, out)
		o.ended = append(o.ended, out.Err)
		o.mu.Unlock()
	}
}

// attemptOf returns the attempt number stored by OnHandshakeStart, or 0 if a
// hook got a context that did not come from it.
func attemptOf(ctx context.Context) int {
	n, _ := ctx.Value(attemptKey{}).(int)
	return n
}

func (o *recordingObserver) OnStateChange(ctx context.Context, _, to string) {
	o.mu.Lock()
	if attemptOf(ctx) != 0 {
		o.states = append(o.states, to)
	}
	o.mu.Unlock()
}

func (o *recordingObserver) OnRetry(_ context.Context, reason handshake.RetryReason) {
	o.mu.Lock()
	o.retries = append(o.retries, reason)
	o.mu.Unlock()
}

func (o *recordingObserver) OnAlertSent(_ context.Context, a constants.AlertDescription) {
	o.mu.Lock()
	o.alerts = append(o.alerts, a)
	o.mu.Unlock()
}

func (o *recordingObserver) OnResumption(context.Context) {
	o.mu.Lock()
	o.resumptions++
	o.mu.Unlock()
}

func (o *recordingObserver) OnTicketIssued(_ context.Context, placeholder bool) {
	o.mu.Lock()
	o.tickets = append(o.tickets, placeholder)
	o.mu.Unlock()
}

func (o *recordingObserver) OnPremasterSubstituted(context.Context) {
	o.mu.Lock()
	o.substituted++
	o.mu.Unlock()
}

// --- Record plumbing ---

// tamperLayer rewrites outgoing handshake messages after the sender has
// hashed them.
type tamperLayer struct {
	handshake.RecordLayer
	write func(typ uint8, body []byte) []byte
}

func (l *tamperLayer) WriteHandshakeMessage(typ uint8, body []byte) error {
	if l.write != nil {
		body = l.write(typ, append([]byte(nil), body...))
	}
	return l.RecordLayer.WriteHandshakeMessage(typ, body)
}

type pair struct {
	client   *handshake.Client
	server   *handshake.Server
	clientRL *record.Layer
	serverRL *record.Layer
	clientTL *tamperLayer
	serverTL *tamperLayer
	reasons  []handshake.RetryReason
}

func newPairE(ccfg, scfg *handshake.Config) (*pair, error) {
	a, b := record.Pipe()
	rcfg := record.DefaultConfig()
	rcfg.DTLS = ccfg.DTLS
	p := &pair{
		clientRL: record.New(a, rcfg),
		serverRL: record.New(b, rcfg),
	}
	p.clientTL = &tamperLayer{RecordLayer: p.clientRL}
	p.serverTL = &tamperLayer{RecordLayer: p.serverRL}

	var err error
	if p.client, err = handshake.NewClient(ccfg, p.clientTL); err != nil {
		return nil, err
	}
	if p.server, err = handshake.NewServer(scfg, p.serverTL); err != nil {
		return nil, err
	}
	return p, nil
}

func newPair(t *testing.T, ccfg, scfg *handshake.Config) *pair {
	t.Helper()
	p, err := newPairE(ccfg, scfg)
	require.NoError(t, err)
	return p
}

// run alternates both machines on one goroutine until each has finished
// or failed. A failing side sends its alert, which ends the other side.
// Retry reasons other than I/O are recorded.
func (p *pair) run() (clientErr, serverErr error) {
	ctx := context.Background()
	clientDone, serverDone := false, false
	for i := 0; i < 500 && !(clientDone && serverDone); i++ {
		if !clientDone {
			err := p.client.Handshake(ctx)
			switch {
			case err == nil:
				clientDone = p.client.State() == handshake.ClientDone
			case handshake.IsRetry(err):
				p.note(err)
			default:
				clientErr, clientDone = err, true
			}
		}
		if !serverDone {
			err := p.server.Handshake(ctx)
			switch {
			case err == nil:
				serverDone = true
			case handshake.IsRetry(err):
				p.note(err)
			default:
				serverErr, serverDone = err, true
			}
		}
	}
	if !clientDone && clientErr == nil {
		clientErr = qerrors.ErrWouldBlock
	}
	if !serverDone && serverErr == nil {
		serverErr = qerrors.ErrWouldBlock
	}
	return clientErr, serverErr
}

func (p *pair) note(err error) {
	var re *handshake.RetryError
	if qerrors.As(err, &re) && re.Reason != handshake.RetryRead && re.Reason != handshake.RetryWrite {
		p.reasons = append(p.reasons, re.Reason)
	}
}

func (p *pair) mustRun(t *testing.T) {
	t.Helper()
	cerr, serr := p.run()
	require.NoError(t, cerr, "client")
	require.NoError(t, serr, "server")
}

func requireAlert(t *testing.T, err error, want constants.AlertDescription) {
	t.Helper()
	var ae *qerrors.AlertError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, want, ae.Alert)
}

// requireKeysAgree checks that both sides installed the same traffic keys.
func requireKeysAgree(t *testing.T, p *pair) {
	t.Helper()
	cw := p.clientRL.CipherState(handshake.DirectionWrite)
	sr := p.serverRL.CipherState(handshake.DirectionRead)
	sw := p.serverRL.CipherState(handshake.DirectionWrite)
	cr := p.clientRL.CipherState(handshake.DirectionRead)
	require.NotNil(t, cw)
	require.NotNil(t, sw)
	require.Equal(t, cw.Key, sr.Key)
	require.Equal(t, cw.MACKey, sr.MACKey)
	require.Equal(t, cw.IV, sr.IV)
	require.Equal(t, sw.Key, cr.Key)
	require.NotEqual(t, cw.Key, sw.Key)
}

// captureSessions collects sessions published through OnNewSession.
func captureSessions(cfg *handshake.Config) *[]*handshake.Session {
	var got []*handshake.Session
	cfg.OnNewSession = func(s *handshake.Session) { got = append(got, s) }
	return &got
}
