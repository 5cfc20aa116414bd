package handshake_test

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
	"github.com/sara-star-quant/quantum-tls/pkg/handshake"
)

// --- False Start Tests ---

func TestFalseStart(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	ccfg := clientConfig()
	ccfg.FalseStart = true
	obs := &recordingObserver{}
	ccfg.Observer = obs

	p := newPair(t, ccfg, serverConfig(ecdsaC))

	// Drive until the client first returns without error.
	for i := 0; i < 100 && p.client.State() != handshake.ClientFalseStart; i++ {
		err := p.client.Handshake(t.Context())
		if err == nil {
			break
		}
		require.True(t, handshake.IsRetry(err))
		err = p.server.Handshake(t.Context())
		require.True(t, err == nil || handshake.IsRetry(err))
	}
	require.Equal(t, handshake.ClientFalseStart, p.client.State())
	require.NotNil(t, p.client.Session())
	require.True(t, p.client.ConnectionState().FalseStarted)
	require.Nil(t, p.server.Session())
	require.Empty(t, obs.ended, "attempt closed at False Start")

	p.mustRun(t)
	require.Equal(t, handshake.ClientDone, p.client.State())
	require.Contains(t, obs.states, handshake.ClientFalseStart.String())
	require.Equal(t, 1, obs.started)
	require.Equal(t, []error{nil}, obs.ended)
	require.Equal(t, "done", obs.outcomes[0].State)
	requireKeysAgree(t, p)
}

func TestFalseStartIneligible(t *testing.T) {
	ecdsaC, rsaC, _ := testCerts()

	tests := []struct {
		name  string
		cert  *testCert
		setup func(c, s *handshake.Config)
	}{
		{
			name: "no negotiated protocol", cert: ecdsaC,
			setup: func(c, _ *handshake.Config) { c.NextProtos = []string{"h2"} },
		},
		{
			name: "static RSA", cert: rsaC,
			setup: func(c, _ *handshake.Config) {
				c.CipherSuites = []uint16{handshake.TLS_RSA_WITH_AES_128_GCM_SHA256}
			},
		},
		{
			name: "CBC suite", cert: ecdsaC,
			setup: func(c, _ *handshake.Config) {
				c.CipherSuites = []uint16{handshake.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ccfg := clientConfig()
			ccfg.FalseStart = true
			obs := &recordingObserver{}
			ccfg.Observer = obs
			scfg := serverConfig(tt.cert)
			tt.setup(ccfg, scfg)

			p := newPair(t, ccfg, scfg)
			p.mustRun(t)
			require.False(t, p.client.ConnectionState().FalseStarted)
			require.NotContains(t, obs.states, handshake.ClientFalseStart.String())
		})
	}
}

func TestFalseStartWithNegotiatedProtocol(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	ccfg := clientConfig()
	ccfg.FalseStart = true
	ccfg.NextProtos = []string{"h2"}
	scfg := serverConfig(ecdsaC)
	scfg.NextProtos = []string{"h2"}

	p := newPair(t, ccfg, scfg)
	p.mustRun(t)
	require.True(t, p.client.ConnectionState().FalseStarted)
}

// --- Channel ID Tests ---

func newChannelIDKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	k, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return k
}

func channelIDOf(k *ecdsa.PrivateKey) []byte {
	out := make([]byte, 64)
	k.X.FillBytes(out[:32])
	k.Y.FillBytes(out[32:])
	return out
}

func TestChannelID(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	key := newChannelIDKey(t)
	ccfg := clientConfig()
	ccfg.ChannelIDKey = key
	published := captureSessions(ccfg)
	scfg := serverConfig(ecdsaC)
	scfg.EnableChannelID = true
	scfg.TicketKeys = newTicketKeys(t)

	p := establish(t, ccfg, scfg, nil)
	require.Equal(t, channelIDOf(key), p.server.ConnectionState().ChannelID)
	require.Equal(t, channelIDOf(key), p.client.ConnectionState().ChannelID)
	require.NotEmpty(t, p.server.Session().OriginalHandshakeHash)
	require.Equal(t, p.server.Session().OriginalHandshakeHash, p.client.Session().OriginalHandshakeHash)

	// Resumption binds the new signature to the original handshake.
	p = establish(t, ccfg, scfg, (*published)[0])
	require.True(t, p.server.ConnectionState().Resumed)
	require.Equal(t, channelIDOf(key), p.server.ConnectionState().ChannelID)
}

func TestChannelIDNotNegotiatedWithoutServerSupport(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	ccfg := clientConfig()
	ccfg.ChannelIDKey = newChannelIDKey(t)

	p := establish(t, ccfg, serverConfig(ecdsaC), nil)
	require.Empty(t, p.server.ConnectionState().ChannelID)
	require.Empty(t, p.client.ConnectionState().ChannelID)
}

func TestChannelIDBadSignature(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	ccfg := clientConfig()
	ccfg.ChannelIDKey = newChannelIDKey(t)
	scfg := serverConfig(ecdsaC)
	scfg.EnableChannelID = true

	p := newPair(t, ccfg, scfg)
	p.clientTL.write = func(typ uint8, body []byte) []byte {
		if typ == constants.TypeChannelID {
			body[len(body)-1] ^= 0x01
		}
		return body
	}

	_, serr := p.run()
	requireAlert(t, serr, constants.AlertDecryptError)
	require.ErrorIs(t, serr, qerrors.ErrBadSignature)
}

func TestChannelIDReplacesClientCertificateRequest(t *testing.T) {
	ecdsaC, _, clientC := testCerts()
	ccfg := clientConfig()
	ccfg.ChannelIDKey = newChannelIDKey(t)
	ccfg.Certificate = clientC.certificate()
	scfg := serverConfig(ecdsaC)
	scfg.EnableChannelID = true
	scfg.VerifyMode = handshake.VerifyPeer | handshake.VerifyPeerIfNoChannelID

	p := establish(t, ccfg, scfg, nil)
	require.NotEmpty(t, p.server.ConnectionState().ChannelID)
	require.Empty(t, p.server.Session().PeerCertificates)
}

// --- Application Protocol Tests ---

func TestALPNServerPreference(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	ccfg := clientConfig()
	ccfg.NextProtos = []string{"h2", "http/1.1"}
	scfg := serverConfig(ecdsaC)
	scfg.NextProtos = []string{"http/1.1", "h2"}

	p := establish(t, ccfg, scfg, nil)
	ccs, scs := p.client.ConnectionState(), p.server.ConnectionState()
	require.Equal(t, "http/1.1", ccs.NegotiatedProtocol)
	require.Equal(t, "http/1.1", scs.NegotiatedProtocol)
	require.False(t, ccs.NegotiatedByNPN)
	require.Equal(t, "http/1.1", p.server.Session().NegotiatedProtocol)
}

func TestALPNNoOverlap(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	ccfg := clientConfig()
	ccfg.NextProtos = []string{"h2"}
	scfg := serverConfig(ecdsaC)
	scfg.NextProtos = []string{"spdy/3"}

	p := establish(t, ccfg, scfg, nil)
	require.Empty(t, p.client.ConnectionState().NegotiatedProtocol)
}

func TestNPNFallback(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	ccfg := clientConfig()
	ccfg.EnableNPN = true
	ccfg.NextProtos = []string{"spdy/3"}
	scfg := serverConfig(ecdsaC)
	scfg.EnableNPN = true
	scfg.NextProtos = []string{"spdy/2"}

	p := establish(t, ccfg, scfg, nil)
	ccs, scs := p.client.ConnectionState(), p.server.ConnectionState()
	require.True(t, ccs.NegotiatedByNPN)
	require.True(t, scs.NegotiatedByNPN)
	require.Equal(t, "spdy/3", ccs.NegotiatedProtocol)
	require.Equal(t, "spdy/3", scs.NegotiatedProtocol)
}

func TestALPNPreferredOverNPN(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	ccfg := clientConfig()
	ccfg.EnableNPN = true
	ccfg.NextProtos = []string{"h2"}
	scfg := serverConfig(ecdsaC)
	scfg.EnableNPN = true
	scfg.NextProtos = []string{"h2"}

	p := establish(t, ccfg, scfg, nil)
	require.False(t, p.client.ConnectionState().NegotiatedByNPN)
	require.Equal(t, "h2", p.client.ConnectionState().NegotiatedProtocol)
}

// --- OCSP Tests ---

func TestOCSPStapling(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	staple := []byte("ocsp response bytes")
	ccfg := clientConfig()
	ccfg.OCSPStapling = true
	scfg := serverConfig(ecdsaC)
	scfg.OCSPResponse = staple

	p := establish(t, ccfg, scfg, nil)
	require.Equal(t, staple, p.client.ConnectionState().OCSPResponse)

	// Not stapled unless requested.
	p = establish(t, clientConfig(), scfg, nil)
	require.Empty(t, p.client.ConnectionState().OCSPResponse)
}

// --- Client Certificate Tests ---

func TestClientCertificate(t *testing.T) {
	ecdsaC, rsaC, clientC := testCerts()

	for _, version := range []uint16{constants.VersionTLS12, constants.VersionTLS11} {
		for _, serverCert := range []*testCert{ecdsaC, rsaC} {
			ccfg := clientConfig()
			ccfg.MaxVersion = version
			ccfg.Certificate = clientC.certificate()
			scfg := serverConfig(serverCert)
			scfg.VerifyMode = handshake.VerifyPeer | handshake.VerifyFailIfNoPeerCert

			p := establish(t, ccfg, scfg, nil)
			sess := p.server.Session()
			require.Equal(t, [][]byte{clientC.der}, sess.PeerCertificates)
			require.True(t, sess.PeerVerified)
			requireKeysAgree(t, p)
		}
	}
}

func TestRetainOnlySHA256OfClientCerts(t *testing.T) {
	ecdsaC, _, clientC := testCerts()
	ccfg := clientConfig()
	ccfg.Certificate = clientC.certificate()
	scfg := serverConfig(ecdsaC)
	scfg.VerifyMode = handshake.VerifyPeer
	scfg.RetainOnlySHA256OfClientCerts = true

	p := establish(t, ccfg, scfg, nil)
	sum := sha256.Sum256(clientC.der)
	require.Equal(t, sum[:], p.server.Session().PeerSHA256)
	require.Empty(t, p.server.Session().PeerCertificates)
}

func TestMissingClientCertificate(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	scfg := serverConfig(ecdsaC)
	scfg.VerifyMode = handshake.VerifyPeer

	p := establish(t, clientConfig(), scfg, nil)
	require.Empty(t, p.server.Session().PeerCertificates)
	require.False(t, p.server.Session().PeerVerified)

	scfg.VerifyMode = handshake.VerifyPeer | handshake.VerifyFailIfNoPeerCert
	p = newPair(t, clientConfig(), scfg)
	cerr, serr := p.run()
	requireAlert(t, serr, constants.AlertHandshakeFailure)
	require.ErrorIs(t, serr, qerrors.ErrCertificateRequired)
	require.ErrorIs(t, cerr, qerrors.ErrPeerAlert)
}

func TestUntrustedClientCertificate(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	stranger := newTestCert(key, "stranger.example.test", 99)

	ccfg := clientConfig()
	ccfg.Certificate = stranger.certificate()
	scfg := serverConfig(ecdsaC)
	scfg.VerifyMode = handshake.VerifyPeer

	p := newPair(t, ccfg, scfg)
	_, serr := p.run()
	requireAlert(t, serr, constants.AlertUnknownCA)
}

func TestBadCertificateVerify(t *testing.T) {
	ecdsaC, _, clientC := testCerts()
	ccfg := clientConfig()
	ccfg.Certificate = clientC.certificate()
	scfg := serverConfig(ecdsaC)
	scfg.VerifyMode = handshake.VerifyPeer

	p := newPair(t, ccfg, scfg)
	p.clientTL.write = func(typ uint8, body []byte) []byte {
		if typ == constants.TypeCertificateVerify {
			body[len(body)-1] ^= 0x01
		}
		return body
	}

	_, serr := p.run()
	requireAlert(t, serr, constants.AlertDecryptError)
	require.ErrorIs(t, serr, qerrors.ErrBadSignature)
}

func TestClientCertificateCallback(t *testing.T) {
	ecdsaC, _, clientC := testCerts()
	var seen *handshake.CertificateRequestInfo
	ccfg := clientConfig()
	ccfg.ClientCertificate = func(info *handshake.CertificateRequestInfo) (*handshake.Certificate, error) {
		seen = info
		return clientC.certificate(), nil
	}
	scfg := serverConfig(ecdsaC)
	scfg.VerifyMode = handshake.VerifyPeer

	p := establish(t, ccfg, scfg, nil)
	require.NotNil(t, seen)
	require.Equal(t, constants.VersionTLS12, seen.Version)
	require.Contains(t, seen.CertificateTypes, constants.CertTypeECDSASign)
	require.NotEmpty(t, seen.SignatureAlgorithms)
	require.Len(t, p.server.Session().PeerCertificates, 1)
}

// --- PSK Tests ---

func TestPSKWithoutHint(t *testing.T) {
	ccfg, scfg := clientConfig(), serverConfig(nil)
	pskConfigs(ccfg, scfg)
	scfg.PSKIdentityHint = ""
	ccfg.PSKClient = func(hint string) (string, []byte, error) {
		require.Empty(t, hint)
		return "client-1", bytes.Repeat([]byte{0x5a}, 32), nil
	}
	ccfg.CipherSuites = []uint16{handshake.TLS_PSK_WITH_AES_128_CBC_SHA}
	scfg.CipherSuites = ccfg.CipherSuites

	p := establish(t, ccfg, scfg, nil)
	require.Equal(t, "client-1", p.server.ConnectionState().PSKIdentity)
	requireKeysAgree(t, p)
}

func TestPSKUnknownIdentity(t *testing.T) {
	ccfg, scfg := clientConfig(), serverConfig(nil)
	pskConfigs(ccfg, scfg)
	ccfg.PSKClient = func(string) (string, []byte, error) {
		return "intruder", bytes.Repeat([]byte{0x5a}, 32), nil
	}
	ccfg.CipherSuites = []uint16{handshake.TLS_ECDHE_PSK_WITH_CHACHA20_POLY1305_SHA256}
	scfg.CipherSuites = ccfg.CipherSuites

	p := newPair(t, ccfg, scfg)
	cerr, serr := p.run()
	requireAlert(t, serr, constants.AlertUnknownPSKIdentity)
	require.ErrorIs(t, serr, qerrors.ErrPSKIdentityNotFound)
	require.ErrorIs(t, cerr, qerrors.ErrPeerAlert)
}

func TestPSKMismatchFailsFinished(t *testing.T) {
	ccfg, scfg := clientConfig(), serverConfig(nil)
	pskConfigs(ccfg, scfg)
	ccfg.PSKClient = func(string) (string, []byte, error) {
		return "client-1", bytes.Repeat([]byte{0xa5}, 32), nil
	}
	ccfg.CipherSuites = []uint16{handshake.TLS_PSK_WITH_AES_128_CBC_SHA}
	scfg.CipherSuites = ccfg.CipherSuites

	p := newPair(t, ccfg, scfg)
	_, serr := p.run()
	requireAlert(t, serr, constants.AlertDecryptError)
	require.ErrorIs(t, serr, qerrors.ErrBadFinished)
}

func TestPSKSuitesNotOfferedWithoutCallback(t *testing.T) {
	ccfg, scfg := clientConfig(), serverConfig(nil)
	pskConfigs(ccfg, scfg)
	ccfg.PSKClient = nil
	ccfg.CipherSuites = []uint16{handshake.TLS_PSK_WITH_AES_128_CBC_SHA}

	p := newPair(t, ccfg, scfg)
	cerr, _ := p.run()
	requireAlert(t, cerr, constants.AlertInternalError)
	require.ErrorIs(t, cerr, qerrors.ErrUnsupportedCipherSuite)
}
