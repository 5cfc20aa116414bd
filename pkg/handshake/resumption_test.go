package handshake_test

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
	"github.com/sara-star-quant/quantum-tls/pkg/crypto"
	"github.com/sara-star-quant/quantum-tls/pkg/handshake"
)

func newTicketKeys(t *testing.T) *handshake.TicketKeys {
	t.Helper()
	tk, err := handshake.NewTicketKeys(rand.Reader, crypto.AEADAES256GCM)
	require.NoError(t, err)
	return tk
}

// establish runs a handshake offering sess and returns the pair.
func establish(t *testing.T, ccfg, scfg *handshake.Config, sess *handshake.Session) *pair {
	t.Helper()
	p := newPair(t, ccfg, scfg)
	if sess != nil {
		require.NoError(t, p.client.SetSession(sess))
	}
	p.mustRun(t)
	return p
}

// --- Ticket Tests ---

func TestTicketResumption(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	ccfg := clientConfig()
	published := captureSessions(ccfg)
	obs := &recordingObserver{}
	scfg := serverConfig(ecdsaC)
	scfg.TicketKeys = newTicketKeys(t)
	scfg.Observer = obs

	first := establish(t, ccfg, scfg, nil)
	require.Len(t, *published, 1)
	sess := (*published)[0]
	require.NotEmpty(t, sess.Ticket)
	require.Equal(t, uint32(constants.DefaultSessionTimeoutSeconds), sess.TicketLifetimeHint)
	sum := sha256.Sum256(sess.Ticket)
	require.Equal(t, sum[:], sess.ID)
	require.Equal(t, []bool{false}, obs.tickets)

	second := establish(t, ccfg, scfg, sess)
	ccs, scs := second.client.ConnectionState(), second.server.ConnectionState()
	require.True(t, ccs.Resumed)
	require.True(t, scs.Resumed)
	require.Equal(t, first.server.Session().MasterSecret, second.server.Session().MasterSecret)
	require.Equal(t, sess.MasterSecret, second.client.Session().MasterSecret)
	requireKeysAgree(t, second)
	require.Equal(t, 1, obs.resumptions)

	// No renewal was needed, so nothing new was published.
	require.Len(t, *published, 1)
	require.Len(t, obs.tickets, 1)
}

func TestTicketRenewedAfterRotation(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	ccfg := clientConfig()
	published := captureSessions(ccfg)
	scfg := serverConfig(ecdsaC)
	scfg.TicketKeys = newTicketKeys(t)

	establish(t, ccfg, scfg, nil)
	sess := (*published)[0]

	require.NoError(t, scfg.TicketKeys.Rotate(rand.Reader))
	p := establish(t, ccfg, scfg, sess)
	require.True(t, p.client.ConnectionState().Resumed)

	require.Len(t, *published, 2)
	renewed := (*published)[1]
	require.NotEqual(t, sess.Ticket, renewed.Ticket)
	require.Zero(t, renewed.TicketLifetimeHint)
	require.Equal(t, sess.ID, renewed.ID)
	require.Equal(t, sess.MasterSecret, renewed.MasterSecret)

	// The renewed ticket resumes under the current key.
	p = establish(t, ccfg, scfg, renewed)
	require.True(t, p.server.ConnectionState().Resumed)
	require.Len(t, *published, 2)
}

func TestUnknownTicketFallsBackToFullHandshake(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	ccfg := clientConfig()
	published := captureSessions(ccfg)
	scfg := serverConfig(ecdsaC)
	scfg.TicketKeys = newTicketKeys(t)

	establish(t, ccfg, scfg, nil)
	sess := (*published)[0]

	require.NoError(t, scfg.TicketKeys.Rotate(rand.Reader))
	require.NoError(t, scfg.TicketKeys.Rotate(rand.Reader))
	p := establish(t, ccfg, scfg, sess)
	require.False(t, p.client.ConnectionState().Resumed)
	require.NotEqual(t, sess.MasterSecret, p.client.Session().MasterSecret)
	require.Len(t, *published, 2)
}

func TestSharedTicketSeed(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	seed := bytes.Repeat([]byte{0x42}, 32)
	tkA, err := handshake.TicketKeysFromSeed(seed, crypto.AEADAES256GCM)
	require.NoError(t, err)
	tkB, err := handshake.TicketKeysFromSeed(seed, crypto.AEADAES256GCM)
	require.NoError(t, err)

	ccfg := clientConfig()
	published := captureSessions(ccfg)
	scfgA := serverConfig(ecdsaC)
	scfgA.TicketKeys = tkA
	scfgB := serverConfig(ecdsaC)
	scfgB.TicketKeys = tkB

	establish(t, ccfg, scfgA, nil)
	p := establish(t, ccfg, scfgB, (*published)[0])
	require.True(t, p.server.ConnectionState().Resumed)
}

func TestTicketsDisabledOnClient(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	ccfg := clientConfig()
	ccfg.DisableSessionTickets = true
	published := captureSessions(ccfg)
	scfg := serverConfig(ecdsaC)
	scfg.TicketKeys = newTicketKeys(t)

	p := establish(t, ccfg, scfg, nil)
	require.Nil(t, p.client.Session().Ticket)
	// Without tickets or a cache the session has no ID and is not
	// resumable.
	require.Empty(t, *published)
}

// --- Session Cache Tests ---

func TestSessionCacheResumption(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	ccfg := clientConfig()
	published := captureSessions(ccfg)
	cache := handshake.NewMemoryCache(0)
	scfg := serverConfig(ecdsaC)
	scfg.SessionCache = cache

	first := establish(t, ccfg, scfg, nil)
	require.Equal(t, 1, cache.Len())
	require.Len(t, *published, 1)
	sess := (*published)[0]
	require.Len(t, sess.ID, constants.MaxSessionIDSize)
	require.Nil(t, sess.Ticket)
	require.Equal(t, first.server.Session().ID, sess.ID)

	second := establish(t, ccfg, scfg, sess)
	require.True(t, second.client.ConnectionState().Resumed)
	require.True(t, second.server.ConnectionState().Resumed)
	require.Equal(t, sess.MasterSecret, second.server.Session().MasterSecret)
	require.Equal(t, 1, cache.Len())
	requireKeysAgree(t, second)
}

func TestTicketPreferredOverCache(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	cache := handshake.NewMemoryCache(0)
	scfg := serverConfig(ecdsaC)
	scfg.SessionCache = cache
	scfg.TicketKeys = newTicketKeys(t)

	p := establish(t, clientConfig(), scfg, nil)
	require.Zero(t, cache.Len())
	require.Empty(t, p.server.Session().ID)
	require.NotEmpty(t, p.client.Session().Ticket)
}

func TestCacheMissFallsBackToFullHandshake(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	ccfg := clientConfig()
	published := captureSessions(ccfg)
	scfg := serverConfig(ecdsaC)
	scfg.SessionCache = handshake.NewMemoryCache(0)

	establish(t, ccfg, scfg, nil)
	sess := (*published)[0]

	scfg.SessionCache = handshake.NewMemoryCache(0)
	p := establish(t, ccfg, scfg, sess)
	require.False(t, p.client.ConnectionState().Resumed)
	require.NotEqual(t, sess.ID, p.client.Session().ID)
}

func TestExpiredSessionNotResumed(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	ccfg := clientConfig()
	published := captureSessions(ccfg)
	scfg := serverConfig(ecdsaC)
	scfg.SessionCache = handshake.NewMemoryCache(0)
	scfg.SessionTimeout = time.Minute
	ccfg.SessionTimeout = time.Hour

	establish(t, ccfg, scfg, nil)
	sess := (*published)[0]

	later := time.Now().Add(10 * time.Minute)
	scfg.Time = func() time.Time { return later }
	p := establish(t, ccfg, scfg, sess)
	require.False(t, p.server.ConnectionState().Resumed)

	// A client never offers a session past its own timeout.
	scfg.Time = nil
	ccfg.Time = func() time.Time { return time.Now().Add(2 * time.Hour) }
	p = establish(t, ccfg, scfg, sess)
	require.False(t, p.client.ConnectionState().Resumed)
}

func TestSessionFromOtherCipherSuiteNotOffered(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	ccfg := clientConfig()
	published := captureSessions(ccfg)
	scfg := serverConfig(ecdsaC)
	scfg.SessionCache = handshake.NewMemoryCache(0)

	establish(t, ccfg, scfg, nil)
	sess := (*published)[0]

	other := clientConfig()
	other.CipherSuites = []uint16{handshake.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA}
	require.NotEqual(t, handshake.TLS_ECDHE_ECDSA_WITH_AES_128_CBC_SHA, sess.CipherSuite)
	p := establish(t, other, scfg, sess)
	require.False(t, p.client.ConnectionState().Resumed)
}

// --- Extended Master Secret Tests ---

func TestEMSSessionNotResumedWithoutEMS(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	ccfg := clientConfig()
	published := captureSessions(ccfg)
	scfg := serverConfig(ecdsaC)
	scfg.SessionCache = handshake.NewMemoryCache(0)

	establish(t, ccfg, scfg, nil)
	sess := (*published)[0]
	require.True(t, sess.ExtendedMasterSecret)

	legacy := clientConfig()
	legacy.DisableExtendedMasterSecret = true
	p := establish(t, legacy, scfg, sess)
	cs := p.client.ConnectionState()
	require.False(t, cs.Resumed)
	require.False(t, cs.ExtendedMasterSecret)
	require.False(t, p.server.ConnectionState().Resumed)
	requireKeysAgree(t, p)
}

func TestNonEMSSessionUpgradedToFullHandshake(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	legacy := clientConfig()
	legacy.DisableExtendedMasterSecret = true
	published := captureSessions(legacy)
	scfg := serverConfig(ecdsaC)
	scfg.SessionCache = handshake.NewMemoryCache(0)

	first := establish(t, legacy, scfg, nil)
	require.False(t, first.client.ConnectionState().ExtendedMasterSecret)
	sess := (*published)[0]

	modern := clientConfig()
	p := establish(t, modern, scfg, sess)
	cs := p.client.ConnectionState()
	require.False(t, cs.Resumed)
	require.True(t, cs.ExtendedMasterSecret)
}

func TestServerWithoutEMS(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	scfg := serverConfig(ecdsaC)
	scfg.DisableExtendedMasterSecret = true

	p := establish(t, clientConfig(), scfg, nil)
	require.False(t, p.client.ConnectionState().ExtendedMasterSecret)
	require.False(t, p.server.ConnectionState().ExtendedMasterSecret)
	requireKeysAgree(t, p)
}

// --- Oversized Session Tests ---

// acceptAnyChain trusts any client chain whose leaf parses.
type acceptAnyChain struct {
	*handshake.X509Verifier
}

func (acceptAnyChain) VerifyChain([][]byte) error { return nil }

func TestTicketTooLarge(t *testing.T) {
	ecdsaC, _, clientC := testCerts()
	ccfg := clientConfig()
	ccfg.Certificate = &handshake.Certificate{
		Chain:  [][]byte{clientC.der, make([]byte, 70000)},
		Signer: handshake.NewKeySigner(clientC.key),
	}
	published := captureSessions(ccfg)
	obs := &recordingObserver{}
	scfg := serverConfig(ecdsaC)
	scfg.VerifyMode = handshake.VerifyPeer
	scfg.Verifier = acceptAnyChain{testVerifier()}
	scfg.TicketKeys = newTicketKeys(t)
	scfg.Observer = obs

	establish(t, ccfg, scfg, nil)
	require.Equal(t, []bool{true}, obs.tickets)
	require.Len(t, *published, 1)
	sess := (*published)[0]
	require.Equal(t, []byte(constants.TicketTooLarge), sess.Ticket)

	p := establish(t, ccfg, scfg, sess)
	require.False(t, p.server.ConnectionState().Resumed)
	require.Len(t, p.server.Session().PeerCertificates, 2)
}

func TestSetSessionAfterStart(t *testing.T) {
	ecdsaC, _, _ := testCerts()
	p := newPair(t, clientConfig(), serverConfig(ecdsaC))
	err := p.client.Handshake(t.Context())
	require.True(t, handshake.IsRetry(err))
	require.ErrorIs(t, p.client.SetSession(&handshake.Session{}), qerrors.ErrInvalidState)
}
