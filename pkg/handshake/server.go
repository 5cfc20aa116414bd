package handshake

import (
	"context"
	stdcrypto "crypto"
	"crypto/sha256"
	"slices"
	"time"

	"golang.org/x/crypto/cryptobyte"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
	"github.com/sara-star-quant/quantum-tls/pkg/crypto"
	"github.com/sara-star-quant/quantum-tls/pkg/kex"
	"github.com/sara-star-quant/quantum-tls/pkg/protocol"
)

// Server drives the server side of one handshake. It is not safe for
// concurrent use.
type Server struct {
	*conn
	state      ServerState
	afterFlush ServerState

	peerAddr []byte
	hvrSent  bool

	hello *protocol.ClientHello
	info  *ClientHelloInfo

	cert        *Certificate
	group       uint16
	ticketRenew bool
	ocsp        bool

	skxParams []byte
	skxBody   []byte
	ticket    []byte

	certRequested bool
	peerKey       stdcrypto.PublicKey
	peerKeyType   KeyType
}

// NewServer returns a server that exchanges messages through rl. A nil
// config uses DefaultConfig, which has no certificate and can only
// negotiate PSK suites once PSK callbacks are set.
func NewServer(config *Config, rl RecordLayer) (*Server, error) {
	if err := crypto.SelfTestError(); err != nil {
		return nil, err
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Server{conn: newConn(config, rl, true)}, nil
}

// SetPeerAddress binds DTLS cookies to the client's transport address.
func (s *Server) SetPeerAddress(addr []byte) {
	s.peerAddr = slices.Clone(addr)
}

// State returns the current handshake state.
func (s *Server) State() ServerState { return s.state }

// Session returns the established session once the handshake is done.
func (s *Server) Session() *Session {
	if s.state != ServerDone {
		return nil
	}
	return s.session
}

// ConnectionState describes the negotiated parameters.
func (s *Server) ConnectionState() ConnectionState {
	return s.connectionState(false)
}

// Handshake runs the server until the handshake completes, fails or
// suspends. Retry semantics match Client.Handshake.
func (s *Server) Handshake(ctx context.Context) (err error) {
	if s.err != nil {
		return s.err
	}
	if s.state == ServerDone {
		return nil
	}
	s.begin(ctx)
	defer func() { s.end(s.state.String(), err) }()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, err := s.step()
		if err != nil {
			if IsRetry(err) {
				return err
			}
			s.setState(ServerError)
			return s.fail(err)
		}
		s.setState(next)
		if next == ServerDone {
			s.complete()
			return nil
		}
	}
}

func (s *Server) setState(next ServerState) {
	if next != s.state {
		s.observer.OnStateChange(s.obsCtx, s.state.String(), next.String())
		s.state = next
	}
}

func (s *Server) step() (ServerState, error) {
	switch s.state {
	case ServerStart:
		return ServerReadClientHello, nil
	case ServerReadClientHello:
		return s.readClientHello()
	case ServerSendHelloVerifyRequest:
		return s.sendHelloVerifyRequest()
	case ServerNegotiateVersion:
		return s.negotiateVersion()
	case ServerLookupSession:
		return s.lookupSession()
	case ServerSelectParameters:
		return s.selectParameters()
	case ServerSendServerHello:
		return s.sendServerHello()
	case ServerSendCertificate:
		if s.suite.UsesCertificate() {
			if err := s.writeMessage(constants.TypeCertificate, &protocol.Certificate{Certificates: s.cert.Chain}); err != nil {
				return s.state, err
			}
		}
		return ServerSendCertificateStatus, nil
	case ServerSendCertificateStatus:
		if s.ocsp {
			if err := s.writeMessage(constants.TypeCertificateStatus, &protocol.CertificateStatus{Response: s.config.OCSPResponse}); err != nil {
				return s.state, err
			}
		}
		return ServerSendServerKeyExchange, nil
	case ServerSendServerKeyExchange:
		return s.sendServerKeyExchange()
	case ServerSendCertificateRequest:
		return s.sendCertificateRequest()
	case ServerSendServerHelloDone:
		if err := s.writeMessage(constants.TypeServerHelloDone, &protocol.ServerHelloDone{}); err != nil {
			return s.state, err
		}
		s.afterFlush = ServerReadClientCertificate
		return ServerFlush, nil
	case ServerFlush:
		if err := s.flush(); err != nil {
			return s.state, err
		}
		return s.afterFlush, nil
	case ServerReadClientCertificate:
		return s.readClientCertificate()
	case ServerReadClientKeyExchange:
		return s.readClientKeyExchange()
	case ServerReadCertificateVerify:
		return s.readCertificateVerify()
	case ServerReadChangeCipherSpec:
		if err := s.changeCipherState(DirectionRead); err != nil {
			return s.state, err
		}
		return ServerReadNextProtocol, nil
	case ServerReadNextProtocol:
		return s.readNextProtocol()
	case ServerReadChannelID:
		return s.readChannelID()
	case ServerReadFinished:
		if err := s.readFinished(); err != nil {
			return s.state, err
		}
		if s.resumed {
			return ServerDone, nil
		}
		s.recordChannelIDHash()
		return ServerSendSessionTicket, nil
	case ServerSendSessionTicket:
		return s.sendSessionTicket()
	case ServerSendChangeCipherSpec:
		if err := s.changeCipherState(DirectionWrite); err != nil {
			return s.state, err
		}
		return ServerSendFinished, nil
	case ServerSendFinished:
		if err := s.sendFinished(); err != nil {
			return s.state, err
		}
		s.afterFlush = ServerDone
		if s.resumed {
			s.afterFlush = ServerReadChangeCipherSpec
		}
		return ServerFlush, nil
	}
	return s.state, alertf(constants.AlertInternalError, qerrors.ErrInvalidState)
}

// --- ClientHello ---

func (s *Server) readClientHello() (ServerState, error) {
	body, err := s.expectMessage(constants.TypeClientHello)
	if err != nil {
		return s.state, err
	}
	hello := &protocol.ClientHello{}
	if err := parse(constants.TypeClientHello, body, hello); err != nil {
		return s.state, err
	}
	if hello.DTLS() != s.dtls() {
		return s.state, alertf(constants.AlertProtocolVersion, qerrors.ErrUnsupportedVersion)
	}
	s.hello = hello
	s.info = &ClientHelloInfo{
		Version:             hello.Version,
		CipherSuites:        hello.CipherSuites,
		ServerName:          hello.ServerName,
		Groups:              hello.SupportedGroups,
		SignatureAlgorithms: hello.SignatureAlgorithms,
		ALPNProtocols:       hello.ALPNProtocols,
		Raw:                 hello,
	}

	if s.dtls() && s.config.Cookies != nil && !s.config.Cookies.Verify(s.peerAddr, hello) {
		if s.hvrSent {
			return s.state, alertf(constants.AlertHandshakeFailure, qerrors.ErrConnectionRejected)
		}
		s.discard()
		return ServerSendHelloVerifyRequest, nil
	}

	if cb := s.config.SelectCertificate; cb != nil {
		switch cb(s.info) {
		case SelectRetry:
			return s.state, &RetryError{Reason: RetryCertificateSelection, Err: qerrors.ErrPending}
		case SelectReject:
			return s.state, alertf(constants.AlertAccessDenied, qerrors.ErrConnectionRejected)
		}
	}
	return ServerNegotiateVersion, nil
}

// sendHelloVerifyRequest answers a cookieless ClientHello. Neither message
// enters the handshake hash.
func (s *Server) sendHelloVerifyRequest() (ServerState, error) {
	hvr := &protocol.HelloVerifyRequest{
		Version: constants.VersionDTLS10,
		Cookie:  s.config.Cookies.Generate(s.peerAddr, s.hello),
	}
	body, err := hvr.Marshal()
	if err != nil {
		return s.state, alertf(constants.AlertInternalError, err)
	}
	if err := s.writeRaw(constants.TypeHelloVerifyRequest, body, false); err != nil {
		return s.state, err
	}
	s.hvrSent = true
	s.transcript = nil
	s.afterFlush = ServerReadClientHello
	return ServerFlush, nil
}

func (s *Server) negotiateVersion() (ServerState, error) {
	cfg := s.config
	v, ok := protocol.NegotiateVersion(s.dtls(), s.hello.Version, cfg.MinVersion, cfg.MaxVersion)
	if !ok {
		return s.state, alertf(constants.AlertProtocolVersion, qerrors.ErrUnsupportedVersion)
	}
	if err := s.pinVersion(v); err != nil {
		return s.state, err
	}
	s.clientRandom = s.hello.Random
	if cfg.DoSProtection != nil && !cfg.DoSProtection(s.info) {
		return s.state, alertf(constants.AlertAccessDenied, qerrors.ErrConnectionRejected)
	}
	return ServerLookupSession, nil
}

// --- Resumption ---

func (s *Server) lookupSession() (ServerState, error) {
	sess, renew, err := s.findSession()
	if err != nil {
		return s.state, err
	}
	if sess == nil {
		return ServerSelectParameters, nil
	}
	hello := s.hello
	if sess.Version != s.version || sess.Expired(s.config.now()) {
		return ServerSelectParameters, nil
	}
	suite, ok := CipherSuiteByID(sess.CipherSuite)
	if !ok || !suite.SupportsVersion(s.version) || !slices.Contains(s.config.CipherSuites, sess.CipherSuite) {
		return ServerSelectParameters, nil
	}
	if !slices.Contains(hello.CipherSuites, sess.CipherSuite) {
		return s.state, alertf(constants.AlertIllegalParameter, qerrors.ErrSessionMismatch)
	}
	// An EMS session is never resumed without EMS, and a client newly
	// offering EMS upgrades. Both run a full handshake.
	if sess.ExtendedMasterSecret != hello.ExtendedMasterSecret {
		return ServerSelectParameters, nil
	}
	s.resumed = true
	s.session = sess
	s.suite = suite
	s.ems = sess.ExtendedMasterSecret
	s.ticketRenew = renew
	s.observer.OnResumption(s.obsCtx)
	return ServerSelectParameters, nil
}

// findSession returns a session from the offered ticket, or from the cache
// by session ID. Unusable tickets and cache misses return nil.
func (s *Server) findSession() (*Session, bool, error) {
	cfg, hello := s.config, s.hello
	if len(hello.SessionTicket) > 0 && s.ticketsEnabled() {
		plain, renew, err := cfg.TicketKeys.Open(hello.SessionTicket)
		if err != nil {
			return nil, false, nil
		}
		sess, err := UnmarshalSession(plain)
		crypto.Zeroize(plain)
		if err != nil {
			return nil, false, nil
		}
		// A ticket session is echoed under the client's session ID.
		sess.ID = slices.Clone(hello.SessionID)
		if len(sess.ID) == 0 {
			return nil, false, nil
		}
		return sess, renew, nil
	}
	if len(hello.SessionID) == 0 || cfg.SessionCache == nil {
		return nil, false, nil
	}
	sess, err := cfg.SessionCache.Lookup(hello.SessionID)
	if err != nil {
		if IsRetry(err) {
			return nil, false, retryAs(RetrySessionLookup, err)
		}
		return nil, false, nil
	}
	if sess != nil {
		sess = sess.Clone()
	}
	return sess, false, nil
}

func (s *Server) ticketsEnabled() bool {
	return s.config.TicketKeys != nil && !s.config.DisableSessionTickets
}

// --- Negotiation ---

func (s *Server) selectParameters() (ServerState, error) {
	cfg, hello := s.config, s.hello
	if !slices.Contains(hello.CompressionMethods, 0) {
		return s.state, alertf(constants.AlertIllegalParameter, qerrors.ErrInvalidMessage)
	}

	if !s.resumed {
		cert := cfg.Certificate
		if cb := cfg.GetCertificate; cb != nil {
			c, err := cb(s.info)
			if err != nil {
				if IsRetry(err) {
					return s.state, retryAs(RetryCertificate, err)
				}
				return s.state, alertf(constants.AlertInternalError, err)
			}
			if c != nil {
				cert = c
			}
		}
		s.cert = cert

		suite := s.chooseCipherSuite()
		if suite == nil {
			return s.state, alertf(constants.AlertHandshakeFailure, qerrors.ErrUnsupportedCipherSuite)
		}
		s.suite = suite
		s.ems = hello.ExtendedMasterSecret && !cfg.DisableExtendedMasterSecret
	}

	s.ticketExpected = hello.TicketSupported && s.ticketsEnabled() && (!s.resumed || s.ticketRenew)
	if !s.resumed {
		s.session = &Session{
			Version:              s.version,
			CipherSuite:          s.suite.ID,
			ExtendedMasterSecret: s.ems,
			ServerName:           hello.ServerName,
			Created:              cfg.now(),
			Timeout:              cfg.sessionTimeout(),
		}
		if !s.ticketExpected && cfg.SessionCache != nil {
			s.session.ID = make([]byte, constants.MaxSessionIDSize)
			if err := crypto.ReadRandom(s.rand, s.session.ID); err != nil {
				return s.state, alertf(constants.AlertInternalError, err)
			}
		}
	}

	s.negotiatedProtocol = selectALPN(cfg.NextProtos, hello.ALPNProtocols)
	s.npn = s.negotiatedProtocol == "" && cfg.EnableNPN && hello.NextProtoNeg && len(cfg.NextProtos) > 0
	s.channelIDValid = cfg.EnableChannelID && hello.ChannelID && s.suite.Kx&(KxECDHE|KxHybrid) != 0 &&
		(!s.resumed || len(s.session.OriginalHandshakeHash) > 0)
	s.ocsp = !s.resumed && hello.OCSPStapling && len(cfg.OCSPResponse) > 0 && s.suite.UsesCertificate()

	s.serverRandom = make([]byte, constants.RandomSize)
	if err := crypto.ReadRandom(s.rand, s.serverRandom); err != nil {
		return s.state, alertf(constants.AlertInternalError, err)
	}
	s.consume()
	return ServerSendServerHello, nil
}

// chooseCipherSuite picks the first of our suites, in our preference
// order, that the client offered and this connection can serve.
func (s *Server) chooseCipherSuite() *CipherSuite {
	cfg, hello := s.config, s.hello
	for _, suite := range cfg.suitesForVersion(s.version) {
		if !slices.Contains(hello.CipherSuites, suite.ID) {
			continue
		}
		if suite.UsesPSK() && cfg.PSKServer == nil {
			continue
		}
		if suite.UsesCertificate() {
			if s.cert == nil || s.cert.Signer.KeyType().authMask()&suite.Auth == 0 {
				continue
			}
			if suite.ForwardSecret() {
				if _, ok := selectSignatureAlgorithm(s.version, s.cert.Signer.KeyType(), cfg.SignatureAlgorithms, hello.SignatureAlgorithms); !ok {
					continue
				}
			}
		}
		switch suite.Kx {
		case KxECDHE:
			group, ok := cfg.Capabilities.SelectGroup(hello.SupportedGroups)
			if !ok {
				continue
			}
			s.group = group
		case KxDHE:
			if cfg.Capabilities.DHParams() == nil {
				continue
			}
		case KxHybrid:
			// The hybrid share is only understood by clients that list the
			// group; unlike ECDHE there is no default for a missing list.
			if !slices.Contains(hello.SupportedGroups, constants.GroupX25519MLKEM768) {
				continue
			}
		}
		return suite
	}
	return nil
}

// selectALPN returns the first server protocol the client listed.
func selectALPN(ours, client []string) string {
	for _, p := range ours {
		if slices.Contains(client, p) {
			return p
		}
	}
	return ""
}

// --- Server Flight ---

func (s *Server) sendServerHello() (ServerState, error) {
	hello := s.hello
	sessionID := s.session.ID
	if s.resumed {
		sessionID = hello.SessionID
	}
	sh := &protocol.ServerHello{
		Version:                      s.version,
		Random:                       s.serverRandom,
		SessionID:                    sessionID,
		CipherSuite:                  s.suite.ID,
		OCSPStapling:                 s.ocsp,
		ALPNProtocol:                 s.negotiatedProtocol,
		ExtendedMasterSecret:         s.ems,
		TicketSupported:              s.ticketExpected,
		NextProtoNeg:                 s.npn,
		ChannelID:                    s.channelIDValid,
		SecureRenegotiationSupported: hello.SecureRenegotiationSupported,
	}
	if s.npn {
		sh.NextProtos = s.config.NextProtos
	}
	if s.suite.Kx == KxECDHE && len(hello.SupportedPoints) > 0 {
		sh.SupportedPoints = []uint8{0}
	}
	if err := s.writeMessage(constants.TypeServerHello, sh); err != nil {
		return s.state, err
	}
	if s.resumed {
		return ServerSendSessionTicket, nil
	}
	return ServerSendCertificate, nil
}

func (s *Server) sendServerKeyExchange() (ServerState, error) {
	suite := s.suite
	if !suite.hasServerKeyExchange() && !(suite.UsesPSK() && s.config.PSKIdentityHint != "") {
		return ServerSendCertificateRequest, nil
	}
	if s.skxBody == nil {
		if err := s.buildServerKeyExchange(); err != nil {
			return s.state, err
		}
	}
	if err := s.writeRaw(constants.TypeServerKeyExchange, s.skxBody, true); err != nil {
		return s.state, err
	}
	return ServerSendCertificateRequest, nil
}

// buildServerKeyExchange generates the ephemeral key once and signs the
// parameters. A pending signature re-enters with the same parameters.
func (s *Server) buildServerKeyExchange() error {
	suite := s.suite
	if s.skxParams == nil {
		var b cryptobyte.Builder
		if suite.UsesPSK() {
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes([]byte(s.config.PSKIdentityHint)) })
		}
		if kind, _ := suite.KexKind(); kind != kex.KindPSK {
			group := kex.GroupExplicit
			switch kind {
			case kex.KindECDHE:
				group = s.group
			case kex.KindHybrid:
				group = constants.GroupX25519MLKEM768
			}
			kx, err := s.config.Capabilities.New(kind, group)
			if err != nil {
				return withAlert(constants.AlertInternalError, err)
			}
			offer, err := kx.Offer(s.rand)
			if err != nil {
				return err
			}
			s.kx = kx
			b.AddBytes(offer)
		}
		params, err := b.Bytes()
		if err != nil {
			return alertf(constants.AlertInternalError, err)
		}
		s.skxParams = params
	}

	if !suite.UsesCertificate() {
		s.skxBody = s.skxParams
		return nil
	}
	signer := s.cert.Signer
	alg, ok := selectSignatureAlgorithm(s.version, signer.KeyType(), s.config.SignatureAlgorithms, s.hello.SignatureAlgorithms)
	if !ok {
		return alertf(constants.AlertHandshakeFailure, qerrors.ErrBadSignature)
	}
	sig, err := signer.Sign(s.rand, alg, slices.Concat(s.clientRandom, s.serverRandom, s.skxParams))
	if err != nil {
		if IsRetry(err) {
			return retryAs(RetryPrivateKey, err)
		}
		return alertf(constants.AlertInternalError, err)
	}
	b := cryptobyte.NewBuilder(slices.Clone(s.skxParams))
	if protocol.TLSVersion(s.version) >= constants.VersionTLS12 {
		b.AddUint16(alg)
	}
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(sig) })
	body, err := b.Bytes()
	if err != nil {
		return alertf(constants.AlertInternalError, err)
	}
	s.skxBody = body
	return nil
}

func (s *Server) sendCertificateRequest() (ServerState, error) {
	cfg := s.config
	want := cfg.VerifyMode&VerifyPeer != 0 && s.suite.UsesCertificate() &&
		!(cfg.VerifyMode&VerifyPeerIfNoChannelID != 0 && s.channelIDValid)
	if !want {
		return ServerSendServerHelloDone, nil
	}
	req := &protocol.CertificateRequest{
		CertificateTypes:       []uint8{constants.CertTypeRSASign, constants.CertTypeECDSASign},
		HasSignatureAlgorithms: protocol.TLSVersion(s.version) >= constants.VersionTLS12,
		SignatureAlgorithms:    cfg.SignatureAlgorithms,
	}
	if err := s.writeMessage(constants.TypeCertificateRequest, req); err != nil {
		return s.state, err
	}
	s.certRequested = true
	return ServerSendServerHelloDone, nil
}

// --- Client Flight ---

func (s *Server) readClientCertificate() (ServerState, error) {
	if !s.certRequested {
		return ServerReadClientKeyExchange, nil
	}
	body, err := s.expectMessage(constants.TypeCertificate)
	if err != nil {
		return s.state, err
	}
	var cert protocol.Certificate
	if err := parse(constants.TypeCertificate, body, &cert); err != nil {
		return s.state, err
	}
	cfg := s.config
	if len(cert.Certificates) == 0 {
		if cfg.VerifyMode&VerifyFailIfNoPeerCert != 0 {
			return s.state, alertf(constants.AlertHandshakeFailure, qerrors.ErrCertificateRequired)
		}
		s.consume()
		return ServerReadClientKeyExchange, nil
	}

	leaf := cert.Certificates[0]
	keyType, err := cfg.Verifier.CertificateType(leaf)
	if err != nil {
		return s.state, withAlert(constants.AlertBadCertificate, err)
	}
	if keyType == KeyTypeUnknown {
		return s.state, alertf(constants.AlertUnsupportedCertificate, qerrors.ErrWrongCertificateType)
	}
	if err := cfg.Verifier.VerifyChain(cert.Certificates); err != nil {
		return s.state, withAlert(constants.AlertBadCertificate, err)
	}
	pub, err := cfg.Verifier.PublicKey(leaf)
	if err != nil {
		return s.state, withAlert(constants.AlertBadCertificate, err)
	}
	s.peerKey, s.peerKeyType = pub, keyType
	s.session.PeerVerified = true
	if cfg.RetainOnlySHA256OfClientCerts {
		sum := sha256.Sum256(leaf)
		s.session.PeerSHA256 = sum[:]
	} else {
		s.session.PeerCertificates = cert.Certificates
	}
	s.consume()
	return ServerReadClientKeyExchange, nil
}

func (s *Server) readClientKeyExchange() (ServerState, error) {
	body, err := s.expectMessage(constants.TypeClientKeyExchange)
	if err != nil {
		return s.state, err
	}
	in := cryptobyte.String(body)

	var psk []byte
	if s.suite.UsesPSK() {
		if psk, err = s.lookupPSK(&in); err != nil {
			return s.state, err
		}
	}

	var premaster []byte
	switch s.suite.Kx {
	case KxRSA:
		var enc cryptobyte.String
		if !in.ReadUint16LengthPrefixed(&enc) || !in.Empty() {
			return s.state, alertf(constants.AlertDecodeError, qerrors.ErrInvalidMessage)
		}
		if premaster, err = s.decryptPremaster(enc); err != nil {
			return s.state, err
		}
	default:
		if s.kx == nil && s.suite.Kx == KxPSK {
			s.kx = kex.NewPSK(len(psk))
		}
		if s.kx == nil {
			return s.state, alertf(constants.AlertInternalError, qerrors.ErrKeyExchangeState)
		}
		if premaster, err = s.kx.Finish(in); err != nil {
			return s.state, err
		}
	}
	if psk != nil {
		if premaster, err = pskPremaster(premaster, psk); err != nil {
			return s.state, err
		}
	}

	s.consume()
	s.deriveMasterSecret(premaster)
	if s.kx != nil {
		s.kx.Cleanup()
	}
	return ServerReadCertificateVerify, nil
}

// lookupPSK reads the PSK identity from the front of ClientKeyExchange.
func (s *Server) lookupPSK(in *cryptobyte.String) ([]byte, error) {
	var identity cryptobyte.String
	if !in.ReadUint16LengthPrefixed(&identity) {
		return nil, alertf(constants.AlertDecodeError, qerrors.ErrInvalidMessage)
	}
	if !validPSKIdentity(identity) {
		return nil, alertf(constants.AlertIllegalParameter, qerrors.ErrInvalidMessage)
	}
	if s.config.PSKServer == nil {
		return nil, alertf(constants.AlertInternalError, qerrors.ErrInvalidConfig)
	}
	psk, err := s.config.PSKServer(string(identity))
	if err != nil {
		if IsRetry(err) {
			return nil, retryAs(RetryPrivateKey, err)
		}
		return nil, alertf(constants.AlertUnknownPSKIdentity, qerrors.ErrPSKIdentityNotFound)
	}
	if len(psk) == 0 || len(psk) > constants.MaxPSKSize {
		return nil, alertf(constants.AlertUnknownPSKIdentity, qerrors.ErrPSKIdentityNotFound)
	}
	s.session.PSKIdentity = string(identity)
	return psk, nil
}

// decryptPremaster recovers the RSA premaster secret. Padding and version
// failures substitute a random premaster so that they only surface as a
// Finished mismatch (RFC 5246 §7.4.7.1).
func (s *Server) decryptPremaster(enc []byte) ([]byte, error) {
	signer := s.cert.Signer
	k := signer.MaxSignatureLen()
	if len(enc) != k || k < 11+constants.RSAPremasterSize {
		return nil, alertf(constants.AlertDecryptError, qerrors.ErrInvalidMessage)
	}
	fallback := make([]byte, constants.RSAPremasterSize)
	if err := crypto.ReadRandom(s.rand, fallback); err != nil {
		return nil, alertf(constants.AlertInternalError, err)
	}
	block, err := signer.Decrypt(enc)
	if err != nil {
		if IsRetry(err) {
			return nil, retryAs(RetryPrivateKey, err)
		}
		return nil, alertf(constants.AlertDecryptError, err)
	}
	if len(block) != k {
		return nil, alertf(constants.AlertInternalError, qerrors.ErrInvalidKeySize)
	}
	premaster, good := rsaPremaster(block, s.hello.Version, fallback)
	crypto.ZeroizeMultiple(block, fallback)
	s.rsaGood = good
	return premaster, nil
}

func (s *Server) readCertificateVerify() (ServerState, error) {
	if s.peerKey == nil {
		return ServerReadChangeCipherSpec, nil
	}
	body, err := s.expectMessage(constants.TypeCertificateVerify)
	if err != nil {
		return s.state, err
	}
	cv := protocol.CertificateVerify{HasSignatureAlgorithm: protocol.TLSVersion(s.version) >= constants.VersionTLS12}
	if err := parse(constants.TypeCertificateVerify, body, &cv); err != nil {
		return s.state, err
	}
	alg := legacySignatureAlgorithm(s.peerKeyType)
	if cv.HasSignatureAlgorithm {
		alg = cv.SignatureAlgorithm
		if err := checkPeerSignatureAlgorithm(alg, s.peerKeyType, s.config.SignatureAlgorithms); err != nil {
			return s.state, err
		}
	}
	if err := s.config.Verifier.VerifySignature(s.peerKey, alg, s.transcript, cv.Signature); err != nil {
		return s.state, alertf(constants.AlertDecryptError, qerrors.ErrBadSignature)
	}
	s.consume()
	return ServerReadChangeCipherSpec, nil
}

func (s *Server) readNextProtocol() (ServerState, error) {
	if !s.npn {
		return ServerReadChannelID, nil
	}
	body, err := s.expectMessage(constants.TypeNextProtocol)
	if err != nil {
		return s.state, err
	}
	var np protocol.NextProtocol
	if err := parse(constants.TypeNextProtocol, body, &np); err != nil {
		return s.state, err
	}
	s.negotiatedProtocol = np.Protocol
	s.consume()
	return ServerReadChannelID, nil
}

func (s *Server) readChannelID() (ServerState, error) {
	if !s.channelIDValid {
		return ServerReadFinished, nil
	}
	body, err := s.expectMessage(constants.TypeChannelID)
	if err != nil {
		return s.state, err
	}
	var ee protocol.EncryptedExtensions
	if err := parse(constants.TypeChannelID, body, &ee); err != nil {
		return s.state, err
	}
	digest := channelIDHash(s.prf(), s.transcript, s.resumed, s.session.OriginalHandshakeHash)
	key, err := verifyChannelID(ee.ChannelID, digest)
	if err != nil {
		return s.state, err
	}
	s.channelID = key
	s.consume()
	return ServerReadFinished, nil
}

// --- Tickets ---

func (s *Server) sendSessionTicket() (ServerState, error) {
	if !s.ticketExpected {
		return ServerSendChangeCipherSpec, nil
	}
	if s.ticket == nil {
		if err := s.sealTicket(); err != nil {
			return s.state, err
		}
	}
	var hint uint32
	if !s.resumed {
		hint = uint32(s.session.Timeout / time.Second)
	}
	if err := s.writeMessage(constants.TypeNewSessionTicket, &protocol.NewSessionTicket{LifetimeHint: hint, Ticket: s.ticket}); err != nil {
		return s.state, err
	}
	return ServerSendChangeCipherSpec, nil
}

// sealTicket encrypts the session. A session too large for a ticket is
// replaced by a placeholder the client cannot resume with.
func (s *Server) sealTicket() error {
	sess := s.session.Clone()
	sess.ID = nil
	sess.NegotiatedProtocol = s.negotiatedProtocol
	plain, err := sess.Marshal()
	if err != nil {
		return alertf(constants.AlertInternalError, err)
	}
	defer crypto.Zeroize(plain)

	placeholder := false
	ticket, err := s.config.TicketKeys.Seal(s.rand, plain)
	switch {
	case qerrors.Is(err, qerrors.ErrMessageTooLarge):
		ticket = []byte(constants.TicketTooLarge)
		placeholder = true
	case err != nil:
		return alertf(constants.AlertInternalError, err)
	}
	s.ticket = ticket
	s.observer.OnTicketIssued(s.obsCtx, placeholder)
	return nil
}

// complete caches a new session for ID-based resumption.
func (s *Server) complete() {
	if !s.resumed {
		s.session.NegotiatedProtocol = s.negotiatedProtocol
		if cache := s.config.SessionCache; cache != nil && len(s.session.ID) > 0 {
			_ = cache.Store(s.session)
		}
	}
}
