package handshake

import (
	"bytes"
	"context"
	stdcrypto "crypto"
	"slices"

	"golang.org/x/crypto/cryptobyte"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
	"github.com/sara-star-quant/quantum-tls/pkg/bn"
	"github.com/sara-star-quant/quantum-tls/pkg/crypto"
	"github.com/sara-star-quant/quantum-tls/pkg/kex"
	"github.com/sara-star-quant/quantum-tls/pkg/protocol"
)

// Client drives the client side of one handshake. It is not safe for
// concurrent use.
type Client struct {
	*conn
	state ClientState

	hello     *protocol.ClientHello
	offered   *Session
	offeredID []byte
	cookie    []byte

	ocspExpected bool
	peerKey      stdcrypto.PublicKey
	peerKeyType  KeyType
	skxParams    []byte
	pskHint      string

	certRequest *CertificateRequestInfo
	certChosen  bool
	clientCert  *Certificate

	pendingCKE    []byte
	pendingSecret []byte

	newTicket    []byte
	ticketHint   uint32
	falseStarted bool
}

// NewClient returns a client that exchanges messages through rl. A nil
// config uses DefaultConfig.
func NewClient(config *Config, rl RecordLayer) (*Client, error) {
	if err := crypto.SelfTestError(); err != nil {
		return nil, err
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Client{conn: newConn(config, rl, false)}, nil
}

// SetSession offers s for resumption. It must be called before the first
// Handshake call.
func (c *Client) SetSession(s *Session) error {
	if c.state != ClientStart {
		return qerrors.ErrInvalidState
	}
	c.offered = s
	return nil
}

// State returns the current handshake state.
func (c *Client) State() ClientState { return c.state }

// Session returns the established session once the handshake is done or
// has false-started.
func (c *Client) Session() *Session {
	if c.state != ClientDone && !c.falseStarted {
		return nil
	}
	return c.session
}

// ConnectionState describes the negotiated parameters.
func (c *Client) ConnectionState() ConnectionState {
	return c.connectionState(c.falseStarted)
}

// Handshake runs the client until the handshake completes, false-starts,
// fails or suspends. A suspended handshake returns a RetryError and
// continues from the same state on the next call. A failed one returns the
// same error forever.
//
// With False Start, Handshake returns nil after the client Finished is
// flushed; application data may be sent and the next call completes the
// handshake.
func (c *Client) Handshake(ctx context.Context) (err error) {
	if c.err != nil {
		return c.err
	}
	if c.state == ClientDone {
		return nil
	}
	c.begin(ctx)
	defer func() {
		// A false-started handshake stays open until the server's Finished.
		if err != nil || c.state != ClientFalseStart {
			c.end(c.state.String(), err)
		}
	}()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, err := c.step()
		if err != nil {
			if IsRetry(err) {
				return err
			}
			c.setState(ClientError)
			return c.fail(err)
		}
		c.setState(next)
		switch next {
		case ClientDone:
			c.complete()
			return nil
		case ClientFalseStart:
			return nil
		}
	}
}

func (c *Client) setState(next ClientState) {
	if next != c.state {
		c.observer.OnStateChange(c.obsCtx, c.state.String(), next.String())
		c.state = next
	}
}

func (c *Client) step() (ClientState, error) {
	switch c.state {
	case ClientStart:
		return ClientSendClientHello, nil
	case ClientSendClientHello:
		return c.sendClientHello()
	case ClientFlushClientHello:
		if err := c.flush(); err != nil {
			return c.state, err
		}
		if c.dtls() {
			return ClientReadHelloVerifyRequest, nil
		}
		return ClientReadServerHello, nil
	case ClientReadHelloVerifyRequest:
		return c.readHelloVerifyRequest()
	case ClientReadServerHello:
		return c.readServerHello()
	case ClientReadCertificate:
		return c.readCertificate()
	case ClientReadCertificateStatus:
		return c.readCertificateStatus()
	case ClientVerifyServerCertificate:
		return c.verifyServerCertificate()
	case ClientReadServerKeyExchange:
		return c.readServerKeyExchange()
	case ClientReadCertificateRequest:
		return c.readCertificateRequest()
	case ClientReadServerHelloDone:
		body, err := c.expectMessage(constants.TypeServerHelloDone)
		if err != nil {
			return c.state, err
		}
		if err := parse(constants.TypeServerHelloDone, body, &protocol.ServerHelloDone{}); err != nil {
			return c.state, err
		}
		c.consume()
		return ClientSendClientCertificate, nil
	case ClientSendClientCertificate:
		return c.sendClientCertificate()
	case ClientSendClientKeyExchange:
		return c.sendClientKeyExchange()
	case ClientSendCertificateVerify:
		return c.sendCertificateVerify()
	case ClientSendChangeCipherSpec:
		if err := c.changeCipherState(DirectionWrite); err != nil {
			return c.state, err
		}
		return ClientSendNextProtocol, nil
	case ClientSendNextProtocol:
		if c.npn {
			if err := c.writeMessage(constants.TypeNextProtocol, &protocol.NextProtocol{Protocol: c.negotiatedProtocol}); err != nil {
				return c.state, err
			}
		}
		return ClientSendChannelID, nil
	case ClientSendChannelID:
		return c.sendChannelID()
	case ClientSendFinished:
		if err := c.sendFinished(); err != nil {
			return c.state, err
		}
		c.recordChannelIDHash()
		return ClientFlush, nil
	case ClientFlush:
		if err := c.flush(); err != nil {
			return c.state, err
		}
		switch {
		case c.resumed:
			return ClientDone, nil
		case c.canFalseStart():
			c.falseStarted = true
			return ClientFalseStart, nil
		}
		return ClientReadSessionTicket, nil
	case ClientFalseStart:
		return ClientReadSessionTicket, nil
	case ClientReadSessionTicket:
		return c.readSessionTicket()
	case ClientReadChangeCipherSpec:
		if err := c.changeCipherState(DirectionRead); err != nil {
			return c.state, err
		}
		return ClientReadFinished, nil
	case ClientReadFinished:
		if err := c.readFinished(); err != nil {
			return c.state, err
		}
		if c.resumed {
			return ClientSendChangeCipherSpec, nil
		}
		return ClientDone, nil
	}
	return c.state, alertf(constants.AlertInternalError, qerrors.ErrInvalidState)
}

// --- ClientHello ---

func (c *Client) sendClientHello() (ClientState, error) {
	if c.hello == nil {
		hello, err := c.buildClientHello()
		if err != nil {
			return c.state, err
		}
		c.hello = hello
	}
	c.hello.Cookie = c.cookie
	if err := c.writeMessage(constants.TypeClientHello, c.hello); err != nil {
		return c.state, err
	}
	return ClientFlushClientHello, nil
}

func (c *Client) buildClientHello() (*protocol.ClientHello, error) {
	cfg := c.config
	c.clientRandom = make([]byte, constants.RandomSize)
	if err := crypto.ReadRandom(c.rand, c.clientRandom); err != nil {
		return nil, alertf(constants.AlertInternalError, err)
	}

	hello := &protocol.ClientHello{
		Version:                      cfg.MaxVersion,
		Random:                       c.clientRandom,
		CompressionMethods:           []uint8{0},
		ServerName:                   cfg.ServerName,
		OCSPStapling:                 cfg.OCSPStapling,
		ALPNProtocols:                slices.Clone(cfg.NextProtos),
		ExtendedMasterSecret:         !cfg.DisableExtendedMasterSecret,
		TicketSupported:              !cfg.DisableSessionTickets,
		NextProtoNeg:                 cfg.EnableNPN && len(cfg.NextProtos) > 0,
		ChannelID:                    cfg.ChannelIDKey != nil,
		SecureRenegotiationSupported: true,
	}

	ecdhe := false
	for _, s := range cfg.suitesForVersion(cfg.MaxVersion) {
		if s.UsesPSK() && cfg.PSKClient == nil {
			continue
		}
		if s.Kx&(KxECDHE|KxHybrid) != 0 {
			ecdhe = true
		}
		hello.CipherSuites = append(hello.CipherSuites, s.ID)
	}
	if len(hello.CipherSuites) == 0 {
		return nil, alertf(constants.AlertInternalError, qerrors.ErrUnsupportedCipherSuite)
	}
	if ecdhe {
		hello.SupportedGroups = cfg.Capabilities.AdvertisedGroups()
		hello.SupportedPoints = []uint8{0}
	}
	if protocol.TLSVersion(cfg.MaxVersion) >= constants.VersionTLS12 {
		hello.SignatureAlgorithms = slices.Clone(cfg.SignatureAlgorithms)
	}

	if s := c.offered; c.offerable(s, hello.CipherSuites) {
		if len(s.Ticket) > 0 && hello.TicketSupported {
			hello.SessionTicket = s.Ticket
		}
		// A ticket session is offered under its ticket-derived ID so the
		// server's echo signals acceptance.
		c.offeredID = s.ID
		hello.SessionID = s.ID
	} else {
		c.offered = nil
	}
	return hello, nil
}

func (c *Client) offerable(s *Session, suites []uint16) bool {
	cfg := c.config
	if !s.IsResumable() || s.Expired(cfg.now()) || len(s.ID) > constants.MaxSessionIDSize {
		return false
	}
	if protocol.CompareVersions(s.Version, cfg.MinVersion) < 0 || protocol.CompareVersions(s.Version, cfg.MaxVersion) > 0 ||
		!protocol.SupportedVersion(c.dtls(), s.Version) {
		return false
	}
	if s.ExtendedMasterSecret && cfg.DisableExtendedMasterSecret {
		return false
	}
	return slices.Contains(suites, s.CipherSuite)
}

func (c *Client) readHelloVerifyRequest() (ClientState, error) {
	typ, body, err := c.readMessage()
	if err != nil {
		return c.state, err
	}
	if typ != constants.TypeHelloVerifyRequest {
		return ClientReadServerHello, nil
	}
	if c.cookie != nil {
		return c.state, alertf(constants.AlertUnexpectedMessage, qerrors.ErrUnexpectedMessage)
	}
	var hvr protocol.HelloVerifyRequest
	if err := parse(typ, body, &hvr); err != nil {
		return c.state, err
	}
	if len(hvr.Cookie) == 0 {
		return c.state, alertf(constants.AlertIllegalParameter, qerrors.ErrInvalidMessage)
	}
	// The first ClientHello and the HelloVerifyRequest are not part of the
	// handshake hash.
	c.discard()
	c.transcript = nil
	c.cookie = hvr.Cookie
	return ClientSendClientHello, nil
}

// --- ServerHello ---

func (c *Client) readServerHello() (ClientState, error) {
	body, err := c.expectMessage(constants.TypeServerHello)
	if err != nil {
		return c.state, err
	}
	var sh protocol.ServerHello
	if err := parse(constants.TypeServerHello, body, &sh); err != nil {
		return c.state, err
	}
	cfg := c.config

	if !protocol.SupportedVersion(c.dtls(), sh.Version) ||
		protocol.CompareVersions(sh.Version, cfg.MinVersion) < 0 ||
		protocol.CompareVersions(sh.Version, cfg.MaxVersion) > 0 {
		return c.state, alertf(constants.AlertProtocolVersion, qerrors.ErrUnsupportedVersion)
	}
	if err := c.pinVersion(sh.Version); err != nil {
		return c.state, err
	}
	c.serverRandom = sh.Random

	suite, ok := CipherSuiteByID(sh.CipherSuite)
	if !ok || !slices.Contains(c.hello.CipherSuites, sh.CipherSuite) || !suite.SupportsVersion(sh.Version) {
		return c.state, alertf(constants.AlertIllegalParameter, qerrors.ErrWrongCipherReturned)
	}
	if sh.CompressionMethod != 0 {
		return c.state, alertf(constants.AlertIllegalParameter, qerrors.ErrInvalidMessage)
	}
	c.suite = suite

	if err := c.checkServerExtensions(&sh); err != nil {
		return c.state, err
	}

	if c.offered != nil && len(sh.SessionID) > 0 && bytes.Equal(sh.SessionID, c.offeredID) {
		s := c.offered
		if s.Version != sh.Version {
			return c.state, alertf(constants.AlertProtocolVersion, qerrors.ErrSessionMismatch)
		}
		if s.CipherSuite != sh.CipherSuite {
			return c.state, alertf(constants.AlertIllegalParameter, qerrors.ErrSessionMismatch)
		}
		if s.ExtendedMasterSecret && !sh.ExtendedMasterSecret {
			return c.state, alertf(constants.AlertHandshakeFailure, qerrors.ErrSessionMismatch)
		}
		if !s.ExtendedMasterSecret && sh.ExtendedMasterSecret {
			return c.state, alertf(constants.AlertIllegalParameter, qerrors.ErrSessionMismatch)
		}
		c.resumed = true
		c.session = s.Clone()
		c.ems = s.ExtendedMasterSecret
		c.observer.OnResumption(c.obsCtx)
	} else {
		c.session = &Session{
			Version:              sh.Version,
			CipherSuite:          sh.CipherSuite,
			ID:                   slices.Clone(sh.SessionID),
			ExtendedMasterSecret: sh.ExtendedMasterSecret,
			ServerName:           cfg.ServerName,
			Created:              cfg.now(),
			Timeout:              cfg.sessionTimeout(),
		}
		c.ems = sh.ExtendedMasterSecret
	}

	c.ticketExpected = sh.TicketSupported
	c.ocspExpected = sh.OCSPStapling
	c.channelIDValid = sh.ChannelID
	c.negotiatedProtocol = sh.ALPNProtocol
	if sh.NextProtoNeg {
		c.npn = true
		c.negotiatedProtocol = selectNextProtocol(cfg.NextProtos, sh.NextProtos)
	}
	if !c.resumed {
		c.session.NegotiatedProtocol = c.negotiatedProtocol
	}
	c.consume()

	if c.resumed {
		return ClientReadSessionTicket, nil
	}
	return ClientReadCertificate, nil
}

// checkServerExtensions rejects extensions the client did not offer.
func (c *Client) checkServerExtensions(sh *protocol.ServerHello) error {
	h := c.hello
	unsolicited := (sh.ALPNProtocol != "" && len(h.ALPNProtocols) == 0) ||
		(sh.NextProtoNeg && !h.NextProtoNeg) ||
		(sh.ChannelID && !h.ChannelID) ||
		(sh.ExtendedMasterSecret && !h.ExtendedMasterSecret) ||
		(sh.TicketSupported && !h.TicketSupported) ||
		(sh.OCSPStapling && !h.OCSPStapling)
	if unsolicited {
		return alertf(constants.AlertUnsupportedExtension, qerrors.ErrInvalidMessage)
	}
	if sh.ALPNProtocol != "" && (sh.NextProtoNeg || !slices.Contains(h.ALPNProtocols, sh.ALPNProtocol)) {
		return alertf(constants.AlertIllegalParameter, qerrors.ErrInvalidMessage)
	}
	return nil
}

// selectNextProtocol picks the first of ours the server advertised,
// falling back to our first preference.
func selectNextProtocol(ours, server []string) string {
	for _, p := range ours {
		if slices.Contains(server, p) {
			return p
		}
	}
	if len(ours) > 0 {
		return ours[0]
	}
	return ""
}

// --- Server Certificate ---

func (c *Client) readCertificate() (ClientState, error) {
	if !c.suite.UsesCertificate() {
		return ClientReadServerKeyExchange, nil
	}
	body, err := c.expectMessage(constants.TypeCertificate)
	if err != nil {
		return c.state, err
	}
	var cert protocol.Certificate
	if err := parse(constants.TypeCertificate, body, &cert); err != nil {
		return c.state, err
	}
	if len(cert.Certificates) == 0 {
		return c.state, alertf(constants.AlertDecodeError, qerrors.ErrCertificateRequired)
	}
	leaf := cert.Certificates[0]
	keyType, err := c.config.Verifier.CertificateType(leaf)
	if err != nil {
		return c.state, withAlert(constants.AlertBadCertificate, err)
	}
	if keyType.authMask()&c.suite.Auth == 0 {
		return c.state, alertf(constants.AlertIllegalParameter, qerrors.ErrWrongCertificateType)
	}
	pub, err := c.config.Verifier.PublicKey(leaf)
	if err != nil {
		return c.state, withAlert(constants.AlertBadCertificate, err)
	}
	c.peerKey, c.peerKeyType = pub, keyType
	c.session.PeerCertificates = cert.Certificates
	c.consume()
	return ClientReadCertificateStatus, nil
}

func (c *Client) readCertificateStatus() (ClientState, error) {
	if !c.ocspExpected {
		return ClientVerifyServerCertificate, nil
	}
	typ, body, err := c.readMessage()
	if err != nil {
		return c.state, err
	}
	if typ != constants.TypeCertificateStatus {
		return ClientVerifyServerCertificate, nil
	}
	var status protocol.CertificateStatus
	if err := parse(typ, body, &status); err != nil {
		return c.state, err
	}
	c.session.OCSPResponse = status.Response
	c.consume()
	return ClientVerifyServerCertificate, nil
}

func (c *Client) verifyServerCertificate() (ClientState, error) {
	if c.suite.UsesCertificate() && c.config.VerifyMode != VerifyNone {
		if err := c.config.Verifier.VerifyChain(c.session.PeerCertificates); err != nil {
			return c.state, withAlert(constants.AlertBadCertificate, err)
		}
		c.session.PeerVerified = true
	}
	return ClientReadServerKeyExchange, nil
}

// --- ServerKeyExchange ---

func (c *Client) readServerKeyExchange() (ClientState, error) {
	typ, body, err := c.readMessage()
	if err != nil {
		return c.state, err
	}
	if typ != constants.TypeServerKeyExchange {
		if c.suite.hasServerKeyExchange() {
			return c.state, alertf(constants.AlertUnexpectedMessage, qerrors.ErrUnexpectedMessage)
		}
		// Plain PSK servers omit the message when they have no hint.
		c.pskHint = ""
		return ClientReadCertificateRequest, nil
	}
	if c.suite.Kx == KxRSA {
		return c.state, alertf(constants.AlertUnexpectedMessage, qerrors.ErrUnexpectedMessage)
	}

	s := cryptobyte.String(body)
	if c.suite.UsesPSK() {
		var hint cryptobyte.String
		if !s.ReadUint16LengthPrefixed(&hint) {
			return c.state, alertf(constants.AlertDecodeError, qerrors.ErrInvalidMessage)
		}
		if !validPSKIdentity(hint) {
			return c.state, alertf(constants.AlertHandshakeFailure, qerrors.ErrInvalidMessage)
		}
		c.pskHint = string(hint)
	}
	signedEnd := len(body)

	kind, _ := c.suite.KexKind()
	if kind != kex.KindPSK {
		group, params, ok := kex.ReadOffer(kind, &s)
		if !ok {
			return c.state, alertf(constants.AlertDecodeError, qerrors.ErrInvalidMessage)
		}
		if kind == kex.KindDHE {
			if err := checkServerDHPrime(params); err != nil {
				return c.state, err
			}
		}
		kx, err := c.config.Capabilities.New(kind, group)
		if err != nil {
			return c.state, err
		}
		c.kx = kx
		c.skxParams = params
		signedEnd = len(body) - len(s)
	}

	if c.suite.UsesCertificate() {
		alg := legacySignatureAlgorithm(c.peerKeyType)
		if protocol.TLSVersion(c.version) >= constants.VersionTLS12 {
			if !s.ReadUint16(&alg) {
				return c.state, alertf(constants.AlertDecodeError, qerrors.ErrInvalidMessage)
			}
			if err := checkPeerSignatureAlgorithm(alg, c.peerKeyType, c.config.SignatureAlgorithms); err != nil {
				return c.state, err
			}
		}
		var sig cryptobyte.String
		if !s.ReadUint16LengthPrefixed(&sig) || !s.Empty() {
			return c.state, alertf(constants.AlertDecodeError, qerrors.ErrInvalidMessage)
		}
		signed := slices.Concat(c.clientRandom, c.serverRandom, body[:signedEnd])
		if err := c.config.Verifier.VerifySignature(c.peerKey, alg, signed, sig); err != nil {
			return c.state, alertf(constants.AlertDecryptError, qerrors.ErrBadSignature)
		}
	} else if !s.Empty() {
		return c.state, alertf(constants.AlertDecodeError, qerrors.ErrInvalidMessage)
	}
	c.consume()
	return ClientReadCertificateRequest, nil
}

// checkServerDHPrime bounds the size of the server's DHE prime before any
// exponentiation with it.
func checkServerDHPrime(params []byte) error {
	s := cryptobyte.String(params)
	var p cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&p) {
		return alertf(constants.AlertDecodeError, qerrors.ErrInvalidMessage)
	}
	bits := new(bn.Int).SetBytes(p).BitLen()
	switch {
	case bits < constants.MinDHEBits:
		return alertf(constants.AlertInsufficientSecurity, qerrors.ErrBadDHParams)
	case bits > constants.MaxDHEBits:
		return alertf(constants.AlertIllegalParameter, qerrors.ErrBadDHParams)
	}
	return nil
}

func (c *Client) readCertificateRequest() (ClientState, error) {
	typ, body, err := c.readMessage()
	if err != nil {
		return c.state, err
	}
	if typ != constants.TypeCertificateRequest {
		return ClientReadServerHelloDone, nil
	}
	if !c.suite.UsesCertificate() {
		return c.state, alertf(constants.AlertUnexpectedMessage, qerrors.ErrUnexpectedMessage)
	}
	req := protocol.CertificateRequest{HasSignatureAlgorithms: protocol.TLSVersion(c.version) >= constants.VersionTLS12}
	if err := parse(typ, body, &req); err != nil {
		return c.state, err
	}
	c.certRequest = &CertificateRequestInfo{
		CertificateTypes:       req.CertificateTypes,
		SignatureAlgorithms:    req.SignatureAlgorithms,
		CertificateAuthorities: req.CertificateAuthorities,
		Version:                c.version,
	}
	c.consume()
	return ClientReadServerHelloDone, nil
}

// --- Client Flight ---

func (c *Client) sendClientCertificate() (ClientState, error) {
	if c.certRequest == nil {
		return ClientSendClientKeyExchange, nil
	}
	if !c.certChosen {
		cert := c.config.Certificate
		if cb := c.config.ClientCertificate; cb != nil {
			var err error
			if cert, err = cb(c.certRequest); err != nil {
				if IsRetry(err) {
					return c.state, retryAs(RetryClientCertificate, err)
				}
				return c.state, alertf(constants.AlertInternalError, err)
			}
		}
		if cert != nil && !c.certificateUsable(cert) {
			cert = nil
		}
		c.clientCert = cert
		c.certChosen = true
	}
	var chain [][]byte
	if c.clientCert != nil {
		chain = c.clientCert.Chain
	}
	if err := c.writeMessage(constants.TypeCertificate, &protocol.Certificate{Certificates: chain}); err != nil {
		return c.state, err
	}
	return ClientSendClientKeyExchange, nil
}

// certificateUsable reports whether cert can answer the request.
func (c *Client) certificateUsable(cert *Certificate) bool {
	if len(cert.Chain) == 0 || cert.Signer == nil {
		return false
	}
	key := cert.Signer.KeyType()
	want := constants.CertTypeRSASign
	if key == KeyTypeECDSA {
		want = constants.CertTypeECDSASign
	}
	if !slices.Contains(c.certRequest.CertificateTypes, want) {
		return false
	}
	_, ok := selectSignatureAlgorithm(c.version, key, c.config.SignatureAlgorithms, c.certRequest.SignatureAlgorithms)
	return ok
}

func (c *Client) sendClientKeyExchange() (ClientState, error) {
	if c.pendingCKE == nil {
		body, secret, err := c.buildClientKeyExchange()
		if err != nil {
			return c.state, err
		}
		c.pendingCKE, c.pendingSecret = body, secret
	}
	if err := c.writeRaw(constants.TypeClientKeyExchange, c.pendingCKE, true); err != nil {
		return c.state, err
	}
	c.deriveMasterSecret(c.pendingSecret)
	c.pendingCKE, c.pendingSecret = nil, nil
	if c.kx != nil {
		c.kx.Cleanup()
	}
	return ClientSendCertificateVerify, nil
}

// buildClientKeyExchange returns the message body and the premaster secret.
func (c *Client) buildClientKeyExchange() ([]byte, []byte, error) {
	var b cryptobyte.Builder
	var psk []byte
	if c.suite.UsesPSK() {
		if c.config.PSKClient == nil {
			return nil, nil, alertf(constants.AlertInternalError, qerrors.ErrInvalidConfig)
		}
		identity, key, err := c.config.PSKClient(c.pskHint)
		if err != nil {
			return nil, nil, alertf(constants.AlertInternalError, err)
		}
		if !validPSKIdentity([]byte(identity)) || len(key) == 0 || len(key) > constants.MaxPSKSize {
			return nil, nil, alertf(constants.AlertInternalError, qerrors.ErrPSKIdentityNotFound)
		}
		psk = key
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes([]byte(identity)) })
		c.session.PSKIdentity = identity
	}

	var premaster []byte
	switch c.suite.Kx {
	case KxRSA:
		premaster = make([]byte, constants.RSAPremasterSize)
		premaster[0], premaster[1] = byte(c.hello.Version>>8), byte(c.hello.Version)
		if err := crypto.ReadRandom(c.rand, premaster[2:]); err != nil {
			return nil, nil, alertf(constants.AlertInternalError, err)
		}
		enc, err := c.config.Verifier.EncryptPKCS1(c.rand, c.peerKey, premaster)
		if err != nil {
			return nil, nil, alertf(constants.AlertInternalError, err)
		}
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(enc) })
	default:
		if c.kx == nil && c.suite.Kx == KxPSK {
			c.kx = kex.NewPSK(len(psk))
		}
		if c.kx == nil {
			return nil, nil, alertf(constants.AlertInternalError, qerrors.ErrKeyExchangeState)
		}
		resp, secret, err := c.kx.Accept(c.rand, c.skxParams)
		if err != nil {
			return nil, nil, err
		}
		b.AddBytes(resp)
		premaster = secret
	}
	if psk != nil {
		var err error
		if premaster, err = pskPremaster(premaster, psk); err != nil {
			return nil, nil, err
		}
	}
	body, err := b.Bytes()
	if err != nil {
		return nil, nil, alertf(constants.AlertInternalError, err)
	}
	return body, premaster, nil
}

func (c *Client) sendCertificateVerify() (ClientState, error) {
	if c.clientCert == nil {
		return ClientSendChangeCipherSpec, nil
	}
	signer := c.clientCert.Signer
	alg, ok := selectSignatureAlgorithm(c.version, signer.KeyType(), c.config.SignatureAlgorithms, c.certRequest.SignatureAlgorithms)
	if !ok {
		return c.state, alertf(constants.AlertHandshakeFailure, qerrors.ErrBadSignature)
	}
	sig, err := signer.Sign(c.rand, alg, c.transcript)
	if err != nil {
		if IsRetry(err) {
			return c.state, retryAs(RetryPrivateKey, err)
		}
		return c.state, alertf(constants.AlertInternalError, err)
	}
	cv := &protocol.CertificateVerify{
		HasSignatureAlgorithm: protocol.TLSVersion(c.version) >= constants.VersionTLS12,
		SignatureAlgorithm:    alg,
		Signature:             sig,
	}
	if err := c.writeMessage(constants.TypeCertificateVerify, cv); err != nil {
		return c.state, err
	}
	return ClientSendChangeCipherSpec, nil
}

func (c *Client) sendChannelID() (ClientState, error) {
	if !c.channelIDValid {
		return ClientSendFinished, nil
	}
	if c.resumed && len(c.session.OriginalHandshakeHash) == 0 {
		return c.state, alertf(constants.AlertInternalError, qerrors.ErrSessionMismatch)
	}
	digest := channelIDHash(c.prf(), c.transcript, c.resumed, c.session.OriginalHandshakeHash)
	body, err := signChannelID(c.rand, c.config.ChannelIDKey, digest)
	if err != nil {
		return c.state, alertf(constants.AlertInternalError, err)
	}
	if err := c.writeMessage(constants.TypeChannelID, &protocol.EncryptedExtensions{ChannelID: body}); err != nil {
		return c.state, err
	}
	c.channelID = body[:2*channelIDCoordSize]
	return ClientSendFinished, nil
}

// canFalseStart reports whether application data may be sent before the
// server's Finished: a full handshake with a forward-secret AEAD suite
// and, when protocols were offered, a negotiated protocol.
func (c *Client) canFalseStart() bool {
	cfg := c.config
	if !cfg.FalseStart || c.resumed || !c.suite.ForwardSecret() || !c.suite.AEAD {
		return false
	}
	return len(cfg.NextProtos) == 0 || c.negotiatedProtocol != ""
}

// --- Server Flight ---

func (c *Client) readSessionTicket() (ClientState, error) {
	if !c.ticketExpected {
		return ClientReadChangeCipherSpec, nil
	}
	body, err := c.expectMessage(constants.TypeNewSessionTicket)
	if err != nil {
		return c.state, err
	}
	var t protocol.NewSessionTicket
	if err := parse(constants.TypeNewSessionTicket, body, &t); err != nil {
		return c.state, err
	}
	c.newTicket = t.Ticket
	if c.newTicket == nil {
		c.newTicket = []byte{}
	}
	c.ticketHint = t.LifetimeHint
	c.consume()
	return ClientReadChangeCipherSpec, nil
}

// complete publishes the session. An empty NewSessionTicket leaves a
// session resumable only by ID.
func (c *Client) complete() {
	if c.newTicket != nil {
		if len(c.newTicket) > 0 {
			c.session = c.session.withTicket(c.newTicket, c.ticketHint)
		} else {
			c.session = c.session.Clone()
			c.session.Ticket = nil
		}
	}
	if (!c.resumed || len(c.newTicket) > 0) && c.config.OnNewSession != nil && c.session.IsResumable() {
		c.config.OnNewSession(c.session)
	}
}
