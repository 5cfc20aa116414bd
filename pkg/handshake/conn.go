// Package handshake implements the client and server state machines of the
// TLS 1.0-1.2 and DTLS 1.0/1.2 handshake.
//
// Full handshake:
//
//	Client                                Server
//	    |                                    |
//	    | ------- ClientHello -------------> |
//	    | <------ [HelloVerifyRequest] ----- |  DTLS cookie exchange
//	    | ------- [ClientHello + cookie] --> |
//	    |                                    |
//	    | <------ ServerHello -------------- |
//	    | <------ [Certificate] ------------ |
//	    | <------ [CertificateStatus] ------ |
//	    | <------ [ServerKeyExchange] ------ |
//	    | <------ [CertificateRequest] ----- |
//	    | <------ ServerHelloDone ---------- |
//	    |                                    |
//	    | ------- [Certificate] -----------> |
//	    | ------- ClientKeyExchange -------> |
//	    | ------- [CertificateVerify] -----> |
//	    | ------- ChangeCipherSpec --------> |
//	    | ------- [NextProtocol] ----------> |
//	    | ------- [ChannelID] -------------> |
//	    | ------- Finished ----------------> |  False Start may exit here
//	    |                                    |
//	    | <------ [NewSessionTicket] ------- |
//	    | <------ ChangeCipherSpec --------- |
//	    | <------ Finished ----------------- |
//
// An abbreviated handshake resumes a session after ServerHello: the server
// sends [NewSessionTicket], ChangeCipherSpec and Finished first, and the
// client answers with ChangeCipherSpec, [NextProtocol], [ChannelID] and
// Finished.
//
// Each machine advances one state per step and is driven by Handshake. A
// step either completes and names the next state, suspends with a retry
// condition (ErrWouldBlock from the record layer, ErrPending from a
// callback) leaving the state unchanged, or fails. A suspended step is
// re-entered from the top: received messages are held until the step that
// reads them completes, and messages are only added to the transcript once.
// Failures send one fatal alert and move the machine to its error state.
package handshake

import (
	"context"
	"io"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
	"github.com/sara-star-quant/quantum-tls/pkg/crypto"
	"github.com/sara-star-quant/quantum-tls/pkg/kex"
	"github.com/sara-star-quant/quantum-tls/pkg/protocol"
)

// ConnectionState describes a completed (or false-started) handshake.
type ConnectionState struct {
	Version              uint16
	CipherSuite          uint16
	Resumed              bool
	ExtendedMasterSecret bool
	ServerName           string
	NegotiatedProtocol   string
	NegotiatedByNPN      bool
	PeerCertificates     [][]byte
	OCSPResponse         []byte
	PSKIdentity          string

	// ChannelID is the verified client key x || y on a server, or the key
	// the client proved on a client.
	ChannelID []byte

	FalseStarted bool
	Session      *Session
}

type heldMessage struct {
	typ  uint8
	body []byte
}

// conn is the state shared by both machines.
type conn struct {
	config   *Config
	rl       RecordLayer
	isServer bool
	rand     io.Reader
	observer Observer

	// obsCtx is the context returned by Observer.OnHandshakeStart for the
	// current attempt; endAttempt is nil between attempts.
	obsCtx     context.Context
	endAttempt func(Outcome)

	version       uint16
	versionPinned bool
	suite         *CipherSuite

	clientRandom []byte
	serverRandom []byte

	transcript []byte
	held       *heldMessage
	sendSeq    uint16
	recvSeq    uint16

	// session is the session being negotiated, or the one being resumed.
	// It is owned by this connection until the handshake completes.
	session *Session
	resumed bool
	ems     bool
	kx      kex.KeyExchange

	negotiatedProtocol string
	npn                bool
	channelIDValid     bool
	channelID          []byte
	ticketExpected     bool

	// rsaGood is 0 when the RSA premaster was substituted. It is only
	// inspected after a Finished failure.
	rsaGood int

	alertSent bool
	err       error
}

func newConn(config *Config, rl RecordLayer, isServer bool) *conn {
	return &conn{
		config:   config,
		rl:       rl,
		isServer: isServer,
		rand:     crypto.RandReader(config.Rand),
		observer: config.observer(),
		obsCtx:   context.Background(),
		rsaGood:  1,
	}
}

func (c *conn) dtls() bool { return c.config.DTLS }

// begin opens an observed attempt unless one is already open. Calls that
// resume a suspended handshake continue the same attempt.
func (c *conn) begin(ctx context.Context) {
	if c.endAttempt == nil {
		c.obsCtx, c.endAttempt = c.observer.OnHandshakeStart(ctx)
		if c.obsCtx == nil {
			c.obsCtx = ctx
		}
		if c.endAttempt == nil {
			c.endAttempt = func(Outcome) {}
		}
	}
}

// end reports how a Handshake call returned. A retry is reported and keeps
// the attempt open; anything else, including a canceled context, closes it.
func (c *conn) end(state string, err error) {
	if c.endAttempt == nil {
		return
	}
	if IsRetry(err) {
		var re *RetryError
		if qerrors.As(err, &re) {
			c.observer.OnRetry(c.obsCtx, re.Reason)
		}
		return
	}
	done := c.endAttempt
	c.endAttempt = nil
	done(c.outcome(state, err))
}

func (c *conn) outcome(state string, err error) Outcome {
	o := Outcome{Err: err, State: state, Resumed: c.resumed && err == nil}
	if c.versionPinned {
		o.Version = c.version
	}
	if c.suite != nil {
		o.CipherSuite = c.suite.ID
	}
	if c.session != nil {
		o.ServerName = c.session.ServerName
	}
	return o
}

// pinVersion fixes the negotiated version. A second, different version is
// a protocol_version failure.
func (c *conn) pinVersion(v uint16) error {
	if c.versionPinned {
		if v != c.version {
			return alertf(constants.AlertProtocolVersion, qerrors.ErrVersionMismatch)
		}
		return nil
	}
	c.version = v
	c.versionPinned = true
	c.rl.SetVersion(v)
	return nil
}

// readMessage returns the held message, reading a new one if none is held.
func (c *conn) readMessage() (uint8, []byte, error) {
	for c.held == nil {
		typ, body, err := c.rl.ReadHandshakeMessage()
		if err != nil {
			return 0, nil, retryAs(RetryRead, err)
		}
		// TLS clients ignore HelloRequest mid-handshake. It is not hashed.
		if typ == constants.TypeHelloRequest && !c.isServer && !c.dtls() {
			if len(body) != 0 {
				return 0, nil, alertf(constants.AlertDecodeError, qerrors.ErrInvalidMessage)
			}
			continue
		}
		c.held = &heldMessage{typ: typ, body: body}
	}
	return c.held.typ, c.held.body, nil
}

// expectMessage reads a message that must be of type typ.
func (c *conn) expectMessage(typ uint8) ([]byte, error) {
	got, body, err := c.readMessage()
	if err != nil {
		return nil, err
	}
	if got != typ {
		return nil, alertf(constants.AlertUnexpectedMessage,
			qerrors.NewProtocolError(protocol.MessageName(typ), qerrors.ErrUnexpectedMessage))
	}
	return body, nil
}

// consume releases the held message and adds it to the transcript.
func (c *conn) consume() {
	if c.held == nil {
		return
	}
	c.transcript = append(c.transcript, protocol.Transcript(c.dtls(), c.held.typ, c.recvSeq, c.held.body)...)
	c.recvSeq++
	c.held = nil
}

// discard releases the held message without hashing it.
func (c *conn) discard() {
	if c.held != nil {
		c.recvSeq++
		c.held = nil
	}
}

// withAlert attaches alert to err unless err already carries one.
func withAlert(alert constants.AlertDescription, err error) error {
	var ae *qerrors.AlertError
	if qerrors.As(err, &ae) || IsRetry(err) {
		return err
	}
	return alertf(alert, err)
}

// parse decodes body into m, reporting failures as decode_error.
func parse(typ uint8, body []byte, m protocol.Message) error {
	if err := protocol.Unmarshal(typ, body, m); err != nil {
		return alertf(constants.AlertDecodeError, err)
	}
	return nil
}

// writeMessage queues a handshake message and adds it to the transcript.
func (c *conn) writeMessage(typ uint8, m protocol.Message) error {
	body, err := m.Marshal()
	if err != nil {
		return alertf(constants.AlertInternalError, err)
	}
	return c.writeRaw(typ, body, true)
}

func (c *conn) writeRaw(typ uint8, body []byte, hash bool) error {
	if err := c.rl.WriteHandshakeMessage(typ, body); err != nil {
		return retryAs(RetryWrite, err)
	}
	if hash {
		c.transcript = append(c.transcript, protocol.Transcript(c.dtls(), typ, c.sendSeq, body)...)
	}
	c.sendSeq++
	return nil
}

func (c *conn) flush() error {
	return retryAs(RetryWrite, c.rl.Flush())
}

// fail sends the alert for err once and records err as final.
func (c *conn) fail(err error) error {
	if c.err != nil {
		return c.err
	}
	if !c.alertSent && !qerrors.Is(err, qerrors.ErrPeerAlert) {
		alert := qerrors.AlertFor(err)
		c.alertSent = true
		_ = c.rl.SendAlert(constants.AlertLevelFatal, alert)
		_ = c.rl.Flush()
		c.observer.OnAlertSent(c.obsCtx, alert)
	}
	if c.rsaGood == 0 && qerrors.Is(err, qerrors.ErrBadFinished) {
		c.observer.OnPremasterSubstituted(c.obsCtx)
	}
	if c.kx != nil {
		c.kx.Cleanup()
	}
	c.err = err
	return err
}

// --- Key Schedule ---

func (c *conn) prf() crypto.PRFHash {
	return c.suite.PRFHash(c.version)
}

func (c *conn) transcriptHash() []byte {
	return crypto.TranscriptHash(c.prf(), c.transcript)
}

// deriveMasterSecret computes the master secret from premaster and scrubs
// it. With extended master secret the session hash is the transcript so
// far, which must end with ClientKeyExchange.
func (c *conn) deriveMasterSecret(premaster []byte) {
	defer crypto.Zeroize(premaster)
	if c.ems {
		c.session.MasterSecret = crypto.ExtendedMasterSecret(c.prf(), premaster, c.transcriptHash())
	} else {
		c.session.MasterSecret = crypto.MasterSecret(c.prf(), premaster, c.clientRandom, c.serverRandom)
	}
}

// cipherParams slices the key block for one side:
//
//	client_MAC || server_MAC || client_key || server_key || client_IV || server_IV
func (c *conn) cipherParams(clientSide bool) *CipherParams {
	s := c.suite
	ivLen := s.ivLen(c.version)
	block := crypto.KeyBlock(c.prf(), c.session.MasterSecret, c.clientRandom, c.serverRandom, s.keyBlockLen(c.version))
	take := func(n int) (client, server []byte) {
		client, server = block[:n], block[n:2*n]
		block = block[2*n:]
		return client, server
	}
	cm, sm := take(s.MACLen)
	ck, sk := take(s.KeyLen)
	ci, si := take(ivLen)
	p := &CipherParams{Version: c.version, CipherSuite: s.ID, MACKey: sm, Key: sk, IV: si}
	if clientSide {
		p.MACKey, p.Key, p.IV = cm, ck, ci
	}
	return p
}

func (c *conn) changeCipherState(dir Direction) error {
	clientSide := (dir == DirectionWrite) != c.isServer
	reason := RetryRead
	if dir == DirectionWrite {
		reason = RetryWrite
	}
	return retryAs(reason, c.rl.ChangeCipherState(dir, c.cipherParams(clientSide)))
}

func (c *conn) finishedData(fromServer bool) []byte {
	label := constants.LabelClientFinished
	if fromServer {
		label = constants.LabelServerFinished
	}
	return crypto.FinishedVerifyData(c.prf(), c.session.MasterSecret, label, c.transcriptHash())
}

func (c *conn) sendFinished() error {
	return c.writeMessage(constants.TypeFinished, &protocol.Finished{VerifyData: c.finishedData(c.isServer)})
}

// readFinished checks the peer's Finished against the transcript before it.
func (c *conn) readFinished() error {
	body, err := c.expectMessage(constants.TypeFinished)
	if err != nil {
		return err
	}
	want := c.finishedData(!c.isServer)
	if len(body) != len(want) {
		return alertf(constants.AlertDecodeError, qerrors.ErrBadFinished)
	}
	if !crypto.ConstantTimeCompare(body, want) {
		return alertf(constants.AlertDecryptError, qerrors.ErrBadFinished)
	}
	c.consume()
	return nil
}

// recordChannelIDHash stores the transcript hash of a full handshake for
// Channel ID on later resumptions.
func (c *conn) recordChannelIDHash() {
	if !c.resumed && c.channelIDValid {
		c.session.OriginalHandshakeHash = c.transcriptHash()
	}
}

// pskPremaster composes the PSK premaster from the exchange output.
func pskPremaster(other, psk []byte) ([]byte, error) {
	pre, err := kex.PSKPremaster(other, psk)
	crypto.Zeroize(other)
	return pre, err
}

// validPSKIdentity reports whether a PSK identity or hint is acceptable:
// at most 128 bytes and free of NUL bytes.
func validPSKIdentity(id []byte) bool {
	if len(id) > constants.MaxPSKIdentitySize {
		return false
	}
	for _, b := range id {
		if b == 0 {
			return false
		}
	}
	return true
}

func (c *conn) connectionState(falseStarted bool) ConnectionState {
	cs := ConnectionState{
		Version:              c.version,
		Resumed:              c.resumed,
		ExtendedMasterSecret: c.ems,
		NegotiatedProtocol:   c.negotiatedProtocol,
		NegotiatedByNPN:      c.npn,
		ChannelID:            c.channelID,
		FalseStarted:         falseStarted,
	}
	if c.suite != nil {
		cs.CipherSuite = c.suite.ID
	}
	if c.session != nil {
		cs.Session = c.session
		cs.ServerName = c.session.ServerName
		cs.PeerCertificates = c.session.PeerCertificates
		cs.OCSPResponse = c.session.OCSPResponse
		cs.PSKIdentity = c.session.PSKIdentity
	}
	return cs
}
