// Package record implements a plaintext TLS and DTLS record layer that
// carries the handshake state machines over any io.ReadWriter.
//
// TLS record header:
//
//	+------+---------+--------+
//	| Type | Version | Length |
//	| 1B   | 2B      | 2B     |
//	+------+---------+--------+
//
// DTLS record header:
//
//	+------+---------+-------+----------+--------+
//	| Type | Version | Epoch | Sequence | Length |
//	| 1B   | 2B      | 2B    | 6B       | 2B     |
//	+------+---------+-------+----------+--------+
//
// Handshake messages are reassembled across records (TLS) or fragments
// (DTLS). Records are not encrypted: ChangeCipherState switches epochs and
// keeps the key material for inspection.
package record

import (
	"io"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/cryptobyte"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
	"github.com/sara-star-quant/quantum-tls/pkg/handshake"
	"github.com/sara-star-quant/quantum-tls/pkg/protocol"
)

const (
	readChunk = 4096

	// maxPendingMessages bounds how far ahead of the expected DTLS
	// message_seq fragments are buffered.
	maxPendingMessages = 16
)

// Config holds configuration for a record layer.
type Config struct {
	// DTLS selects datagram framing.
	DTLS bool

	// ReadTimeout and WriteTimeout set deadlines on transports that
	// support them. An expired deadline surfaces as ErrWouldBlock.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxMessageSize bounds a reassembled handshake message. Zero, or a
	// value above constants.MaxHandshakeMessage, means that constant.
	MaxMessageSize int

	// FragmentSize is the largest DTLS handshake fragment, header
	// included. Zero means constants.DefaultDTLSFragment.
	FragmentSize int
}

// DefaultConfig returns a TLS configuration with no deadlines.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize: constants.MaxHandshakeMessage,
		FragmentSize:   constants.DefaultDTLSFragment,
	}
}

// Stats counts traffic through a Layer.
type Stats struct {
	RecordsIn  uint64
	RecordsOut uint64
	BytesIn    uint64
	BytesOut   uint64
	AlertsIn   uint64
	AlertsOut  uint64
}

// Layer is a handshake.RecordLayer over an io.ReadWriter.
type Layer struct {
	conn io.ReadWriter
	cfg  Config

	// Mutex for the output queue and close state
	mu     sync.Mutex
	out    []byte
	closed bool

	in []byte // raw bytes not yet parsed into records
	hs []byte // TLS handshake bytes not yet returned

	frags   map[uint16]*fragmentedMessage
	recvSeq uint16
	sendSeq uint16

	version uint16
	pinned  bool

	readEpoch  uint16
	writeEpoch uint16
	writeSeq   uint64

	readParams  *handshake.CipherParams
	writeParams *handshake.CipherParams

	stats Stats
}

var _ handshake.RecordLayer = (*Layer)(nil)

// New creates a record layer over conn.
func New(conn io.ReadWriter, cfg Config) *Layer {
	if cfg.MaxMessageSize <= 0 || cfg.MaxMessageSize > constants.MaxHandshakeMessage {
		cfg.MaxMessageSize = constants.MaxHandshakeMessage
	}
	if cfg.FragmentSize <= protocol.DTLSHeaderLen {
		cfg.FragmentSize = constants.DefaultDTLSFragment
	}
	return &Layer{
		conn:  conn,
		cfg:   cfg,
		frags: make(map[uint16]*fragmentedMessage),
	}
}

// SetVersion pins the record version. Only the first call has an effect.
func (l *Layer) SetVersion(version uint16) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.pinned {
		return
	}
	l.version = version
	l.pinned = true
}

// Version returns the pinned version, if any.
func (l *Layer) Version() (uint16, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version, l.pinned
}

// Epochs returns the current read and write epochs.
func (l *Layer) Epochs() (read, write uint16) {
	return l.readEpoch, l.writeEpoch
}

// CipherState returns the parameters installed for dir, or nil before
// ChangeCipherSpec.
func (l *Layer) CipherState(dir handshake.Direction) *handshake.CipherParams {
	if dir == handshake.DirectionWrite {
		return l.writeParams
	}
	return l.readParams
}

// Stats returns a snapshot of the traffic counters.
func (l *Layer) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// --- Reading ---

// ReadHandshakeMessage returns the next complete handshake message.
func (l *Layer) ReadHandshakeMessage() (uint8, []byte, error) {
	for {
		typ, body, ok, err := l.nextMessage()
		if err != nil || ok {
			return typ, body, err
		}

		rec, err := l.readRecord()
		if err != nil {
			return 0, nil, err
		}
		switch rec.typ {
		case constants.RecordHandshake:
			if err := l.addHandshake(rec.payload); err != nil {
				return 0, nil, err
			}
		case constants.RecordAlert:
			if err := l.handleAlert(rec.payload); err != nil {
				return 0, nil, err
			}
		default:
			return 0, nil, qerrors.NewAlertError(constants.AlertUnexpectedMessage, qerrors.ErrUnexpectedMessage)
		}
	}
}

// readChangeCipherSpec consumes the peer's ChangeCipherSpec record.
func (l *Layer) readChangeCipherSpec(params *handshake.CipherParams) error {
	if l.pendingHandshake() {
		return qerrors.NewAlertError(constants.AlertUnexpectedMessage, qerrors.ErrUnexpectedMessage)
	}
	for {
		rec, err := l.readRecord()
		if err != nil {
			return err
		}
		switch rec.typ {
		case constants.RecordChangeCipherSpec:
			if len(rec.payload) != 1 || rec.payload[0] != 1 {
				return qerrors.NewAlertError(constants.AlertDecodeError, qerrors.ErrInvalidMessage)
			}
			l.readEpoch++
			l.readParams = params
			return nil
		case constants.RecordAlert:
			if err := l.handleAlert(rec.payload); err != nil {
				return err
			}
		default:
			return qerrors.NewAlertError(constants.AlertUnexpectedMessage, qerrors.ErrUnexpectedMessage)
		}
	}
}

// handleAlert returns the error a peer alert maps to. Warning alerts other
// than close_notify are ignored.
func (l *Layer) handleAlert(payload []byte) error {
	if len(payload) != 2 {
		return qerrors.NewAlertError(constants.AlertDecodeError, qerrors.ErrInvalidMessage)
	}
	l.mu.Lock()
	l.stats.AlertsIn++
	l.mu.Unlock()

	level := constants.AlertLevel(payload[0])
	desc := constants.AlertDescription(payload[1])
	if level == constants.AlertLevelWarning && desc != constants.AlertCloseNotify {
		return nil
	}
	return qerrors.NewAlertError(desc, qerrors.ErrPeerAlert)
}

type rawRecord struct {
	typ     uint8
	version uint16
	epoch   uint16
	payload []byte
}

// readRecord returns the next record of the current read epoch, reading
// from the transport as needed.
func (l *Layer) readRecord() (*rawRecord, error) {
	for {
		rec, n, err := l.parseRecord()
		if err != nil {
			return nil, err
		}
		if rec == nil {
			if err := l.fill(); err != nil {
				return nil, err
			}
			continue
		}
		l.in = l.in[n:]
		if l.cfg.DTLS && rec.epoch != l.readEpoch {
			continue
		}
		l.mu.Lock()
		l.stats.RecordsIn++
		l.mu.Unlock()
		return rec, nil
	}
}

// parseRecord decodes the record at the head of the input buffer. It
// returns nil when the record is incomplete.
func (l *Layer) parseRecord() (*rawRecord, int, error) {
	hdrLen := constants.RecordHeaderLen
	if l.cfg.DTLS {
		hdrLen = constants.DTLSRecordHeaderLen
	}
	if len(l.in) < hdrLen {
		return nil, 0, nil
	}

	rec := &rawRecord{}
	var length uint16
	s := cryptobyte.String(l.in[:hdrLen])
	s.ReadUint8(&rec.typ)
	s.ReadUint16(&rec.version)
	if l.cfg.DTLS {
		s.ReadUint16(&rec.epoch)
		s.Skip(6)
	}
	s.ReadUint16(&length)

	if err := l.checkVersion(rec.typ, rec.version); err != nil {
		return nil, 0, err
	}
	if int(length) > constants.MaxPlaintext+constants.RecordExpansion {
		return nil, 0, qerrors.NewAlertError(constants.AlertRecordOverflow, qerrors.ErrRecordOverflow)
	}
	if len(l.in) < hdrLen+int(length) {
		return nil, 0, nil
	}
	rec.payload = append([]byte(nil), l.in[hdrLen:hdrLen+int(length)]...)
	return rec, hdrLen + int(length), nil
}

// checkVersion validates a record version. Alerts only need the right
// major byte: a peer may fail before it has learned the version.
func (l *Layer) checkVersion(typ uint8, v uint16) error {
	l.mu.Lock()
	pinned, version := l.pinned, l.version
	l.mu.Unlock()

	if pinned && typ != constants.RecordAlert {
		if v != version {
			return qerrors.NewAlertError(constants.AlertProtocolVersion, qerrors.ErrVersionMismatch)
		}
		return nil
	}
	major := uint8(v >> 8)
	if (l.cfg.DTLS && major != 0xfe) || (!l.cfg.DTLS && major != 3) {
		return qerrors.NewAlertError(constants.AlertProtocolVersion, qerrors.ErrUnsupportedVersion)
	}
	return nil
}

// fill reads more bytes from the transport.
func (l *Layer) fill() error {
	if l.cfg.ReadTimeout > 0 {
		if d, ok := l.conn.(interface{ SetReadDeadline(time.Time) error }); ok {
			_ = d.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
		}
	}

	buf := make([]byte, readChunk)
	n, err := l.conn.Read(buf)
	if n > 0 {
		l.in = append(l.in, buf[:n]...)
		l.mu.Lock()
		l.stats.BytesIn += uint64(n)
		l.mu.Unlock()
		return nil
	}
	switch {
	case err == nil, isTimeout(err):
		return qerrors.ErrWouldBlock
	case err == io.EOF:
		return qerrors.ErrConnectionClosed
	default:
		return qerrors.NewProtocolError("record read", err)
	}
}

// --- Handshake reassembly ---

type fragmentedMessage struct {
	typ    uint8
	body   []byte
	have   []byte // one bit per body byte
	filled int
}

func (m *fragmentedMessage) add(off int, frag []byte) {
	copy(m.body[off:], frag)
	for i := off; i < off+len(frag); i++ {
		if m.have[i/8]&(1<<(i%8)) == 0 {
			m.have[i/8] |= 1 << (i % 8)
			m.filled++
		}
	}
}

func (l *Layer) pendingHandshake() bool {
	if l.cfg.DTLS {
		_, ok := l.frags[l.recvSeq]
		return ok
	}
	return len(l.hs) > 0
}

func (l *Layer) addHandshake(payload []byte) error {
	if !l.cfg.DTLS {
		l.hs = append(l.hs, payload...)
		return nil
	}

	for len(payload) > 0 {
		h, err := protocol.ParseHeader(true, payload)
		if err != nil {
			return l.headerError(err)
		}
		end := protocol.DTLSHeaderLen + int(h.FragmentLength)
		if len(payload) < end {
			return qerrors.NewAlertError(constants.AlertDecodeError, qerrors.ErrInvalidMessage)
		}
		frag := payload[protocol.DTLSHeaderLen:end]
		payload = payload[end:]

		// Retransmissions and messages too far ahead are dropped.
		if h.Seq < l.recvSeq || h.Seq-l.recvSeq >= maxPendingMessages {
			continue
		}
		if int(h.Length) > l.cfg.MaxMessageSize {
			return qerrors.NewAlertError(constants.AlertIllegalParameter, qerrors.ErrMessageTooLarge)
		}

		m, ok := l.frags[h.Seq]
		if !ok {
			m = &fragmentedMessage{
				typ:  h.Type,
				body: make([]byte, h.Length),
				have: make([]byte, (h.Length+7)/8),
			}
			l.frags[h.Seq] = m
		}
		if m.typ != h.Type || len(m.body) != int(h.Length) {
			return qerrors.NewAlertError(constants.AlertIllegalParameter, qerrors.ErrInvalidMessage)
		}
		m.add(int(h.FragmentOffset), frag)
	}
	return nil
}

// nextMessage returns a reassembled message if one is complete.
func (l *Layer) nextMessage() (uint8, []byte, bool, error) {
	if l.cfg.DTLS {
		m, ok := l.frags[l.recvSeq]
		if !ok || m.filled != len(m.body) {
			return 0, nil, false, nil
		}
		delete(l.frags, l.recvSeq)
		l.recvSeq++
		return m.typ, m.body, true, nil
	}

	if len(l.hs) < protocol.HeaderLen {
		return 0, nil, false, nil
	}
	h, err := protocol.ParseHeader(false, l.hs)
	if err != nil {
		return 0, nil, false, l.headerError(err)
	}
	if int(h.Length) > l.cfg.MaxMessageSize {
		return 0, nil, false, qerrors.NewAlertError(constants.AlertIllegalParameter, qerrors.ErrMessageTooLarge)
	}
	end := protocol.HeaderLen + int(h.Length)
	if len(l.hs) < end {
		return 0, nil, false, nil
	}
	body := append([]byte(nil), l.hs[protocol.HeaderLen:end]...)
	l.hs = l.hs[end:]
	if len(l.hs) == 0 {
		l.hs = nil
	}
	return h.Type, body, true, nil
}

func (l *Layer) headerError(err error) error {
	if qerrors.Is(err, qerrors.ErrMessageTooLarge) {
		return qerrors.NewAlertError(constants.AlertIllegalParameter, err)
	}
	return qerrors.NewAlertError(constants.AlertDecodeError, err)
}

// --- Writing ---

// WriteHandshakeMessage queues a handshake message.
func (l *Layer) WriteHandshakeMessage(typ uint8, body []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return qerrors.ErrConnectionClosed
	}

	if !l.cfg.DTLS {
		msg := protocol.MarshalHeader(false, protocol.Header{Type: typ, Length: uint32(len(body))})
		msg = append(msg, body...)
		for len(msg) > 0 {
			n := min(len(msg), constants.MaxPlaintext)
			l.appendRecord(constants.RecordHandshake, msg[:n])
			msg = msg[n:]
		}
		return nil
	}

	seq := l.sendSeq
	l.sendSeq++
	fragLen := l.cfg.FragmentSize - protocol.DTLSHeaderLen
	off := 0
	for {
		n := min(len(body)-off, fragLen)
		h := protocol.Header{
			Type:           typ,
			Length:         uint32(len(body)),
			Seq:            seq,
			FragmentOffset: uint32(off),
			FragmentLength: uint32(n),
		}
		frag := append(protocol.MarshalHeader(true, h), body[off:off+n]...)
		l.appendRecord(constants.RecordHandshake, frag)
		off += n
		if off >= len(body) {
			return nil
		}
	}
}

// SendAlert queues an alert record.
func (l *Layer) SendAlert(level constants.AlertLevel, desc constants.AlertDescription) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return qerrors.ErrConnectionClosed
	}
	l.appendRecord(constants.RecordAlert, []byte{byte(level), byte(desc)})
	l.stats.AlertsOut++
	return nil
}

// ChangeCipherState sends or consumes ChangeCipherSpec and advances the
// epoch for dir.
func (l *Layer) ChangeCipherState(dir handshake.Direction, params *handshake.CipherParams) error {
	if dir == handshake.DirectionRead {
		return l.readChangeCipherSpec(params)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return qerrors.ErrConnectionClosed
	}
	l.appendRecord(constants.RecordChangeCipherSpec, []byte{1})
	l.writeEpoch++
	l.writeSeq = 0
	l.writeParams = params
	return nil
}

// appendRecord frames payload onto the output queue. l.mu must be held.
func (l *Layer) appendRecord(typ uint8, payload []byte) {
	version := l.version
	if !l.pinned {
		version = constants.VersionTLS10
		if l.cfg.DTLS {
			version = constants.VersionDTLS10
		}
	}

	b := cryptobyte.NewBuilder(make([]byte, 0, constants.DTLSRecordHeaderLen+len(payload)))
	b.AddUint8(typ)
	b.AddUint16(version)
	if l.cfg.DTLS {
		b.AddUint16(l.writeEpoch)
		b.AddUint16(uint16(l.writeSeq >> 32))
		b.AddUint32(uint32(l.writeSeq))
	}
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		b.AddBytes(payload)
	})
	l.out = append(l.out, b.BytesOrPanic()...)
	l.writeSeq++
	l.stats.RecordsOut++
}

// Flush writes queued records to the transport. Bytes the transport did
// not accept stay queued for the next call.
func (l *Layer) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for len(l.out) > 0 {
		if l.cfg.WriteTimeout > 0 {
			if d, ok := l.conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
				_ = d.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
			}
		}
		n, err := l.conn.Write(l.out)
		l.out = l.out[n:]
		l.stats.BytesOut += uint64(n)
		if err != nil {
			if isTimeout(err) {
				return qerrors.ErrWouldBlock
			}
			return qerrors.NewProtocolError("record write", err)
		}
		if n == 0 {
			return qerrors.ErrWouldBlock
		}
	}
	l.out = nil
	return nil
}

// Close sends close_notify (best effort) and closes the transport if it
// is an io.Closer.
func (l *Layer) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.appendRecord(constants.RecordAlert, []byte{byte(constants.AlertLevelWarning), byte(constants.AlertCloseNotify)})
	l.stats.AlertsOut++
	l.mu.Unlock()

	// Use a very short timeout for close notification to avoid blocking
	if d, ok := l.conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		_ = d.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
	}
	_ = l.Flush()

	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()

	if c, ok := l.conn.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func isTimeout(err error) bool {
	if qerrors.Is(err, qerrors.ErrWouldBlock) || qerrors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return qerrors.As(err, &ne) && ne.Timeout()
}
