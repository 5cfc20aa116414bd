package handshake

import (
	"crypto/sha256"
	"slices"
	"time"

	"golang.org/x/crypto/cryptobyte"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

const sessionFormatVersion = 1

// Session holds the parameters needed to resume a connection. A Session is
// immutable once a handshake has established it: it may be shared by caches
// and connections, and every update produces a new value through Clone.
type Session struct {
	Version              uint16
	CipherSuite          uint16
	ID                   []byte
	MasterSecret         []byte
	ExtendedMasterSecret bool

	// PeerCertificates is the peer chain, leaf first. Servers configured to
	// retain only a hash keep PeerSHA256 instead.
	PeerCertificates [][]byte
	PeerSHA256       []byte
	PeerVerified     bool

	PSKIdentity        string
	NegotiatedProtocol string
	ServerName         string
	OCSPResponse       []byte

	// OriginalHandshakeHash is recorded on full handshakes with Channel ID
	// so that a resumption can bind the new signature to the original
	// connection.
	OriginalHandshakeHash []byte

	// Ticket and TicketLifetimeHint are only set on client sessions.
	Ticket             []byte
	TicketLifetimeHint uint32

	Created time.Time
	Timeout time.Duration
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	n := *s
	n.ID = slices.Clone(s.ID)
	n.MasterSecret = slices.Clone(s.MasterSecret)
	if s.PeerCertificates != nil {
		n.PeerCertificates = make([][]byte, len(s.PeerCertificates))
		for i, c := range s.PeerCertificates {
			n.PeerCertificates[i] = slices.Clone(c)
		}
	}
	n.PeerSHA256 = slices.Clone(s.PeerSHA256)
	n.OCSPResponse = slices.Clone(s.OCSPResponse)
	n.OriginalHandshakeHash = slices.Clone(s.OriginalHandshakeHash)
	n.Ticket = slices.Clone(s.Ticket)
	return &n
}

// withTicket returns a copy carrying a new ticket. A ticket-only session is
// identified by the SHA-256 of its ticket.
func (s *Session) withTicket(ticket []byte, hint uint32) *Session {
	n := s.Clone()
	n.Ticket = slices.Clone(ticket)
	n.TicketLifetimeHint = hint
	if len(n.ID) == 0 && len(ticket) > 0 {
		sum := sha256.Sum256(ticket)
		n.ID = sum[:]
	}
	return n
}

// IsResumable reports whether the session carries enough state to resume.
func (s *Session) IsResumable() bool {
	return s != nil && len(s.MasterSecret) == constants.MasterSecretSize &&
		(len(s.ID) > 0 || len(s.Ticket) > 0)
}

// Expired reports whether the session timeout has passed at now.
func (s *Session) Expired(now time.Time) bool {
	return s.Timeout > 0 && now.After(s.Created.Add(s.Timeout))
}

// Marshal serializes the session for tickets and external caches. The
// client-side ticket is not included.
func (s *Session) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint8(sessionFormatVersion)
	b.AddUint16(s.Version)
	b.AddUint16(s.CipherSuite)
	addU8(&b, s.ID)
	addU8(&b, s.MasterSecret)
	b.AddUint8(boolByte(s.ExtendedMasterSecret))
	b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, c := range s.PeerCertificates {
			b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(c) })
		}
	})
	addU8(&b, s.PeerSHA256)
	b.AddUint8(boolByte(s.PeerVerified))
	addU8(&b, []byte(s.PSKIdentity))
	addU8(&b, []byte(s.NegotiatedProtocol))
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes([]byte(s.ServerName)) })
	b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(s.OCSPResponse) })
	addU8(&b, s.OriginalHandshakeHash)
	b.AddUint64(uint64(s.Created.Unix()))
	b.AddUint32(uint32(s.Timeout / time.Second))
	return b.Bytes()
}

// UnmarshalSession parses the output of Marshal.
func UnmarshalSession(data []byte) (*Session, error) {
	s := &Session{}
	in := cryptobyte.String(data)
	var format, ems, verified uint8
	var id, master, sha, psk, proto, name, ocsp, orig, certs cryptobyte.String
	var created uint64
	var timeout uint32
	if !in.ReadUint8(&format) || format != sessionFormatVersion ||
		!in.ReadUint16(&s.Version) || !in.ReadUint16(&s.CipherSuite) ||
		!in.ReadUint8LengthPrefixed(&id) || len(id) > constants.MaxSessionIDSize ||
		!in.ReadUint8LengthPrefixed(&master) || len(master) != constants.MasterSecretSize ||
		!in.ReadUint8(&ems) || !in.ReadUint24LengthPrefixed(&certs) ||
		!in.ReadUint8LengthPrefixed(&sha) ||
		!in.ReadUint8(&verified) ||
		!in.ReadUint8LengthPrefixed(&psk) ||
		!in.ReadUint8LengthPrefixed(&proto) ||
		!in.ReadUint16LengthPrefixed(&name) ||
		!in.ReadUint24LengthPrefixed(&ocsp) ||
		!in.ReadUint8LengthPrefixed(&orig) ||
		!in.ReadUint64(&created) || !in.ReadUint32(&timeout) || !in.Empty() {
		return nil, qerrors.ErrInvalidTicket
	}
	if ems > 1 || verified > 1 || created > 1<<62 {
		return nil, qerrors.ErrInvalidTicket
	}
	for !certs.Empty() {
		var c cryptobyte.String
		if !certs.ReadUint24LengthPrefixed(&c) || c.Empty() {
			return nil, qerrors.ErrInvalidTicket
		}
		s.PeerCertificates = append(s.PeerCertificates, slices.Clone([]byte(c)))
	}
	s.ID = cloneOrNil(id)
	s.MasterSecret = cloneOrNil(master)
	s.ExtendedMasterSecret = ems == 1
	s.PeerSHA256 = cloneOrNil(sha)
	s.PeerVerified = verified == 1
	s.PSKIdentity = string(psk)
	s.NegotiatedProtocol = string(proto)
	s.ServerName = string(name)
	s.OCSPResponse = cloneOrNil(ocsp)
	s.OriginalHandshakeHash = cloneOrNil(orig)
	s.Created = time.Unix(int64(created), 0)
	s.Timeout = time.Duration(timeout) * time.Second
	return s, nil
}

func addU8(b *cryptobyte.Builder, v []byte) {
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(v) })
}

func boolByte(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

func cloneOrNil(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return slices.Clone(b)
}
