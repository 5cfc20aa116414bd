// hello.go implements ClientHello, ServerHello and HelloVerifyRequest with
// the extensions the handshake negotiates.
//
// ClientHello (RFC 5246 §7.4.1.2, DTLS adds the cookie, RFC 6347 §4.2.1):
//
//	+---------+--------+---------------+-------------+----------------+--------------+------------+
//	| Version | Random | SessionID     | Cookie      | CipherSuites   | Compression  | Extensions |
//	| 2B      | 32B    | u8 vector     | u8 (DTLS)   | u16 vector     | u8 vector    | u16 vector |
//	+---------+--------+---------------+-------------+----------------+--------------+------------+
//
// Whether the cookie is present follows from the version field: DTLS
// versions carry it, TLS versions do not.

package protocol

import (
	"slices"

	"golang.org/x/crypto/cryptobyte"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

const (
	compressionNone  uint8 = 0
	statusTypeOCSP   uint8 = 1
	serverNameHost   uint8 = 0
	pointFormatUncmp uint8 = 0
)

// ClientHello is the first handshake message.
type ClientHello struct {
	Version            uint16
	Random             []byte
	SessionID          []byte
	Cookie             []byte
	CipherSuites       []uint16
	CompressionMethods []uint8

	ServerName                   string
	OCSPStapling                 bool
	SupportedGroups              []uint16
	SupportedPoints              []uint8
	SignatureAlgorithms          []uint16
	ALPNProtocols                []string
	ExtendedMasterSecret         bool
	TicketSupported              bool
	SessionTicket                []byte
	NextProtoNeg                 bool
	ChannelID                    bool
	SecureRenegotiationSupported bool
	SecureRenegotiation          []byte
}

// DTLS reports whether the hello carries a DTLS version.
func (m *ClientHello) DTLS() bool { return constants.IsDTLS(m.Version) }

// Marshal encodes the message body.
func (m *ClientHello) Marshal() ([]byte, error) {
	if len(m.Random) != constants.RandomSize || len(m.SessionID) > constants.MaxSessionIDSize {
		return nil, qerrors.ErrInvalidMessage
	}
	var b cryptobyte.Builder
	b.AddUint16(m.Version)
	b.AddBytes(m.Random)
	addU8Bytes(&b, m.SessionID)
	if m.DTLS() {
		addU8Bytes(&b, m.Cookie)
	}
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, cs := range m.CipherSuites {
			b.AddUint16(cs)
		}
	})
	compression := m.CompressionMethods
	if len(compression) == 0 {
		compression = []uint8{compressionNone}
	}
	addU8Bytes(&b, compression)

	ext := m.marshalExtensions()
	if len(ext) > 0 {
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(ext) })
	}
	return b.Bytes()
}

func (m *ClientHello) marshalExtensions() []byte {
	var b cryptobyte.Builder
	if m.ServerName != "" {
		addExtension(&b, constants.ExtServerName, func(b *cryptobyte.Builder) {
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
				b.AddUint8(serverNameHost)
				b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes([]byte(m.ServerName)) })
			})
		})
	}
	if m.OCSPStapling {
		addExtension(&b, constants.ExtStatusRequest, func(b *cryptobyte.Builder) {
			b.AddUint8(statusTypeOCSP)
			b.AddUint16(0) // responder_id_list
			b.AddUint16(0) // request_extensions
		})
	}
	if len(m.SupportedGroups) > 0 {
		addExtension(&b, constants.ExtSupportedGroups, func(b *cryptobyte.Builder) {
			addU16List(b, m.SupportedGroups)
		})
	}
	if len(m.SupportedPoints) > 0 {
		addExtension(&b, constants.ExtECPointFormats, func(b *cryptobyte.Builder) {
			addU8Bytes(b, m.SupportedPoints)
		})
	}
	if len(m.SignatureAlgorithms) > 0 {
		addExtension(&b, constants.ExtSignatureAlgorithms, func(b *cryptobyte.Builder) {
			addU16List(b, m.SignatureAlgorithms)
		})
	}
	if len(m.ALPNProtocols) > 0 {
		addExtension(&b, constants.ExtALPN, func(b *cryptobyte.Builder) {
			addProtocolList(b, m.ALPNProtocols)
		})
	}
	if m.ExtendedMasterSecret {
		addExtension(&b, constants.ExtExtendedMasterSecret, nil)
	}
	if m.TicketSupported {
		addExtension(&b, constants.ExtSessionTicket, func(b *cryptobyte.Builder) {
			b.AddBytes(m.SessionTicket)
		})
	}
	if m.NextProtoNeg {
		addExtension(&b, constants.ExtNextProtoNeg, nil)
	}
	if m.ChannelID {
		addExtension(&b, constants.ExtChannelID, nil)
	}
	if m.SecureRenegotiationSupported {
		addExtension(&b, constants.ExtRenegotiationInfo, func(b *cryptobyte.Builder) {
			addU8Bytes(b, m.SecureRenegotiation)
		})
	}
	return b.BytesOrPanic()
}

// Unmarshal decodes the message body.
func (m *ClientHello) Unmarshal(data []byte) error {
	*m = ClientHello{}
	s := cryptobyte.String(data)
	var suites, compression cryptobyte.String
	if !s.ReadUint16(&m.Version) ||
		!readFixed(&s, &m.Random, constants.RandomSize) ||
		!readU8Bytes(&s, &m.SessionID) || len(m.SessionID) > constants.MaxSessionIDSize {
		return qerrors.ErrInvalidMessage
	}
	if m.DTLS() {
		if !readU8Bytes(&s, &m.Cookie) || len(m.Cookie) > constants.MaxDTLSCookieSize {
			return qerrors.ErrInvalidMessage
		}
	}
	if !s.ReadUint16LengthPrefixed(&suites) || suites.Empty() || len(suites)%2 != 0 ||
		!s.ReadUint8LengthPrefixed(&compression) || compression.Empty() {
		return qerrors.ErrInvalidMessage
	}
	for !suites.Empty() {
		var cs uint16
		suites.ReadUint16(&cs)
		m.CipherSuites = append(m.CipherSuites, cs)
	}
	m.CompressionMethods = slices.Clone([]uint8(compression))

	if s.Empty() {
		return nil
	}
	return parseExtensions(&s, m.parseExtension)
}

func (m *ClientHello) parseExtension(typ uint16, ext cryptobyte.String) bool {
	switch typ {
	case constants.ExtServerName:
		var list cryptobyte.String
		if !ext.ReadUint16LengthPrefixed(&list) || list.Empty() {
			return false
		}
		for !list.Empty() {
			var nameType uint8
			var name cryptobyte.String
			if !list.ReadUint8(&nameType) || !list.ReadUint16LengthPrefixed(&name) {
				return false
			}
			if nameType != serverNameHost {
				continue
			}
			if m.ServerName != "" || name.Empty() {
				return false
			}
			m.ServerName = string(name)
		}
	case constants.ExtStatusRequest:
		var statusType uint8
		var ignored cryptobyte.String
		if !ext.ReadUint8(&statusType) ||
			!ext.ReadUint16LengthPrefixed(&ignored) ||
			!ext.ReadUint16LengthPrefixed(&ignored) {
			return false
		}
		m.OCSPStapling = statusType == statusTypeOCSP
	case constants.ExtSupportedGroups:
		if !readU16List(&ext, &m.SupportedGroups) || len(m.SupportedGroups) == 0 {
			return false
		}
	case constants.ExtECPointFormats:
		if !readU8Bytes(&ext, &m.SupportedPoints) || len(m.SupportedPoints) == 0 {
			return false
		}
	case constants.ExtSignatureAlgorithms:
		if !readU16List(&ext, &m.SignatureAlgorithms) || len(m.SignatureAlgorithms) == 0 {
			return false
		}
	case constants.ExtALPN:
		if !readProtocolList(&ext, &m.ALPNProtocols) || len(m.ALPNProtocols) == 0 {
			return false
		}
	case constants.ExtExtendedMasterSecret:
		m.ExtendedMasterSecret = true
	case constants.ExtSessionTicket:
		m.TicketSupported = true
		m.SessionTicket = cloneBytes(ext)
		ext = nil
	case constants.ExtNextProtoNeg:
		m.NextProtoNeg = true
	case constants.ExtChannelID:
		m.ChannelID = true
	case constants.ExtRenegotiationInfo:
		if !readU8Bytes(&ext, &m.SecureRenegotiation) {
			return false
		}
		m.SecureRenegotiationSupported = true
	default:
		return true
	}
	return ext.Empty()
}

// ServerHello answers a ClientHello.
type ServerHello struct {
	Version           uint16
	Random            []byte
	SessionID         []byte
	CipherSuite       uint16
	CompressionMethod uint8

	OCSPStapling                 bool
	SupportedPoints              []uint8
	ALPNProtocol                 string
	ExtendedMasterSecret         bool
	TicketSupported              bool
	NextProtoNeg                 bool
	NextProtos                   []string
	ChannelID                    bool
	SecureRenegotiationSupported bool
	SecureRenegotiation          []byte
}

// Marshal encodes the message body.
func (m *ServerHello) Marshal() ([]byte, error) {
	if len(m.Random) != constants.RandomSize || len(m.SessionID) > constants.MaxSessionIDSize {
		return nil, qerrors.ErrInvalidMessage
	}
	var b cryptobyte.Builder
	b.AddUint16(m.Version)
	b.AddBytes(m.Random)
	addU8Bytes(&b, m.SessionID)
	b.AddUint16(m.CipherSuite)
	b.AddUint8(m.CompressionMethod)

	ext := m.marshalExtensions()
	if len(ext) > 0 {
		b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(ext) })
	}
	return b.Bytes()
}

func (m *ServerHello) marshalExtensions() []byte {
	var b cryptobyte.Builder
	if m.OCSPStapling {
		addExtension(&b, constants.ExtStatusRequest, nil)
	}
	if len(m.SupportedPoints) > 0 {
		addExtension(&b, constants.ExtECPointFormats, func(b *cryptobyte.Builder) {
			addU8Bytes(b, m.SupportedPoints)
		})
	}
	if m.ALPNProtocol != "" {
		addExtension(&b, constants.ExtALPN, func(b *cryptobyte.Builder) {
			addProtocolList(b, []string{m.ALPNProtocol})
		})
	}
	if m.ExtendedMasterSecret {
		addExtension(&b, constants.ExtExtendedMasterSecret, nil)
	}
	if m.TicketSupported {
		addExtension(&b, constants.ExtSessionTicket, nil)
	}
	if m.NextProtoNeg {
		addExtension(&b, constants.ExtNextProtoNeg, func(b *cryptobyte.Builder) {
			for _, p := range m.NextProtos {
				addU8Bytes(b, []byte(p))
			}
		})
	}
	if m.ChannelID {
		addExtension(&b, constants.ExtChannelID, nil)
	}
	if m.SecureRenegotiationSupported {
		addExtension(&b, constants.ExtRenegotiationInfo, func(b *cryptobyte.Builder) {
			addU8Bytes(b, m.SecureRenegotiation)
		})
	}
	return b.BytesOrPanic()
}

// Unmarshal decodes the message body.
func (m *ServerHello) Unmarshal(data []byte) error {
	*m = ServerHello{}
	s := cryptobyte.String(data)
	if !s.ReadUint16(&m.Version) ||
		!readFixed(&s, &m.Random, constants.RandomSize) ||
		!readU8Bytes(&s, &m.SessionID) || len(m.SessionID) > constants.MaxSessionIDSize ||
		!s.ReadUint16(&m.CipherSuite) ||
		!s.ReadUint8(&m.CompressionMethod) {
		return qerrors.ErrInvalidMessage
	}
	if s.Empty() {
		return nil
	}
	return parseExtensions(&s, m.parseExtension)
}

func (m *ServerHello) parseExtension(typ uint16, ext cryptobyte.String) bool {
	switch typ {
	case constants.ExtStatusRequest:
		m.OCSPStapling = true
	case constants.ExtECPointFormats:
		if !readU8Bytes(&ext, &m.SupportedPoints) || len(m.SupportedPoints) == 0 {
			return false
		}
	case constants.ExtALPN:
		var protos []string
		if !readProtocolList(&ext, &protos) || len(protos) != 1 {
			return false
		}
		m.ALPNProtocol = protos[0]
	case constants.ExtExtendedMasterSecret:
		m.ExtendedMasterSecret = true
	case constants.ExtSessionTicket:
		m.TicketSupported = true
	case constants.ExtNextProtoNeg:
		m.NextProtoNeg = true
		for !ext.Empty() {
			var p cryptobyte.String
			if !ext.ReadUint8LengthPrefixed(&p) || p.Empty() {
				return false
			}
			m.NextProtos = append(m.NextProtos, string(p))
		}
	case constants.ExtChannelID:
		m.ChannelID = true
	case constants.ExtRenegotiationInfo:
		if !readU8Bytes(&ext, &m.SecureRenegotiation) {
			return false
		}
		m.SecureRenegotiationSupported = true
	default:
		// a server may not send extensions the client did not offer; the
		// state machine rejects unknown ones
		return true
	}
	return ext.Empty()
}

// HelloVerifyRequest carries a DTLS stateless cookie.
type HelloVerifyRequest struct {
	Version uint16
	Cookie  []byte
}

// Marshal encodes the message body.
func (m *HelloVerifyRequest) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint16(m.Version)
	addU8Bytes(&b, m.Cookie)
	return b.Bytes()
}

// Unmarshal decodes the message body. Cookies longer than
// MaxDTLSCookieSize are rejected.
func (m *HelloVerifyRequest) Unmarshal(data []byte) error {
	*m = HelloVerifyRequest{}
	s := cryptobyte.String(data)
	if !s.ReadUint16(&m.Version) || !readU8Bytes(&s, &m.Cookie) || !s.Empty() ||
		len(m.Cookie) > constants.MaxDTLSCookieSize {
		return qerrors.ErrInvalidMessage
	}
	return nil
}
