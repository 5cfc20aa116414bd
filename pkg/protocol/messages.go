package protocol

import (
	"golang.org/x/crypto/cryptobyte"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

// Message is implemented by every handshake body type in this package.
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal(data []byte) error
}

// Certificate carries a DER certificate chain, leaf first. An empty chain
// is legal from a client that has no certificate.
type Certificate struct {
	Certificates [][]byte
}

// Marshal encodes the message body.
func (m *Certificate) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, cert := range m.Certificates {
			b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(cert) })
		}
	})
	return b.Bytes()
}

// Unmarshal decodes the message body. Empty entries are rejected.
func (m *Certificate) Unmarshal(data []byte) error {
	*m = Certificate{}
	s := cryptobyte.String(data)
	var list cryptobyte.String
	if !s.ReadUint24LengthPrefixed(&list) || !s.Empty() || len(list) > constants.MaxCertificateList {
		return qerrors.ErrInvalidMessage
	}
	for !list.Empty() {
		var cert cryptobyte.String
		if !list.ReadUint24LengthPrefixed(&cert) || cert.Empty() {
			return qerrors.ErrInvalidMessage
		}
		m.Certificates = append(m.Certificates, cloneBytes(cert))
	}
	return nil
}

// CertificateStatus carries a stapled OCSP response.
type CertificateStatus struct {
	Response []byte
}

// Marshal encodes the message body.
func (m *CertificateStatus) Marshal() ([]byte, error) {
	if len(m.Response) == 0 {
		return nil, qerrors.ErrInvalidMessage
	}
	var b cryptobyte.Builder
	b.AddUint8(statusTypeOCSP)
	b.AddUint24LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.Response) })
	return b.Bytes()
}

// Unmarshal decodes the message body. Only the OCSP status type is
// accepted.
func (m *CertificateStatus) Unmarshal(data []byte) error {
	*m = CertificateStatus{}
	s := cryptobyte.String(data)
	var typ uint8
	var resp cryptobyte.String
	if !s.ReadUint8(&typ) || typ != statusTypeOCSP ||
		!s.ReadUint24LengthPrefixed(&resp) || resp.Empty() || !s.Empty() {
		return qerrors.ErrInvalidMessage
	}
	m.Response = cloneBytes(resp)
	return nil
}

// CertificateRequest asks the client for a certificate. Signature
// algorithms are present from TLS 1.2 on; HasSignatureAlgorithms selects
// the wire form because an empty list is itself meaningful.
type CertificateRequest struct {
	CertificateTypes       []uint8
	HasSignatureAlgorithms bool
	SignatureAlgorithms    []uint16
	CertificateAuthorities [][]byte
}

// Marshal encodes the message body.
func (m *CertificateRequest) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	addU8Bytes(&b, m.CertificateTypes)
	if m.HasSignatureAlgorithms {
		addU16List(&b, m.SignatureAlgorithms)
	}
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, ca := range m.CertificateAuthorities {
			b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(ca) })
		}
	})
	return b.Bytes()
}

// Unmarshal decodes the message body. Set HasSignatureAlgorithms before
// calling to parse the TLS 1.2 form.
func (m *CertificateRequest) Unmarshal(data []byte) error {
	tls12 := m.HasSignatureAlgorithms
	*m = CertificateRequest{HasSignatureAlgorithms: tls12}
	s := cryptobyte.String(data)
	if !readU8Bytes(&s, &m.CertificateTypes) {
		return qerrors.ErrInvalidMessage
	}
	if tls12 && !readU16List(&s, &m.SignatureAlgorithms) {
		return qerrors.ErrInvalidMessage
	}
	var cas cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&cas) || !s.Empty() {
		return qerrors.ErrInvalidMessage
	}
	for !cas.Empty() {
		var name cryptobyte.String
		if !cas.ReadUint16LengthPrefixed(&name) {
			return qerrors.ErrInvalidMessage
		}
		m.CertificateAuthorities = append(m.CertificateAuthorities, cloneBytes(name))
	}
	return nil
}

// ServerHelloDone has an empty body.
type ServerHelloDone struct{}

// Marshal encodes the message body.
func (m *ServerHelloDone) Marshal() ([]byte, error) { return []byte{}, nil }

// Unmarshal rejects any body bytes.
func (m *ServerHelloDone) Unmarshal(data []byte) error {
	if len(data) != 0 {
		return qerrors.ErrInvalidMessage
	}
	return nil
}

// CertificateVerify proves possession of the client certificate key. The
// signature algorithm is only on the wire from TLS 1.2 on.
type CertificateVerify struct {
	HasSignatureAlgorithm bool
	SignatureAlgorithm    uint16
	Signature             []byte
}

// Marshal encodes the message body.
func (m *CertificateVerify) Marshal() ([]byte, error) {
	var b cryptobyte.Builder
	if m.HasSignatureAlgorithm {
		b.AddUint16(m.SignatureAlgorithm)
	}
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.Signature) })
	return b.Bytes()
}

// Unmarshal decodes the message body. Set HasSignatureAlgorithm before
// calling to parse the TLS 1.2 form.
func (m *CertificateVerify) Unmarshal(data []byte) error {
	tls12 := m.HasSignatureAlgorithm
	*m = CertificateVerify{HasSignatureAlgorithm: tls12}
	s := cryptobyte.String(data)
	if tls12 && !s.ReadUint16(&m.SignatureAlgorithm) {
		return qerrors.ErrInvalidMessage
	}
	var sig cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&sig) || sig.Empty() || !s.Empty() {
		return qerrors.ErrInvalidMessage
	}
	m.Signature = cloneBytes(sig)
	return nil
}

// NextProtocol carries the protocol a client selected through NPN. Padding
// hides the length of the selection.
type NextProtocol struct {
	Protocol string
}

// Marshal encodes the message body with 32-byte alignment padding.
func (m *NextProtocol) Marshal() ([]byte, error) {
	if len(m.Protocol) > 255 {
		return nil, qerrors.ErrInvalidMessage
	}
	padding := 32 - (len(m.Protocol)+2)%32
	var b cryptobyte.Builder
	addU8Bytes(&b, []byte(m.Protocol))
	addU8Bytes(&b, make([]byte, padding))
	return b.Bytes()
}

// Unmarshal decodes the message body. Padding contents are not checked.
func (m *NextProtocol) Unmarshal(data []byte) error {
	*m = NextProtocol{}
	s := cryptobyte.String(data)
	var proto, padding cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&proto) || !s.ReadUint8LengthPrefixed(&padding) || !s.Empty() {
		return qerrors.ErrInvalidMessage
	}
	m.Protocol = string(proto)
	return nil
}

// EncryptedExtensions carries the Channel ID proof: the P-256 public key
// coordinates x and y followed by the signature r and s, 32 bytes each.
type EncryptedExtensions struct {
	ChannelID []byte
}

// Marshal encodes the message body.
func (m *EncryptedExtensions) Marshal() ([]byte, error) {
	if len(m.ChannelID) != constants.ChannelIDSize {
		return nil, qerrors.ErrInvalidMessage
	}
	var b cryptobyte.Builder
	b.AddUint16(constants.ExtChannelID)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.ChannelID) })
	return b.Bytes()
}

// Unmarshal decodes the message body. Exactly one Channel ID extension is
// accepted.
func (m *EncryptedExtensions) Unmarshal(data []byte) error {
	*m = EncryptedExtensions{}
	s := cryptobyte.String(data)
	var typ uint16
	var body cryptobyte.String
	if !s.ReadUint16(&typ) || typ != constants.ExtChannelID ||
		!s.ReadUint16LengthPrefixed(&body) || len(body) != constants.ChannelIDSize || !s.Empty() {
		return qerrors.ErrInvalidMessage
	}
	m.ChannelID = cloneBytes(body)
	return nil
}

// Finished carries the verify_data. Length checks belong to the caller,
// which knows the expected value.
type Finished struct {
	VerifyData []byte
}

// Marshal encodes the message body.
func (m *Finished) Marshal() ([]byte, error) { return cloneBytes(m.VerifyData), nil }

// Unmarshal decodes the message body.
func (m *Finished) Unmarshal(data []byte) error {
	m.VerifyData = cloneBytes(data)
	return nil
}

// NewSessionTicket delivers a session ticket. An empty ticket tells the
// client to discard the one it offered.
type NewSessionTicket struct {
	LifetimeHint uint32
	Ticket       []byte
}

// Marshal encodes the message body.
func (m *NewSessionTicket) Marshal() ([]byte, error) {
	if len(m.Ticket) > 0xffff {
		return nil, qerrors.ErrMessageTooLarge
	}
	var b cryptobyte.Builder
	b.AddUint32(m.LifetimeHint)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(m.Ticket) })
	return b.Bytes()
}

// Unmarshal decodes the message body.
func (m *NewSessionTicket) Unmarshal(data []byte) error {
	*m = NewSessionTicket{}
	s := cryptobyte.String(data)
	var ticket cryptobyte.String
	if !s.ReadUint32(&m.LifetimeHint) || !s.ReadUint16LengthPrefixed(&ticket) || !s.Empty() {
		return qerrors.ErrInvalidMessage
	}
	m.Ticket = cloneBytes(ticket)
	return nil
}

// Unmarshal decodes body into m, wrapping failures with the message name.
func Unmarshal(typ uint8, body []byte, m Message) error {
	if err := m.Unmarshal(body); err != nil {
		return qerrors.NewProtocolError(MessageName(typ), err)
	}
	return nil
}
