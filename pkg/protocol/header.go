package protocol

import (
	"golang.org/x/crypto/cryptobyte"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

// Handshake header sizes.
//
// TLS:
//
//	+------+----------+
//	| Type | Length   |
//	| 1B   | 3B BE    |
//	+------+----------+
//
// DTLS adds a message sequence number and the fragment window:
//
//	+------+----------+-----+-------------+-------------+
//	| Type | Length   | Seq | Frag Offset | Frag Length |
//	| 1B   | 3B BE    | 2B  | 3B BE       | 3B BE       |
//	+------+----------+-----+-------------+-------------+
const (
	HeaderLen     = 4
	DTLSHeaderLen = 12
)

// Header is a parsed handshake message header.
type Header struct {
	Type   uint8
	Length uint32

	// DTLS only
	Seq            uint16
	FragmentOffset uint32
	FragmentLength uint32
}

// HeaderSize returns the header length for the protocol family.
func HeaderSize(dtls bool) int {
	if dtls {
		return DTLSHeaderLen
	}
	return HeaderLen
}

// MarshalHeader encodes h.
func MarshalHeader(dtls bool, h Header) []byte {
	b := cryptobyte.NewFixedBuilder(make([]byte, 0, HeaderSize(dtls)))
	b.AddUint8(h.Type)
	b.AddUint24(h.Length)
	if dtls {
		b.AddUint16(h.Seq)
		b.AddUint24(h.FragmentOffset)
		b.AddUint24(h.FragmentLength)
	}
	return b.BytesOrPanic()
}

// ParseHeader decodes the header at the start of data. Lengths above
// constants.MaxHandshakeMessage and DTLS fragments extending past the message are
// rejected.
func ParseHeader(dtls bool, data []byte) (Header, error) {
	var h Header
	s := cryptobyte.String(data)
	if !s.ReadUint8(&h.Type) || !s.ReadUint24(&h.Length) {
		return h, qerrors.ErrInvalidMessage
	}
	if dtls {
		if !s.ReadUint16(&h.Seq) || !s.ReadUint24(&h.FragmentOffset) || !s.ReadUint24(&h.FragmentLength) {
			return h, qerrors.ErrInvalidMessage
		}
		if uint64(h.FragmentOffset)+uint64(h.FragmentLength) > uint64(h.Length) {
			return h, qerrors.ErrInvalidMessage
		}
	}
	if h.Length > constants.MaxHandshakeMessage {
		return h, qerrors.ErrMessageTooLarge
	}
	return h, nil
}

// Transcript returns the bytes a complete message contributes to the
// handshake hash. DTLS hashes the header of the reassembled message, as if
// it had been sent as a single fragment.
func Transcript(dtls bool, typ uint8, seq uint16, body []byte) []byte {
	h := Header{Type: typ, Length: uint32(len(body)), Seq: seq, FragmentLength: uint32(len(body))}
	out := MarshalHeader(dtls, h)
	return append(out, body...)
}

var messageNames = map[uint8]string{
	constants.TypeHelloRequest:       "HelloRequest",
	constants.TypeClientHello:        "ClientHello",
	constants.TypeServerHello:        "ServerHello",
	constants.TypeHelloVerifyRequest: "HelloVerifyRequest",
	constants.TypeNewSessionTicket:   "NewSessionTicket",
	constants.TypeCertificate:        "Certificate",
	constants.TypeServerKeyExchange:  "ServerKeyExchange",
	constants.TypeCertificateRequest: "CertificateRequest",
	constants.TypeServerHelloDone:    "ServerHelloDone",
	constants.TypeCertificateVerify:  "CertificateVerify",
	constants.TypeClientKeyExchange:  "ClientKeyExchange",
	constants.TypeFinished:           "Finished",
	constants.TypeCertificateStatus:  "CertificateStatus",
	constants.TypeNextProtocol:       "NextProtocol",
	constants.TypeChannelID:          "ChannelID",
}

// MessageName returns a human-readable name for a handshake type.
func MessageName(typ uint8) string {
	if name, ok := messageNames[typ]; ok {
		return name
	}
	return "Unknown"
}
