// Package constants defines protocol numbers and size limits shared by the
// quantum-tls handshake, key exchange and codec packages.
//
// Values follow the TLS 1.0-1.2 and DTLS 1.0/1.2 registries; the hybrid
// post-quantum key exchange uses the same code points BoringSSL reserved for
// CECPQ1 cipher suites.
package constants

// Protocol versions as they appear on the wire.
const (
	VersionTLS10 uint16 = 0x0301
	VersionTLS11 uint16 = 0x0302
	VersionTLS12 uint16 = 0x0303

	// DTLS versions count downwards.
	VersionDTLS10 uint16 = 0xfeff
	VersionDTLS12 uint16 = 0xfefd
)

// Handshake message types
const (
	TypeHelloRequest       uint8 = 0
	TypeClientHello        uint8 = 1
	TypeServerHello        uint8 = 2
	TypeHelloVerifyRequest uint8 = 3
	TypeNewSessionTicket   uint8 = 4
	TypeCertificate        uint8 = 11
	TypeServerKeyExchange  uint8 = 12
	TypeCertificateRequest uint8 = 13
	TypeServerHelloDone    uint8 = 14
	TypeCertificateVerify  uint8 = 15
	TypeClientKeyExchange  uint8 = 16
	TypeFinished           uint8 = 20
	TypeCertificateStatus  uint8 = 22
	TypeNextProtocol       uint8 = 67
	TypeChannelID          uint8 = 203
)

// Record content types
const (
	RecordChangeCipherSpec uint8 = 20
	RecordAlert            uint8 = 21
	RecordHandshake        uint8 = 22
	RecordApplicationData  uint8 = 23
)

// Extension code points
const (
	ExtServerName           uint16 = 0
	ExtStatusRequest        uint16 = 5
	ExtSupportedGroups      uint16 = 10
	ExtECPointFormats       uint16 = 11
	ExtSignatureAlgorithms  uint16 = 13
	ExtALPN                 uint16 = 16
	ExtExtendedMasterSecret uint16 = 23
	ExtSessionTicket        uint16 = 35
	ExtNextProtoNeg         uint16 = 13172
	ExtChannelID            uint16 = 30032
	ExtRenegotiationInfo    uint16 = 0xff01
)

// Named groups
const (
	GroupP256   uint16 = 23
	GroupP384   uint16 = 24
	GroupX25519 uint16 = 29

	// GroupX25519MLKEM768 identifies the hybrid post-quantum exchange.
	GroupX25519MLKEM768 uint16 = 0x11ec
)

// Signature algorithms (TLS 1.2 hash/signature pairs)
const (
	SigRSAPKCS1SHA1     uint16 = 0x0201
	SigECDSASHA1        uint16 = 0x0203
	SigRSAPKCS1SHA256   uint16 = 0x0401
	SigECDSAP256SHA256  uint16 = 0x0403
	SigRSAPKCS1SHA384   uint16 = 0x0501
	SigECDSAP384SHA384  uint16 = 0x0503
	SigRSAPKCS1SHA512   uint16 = 0x0601
	SigECDSAP521SHA512  uint16 = 0x0603
	SigRSAPSSRSAESHA256 uint16 = 0x0804
	SigRSAPSSRSAESHA384 uint16 = 0x0805
	SigRSAPSSRSAESHA512 uint16 = 0x0806

	// SigRSAPKCS1MD5SHA1 is never sent; it names the pre-TLS 1.2 RSA signature.
	SigRSAPKCS1MD5SHA1 uint16 = 0xff01
)

// Client certificate types in CertificateRequest
const (
	CertTypeRSASign   uint8 = 1
	CertTypeECDSASign uint8 = 64
)

// ECParameters curve_type
const CurveTypeNamed uint8 = 3

// Size limits
const (
	RandomSize          = 32
	MaxSessionIDSize    = 32
	MasterSecretSize    = 48
	RSAPremasterSize    = 48
	FinishedSize        = 12
	MaxDTLSCookieSize   = 32
	MaxPSKIdentitySize  = 128
	MaxPSKSize          = 256
	ChannelIDSize       = 128
	TicketKeyNameSize   = 16
	MaxHandshakeMessage = 1 << 17
	MaxCertificateList  = 1 << 24

	// MaxPlaintext is the largest record payload; records up to
	// MaxPlaintext+RecordExpansion are accepted on read.
	MaxPlaintext    = 1 << 14
	RecordExpansion = 2048

	RecordHeaderLen     = 5
	DTLSRecordHeaderLen = 13

	// DefaultDTLSFragment is the handshake fragment size used for DTLS
	// records when no MTU is configured.
	DefaultDTLSFragment = 1200

	// MinDHEBits and MaxDHEBits bound the server's DHE prime accepted by clients.
	MinDHEBits = 1024
	MaxDHEBits = 4096

	// DefaultSessionTimeoutSeconds is the lifetime of a new session.
	DefaultSessionTimeoutSeconds = 7200
)

// Hybrid exchange sizes (X25519 + ML-KEM-768)
const (
	X25519PublicKeySize    = 32
	X25519SharedSecretSize = 32

	MLKEMPublicKeySize    = 1184
	MLKEMCiphertextSize   = 1088
	MLKEMSharedSecretSize = 32

	HybridOfferSize    = X25519PublicKeySize + MLKEMPublicKeySize
	HybridResponseSize = X25519PublicKeySize + MLKEMCiphertextSize
	HybridSecretSize   = X25519SharedSecretSize + MLKEMSharedSecretSize
)

// Ticket sealing parameters
const (
	TicketAEADKeySize = 32
	TicketNonceSize   = 12
	TicketTagSize     = 16

	// TicketOverhead is the fixed number of bytes a sealed ticket adds.
	TicketOverhead = TicketKeyNameSize + TicketNonceSize + TicketTagSize

	// TicketTooLarge is sent in place of a ticket whose session does not fit.
	TicketTooLarge = "TICKET TOO LARGE"
)

// Finished labels
const (
	LabelMasterSecret         = "master secret"
	LabelExtendedMasterSecret = "extended master secret"
	LabelKeyExpansion         = "key expansion"
	LabelClientFinished       = "client finished"
	LabelServerFinished       = "server finished"
)

// ChannelIDMagic prefixes the hash signed by a Channel ID key.
const (
	ChannelIDMagic        = "TLS Channel ID signature\x00"
	ChannelIDResumeMagic  = "Resumption\x00"
	DomainSeparatorCookie = "quantum-tls DTLS cookie"
	DomainSeparatorTicket = "quantum-tls ticket key"
)

// AlertLevel is the level byte of an alert record.
type AlertLevel uint8

const (
	AlertLevelWarning AlertLevel = 1
	AlertLevelFatal   AlertLevel = 2
)

// AlertDescription is the description byte of an alert record.
type AlertDescription uint8

const (
	AlertCloseNotify            AlertDescription = 0
	AlertUnexpectedMessage      AlertDescription = 10
	AlertBadRecordMAC           AlertDescription = 20
	AlertRecordOverflow         AlertDescription = 22
	AlertHandshakeFailure       AlertDescription = 40
	AlertBadCertificate         AlertDescription = 42
	AlertUnsupportedCertificate AlertDescription = 43
	AlertCertificateRevoked     AlertDescription = 44
	AlertCertificateExpired     AlertDescription = 45
	AlertCertificateUnknown     AlertDescription = 46
	AlertIllegalParameter       AlertDescription = 47
	AlertUnknownCA              AlertDescription = 48
	AlertAccessDenied           AlertDescription = 49
	AlertDecodeError            AlertDescription = 50
	AlertDecryptError           AlertDescription = 51
	AlertProtocolVersion        AlertDescription = 70
	AlertInsufficientSecurity   AlertDescription = 71
	AlertInternalError          AlertDescription = 80
	AlertInappropriateFallback  AlertDescription = 86
	AlertUserCanceled           AlertDescription = 90
	AlertNoRenegotiation        AlertDescription = 100
	AlertUnsupportedExtension   AlertDescription = 110
	AlertUnrecognizedName       AlertDescription = 112
	AlertUnknownPSKIdentity     AlertDescription = 115
	AlertNoApplicationProtocol  AlertDescription = 120
)

var alertNames = map[AlertDescription]string{
	AlertCloseNotify:            "close_notify",
	AlertUnexpectedMessage:      "unexpected_message",
	AlertBadRecordMAC:           "bad_record_mac",
	AlertRecordOverflow:         "record_overflow",
	AlertHandshakeFailure:       "handshake_failure",
	AlertBadCertificate:         "bad_certificate",
	AlertUnsupportedCertificate: "unsupported_certificate",
	AlertCertificateRevoked:     "certificate_revoked",
	AlertCertificateExpired:     "certificate_expired",
	AlertCertificateUnknown:     "certificate_unknown",
	AlertIllegalParameter:       "illegal_parameter",
	AlertUnknownCA:              "unknown_ca",
	AlertAccessDenied:           "access_denied",
	AlertDecodeError:            "decode_error",
	AlertDecryptError:           "decrypt_error",
	AlertProtocolVersion:        "protocol_version",
	AlertInsufficientSecurity:   "insufficient_security",
	AlertInternalError:          "internal_error",
	AlertInappropriateFallback:  "inappropriate_fallback",
	AlertUserCanceled:           "user_canceled",
	AlertNoRenegotiation:        "no_renegotiation",
	AlertUnsupportedExtension:   "unsupported_extension",
	AlertUnrecognizedName:       "unrecognized_name",
	AlertUnknownPSKIdentity:     "unknown_psk_identity",
	AlertNoApplicationProtocol:  "no_application_protocol",
}

// String returns the registry name of the alert.
func (a AlertDescription) String() string {
	if name, ok := alertNames[a]; ok {
		return name
	}
	return "unknown"
}

// String returns "warning" or "fatal".
func (l AlertLevel) String() string {
	switch l {
	case AlertLevelWarning:
		return "warning"
	case AlertLevelFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// IsDTLS reports whether v is a DTLS wire version.
func IsDTLS(v uint16) bool {
	return v == VersionDTLS10 || v == VersionDTLS12
}

// VersionName returns a human-readable protocol name.
func VersionName(v uint16) string {
	switch v {
	case VersionTLS10:
		return "TLSv1"
	case VersionTLS11:
		return "TLSv1.1"
	case VersionTLS12:
		return "TLSv1.2"
	case VersionDTLS10:
		return "DTLSv1"
	case VersionDTLS12:
		return "DTLSv1.2"
	default:
		return "unknown"
	}
}
