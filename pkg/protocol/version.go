// Package protocol implements the wire format of TLS 1.0-1.2 and DTLS 1.0/1.2
// handshake messages.
//
// Messages are plain structs with Marshal and Unmarshal methods that operate
// on the message body; the four-byte (TLS) or twelve-byte (DTLS) handshake
// header is handled separately by MarshalHeader and ParseHeader so that the
// record layer can fragment and reassemble without understanding bodies.
// All parsing is strict: trailing bytes, truncated vectors and duplicate
// extensions are rejected with ErrInvalidMessage.
package protocol

import (
	"github.com/sara-star-quant/quantum-tls/internal/constants"
)

// TLSVersion maps a wire version to the TLS version with the same
// cryptography: DTLS 1.0 is TLS 1.1, DTLS 1.2 is TLS 1.2. TLS versions are
// returned unchanged and unknown versions map to 0.
func TLSVersion(v uint16) uint16 {
	switch v {
	case constants.VersionTLS10, constants.VersionTLS11, constants.VersionTLS12:
		return v
	case constants.VersionDTLS10:
		return constants.VersionTLS11
	case constants.VersionDTLS12:
		return constants.VersionTLS12
	default:
		return 0
	}
}

// CompareVersions orders two wire versions of the same protocol family,
// accounting for DTLS version numbers counting downwards.
func CompareVersions(a, b uint16) int {
	ta, tb := TLSVersion(a), TLSVersion(b)
	switch {
	case ta < tb:
		return -1
	case ta > tb:
		return 1
	default:
		return 0
	}
}

// SupportedVersion reports whether v is a wire version of the requested
// family that this package implements.
func SupportedVersion(dtls bool, v uint16) bool {
	if dtls {
		return v == constants.VersionDTLS10 || v == constants.VersionDTLS12
	}
	return v == constants.VersionTLS10 || v == constants.VersionTLS11 || v == constants.VersionTLS12
}

// NegotiateVersion returns the version a server selects for a ClientHello
// advertising clientVersion: the lower of clientVersion and max, which must
// not be below min. Client versions newer than any known version are
// clamped to max.
func NegotiateVersion(dtls bool, clientVersion, min, max uint16) (uint16, bool) {
	v := max
	if SupportedVersion(dtls, clientVersion) && CompareVersions(clientVersion, max) < 0 {
		v = clientVersion
	} else if !SupportedVersion(dtls, clientVersion) && !newerThanKnown(dtls, clientVersion) {
		return 0, false
	}
	if CompareVersions(v, min) < 0 {
		return 0, false
	}
	return v, true
}

func newerThanKnown(dtls bool, v uint16) bool {
	if dtls {
		// DTLS counts down, so lower minor versions are newer
		return v>>8 == 0xfe && v < constants.VersionDTLS12
	}
	return v>>8 == 0x03 && v > constants.VersionTLS12
}
