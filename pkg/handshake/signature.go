package handshake

import (
	stdcrypto "crypto"
	"crypto/md5"
	"crypto/sha1"
	"slices"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
	"github.com/sara-star-quant/quantum-tls/pkg/protocol"
)

// DefaultSignatureAlgorithms is the TLS 1.2 signature_algorithms preference.
func DefaultSignatureAlgorithms() []uint16 {
	return []uint16{
		constants.SigECDSAP256SHA256,
		constants.SigRSAPKCS1SHA256,
		constants.SigECDSAP384SHA384,
		constants.SigRSAPKCS1SHA384,
		constants.SigECDSAP521SHA512,
		constants.SigRSAPKCS1SHA512,
		constants.SigECDSASHA1,
		constants.SigRSAPKCS1SHA1,
	}
}

// SignatureKeyType returns the key type that produces alg.
func SignatureKeyType(alg uint16) KeyType {
	switch alg {
	case constants.SigRSAPKCS1MD5SHA1, constants.SigRSAPKCS1SHA1, constants.SigRSAPKCS1SHA256,
		constants.SigRSAPKCS1SHA384, constants.SigRSAPKCS1SHA512,
		constants.SigRSAPSSRSAESHA256, constants.SigRSAPSSRSAESHA384, constants.SigRSAPSSRSAESHA512:
		return KeyTypeRSA
	case constants.SigECDSASHA1, constants.SigECDSAP256SHA256, constants.SigECDSAP384SHA384,
		constants.SigECDSAP521SHA512:
		return KeyTypeECDSA
	}
	return KeyTypeUnknown
}

// SignatureHash returns the hash alg signs with.
func SignatureHash(alg uint16) (stdcrypto.Hash, bool) {
	switch alg {
	case constants.SigRSAPKCS1MD5SHA1:
		return stdcrypto.MD5SHA1, true
	case constants.SigRSAPKCS1SHA1, constants.SigECDSASHA1:
		return stdcrypto.SHA1, true
	case constants.SigRSAPKCS1SHA256, constants.SigECDSAP256SHA256, constants.SigRSAPSSRSAESHA256:
		return stdcrypto.SHA256, true
	case constants.SigRSAPKCS1SHA384, constants.SigECDSAP384SHA384, constants.SigRSAPSSRSAESHA384:
		return stdcrypto.SHA384, true
	case constants.SigRSAPKCS1SHA512, constants.SigECDSAP521SHA512, constants.SigRSAPSSRSAESHA512:
		return stdcrypto.SHA512, true
	}
	return 0, false
}

func isPSS(alg uint16) bool {
	return alg == constants.SigRSAPSSRSAESHA256 || alg == constants.SigRSAPSSRSAESHA384 ||
		alg == constants.SigRSAPSSRSAESHA512
}

// Digest hashes data for alg.
func Digest(alg uint16, data []byte) ([]byte, stdcrypto.Hash, error) {
	h, ok := SignatureHash(alg)
	if !ok {
		return nil, 0, qerrors.ErrBadSignature
	}
	if h == stdcrypto.MD5SHA1 {
		m := md5.Sum(data)
		s := sha1.Sum(data)
		return append(m[:], s[:]...), h, nil
	}
	hh := h.New()
	hh.Write(data)
	return hh.Sum(nil), h, nil
}

// legacySignatureAlgorithm is the implicit algorithm before TLS 1.2.
func legacySignatureAlgorithm(k KeyType) uint16 {
	if k == KeyTypeECDSA {
		return constants.SigECDSASHA1
	}
	return constants.SigRSAPKCS1MD5SHA1
}

// selectSignatureAlgorithm picks the first of ours that the peer listed and
// our key can produce. A peer that sent no list is assumed to accept SHA-1
// (RFC 5246 §7.4.1.4.1).
func selectSignatureAlgorithm(version uint16, key KeyType, ours, peer []uint16) (uint16, bool) {
	if protocol.TLSVersion(version) < constants.VersionTLS12 {
		return legacySignatureAlgorithm(key), true
	}
	if len(peer) == 0 {
		peer = []uint16{constants.SigRSAPKCS1SHA1, constants.SigECDSASHA1}
	}
	for _, alg := range ours {
		if SignatureKeyType(alg) == key && slices.Contains(peer, alg) {
			return alg, true
		}
	}
	return 0, false
}

// checkPeerSignatureAlgorithm validates the algorithm a peer signed with
// against the list we advertised and the key it holds.
func checkPeerSignatureAlgorithm(alg uint16, key KeyType, ours []uint16) error {
	if SignatureKeyType(alg) != key || !slices.Contains(ours, alg) {
		return alertf(constants.AlertIllegalParameter, qerrors.ErrBadSignature)
	}
	return nil
}
