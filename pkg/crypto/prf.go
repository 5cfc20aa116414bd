// prf.go implements the TLS pseudo-random function and the derivations built
// on it.
//
// TLS 1.0 and 1.1 (RFC 2246 §5):
//
//	PRF(secret, label, seed) = P_MD5(S1, label || seed) XOR P_SHA1(S2, label || seed)
//
// where S1 and S2 are the two halves of the secret, sharing the middle byte
// when its length is odd. TLS 1.2 (RFC 5246 §5) uses a single P_hash whose
// hash is fixed by the cipher suite: SHA-256 by default, SHA-384 for the
// *_SHA384 suites.
//
//	P_hash(secret, seed) = HMAC(secret, A(1) || seed) || HMAC(secret, A(2) || seed) || ...
//	A(0) = seed, A(i) = HMAC(secret, A(i-1))
package crypto

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"hash"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
)

// PRFHash selects the PRF construction and transcript hash.
type PRFHash uint8

const (
	// PRFMD5SHA1 is the TLS 1.0/1.1 construction
	PRFMD5SHA1 PRFHash = iota
	// PRFSHA256 is the TLS 1.2 default
	PRFSHA256
	// PRFSHA384 is used by TLS 1.2 suites ending in _SHA384
	PRFSHA384
)

// String returns the hash name.
func (h PRFHash) String() string {
	switch h {
	case PRFMD5SHA1:
		return "MD5+SHA1"
	case PRFSHA256:
		return "SHA256"
	case PRFSHA384:
		return "SHA384"
	default:
		return "unknown"
	}
}

func pHash(newHash func() hash.Hash, out, secret, seed []byte) {
	mac := hmac.New(newHash, secret)
	mac.Write(seed)
	a := mac.Sum(nil)

	for off := 0; off < len(out); {
		mac.Reset()
		mac.Write(a)
		mac.Write(seed)
		off += copy(out[off:], mac.Sum(nil))

		mac.Reset()
		mac.Write(a)
		a = mac.Sum(a[:0])
	}
}

// PRF fills and returns outLen bytes of PRF(secret, label, seed).
func PRF(h PRFHash, secret []byte, label string, seed []byte, outLen int) []byte {
	labelSeed := make([]byte, 0, len(label)+len(seed))
	labelSeed = append(labelSeed, label...)
	labelSeed = append(labelSeed, seed...)

	out := make([]byte, outLen)
	switch h {
	case PRFMD5SHA1:
		half := (len(secret) + 1) / 2
		s1 := secret[:half]
		s2 := secret[len(secret)-half:]
		pHash(md5.New, out, s1, labelSeed)
		tmp := make([]byte, outLen)
		pHash(sha1.New, tmp, s2, labelSeed)
		for i := range out {
			out[i] ^= tmp[i]
		}
	case PRFSHA384:
		pHash(sha512.New384, out, secret, labelSeed)
	default:
		pHash(sha256.New, out, secret, labelSeed)
	}
	return out
}

// TranscriptHash returns the handshake hash of msgs: MD5 || SHA-1 for the
// pre-1.2 PRF, otherwise the PRF hash.
func TranscriptHash(h PRFHash, msgs []byte) []byte {
	switch h {
	case PRFMD5SHA1:
		m := md5.Sum(msgs)
		s := sha1.Sum(msgs)
		return append(m[:], s[:]...)
	case PRFSHA384:
		s := sha512.Sum384(msgs)
		return s[:]
	default:
		s := sha256.Sum256(msgs)
		return s[:]
	}
}

// MasterSecret derives the 48-byte master secret from the premaster and the
// hello randoms.
func MasterSecret(h PRFHash, premaster, clientRandom, serverRandom []byte) []byte {
	seed := make([]byte, 0, len(clientRandom)+len(serverRandom))
	seed = append(seed, clientRandom...)
	seed = append(seed, serverRandom...)
	return PRF(h, premaster, constants.LabelMasterSecret, seed, constants.MasterSecretSize)
}

// ExtendedMasterSecret derives the master secret bound to the session hash
// (RFC 7627).
func ExtendedMasterSecret(h PRFHash, premaster, sessionHash []byte) []byte {
	return PRF(h, premaster, constants.LabelExtendedMasterSecret, sessionHash, constants.MasterSecretSize)
}

// FinishedVerifyData computes the 12-byte verify_data for label over the
// transcript hash.
func FinishedVerifyData(h PRFHash, master []byte, label string, transcriptHash []byte) []byte {
	return PRF(h, master, label, transcriptHash, constants.FinishedSize)
}

// KeyBlock expands the master secret into n bytes of key material.
func KeyBlock(h PRFHash, master, clientRandom, serverRandom []byte, n int) []byte {
	seed := make([]byte, 0, len(clientRandom)+len(serverRandom))
	seed = append(seed, serverRandom...)
	seed = append(seed, clientRandom...)
	return PRF(h, master, constants.LabelKeyExpansion, seed, n)
}
