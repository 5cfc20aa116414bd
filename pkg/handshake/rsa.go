package handshake

import (
	"crypto/subtle"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
)

// rsaPremaster extracts the premaster secret from a raw PKCS#1 v1.5 block
// in constant time (RFC 5246 §7.4.7.1). The block must be at least 11+48
// bytes; the caller checks lengths, which are public.
//
// A well-formed block is
//
//	00 02 <nonzero padding> 00 <client_version[2]> <random[46]>
//
// Any deviation, including a version that differs from the ClientHello,
// selects fallback instead. No branch or memory access depends on which
// check failed. good is 1 when the decrypted premaster was used.
func rsaPremaster(block []byte, clientVersion uint16, fallback []byte) (premaster []byte, good int) {
	padLen := len(block) - constants.RSAPremasterSize

	good = subtle.ConstantTimeByteEq(block[0], 0x00) & subtle.ConstantTimeByteEq(block[1], 0x02)
	for i := 2; i < padLen-1; i++ {
		good &= ^subtle.ConstantTimeByteEq(block[i], 0x00) & 1
	}
	good &= subtle.ConstantTimeByteEq(block[padLen-1], 0x00)
	good &= subtle.ConstantTimeByteEq(block[padLen], byte(clientVersion>>8))
	good &= subtle.ConstantTimeByteEq(block[padLen+1], byte(clientVersion))

	premaster = make([]byte, constants.RSAPremasterSize)
	for i := range premaster {
		premaster[i] = byte(subtle.ConstantTimeSelect(good, int(block[padLen+i]), int(fallback[i])))
	}
	return premaster, good
}
