package protocol

import (
	"golang.org/x/crypto/cryptobyte"

	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

// cloneBytes copies b, returning nil for empty input so that parsed
// messages never alias the caller's buffer.
func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func readFixed(s *cryptobyte.String, out *[]byte, n int) bool {
	var v []byte
	if !s.ReadBytes(&v, n) {
		return false
	}
	*out = cloneBytes(v)
	return true
}

func readU8Bytes(s *cryptobyte.String, out *[]byte) bool {
	var v cryptobyte.String
	if !s.ReadUint8LengthPrefixed(&v) {
		return false
	}
	*out = cloneBytes(v)
	return true
}

func addU8Bytes(b *cryptobyte.Builder, v []byte) {
	b.AddUint8LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(v) })
}

func addU16List(b *cryptobyte.Builder, list []uint16) {
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, v := range list {
			b.AddUint16(v)
		}
	})
}

func readU16List(s *cryptobyte.String, out *[]uint16) bool {
	var list cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&list) || len(list)%2 != 0 {
		return false
	}
	*out = nil
	for !list.Empty() {
		var v uint16
		list.ReadUint16(&v)
		*out = append(*out, v)
	}
	return true
}

func addProtocolList(b *cryptobyte.Builder, protos []string) {
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		for _, p := range protos {
			addU8Bytes(b, []byte(p))
		}
	})
}

// readProtocolList parses an ALPN protocol_name_list. Empty names are
// invalid.
func readProtocolList(s *cryptobyte.String, out *[]string) bool {
	var list cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&list) {
		return false
	}
	*out = nil
	for !list.Empty() {
		var p cryptobyte.String
		if !list.ReadUint8LengthPrefixed(&p) || p.Empty() {
			return false
		}
		*out = append(*out, string(p))
	}
	return true
}

func addExtension(b *cryptobyte.Builder, typ uint16, body cryptobyte.BuilderContinuation) {
	b.AddUint16(typ)
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) {
		if body != nil {
			body(b)
		}
	})
}

// parseExtensions walks a u16-prefixed extension block, calling fn once per
// extension. The block must be the last thing in s. Duplicate extension
// types and fn returning false both fail with ErrInvalidMessage.
func parseExtensions(s *cryptobyte.String, fn func(typ uint16, body cryptobyte.String) bool) error {
	var exts cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&exts) || !s.Empty() {
		return qerrors.ErrInvalidMessage
	}
	seen := make(map[uint16]bool)
	for !exts.Empty() {
		var typ uint16
		var body cryptobyte.String
		if !exts.ReadUint16(&typ) || !exts.ReadUint16LengthPrefixed(&body) {
			return qerrors.ErrInvalidMessage
		}
		if seen[typ] {
			return qerrors.ErrInvalidMessage
		}
		seen[typ] = true
		if !fn(typ, body) {
			return qerrors.ErrInvalidMessage
		}
	}
	return nil
}
