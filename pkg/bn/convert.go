package bn

import (
	"encoding/binary"
	"strconv"
	"strings"

	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

const (
	decimalChunk = 19 // decimal digits per word
	pow10Chunk   = Word(10000000000000000000)
	hexPerWord   = wordBits / 4
)

// natMulAddWord returns x*m + a.
func natMulAddWord(x []Word, m, a Word) []Word {
	z := make([]Word, len(x)+1)
	z[len(x)] = mulAddVWW(z[:len(x)], x, m, a)
	return norm(z)
}

func isDecimal(c byte) bool { return c >= '0' && c <= '9' }

func hexValue(c byte) (Word, bool) {
	switch {
	case c >= '0' && c <= '9':
		return Word(c - '0'), true
	case c >= 'a' && c <= 'f':
		return Word(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return Word(c-'A') + 10, true
	}
	return 0, false
}

// scanDigits returns the sign and digit run at the start of s and the
// number of characters consumed, including a leading '-'.
func scanDigits(s string, ok func(byte) bool) (neg bool, digits string, n int) {
	i := 0
	if i < len(s) && s[i] == '-' {
		neg = true
		i++
	}
	start := i
	for i < len(s) && ok(s[i]) {
		i++
	}
	if i == start {
		return false, "", 0
	}
	return neg, s[start:i], i
}

// SetDecimal parses an optionally signed decimal number at the start of s.
// Parsing stops at the first non-digit; the number of characters consumed
// (sign included) is returned. Input without digits returns
// ErrInvalidEncoding and leaves z unchanged. "-0" yields +0.
func (z *Int) SetDecimal(s string) (int, error) {
	neg, digits, n := scanDigits(s, isDecimal)
	if n == 0 {
		return 0, qerrors.ErrInvalidEncoding
	}
	var d []Word
	first := len(digits) % decimalChunk
	if first == 0 {
		first = decimalChunk
	}
	for len(digits) > 0 {
		chunk := digits[:first]
		digits = digits[first:]
		mul := Word(1)
		var w Word
		for i := 0; i < len(chunk); i++ {
			w = w*10 + Word(chunk[i]-'0')
			mul *= 10
		}
		d = natMulAddWord(d, mul, w)
		first = decimalChunk
	}
	z.set(neg, d)
	return n, nil
}

// SetHex parses an optionally signed hexadecimal number (no "0x" prefix)
// at the start of s, with the same stopping rules as SetDecimal.
func (z *Int) SetHex(s string) (int, error) {
	neg, digits, n := scanDigits(s, func(c byte) bool {
		_, ok := hexValue(c)
		return ok
	})
	if n == 0 {
		return 0, qerrors.ErrInvalidEncoding
	}
	d := make([]Word, (len(digits)+hexPerWord-1)/hexPerWord)
	for j := 0; j < len(digits); j++ {
		v, _ := hexValue(digits[len(digits)-1-j])
		d[j/hexPerWord] |= v << (4 * uint(j%hexPerWord))
	}
	z.set(neg, d)
	return n, nil
}

// SetString parses s as hexadecimal when it starts with "0x" or "0X"
// (after an optional '-') and as decimal otherwise. Trailing characters
// after the number are ignored.
func (z *Int) SetString(s string) error {
	neg := false
	body := s
	if strings.HasPrefix(body, "-") {
		neg = true
		body = body[1:]
	}
	v := new(Int)
	var err error
	if strings.HasPrefix(body, "0x") || strings.HasPrefix(body, "0X") {
		_, err = v.SetHex(body[2:])
	} else {
		_, err = v.SetDecimal(body)
	}
	if err != nil {
		return err
	}
	if v.neg {
		// "--5" and "-0x-5" are not numbers
		return qerrors.ErrInvalidEncoding
	}
	z.set(neg, v.d)
	return nil
}

// ParseDecimal returns the value of the decimal prefix of s and the number
// of characters consumed.
func ParseDecimal(s string) (*Int, int, error) {
	z := new(Int)
	n, err := z.SetDecimal(s)
	if err != nil {
		return nil, 0, err
	}
	return z, n, nil
}

// ParseHex returns the value of the hexadecimal prefix of s and the number
// of characters consumed.
func ParseHex(s string) (*Int, int, error) {
	z := new(Int)
	n, err := z.SetHex(s)
	if err != nil {
		return nil, 0, err
	}
	return z, n, nil
}

// ParseASCII parses a decimal or "0x"-prefixed hexadecimal number.
func ParseASCII(s string) (*Int, error) {
	z := new(Int)
	if err := z.SetString(s); err != nil {
		return nil, err
	}
	return z, nil
}

// Decimal returns x in base 10 with a leading '-' when negative.
func (x *Int) Decimal() string {
	if x.IsZero() {
		return "0"
	}
	var chunks []Word
	q := x.d
	for len(q) > 0 {
		var r Word
		q, r = natDivWord(q, pow10Chunk)
		chunks = append(chunks, r)
	}
	var sb strings.Builder
	if x.neg {
		sb.WriteByte('-')
	}
	sb.WriteString(strconv.FormatUint(chunks[len(chunks)-1], 10))
	for i := len(chunks) - 2; i >= 0; i-- {
		s := strconv.FormatUint(chunks[i], 10)
		sb.WriteString(strings.Repeat("0", decimalChunk-len(s)))
		sb.WriteString(s)
	}
	return sb.String()
}

// Hex returns x in lowercase base 16 without leading zeros or prefix, with
// a leading '-' when negative. Zero is "0".
func (x *Int) Hex() string {
	if x.IsZero() {
		return "0"
	}
	var sb strings.Builder
	if x.neg {
		sb.WriteByte('-')
	}
	top := len(x.d) - 1
	sb.WriteString(strconv.FormatUint(x.d[top], 16))
	for i := top - 1; i >= 0; i-- {
		s := strconv.FormatUint(x.d[i], 16)
		sb.WriteString(strings.Repeat("0", hexPerWord-len(s)))
		sb.WriteString(s)
	}
	return sb.String()
}

// SetBytes interprets b as a big-endian unsigned magnitude and returns z.
func (z *Int) SetBytes(b []byte) *Int {
	d := make([]Word, (len(b)+7)/8)
	for i := 0; i < len(b); i++ {
		d[i/8] |= Word(b[len(b)-1-i]) << (8 * uint(i%8))
	}
	return z.set(false, d)
}

// Bytes returns the minimal big-endian encoding of |x|. Zero encodes as an
// empty slice.
func (x *Int) Bytes() []byte {
	buf := make([]byte, x.ByteLen())
	x.putBytes(buf)
	return buf
}

// putBytes writes |x| right-aligned into buf, which must be large enough.
func (x *Int) putBytes(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
	for i, j := 0, len(buf)-1; i < len(x.d)*8 && j >= 0; i, j = i+1, j-1 {
		buf[j] = byte(x.d[i/8] >> (8 * uint(i%8)))
	}
}

// FillBytes writes |x| into buf as a big-endian value zero-padded on the
// left. It returns ErrBufferTooSmall, leaving buf untouched, when the
// minimal encoding does not fit.
func (x *Int) FillBytes(buf []byte) error {
	if x.ByteLen() > len(buf) {
		return qerrors.ErrBufferTooSmall
	}
	x.putBytes(buf)
	return nil
}

// PaddedBytes returns |x| as a big-endian value of exactly width bytes.
func (x *Int) PaddedBytes(width int) ([]byte, error) {
	if width < 0 {
		return nil, qerrors.ErrBufferTooSmall
	}
	buf := make([]byte, width)
	if err := x.FillBytes(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// MarshalMPI returns x in the MPI format: a four-byte big-endian length
// followed by the magnitude, whose top bit carries the sign. A zero byte is
// prepended when the magnitude's own top bit is set.
func (x *Int) MarshalMPI() []byte {
	mag := x.Bytes()
	ext := 0
	if x.BitLen() > 0 && x.BitLen()%8 == 0 {
		ext = 1
	}
	out := make([]byte, 4+ext+len(mag))
	binary.BigEndian.PutUint32(out, uint32(ext+len(mag)))
	copy(out[4+ext:], mag)
	if x.neg {
		out[4] |= 0x80
	}
	return out
}

// SetMPI parses the MPI encoding in b. The length prefix must match the
// remaining bytes exactly.
func (z *Int) SetMPI(b []byte) error {
	if len(b) < 4 {
		return qerrors.ErrInvalidEncoding
	}
	n := binary.BigEndian.Uint32(b)
	if uint64(n) != uint64(len(b)-4) {
		return qerrors.ErrInvalidEncoding
	}
	if n == 0 {
		z.SetZero()
		return nil
	}
	mag := make([]byte, n)
	copy(mag, b[4:])
	neg := mag[0]&0x80 != 0
	mag[0] &^= 0x80
	v := new(Int).SetBytes(mag)
	z.set(neg, v.d)
	return nil
}

// ParseMPI returns the value of the MPI encoding in b.
func ParseMPI(b []byte) (*Int, error) {
	z := new(Int)
	if err := z.SetMPI(b); err != nil {
		return nil, err
	}
	return z, nil
}
