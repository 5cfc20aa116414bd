package protocol_test

import (
	"testing"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	"github.com/sara-star-quant/quantum-tls/pkg/protocol"
)

// FuzzClientHello checks that parsing never panics and that anything the
// parser accepts re-encodes to something it accepts again.
func FuzzClientHello(f *testing.F) {
	for _, v := range []uint16{constants.VersionTLS12, constants.VersionDTLS12} {
		if raw, err := fullClientHello(v).Marshal(); err == nil {
			f.Add(raw)
		}
	}
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		var m protocol.ClientHello
		if m.Unmarshal(data) != nil {
			return
		}
		raw, err := m.Marshal()
		if err != nil {
			t.Fatalf("marshal of parsed hello failed: %v", err)
		}
		var again protocol.ClientHello
		if err := again.Unmarshal(raw); err != nil {
			t.Fatalf("re-parse failed: %v", err)
		}
	})
}

func FuzzServerHello(f *testing.F) {
	sh := &protocol.ServerHello{
		Version:              constants.VersionTLS12,
		Random:               random(1),
		CipherSuite:          0xc02f,
		ExtendedMasterSecret: true,
		ALPNProtocol:         "h2",
	}
	if raw, err := sh.Marshal(); err == nil {
		f.Add(raw)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		var m protocol.ServerHello
		_ = m.Unmarshal(data)
	})
}

func FuzzHandshakeHeader(f *testing.F) {
	f.Add(true, []byte{1, 0, 0, 10, 0, 0, 0, 0, 0, 0, 0, 10})
	f.Add(false, []byte{20, 0, 0, 12})

	f.Fuzz(func(t *testing.T, dtls bool, data []byte) {
		h, err := protocol.ParseHeader(dtls, data)
		if err != nil {
			return
		}
		if h.Length > constants.MaxHandshakeMessage {
			t.Fatalf("accepted oversized length %d", h.Length)
		}
		if dtls && h.FragmentOffset+h.FragmentLength > h.Length {
			t.Fatalf("accepted fragment past message end")
		}
	})
}

func FuzzMessages(f *testing.F) {
	f.Add(uint8(0), []byte{0, 0, 3, 0, 0, 1, 0})
	f.Add(uint8(5), []byte{0, 0, 0, 1, 0, 0})

	f.Fuzz(func(t *testing.T, which uint8, data []byte) {
		var m protocol.Message
		switch which % 9 {
		case 0:
			m = &protocol.Certificate{}
		case 1:
			m = &protocol.CertificateStatus{}
		case 2:
			m = &protocol.CertificateRequest{HasSignatureAlgorithms: which&0x80 != 0}
		case 3:
			m = &protocol.CertificateVerify{HasSignatureAlgorithm: which&0x80 != 0}
		case 4:
			m = &protocol.NextProtocol{}
		case 5:
			m = &protocol.NewSessionTicket{}
		case 6:
			m = &protocol.EncryptedExtensions{}
		case 7:
			m = &protocol.HelloVerifyRequest{}
		default:
			m = &protocol.ServerHelloDone{}
		}
		_ = m.Unmarshal(data)
	})
}
