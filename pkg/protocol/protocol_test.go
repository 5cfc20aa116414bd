package protocol_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
	"github.com/sara-star-quant/quantum-tls/pkg/protocol"
)

func random(b byte) []byte { return bytes.Repeat([]byte{b}, constants.RandomSize) }

func fullClientHello(version uint16) *protocol.ClientHello {
	return &protocol.ClientHello{
		Version:                      version,
		Random:                       random(0xaa),
		SessionID:                    []byte{1, 2, 3, 4},
		CipherSuites:                 []uint16{0xc02f, 0x009c},
		CompressionMethods:           []uint8{0},
		ServerName:                   "example.com",
		OCSPStapling:                 true,
		SupportedGroups:              []uint16{constants.GroupX25519, constants.GroupP256},
		SupportedPoints:              []uint8{0},
		SignatureAlgorithms:          []uint16{constants.SigRSAPKCS1SHA256, constants.SigECDSAP256SHA256},
		ALPNProtocols:                []string{"h2", "http/1.1"},
		ExtendedMasterSecret:         true,
		TicketSupported:              true,
		SessionTicket:                []byte("ticket"),
		NextProtoNeg:                 true,
		ChannelID:                    true,
		SecureRenegotiationSupported: true,
	}
}

// --- Version Tests ---

func TestTLSVersion(t *testing.T) {
	require.Equal(t, constants.VersionTLS11, protocol.TLSVersion(constants.VersionDTLS10))
	require.Equal(t, constants.VersionTLS12, protocol.TLSVersion(constants.VersionDTLS12))
	require.Equal(t, constants.VersionTLS10, protocol.TLSVersion(constants.VersionTLS10))
	require.Zero(t, protocol.TLSVersion(0x0300))
}

func TestCompareVersions(t *testing.T) {
	require.Equal(t, -1, protocol.CompareVersions(constants.VersionDTLS10, constants.VersionDTLS12))
	require.Equal(t, 1, protocol.CompareVersions(constants.VersionTLS12, constants.VersionTLS11))
	require.Equal(t, 0, protocol.CompareVersions(constants.VersionTLS12, constants.VersionTLS12))
}

func TestNegotiateVersion(t *testing.T) {
	tests := []struct {
		name     string
		dtls     bool
		client   uint16
		min, max uint16
		want     uint16
		ok       bool
	}{
		{"equal", false, constants.VersionTLS12, constants.VersionTLS10, constants.VersionTLS12, constants.VersionTLS12, true},
		{"older client", false, constants.VersionTLS11, constants.VersionTLS10, constants.VersionTLS12, constants.VersionTLS11, true},
		{"newer client", false, 0x0304, constants.VersionTLS10, constants.VersionTLS12, constants.VersionTLS12, true},
		{"below min", false, constants.VersionTLS10, constants.VersionTLS12, constants.VersionTLS12, 0, false},
		{"ssl3", false, 0x0300, constants.VersionTLS10, constants.VersionTLS12, 0, false},
		{"dtls older", true, constants.VersionDTLS10, constants.VersionDTLS10, constants.VersionDTLS12, constants.VersionDTLS10, true},
		{"dtls newer", true, 0xfefc, constants.VersionDTLS10, constants.VersionDTLS12, constants.VersionDTLS12, true},
		{"dtls garbage", true, 0x0303, constants.VersionDTLS10, constants.VersionDTLS12, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := protocol.NegotiateVersion(tt.dtls, tt.client, tt.min, tt.max)
			require.Equal(t, tt.ok, ok)
			require.Equal(t, tt.want, v)
		})
	}
}

// --- Header Tests ---

func TestHeaderTLS(t *testing.T) {
	raw := protocol.MarshalHeader(false, protocol.Header{Type: constants.TypeFinished, Length: 12})
	require.Equal(t, []byte{20, 0, 0, 12}, raw)

	h, err := protocol.ParseHeader(false, raw)
	require.NoError(t, err)
	require.Equal(t, constants.TypeFinished, h.Type)
	require.Equal(t, uint32(12), h.Length)
}

func TestHeaderDTLS(t *testing.T) {
	in := protocol.Header{Type: constants.TypeClientHello, Length: 300, Seq: 2, FragmentOffset: 100, FragmentLength: 200}
	raw := protocol.MarshalHeader(true, in)
	require.Len(t, raw, protocol.DTLSHeaderLen)

	h, err := protocol.ParseHeader(true, raw)
	require.NoError(t, err)
	require.Equal(t, in, h)

	in.FragmentLength = 201
	_, err = protocol.ParseHeader(true, protocol.MarshalHeader(true, in))
	require.ErrorIs(t, err, qerrors.ErrInvalidMessage)
}

func TestHeaderErrors(t *testing.T) {
	_, err := protocol.ParseHeader(false, []byte{1, 0, 0})
	require.ErrorIs(t, err, qerrors.ErrInvalidMessage)

	_, err = protocol.ParseHeader(false, []byte{1, 0xff, 0xff, 0xff})
	require.ErrorIs(t, err, qerrors.ErrMessageTooLarge)

	limit := protocol.Header{Type: constants.TypeCertificate, Length: constants.MaxHandshakeMessage}
	h, err := protocol.ParseHeader(false, protocol.MarshalHeader(false, limit))
	require.NoError(t, err)
	require.Equal(t, uint32(constants.MaxHandshakeMessage), h.Length)

	limit.Length++
	_, err = protocol.ParseHeader(false, protocol.MarshalHeader(false, limit))
	require.ErrorIs(t, err, qerrors.ErrMessageTooLarge)

	limit.FragmentLength = 10
	_, err = protocol.ParseHeader(true, protocol.MarshalHeader(true, limit))
	require.ErrorIs(t, err, qerrors.ErrMessageTooLarge)
}

func TestTranscript(t *testing.T) {
	body := []byte{1, 2, 3}
	require.Equal(t, []byte{20, 0, 0, 3, 1, 2, 3}, protocol.Transcript(false, constants.TypeFinished, 5, body))

	dtls := protocol.Transcript(true, constants.TypeFinished, 5, body)
	require.Equal(t, []byte{20, 0, 0, 3, 0, 5, 0, 0, 0, 0, 0, 3, 1, 2, 3}, dtls)
}

func TestMessageName(t *testing.T) {
	require.Equal(t, "ServerKeyExchange", protocol.MessageName(constants.TypeServerKeyExchange))
	require.Equal(t, "Unknown", protocol.MessageName(99))
}

// --- ClientHello Tests ---

func TestClientHelloRoundTrip(t *testing.T) {
	for _, v := range []uint16{constants.VersionTLS12, constants.VersionDTLS12} {
		in := fullClientHello(v)
		if in.DTLS() {
			in.Cookie = []byte("cookie")
		}
		raw, err := in.Marshal()
		require.NoError(t, err)

		var out protocol.ClientHello
		require.NoError(t, out.Unmarshal(raw))
		require.Equal(t, in, &out)
	}
}

func TestClientHelloMinimal(t *testing.T) {
	in := &protocol.ClientHello{
		Version:      constants.VersionTLS10,
		Random:       random(1),
		CipherSuites: []uint16{0x002f},
	}
	raw, err := in.Marshal()
	require.NoError(t, err)

	// version + random + sid + suites + compression, no extension block
	require.Len(t, raw, 2+32+1+4+2)

	var out protocol.ClientHello
	require.NoError(t, out.Unmarshal(raw))
	require.Equal(t, []uint8{0}, out.CompressionMethods)
	require.Nil(t, out.SessionID)
	require.False(t, out.ExtendedMasterSecret)
}

func TestClientHelloRenegotiationInfo(t *testing.T) {
	in := fullClientHello(constants.VersionTLS12)
	in.SecureRenegotiation = []byte{9, 9, 9}
	raw, err := in.Marshal()
	require.NoError(t, err)

	var out protocol.ClientHello
	require.NoError(t, out.Unmarshal(raw))
	require.True(t, out.SecureRenegotiationSupported)
	require.Equal(t, []byte{9, 9, 9}, out.SecureRenegotiation)
}

func TestClientHelloEmptyTicket(t *testing.T) {
	in := fullClientHello(constants.VersionTLS12)
	in.SessionTicket = nil
	raw, err := in.Marshal()
	require.NoError(t, err)

	var out protocol.ClientHello
	require.NoError(t, out.Unmarshal(raw))
	require.True(t, out.TicketSupported)
	require.Nil(t, out.SessionTicket)
}

func TestClientHelloUnknownExtension(t *testing.T) {
	in := fullClientHello(constants.VersionTLS12)
	raw := withExtension(t, in, bareClientHello(in), 0x1234, []byte{1, 2})

	var out protocol.ClientHello
	require.NoError(t, out.Unmarshal(raw))
	require.Equal(t, "example.com", out.ServerName)
}

func TestClientHelloDuplicateExtension(t *testing.T) {
	in := fullClientHello(constants.VersionTLS12)
	raw := withExtension(t, in, bareClientHello(in), constants.ExtExtendedMasterSecret, nil)

	var out protocol.ClientHello
	require.ErrorIs(t, out.Unmarshal(raw), qerrors.ErrInvalidMessage)
}

func TestClientHelloMalformed(t *testing.T) {
	in := fullClientHello(constants.VersionTLS12)
	raw, err := in.Marshal()
	require.NoError(t, err)
	bare, err := bareClientHello(in).Marshal()
	require.NoError(t, err)

	var out protocol.ClientHello
	for i := range len(raw) {
		if i == len(bare) {
			// a hello without extensions is valid
			continue
		}
		require.Error(t, out.Unmarshal(raw[:i]), "truncated at %d", i)
	}
	require.Error(t, out.Unmarshal(append(raw, 0)))
}

func TestClientHelloRejects(t *testing.T) {
	t.Run("odd cipher list", func(t *testing.T) {
		raw := helloPrefix(constants.VersionTLS12)
		raw = append(raw, 0, 3, 0, 0x2f, 0, 1, 0)
		var out protocol.ClientHello
		require.Error(t, out.Unmarshal(raw))
	})
	t.Run("empty cipher list", func(t *testing.T) {
		raw := helloPrefix(constants.VersionTLS12)
		raw = append(raw, 0, 0, 1, 0)
		var out protocol.ClientHello
		require.Error(t, out.Unmarshal(raw))
	})
	t.Run("long cookie", func(t *testing.T) {
		raw := []byte{0xfe, 0xfd}
		raw = append(raw, random(0)...)
		raw = append(raw, 0, 33)
		raw = append(raw, make([]byte, 33)...)
		raw = append(raw, 0, 2, 0, 0x2f, 1, 0)
		var out protocol.ClientHello
		require.Error(t, out.Unmarshal(raw))
	})
	t.Run("bad random", func(t *testing.T) {
		_, err := (&protocol.ClientHello{Random: []byte{1}}).Marshal()
		require.ErrorIs(t, err, qerrors.ErrInvalidMessage)
	})
}

// --- ServerHello Tests ---

func TestServerHelloRoundTrip(t *testing.T) {
	in := &protocol.ServerHello{
		Version:                      constants.VersionTLS12,
		Random:                       random(0xbb),
		SessionID:                    bytes.Repeat([]byte{7}, 32),
		CipherSuite:                  0xc02f,
		OCSPStapling:                 true,
		SupportedPoints:              []uint8{0},
		ALPNProtocol:                 "h2",
		ExtendedMasterSecret:         true,
		TicketSupported:              true,
		ChannelID:                    true,
		SecureRenegotiationSupported: true,
	}
	raw, err := in.Marshal()
	require.NoError(t, err)

	var out protocol.ServerHello
	require.NoError(t, out.Unmarshal(raw))
	require.Equal(t, in, &out)
}

func TestServerHelloNPN(t *testing.T) {
	in := &protocol.ServerHello{
		Version:      constants.VersionTLS12,
		Random:       random(1),
		CipherSuite:  0x009c,
		NextProtoNeg: true,
		NextProtos:   []string{"spdy/3", "http/1.1"},
	}
	raw, err := in.Marshal()
	require.NoError(t, err)

	var out protocol.ServerHello
	require.NoError(t, out.Unmarshal(raw))
	require.True(t, out.NextProtoNeg)
	require.Equal(t, in.NextProtos, out.NextProtos)
}

func TestServerHelloNoExtensions(t *testing.T) {
	in := &protocol.ServerHello{Version: constants.VersionTLS10, Random: random(2), CipherSuite: 0x002f}
	raw, err := in.Marshal()
	require.NoError(t, err)
	require.Len(t, raw, 2+32+1+2+1)

	var out protocol.ServerHello
	require.NoError(t, out.Unmarshal(raw))
	require.Equal(t, in, &out)
}

func TestServerHelloMultipleALPN(t *testing.T) {
	in := &protocol.ServerHello{Version: constants.VersionTLS12, Random: random(3)}
	// protocol_name_list with two entries
	raw := withExtension(t, in, in, constants.ExtALPN, []byte{0, 6, 2, 'h', '2', 2, 'h', '3'})

	var out protocol.ServerHello
	require.Error(t, out.Unmarshal(raw))
}

// --- HelloVerifyRequest Tests ---

func TestHelloVerifyRequest(t *testing.T) {
	in := &protocol.HelloVerifyRequest{Version: constants.VersionDTLS10, Cookie: []byte("abc")}
	raw, err := in.Marshal()
	require.NoError(t, err)

	var out protocol.HelloVerifyRequest
	require.NoError(t, out.Unmarshal(raw))
	require.Equal(t, in, &out)

	long := &protocol.HelloVerifyRequest{Version: constants.VersionDTLS10, Cookie: make([]byte, 33)}
	raw, err = long.Marshal()
	require.NoError(t, err)
	require.Error(t, out.Unmarshal(raw))
}

// --- Certificate Message Tests ---

func TestCertificate(t *testing.T) {
	in := &protocol.Certificate{Certificates: [][]byte{[]byte("leaf"), []byte("intermediate")}}
	raw, err := in.Marshal()
	require.NoError(t, err)

	var out protocol.Certificate
	require.NoError(t, out.Unmarshal(raw))
	require.Equal(t, in, &out)

	empty, err := (&protocol.Certificate{}).Marshal()
	require.NoError(t, err)
	require.Equal(t, []byte{0, 0, 0}, empty)
	require.NoError(t, out.Unmarshal(empty))
	require.Empty(t, out.Certificates)

	require.Error(t, out.Unmarshal([]byte{0, 0, 3, 0, 0, 0}), "empty certificate entry")
}

func TestCertificateStatus(t *testing.T) {
	in := &protocol.CertificateStatus{Response: []byte("ocsp")}
	raw, err := in.Marshal()
	require.NoError(t, err)

	var out protocol.CertificateStatus
	require.NoError(t, out.Unmarshal(raw))
	require.Equal(t, in, &out)

	raw[0] = 2
	require.Error(t, out.Unmarshal(raw))
}

func TestCertificateRequest(t *testing.T) {
	in := &protocol.CertificateRequest{
		CertificateTypes:       []uint8{constants.CertTypeRSASign, constants.CertTypeECDSASign},
		HasSignatureAlgorithms: true,
		SignatureAlgorithms:    []uint16{constants.SigRSAPKCS1SHA256},
		CertificateAuthorities: [][]byte{[]byte("ca1"), []byte("ca2")},
	}
	raw, err := in.Marshal()
	require.NoError(t, err)

	out := protocol.CertificateRequest{HasSignatureAlgorithms: true}
	require.NoError(t, out.Unmarshal(raw))
	require.Equal(t, in, &out)

	// the TLS 1.1 form has no sigalgs and fails to parse this body
	var old protocol.CertificateRequest
	require.Error(t, old.Unmarshal(raw))
}

func TestServerHelloDone(t *testing.T) {
	var m protocol.ServerHelloDone
	raw, err := m.Marshal()
	require.NoError(t, err)
	require.Empty(t, raw)
	require.NoError(t, m.Unmarshal(nil))
	require.ErrorIs(t, m.Unmarshal([]byte{0}), qerrors.ErrInvalidMessage)
}

func TestCertificateVerify(t *testing.T) {
	in := &protocol.CertificateVerify{
		HasSignatureAlgorithm: true,
		SignatureAlgorithm:    constants.SigECDSAP256SHA256,
		Signature:             []byte("sig"),
	}
	raw, err := in.Marshal()
	require.NoError(t, err)

	out := protocol.CertificateVerify{HasSignatureAlgorithm: true}
	require.NoError(t, out.Unmarshal(raw))
	require.Equal(t, in, &out)

	legacy := &protocol.CertificateVerify{Signature: []byte("sig")}
	raw, err = legacy.Marshal()
	require.NoError(t, err)
	require.Equal(t, []byte{0, 3, 's', 'i', 'g'}, raw)
}

// --- Extension Message Tests ---

func TestNextProtocolPadding(t *testing.T) {
	for _, proto := range []string{"", "h2", "http/1.1", string(bytes.Repeat([]byte{'x'}, 30))} {
		raw, err := (&protocol.NextProtocol{Protocol: proto}).Marshal()
		require.NoError(t, err)
		require.Zero(t, len(raw)%32, "protocol %q", proto)

		var out protocol.NextProtocol
		require.NoError(t, out.Unmarshal(raw))
		require.Equal(t, proto, out.Protocol)
	}
}

func TestEncryptedExtensions(t *testing.T) {
	in := &protocol.EncryptedExtensions{ChannelID: bytes.Repeat([]byte{5}, constants.ChannelIDSize)}
	raw, err := in.Marshal()
	require.NoError(t, err)
	require.Len(t, raw, 4+constants.ChannelIDSize)

	var out protocol.EncryptedExtensions
	require.NoError(t, out.Unmarshal(raw))
	require.Equal(t, in, &out)

	_, err = (&protocol.EncryptedExtensions{ChannelID: []byte{1}}).Marshal()
	require.Error(t, err)

	raw[1] = 0
	require.Error(t, out.Unmarshal(raw))
}

func TestFinished(t *testing.T) {
	in := &protocol.Finished{VerifyData: bytes.Repeat([]byte{3}, constants.FinishedSize)}
	raw, err := in.Marshal()
	require.NoError(t, err)

	var out protocol.Finished
	require.NoError(t, out.Unmarshal(raw))
	require.Equal(t, in, &out)
}

func TestNewSessionTicket(t *testing.T) {
	in := &protocol.NewSessionTicket{LifetimeHint: 7200, Ticket: []byte("opaque")}
	raw, err := in.Marshal()
	require.NoError(t, err)

	var out protocol.NewSessionTicket
	require.NoError(t, out.Unmarshal(raw))
	require.Equal(t, in, &out)

	require.Error(t, out.Unmarshal(append(raw, 0)), "trailing data")

	raw, err = (&protocol.NewSessionTicket{}).Marshal()
	require.NoError(t, err)
	require.NoError(t, out.Unmarshal(raw))
	require.Nil(t, out.Ticket)

	_, err = (&protocol.NewSessionTicket{Ticket: make([]byte, 0x10000)}).Marshal()
	require.ErrorIs(t, err, qerrors.ErrMessageTooLarge)
}

func TestUnmarshalWrapsPhase(t *testing.T) {
	var m protocol.ServerHelloDone
	err := protocol.Unmarshal(constants.TypeServerHelloDone, []byte{1}, &m)
	require.ErrorIs(t, err, qerrors.ErrInvalidMessage)

	var pe *qerrors.ProtocolError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "ServerHelloDone", pe.Phase)
}

// helloPrefix returns version, random and an empty session id.
func helloPrefix(version uint16) []byte {
	raw := []byte{byte(version >> 8), byte(version)}
	raw = append(raw, random(0)...)
	return append(raw, 0)
}

// withExtension marshals m and appends an extension to its extension
// block. base is m with every extension cleared.
func withExtension(t *testing.T, m, base protocol.Message, typ uint16, body []byte) []byte {
	t.Helper()
	full, err := m.Marshal()
	require.NoError(t, err)
	prefix, err := base.Marshal()
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(full, prefix))

	var exts []byte
	if len(full) > len(prefix) {
		exts = append(exts, full[len(prefix)+2:]...)
	}
	exts = append(exts, byte(typ>>8), byte(typ), byte(len(body)>>8), byte(len(body)))
	exts = append(exts, body...)

	out := append([]byte{}, prefix...)
	out = append(out, byte(len(exts)>>8), byte(len(exts)))
	return append(out, exts...)
}

func bareClientHello(m *protocol.ClientHello) *protocol.ClientHello {
	return &protocol.ClientHello{
		Version:            m.Version,
		Random:             m.Random,
		SessionID:          m.SessionID,
		Cookie:             m.Cookie,
		CipherSuites:       m.CipherSuites,
		CompressionMethods: m.CompressionMethods,
	}
}
