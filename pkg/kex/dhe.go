// dhe.go implements finite-field ephemeral Diffie-Hellman (RFC 5246 §7.4.3).
//
// The server sends the whole group with its share:
//
//	struct {
//	    opaque dh_p<1..2^16-1>;
//	    opaque dh_g<1..2^16-1>;
//	    opaque dh_Ys<1..2^16-1>;
//	} ServerDHParams;
//
// and the client answers with opaque dh_Yc<1..2^16-1>. Both sides reject a
// peer value outside (1, p-1), which excludes the identity and the order-2
// element. Private exponents are used only through the constant-time
// Montgomery ladder of pkg/bn.
package kex

import (
	"io"

	"golang.org/x/crypto/cryptobyte"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
	"github.com/sara-star-quant/quantum-tls/pkg/bn"
)

// DHParams is a finite-field group.
type DHParams struct {
	P *bn.Int
	G *bn.Int
}

const (
	rfc3526Group14Hex = "FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC74" +
		"020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F1437" +
		"4FE1356D6D51C245E485B576625E7EC6F44C42E9A637ED6B0BFF5CB6F406B7ED" +
		"EE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF05" +
		"98DA48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB" +
		"9ED529077096966D670C354E4ABC9804F1746C08CA18217C32905E462E36CE3B" +
		"E39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF695581718" +
		"3995497CEA956AE515D2261898FA051015728E5A8AACAA68FFFFFFFFFFFFFFFF"

	ffdhe2048Hex = "FFFFFFFFFFFFFFFFADF85458A2BB4A9AAFDC5620273D3CF1D8B9C583CE2D3695" +
		"A9E13641146433FBCC939DCE249B3EF97D2FE363630C75D8F681B202AEC4617A" +
		"D3DF1ED5D5FD65612433F51F5F066ED0856365553DED1AF3B557135E7F57C935" +
		"984F0C70E0E68B77E2A689DAF3EFE8721DF158A136ADE73530ACCA4F483A797A" +
		"BC0AB182B324FB61D108A94BB2C8E3FBB96ADAB760D7F4681D4F42A3DE394DF4" +
		"AE56EDE76372BB190B07A7C8EE0A6D709E02FCE1CDF7E2ECC03404CD28342F61" +
		"9172FE9CE98583FF8E4F1232EEF28183C3FE3B1B4C6FAD733BB5FCBC2EC22005" +
		"C58EF1837D1683B2C6F34A26C1B2EFFA886B423861285C97FFFFFFFFFFFFFFFF"
)

func mustGroup(hex string) *DHParams {
	p, _, err := bn.ParseHex(hex)
	if err != nil {
		panic("kex: bad built-in group: " + err.Error())
	}
	return &DHParams{P: p, G: bn.NewInt(2)}
}

// RFC3526Group14 returns the 2048-bit MODP group of RFC 3526 §3.
func RFC3526Group14() *DHParams { return mustGroup(rfc3526Group14Hex) }

// FFDHE2048 returns the ffdhe2048 group of RFC 7919 Appendix A.1.
func FFDHE2048() *DHParams { return mustGroup(ffdhe2048Hex) }

// NewDHParams builds a group from big-endian p and g and validates it.
func NewDHParams(p, g []byte) (*DHParams, error) {
	d := &DHParams{P: new(bn.Int).SetBytes(p), G: new(bn.Int).SetBytes(g)}
	if err := CheckDHParams(d.P, d.G); err != nil {
		return nil, err
	}
	return d, nil
}

// BitLen returns the size of the prime.
func (d *DHParams) BitLen() int { return d.P.BitLen() }

// CheckDHParams rejects a prime outside MinDHEBits..MaxDHEBits, an even
// prime, or a generator outside (1, p-1).
func CheckDHParams(p, g *bn.Int) error {
	bits := p.BitLen()
	if bits < constants.MinDHEBits || bits > constants.MaxDHEBits || !p.IsOdd() {
		return qerrors.ErrBadDHParams
	}
	if !inOpenRange(g, p) {
		return qerrors.ErrBadDHParams
	}
	return nil
}

// inOpenRange reports whether 1 < y < p-1.
func inOpenRange(y, p *bn.Int) bool {
	pm1 := new(bn.Int).SubWord(p, 1)
	return y.Sign() > 0 && !y.IsOne() && y.Cmp(pm1) < 0
}

type dhe struct {
	params *DHParams
	priv   *bn.Int
	pub    *bn.Int
}

// NewDHE returns a DHE exchange. The initiator needs params; the responder
// passes nil and takes the group from the offer.
func NewDHE(params *DHParams) KeyExchange {
	return &dhe{params: params}
}

func (d *dhe) Kind() Kind    { return KindDHE }
func (d *dhe) Group() uint16 { return GroupExplicit }

func (d *dhe) generate(r io.Reader) error {
	p := d.params.P
	// x in [2, p-2]
	span := new(bn.Int).SubWord(p, 3)
	priv := new(bn.Int)
	if err := priv.RandRange(r, span); err != nil {
		return internalError(err)
	}
	priv.AddWord(priv, 2)

	pub := new(bn.Int)
	if err := pub.ModExpMontConsttime(d.params.G, priv, p); err != nil {
		priv.Clear()
		return internalError(err)
	}
	d.priv, d.pub = priv, pub
	return nil
}

func (d *dhe) Offer(r io.Reader) ([]byte, error) {
	if d.params == nil || d.priv != nil {
		return nil, internalError(qerrors.ErrKeyExchangeState)
	}
	if err := d.generate(r); err != nil {
		return nil, err
	}

	var b cryptobyte.Builder
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(d.params.P.Bytes()) })
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(d.params.G.Bytes()) })
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(d.pub.Bytes()) })
	return b.Bytes()
}

func (d *dhe) Accept(r io.Reader, offer []byte) ([]byte, []byte, error) {
	if d.priv != nil {
		return nil, nil, internalError(qerrors.ErrKeyExchangeState)
	}
	s := cryptobyte.String(offer)
	var p, g, ys cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&p) || p.Empty() ||
		!s.ReadUint16LengthPrefixed(&g) || g.Empty() ||
		!s.ReadUint16LengthPrefixed(&ys) || ys.Empty() || !s.Empty() {
		return nil, nil, decodeError(qerrors.ErrInvalidMessage)
	}

	params := &DHParams{P: new(bn.Int).SetBytes(p), G: new(bn.Int).SetBytes(g)}
	if err := CheckDHParams(params.P, params.G); err != nil {
		return nil, nil, illegalParameter(err)
	}
	peer := new(bn.Int).SetBytes(ys)
	if !inOpenRange(peer, params.P) {
		return nil, nil, illegalParameter(qerrors.ErrInvalidPublicKey)
	}

	d.params = params
	if err := d.generate(r); err != nil {
		return nil, nil, err
	}
	secret, err := d.agree(peer)
	if err != nil {
		return nil, nil, err
	}

	var b cryptobyte.Builder
	b.AddUint16LengthPrefixed(func(b *cryptobyte.Builder) { b.AddBytes(d.pub.Bytes()) })
	resp, err := b.Bytes()
	if err != nil {
		return nil, nil, internalError(err)
	}
	return resp, secret, nil
}

func (d *dhe) Finish(response []byte) ([]byte, error) {
	if d.priv == nil {
		return nil, internalError(qerrors.ErrKeyExchangeState)
	}
	s := cryptobyte.String(response)
	var yc cryptobyte.String
	if !s.ReadUint16LengthPrefixed(&yc) || yc.Empty() || !s.Empty() {
		return nil, decodeError(qerrors.ErrInvalidMessage)
	}
	peer := new(bn.Int).SetBytes(yc)
	if !inOpenRange(peer, d.params.P) {
		return nil, illegalParameter(qerrors.ErrInvalidPublicKey)
	}
	return d.agree(peer)
}

// agree returns peer^priv mod p with leading zero bytes stripped, as
// RFC 5246 §8.1.2 requires.
func (d *dhe) agree(peer *bn.Int) ([]byte, error) {
	z := new(bn.Int)
	if err := z.ModExpMontConsttime(peer, d.priv, d.params.P); err != nil {
		return nil, internalError(err)
	}
	defer z.Clear()
	if !inOpenRange(z, d.params.P) {
		return nil, illegalParameter(qerrors.ErrInvalidPublicKey)
	}
	return z.Bytes(), nil
}

func (d *dhe) Cleanup() {
	if d.priv != nil {
		d.priv.Clear()
	}
}
