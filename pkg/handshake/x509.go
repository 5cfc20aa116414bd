package handshake

import (
	stdcrypto "crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"errors"
	"io"
	"time"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
	"github.com/sara-star-quant/quantum-tls/pkg/bn"
	"github.com/sara-star-quant/quantum-tls/pkg/crypto"
)

// X509Verifier is the crypto/x509 CertificateVerifier.
type X509Verifier struct {
	// Roots is the trust anchor set; nil means the system pool.
	Roots *x509.CertPool

	// DNSName, when set, must match the leaf.
	DNSName string

	// Time returns the verification time; nil means time.Now.
	Time func() time.Time
}

// VerifyChain parses and verifies a chain, leaf first.
func (v *X509Verifier) VerifyChain(chain [][]byte) error {
	if len(chain) == 0 {
		return alertf(constants.AlertBadCertificate, qerrors.ErrCertificateRequired)
	}
	certs := make([]*x509.Certificate, 0, len(chain))
	for _, der := range chain {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return alertf(constants.AlertBadCertificate, err)
		}
		certs = append(certs, c)
	}
	opts := x509.VerifyOptions{
		Roots:         v.Roots,
		DNSName:       v.DNSName,
		Intermediates: x509.NewCertPool(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if v.Time != nil {
		opts.CurrentTime = v.Time()
	}
	for _, c := range certs[1:] {
		opts.Intermediates.AddCert(c)
	}
	if _, err := certs[0].Verify(opts); err != nil {
		return alertf(verifyAlert(err), err)
	}
	return nil
}

func verifyAlert(err error) constants.AlertDescription {
	var invalid x509.CertificateInvalidError
	var unknown x509.UnknownAuthorityError
	switch {
	case errors.As(err, &invalid) && invalid.Reason == x509.Expired:
		return constants.AlertCertificateExpired
	case errors.As(err, &unknown):
		return constants.AlertUnknownCA
	default:
		return constants.AlertBadCertificate
	}
}

// PublicKey returns the leaf public key.
func (v *X509Verifier) PublicKey(cert []byte) (stdcrypto.PublicKey, error) {
	c, err := x509.ParseCertificate(cert)
	if err != nil {
		return nil, alertf(constants.AlertDecodeError, err)
	}
	return c.PublicKey, nil
}

// CertificateType returns the key algorithm of cert.
func (v *X509Verifier) CertificateType(cert []byte) (KeyType, error) {
	pub, err := v.PublicKey(cert)
	if err != nil {
		return KeyTypeUnknown, err
	}
	return publicKeyType(pub), nil
}

func publicKeyType(pub stdcrypto.PublicKey) KeyType {
	switch pub.(type) {
	case *rsa.PublicKey:
		return KeyTypeRSA
	case *ecdsa.PublicKey:
		return KeyTypeECDSA
	}
	return KeyTypeUnknown
}

// VerifySignature verifies sig over data.
func (v *X509Verifier) VerifySignature(pub stdcrypto.PublicKey, alg uint16, data, sig []byte) error {
	digest, h, err := Digest(alg, data)
	if err != nil {
		return err
	}
	switch k := pub.(type) {
	case *rsa.PublicKey:
		if SignatureKeyType(alg) != KeyTypeRSA {
			return qerrors.ErrBadSignature
		}
		if isPSS(alg) {
			err = rsa.VerifyPSS(k, h, digest, sig, &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash})
		} else {
			err = rsa.VerifyPKCS1v15(k, h, digest, sig)
		}
		if err != nil {
			return qerrors.ErrBadSignature
		}
		return nil
	case *ecdsa.PublicKey:
		if SignatureKeyType(alg) != KeyTypeECDSA || !ecdsa.VerifyASN1(k, digest, sig) {
			return qerrors.ErrBadSignature
		}
		return nil
	}
	return qerrors.ErrWrongCertificateType
}

// EncryptPKCS1 encrypts msg to an RSA key.
func (v *X509Verifier) EncryptPKCS1(rand io.Reader, pub stdcrypto.PublicKey, msg []byte) ([]byte, error) {
	k, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, qerrors.ErrWrongCertificateType
	}
	return rsa.EncryptPKCS1v15(crypto.RandReader(rand), k, msg)
}

// KeySigner adapts a crypto.Signer. RSA decryption is computed with the
// constant-time bignum exponentiation and returns the unpadded block.
type KeySigner struct {
	Key stdcrypto.Signer
}

// NewKeySigner wraps key.
func NewKeySigner(key stdcrypto.Signer) *KeySigner {
	return &KeySigner{Key: key}
}

func (s *KeySigner) KeyType() KeyType {
	return publicKeyType(s.Key.Public())
}

func (s *KeySigner) Sign(rand io.Reader, alg uint16, data []byte) ([]byte, error) {
	if SignatureKeyType(alg) != s.KeyType() {
		return nil, qerrors.ErrWrongCertificateType
	}
	digest, h, err := Digest(alg, data)
	if err != nil {
		return nil, err
	}
	var opts stdcrypto.SignerOpts = h
	if isPSS(alg) {
		opts = &rsa.PSSOptions{SaltLength: rsa.PSSSaltLengthEqualsHash, Hash: h}
	}
	return s.Key.Sign(crypto.RandReader(rand), digest, opts)
}

func (s *KeySigner) Decrypt(ciphertext []byte) ([]byte, error) {
	priv, ok := s.Key.(*rsa.PrivateKey)
	if !ok {
		return nil, qerrors.ErrWrongCertificateType
	}
	k := priv.Size()
	if len(ciphertext) > k {
		return nil, qerrors.ErrInvalidCiphertext
	}
	n := new(bn.Int).SetBytes(priv.N.Bytes())
	c := new(bn.Int).SetBytes(ciphertext)
	if c.Cmp(n) >= 0 {
		return nil, qerrors.ErrInvalidCiphertext
	}
	d := new(bn.Int).SetBytes(priv.D.Bytes())
	defer d.Clear()

	m := new(bn.Int)
	if err := m.ModExpMontConsttime(c, d, n); err != nil {
		return nil, err
	}
	defer m.Clear()
	return m.PaddedBytes(k)
}

func (s *KeySigner) MaxSignatureLen() int {
	switch k := s.Key.Public().(type) {
	case *rsa.PublicKey:
		return k.Size()
	case *ecdsa.PublicKey:
		// DER SEQUENCE of two INTEGERs
		return 2*((k.Curve.Params().BitSize+7)/8) + 9
	}
	return 0
}
