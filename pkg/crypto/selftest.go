// selftest.go runs known-answer self-tests over the primitives the handshake
// depends on.
//
// The tests run once, on first use of RunSelfTest, and cover:
//   - the TLS 1.2 PRF (P_SHA256), against the published test vector
//   - SHAKE-256 key expansion
//   - the ticket AEAD (AES-256-GCM) with a fixed nonce
//   - ML-KEM-768 encapsulation/decapsulation from a fixed key seed
//
// A failure means the binary cannot be trusted to derive keys; servers refuse
// to start and clients refuse to connect.
package crypto

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sync"
)

var (
	// TLS 1.2 PRF-SHA256 vector (IETF TLS WG, "test label", 100 bytes)
	selfTestPRFSecret, _   = hex.DecodeString("9bbe436ba940f017b17652849a71db35")
	selfTestPRFSeed, _     = hex.DecodeString("a0ba9f936cda311827a6f796ffd5198c")
	selfTestPRFExpected, _ = hex.DecodeString(
		"e3f229ba727be17b8d122620557cd453c2aab21d07c3d495329b52d4e61edb5a" +
			"6b301791e90d35c9c9a46b4e14baf9af0fa022f7077def17abfd3797c0564bab" +
			"4fbc91666e9def9b97fce34f796789baa48082d122ee42c5a72e5a5110fff701" +
			"87347b66")

	selfTestKDFInput, _    = hex.DecodeString("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	selfTestKDFExpected, _ = hex.DecodeString("6f35df98c4795228b3634098b310395e3d28482ef6185f909fb76a06cb063357")

	selfTestAEADKey, _      = hex.DecodeString("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef")
	selfTestAEADPlaintext   = []byte("POST-KAT-TEST")
	selfTestAEADExpected, _ = hex.DecodeString("5a48b3005aeb1b0a8cd6767b8cded311eb6185c16343d286e3541e9d98")

	selfTestMLKEMKeySeed, _ = hex.DecodeString(
		"0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef" +
			"fedcba9876543210fedcba9876543210fedcba9876543210fedcba9876543210")
	selfTestMLKEMEncapSeed = bytes.Repeat([]byte{0x5a}, 32)
)

// SelfTestDomain is the SHAKE-256 domain used by the KDF self-test.
const SelfTestDomain = "POST-KAT-TEST"

// SelfTestResult records the outcome of each self-test.
type SelfTestResult struct {
	Passed      bool
	PRFPassed   bool
	KDFPassed   bool
	AEADPassed  bool
	MLKEMPassed bool
	Errors      []string
}

var (
	selfTestResult *SelfTestResult
	selfTestOnce   sync.Once
)

// RunSelfTest executes the self-tests once and returns the cached result.
func RunSelfTest() *SelfTestResult {
	selfTestOnce.Do(func() {
		res := &SelfTestResult{Passed: true}
		check := func(name string, passed *bool, fn func() error) {
			if err := fn(); err != nil {
				res.Passed = false
				res.Errors = append(res.Errors, fmt.Sprintf("%s self-test failed: %v", name, err))
				return
			}
			*passed = true
		}
		check("PRF", &res.PRFPassed, runPRFKAT)
		check("KDF", &res.KDFPassed, runKDFKAT)
		check("AEAD", &res.AEADPassed, runAEADKAT)
		check("ML-KEM", &res.MLKEMPassed, runMLKEMKAT)
		selfTestResult = res
	})
	return selfTestResult
}

// SelfTestError returns nil when every self-test passed.
func SelfTestError() error {
	res := RunSelfTest()
	if res.Passed {
		return nil
	}
	return fmt.Errorf("crypto self-test: %v", res.Errors)
}

func runPRFKAT() error {
	out := PRF(PRFSHA256, selfTestPRFSecret, "test label", selfTestPRFSeed, len(selfTestPRFExpected))
	if !bytes.Equal(out, selfTestPRFExpected) {
		return fmt.Errorf("output mismatch: got %x", out)
	}
	return nil
}

func runKDFKAT() error {
	out, err := DeriveKey(SelfTestDomain, selfTestKDFInput, 32)
	if err != nil {
		return err
	}
	if !bytes.Equal(out, selfTestKDFExpected) {
		return fmt.Errorf("output mismatch: got %x", out)
	}
	return nil
}

func runAEADKAT() error {
	a, err := NewAEAD(AEADAES256GCM, selfTestAEADKey)
	if err != nil {
		return err
	}
	// all-zero nonce
	sealed, err := a.Seal(bytes.NewReader(make([]byte, 12)), selfTestAEADPlaintext, nil)
	if err != nil {
		return err
	}
	if !bytes.Equal(sealed[12:], selfTestAEADExpected) {
		return fmt.Errorf("ciphertext mismatch: got %x", sealed[12:])
	}
	pt, err := a.Open(sealed, nil)
	if err != nil {
		return err
	}
	if !bytes.Equal(pt, selfTestAEADPlaintext) {
		return fmt.Errorf("plaintext mismatch")
	}
	sealed[len(sealed)-1] ^= 1
	if _, err := a.Open(sealed, nil); err == nil {
		return fmt.Errorf("tampered ciphertext accepted")
	}
	return nil
}

func runMLKEMKAT() error {
	kp, err := GenerateMLKEMKeyPair(bytes.NewReader(selfTestMLKEMKeySeed))
	if err != nil {
		return err
	}
	ct, ss1, err := MLKEMEncapsulate(bytes.NewReader(selfTestMLKEMEncapSeed), kp.PublicKeyBytes())
	if err != nil {
		return err
	}
	ss2, err := kp.Decapsulate(ct)
	if err != nil {
		return err
	}
	if !bytes.Equal(ss1, ss2) {
		return fmt.Errorf("shared secret mismatch after decapsulation")
	}
	return nil
}
