// Package quantumtls implements the TLS 1.0-1.2 and DTLS 1.0/1.2 handshake
// as two resumable state machines, together with the big-number engine and
// key exchanges they run on.
//
// The handshake never blocks on I/O or on application callbacks. Each call
// to Handshake advances the state machine as far as it can and returns a
// retryable error when it has to wait for the peer, a certificate lookup, a
// private-key operation or a session lookup. Calling Handshake again resumes
// from the same state.
//
// # Quick Start
//
// Run a handshake over any byte stream:
//
//	import (
//		"github.com/sara-star-quant/quantum-tls/pkg/handshake"
//		"github.com/sara-star-quant/quantum-tls/pkg/record"
//	)
//
//	cfg := handshake.DefaultConfig()
//	cfg.ServerName = "example.com"
//	client, _ := handshake.NewClient(cfg, record.New(conn, record.DefaultConfig()))
//	for {
//		err := client.Handshake(ctx)
//		if !handshake.IsRetry(err) {
//			break
//		}
//	}
//	state := client.ConnectionState()
//
// Modular arithmetic on arbitrary-size integers:
//
//	import "github.com/sara-star-quant/quantum-tls/pkg/bn"
//
//	z := bn.New()
//	_ = z.ModExp(base, exponent, modulus)
//	_ = z.ModSqrt(a, p)
//
// # Package Structure
//
//   - pkg/handshake: client and server state machines, sessions, tickets,
//     cipher suites and the collaborator interfaces
//   - pkg/record: a handshake.RecordLayer over io.ReadWriter for TLS and DTLS
//   - pkg/protocol: handshake message encoding and decoding
//   - pkg/kex: DHE, ECDHE, hybrid X25519+ML-KEM-768 and PSK key exchanges
//   - pkg/bn: arbitrary-precision integers, Montgomery exponentiation,
//     square roots and primality
//   - pkg/crypto: PRF, key schedule, ECDH, ML-KEM and AEAD primitives
//   - pkg/metrics: Prometheus metrics, tracing, logging and health checks
//   - internal/constants: wire constants and limits
//   - internal/errors: error values and alert-carrying errors
//
// # Security Properties
//
//   - Every fatal error sends exactly one alert, then the connection stays
//     failed
//   - RSA key exchange is resistant to padding oracles: malformed
//     premasters are replaced by random bytes in constant time
//   - Extended master secret and secure renegotiation signalling are on by
//     default
//   - Session tickets are sealed with AES-256-GCM or ChaCha20-Poly1305 under
//     rotating keys
//   - Hybrid suites stay secure if either X25519 or ML-KEM-768 does
//
// # Testing
//
//	go test ./...                                          # All tests
//	go test -fuzz=FuzzRecordLayer ./test/fuzz/             # Fuzz tests
//	go test -run TestKAT ./pkg/crypto                      # Known Answer Tests
//	go test -bench=. ./test/benchmark                      # Benchmarks
//
// # References
//
//   - RFC 5246: The Transport Layer Security (TLS) Protocol Version 1.2
//   - RFC 6347: Datagram Transport Layer Security Version 1.2
//   - RFC 7627: TLS Session Hash and Extended Master Secret Extension
//   - RFC 5077: TLS Session Resumption without Server-Side State
//   - NIST FIPS 203: Module-Lattice-Based Key-Encapsulation Mechanism Standard
package quantumtls
