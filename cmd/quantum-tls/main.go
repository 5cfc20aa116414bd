package main

import (
	"flag"
	"fmt"
	"os"

	pkgversion "github.com/sara-star-quant/quantum-tls/pkg/version"
)

// Build-time variables (set via -ldflags)
var (
	version   = ""        // Set via -ldflags "-X main.version=x.y.z"
	buildTime = "unknown" // Set via -ldflags "-X main.buildTime=..."
	gitCommit = "unknown" // Set via -ldflags "-X main.gitCommit=..."
)

func getVersion() string {
	if version != "" {
		return version
	}
	return pkgversion.String()
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	switch command {
	case "demo":
		demoCommand()
	case "bench":
		benchCommand()
	case "bn":
		bnCommand()
	case "suites":
		printSuites()
	case "version":
		fmt.Printf("quantum-tls version %s\n", getVersion())
		if buildTime != "unknown" {
			fmt.Printf("Built: %s\n", buildTime)
		}
		if gitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", gitCommit)
		}
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`quantum-tls - TLS/DTLS 1.0-1.2 Handshake Demo & Benchmark Tool

USAGE:
    quantum-tls <command> [options]

COMMANDS:
    demo      Run a handshake between a client and a server
    bench     Benchmark handshakes per cipher suite
    bn        Run a big-number operation
    suites    List supported cipher suites
    version   Print version information
    help      Show this help message

Run 'quantum-tls <command> --help' for more information on a command.

EXAMPLES:
    # In-process handshake with the default suites
    quantum-tls demo --mode pipe --verbose

    # Start demo server
    quantum-tls demo --mode server --addr :8443

    # Connect demo client
    quantum-tls demo --mode client --addr localhost:8443

    # Benchmark 200 ECDHE-ECDSA handshakes, 4 at a time
    quantum-tls bench --handshakes 200 --concurrency 4 --suite TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256

    # Modular square root
    quantum-tls bn --op sqrt --a 2 --m 113`)
}

func demoCommand() {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	opts := demoOptions{}
	fs.StringVar(&opts.mode, "mode", "pipe", "Mode: pipe, server or client")
	fs.StringVar(&opts.addr, "addr", "localhost:8443", "Address to listen/connect")
	fs.StringVar(&opts.suite, "suite", "", "Restrict to one cipher suite (see 'quantum-tls suites')")
	fs.StringVar(&opts.key, "key", "ecdsa", "Server key type: ecdsa or rsa")
	fs.StringVar(&opts.psk, "psk", "", "Hex pre-shared key for PSK suites")
	fs.StringVar(&opts.serverName, "server-name", "demo.quantum-tls.test", "SNI host name")
	fs.BoolVar(&opts.dtls, "dtls", false, "Use DTLS versions (pipe mode only)")
	fs.BoolVar(&opts.resume, "resume", false, "Run a second, resumed handshake (pipe mode only)")
	fs.BoolVar(&opts.verbose, "verbose", false, "Verbose output")
	fs.StringVar(&opts.obs.addr, "obs-addr", "", "Observability server address (server mode). Empty disables")
	fs.StringVar(&opts.obs.logLevel, "log-level", "warn", "Log level: debug, info, warn, error, silent")
	fs.StringVar(&opts.obs.logFormat, "log-format", "text", "Log format: text or json")
	fs.StringVar(&opts.obs.tracing, "tracing", "none", "Tracing mode: none, simple, otel (requires -tags otel)")
	fs.StringVar(&opts.obs.events, "events", "", "Write handshake events as JSON lines to this file")

	fs.Usage = func() {
		fmt.Println(`USAGE: quantum-tls demo [options]

Run a full (and optionally resumed) handshake and print the negotiated
parameters.

OPTIONS:`)
		fs.PrintDefaults()
		fmt.Println(`
EXAMPLES:
    # Both peers in one process
    quantum-tls demo --mode pipe --resume --verbose

    # DTLS 1.2 with an RSA certificate
    quantum-tls demo --mode pipe --dtls --key rsa

    # PSK handshake
    quantum-tls demo --mode pipe --suite TLS_ECDHE_PSK_WITH_CHACHA20_POLY1305_SHA256 --psk 00112233445566778899aabbccddeeff

    # Terminal 1: Start server
    quantum-tls demo --mode server --addr :8443 --obs-addr :9090

    # Terminal 2: Connect client
    quantum-tls demo --mode client --addr localhost:8443`)
	}

	_ = fs.Parse(os.Args[2:])

	if err := runDemo(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func benchCommand() {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	opts := benchOptions{}
	fs.IntVar(&opts.handshakes, "handshakes", 100, "Number of handshakes per suite")
	fs.IntVar(&opts.concurrency, "concurrency", 1, "Handshakes run in parallel")
	fs.StringVar(&opts.suite, "suite", "", "Benchmark one cipher suite (default: a representative set)")
	fs.BoolVar(&opts.resume, "resume", false, "Benchmark abbreviated handshakes")
	fs.BoolVar(&opts.dtls, "dtls", false, "Use DTLS versions")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve /metrics and /health here while benchmarking")

	fs.Usage = func() {
		fmt.Println(`USAGE: quantum-tls bench [options]

Benchmark in-memory handshakes. Both peers run in one goroutine per
handshake so the numbers measure CPU cost only.

OPTIONS:`)
		fs.PrintDefaults()
		fmt.Println(`
EXAMPLES:
    # Representative suites, 100 handshakes each
    quantum-tls bench

    # 1000 resumed handshakes on 8 goroutines
    quantum-tls bench --handshakes 1000 --concurrency 8 --resume`)
	}

	_ = fs.Parse(os.Args[2:])

	if err := runBench(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func bnCommand() {
	fs := flag.NewFlagSet("bn", flag.ExitOnError)
	opts := bnOptions{}
	fs.StringVar(&opts.op, "op", "modexp", "Operation: modexp, sqrt, prime, isprime")
	fs.StringVar(&opts.a, "a", "", "Base or operand (decimal, or hex with 0x)")
	fs.StringVar(&opts.e, "e", "", "Exponent (modexp)")
	fs.StringVar(&opts.m, "m", "", "Modulus")
	fs.IntVar(&opts.bits, "bits", 256, "Prime size in bits (prime)")
	fs.BoolVar(&opts.safe, "safe", false, "Generate a safe prime (prime)")
	fs.BoolVar(&opts.consttime, "consttime", false, "Use constant-time exponentiation (modexp)")

	fs.Usage = func() {
		fmt.Println(`USAGE: quantum-tls bn [options]

Run one operation of the big-number engine.

OPTIONS:`)
		fs.PrintDefaults()
		fmt.Println(`
EXAMPLES:
    quantum-tls bn --op modexp --a 4 --e 13 --m 497
    quantum-tls bn --op sqrt --a 2 --m 113
    quantum-tls bn --op prime --bits 512 --safe
    quantum-tls bn --op isprime --a 0xfffffffb`)
	}

	_ = fs.Parse(os.Args[2:])

	out, err := runBN(opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(out)
}
