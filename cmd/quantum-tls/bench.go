package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sara-star-quant/quantum-tls/pkg/handshake"
	"github.com/sara-star-quant/quantum-tls/pkg/metrics"
)

type benchOptions struct {
	handshakes  int
	concurrency int
	suite       string
	resume      bool
	dtls        bool
	metricsAddr string
}

// benchSuites is the default set: one suite per key-exchange kind.
var benchSuites = []string{
	"TLS_RSA_WITH_AES_128_GCM_SHA256",
	"TLS_DHE_RSA_WITH_AES_128_GCM_SHA256",
	"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256",
	"TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256",
	"TLS_HYBRID_ECDSA_WITH_AES_256_GCM_SHA384",
	"TLS_ECDHE_PSK_WITH_CHACHA20_POLY1305_SHA256",
}

// benchPSK is the key used for PSK suites.
const benchPSK = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type benchResult struct {
	suite     string
	total     int
	failed    int
	totalTime time.Duration
	durations []time.Duration
}

func runBench(opts benchOptions) error {
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║      Quantum-TLS Handshake Benchmark                      ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	if opts.handshakes <= 0 {
		return fmt.Errorf("--handshakes must be positive")
	}
	opts.concurrency = max(opts.concurrency, 1)

	obs, err := setupObservability(obsOptions{logLevel: "silent", logFormat: "text", tracing: "none"})
	if err != nil {
		return err
	}
	obs.serve(opts.metricsAddr)

	suites := benchSuites
	if opts.suite != "" {
		suites = []string{opts.suite}
	}
	for _, name := range suites {
		res, err := benchSuite(name, opts, obs)
		if err != nil {
			return err
		}
		printHandshakeResults(res)
		fmt.Println()
	}

	snap := obs.collector.Snapshot()
	fmt.Printf("Collector: %d started, %d completed, %d failed\n",
		snap.HandshakesStarted, snap.HandshakesCompleted, snap.HandshakesFailed)
	return nil
}

func benchSuite(name string, opts benchOptions, obs *observability) (*benchResult, error) {
	kind := "full"
	if opts.resume {
		kind = "resumed"
	}
	fmt.Printf("Benchmarking %s (%d %s handshakes, %d parallel)\n", name, opts.handshakes, kind, opts.concurrency)
	fmt.Println(strings.Repeat("─", 60))

	popts := peerOptions{suite: name, serverName: "bench.quantum-tls.test", dtls: opts.dtls, trust: true}
	if suite, err := suiteByName(name); err == nil && suite.UsesPSK() {
		popts.psk = benchPSK
	}
	p, err := buildPeers(popts)
	if err != nil {
		return nil, err
	}
	p.client.Observer = obs.observer(metrics.RoleClient, opts.dtls)
	p.server.Observer = obs.observer(metrics.RoleServer, opts.dtls)

	ctx := context.Background()
	var session *handshake.Session
	if opts.resume {
		var saved atomic.Pointer[handshake.Session]
		cfg := p.client.Clone()
		cfg.OnNewSession = saved.Store
		if _, err := pipeHandshake(ctx, cfg, p.server, nil); err != nil {
			return nil, fmt.Errorf("priming session: %w", err)
		}
		if session = saved.Load(); session == nil {
			return nil, fmt.Errorf("%s: server issued no resumable session", name)
		}
	}

	res := &benchResult{suite: name, total: opts.handshakes, durations: make([]time.Duration, opts.handshakes)}
	var failed, done atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)
	start := time.Now()
	for i := 0; i < opts.handshakes; i++ {
		g.Go(func() error {
			t := time.Now()
			cs, err := pipeHandshake(gctx, p.client, p.server, session)
			if err != nil || (opts.resume && !cs.Resumed) {
				failed.Add(1)
			} else {
				res.durations[i] = time.Since(t)
			}
			if n := done.Add(1); n%int64(max(opts.handshakes/10, 1)) == 0 {
				fmt.Printf("Progress: %d/%d (%.0f%%)\r", n, opts.handshakes, float64(n)/float64(opts.handshakes)*100)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	fmt.Println()
	res.totalTime = time.Since(start)
	res.failed = int(failed.Load())
	return res, nil
}

func printHandshakeResults(r *benchResult) {
	successful := r.total - r.failed
	fmt.Println("\nResults:")
	fmt.Printf("  Total handshakes: %d\n", r.total)
	fmt.Printf("  Successful: %d\n", successful)
	fmt.Printf("  Failed: %d\n", r.failed)
	fmt.Printf("  Total time: %v\n", r.totalTime)
	if successful == 0 {
		fmt.Println("⚠ All handshakes failed")
		return
	}

	durations := slices.DeleteFunc(slices.Clone(r.durations), func(d time.Duration) bool { return d == 0 })
	slices.Sort(durations)
	var sum time.Duration
	for _, d := range durations {
		sum += d
	}
	avg := sum / time.Duration(len(durations))

	fmt.Println()
	fmt.Println("Handshake Performance:")
	fmt.Printf("  Average: %v\n", avg)
	fmt.Printf("  Minimum: %v\n", durations[0])
	fmt.Printf("  Median: %v\n", durations[len(durations)/2])
	fmt.Printf("  p99: %v\n", durations[len(durations)*99/100])
	fmt.Printf("  Maximum: %v\n", durations[len(durations)-1])
	fmt.Printf("  Throughput: %.2f handshakes/sec\n", float64(successful)/r.totalTime.Seconds())
	fmt.Println()
	printHandshakeRating(avg)
}

func printHandshakeRating(avg time.Duration) {
	switch {
	case avg < time.Millisecond:
		fmt.Println("✓ Performance: Excellent (< 1ms avg)")
	case avg < 5*time.Millisecond:
		fmt.Println("✓ Performance: Good (< 5ms avg)")
	case avg < 20*time.Millisecond:
		fmt.Println("⚠ Performance: Acceptable (< 20ms avg)")
	default:
		fmt.Println("⚠ Performance: Slow (> 20ms avg)")
	}
}
