package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sara-star-quant/quantum-tls/internal/constants"
	"github.com/sara-star-quant/quantum-tls/pkg/handshake"
	"github.com/sara-star-quant/quantum-tls/pkg/metrics"
	"github.com/sara-star-quant/quantum-tls/pkg/record"
)

const (
	// maxPipeRounds bounds how often each in-memory peer is stepped.
	maxPipeRounds = 256

	// netPollInterval is the read deadline used over TCP so that a
	// cancelled context is noticed between retries.
	netPollInterval = 250 * time.Millisecond
)

var errStalled = errors.New("handshake made no progress")

type demoOptions struct {
	mode       string
	addr       string
	suite      string
	key        string
	psk        string
	serverName string
	dtls       bool
	resume     bool
	verbose    bool
	obs        obsOptions
}

func runDemo(opts demoOptions) error {
	obs, err := setupObservability(opts.obs)
	if err != nil {
		return err
	}
	defer func() { _ = obs.Close() }()

	if opts.dtls && opts.mode != "pipe" {
		return fmt.Errorf("--dtls needs a datagram transport; use --mode pipe")
	}

	p, err := buildPeers(peerOptions{
		suite:      opts.suite,
		key:        opts.key,
		psk:        opts.psk,
		serverName: opts.serverName,
		dtls:       opts.dtls,
		trust:      opts.mode == "pipe",
	})
	if err != nil {
		return err
	}
	p.client.Observer = obs.observer(metrics.RoleClient, opts.dtls)
	p.server.Observer = obs.observer(metrics.RoleServer, opts.dtls)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch opts.mode {
	case "pipe":
		return runDemoPipe(ctx, p, opts)
	case "server":
		obs.serve(opts.obs.addr)
		return runDemoServer(ctx, p, opts)
	case "client":
		return runDemoClient(ctx, p, opts)
	default:
		return fmt.Errorf("invalid mode: %s (use pipe, server or client)", opts.mode)
	}
}

func printBanner(title string) {
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║      %-53s║\n", title)
	fmt.Println("║      TLS 1.0-1.2 / DTLS 1.0-1.2 handshake                 ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
}

func runDemoPipe(ctx context.Context, p *peers, opts demoOptions) error {
	printBanner("Quantum-TLS In-Process Demo")

	var mu sync.Mutex
	var saved *handshake.Session
	p.client.OnNewSession = func(s *handshake.Session) {
		mu.Lock()
		saved = s
		mu.Unlock()
	}

	cs, err := pipeHandshake(ctx, p.client, p.server, nil)
	if err != nil {
		return err
	}
	fmt.Println("✓ Full handshake complete")
	printConnectionState(cs, opts.verbose)

	if !opts.resume {
		return nil
	}
	mu.Lock()
	session := saved
	mu.Unlock()
	if session == nil {
		return fmt.Errorf("server issued no resumable session")
	}

	fmt.Println()
	cs, err = pipeHandshake(ctx, p.client, p.server, session)
	if err != nil {
		return err
	}
	if cs.Resumed {
		fmt.Println("✓ Session resumed")
	} else {
		fmt.Println("⚠ Resumption declined, full handshake performed")
	}
	printConnectionState(cs, opts.verbose)
	return nil
}

// pipeHandshake runs a client and a server against each other in memory
// and returns the client's view of the connection.
func pipeHandshake(ctx context.Context, ccfg, scfg *handshake.Config, session *handshake.Session) (handshake.ConnectionState, error) {
	a, b := record.Pipe()
	rcfg := record.DefaultConfig()
	rcfg.DTLS = ccfg.DTLS

	client, err := handshake.NewClient(ccfg, record.New(a, rcfg))
	if err != nil {
		return handshake.ConnectionState{}, err
	}
	if session != nil {
		if err := client.SetSession(session); err != nil {
			return handshake.ConnectionState{}, err
		}
	}
	server, err := handshake.NewServer(scfg, record.New(b, rcfg))
	if err != nil {
		return handshake.ConnectionState{}, err
	}
	server.SetPeerAddress([]byte("pipe"))

	if err := drivePair(ctx, client, server); err != nil {
		return handshake.ConnectionState{}, err
	}
	return client.ConnectionState(), nil
}

// drivePair steps both peers until each has finished or failed.
func drivePair(ctx context.Context, client *handshake.Client, server *handshake.Server) error {
	var clientErr, serverErr error
	clientDone, serverDone := false, false
	for i := 0; i < maxPipeRounds && !(clientDone && serverDone); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !clientDone {
			if err := client.Handshake(ctx); !handshake.IsRetry(err) {
				clientErr, clientDone = err, true
			}
		}
		if !serverDone {
			if err := server.Handshake(ctx); !handshake.IsRetry(err) {
				serverErr, serverDone = err, true
			}
		}
	}
	if !clientDone || !serverDone {
		return errStalled
	}
	if clientErr != nil {
		clientErr = fmt.Errorf("client: %w", clientErr)
	}
	if serverErr != nil {
		serverErr = fmt.Errorf("server: %w", serverErr)
	}
	return errors.Join(clientErr, serverErr)
}

// handshaker is implemented by both handshake.Client and handshake.Server.
type handshaker interface {
	Handshake(ctx context.Context) error
	ConnectionState() handshake.ConnectionState
}

// blockingHandshake retries h until it completes, fails or ctx is done.
func blockingHandshake(ctx context.Context, h handshaker) error {
	for {
		err := h.Handshake(ctx)
		if !handshake.IsRetry(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func runDemoServer(ctx context.Context, p *peers, opts demoOptions) error {
	printBanner("Quantum-TLS Demo Server")

	fmt.Printf("Starting server on %s...\n", opts.addr)
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", opts.addr)
	if err != nil {
		return fmt.Errorf("failed to start listener: %w", err)
	}
	defer func() { _ = listener.Close() }()
	go func() {
		<-ctx.Done()
		fmt.Println("\n\nShutting down server...")
		_ = listener.Close()
	}()

	fmt.Printf("✓ Server listening on %s\n", listener.Addr())
	fmt.Println("Waiting for connections... (Press Ctrl+C to stop)")
	fmt.Println()

	var wg sync.WaitGroup
	defer wg.Wait()

	for connectionNum := 1; ; connectionNum++ {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(os.Stderr, "Accept error: %v\n", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			handleConnection(ctx, conn, connectionNum, p.server, opts.verbose)
		}()
	}
}

func handleConnection(ctx context.Context, conn net.Conn, connNum int, cfg *handshake.Config, verbose bool) {
	rl := record.New(conn, record.Config{ReadTimeout: netPollInterval, WriteTimeout: time.Second})
	defer func() { _ = rl.Close() }()

	stamp := func() string { return time.Now().Format("15:04:05") }

	server, err := handshake.NewServer(cfg, rl)
	if err != nil {
		fmt.Printf("[%s] [Conn #%d] Setup error: %v\n", stamp(), connNum, err)
		return
	}
	start := time.Now()
	if err := blockingHandshake(ctx, server); err != nil {
		fmt.Printf("[%s] [Conn #%d] Handshake failed: %v\n", stamp(), connNum, err)
		return
	}
	fmt.Printf("[%s] ✓ Connection #%d from %s: handshake in %v\n", stamp(), connNum, conn.RemoteAddr(), time.Since(start))
	printConnectionState(server.ConnectionState(), verbose)
}

func runDemoClient(ctx context.Context, p *peers, opts demoOptions) error {
	printBanner("Quantum-TLS Demo Client")

	fmt.Printf("Connecting to %s...\n", opts.addr)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", opts.addr)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	rl := record.New(conn, record.Config{ReadTimeout: netPollInterval, WriteTimeout: time.Second})
	defer func() { _ = rl.Close() }()

	client, err := handshake.NewClient(p.client, rl)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := blockingHandshake(ctx, client); err != nil {
		return fmt.Errorf("handshake failed: %w", err)
	}
	fmt.Printf("✓ Handshake complete in %v\n", time.Since(start))
	printConnectionState(client.ConnectionState(), opts.verbose)

	if opts.verbose {
		stats := rl.Stats()
		fmt.Println()
		fmt.Println("Record Statistics:")
		fmt.Printf("  Records sent: %d\n", stats.RecordsOut)
		fmt.Printf("  Records received: %d\n", stats.RecordsIn)
		fmt.Printf("  Bytes sent: %d\n", stats.BytesOut)
		fmt.Printf("  Bytes received: %d\n", stats.BytesIn)
	}
	return nil
}

func printConnectionState(cs handshake.ConnectionState, verbose bool) {
	suite := fmt.Sprintf("%04x", cs.CipherSuite)
	if s, ok := handshake.CipherSuiteByID(cs.CipherSuite); ok {
		suite = s.Name
	}
	fmt.Printf("  Version: %s\n", constants.VersionName(cs.Version))
	fmt.Printf("  Cipher Suite: %s\n", suite)
	if !verbose {
		return
	}
	fmt.Printf("  Resumed: %t\n", cs.Resumed)
	fmt.Printf("  Extended Master Secret: %t\n", cs.ExtendedMasterSecret)
	if cs.ServerName != "" {
		fmt.Printf("  Server Name: %s\n", cs.ServerName)
	}
	if cs.NegotiatedProtocol != "" {
		fmt.Printf("  Protocol: %s\n", cs.NegotiatedProtocol)
	}
	if cs.PSKIdentity != "" {
		fmt.Printf("  PSK Identity: %s\n", cs.PSKIdentity)
	}
	if len(cs.PeerCertificates) > 0 {
		fmt.Printf("  Peer Certificates: %d\n", len(cs.PeerCertificates))
	}
	if cs.Session != nil && len(cs.Session.ID) > 0 {
		n := min(len(cs.Session.ID), 8)
		fmt.Printf("  Session ID: %x...\n", cs.Session.ID[:n])
	}
	if cs.Session != nil && len(cs.Session.Ticket) > 0 {
		fmt.Printf("  Session Ticket: %d bytes\n", len(cs.Session.Ticket))
	}
	fmt.Println("  " + strings.Repeat("─", 40))
}
