package record

import (
	"bytes"
	"io"
	"sync"

	qerrors "github.com/sara-star-quant/quantum-tls/internal/errors"
)

// PipeEnd is one side of an in-memory byte stream. Reads on an empty pipe
// return ErrWouldBlock instead of blocking, so both handshake peers can be
// driven from a single goroutine.
type PipeEnd struct {
	mu     *sync.Mutex
	in     *bytes.Buffer
	out    *bytes.Buffer
	closed *bool
}

// Pipe returns the two ends of a non-blocking in-memory stream.
func Pipe() (*PipeEnd, *PipeEnd) {
	mu := &sync.Mutex{}
	closed := new(bool)
	a, b := &bytes.Buffer{}, &bytes.Buffer{}
	return &PipeEnd{mu: mu, in: a, out: b, closed: closed},
		&PipeEnd{mu: mu, in: b, out: a, closed: closed}
}

func (p *PipeEnd) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.in.Len() == 0 {
		if *p.closed {
			return 0, io.EOF
		}
		return 0, qerrors.ErrWouldBlock
	}
	return p.in.Read(buf)
}

func (p *PipeEnd) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if *p.closed {
		return 0, io.ErrClosedPipe
	}
	return p.out.Write(buf)
}

// Buffered returns the number of bytes waiting to be read by this end.
func (p *PipeEnd) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.in.Len()
}

// Close closes both directions. Buffered data can still be read.
func (p *PipeEnd) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	*p.closed = true
	return nil
}
