package dummy

import (
	"io"
	"net"
	"os"
	"sync"
	"time"
)

var _ net.Conn = new(Conn)

// Conn is a scripted net.Conn. Each Read returns the next chunk it was initialised with.
// When chunks are exhausted, reads fail either with io.EOF or, if Hang was called, with
// os.ErrDeadlineExceeded, as if the peer kept silent until the idle timeout expired.
// Everything written is accumulated and can be inspected via Written.
type Conn struct {
	mu       sync.Mutex
	chunks   [][]byte
	written  []byte
	hang     bool
	writeCap int
	closed   int
}

func NewConn(chunks ...[]byte) *Conn {
	return &Conn{chunks: chunks, writeCap: -1}
}

// Hang makes reads time out once the chunks are exhausted.
func (c *Conn) Hang() *Conn {
	c.hang = true
	return c
}

// LimitWrites makes the connection accept only n more bytes. Writes beyond it are cut short.
func (c *Conn) LimitWrites(n int) *Conn {
	c.writeCap = n
	return c
}

func (c *Conn) Read(b []byte) (n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.chunks) == 0 {
		if c.hang {
			return 0, os.ErrDeadlineExceeded
		}

		return 0, io.EOF
	}

	n = copy(b, c.chunks[0])
	if n < len(c.chunks[0]) {
		c.chunks[0] = c.chunks[0][n:]
	} else {
		c.chunks = c.chunks[1:]
	}

	return n, nil
}

func (c *Conn) Write(b []byte) (n int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeCap >= 0 && len(b) > c.writeCap {
		c.written = append(c.written, b[:c.writeCap]...)
		n, c.writeCap = c.writeCap, 0

		return n, io.ErrClosedPipe
	}

	if c.writeCap >= 0 {
		c.writeCap -= len(b)
	}

	c.written = append(c.written, b...)
	return len(b), nil
}

// Written returns everything written so far.
func (c *Conn) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]byte(nil), c.written...)
}

// Closed returns how many times Close was called.
func (c *Conn) Closed() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

func (c *Conn) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()

	return nil
}

func (c *Conn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080}
}

func (c *Conn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 54321}
}

func (c *Conn) SetDeadline(time.Time) error {
	return nil
}

func (c *Conn) SetReadDeadline(time.Time) error {
	return nil
}

func (c *Conn) SetWriteDeadline(time.Time) error {
	return nil
}
