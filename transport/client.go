package transport

import (
	"errors"
	"net"
	"os"
	"time"
)

type Client interface {
	Read() ([]byte, error)
	Pushback([]byte)
	Pending() []byte
	Write([]byte) (int, error)
	Conn() net.Conn
	Remote() net.Addr
	Close() error
}

type client struct {
	conn    net.Conn
	buff    []byte
	pending []byte
	timeout time.Duration
	// err is delivered by the read following the one that returned data together with it
	err    error
	closed bool
}

func NewClient(conn net.Conn, timeout time.Duration, buff []byte) Client {
	return &client{
		buff:    buff,
		conn:    conn,
		timeout: timeout,
	}
}

// Read reads data into the internal buffer and returns a piece of it back. Every read is
// bounded by the idle timeout, so a peer sending nothing is disconnected with os.ErrDeadlineExceeded.
// Data is never returned together with an error: if the connection delivers both at once,
// the error is returned by the next call.
func (c *client) Read() ([]byte, error) {
	if len(c.pending) > 0 {
		pending := c.pending
		c.pending = nil

		return pending, nil
	}

	if c.err != nil {
		return nil, c.err
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, err
	}

	n, err := c.conn.Read(c.buff)
	if err != nil && n > 0 {
		c.err = err
		err = nil
	}

	return c.buff[:n], err
}

// Pending returns data (if any) preserved via Pushback.
func (c *client) Pending() []byte {
	return c.pending
}

// Pushback preserves a chunk of data from previous read for the next read.
func (c *client) Pushback(b []byte) {
	c.pending = b
}

// Conn unwraps the underlying net.Conn.
func (c *client) Conn() net.Conn {
	return c.conn
}

// Write writes data into the underlying connection. A short write is always reported as
// an error.
func (c *client) Write(b []byte) (int, error) {
	return c.conn.Write(b)
}

// Remote returns the remote address of the connection.
func (c *client) Remote() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the connection. Subsequent calls are no-op.
func (c *client) Close() error {
	if c.closed {
		return nil
	}

	c.closed = true
	return c.conn.Close()
}

// IsTimeout reports whether the error was caused by an expired deadline.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
