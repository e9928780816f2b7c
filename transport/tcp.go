package transport

import (
	"errors"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/indigo-web/harbor/config"
	"github.com/indigo-web/harbor/internal/queue"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
)

var ErrNotBound = errors.New("transport: listener is not bound")

type listener interface {
	net.Listener
	SetDeadline(t time.Time) error
}

// Rejecter answers a connection which could not be admitted. It must not block for long,
// as it's called by the accept loop itself.
type Rejecter interface {
	Reject(conn net.Conn) error
}

// TCP is the acceptor. Every accepted connection is either enqueued for the worker pool
// or, if the queue is full, rejected right away, so the accept loop never waits for a
// free worker.
type TCP struct {
	cfg      *config.Config
	mu       sync.Mutex
	l        listener
	queue    *queue.Queue
	rejecter Rejecter
	conns    *xsync.MapOf[net.Conn, struct{}]
	accepted *xsync.Counter
	rejected *xsync.Counter
	stop     *atomic.Bool
	log      zerolog.Logger
}

func NewTCP(cfg *config.Config, q *queue.Queue, rejecter Rejecter, log zerolog.Logger) *TCP {
	return &TCP{
		cfg:      cfg,
		queue:    q,
		rejecter: rejecter,
		conns:    xsync.NewMapOf[net.Conn, struct{}](xsync.WithPresize(q.Cap())),
		accepted: xsync.NewCounter(),
		rejected: xsync.NewCounter(),
		stop:     new(atomic.Bool),
		log:      log.With().Str("component", "acceptor").Logger(),
	}
}

// Bind opens the listening socket with the configured backlog.
func (t *TCP) Bind(addr string) error {
	l, err := listen(addr, t.cfg.NET.Backlog)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.l = l
	t.mu.Unlock()

	return nil
}

// Addr returns the address the listener is bound to.
func (t *TCP) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.l == nil {
		return nil
	}

	return t.l.Addr()
}

// Listen runs the accept loop until Stop is called.
func (t *TCP) Listen() error {
	t.mu.Lock()
	l := t.l
	t.mu.Unlock()

	if l == nil {
		return ErrNotBound
	}

	for !t.stop.Load() {
		err := l.SetDeadline(time.Now().Add(t.cfg.NET.AcceptLoopInterruptPeriod))
		if err != nil {
			if t.stop.Load() {
				return nil
			}

			return err
		}

		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) || t.stop.Load() {
				continue
			}

			t.log.Error().Err(err).Msg("accept failed")
			return err
		}

		t.accepted.Inc()
		t.admit(conn)
	}

	return nil
}

func (t *TCP) admit(conn net.Conn) {
	tracked := t.track(conn)
	if t.queue.TryPush(tracked) {
		return
	}

	t.rejected.Inc()
	t.log.Warn().
		Str("remote", conn.RemoteAddr().String()).
		Int("queued", t.queue.Len()).
		Msg("queue is full, rejecting")

	if err := t.rejecter.Reject(conn); err != nil {
		t.log.Debug().Err(err).Msg("cannot write the rejection")
	}

	_ = tracked.Close()
}

func (t *TCP) track(conn net.Conn) net.Conn {
	c := &trackedConn{Conn: conn, conns: t.conns}
	t.conns.Store(c, struct{}{})
	return c
}

// Stop interrupts the accept loop. It takes effect in at most AcceptLoopInterruptPeriod,
// or immediately if the listener is closed afterwards.
func (t *TCP) Stop() {
	t.stop.Store(true)
}

// Close closes the listener.
func (t *TCP) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.l == nil {
		return nil
	}

	return t.l.Close()
}

// CloseConns closes every admitted connection that is still alive, both queued and being
// served.
func (t *TCP) CloseConns() {
	t.conns.Range(func(conn net.Conn, _ struct{}) bool {
		_ = conn.Close()
		return true
	})
}

// Live returns the number of admitted connections not closed yet.
func (t *TCP) Live() int {
	return t.conns.Size()
}

// Accepted returns the number of connections accepted so far, including rejected ones.
func (t *TCP) Accepted() int64 {
	return t.accepted.Value()
}

// Rejected returns the number of connections rejected due to the full queue.
func (t *TCP) Rejected() int64 {
	return t.rejected.Value()
}

// trackedConn forgets itself once closed. Close is safe to call from different goroutines
// and more than once.
type trackedConn struct {
	net.Conn
	conns *xsync.MapOf[net.Conn, struct{}]
	once  sync.Once
	err   error
}

func (c *trackedConn) Close() error {
	c.once.Do(func() {
		c.conns.Delete(c)
		c.err = c.Conn.Close()
	})

	return c.err
}
