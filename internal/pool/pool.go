package pool

import (
	"fmt"
	"net"
	"runtime/debug"
	"sync"

	"github.com/indigo-web/harbor/internal/queue"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
)

// Worker serves a single connection at a time. Serve owns the connection and must close it.
type Worker interface {
	Serve(conn net.Conn)
}

// WorkerFactory constructs the worker with the given ordinal number. Every worker runs
// in its own goroutine, so the worker may keep its buffers without any synchronization.
type WorkerFactory func(id int, log zerolog.Logger) Worker

// Pool is a fixed set of workers consuming connections from the queue. The number of
// connections served concurrently never exceeds the number of workers.
type Pool struct {
	queue   *queue.Queue
	size    int
	factory WorkerFactory
	active  *xsync.Counter
	served  *xsync.Counter
	panics  *xsync.Counter
	wg      sync.WaitGroup
	log     zerolog.Logger
}

func New(q *queue.Queue, size int, factory WorkerFactory, log zerolog.Logger) *Pool {
	return &Pool{
		queue:   q,
		size:    size,
		factory: factory,
		active:  xsync.NewCounter(),
		served:  xsync.NewCounter(),
		panics:  xsync.NewCounter(),
		log:     log.With().Str("component", "pool").Logger(),
	}
}

// Start spawns the workers. They exit once the queue is closed and drained.
func (p *Pool) Start() {
	p.log.Info().Int("workers", p.size).Int("queue", p.queue.Cap()).Msg("starting workers")

	for id := range p.size {
		log := p.log.With().Int("worker", id).Logger()
		worker := p.factory(id, log)

		p.wg.Add(1)
		go p.run(worker, log)
	}
}

func (p *Pool) run(worker Worker, log zerolog.Logger) {
	defer p.wg.Done()

	for {
		conn, ok := p.queue.Pop()
		if !ok {
			log.Debug().Msg("queue closed, exiting")
			return
		}

		p.active.Inc()
		p.serve(worker, conn, log)
		p.active.Dec()
		p.served.Inc()
	}
}

// serve runs the worker on the connection. A panic is contained here, so it affects only
// the connection it happened on.
func (p *Pool) serve(worker Worker, conn net.Conn, log zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Inc()
			log.Error().
				Str("remote", conn.RemoteAddr().String()).
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("connection handler panicked")
			_ = conn.Close()
		}
	}()

	worker.Serve(conn)
}

// Wait blocks until all the workers exit.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Active returns the number of connections being served right now.
func (p *Pool) Active() int64 {
	return p.active.Value()
}

// Served returns the number of connections served so far.
func (p *Pool) Served() int64 {
	return p.served.Value()
}

// Panics returns the number of connections whose handling has panicked.
func (p *Pool) Panics() int64 {
	return p.panics.Value()
}
