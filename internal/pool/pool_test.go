package pool

import (
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/indigo-web/harbor/internal/queue"
	"github.com/indigo-web/harbor/transport/dummy"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type workerFunc func(conn net.Conn)

func (w workerFunc) Serve(conn net.Conn) {
	w(conn)
}

func factoryOf(fn workerFunc) WorkerFactory {
	return func(int, zerolog.Logger) Worker {
		return fn
	}
}

func TestPool(t *testing.T) {
	t.Run("serves every queued connection", func(t *testing.T) {
		q := queue.New(32)
		var handled atomic.Int64
		p := New(q, 4, factoryOf(func(conn net.Conn) {
			handled.Add(1)
			_ = conn.Close()
		}), zerolog.Nop())
		p.Start()

		conns := make([]*dummy.Conn, 20)
		for i := range conns {
			conns[i] = dummy.NewConn()
			require.True(t, q.TryPush(conns[i]))
		}

		q.Close()
		p.Wait()

		require.Equal(t, int64(20), handled.Load())
		require.Equal(t, int64(20), p.Served())
		require.Zero(t, p.Active())
		for _, conn := range conns {
			require.Equal(t, 1, conn.Closed())
		}
	})

	t.Run("concurrency is bounded by the pool size", func(t *testing.T) {
		const workers = 3
		q := queue.New(16)
		var (
			current, peak, entered atomic.Int64
			release       = make(chan struct{})
			started       sync.WaitGroup
		)

		started.Add(workers)
		p := New(q, workers, factoryOf(func(conn net.Conn) {
			n := current.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}

			if entered.Add(1) <= workers {
				started.Done()
			}

			<-release
			current.Add(-1)
			_ = conn.Close()
		}), zerolog.Nop())
		p.Start()

		for range 10 {
			require.True(t, q.TryPush(dummy.NewConn()))
		}

		started.Wait()
		require.Equal(t, int64(workers), p.Active())
		require.Equal(t, 10-workers, q.Len())

		close(release)
		q.Close()
		p.Wait()

		require.Equal(t, int64(workers), peak.Load())
		require.Equal(t, int64(10), p.Served())
	})

	t.Run("panic does not kill the worker", func(t *testing.T) {
		q := queue.New(8)
		var handled atomic.Int64
		p := New(q, 1, factoryOf(func(conn net.Conn) {
			if handled.Add(1) == 1 {
				panic("boom")
			}

			_ = conn.Close()
		}), zerolog.Nop())
		p.Start()

		faulty, healthy := dummy.NewConn(), dummy.NewConn()
		require.True(t, q.TryPush(faulty))
		require.True(t, q.TryPush(healthy))
		q.Close()
		p.Wait()

		require.Equal(t, int64(2), handled.Load())
		require.Equal(t, int64(1), p.Panics())
		require.Equal(t, 1, faulty.Closed())
		require.Equal(t, 1, healthy.Closed())
	})

	t.Run("idle workers exit on close", func(t *testing.T) {
		q := queue.New(1)
		p := New(q, 5, factoryOf(func(conn net.Conn) {}), zerolog.Nop())
		p.Start()

		done := make(chan struct{})
		go func() {
			p.Wait()
			close(done)
		}()

		q.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
			require.Fail(t, "workers did not exit")
		}
	})
}
