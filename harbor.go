package harbor

import (
	"fmt"
	"net"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/indigo-web/harbor/config"
	"github.com/indigo-web/harbor/internal/pool"
	"github.com/indigo-web/harbor/internal/queue"
	"github.com/indigo-web/harbor/internal/resolver"
	httpserver "github.com/indigo-web/harbor/internal/server/http"
	"github.com/indigo-web/harbor/internal/upload"
	"github.com/indigo-web/harbor/storage/sink"
	"github.com/indigo-web/harbor/storage/static"
	"github.com/indigo-web/harbor/transport"
	"github.com/rs/zerolog"
)

type stopMode = int32

const (
	running stopMode = iota
	graceful
	immediate
)

// App serves static files and accepts JSON uploads over HTTP/1.1. Connections are served
// by a fixed pool of workers; those which don't fit into the waiting queue are turned away
// with 503 Service Unavailable.
type App struct {
	cfg   *config.Config
	log   zerolog.Logger
	hooks hooks
	queue *queue.Queue
	tcp   *transport.TCP
	mode  atomic.Int32
}

// New returns a new App instance. The config must not be modified afterwards.
func New(cfg *config.Config) *App {
	q := queue.New(cfg.Pool.QueueCapacity)

	return &App{
		cfg:   cfg,
		log:   zerolog.Nop(),
		queue: q,
		tcp:   transport.NewTCP(cfg, q, httpserver.NewRejecter(cfg), zerolog.Nop()),
	}
}

// Logger replaces the default no-op logger.
func (a *App) Logger(log zerolog.Logger) *App {
	a.log = log
	a.tcp = transport.NewTCP(a.cfg, a.queue, httpserver.NewRejecter(a.cfg), log)
	return a
}

// NotifyOnStart calls the callback at the moment, when the listener is bound and workers
// are started.
func (a *App) NotifyOnStart(cb func()) *App {
	a.hooks.OnStart = cb
	return a
}

// NotifyOnStop calls the callback at the moment, when the server is down. It's guaranteed,
// that at the moment as the callback is called, the server isn't able to accept any new
// connections and all the workers have exited.
func (a *App) NotifyOnStop(cb func()) *App {
	a.hooks.OnStop = cb
	return a
}

// Addr returns the address the server listens on. It's nil until the server is started.
func (a *App) Addr() net.Addr {
	return a.tcp.Addr()
}

// Serve starts the server and blocks until it's stopped.
func (a *App) Serve() error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}

	dir, err := static.Open(a.cfg.Resources.Root, a.cfg.Resources.Watch, a.log)
	if err != nil {
		return fmt.Errorf("harbor: %w", err)
	}
	defer dir.Close()

	store, err := sink.New(a.cfg.Resources.UploadDir, a.uploadPrefix(dir.Path()), a.log)
	if err != nil {
		return fmt.Errorf("harbor: %w", err)
	}
	defer store.Close()

	if err = a.tcp.Bind(a.cfg.Addr()); err != nil {
		return fmt.Errorf("harbor: bind: %w", err)
	}

	port := uint16(a.tcp.Addr().(*net.TCPAddr).Port)
	hosts := a.cfg.Hosts(port)
	res := resolver.New(dir, a.cfg.Resources.Index)
	up := upload.New(store, a.log)

	workers := pool.New(a.queue, a.cfg.Pool.Workers, func(_ int, log zerolog.Logger) pool.Worker {
		return httpserver.NewServer(a.cfg, hosts, res, up, log)
	}, a.log)
	workers.Start()

	a.log.Info().
		Str("addr", a.tcp.Addr().String()).
		Str("root", dir.Path()).
		Strs("hosts", hosts).
		Msg("listening")
	callIfNotNil(a.hooks.OnStart)

	err = a.tcp.Listen()
	_ = a.tcp.Close()
	a.queue.Close()

	if err != nil || a.mode.Load() != graceful {
		a.tcp.CloseConns()
	}

	workers.Wait()
	a.log.Info().
		Int64("served", workers.Served()).
		Int64("rejected", a.tcp.Rejected()).
		Msg("stopped")
	callIfNotNil(a.hooks.OnStop)

	return err
}

// uploadPrefix returns the public path of the upload directory. A directory outside the
// resources root isn't reachable, so its base name is used.
func (a *App) uploadPrefix(root string) string {
	uploads, err := filepath.Abs(a.cfg.Resources.UploadDir)
	if err == nil {
		var rel string
		rel, err = filepath.Rel(root, uploads)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "/" + filepath.ToSlash(rel)
		}
	}

	a.log.Warn().
		Str("upload_dir", a.cfg.Resources.UploadDir).
		Msg("upload directory is outside the resources root")

	return "/" + filepath.Base(uploads)
}

// GracefulStop stops accepting new connections, but lets the workers serve the already
// accepted ones till the end.
//
// NOTE: the call isn't blocking, use NotifyOnStop to learn when the server is down.
func (a *App) GracefulStop() {
	a.stop(graceful)
}

// Stop stops the server, closing every accepted connection.
//
// NOTE: the call isn't blocking, use NotifyOnStop to learn when the server is down.
func (a *App) Stop() {
	a.stop(immediate)
}

func (a *App) stop(mode stopMode) {
	a.mode.CompareAndSwap(running, mode)
	if mode == immediate {
		a.mode.Store(immediate)
	}

	a.tcp.Stop()
	_ = a.tcp.Close()

	if mode == immediate {
		// also interrupts a graceful stop in progress
		a.tcp.CloseConns()
	}
}

type hooks struct {
	OnStart, OnStop func()
}

func callIfNotNil(f func()) {
	if f != nil {
		f()
	}
}
