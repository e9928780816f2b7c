package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type (
	NET struct {
		// Host is the address the listener is bound to. It also takes part in the Host header
		// validation, see Config.Hosts.
		Host string `yaml:"host"`
		// Port to listen on. Zero lets the OS choose one, which is mostly useful in tests.
		Port uint16 `yaml:"port" test:"nullable"`
		// Backlog is passed to listen(2) and limits the OS accept queue. It is unrelated to
		// the application-level connection queue, see Pool.QueueCapacity.
		Backlog int `yaml:"backlog"`
		// ReadBufferSize is a size of buffer in bytes which will be used to read from
		// socket.
		ReadBufferSize int `yaml:"read_buffer_size"`
		// IdleTimeout controls the maximal lifetime of IDLE connections. If no data was
		// received in this period of time, the connection is closed without any response.
		IdleTimeout time.Duration `yaml:"idle_timeout"`
		// AcceptLoopInterruptPeriod controls how often will the Accept() call be interrupted
		// in order to check whether it's time to stop.
		AcceptLoopInterruptPeriod time.Duration `yaml:"accept_loop_interrupt_period"`
		// RejectWriteTimeout bounds the write of a 503 response made by the acceptor itself.
		RejectWriteTimeout time.Duration `yaml:"reject_write_timeout"`
		// RetryAfter is advertised to rejected clients via the Retry-After header.
		RetryAfter time.Duration `yaml:"retry_after"`
		// AllowedHosts are Host header values accepted in addition to those returned by Hosts.
		AllowedHosts []string `yaml:"allowed_hosts" test:"nullable"`
	}

	Pool struct {
		// Workers is the number of connections served concurrently.
		Workers int `yaml:"workers"`
		// QueueCapacity is the number of accepted connections that may wait for a free
		// worker. Connections beyond it are rejected with 503 Service Unavailable.
		QueueCapacity int `yaml:"queue_capacity"`
	}

	HTTP struct {
		// MaxRequestsPerConn closes the connection after the given number of responses.
		MaxRequestsPerConn int `yaml:"max_requests_per_conn"`
		// MaxHeaderSize limits the request line together with the headers block.
		MaxHeaderSize int `yaml:"max_header_size"`
		// MaxBodySize limits a declared request body. Bigger bodies are rejected with
		// 400 Bad Request.
		MaxBodySize int64 `yaml:"max_body_size"`
		// KeepAliveHeader enables the Keep-Alive response header on persistent connections.
		KeepAliveHeader bool `yaml:"keep_alive_header"`
	}

	Resources struct {
		// Root is the directory static files are served from.
		Root string `yaml:"root"`
		// Index is served for the / path.
		Index string `yaml:"index"`
		// UploadDir is where uploaded JSON documents are stored. Normally it's inside Root,
		// so the documents are reachable by the paths returned to the clients.
		UploadDir string `yaml:"upload_dir"`
		// Watch enables the file metadata cache, invalidated by filesystem notifications.
		Watch bool `yaml:"watch"`
		// AttachBinary sends every non-HTML file with Content-Disposition: attachment.
		AttachBinary bool `yaml:"attach_binary"`
	}
)

// Config holds settings used across the server, mainly restrictions and limitations.
//
// You must ALWAYS modify defaults (returned via Default()) and NEVER try to initialize the
// config manually, because most likely this will result in ambiguous errors.
type Config struct {
	NET       NET       `yaml:"net"`
	Pool      Pool      `yaml:"pool"`
	HTTP      HTTP      `yaml:"http"`
	Resources Resources `yaml:"resources"`
}

// Default returns default config.
func Default() *Config {
	return &Config{
		NET: NET{
			Host:                      "127.0.0.1",
			Port:                      8080,
			Backlog:                   50,
			ReadBufferSize:            4 * 1024,
			IdleTimeout:               30 * time.Second,
			AcceptLoopInterruptPeriod: 5 * time.Second,
			RejectWriteTimeout:        1 * time.Second,
			RetryAfter:                5 * time.Second,
		},
		Pool: Pool{
			Workers:       10,
			QueueCapacity: 200,
		},
		HTTP: HTTP{
			MaxRequestsPerConn: 100,
			MaxHeaderSize:      8 * 1024,
			MaxBodySize:        1024 * 1024,
			KeepAliveHeader:    true,
		},
		Resources: Resources{
			Root:         "resources",
			Index:        "index.html",
			UploadDir:    "resources/uploads",
			Watch:        true,
			AttachBinary: true,
		},
	}
}

// Load reads a YAML document from the path on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	return cfg, cfg.Validate()
}

var (
	ErrNoHost        = errors.New("config: host must not be empty")
	ErrBadPool       = errors.New("config: workers and queue capacity must be positive")
	ErrBadLimits     = errors.New("config: http limits must be positive")
	ErrBadTimeouts   = errors.New("config: timeouts must be positive")
	ErrBadBuffers    = errors.New("config: backlog and read buffer size must be positive")
	ErrNoResourceDir = errors.New("config: resources root and upload dir must be set")
)

// Validate checks, whether the config is usable.
func (c *Config) Validate() error {
	switch {
	case len(c.NET.Host) == 0:
		return ErrNoHost
	case c.Pool.Workers <= 0 || c.Pool.QueueCapacity <= 0:
		return ErrBadPool
	case c.HTTP.MaxRequestsPerConn <= 0 || c.HTTP.MaxHeaderSize <= 0 || c.HTTP.MaxBodySize < 0:
		return ErrBadLimits
	case c.NET.IdleTimeout <= 0 || c.NET.AcceptLoopInterruptPeriod <= 0 || c.NET.RejectWriteTimeout <= 0:
		return ErrBadTimeouts
	case c.NET.Backlog <= 0 || c.NET.ReadBufferSize <= 0:
		return ErrBadBuffers
	case len(c.Resources.Root) == 0 || len(c.Resources.UploadDir) == 0 || len(c.Resources.Index) == 0:
		return ErrNoResourceDir
	}

	return nil
}

// Addr returns the address to bind to.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.NET.Host, strconv.Itoa(int(c.NET.Port)))
}

// Hosts returns all the Host header values the server identifies itself with. The port
// is passed explicitly, because it may be known only after binding.
func (c *Config) Hosts(port uint16) []string {
	p := strconv.Itoa(int(port))
	hosts := []string{net.JoinHostPort(c.NET.Host, p)}

	if isLoopback(c.NET.Host) {
		for _, alias := range []string{"localhost", "127.0.0.1"} {
			if alias != c.NET.Host {
				hosts = append(hosts, net.JoinHostPort(alias, p))
			}
		}
	}

	return append(hosts, c.NET.AllowedHosts...)
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}

	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
