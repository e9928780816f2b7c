package http

import (
	"net"
	"strconv"
	"time"

	"github.com/indigo-web/harbor/config"
	"github.com/indigo-web/harbor/http"
	"github.com/indigo-web/harbor/http/status"
	"github.com/indigo-web/harbor/internal/protocol/http1"
)

// Rejecter answers connections the server has no capacity for with 503 Service Unavailable.
// It's used by the accept loop only, so the buffer isn't synchronized.
type Rejecter struct {
	cfg        *config.Config
	retryAfter string
	buff       []byte
}

func NewRejecter(cfg *config.Config) *Rejecter {
	return &Rejecter{
		cfg:        cfg,
		retryAfter: strconv.Itoa(int(cfg.NET.RetryAfter / time.Second)),
		buff:       make([]byte, 0, 256),
	}
}

// Reject writes the response within RejectWriteTimeout. The connection is left open.
func (r *Rejecter) Reject(conn net.Conn) error {
	if err := conn.SetWriteDeadline(time.Now().Add(r.cfg.NET.RejectWriteTimeout)); err != nil {
		return err
	}

	response := http.Error(status.ErrServiceUnavailable).Header("Retry-After", r.retryAfter)
	return http1.NewSerializer(r.cfg, conn, r.buff).Write(response, false, false)
}
