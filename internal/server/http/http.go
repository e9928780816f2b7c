package http

import (
	"errors"
	"fmt"
	"io/fs"
	stdmime "mime"
	"net"
	"path"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/indigo-web/harbor/config"
	"github.com/indigo-web/harbor/http"
	"github.com/indigo-web/harbor/http/method"
	"github.com/indigo-web/harbor/http/mime"
	"github.com/indigo-web/harbor/http/status"
	"github.com/indigo-web/harbor/internal/protocol/http1"
	"github.com/indigo-web/harbor/internal/resolver"
	"github.com/indigo-web/harbor/internal/upload"
	"github.com/indigo-web/harbor/transport"
	"github.com/indigo-web/utils/strcomp"
	"github.com/rs/zerolog"
)

// Server runs the connection sessions of a single worker. Sessions are run one after
// another, so the parser and the buffers are reused without synchronization.
type Server struct {
	cfg       *config.Config
	hosts     []string
	resolver  *resolver.Resolver
	upload    *upload.Handler
	parser    *http1.Parser
	readBuff  []byte
	writeBuff []byte
	log       zerolog.Logger
}

func NewServer(
	cfg *config.Config, hosts []string, res *resolver.Resolver, up *upload.Handler, log zerolog.Logger,
) *Server {
	return &Server{
		cfg:       cfg,
		hosts:     hosts,
		resolver:  res,
		upload:    up,
		parser:    http1.NewParser(cfg),
		readBuff:  make([]byte, cfg.NET.ReadBufferSize),
		writeBuff: make([]byte, 0, cfg.NET.ReadBufferSize),
		log:       log.With().Str("component", "session").Logger(),
	}
}

// session is the state of a single connection.
type session struct {
	client       transport.Client
	serializer   *http1.Serializer
	log          zerolog.Logger
	request      *http.Request
	response     *http.Response
	served       int
	lastActivity time.Time
}

// Serve runs the session over the connection until either side decides to close it. The
// connection is always closed exactly once on return, whatever happened during the session.
func (s *Server) Serve(conn net.Conn) {
	client := transport.NewClient(conn, s.cfg.NET.IdleTimeout, s.readBuff)
	sess := &session{
		client:     client,
		serializer: http1.NewSerializer(s.cfg, client, s.writeBuff),
		log: s.log.With().
			Str("conn", uuid.NewString()).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
		lastActivity: time.Now(),
	}

	s.parser.Reset()
	sess.log.Debug().Msg("connection opened")

	defer func() {
		if r := recover(); r != nil {
			sess.log.Error().
				Str("panic", fmt.Sprint(r)).
				Bytes("stack", debug.Stack()).
				Msg("session panicked")
		}

		_ = client.Close()
		sess.log.Debug().
			Int("served", sess.served).
			Dur("idle", time.Since(sess.lastActivity)).
			Msg("connection closed")
	}()

	for state := eAwaitRequest; state != eClosed; {
		state = s.step(sess, state)
	}
}

func (s *Server) step(sess *session, state sessionState) sessionState {
	switch state {
	case eAwaitRequest, eParsing:
		return s.read(sess, state)
	case eDispatching:
		return s.dispatch(sess)
	case eResponding:
		return s.respond(sess)
	default:
		panic(fmt.Sprintf("BUG: unexpected session state: %s", state))
	}
}

// read feeds the parser with more data. Neither an idle timeout nor a disconnect is
// answered, no matter whether a request was partially received.
func (s *Server) read(sess *session, state sessionState) sessionState {
	data, err := sess.client.Read()
	if err != nil {
		if transport.IsTimeout(err) {
			sess.log.Debug().Stringer("state", state).Msg("idle timeout")
		}

		return eClosed
	}

	sess.lastActivity = time.Now()

	request, extra, err := s.parser.Parse(data)
	switch {
	case err != nil:
		sess.response = http.Error(err).Close()
		return eResponding
	case request == nil:
		if s.parser.Started() {
			return eParsing
		}

		return eAwaitRequest
	}

	if len(extra) > 0 {
		sess.client.Pushback(extra)
	}

	sess.request = request
	return eDispatching
}

// dispatch validates the request in the fixed order: Host presence and match, method,
// then the checks made by the resource resolver or the upload handler.
func (s *Server) dispatch(sess *session) sessionState {
	request := sess.request

	switch {
	case !request.HasHost:
		sess.response = http.Error(status.ErrMissingHost).Close()
		return eResponding
	case !s.hostAllowed(request.Host):
		sess.response = http.Error(status.ErrHostMismatch).Close()
		return eResponding
	}

	switch request.Method {
	case method.GET, method.HEAD:
		sess.response = s.static(sess, request)
	case method.POST:
		return s.post(sess, request)
	default:
		sess.response = http.Error(status.ErrMethodNotAllowed).Close()
	}

	return eResponding
}

func (s *Server) hostAllowed(host string) bool {
	for _, allowed := range s.hosts {
		if strcomp.EqualFold(host, allowed) {
			return true
		}
	}

	return false
}

func (s *Server) static(sess *session, request *http.Request) *http.Response {
	resource, err := s.resolver.Resolve(request.Path)
	if err != nil {
		return http.Error(err)
	}

	response := http.NewResponse().ContentType(resource.ContentType)
	if s.cfg.Resources.AttachBinary && resource.ContentType != mime.HTML {
		disposition := stdmime.FormatMediaType("attachment", map[string]string{
			"filename": path.Base(resource.Path.Name()),
		})
		if len(disposition) > 0 {
			response.Header("Content-Disposition", disposition)
		}
	}

	if request.Method == method.HEAD {
		return response.Sized(resource.Size)
	}

	file, err := s.resolver.Open(resource)
	if err != nil {
		sess.log.Warn().Err(err).Str("path", resource.Path.Name()).Msg("cannot open resolved file")
		if errors.Is(err, fs.ErrNotExist) {
			return http.Error(status.ErrNotFound)
		}

		return http.Error(status.ErrInternalServerError)
	}

	return response.Stream(file, resource.Size)
}

func (s *Server) post(sess *session, request *http.Request) sessionState {
	target, _, _ := strings.Cut(request.Path, "?")
	if target != upload.Path {
		sess.response = http.Error(status.ErrNotFound)
		return eResponding
	}

	if err := http1.ReadBody(sess.client, request, s.cfg.HTTP.MaxBodySize); err != nil {
		var httpErr status.HTTPError
		if errors.As(err, &httpErr) {
			sess.response = http.Error(err).Close()
			return eResponding
		}

		// the peer either went away or stopped sending in the middle of the body
		sess.log.Debug().Err(err).Msg("cannot read request body")
		return eClosed
	}

	response, err := s.upload.Handle(request)
	if err != nil {
		response = http.Error(err)
	}

	sess.response = response
	return eResponding
}

// respond writes the response and decides whether the connection lives on.
func (s *Server) respond(sess *session) sessionState {
	request, response := sess.request, sess.response
	sess.request, sess.response = nil, nil
	sess.served++

	fields := response.Expose()
	keepAlive := request != nil &&
		!fields.Close &&
		request.KeepAlive() &&
		!request.HasUnreadBody() &&
		sess.served < s.cfg.HTTP.MaxRequestsPerConn

	headOnly := request != nil && request.Method == method.HEAD
	err := sess.serializer.Write(response, headOnly, keepAlive)

	event := sess.log.Debug().
		Uint16("status", uint16(fields.Code)).
		Int64("bytes", fields.Size()).
		Bool("keep_alive", keepAlive)
	if request != nil {
		event = event.Str("method", request.MethodToken).Str("path", request.Path)
	}
	event.Err(err).Msg("request served")

	if err != nil || !keepAlive {
		return eClosed
	}

	return eAwaitRequest
}
