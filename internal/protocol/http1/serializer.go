package http1

import (
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/indigo-web/harbor/config"
	"github.com/indigo-web/harbor/http"
	"github.com/indigo-web/harbor/http/status"
)

const dateLayout = "Mon, 02 Jan 2006 15:04:05 GMT"

var (
	// ErrShortWrite means the peer received fewer bytes than were declared. The connection
	// is in an undefined state after it and must be closed.
	ErrShortWrite = errors.New("response body is shorter than declared")
	// ErrNoBody means a sized response without a body was written for a request other
	// than HEAD.
	ErrNoBody = errors.New("response has a declared size but no body")
)

// Serializer renders responses onto the writer. Content-Length is always present and equals
// the number of body bytes written, except for responses to HEAD requests, which declare the
// same length as the GET response would, but carry no body at all.
type Serializer struct {
	buff      []byte
	writer    io.Writer
	keepAlive string
	now       func() time.Time
}

func NewSerializer(cfg *config.Config, writer io.Writer, buff []byte) *Serializer {
	var keepAlive string
	if cfg.HTTP.KeepAliveHeader {
		keepAlive = "timeout=" + strconv.Itoa(int(cfg.NET.IdleTimeout/time.Second)) +
			", max=" + strconv.Itoa(cfg.HTTP.MaxRequestsPerConn)
	}

	return &Serializer{
		buff:      buff[:0],
		writer:    writer,
		keepAlive: keepAlive,
		now:       time.Now,
	}
}

// Write renders the response. If headOnly is set, the body is neither read nor written.
// The Connection header is chosen by keepAlive.
func (s *Serializer) Write(response *http.Response, headOnly, keepAlive bool) (err error) {
	fields := response.Expose()
	s.buff = s.buff[:0]

	if closer, ok := fields.Stream.(io.Closer); ok {
		defer func() {
			if cerr := closer.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
	}

	size := fields.Size()
	s.appendHead(fields, size, keepAlive)

	if headOnly {
		return s.flush()
	}

	if fields.Stream == nil {
		if int64(len(fields.Body)) != size {
			return ErrNoBody
		}

		s.buff = append(s.buff, fields.Body...)
		return s.flush()
	}

	if err = s.flush(); err != nil {
		return err
	}

	n, err := io.CopyN(s.writer, fields.Stream, size)
	if n != size {
		return errors.Join(ErrShortWrite, err)
	}

	return nil
}

func (s *Serializer) appendHead(fields *http.Fields, size int64, keepAlive bool) {
	s.buff = append(s.buff, "HTTP/1.1 "...)
	s.buff = strconv.AppendUint(s.buff, uint64(fields.Code), 10)
	s.buff = append(s.buff, ' ')
	s.buff = append(s.buff, status.Text(fields.Code)...)
	s.crlf()

	s.buff = append(s.buff, "Date: "...)
	s.buff = s.now().UTC().AppendFormat(s.buff, dateLayout)
	s.crlf()

	s.header("Content-Type", fields.ContentType)

	s.buff = append(s.buff, "Content-Length: "...)
	s.buff = strconv.AppendInt(s.buff, size, 10)
	s.crlf()

	if keepAlive {
		s.header("Connection", "keep-alive")
		if len(s.keepAlive) > 0 {
			s.header("Keep-Alive", s.keepAlive)
		}
	} else {
		s.header("Connection", "close")
	}

	for key, value := range fields.Headers.Pairs() {
		s.header(key, value)
	}

	s.crlf()
}

func (s *Serializer) header(key, value string) {
	s.buff = append(s.buff, key...)
	s.buff = append(s.buff, ": "...)
	s.buff = append(s.buff, value...)
	s.crlf()
}

func (s *Serializer) crlf() {
	s.buff = append(s.buff, '\r', '\n')
}

func (s *Serializer) flush() error {
	n, err := s.writer.Write(s.buff)
	if err == nil && n != len(s.buff) {
		err = io.ErrShortWrite
	}

	s.buff = s.buff[:0]
	return err
}
