package http1

import (
	"bytes"
	"strings"

	"github.com/indigo-web/harbor/config"
	"github.com/indigo-web/harbor/http"
	"github.com/indigo-web/harbor/http/method"
	"github.com/indigo-web/harbor/http/proto"
	"github.com/indigo-web/harbor/http/status"
	"github.com/indigo-web/harbor/internal/httpchars"
	"github.com/indigo-web/harbor/kv"
	"github.com/indigo-web/utils/strcomp"
	"github.com/indigo-web/utils/uf"
)

type parserState uint8

const (
	eLeadingCRLF parserState = iota + 1
	eHead
)

var headTerminator = []byte("\r\n\r\n")

// Parser is a stream-based parser of requests heads. Data may arrive split at any point,
// the parser accumulates it until the empty line terminating the headers block is met.
// The accumulated head is then tokenized strictly: any ambiguity results in an error instead
// of best-effort tolerance.
//
// The parser never reads a body. Once Parse returns a request, its ContentLength tells how
// many bytes of the returned extra (and probably further reads) belong to it, see ReadBody.
type Parser struct {
	cfg   *config.Config
	state parserState
	head  []byte
	// skipped counts empty lines before the request line, they count towards the head size
	skipped int
}

func NewParser(cfg *config.Config) *Parser {
	return &Parser{
		cfg:   cfg,
		state: eLeadingCRLF,
		head:  make([]byte, 0, min(cfg.HTTP.MaxHeaderSize, cfg.NET.ReadBufferSize)),
	}
}

// Parse feeds the data into the parser. A nil request together with a nil error means more
// data is needed. Otherwise the request is complete and extra contains the bytes following
// the head. A returned error is always a status.HTTPError and the connection must not be
// reused after it.
func (p *Parser) Parse(data []byte) (request *http.Request, extra []byte, err error) {
	switch p.state {
	case eLeadingCRLF:
		goto leadingCRLF
	case eHead:
		goto head
	default:
		panic("BUG: unexpected parser state")
	}

leadingCRLF:
	// RFC 9112, 2.2: a server SHOULD ignore at least one empty line received prior to the
	// request-line.
	for len(data) > 0 && (data[0] == '\r' || data[0] == '\n') {
		data = data[1:]
		p.skipped++
	}

	if p.skipped > p.cfg.HTTP.MaxHeaderSize {
		p.Reset()
		return nil, nil, status.ErrHeaderFieldsTooLarge
	}

	if len(data) == 0 {
		return nil, nil, nil
	}

	p.state = eHead
	// fallthrough to head

head:
	{
		// the terminator might be split between the previous chunk and the current one
		offset := max(len(p.head)-len(headTerminator)+1, 0)
		prevLen := len(p.head)
		p.head = append(p.head, data...)

		boundary := bytes.Index(p.head[offset:], headTerminator)
		if boundary == -1 {
			if p.skipped+len(p.head) > p.cfg.HTTP.MaxHeaderSize {
				return nil, nil, p.oversize()
			}

			return nil, nil, nil
		}

		headLen := offset + boundary + len(headTerminator)
		if p.skipped+headLen > p.cfg.HTTP.MaxHeaderSize {
			return nil, nil, p.oversize()
		}

		extra = data[headLen-prevLen:]
		request, err = parseHead(string(p.head[:headLen-len(headTerminator)]))
		p.Reset()

		return request, extra, err
	}
}

// Started reports whether some bytes of a request head were already consumed.
func (p *Parser) Started() bool {
	return p.state != eLeadingCRLF
}

// Reset drops the partially consumed head, if any.
func (p *Parser) Reset() {
	p.head = p.head[:0]
	p.skipped = 0
	p.state = eLeadingCRLF
}

// oversize reports a too large head. A malformed request line is still reported as such,
// if it's complete, as its syntax is checked prior to the head size.
func (p *Parser) oversize() error {
	defer p.Reset()

	if crlf := bytes.Index(p.head, []byte("\r\n")); crlf != -1 {
		if _, err := parseRequestLine(string(p.head[:crlf])); err != nil {
			return err
		}
	}

	return status.ErrHeaderFieldsTooLarge
}

func parseHead(head string) (*http.Request, error) {
	line, fields, _ := strings.Cut(head, "\r\n")

	request, err := parseRequestLine(line)
	if err != nil {
		return nil, err
	}

	request.Headers = kv.NewPrealloc(strings.Count(fields, "\r\n") + 1)
	seenContentLength := false

	for len(fields) > 0 {
		line, fields, _ = strings.Cut(fields, "\r\n")

		key, value, err := parseField(line)
		if err != nil {
			return nil, err
		}

		switch {
		case strcomp.EqualFold(key, "content-length"):
			length, ok := parseContentLength(value)
			if !ok || (seenContentLength && length != request.ContentLength) {
				return nil, status.ErrBadContentLength
			}

			seenContentLength = true
			request.ContentLength = length
		case strcomp.EqualFold(key, "transfer-encoding"):
			return nil, status.ErrBadEncoding
		case strcomp.EqualFold(key, "host"):
			if !request.HasHost {
				request.Host, request.HasHost = value, true
			}
		case strcomp.EqualFold(key, "content-type"):
			if !request.Headers.Has(key) {
				request.ContentType = value
			}
		}

		request.Headers.Add(key, value)
	}

	return request, nil
}

// parseRequestLine accepts exactly three parts separated by single spaces.
func parseRequestLine(line string) (*http.Request, error) {
	methodToken, rest, found := strings.Cut(line, " ")
	if !found || !httpchars.IsToken(methodToken) {
		return nil, status.ErrBadRequestLine
	}

	target, version, found := strings.Cut(rest, " ")
	if !found || !httpchars.IsTarget(target) || target[0] != '/' ||
		strings.IndexByte(target, '#') != -1 {
		return nil, status.ErrBadRequestLine
	}

	protocol := proto.FromBytes(uf.S2B(version))
	if protocol == proto.Unknown {
		return nil, status.ErrBadRequestLine
	}

	return &http.Request{
		Method:      method.Parse(methodToken),
		MethodToken: methodToken,
		Path:        target,
		Protocol:    protocol,
	}, nil
}

func parseField(line string) (key, value string, err error) {
	if len(line) == 0 || line[0] == ' ' || line[0] == '\t' {
		// empty lines can't occur here, and leading whitespace is an obsolete line folding
		return "", "", status.ErrBadHeader
	}

	key, value, found := strings.Cut(line, ":")
	// whitespaces between the key and the colon are also rejected by the token check
	if !found || !httpchars.IsToken(key) {
		return "", "", status.ErrBadHeader
	}

	value = strings.Trim(value, " \t")
	if !httpchars.IsFieldValue(value) {
		return "", "", status.ErrBadHeader
	}

	return key, value, nil
}

func parseContentLength(value string) (length int64, ok bool) {
	if len(value) == 0 || len(value) > 18 {
		return 0, false
	}

	for i := 0; i < len(value); i++ {
		char := value[i]
		if char < '0' || char > '9' {
			return 0, false
		}

		length = length*10 + int64(char-'0')
	}

	return length, true
}
