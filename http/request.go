package http

import (
	"github.com/indigo-web/harbor/http/method"
	"github.com/indigo-web/harbor/http/proto"
	"github.com/indigo-web/harbor/kv"
	"github.com/indigo-web/utils/strcomp"
)

type (
	Headers = *kv.Storage
	Header  = kv.Pair
)

// Request represents a fully parsed HTTP request. It's never exposed partially: the parser
// either returns a complete request or an error. All the strings are owned by the request,
// so it's safe to keep it after the connection's buffers were reused.
type Request struct {
	// Method is an enum representing the request method. Any method the server doesn't serve
	// is method.Unknown, while the original token is kept in MethodToken.
	Method      method.Method
	MethodToken string
	// Path is the raw request target as it was received. It's validated by the resolver only.
	Path string
	// Protocol is either proto.HTTP10 or proto.HTTP11.
	Protocol proto.Proto
	// Headers holds non-normalized header pairs, even though lookup is case-insensitive. For
	// repeating headers, only the first occurrence is kept.
	Headers Headers
	// Host is the value of the Host header. HasHost distinguishes an empty value from a
	// missing header.
	Host    string
	HasHost bool
	// ContentType is the value of the Content-Type header.
	ContentType string
	// ContentLength is the declared body length. It's zero if the header is missing.
	ContentLength int64
	// Body holds exactly ContentLength bytes for POST requests and is nil otherwise.
	Body []byte
}

// KeepAlive reports whether the client is ready to send more requests over the connection.
// HTTP/1.0 connections are never kept.
func (r *Request) KeepAlive() bool {
	if r.Protocol != proto.HTTP11 {
		return false
	}

	return !strcomp.EqualFold(r.Headers.Value("Connection"), "close")
}

// HasUnreadBody reports whether a body was declared, but not consumed by the parser.
func (r *Request) HasUnreadBody() bool {
	return r.ContentLength > 0 && r.Body == nil
}
