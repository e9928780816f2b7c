package http

import (
	"errors"
	"io"

	"github.com/indigo-web/harbor/http/mime"
	"github.com/indigo-web/harbor/http/status"
	"github.com/indigo-web/harbor/kv"
	json "github.com/json-iterator/go"
)

// Fields are the raw response attributes consumed by the serializer.
type Fields struct {
	Code        status.Code
	ContentType mime.MIME
	// Headers are sent in addition to Content-Type, Content-Length, Connection and Date.
	Headers *kv.Storage
	// Body is used when Stream is nil.
	Body []byte
	// Stream is copied onto the connection and closed afterwards, if it implements io.Closer.
	// StreamSize must be exact. A nil Stream with a positive StreamSize is allowed for
	// responses to HEAD requests only.
	Stream     io.Reader
	StreamSize int64
	// Close forces the connection to be closed once the response is written.
	Close bool
}

// Size returns the value of the Content-Length header.
func (f *Fields) Size() int64 {
	if f.Stream != nil || f.StreamSize > 0 {
		return f.StreamSize
	}

	return int64(len(f.Body))
}

type Response struct {
	fields Fields
}

func NewResponse() *Response {
	return &Response{
		fields: Fields{
			Code:        status.OK,
			ContentType: mime.Plain,
			Headers:     kv.New(),
		},
	}
}

// Code sets a response code.
func (r *Response) Code(code status.Code) *Response {
	r.fields.Code = code
	return r
}

// ContentType sets a custom Content-Type header value.
func (r *Response) ContentType(value mime.MIME) *Response {
	r.fields.ContentType = value
	return r
}

// Header sets an additional header. Content-Type, Content-Length, Connection and Date are
// managed by the serializer and must not be set here.
func (r *Response) Header(key, value string) *Response {
	r.fields.Headers.Set(key, value)
	return r
}

// String sets the response body.
func (r *Response) String(body string) *Response {
	return r.Bytes([]byte(body))
}

// Bytes sets the response body.
func (r *Response) Bytes(body []byte) *Response {
	r.fields.Body = body
	return r
}

// Stream sets a body which is read only when the response is being written. The size must
// match the number of bytes the reader produces exactly.
func (r *Response) Stream(reader io.Reader, size int64) *Response {
	r.fields.Stream = reader
	r.fields.StreamSize = size
	return r
}

// Sized declares the body length without providing the body itself. Used for responses to
// HEAD requests, so nothing must be read.
func (r *Response) Sized(size int64) *Response {
	r.fields.StreamSize = size
	return r
}

// TryJSON marshals the model into the body and sets the JSON content type.
func (r *Response) TryJSON(model any) (*Response, error) {
	body, err := json.ConfigCompatibleWithStandardLibrary.Marshal(model)
	if err != nil {
		return r, err
	}

	return r.ContentType(mime.JSON).Bytes(body), nil
}

// Close makes the connection be closed after the response is written.
func (r *Response) Close() *Response {
	r.fields.Close = true
	return r
}

// Expose gives access to the raw fields.
func (r *Response) Expose() *Fields {
	return &r.fields
}

// Error returns a plain-text response describing the error. The code is taken from
// status.HTTPError, any other error results in 500 Internal Server Error.
func Error(err error) *Response {
	code := status.InternalServerError

	var httpErr status.HTTPError
	if errors.As(err, &httpErr) {
		code = httpErr.Code
	}

	return NewResponse().
		Code(code).
		String(status.StringCode(code) + " " + string(status.Text(code)))
}
