package status

type HTTPError struct {
	Message string
	Code    Code
}

func NewError(code Code, message string) error {
	return HTTPError{
		Code:    code,
		Message: message,
	}
}

func (h HTTPError) Error() string {
	return h.Message
}

var (
	ErrBadRequest           = NewError(BadRequest, "bad request")
	ErrBadRequestLine       = NewError(BadRequest, "malformed request line")
	ErrBadHeader            = NewError(BadRequest, "malformed header field")
	ErrBadContentLength     = NewError(BadRequest, "malformed content length")
	ErrBadEncoding          = NewError(BadRequest, "transfer encodings are not supported")
	ErrHeaderFieldsTooLarge = NewError(BadRequest, "too large headers section")
	ErrBodyTooLarge         = NewError(BadRequest, "request body is too large")
	ErrMissingHost          = NewError(BadRequest, "missing host header")
	ErrInvalidJSON          = NewError(BadRequest, "invalid JSON")
	ErrUploadFailed         = NewError(BadRequest, "failed to store the upload")
	ErrHostMismatch         = NewError(Forbidden, "host mismatch")
	ErrForbidden            = NewError(Forbidden, "forbidden")
	ErrNotFound             = NewError(NotFound, "not found")
	ErrMethodNotAllowed     = NewError(MethodNotAllowed, "method not allowed")
	ErrUnsupportedMediaType = NewError(UnsupportedMediaType, "unsupported media type")
	ErrInternalServerError  = NewError(InternalServerError, "internal server error")
	ErrServiceUnavailable   = NewError(ServiceUnavailable, "service unavailable")
)
