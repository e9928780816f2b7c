package status

import "strconv"

type (
	Code   uint16
	Status string
)

// HTTP status codes the server may respond with.
// See: https://www.iana.org/assignments/http-status-codes/http-status-codes.xhtml
const (
	OK      Code = 200 // RFC 9110, 15.3.1
	Created Code = 201 // RFC 9110, 15.3.2

	BadRequest           Code = 400 // RFC 9110, 15.5.1
	Forbidden            Code = 403 // RFC 9110, 15.5.4
	NotFound             Code = 404 // RFC 9110, 15.5.5
	MethodNotAllowed     Code = 405 // RFC 9110, 15.5.6
	UnsupportedMediaType Code = 415 // RFC 9110, 15.5.16

	InternalServerError Code = 500 // RFC 9110, 15.6.1
	ServiceUnavailable  Code = 503 // RFC 9110, 15.6.4
)

// KnownCodes lists every code Text knows about.
var KnownCodes = []Code{
	OK, Created, BadRequest, Forbidden, NotFound, MethodNotAllowed, UnsupportedMediaType,
	InternalServerError, ServiceUnavailable,
}

// Text returns a reason phrase for the HTTP status code. It returns the empty
// string if the code is unknown.
func Text(code Code) Status {
	switch code {
	case OK:
		return "OK"
	case Created:
		return "Created"
	case BadRequest:
		return "Bad Request"
	case Forbidden:
		return "Forbidden"
	case NotFound:
		return "Not Found"
	case MethodNotAllowed:
		return "Method Not Allowed"
	case UnsupportedMediaType:
		return "Unsupported Media Type"
	case InternalServerError:
		return "Internal Server Error"
	case ServiceUnavailable:
		return "Service Unavailable"
	default:
		return ""
	}
}

// StringCode returns the code as a decimal string.
func StringCode(code Code) string {
	return strconv.Itoa(int(code))
}
