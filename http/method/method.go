package method

type Method uint8

const (
	Unknown Method = iota
	GET
	HEAD
	POST
)

// List contains all the supported HTTP methods.
var List = []Method{GET, HEAD, POST}

// Parse returns Unknown for any method the server doesn't serve, including well-known ones
// like PUT or DELETE.
func Parse(str string) Method {
	switch str {
	case "GET":
		return GET
	case "HEAD":
		return HEAD
	case "POST":
		return POST
	}

	return Unknown
}

func (m Method) String() string {
	switch m {
	case GET:
		return "GET"
	case HEAD:
		return "HEAD"
	case POST:
		return "POST"
	default:
		return "UNKNOWN"
	}
}
