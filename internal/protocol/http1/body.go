package http1

import (
	"github.com/indigo-web/harbor/http"
	"github.com/indigo-web/harbor/http/status"
	"github.com/indigo-web/harbor/transport"
)

// ReadBody reads exactly request.ContentLength bytes from the client into request.Body. The
// bytes following the head must be pushed back into the client beforehand. Everything read
// beyond the body is pushed back again, as it belongs to the next request.
//
// Declared lengths above maxSize are rejected with status.ErrBodyTooLarge before anything is
// read. Any other error comes from the client itself.
func ReadBody(client transport.Client, request *http.Request, maxSize int64) error {
	length := request.ContentLength
	if length > maxSize {
		return status.ErrBodyTooLarge
	}

	body := make([]byte, 0, length)

	for int64(len(body)) < length {
		data, err := client.Read()
		if err != nil {
			return err
		}

		n := min(int64(len(data)), length-int64(len(body)))
		body = append(body, data[:n]...)

		if rest := data[n:]; len(rest) > 0 {
			client.Pushback(rest)
		}
	}

	request.Body = body
	return nil
}
