package uridecode

import (
	"errors"
	"strings"

	"github.com/indigo-web/harbor/internal/hexconv"
)

var ErrBadEscape = errors.New("malformed percent-encoding")

// Decode translates percent-encoded octets in the path into their true form. Every percent
// sign must be followed by exactly two hex digits. The input is returned as is if it
// contains no escapes.
func Decode(src string) (string, error) {
	i := strings.IndexByte(src, '%')
	if i == -1 {
		return src, nil
	}

	var buff strings.Builder
	buff.Grow(len(src))

	for ; i != -1; i = strings.IndexByte(src, '%') {
		if i+2 >= len(src) {
			return "", ErrBadEscape
		}

		char, ok := hexconv.Byte(src[i+1], src[i+2])
		if !ok {
			return "", ErrBadEscape
		}

		buff.WriteString(src[:i])
		buff.WriteByte(char)
		src = src[i+3:]
	}

	buff.WriteString(src)
	return buff.String(), nil
}
