package http

import (
	"errors"
	"testing"

	"github.com/indigo-web/harbor/http/status"
)

func BenchmarkError(b *testing.B) {
	knownErr := status.ErrBadRequest
	unknownErr := errors.New("some crap happened, unable to recover")

	b.Run("KnownError", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_ = Error(knownErr)
		}
	})

	b.Run("UnknownError", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_ = Error(unknownErr)
		}
	})
}
