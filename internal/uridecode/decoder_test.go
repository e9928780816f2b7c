package uridecode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Run("no escaping", func(t *testing.T) {
		decoded, err := Decode("/hello")
		require.NoError(t, err)
		require.Equal(t, "/hello", decoded)
	})

	t.Run("corners", func(t *testing.T) {
		decoded, err := Decode("%2fhello%2F")
		require.NoError(t, err)
		require.Equal(t, "/hello/", decoded)
	})

	t.Run("multiple consecutive", func(t *testing.T) {
		decoded, err := Decode("%2f%20hello")
		require.NoError(t, err)
		require.Equal(t, "/ hello", decoded)
	})

	t.Run("decoded only once", func(t *testing.T) {
		decoded, err := Decode("/%252e%252e")
		require.NoError(t, err)
		require.Equal(t, "/%2e%2e", decoded)
	})

	t.Run("malformed", func(t *testing.T) {
		for _, str := range []string{"%2", "%", "/a%", "%zz", "%2g", "/%%41"} {
			_, err := Decode(str)
			require.ErrorIs(t, err, ErrBadEscape, str)
		}
	})
}

func BenchmarkDecode(b *testing.B) {
	bench := func(b *testing.B, segment string) {
		str := "/" + strings.Repeat(segment, 4095/len(segment))
		b.SetBytes(int64(len(str)))
		b.ResetTimer()

		for range b.N {
			_, _ = Decode(str)
		}
	}

	b.Run("unescaped", func(b *testing.B) {
		bench(b, "abcdefghij")
	})

	b.Run("escaped", func(b *testing.B) {
		bench(b, "%5faaaaaaa")
	})
}
