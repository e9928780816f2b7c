package http

import (
	"bufio"
	"bytes"
	"io"
	stdhttp "net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/indigo-web/harbor/config"
	"github.com/indigo-web/harbor/internal/resolver"
	"github.com/indigo-web/harbor/internal/upload"
	"github.com/indigo-web/harbor/storage/sink"
	"github.com/indigo-web/harbor/storage/static"
	"github.com/indigo-web/harbor/transport/dummy"
	json "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	indexHTML = "<html><body>harbor</body></html>"
	notesTXT  = "some notes"
	host      = "Host: 127.0.0.1:8080\r\n"
)

type testbed struct {
	server *Server
	static *static.Dir
}

func newTestbed(t *testing.T, cfg *config.Config) testbed {
	root := t.TempDir()
	files := map[string]string{
		"index.html":    indexHTML,
		"notes.txt":     notesTXT,
		"img/logo.png":  "\x89PNG\r\n\x1a\n",
		"style.css":     "body{}",
		"docs/read.txt": "read me",
	}
	for name, content := range files {
		full := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}

	dir, err := static.Open(root, false, zerolog.Nop())
	require.NoError(t, err)
	store, err := sink.New(filepath.Join(root, "uploads"), "/uploads", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = dir.Close()
		_ = store.Close()
	})

	server := NewServer(
		cfg, cfg.Hosts(8080),
		resolver.New(dir, cfg.Resources.Index),
		upload.New(store, zerolog.Nop()),
		zerolog.Nop(),
	)

	return testbed{server: server, static: dir}
}

func newConfig() *config.Config {
	cfg := config.Default()
	cfg.NET.Port = 8080
	return cfg
}

type exchange struct {
	Method string
	Resp   *stdhttp.Response
	Body   string
}

// readResponses parses every response written onto the connection. Methods are required
// to tell responses to HEAD apart.
func readResponses(t *testing.T, data []byte, methods ...string) (exchanges []exchange) {
	reader := bufio.NewReader(bytes.NewReader(data))

	for _, m := range methods {
		if _, err := reader.Peek(1); err != nil {
			break
		}

		resp, err := stdhttp.ReadResponse(reader, &stdhttp.Request{Method: m})
		require.NoError(t, err)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		exchanges = append(exchanges, exchange{Method: m, Resp: resp, Body: string(body)})
	}

	rest, _ := io.ReadAll(reader)
	require.Empty(t, rest, "unexpected trailing bytes")

	return exchanges
}

func serve(server *Server, conn *dummy.Conn) *dummy.Conn {
	server.Serve(conn)
	return conn
}

func TestServer_Static(t *testing.T) {
	tb := newTestbed(t, newConfig())

	t.Run("pipelined keep-alive", func(t *testing.T) {
		raw := "GET / HTTP/1.1\r\n" + host + "\r\n" +
			"GET /notes.txt?x=1 HTTP/1.1\r\n" + host + "\r\n"
		conn := serve(tb.server, dummy.NewConn([]byte(raw)))

		responses := readResponses(t, conn.Written(), "GET", "GET")
		require.Len(t, responses, 2)
		require.Equal(t, stdhttp.StatusOK, responses[0].Resp.StatusCode)
		require.Equal(t, indexHTML, responses[0].Body)
		require.Equal(t, "text/html; charset=utf-8", responses[0].Resp.Header.Get("Content-Type"))
		require.Empty(t, responses[0].Resp.Header.Get("Content-Disposition"))
		require.False(t, responses[0].Resp.Close)
		require.Equal(t, notesTXT, responses[1].Body)
		require.Equal(t, `attachment; filename=notes.txt`, responses[1].Resp.Header.Get("Content-Disposition"))
		require.Equal(t, 1, conn.Closed())
	})

	t.Run("byte by byte", func(t *testing.T) {
		raw := "\r\nGET /img/logo.png HTTP/1.1\r\n" + host + "\r\n"
		var chunks [][]byte
		for i := range len(raw) {
			chunks = append(chunks, []byte{raw[i]})
		}

		conn := serve(tb.server, dummy.NewConn(chunks...))
		responses := readResponses(t, conn.Written(), "GET")
		require.Len(t, responses, 1)
		require.Equal(t, "image/png", responses[0].Resp.Header.Get("Content-Type"))
		require.Equal(t, int64(8), responses[0].Resp.ContentLength)
	})

	t.Run("head", func(t *testing.T) {
		raw := "HEAD /notes.txt HTTP/1.1\r\n" + host + "\r\n" +
			"GET /notes.txt HTTP/1.1\r\n" + host + "\r\n"
		conn := serve(tb.server, dummy.NewConn([]byte(raw)))

		responses := readResponses(t, conn.Written(), "HEAD", "GET")
		require.Len(t, responses, 2)
		require.Equal(t, int64(len(notesTXT)), responses[0].Resp.ContentLength)
		require.Empty(t, responses[0].Body)
		require.Equal(t, notesTXT, responses[1].Body)
	})

	t.Run("resource errors keep the connection", func(t *testing.T) {
		targets := []string{"/../etc/passwd", "/missing.txt", "/style.css", "/docs", "/%2e%2e/notes.txt"}
		codes := []int{403, 404, 415, 403, 403}

		var raw strings.Builder
		methods := make([]string, 0, len(targets)+1)
		for _, target := range targets {
			raw.WriteString("GET " + target + " HTTP/1.1\r\n" + host + "\r\n")
			methods = append(methods, "GET")
		}
		raw.WriteString("GET /docs/read.txt HTTP/1.1\r\n" + host + "\r\n")
		methods = append(methods, "GET")

		conn := serve(tb.server, dummy.NewConn([]byte(raw.String())))
		responses := readResponses(t, conn.Written(), methods...)
		require.Len(t, responses, len(methods))

		for i, code := range codes {
			require.Equal(t, code, responses[i].Resp.StatusCode, targets[i])
			require.False(t, responses[i].Resp.Close)
			require.Equal(t, "text/plain; charset=utf-8", responses[i].Resp.Header.Get("Content-Type"))
			require.True(t, strings.HasPrefix(responses[i].Body, responses[i].Resp.Status[:3]))
		}

		require.Equal(t, "read me", responses[len(codes)].Body)
	})
}

func TestServer_Persistence(t *testing.T) {
	t.Run("max requests per connection", func(t *testing.T) {
		cfg := newConfig()
		cfg.HTTP.MaxRequestsPerConn = 3
		tb := newTestbed(t, cfg)

		raw := strings.Repeat("GET / HTTP/1.1\r\n"+host+"\r\n", 5)
		conn := serve(tb.server, dummy.NewConn([]byte(raw)))

		responses := readResponses(t, conn.Written(), "GET", "GET", "GET", "GET", "GET")
		require.Len(t, responses, 3)
		for _, r := range responses[:2] {
			require.False(t, r.Resp.Close)
			require.Equal(t, "timeout=30, max=3", r.Resp.Header.Get("Keep-Alive"))
		}
		require.True(t, responses[2].Resp.Close)
		require.Equal(t, 1, conn.Closed())
	})

	t.Run("connection close", func(t *testing.T) {
		tb := newTestbed(t, newConfig())
		raw := "GET / HTTP/1.1\r\n" + host + "Connection: close\r\n\r\n" +
			"GET / HTTP/1.1\r\n" + host + "\r\n"
		conn := serve(tb.server, dummy.NewConn([]byte(raw)))

		responses := readResponses(t, conn.Written(), "GET", "GET")
		require.Len(t, responses, 1)
		require.True(t, responses[0].Resp.Close)
	})

	t.Run("http/1.0", func(t *testing.T) {
		tb := newTestbed(t, newConfig())
		raw := "GET / HTTP/1.0\r\n" + host + "\r\n" +
			"GET / HTTP/1.0\r\n" + host + "\r\n"
		conn := serve(tb.server, dummy.NewConn([]byte(raw)))

		responses := readResponses(t, conn.Written(), "GET", "GET")
		require.Len(t, responses, 1)
		require.True(t, responses[0].Resp.Close)
	})

	t.Run("idle timeout", func(t *testing.T) {
		tb := newTestbed(t, newConfig())
		conn := serve(tb.server, dummy.NewConn().Hang())
		require.Empty(t, conn.Written())
		require.Equal(t, 1, conn.Closed())
	})

	t.Run("timeout mid-request", func(t *testing.T) {
		tb := newTestbed(t, newConfig())
		conn := serve(tb.server, dummy.NewConn([]byte("GET / HTTP/1.1\r\nHo")).Hang())
		require.Empty(t, conn.Written())
		require.Equal(t, 1, conn.Closed())
	})

	t.Run("timeout after served request", func(t *testing.T) {
		tb := newTestbed(t, newConfig())
		conn := serve(tb.server, dummy.NewConn([]byte("GET / HTTP/1.1\r\n"+host+"\r\n")).Hang())
		require.Len(t, readResponses(t, conn.Written(), "GET"), 1)
		require.Equal(t, 1, conn.Closed())
	})

	t.Run("unread body closes", func(t *testing.T) {
		tb := newTestbed(t, newConfig())
		raw := "GET / HTTP/1.1\r\n" + host + "Content-Length: 5\r\n\r\nhello" +
			"GET / HTTP/1.1\r\n" + host + "\r\n"
		conn := serve(tb.server, dummy.NewConn([]byte(raw)))

		responses := readResponses(t, conn.Written(), "GET", "GET")
		require.Len(t, responses, 1)
		require.Equal(t, stdhttp.StatusOK, responses[0].Resp.StatusCode)
		require.True(t, responses[0].Resp.Close)
	})
}

func TestServer_ProtocolErrors(t *testing.T) {
	tb := newTestbed(t, newConfig())
	next := "GET / HTTP/1.1\r\n" + host + "\r\n"

	for _, tc := range []struct {
		Name string
		Raw  string
		Code int
	}{
		{"missing host", "GET / HTTP/1.1\r\n\r\n", 400},
		{"host mismatch", "GET / HTTP/1.1\r\nHost: example.com\r\n\r\n", 403},
		{"wrong port", "GET / HTTP/1.1\r\nHost: 127.0.0.1:9090\r\n\r\n", 403},
		{"unsupported method", "DELETE / HTTP/1.1\r\n" + host + "\r\n", 405},
		{"mismatch beats method", "DELETE / HTTP/1.1\r\nHost: example.com\r\n\r\n", 403},
		{"missing host beats method", "PUT / HTTP/1.1\r\n\r\n", 400},
		{"malformed request line", "GET /  HTTP/1.1\r\n" + host + "\r\n", 400},
		{"unknown protocol", "GET / HTTP/2.0\r\n" + host + "\r\n", 400},
		{"obs-fold", "GET / HTTP/1.1\r\n" + host + "X: a\r\n b\r\n\r\n", 400},
		{"bare lf", "GET / HTTP/1.1\n" + host + "\r\n", 400},
		{"transfer encoding", "POST /upload HTTP/1.1\r\n" + host + "Transfer-Encoding: chunked\r\n\r\n", 400},
		{"header too large", "GET / HTTP/1.1\r\n" + host + "X: " + strings.Repeat("a", 9000) + "\r\n\r\n", 400},
		{"body too large", "POST /upload HTTP/1.1\r\n" + host + "Content-Type: application/json\r\nContent-Length: 2000000\r\n\r\n{}", 400},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			conn := serve(tb.server, dummy.NewConn([]byte(tc.Raw+next)))
			responses := readResponses(t, conn.Written(), "GET", "GET")
			require.Len(t, responses, 1)
			require.Equal(t, tc.Code, responses[0].Resp.StatusCode)
			require.True(t, responses[0].Resp.Close)
			require.Equal(t, 1, conn.Closed())
		})
	}

	t.Run("localhost alias", func(t *testing.T) {
		conn := serve(tb.server, dummy.NewConn([]byte("GET / HTTP/1.1\r\nHost: LocalHost:8080\r\n\r\n")))
		responses := readResponses(t, conn.Written(), "GET")
		require.Equal(t, stdhttp.StatusOK, responses[0].Resp.StatusCode)
	})
}

func TestServer_Upload(t *testing.T) {
	tb := newTestbed(t, newConfig())

	post := func(contentType, body string) string {
		return "POST /upload HTTP/1.1\r\n" + host +
			"Content-Type: " + contentType + "\r\n" +
			"Content-Length: " + strconv.Itoa(len(body)) + "\r\n\r\n" + body
	}

	t.Run("round trip", func(t *testing.T) {
		doc := `{"hello": "world", "n": [1, 2, 3]}`
		raw := post("application/json", doc)
		// the body arrives partially together with the head
		split := strings.Index(raw, "\r\n\r\n") + 4
		conn := serve(tb.server, dummy.NewConn([]byte(raw[:split+3]), []byte(raw[split+3:])))

		responses := readResponses(t, conn.Written(), "POST")
		require.Len(t, responses, 1)
		require.Equal(t, stdhttp.StatusCreated, responses[0].Resp.StatusCode)
		require.Equal(t, "application/json", responses[0].Resp.Header.Get("Content-Type"))

		var result struct {
			Status   string `json:"status"`
			Message  string `json:"message"`
			Filepath string `json:"filepath"`
		}
		require.NoError(t, json.Unmarshal([]byte(responses[0].Body), &result))
		require.Equal(t, "success", result.Status)
		require.Equal(t, "File created successfully", result.Message)
		require.Regexp(t, `^/uploads/upload_\d{8}_\d{6}_[a-z0-9]{8}\.json$`, result.Filepath)

		stored, err := tb.static.Read(strings.TrimPrefix(result.Filepath, "/"))
		require.NoError(t, err)
		require.Equal(t, doc, string(stored))
	})

	t.Run("errors keep the connection", func(t *testing.T) {
		raw := post("text/plain", `{}`) +
			post("application/json", `{"broken": `) +
			"POST /elsewhere HTTP/1.1\r\n" + host + "\r\n" +
			post("application/json; charset=utf-8", `[1, 2]`)
		conn := serve(tb.server, dummy.NewConn([]byte(raw)))

		responses := readResponses(t, conn.Written(), "POST", "POST", "POST", "POST")
		require.Len(t, responses, 4)
		require.Equal(t, 415, responses[0].Resp.StatusCode)
		require.Equal(t, 400, responses[1].Resp.StatusCode)
		require.Equal(t, 404, responses[2].Resp.StatusCode)
		require.Equal(t, 201, responses[3].Resp.StatusCode)
		for _, r := range responses[:3] {
			require.False(t, r.Resp.Close)
		}
	})

	t.Run("body cut by the peer", func(t *testing.T) {
		raw := post("application/json", `{"a": 1}`)
		conn := serve(tb.server, dummy.NewConn([]byte(raw[:len(raw)-3])))
		require.Empty(t, conn.Written())
		require.Equal(t, 1, conn.Closed())
	})
}

func TestServer_Faults(t *testing.T) {
	t.Run("panic is contained", func(t *testing.T) {
		cfg := newConfig()
		server := NewServer(cfg, cfg.Hosts(8080), nil, nil, zerolog.Nop())
		conn := dummy.NewConn([]byte("GET / HTTP/1.1\r\n" + host + "\r\n"))

		require.NotPanics(t, func() {
			server.Serve(conn)
		})
		require.Equal(t, 1, conn.Closed())
	})

	t.Run("short write closes", func(t *testing.T) {
		tb := newTestbed(t, newConfig())
		raw := strings.Repeat("GET / HTTP/1.1\r\n"+host+"\r\n", 2)
		conn := serve(tb.server, dummy.NewConn([]byte(raw)).LimitWrites(10))
		require.Len(t, conn.Written(), 10)
		require.Equal(t, 1, conn.Closed())
	})

	t.Run("server is reusable", func(t *testing.T) {
		tb := newTestbed(t, newConfig())
		// a partial head must not leak into the next connection
		_ = serve(tb.server, dummy.NewConn([]byte("GET /notes.txt HTTP/1.1\r\n")))
		conn := serve(tb.server, dummy.NewConn([]byte("GET / HTTP/1.1\r\n"+host+"\r\n")))
		responses := readResponses(t, conn.Written(), "GET")
		require.Equal(t, indexHTML, responses[0].Body)
	})
}
