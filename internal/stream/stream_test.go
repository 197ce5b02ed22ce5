package stream

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	perrors "github.com/anggasct/powertrack/errors"
	"github.com/anggasct/powertrack/internal/client"
	"github.com/anggasct/powertrack/middleware/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type trackingBody struct {
	io.Reader
	closes atomic.Int32
}

func (b *trackingBody) Close() error {
	b.closes.Add(1)
	return nil
}

func newConnection(data string, opts ...Option) (*Connection, *trackingBody) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	body := &trackingBody{Reader: strings.NewReader(data)}
	return &Connection{body: body, opts: o}, body
}

func collect(t *testing.T, c *Connection) []string {
	t.Helper()
	var lines []string
	err := c.IterateLines(func(line []byte) error {
		lines = append(lines, string(line))
		return nil
	}, func() bool { return false })
	require.NoError(t, err)
	return lines
}

func TestDefaultOptions(t *testing.T) {
	opts := defaultOptions()
	assert.Equal(t, DefaultMaxLineSize, opts.maxLineSize)
	assert.Empty(t, opts.contentType)

	WithMaxLineSize(256)(opts)
	WithContentType("application/json")(opts)
	assert.Equal(t, 256, opts.maxLineSize)
	assert.Equal(t, "application/json", opts.contentType)
}

func TestIterateLinesSkipsEmpty(t *testing.T) {
	c, body := newConnection("line1\n\nline2\n")
	assert.Equal(t, []string{"line1", "line2"}, collect(t, c))
	assert.Equal(t, int32(1), body.closes.Load())
}

func TestIterateLinesCRLFKeepAlives(t *testing.T) {
	var observed []int
	c, _ := newConnection("{\"id\":1}\r\n\r\n\r\n{\"id\":2}\r\n", WithLineObserver(func(n int) {
		observed = append(observed, n)
	}))
	assert.Equal(t, []string{`{"id":1}`, `{"id":2}`}, collect(t, c))
	assert.Equal(t, []int{8, 0, 0, 8}, observed)
}

func TestIterateLinesUnterminatedLastLine(t *testing.T) {
	c, _ := newConnection("a\nb")
	assert.Equal(t, []string{"a", "b"}, collect(t, c))
}

func TestIterateLinesStopsBetweenLines(t *testing.T) {
	c, body := newConnection("one\ntwo\nthree\n")

	var lines []string
	err := c.IterateLines(func(line []byte) error {
		lines = append(lines, string(line))
		return nil
	}, func() bool { return len(lines) == 2 })

	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, lines)
	assert.Equal(t, int32(1), body.closes.Load())
}

func TestIterateLinesStopCheckedAfterEmptyLine(t *testing.T) {
	c, _ := newConnection("\n\nnever\n")

	checks := 0
	err := c.IterateLines(func(line []byte) error {
		t.Fatalf("unexpected line %q", line)
		return nil
	}, func() bool {
		checks++
		return true
	})

	require.NoError(t, err)
	assert.Equal(t, 1, checks)
}

func TestIterateLinesHandlerError(t *testing.T) {
	c, body := newConnection("one\ntwo\n")
	boom := errors.New("boom")

	err := c.IterateLines(func(line []byte) error { return boom }, nil)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int32(1), body.closes.Load())
}

func TestIterateLinesHandlerPanicReleases(t *testing.T) {
	c, body := newConnection("one\n")

	assert.Panics(t, func() {
		_ = c.IterateLines(func(line []byte) error { panic("handler bug") }, nil)
	})
	assert.Equal(t, int32(1), body.closes.Load())
}

func TestIterateLinesLineTooLong(t *testing.T) {
	c, body := newConnection(strings.Repeat("x", 64)+"\n", WithMaxLineSize(32))

	err := c.IterateLines(func(line []byte) error { return nil }, nil)
	assert.ErrorIs(t, err, bufio.ErrTooLong)
	assert.Equal(t, int32(1), body.closes.Load())
}

func TestCloseIdempotent(t *testing.T) {
	c, body := newConnection("")
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, int32(1), body.closes.Load())
}

func TestOpenStreamsIncrementally(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		user, _, _ := r.BasicAuth()
		assert.Equal(t, "acme", user)

		w.Write([]byte("first\n"))
		w.(http.Flusher).Flush()
		<-release
		w.Write([]byte("second\n"))
	}))
	defer server.Close()
	defer close(release)

	conn, err := Open(context.Background(), client.New().WithMiddleware(auth.Basic("acme", "pw")), server.URL)
	require.NoError(t, err)

	got := make(chan string, 2)
	go conn.IterateLines(func(line []byte) error {
		got <- string(line)
		return nil
	}, func() bool { return true })

	select {
	case line := <-got:
		assert.Equal(t, "first", line)
	case <-time.After(2 * time.Second):
		t.Fatal("first line was not delivered before the response completed")
	}
}

func TestOpenHTTPStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream broke", http.StatusInternalServerError)
	}))
	defer server.Close()

	conn, err := Open(context.Background(), client.New(), server.URL)
	require.Error(t, err)
	assert.Nil(t, conn)
	assert.ErrorIs(t, err, perrors.ErrHTTPStatus)
	assert.Equal(t, http.StatusInternalServerError, perrors.StatusCode(err))
}

func TestOpenConnectionError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	conn, err := Open(context.Background(), client.New(), url)
	require.Error(t, err)
	assert.Nil(t, conn)
	assert.ErrorIs(t, err, perrors.ErrConnection)
}

func TestOpenContentTypeMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte("<html>"))
	}))
	defer server.Close()

	_, err := Open(context.Background(), client.New(), server.URL, WithContentType("application/json"))
	assert.ErrorIs(t, err, perrors.ErrConnection)
}
