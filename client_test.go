package powertrack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/anggasct/powertrack/config"
	perrors "github.com/anggasct/powertrack/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUser = "acme"
	testPass = "s3cret"
)

type recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *recorder) handle(line []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, string(line))
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// gnipServer serves body to requests carrying the test credentials.
func gnipServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, _ := r.BasicAuth(); user != testUser || pass != testPass {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

// tickingServer keeps the stream open, writing an activity then a keep-alive
// every interval.
func tickingServer(t *testing.T, interval time.Duration) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; ; i++ {
			if _, err := fmt.Fprintf(w, "{\"id\":%d}\r\n\r\n", i); err != nil {
				return
			}
			flusher.Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(interval):
			}
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newClient(t *testing.T, url string, handler LineHandler, opts ...Option) *StreamingClient {
	t.Helper()
	opts = append([]Option{WithURL(url), WithAuth(testUser, testPass)}, opts...)
	c, err := New(handler, opts...)
	require.NoError(t, err)
	return c
}

func TestDeliversNonEmptyLinesInOrder(t *testing.T) {
	server := gnipServer(t, "line1\n\nline2\n")
	rec := &recorder{}
	c := newClient(t, server.URL, rec.handle)

	require.NoError(t, c.Connect(context.Background()))
	running, err := c.Wait(Forever)
	require.NoError(t, err)
	assert.False(t, running)

	assert.Equal(t, []string{"line1", "line2"}, rec.snapshot())
	assert.Equal(t, ReasonEnded, c.Reason())
	assert.NoError(t, c.Err())
}

func TestKeepAlivesAreSkipped(t *testing.T) {
	server := gnipServer(t, "\r\n{\"a\":1}\r\n\r\n\r\n{\"b\":2}\r\n")
	rec := &recorder{}
	c := newClient(t, server.URL, rec.handle)

	require.NoError(t, c.Connect(context.Background()))
	_, err := c.Wait(Forever)
	require.NoError(t, err)

	assert.Equal(t, []string{`{"a":1}`, `{"b":2}`}, rec.snapshot())
}

func TestHTTPErrorFinishesWithoutCallingHandler(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	var calls atomic.Int32
	c := newClient(t, server.URL, func([]byte) error {
		calls.Add(1)
		return nil
	})

	require.NoError(t, c.Connect(context.Background()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		running, err := c.Wait(Forever)
		assert.NoError(t, err)
		assert.False(t, running)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Wait did not return after HTTP 500")
	}

	assert.Zero(t, calls.Load())
	assert.Equal(t, ReasonFailed, c.Reason())
	assert.Equal(t, http.StatusInternalServerError, perrors.StatusCode(c.Err()))
}

func TestBadCredentialsFail(t *testing.T) {
	server := gnipServer(t, "line1\n")
	c, err := New(func([]byte) error { return nil }, WithURL(server.URL), WithAuth(testUser, "wrong"))
	require.NoError(t, err)

	require.NoError(t, c.Connect(context.Background()))
	_, err = c.Wait(Forever)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, perrors.StatusCode(c.Err()))
	assert.True(t, perrors.IsFatal(c.Err()))
}

func TestNotConnected(t *testing.T) {
	c := newClient(t, "http://127.0.0.1:1/stream.json", func([]byte) error { return nil })

	running, err := c.Disconnect(time.Second)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, running)

	_, err = c.Wait(0)
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.Equal(t, ReasonNone, c.Reason())
	assert.NoError(t, c.Err())
	assert.Nil(t, c.Done())
}

func TestConnectIsNotReentrant(t *testing.T) {
	server := gnipServer(t, "line1\n")
	c := newClient(t, server.URL, func([]byte) error { return nil })

	require.NoError(t, c.Connect(context.Background()))
	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnected)

	_, err := c.Wait(Forever)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnected)

	_, err = c.Disconnect(Forever)
	require.NoError(t, err)
	assert.ErrorIs(t, c.Connect(context.Background()), ErrAlreadyConnected)
}

func TestConcurrentConnectHasOneWinner(t *testing.T) {
	server := tickingServer(t, 5*time.Millisecond)
	c := newClient(t, server.URL, func([]byte) error { return nil })

	const n = 16
	var wg sync.WaitGroup
	var won, lost atomic.Int32
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			switch err := c.Connect(context.Background()); {
			case err == nil:
				won.Add(1)
			case errors.Is(err, ErrAlreadyConnected):
				lost.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(n-1), lost.Load())

	running, err := c.Disconnect(Forever)
	require.NoError(t, err)
	assert.False(t, running)
}

func TestDisconnectStopsStream(t *testing.T) {
	server := tickingServer(t, 5*time.Millisecond)
	rec := &recorder{}
	c := newClient(t, server.URL, rec.handle)

	require.NoError(t, c.Connect(context.Background()))
	require.Eventually(t, func() bool { return len(rec.snapshot()) >= 3 }, 5*time.Second, 5*time.Millisecond)

	running, err := c.Disconnect(Forever)
	require.NoError(t, err)
	assert.False(t, running)
	assert.Equal(t, ReasonStopped, c.Reason())
	assert.NoError(t, c.Err())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done not closed after Disconnect")
	}

	delivered := len(rec.snapshot())
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, delivered, len(rec.snapshot()))
}

func TestWaitTimeoutLeavesStreamRunning(t *testing.T) {
	server := tickingServer(t, 5*time.Millisecond)
	rec := &recorder{}
	c := newClient(t, server.URL, rec.handle)

	require.NoError(t, c.Connect(context.Background()))

	running, err := c.Wait(20 * time.Millisecond)
	require.NoError(t, err)
	assert.True(t, running)

	running, err = c.Wait(0)
	require.NoError(t, err)
	assert.True(t, running)

	seen := len(rec.snapshot())
	require.Eventually(t, func() bool { return len(rec.snapshot()) > seen }, 5*time.Second, 5*time.Millisecond)

	running, err = c.Disconnect(5 * time.Second)
	require.NoError(t, err)
	assert.False(t, running)
}

func TestHandlerErrorEndsStream(t *testing.T) {
	server := tickingServer(t, 5*time.Millisecond)
	errFull := errors.New("sink full")

	var calls atomic.Int32
	c := newClient(t, server.URL, func([]byte) error {
		if calls.Add(1) == 2 {
			return errFull
		}
		return nil
	})

	require.NoError(t, c.Connect(context.Background()))
	running, err := c.Wait(5 * time.Second)
	require.NoError(t, err)
	assert.False(t, running)

	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, ReasonFailed, c.Reason())
	assert.ErrorIs(t, c.Err(), errFull)
}

func TestHandlerPanicEndsStream(t *testing.T) {
	server := gnipServer(t, "line1\nline2\n")
	c := newClient(t, server.URL, func(line []byte) error {
		panic("boom: " + string(line))
	})

	require.NoError(t, c.Connect(context.Background()))
	_, err := c.Wait(Forever)
	require.NoError(t, err)

	assert.Equal(t, ReasonFailed, c.Reason())
	assert.ErrorIs(t, c.Err(), ErrCallbackPanic)
	assert.Contains(t, c.Err().Error(), "boom: line1")
}

func TestMaxLineSize(t *testing.T) {
	server := gnipServer(t, "short\n"+strings.Repeat("x", 256)+"\n")
	rec := &recorder{}
	c := newClient(t, server.URL, rec.handle, WithMaxLineSize(64))

	require.NoError(t, c.Connect(context.Background()))
	_, err := c.Wait(Forever)
	require.NoError(t, err)

	assert.Equal(t, []string{"short"}, rec.snapshot())
	assert.Equal(t, ReasonFailed, c.Reason())
	assert.Error(t, c.Err())
}

func TestContentTypeMismatchFails(t *testing.T) {
	server := gnipServer(t, "line1\n")
	rec := &recorder{}
	c := newClient(t, server.URL, rec.handle, WithContentType("application/x-ndjson"))

	require.NoError(t, c.Connect(context.Background()))
	_, err := c.Wait(Forever)
	require.NoError(t, err)

	assert.Empty(t, rec.snapshot())
	assert.Equal(t, ReasonFailed, c.Reason())
	assert.ErrorIs(t, c.Err(), perrors.ErrConnection)
}

func TestContentTypeMatch(t *testing.T) {
	server := gnipServer(t, "line1\n")
	rec := &recorder{}
	c := newClient(t, server.URL, rec.handle, WithContentType("application/json"))

	require.NoError(t, c.Connect(context.Background()))
	_, err := c.Wait(Forever)
	require.NoError(t, err)

	assert.Equal(t, []string{"line1"}, rec.snapshot())
	assert.Equal(t, ReasonEnded, c.Reason())
}

func TestMetrics(t *testing.T) {
	server := gnipServer(t, "line1\n\nline2\n")
	reg := prometheus.NewRegistry()
	c := newClient(t, server.URL, func([]byte) error { return nil }, WithMetrics(reg))

	require.NoError(t, c.Connect(context.Background()))
	_, err := c.Wait(Forever)
	require.NoError(t, err)

	expected := `
# HELP powertrack_stream_lines_total Total number of non-empty lines delivered to line handlers
# TYPE powertrack_stream_lines_total counter
powertrack_stream_lines_total 2
# HELP powertrack_stream_keepalives_total Total number of empty lines (keep-alive newlines) received
# TYPE powertrack_stream_keepalives_total counter
powertrack_stream_keepalives_total 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"powertrack_stream_lines_total", "powertrack_stream_keepalives_total"))

	// A second client on the same registry shares the collectors.
	_, err = New(func([]byte) error { return nil }, WithURL(server.URL), WithAuth(testUser, testPass), WithMetrics(reg))
	assert.NoError(t, err)
}

func TestLoggerRecordsLifecycle(t *testing.T) {
	server := gnipServer(t, "line1\n")
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	c := newClient(t, server.URL, func([]byte) error { return nil }, WithLogger(log))

	require.NoError(t, c.Connect(context.Background()))
	_, err := c.Wait(Forever)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, "stream connecting")
	assert.Contains(t, out, "http request")
	assert.Contains(t, out, "stream ended by server")
	assert.NotContains(t, out, testPass)
}

func TestNewRequiresHandler(t *testing.T) {
	_, err := New(nil, WithURL("https://stream.example/track.json"), WithAuth(testUser, testPass))
	assert.ErrorIs(t, err, perrors.ErrConfiguration)
}

func TestNewIncompleteConfiguration(t *testing.T) {
	t.Setenv(config.EnvURL, "")
	t.Setenv(config.EnvUsername, "")
	t.Setenv(config.EnvPassword, "")

	path := filepath.Join(t.TempDir(), "gnippy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("credentials:\n  username: acme\n  password: pw\n"), 0o600))

	_, err := New(func([]byte) error { return nil }, WithConfigFile(path))
	assert.ErrorIs(t, err, ErrIncompleteConfiguration)

	c, err := New(func([]byte) error { return nil }, WithConfigFile(path), WithURL("https://stream.example/track.json"))
	require.NoError(t, err)
	assert.Equal(t, "acme", c.Config().Auth.Username)
}
