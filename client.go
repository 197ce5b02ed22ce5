package powertrack

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anggasct/powertrack/config"
	"github.com/anggasct/powertrack/errors"
	"github.com/anggasct/powertrack/internal/client"
	"github.com/anggasct/powertrack/internal/metrics"
	"github.com/anggasct/powertrack/internal/stream"
	"github.com/anggasct/powertrack/internal/worker"
	"github.com/anggasct/powertrack/middleware/auth"
	"github.com/anggasct/powertrack/middleware/logger"
)

type connState int

const (
	unconnected connState = iota
	connected
)

// StreamingClient owns at most one stream worker over its whole life. It is
// not re-entrant: once Connect has succeeded, later calls fail with
// ErrAlreadyConnected even after the stream has finished.
type StreamingClient struct {
	cfg     *config.Config
	handler LineHandler
	opts    *options
	metrics *metrics.Stream

	mu     sync.Mutex
	state  connState
	worker *worker.Worker
}

// New resolves the configuration and returns an unconnected client.
func New(handler LineHandler, opts ...Option) (*StreamingClient, error) {
	if handler == nil {
		return nil, fmt.Errorf("%w: line handler is required", errors.ErrConfiguration)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	o.resolve.RequireURL = true

	cfg, err := config.Resolve(o.resolve)
	if err != nil {
		return nil, err
	}

	c := &StreamingClient{
		cfg:     cfg,
		handler: handler,
		opts:    o,
	}
	if o.registerer != nil {
		if c.metrics, err = metrics.NewStream(o.registerer); err != nil {
			return nil, errors.Wrap(err, "powertrack", "New", "metrics registration")
		}
	}
	return c, nil
}

// Config returns the resolved stream endpoint.
func (c *StreamingClient) Config() config.Config {
	return *c.cfg
}

// Connect opens the stream on a new goroutine and returns without waiting
// for the response. Failures to open are reported through Wait, Reason and
// Err. ctx bounds the request for the life of the stream; Disconnect does
// not cancel it.
func (c *StreamingClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != unconnected {
		return errors.ErrAlreadyConnected
	}

	w := worker.New(worker.Config{
		Client:        c.httpClient(),
		URL:           c.cfg.URL,
		Handler:       worker.Handler(c.handler),
		Logger:        c.logger(),
		Metrics:       c.metrics,
		StreamOptions: c.streamOptions(),
	})
	if err := w.Start(ctx); err != nil {
		return err
	}

	c.state = connected
	c.worker = w
	return nil
}

// Wait blocks until the stream finishes or timeout elapses and reports
// whether it is still running. Use Forever to wait without a limit; zero
// only polls.
func (c *StreamingClient) Wait(timeout time.Duration) (bool, error) {
	w, err := c.connected()
	if err != nil {
		return false, err
	}
	return w.Join(timeout), nil
}

// Disconnect asks the stream to stop after the current line and waits like
// Wait. The stop is only observed when a line or keep-alive arrives.
func (c *StreamingClient) Disconnect(timeout time.Duration) (bool, error) {
	w, err := c.connected()
	if err != nil {
		return false, err
	}
	w.RequestStop()
	return w.Join(timeout), nil
}

// Reason reports why the stream finished, or ReasonNone if it has not.
func (c *StreamingClient) Reason() Reason {
	w, err := c.connected()
	if err != nil {
		return ReasonNone
	}
	return w.Reason()
}

// Err returns the error that ended the stream: a failed open, a read error,
// or the handler's error or panic. It is nil for a stream that ended or was
// stopped cleanly, and while the stream is running.
func (c *StreamingClient) Err() error {
	w, err := c.connected()
	if err != nil {
		return nil
	}
	return w.Err()
}

// Done returns a channel closed when the stream finishes, or nil before
// Connect.
func (c *StreamingClient) Done() <-chan struct{} {
	w, err := c.connected()
	if err != nil {
		return nil
	}
	return w.Done()
}

func (c *StreamingClient) connected() (*worker.Worker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != connected {
		return nil, errors.ErrNotConnected
	}
	return c.worker, nil
}

func (c *StreamingClient) httpClient() *client.Client {
	hc := client.New().
		WithHTTPClient(c.opts.httpClient).
		WithMiddleware(auth.Basic(c.cfg.Auth.Username, c.cfg.Auth.Password))

	if c.opts.logger != nil {
		hc.WithMiddleware(logger.New(&logger.Config{
			Logger: c.opts.logger,
			Level:  slog.LevelInfo,
		}))
	}
	return hc.WithMiddleware(c.opts.middlewares...)
}

func (c *StreamingClient) logger() *slog.Logger {
	if c.opts.logger == nil {
		return nil
	}
	return c.opts.logger.With("component", "powertrack")
}

func (c *StreamingClient) streamOptions() []stream.Option {
	var opts []stream.Option
	if c.opts.maxLineSize > 0 {
		opts = append(opts, stream.WithMaxLineSize(c.opts.maxLineSize))
	}
	if c.opts.contentType != "" {
		opts = append(opts, stream.WithContentType(c.opts.contentType))
	}
	return opts
}
