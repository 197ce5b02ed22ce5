// Package stream opens a long-lived HTTP GET and iterates its body as lines.
package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/anggasct/powertrack/errors"
	"github.com/anggasct/powertrack/internal/client"
)

const (
	// initialBufferSize is the scanner's starting buffer; it grows up to the
	// max line size.
	initialBufferSize = 64 * 1024
	// DefaultMaxLineSize bounds a single activity. Larger lines fail the stream.
	DefaultMaxLineSize = 10 * 1024 * 1024
)

// Option represents options for stream processing
type Option func(*options)

type options struct {
	maxLineSize  int
	contentType  string
	lineObserver func(n int)
}

// WithMaxLineSize sets the largest line the scanner accepts
func WithMaxLineSize(size int) Option {
	return func(o *options) {
		o.maxLineSize = size
	}
}

// WithContentType makes Open reject a response whose Content-Type does not
// contain contentType
func WithContentType(contentType string) Option {
	return func(o *options) {
		o.contentType = contentType
	}
}

// WithLineObserver registers fn to be called with the length of every line
// read, empty lines included, before the line handler runs.
func WithLineObserver(fn func(n int)) Option {
	return func(o *options) {
		o.lineObserver = fn
	}
}

func defaultOptions() *options {
	return &options{
		maxLineSize: DefaultMaxLineSize,
	}
}

// Connection is an open stream response. It is owned by a single goroutine.
type Connection struct {
	body      io.ReadCloser
	opts      *options
	closeOnce sync.Once
	closeErr  error
}

// Open performs the GET against url. Transport failures wrap
// errors.ErrConnection; a non-2xx response is returned as *errors.StatusError.
// In both cases the response, if any, is already closed.
func Open(ctx context.Context, c *client.Client, url string, opts ...Option) (*Connection, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	resp, err := c.NewRequest(http.MethodGet, url).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("stream.Open: %w: %w", errors.ErrConnection, err)
	}

	if err := resp.CheckStatus(); err != nil {
		return nil, errors.Wrap(err, "stream", "Open", "status check")
	}

	if o.contentType != "" {
		contentType := resp.Header.Get("Content-Type")
		if !strings.Contains(contentType, o.contentType) {
			resp.Close()
			return nil, fmt.Errorf("stream.Open: %w: unexpected content type %q", errors.ErrConnection, contentType)
		}
	}

	return &Connection{body: resp.Body, opts: o}, nil
}

// IterateLines calls onLine for every non-empty line, in order, on the
// calling goroutine. After each line (empty or not) it calls shouldStop and
// returns nil as soon as it reports true. End of stream also returns nil.
// An error from onLine is returned as is. The connection is closed on every
// exit path, including a panic in onLine.
func (c *Connection) IterateLines(onLine func([]byte) error, shouldStop func() bool) error {
	defer c.Close()

	scanner := bufio.NewScanner(c.body)
	bufSize := initialBufferSize
	if bufSize > c.opts.maxLineSize {
		bufSize = c.opts.maxLineSize
	}
	scanner.Buffer(make([]byte, 0, bufSize), c.opts.maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if c.opts.lineObserver != nil {
			c.opts.lineObserver(len(line))
		}

		if len(line) > 0 {
			if err := onLine(line); err != nil {
				return err
			}
		}

		if shouldStop != nil && shouldStop() {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "stream", "IterateLines", "read")
	}
	return nil
}

// Close releases the response body. It is safe to call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.body.Close()
	})
	return c.closeErr
}
