// Package logger provides request logging middleware on top of log/slog.
//
// Response bodies are never read here: a PowerTrack response body is an
// endless stream, and buffering it for a log line would stall the consumer.
package logger

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anggasct/powertrack/middleware"
	"github.com/google/uuid"
)

// ContextKey type for context value storage
type ContextKey string

const (
	// RequestIDKey is the context key for storing request IDs
	RequestIDKey ContextKey = "request_id"
	// MaxBodyLogSize limits the request body size in logs
	MaxBodyLogSize = 4 * 1024
)

// Config holds the configuration for the logger middleware
type Config struct {
	// Logger receives the records. Defaults to slog.Default().
	Logger *slog.Logger
	// Level is the level used for successful requests. Failures are logged at Error.
	Level slog.Level
	// LogHeaders adds redacted request and response headers to the record
	LogHeaders bool
	// LogRequestBody adds the (truncated) request body to the record
	LogRequestBody bool
	// RequestIDGenerator creates unique request identifiers
	RequestIDGenerator func() string
	// RequestIDHeader is the header name for propagating request IDs
	RequestIDHeader string
	// SensitiveHeaders are headers that should be redacted
	SensitiveHeaders []string
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Logger:             slog.Default(),
		Level:              slog.LevelDebug,
		RequestIDGenerator: uuid.NewString,
		RequestIDHeader:    "X-Request-ID",
		SensitiveHeaders:   []string{"Authorization", "Cookie", "Proxy-Authorization"},
	}
}

// Middleware implements HTTP client logging
type Middleware struct {
	config *Config
}

// New creates a new logger middleware
func New(config *Config) *Middleware {
	cfg := DefaultConfig()
	if config != nil {
		if config.Logger != nil {
			cfg.Logger = config.Logger
		}
		cfg.Level = config.Level
		cfg.LogHeaders = config.LogHeaders
		cfg.LogRequestBody = config.LogRequestBody
		if config.RequestIDGenerator != nil {
			cfg.RequestIDGenerator = config.RequestIDGenerator
		}
		if config.RequestIDHeader != "" {
			cfg.RequestIDHeader = config.RequestIDHeader
		}
		if len(config.SensitiveHeaders) > 0 {
			cfg.SensitiveHeaders = config.SensitiveHeaders
		}
	}
	return &Middleware{config: cfg}
}

// redactHeaders returns a copy of headers with sensitive values redacted
func (m *Middleware) redactHeaders(headers http.Header) http.Header {
	result := make(http.Header, len(headers))
	for name, values := range headers {
		sensitive := false
		for _, s := range m.config.SensitiveHeaders {
			if strings.EqualFold(name, s) {
				sensitive = true
				break
			}
		}

		if sensitive {
			result[name] = []string{"[REDACTED]"}
		} else {
			result[name] = values
		}
	}
	return result
}

// RequestID retrieves the request ID from context
func RequestID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(RequestIDKey).(string)
	return id, ok
}

// Handle implements the middleware.Middleware interface
func (m *Middleware) Handle(next middleware.Handler) middleware.Handler {
	return func(ctx context.Context, req *http.Request) (*http.Response, error) {
		requestID := req.Header.Get(m.config.RequestIDHeader)
		if requestID == "" {
			requestID = m.config.RequestIDGenerator()
			req.Header.Set(m.config.RequestIDHeader, requestID)
		}
		ctx = context.WithValue(ctx, RequestIDKey, requestID)

		attrs := []any{
			"request_id", requestID,
			"method", req.Method,
			"url", req.URL.Redacted(),
		}
		if m.config.LogHeaders {
			attrs = append(attrs, "headers", m.redactHeaders(req.Header))
		}
		if m.config.LogRequestBody && req.Body != nil && req.GetBody != nil {
			if body, err := req.GetBody(); err == nil {
				attrs = append(attrs, "body", readTruncated(body))
			}
		}

		start := time.Now()
		resp, err := next(ctx, req)
		attrs = append(attrs, "duration", time.Since(start))

		level := m.config.Level
		switch {
		case err != nil:
			level = slog.LevelError
			attrs = append(attrs, "error", err)
		case resp != nil:
			attrs = append(attrs, "status", resp.StatusCode)
			if resp.StatusCode >= 400 {
				level = slog.LevelError
			}
			if m.config.LogHeaders {
				attrs = append(attrs, "response_headers", m.redactHeaders(resp.Header))
			}
		}

		m.config.Logger.Log(ctx, level, "http request", attrs...)

		return resp, err
	}
}

// readTruncated reads at most MaxBodyLogSize bytes from body and closes it.
func readTruncated(body io.ReadCloser) string {
	defer body.Close()

	var buf bytes.Buffer
	n, _ := io.CopyN(&buf, body, MaxBodyLogSize+1)
	if n > MaxBodyLogSize {
		buf.Truncate(MaxBodyLogSize)
		buf.WriteString("... (truncated)")
	}
	return buf.String()
}
