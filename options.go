package powertrack

import (
	"log/slog"
	"net/http"

	"github.com/anggasct/powertrack/config"
	"github.com/anggasct/powertrack/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a StreamingClient.
type Option func(*options)

type options struct {
	resolve     config.Options
	logger      *slog.Logger
	registerer  prometheus.Registerer
	httpClient  *http.Client
	maxLineSize int
	contentType string
	middlewares []middleware.Middleware
}

// WithURL sets the stream URL, overriding the environment and config file.
func WithURL(url string) Option {
	return func(o *options) {
		o.resolve.URL = url
	}
}

// WithAuth sets the credentials, overriding the environment and config file.
func WithAuth(username, password string) Option {
	return func(o *options) {
		o.resolve.Auth = &config.Credentials{Username: username, Password: password}
	}
}

// WithConfigFile reads this YAML file instead of ~/.gnippy. The file must exist.
func WithConfigFile(path string) Option {
	return func(o *options) {
		o.resolve.ConfigFile = path
	}
}

// WithEnvFile loads GNIPPY_* variables from a dotenv file. Process
// environment variables take precedence over the file.
func WithEnvFile(path string) Option {
	return func(o *options) {
		o.resolve.EnvFile = path
	}
}

// WithLogger logs the stream lifecycle and the opening request to l.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics registers stream metrics with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithHTTPClient uses hc for the stream request. hc must not set Timeout,
// since it applies to reading the whole body.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithMaxLineSize sets the largest activity accepted. A longer line fails
// the stream.
func WithMaxLineSize(n int) Option {
	return func(o *options) {
		o.maxLineSize = n
	}
}

// WithContentType fails the stream unless the response's Content-Type
// contains contentType, e.g. "application/json".
func WithContentType(contentType string) Option {
	return func(o *options) {
		o.contentType = contentType
	}
}

// WithMiddleware adds request middleware to the stream request. It runs
// after the credentials are attached.
func WithMiddleware(m ...middleware.Middleware) Option {
	return func(o *options) {
		o.middlewares = append(o.middlewares, m...)
	}
}
