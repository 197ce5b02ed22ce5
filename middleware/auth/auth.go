// Package auth provides middleware that attaches Gnip credentials and static
// headers to outgoing requests.
package auth

import (
	"context"
	"net/http"

	"github.com/anggasct/powertrack/middleware"
)

// Config represents the configuration for the auth middleware
type Config struct {
	// Username and Password are sent as HTTP basic auth when Username is set
	Username string
	Password string
	// Headers contains extra headers to add to all requests
	Headers map[string]string
	// OverwriteExisting determines whether to overwrite headers already on the request
	OverwriteExisting bool
}

// Middleware is the auth middleware implementation
type Middleware struct {
	config *Config
}

// New creates a new auth middleware with the provided configuration
func New(config *Config) *Middleware {
	if config == nil {
		config = &Config{}
	}
	if config.Headers == nil {
		config.Headers = make(map[string]string)
	}

	return &Middleware{config: config}
}

// Basic is shorthand for credentials without extra headers.
func Basic(username, password string) *Middleware {
	return New(&Config{Username: username, Password: password})
}

// Handle implements the middleware.Middleware interface
func (m *Middleware) Handle(next middleware.Handler) middleware.Handler {
	return func(ctx context.Context, req *http.Request) (*http.Response, error) {
		for name, value := range m.config.Headers {
			if m.config.OverwriteExisting || req.Header.Get(name) == "" {
				req.Header.Set(name, value)
			}
		}

		if m.config.Username != "" {
			if _, _, ok := req.BasicAuth(); !ok || m.config.OverwriteExisting {
				req.SetBasicAuth(m.config.Username, m.config.Password)
			}
		}

		return next(ctx, req)
	}
}
