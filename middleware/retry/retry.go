// Package retry re-attempts failed REST calls (rules, historical jobs) with
// exponential backoff.
//
// It is never installed on the stream connection: a dropped PowerTrack
// stream ends the worker, and reconnecting is left to the caller.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/anggasct/powertrack/errors"
	"github.com/anggasct/powertrack/middleware"
)

// Config defines the configuration for the retry middleware.
type Config struct {
	// MaxRetries is the maximum number of retries before giving up.
	MaxRetries int
	// BaseDelay is the base delay for exponential backoff.
	BaseDelay time.Duration
	// MaxDelay is the maximum delay between retries.
	MaxDelay time.Duration
	// Retryable decides whether an attempt's response or transport error
	// is worth another attempt. Transient is used when nil.
	Retryable func(resp *http.Response, err error) bool
	// JitterFactor is the randomization factor for backoff delay (0.2 = ±20%).
	JitterFactor float64
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries: 3,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Retryable:  Transient,
	}
}

// Transient classifies an attempt with errors.IsTransient. Transport
// failures count as connection errors, except when the request's context
// was cancelled or timed out.
func Transient(resp *http.Response, err error) bool {
	switch {
	case err != nil:
		if isContextErr(err) {
			return false
		}
		return errors.IsTransient(fmt.Errorf("%w: %w", errors.ErrConnection, err))
	case resp != nil:
		return errors.IsTransient(&errors.StatusError{StatusCode: resp.StatusCode, Status: resp.Status})
	}
	return false
}

// Middleware retries failed requests
type Middleware struct {
	config *Config
	rng    *rand.Rand
}

// New creates a new retry middleware with the provided configuration.
func New(config *Config) *Middleware {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Retryable == nil {
		config.Retryable = Transient
	}
	return &Middleware{
		config: config,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Handle implements the middleware.Middleware interface
func (m *Middleware) Handle(next middleware.Handler) middleware.Handler {
	return func(ctx context.Context, req *http.Request) (*http.Response, error) {
		resp, err := next(ctx, req)

		for attempt := 0; attempt < m.config.MaxRetries && m.config.Retryable(resp, err); attempt++ {
			// Bodies can only be replayed when the request knows how to rebuild them.
			if req.Body != nil && req.GetBody == nil {
				return resp, err
			}

			if resp != nil && resp.Body != nil {
				resp.Body.Close()
			}

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(m.backoff(attempt)):
			}

			retryReq := req.Clone(ctx)
			if req.GetBody != nil {
				body, bodyErr := req.GetBody()
				if bodyErr != nil {
					return nil, bodyErr
				}
				retryReq.Body = body
			}

			resp, err = next(ctx, retryReq)
		}

		return resp, err
	}
}

// backoff calculates the exponential backoff delay with jitter.
func (m *Middleware) backoff(attempt int) time.Duration {
	delay := float64(m.config.BaseDelay) * math.Pow(2, float64(attempt))
	if m.config.MaxDelay > 0 && delay > float64(m.config.MaxDelay) {
		delay = float64(m.config.MaxDelay)
	}
	delay += delay * m.config.JitterFactor * (2*m.rng.Float64() - 1)
	if m.config.MaxDelay > 0 && delay > float64(m.config.MaxDelay) {
		delay = float64(m.config.MaxDelay)
	}
	return time.Duration(delay)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
