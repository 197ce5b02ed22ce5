package retry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() *Config {
	cfg := DefaultConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	return cfg
}

func TestRetryOnServerError(t *testing.T) {
	calls := 0
	handler := New(fastConfig()).Handle(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return &http.Response{StatusCode: http.StatusServiceUnavailable, Body: io.NopCloser(strings.NewReader(""))}, nil
		}
		return &http.Response{StatusCode: http.StatusOK}, nil
	})

	req, _ := http.NewRequest(http.MethodGet, "http://example.test", nil)
	resp, err := handler(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, calls)
}

func TestRetryGivesUp(t *testing.T) {
	calls := 0
	handler := New(fastConfig()).Handle(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		calls++
		return nil, errors.New("connection reset")
	})

	req, _ := http.NewRequest(http.MethodGet, "http://example.test", nil)
	_, err := handler(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestRetryReplaysBody(t *testing.T) {
	var bodies []string
	handler := New(fastConfig()).Handle(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		b, _ := io.ReadAll(req.Body)
		bodies = append(bodies, string(b))
		if len(bodies) == 1 {
			return &http.Response{StatusCode: http.StatusBadGateway}, nil
		}
		return &http.Response{StatusCode: http.StatusCreated}, nil
	})

	req, _ := http.NewRequest(http.MethodPost, "http://example.test", strings.NewReader(`{"rules":[]}`))
	resp, err := handler(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, []string{`{"rules":[]}`, `{"rules":[]}`}, bodies)
}

func TestNoRetryOnClientError(t *testing.T) {
	calls := 0
	handler := New(fastConfig()).Handle(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		calls++
		return &http.Response{StatusCode: http.StatusUnauthorized}, nil
	})

	req, _ := http.NewRequest(http.MethodGet, "http://example.test", nil)
	resp, err := handler(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, 1, calls)
}

func TestNoRetryWhenRequestCanceled(t *testing.T) {
	calls := 0
	handler := New(fastConfig()).Handle(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		calls++
		return nil, &url.Error{Op: "Get", URL: req.URL.String(), Err: context.Canceled}
	})

	req, _ := http.NewRequest(http.MethodGet, "http://example.test", nil)
	_, err := handler(context.Background(), req)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestTransient(t *testing.T) {
	tests := []struct {
		name string
		resp *http.Response
		err  error
		want bool
	}{
		{"service unavailable", &http.Response{StatusCode: http.StatusServiceUnavailable}, nil, true},
		{"too many requests", &http.Response{StatusCode: http.StatusTooManyRequests}, nil, true},
		{"not found", &http.Response{StatusCode: http.StatusNotFound}, nil, false},
		{"ok", &http.Response{StatusCode: http.StatusOK}, nil, false},
		{"transport failure", nil, errors.New("connection reset"), true},
		{"wrapped deadline", nil, &url.Error{Op: "Get", Err: context.DeadlineExceeded}, false},
		{"nothing", nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Transient(tt.resp, tt.err))
		})
	}
}

func TestCustomRetryable(t *testing.T) {
	calls := 0
	cfg := fastConfig()
	cfg.Retryable = func(resp *http.Response, err error) bool {
		return resp != nil && resp.StatusCode == http.StatusNotFound
	}
	handler := New(cfg).Handle(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		calls++
		return &http.Response{StatusCode: http.StatusNotFound}, nil
	})

	req, _ := http.NewRequest(http.MethodGet, "http://example.test", nil)
	_, err := handler(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
}

func TestBackoffCapped(t *testing.T) {
	m := New(&Config{BaseDelay: time.Second, MaxDelay: 3 * time.Second})
	assert.Equal(t, time.Second, m.backoff(0))
	assert.Equal(t, 2*time.Second, m.backoff(1))
	assert.Equal(t, 3*time.Second, m.backoff(5))
}
