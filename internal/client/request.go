package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/anggasct/powertrack/middleware"
)

// Request is a prepared HTTP request
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Query   url.Values
	Body    interface{}
	Client  HTTPClient
}

// HTTPClient defines the interface for the HTTP client
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
	Middlewares() []middleware.Middleware
}

// WithQuery adds a query parameter to the request
func (r *Request) WithQuery(key, value string) *Request {
	r.Query.Add(key, value)
	return r
}

// WithBody sets the request body. []byte and string are sent verbatim,
// anything else is encoded as JSON.
func (r *Request) WithBody(body interface{}) *Request {
	r.Body = body
	return r
}

// Do executes the request and returns the response. The caller owns the
// response body.
func (r *Request) Do(ctx context.Context) (*Response, error) {
	parsedURL, err := url.Parse(r.URL)
	if err != nil {
		return nil, err
	}

	query := parsedURL.Query()
	for k, values := range r.Query {
		for _, v := range values {
			query.Add(k, v)
		}
	}
	parsedURL.RawQuery = query.Encode()

	var bodyReader io.Reader
	if r.Body != nil {
		switch b := r.Body.(type) {
		case []byte:
			bodyReader = bytes.NewReader(b)
		case string:
			bodyReader = bytes.NewReader([]byte(b))
		default:
			jsonBody, err := json.Marshal(r.Body)
			if err != nil {
				return nil, err
			}
			bodyReader = bytes.NewReader(jsonBody)
			if r.Headers.Get("Content-Type") == "" {
				r.Headers.Set("Content-Type", "application/json")
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, parsedURL.String(), bodyReader)
	if err != nil {
		return nil, err
	}
	for k, vv := range r.Headers {
		req.Header[k] = vv
	}

	base := func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return r.Client.Do(req)
	}
	handler := middleware.Chain(base, r.Client.Middlewares()...)

	resp, err := handler(ctx, req)
	if err != nil {
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		return nil, err
	}

	return &Response{Response: resp}, nil
}
