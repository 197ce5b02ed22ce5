// Package client implements the HTTP request/response plumbing shared by the
// stream connection and the REST stores.
package client

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/anggasct/powertrack/middleware"
)

// UserAgent is sent on every request unless overridden.
const UserAgent = "powertrack"

// Client is a wrapper around http.Client with a base URL, default headers
// and a middleware chain.
type Client struct {
	client      *http.Client
	baseURL     string
	headers     http.Header
	middlewares []middleware.Middleware
}

// New creates a new Client. The underlying http.Client has no overall
// timeout, because a stream response body is read for as long as it lasts.
func New() *Client {
	c := &Client{
		client:      &http.Client{},
		headers:     make(http.Header),
		middlewares: make([]middleware.Middleware, 0),
	}
	c.headers.Set("User-Agent", UserAgent)
	return c
}

// WithHTTPClient replaces the underlying http.Client
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.client = hc
	}
	return c
}

// WithBaseURL sets the base URL for all requests
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

// WithMiddleware adds a middleware to the client's middleware chain
// Middlewares are applied in the order they are added
func (c *Client) WithMiddleware(m ...middleware.Middleware) *Client {
	c.middlewares = append(c.middlewares, m...)
	return c
}

// Do implements HTTPClient
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req)
}

// Middlewares implements HTTPClient
func (c *Client) Middlewares() []middleware.Middleware {
	return c.middlewares
}

// NewRequest creates a new request with the given method and URL. An absolute
// URL is used as is; anything else is appended to the base URL.
func (c *Client) NewRequest(method, path string) *Request {
	reqURL := path
	if c.baseURL != "" && !isAbsolute(path) {
		reqURL = c.baseURL + path
	}

	req := &Request{
		Method:  method,
		URL:     reqURL,
		Headers: make(http.Header),
		Query:   make(url.Values),
		Client:  c,
	}

	for k, vv := range c.headers {
		for _, v := range vv {
			req.Headers.Add(k, v)
		}
	}

	return req
}

func isAbsolute(path string) bool {
	return strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://")
}
