package client

import (
	"context"
	"net/http"
)

// GET performs a GET request
func (c *Client) GET(ctx context.Context, path string) (*Response, error) {
	return c.NewRequest(http.MethodGet, path).Do(ctx)
}

// POST performs a POST request
func (c *Client) POST(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.NewRequest(http.MethodPost, path).WithBody(body).Do(ctx)
}

// PUT performs a PUT request
func (c *Client) PUT(ctx context.Context, path string, body interface{}) (*Response, error) {
	return c.NewRequest(http.MethodPut, path).WithBody(body).Do(ctx)
}
