// Package middleware defines the request pipeline shared by the stream
// connection and the REST stores.
package middleware

import (
	"context"
	"net/http"
)

// Handler performs one HTTP round trip.
type Handler func(ctx context.Context, req *http.Request) (*http.Response, error)

// Middleware wraps a Handler.
type Middleware interface {
	// Handle wraps the next handler and returns a new handler
	Handle(next Handler) Handler
}

// Func adapts a plain function to the Middleware interface.
type Func func(next Handler) Handler

// Handle implements Middleware
func (f Func) Handle(next Handler) Handler {
	return f(next)
}

// Chain applies middlewares to base. The first middleware in the list is the
// outermost wrapper: it sees the request first and the response last.
func Chain(base Handler, middlewares ...Middleware) Handler {
	handler := base

	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] == nil {
			continue
		}
		handler = middlewares[i].Handle(handler)
	}

	return handler
}
