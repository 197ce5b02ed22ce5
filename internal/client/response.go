package client

import (
	"encoding/json"
	"io"
	"net/http"
	"slices"
	"strings"

	"github.com/anggasct/powertrack/errors"
)

// maxErrorBody bounds how much of a failed response is kept for the error.
const maxErrorBody = 4096

// Response wraps the standard http.Response with additional utility methods
type Response struct {
	*http.Response
}

// JSON unmarshals the response body into the provided interface
func (r *Response) JSON(v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// Close closes the response body
func (r *Response) Close() error {
	return r.Body.Close()
}

// IsSuccess returns true if the status code is between 200 and 299
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode <= 299
}

// CheckStatus returns nil when the status is one of expected (any 2xx when
// expected is empty). Otherwise it reads a bounded prefix of the body, closes
// it, and returns an *errors.StatusError.
func (r *Response) CheckStatus(expected ...int) error {
	if len(expected) == 0 && r.IsSuccess() {
		return nil
	}
	if slices.Contains(expected, r.StatusCode) {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(r.Body, maxErrorBody))
	r.Body.Close()

	se := &errors.StatusError{
		StatusCode: r.StatusCode,
		Status:     r.Status,
		Body:       strings.TrimSpace(string(body)),
	}
	if r.Request != nil && r.Request.URL != nil {
		se.URL = r.Request.URL.Redacted()
	}
	return se
}
