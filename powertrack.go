// Package powertrack consumes a Gnip PowerTrack stream: a long-lived HTTP GET
// whose body is newline-delimited JSON activities with blank keep-alive lines.
//
// A StreamingClient reads the stream on a background goroutine and passes
// every non-empty line to a LineHandler, in order, one at a time:
//
//	c, err := powertrack.New(func(line []byte) error {
//		fmt.Println(string(line))
//		return nil
//	})
//	if err != nil {
//		return err
//	}
//	if err := c.Connect(ctx); err != nil {
//		return err
//	}
//	defer c.Disconnect(10 * time.Second)
//
// Credentials and the stream URL come from options, the GNIPPY_* environment
// variables (or a .env file), or ~/.gnippy, in that order.
package powertrack

import (
	"github.com/anggasct/powertrack/errors"
	"github.com/anggasct/powertrack/internal/worker"
)

// LineHandler receives one non-empty stream line. The slice is only valid for
// the duration of the call. Returning an error, or panicking, ends the stream;
// the error is then available from StreamingClient.Err.
type LineHandler func(line []byte) error

// Forever makes Wait and Disconnect block until the stream ends.
const Forever = worker.Forever

// Reason says why a stream finished.
type Reason = worker.Reason

// Termination reasons reported by StreamingClient.Reason.
const (
	ReasonNone    = worker.ReasonNone
	ReasonEnded   = worker.ReasonEnded
	ReasonStopped = worker.ReasonStopped
	ReasonFailed  = worker.ReasonFailed
)

// Errors returned by StreamingClient. See the errors package for the rest.
var (
	ErrAlreadyConnected        = errors.ErrAlreadyConnected
	ErrNotConnected            = errors.ErrNotConnected
	ErrIncompleteConfiguration = errors.ErrIncompleteConfiguration
	ErrCallbackPanic           = errors.ErrCallbackPanic
)
