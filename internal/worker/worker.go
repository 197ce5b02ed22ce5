// Package worker runs one stream connection on its own goroutine and hands
// each line to a handler.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/anggasct/powertrack/errors"
	"github.com/anggasct/powertrack/internal/client"
	"github.com/anggasct/powertrack/internal/metrics"
	"github.com/anggasct/powertrack/internal/stream"
	"github.com/google/uuid"
)

// Forever makes Join block until the worker finishes.
const Forever time.Duration = -1

// State is the lifecycle state of a Worker.
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateFinished
)

// String returns a string representation of the state
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// Reason says why a worker finished.
type Reason int

const (
	// ReasonNone means the worker has not finished.
	ReasonNone Reason = iota
	// ReasonEnded means the server closed the stream.
	ReasonEnded
	// ReasonStopped means a stop request was observed between lines.
	ReasonStopped
	// ReasonFailed means opening, reading or handling failed. See Err.
	ReasonFailed
)

// String returns a string representation of the reason
func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonEnded:
		return "ended"
	case ReasonStopped:
		return "stopped"
	case ReasonFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", r)
	}
}

// Handler receives one non-empty line. The slice is reused after the call
// returns. Returning an error ends the stream.
type Handler func(line []byte) error

// Config holds everything a Worker needs.
type Config struct {
	ID            string
	Client        *client.Client
	URL           string
	Handler       Handler
	Logger        *slog.Logger
	Metrics       *metrics.Stream
	StreamOptions []stream.Option
}

// Worker drives a single streaming attempt.
type Worker struct {
	cfg   Config
	state atomic.Int32
	stop  atomic.Bool
	done  chan struct{}

	// Written by the worker goroutine before done is closed.
	reason Reason
	err    error
}

// New creates a worker in the created state.
func New(cfg Config) *Worker {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Client == nil {
		cfg.Client = client.New()
	}
	if cfg.Handler == nil {
		cfg.Handler = func([]byte) error { return nil }
	}
	return &Worker{
		cfg:  cfg,
		done: make(chan struct{}),
	}
}

// ID returns the worker's identifier, used in log records.
func (w *Worker) ID() string {
	return w.cfg.ID
}

// Start spawns the worker goroutine. ctx bounds the HTTP request for the
// whole life of the stream; RequestStop does not cancel it.
func (w *Worker) Start(ctx context.Context) error {
	if !w.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		return errors.ErrAlreadyStarted
	}

	w.cfg.Metrics.WorkerStarted()
	go w.run(ctx)
	return nil
}

// RequestStop asks the worker to stop after the line it is on. It returns
// immediately and may be called any number of times from any goroutine.
func (w *Worker) RequestStop() {
	if w.stop.CompareAndSwap(false, true) {
		w.cfg.Logger.Debug("stream stop requested", "worker_id", w.cfg.ID)
	}
}

// Stopping reports whether a stop has been requested.
func (w *Worker) Stopping() bool {
	return w.stop.Load()
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

// IsFinished reports whether the worker goroutine has terminated.
func (w *Worker) IsFinished() bool {
	return w.State() == StateFinished
}

// Done is closed when the worker goroutine terminates.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Join blocks until the worker finishes or timeout elapses and reports
// whether it is still running. A negative timeout waits forever; zero polls.
// Joining a worker that was never started returns false immediately.
func (w *Worker) Join(timeout time.Duration) bool {
	if w.State() == StateCreated {
		return false
	}

	if timeout < 0 {
		<-w.done
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.done:
		return false
	case <-timer.C:
		return !w.IsFinished()
	}
}

// Reason returns why the worker finished, or ReasonNone while it runs.
func (w *Worker) Reason() Reason {
	select {
	case <-w.done:
		return w.reason
	default:
		return ReasonNone
	}
}

// Err returns the error that ended the worker, if any. It is nil while the
// worker runs and after a clean end or stop.
func (w *Worker) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

func (w *Worker) run(ctx context.Context) {
	log := w.cfg.Logger.With("worker_id", w.cfg.ID)
	log.Info("stream connecting", "url", w.cfg.URL)

	defer func() {
		if r := recover(); r != nil {
			w.err = fmt.Errorf("%w: %v", errors.ErrCallbackPanic, r)
		}

		switch {
		case w.err != nil:
			w.reason = ReasonFailed
			log.Error("stream failed", "error", w.err)
		case w.stop.Load():
			w.reason = ReasonStopped
			log.Info("stream stopped")
		default:
			w.reason = ReasonEnded
			log.Info("stream ended by server")
		}

		w.cfg.Metrics.WorkerFinished(w.reason.String())
		w.state.Store(int32(StateFinished))
		close(w.done)
	}()

	opts := append([]stream.Option{stream.WithLineObserver(w.cfg.Metrics.ObserveLine)}, w.cfg.StreamOptions...)

	conn, err := stream.Open(ctx, w.cfg.Client, w.cfg.URL, opts...)
	if err != nil {
		w.err = err
		return
	}
	log.Info("stream connected")

	w.err = conn.IterateLines(w.handle, w.stop.Load)
}

func (w *Worker) handle(line []byte) error {
	start := time.Now()
	err := w.cfg.Handler(line)
	w.cfg.Metrics.ObserveHandler(time.Since(start))
	return err
}
