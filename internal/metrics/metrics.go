// Package metrics holds the Prometheus collectors for stream consumption.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "powertrack"

// Stream holds Prometheus metrics for stream workers. A nil *Stream is valid
// and records nothing.
type Stream struct {
	lines            prometheus.Counter
	keepAlives       prometheus.Counter
	bytes            prometheus.Counter
	running          prometheus.Gauge
	terminations     *prometheus.CounterVec
	callbackDuration prometheus.Histogram
}

// NewStream creates the stream metrics and registers them with reg. Several
// clients may share one registry: collectors that are already registered are
// reused.
func NewStream(reg prometheus.Registerer) (*Stream, error) {
	m := &Stream{
		lines: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "lines_total",
			Help:      "Total number of non-empty lines delivered to line handlers",
		}),
		keepAlives: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "keepalives_total",
			Help:      "Total number of empty lines (keep-alive newlines) received",
		}),
		bytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "bytes_total",
			Help:      "Total number of line bytes received, delimiters excluded",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "workers_running",
			Help:      "Number of stream workers currently running",
		}),
		terminations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "terminations_total",
			Help:      "Stream worker terminations by reason",
		}, []string{"reason"}),
		callbackDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "handler_duration_seconds",
			Help:      "Time spent in the line handler per line",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
	}

	var err error
	if m.lines, err = register(reg, m.lines); err != nil {
		return nil, err
	}
	if m.keepAlives, err = register(reg, m.keepAlives); err != nil {
		return nil, err
	}
	if m.bytes, err = register(reg, m.bytes); err != nil {
		return nil, err
	}
	if m.running, err = register(reg, m.running); err != nil {
		return nil, err
	}
	if m.terminations, err = register(reg, m.terminations); err != nil {
		return nil, err
	}
	if m.callbackDuration, err = register(reg, m.callbackDuration); err != nil {
		return nil, err
	}

	return m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// ObserveLine records one received line of n bytes.
func (m *Stream) ObserveLine(n int) {
	if m == nil {
		return
	}
	if n == 0 {
		m.keepAlives.Inc()
		return
	}
	m.lines.Inc()
	m.bytes.Add(float64(n))
}

// ObserveHandler records the time spent in one line handler call.
func (m *Stream) ObserveHandler(d time.Duration) {
	if m == nil {
		return
	}
	m.callbackDuration.Observe(d.Seconds())
}

// WorkerStarted marks a worker as running.
func (m *Stream) WorkerStarted() {
	if m == nil {
		return
	}
	m.running.Inc()
}

// WorkerFinished marks a worker as finished for the given reason.
func (m *Stream) WorkerFinished(reason string) {
	if m == nil {
		return
	}
	m.running.Dec()
	m.terminations.WithLabelValues(reason).Inc()
}
