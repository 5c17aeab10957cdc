// Prometheus metrics for the gRPC transport layer, hand-rolled in the same
// technique as agent/internal/transport/metrics.go: atomic counters/gauges
// and a manually formatted text-exposition handler, no prometheus client
// library dependency.
package transport

import (
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
)

// Metrics holds Prometheus counters and gauges for one Client. The zero
// value is ready to use.
type Metrics struct {
	ConnectionAttempts atomic.Int64
	ConnectionErrors   atomic.Int64
	EventsSent         atomic.Int64
	StreamSendErrors   atomic.Int64

	// Connected is 1 while a stream is active, 0 otherwise.
	Connected atomic.Int64
}

// NewMetrics allocates a zeroed Metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

type metricLine struct {
	help  string
	kind  string
	name  string
	value int64
}

func (m *Metrics) snapshot() []metricLine {
	return []metricLine{
		{
			help:  "Total number of gRPC connection attempts made by the transport client.",
			kind:  "counter",
			name:  "profiler_transport_connection_attempts_total",
			value: m.ConnectionAttempts.Load(),
		},
		{
			help:  "Total number of gRPC connection attempts that returned an error.",
			kind:  "counter",
			name:  "profiler_transport_connection_errors_total",
			value: m.ConnectionErrors.Load(),
		},
		{
			help:  "Total number of events successfully delivered to the collector.",
			kind:  "counter",
			name:  "profiler_transport_events_sent_total",
			value: m.EventsSent.Load(),
		},
		{
			help:  "Total number of stream.Send calls that returned an error.",
			kind:  "counter",
			name:  "profiler_transport_stream_send_errors_total",
			value: m.StreamSendErrors.Load(),
		},
		{
			help:  "1 when the event stream to the collector is currently active, 0 otherwise.",
			kind:  "gauge",
			name:  "profiler_transport_connected",
			value: m.Connected.Load(),
		},
	}
}

// Handler returns an http.Handler serving these metrics in Prometheus text
// exposition format.
func (m *Metrics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		writeMetrics(w, m.snapshot())
	})
}

func writeMetrics(w io.Writer, lines []metricLine) {
	for _, l := range lines {
		fmt.Fprintf(w, "# HELP %s %s\n", l.name, l.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", l.name, l.kind)
		fmt.Fprintf(w, "%s %d\n", l.name, l.value)
	}
}
