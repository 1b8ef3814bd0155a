package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector counts what capture sessions see on the wire.
// Every collector has a registry of its own.
type Collector struct {
	registry *prometheus.Registry

	CaptureSessions  prometheus.Counter
	CaptureErrors    *prometheus.CounterVec
	CapturePackets   prometheus.Counter
	CaptureReceived  prometheus.Counter
	CaptureTimeouts  prometheus.Counter
	CaptureTruncated prometheus.Counter
	CaptureDurations prometheus.Histogram
}

func New() *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,

		CaptureSessions: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "statsdmock_capture_sessions_total",
			Help: "The total number of started capture sessions",
		}),
		CaptureErrors: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "statsdmock_capture_errors_total",
			Help: "The total number of capture sessions that ended with an error",
		}, []string{"reason"}),
		CapturePackets: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "statsdmock_capture_packets_total",
			Help: "The total number of datagrams received by capture sessions",
		}),
		CaptureReceived: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "statsdmock_capture_received_bytes_total",
			Help: "The total amount of bytes received by capture sessions",
		}),
		CaptureTimeouts: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "statsdmock_capture_timeouts_total",
			Help: "The total number of receive attempts that timed out with no datagram",
		}),
		CaptureTruncated: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "statsdmock_capture_truncated_total",
			Help: "The total number of datagrams that did not fit into the receive buffer",
		}),
		CaptureDurations: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "statsdmock_capture_duration_seconds",
			Help:    "Duration of capture sessions, drain window included",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
	return c
}

func (c *Collector) GetRegistry() *prometheus.Registry {
	return c.registry
}
