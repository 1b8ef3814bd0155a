// Package statsdmock impersonates a StatsD collector in tests.
//
// A mock binds a random loopback UDP port, runs an action while capturing
// every datagram sent to that port, and hands the datagrams back as text:
//
//	mock := statsdmock.Start(t)
//	client := statsd.New(mock.Addr(), "myapp")
//	got := mock.Capture(func() {
//		client.Incr("some.counter")
//	})
//	// got == "myapp.some.counter:1|c"
//
// Sends must complete before the action returns or shortly after,
// within the drain window. Anything arriving later is lost.
package statsdmock

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/duyet/statsdmock/pkg/capture"
	"github.com/duyet/statsdmock/pkg/metrics"
	"github.com/duyet/statsdmock/pkg/udp/endpoint"
)

const (
	DefaultReadTimeout = endpoint.DefaultReadTimeout
	DefaultDrain       = capture.DefaultDrain
	DefaultBufferSize  = endpoint.DefaultBufferSize
)

var (
	ErrConsumed      = capture.ErrConsumed
	ErrDrainTooShort = capture.ErrDrainTooShort
	ErrInvalidText   = capture.ErrInvalidText
	ErrTruncated     = endpoint.ErrTruncated
)

type config struct {
	endpoint []endpoint.Option
	capture  []capture.Option
}

type Option func(*config)

// WithReadTimeout bounds every single receive attempt.
func WithReadTimeout(timeout time.Duration) Option {
	return func(c *config) {
		c.endpoint = append(c.endpoint, endpoint.WithReadTimeout(timeout))
	}
}

func WithBufferSize(sz int) Option {
	return func(c *config) {
		c.endpoint = append(c.endpoint, endpoint.WithBufferSize(sz))
	}
}

// WithDrain sets how long to keep listening after the action returns.
// The drain must be longer than the read timeout.
func WithDrain(drain time.Duration) Option {
	return func(c *config) {
		c.capture = append(c.capture, capture.WithDrain(drain))
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(c *config) {
		c.capture = append(c.capture, capture.WithClock(clock))
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) {
		c.capture = append(c.capture, capture.WithLogger(logger))
	}
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(c *config) {
		c.capture = append(c.capture, capture.WithMetrics(collector))
	}
}

// WithTruncation controls what happens to datagrams larger than the buffer size.
func WithTruncation(policy capture.TruncationPolicy) Option {
	return func(c *config) {
		c.capture = append(c.capture, capture.WithTruncation(policy))
	}
}

// Server is a StatsD mock that reports failures as errors.
// It captures once; the socket is closed afterwards.
type Server struct {
	endpoint *endpoint.Endpoint
	session  *capture.Session
}

func New(opts ...Option) (*Server, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	ep, err := endpoint.New(cfg.endpoint...)
	if err != nil {
		return nil, err
	}
	return &Server{
		endpoint: ep,
		session:  capture.New(ep, cfg.capture...),
	}, nil
}

// Addr returns the address to point a StatsD client at, e.g. 127.0.0.1:54321
func (s *Server) Addr() string {
	return s.endpoint.String()
}

// CaptureAll runs action and returns the received packets in arrival order.
func (s *Server) CaptureAll(action func()) ([]string, error) {
	return s.session.CaptureAll(action)
}

// Capture runs action and returns the received packets joined by newlines.
func (s *Server) Capture(action func()) (string, error) {
	return s.session.Capture(action)
}

// Close releases the socket of a server that never captured.
func (s *Server) Close() error {
	return s.endpoint.Close()
}
