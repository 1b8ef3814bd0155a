package capture

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/duyet/statsdmock/pkg/metrics"
	"github.com/duyet/statsdmock/pkg/udp/endpoint"
)

// DefaultDrain is how long a session keeps listening after the action returns.
// It must outlast at least one receive timeout of the endpoint.
const DefaultDrain = time.Millisecond * 200

var (
	ErrConsumed         = errors.New("capture: session has already been run")
	ErrDrainTooShort    = errors.New("capture: drain window must be longer than the receive timeout")
	ErrReceiverPanicked = errors.New("capture: receiver panicked")
	ErrInvalidText      = errors.New("capture: datagram is not valid UTF-8 text")
)

// Receiver is the source of datagrams for a session.
// Receive must block for no longer than ReadTimeout
// and report an expired wait with an error matching endpoint.ErrTimeout.
type Receiver interface {
	Receive() ([]byte, error)
	ReadTimeout() time.Duration
	Close() error
}

type TruncationPolicy int

const (
	// FailOnTruncation ends the capture with endpoint.ErrTruncated
	// as soon as a datagram does not fit into the receive buffer.
	FailOnTruncation TruncationPolicy = iota
	// AllowTruncation keeps the cut payload and logs a warning.
	AllowTruncation
)

type Option func(*Session)

func WithDrain(drain time.Duration) Option {
	return func(s *Session) {
		s.drain = drain
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(s *Session) {
		s.clock = clock
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

func WithMetrics(collector *metrics.Collector) Option {
	return func(s *Session) {
		s.metrics = collector
	}
}

func WithTruncation(policy TruncationPolicy) Option {
	return func(s *Session) {
		s.truncation = policy
	}
}

// Session runs an action while collecting every datagram
// its receiver gets until the drain window after the action closes.
// A session runs once and closes its receiver when done.
type Session struct {
	receiver   Receiver
	drain      time.Duration
	clock      clockwork.Clock
	logger     zerolog.Logger
	metrics    *metrics.Collector
	truncation TruncationPolicy
	used       atomic.Bool
}

type outcome struct {
	packets [][]byte
	err     error
}

func New(receiver Receiver, opts ...Option) *Session {
	s := &Session{
		receiver: receiver,
		// set defaults
		drain:      DefaultDrain,
		clock:      clockwork.NewRealClock(),
		logger:     zerolog.Nop(),
		truncation: FailOnTruncation,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes action and returns the raw payloads received
// from the moment the receiver was bound until the drain window elapsed,
// in the order they arrived.
// Datagrams that arrive after the final receive attempt are not captured,
// so the action should finish its sends before it returns.
func (s *Session) Run(action func()) ([][]byte, error) {
	if !s.used.CompareAndSwap(false, true) {
		return nil, ErrConsumed
	}
	defer s.receiver.Close() // nolint: errcheck

	if s.drain <= s.receiver.ReadTimeout() {
		return nil, fmt.Errorf(
			"%w: drain %s, receive timeout %s",
			ErrDrainTooShort, s.drain, s.receiver.ReadTimeout(),
		)
	}

	started := s.clock.Now()
	if s.metrics != nil {
		s.metrics.CaptureSessions.Inc()
	}
	s.logger.Debug().
		Dur("drain", s.drain).
		Dur("timeout", s.receiver.ReadTimeout()).
		Msg("Starting capture")

	done := new(atomic.Bool)
	results := make(chan outcome, 1)
	go s.receive(done, results)

	s.perform(action, done, results)

	// give the receiver at least one full receive attempt after the action returns
	s.clock.Sleep(s.drain)
	done.Store(true)
	res := <-results

	if s.metrics != nil {
		s.metrics.CaptureDurations.Observe(s.clock.Since(started).Seconds())
	}
	if res.err != nil {
		s.logger.Error().Err(res.err).Int("packets", len(res.packets)).Msg("Capture failed")
		return nil, res.err
	}
	s.logger.Debug().Int("packets", len(res.packets)).Msg("Capture finished")

	return res.packets, nil
}

// CaptureAll is Run with every payload decoded as text.
func (s *Session) CaptureAll(action func()) ([]string, error) {
	packets, err := s.Run(action)
	if err != nil {
		return nil, err
	}
	decoded, err := Decode(packets)
	if err != nil {
		s.observeError("decode")
		return nil, err
	}
	return decoded, nil
}

// Capture is CaptureAll with the packets joined by newlines.
func (s *Session) Capture(action func()) (string, error) {
	decoded, err := s.CaptureAll(action)
	if err != nil {
		return "", err
	}
	return strings.Join(decoded, "\n"), nil
}

// Decode converts payloads to strings, keeping their order.
// The result is never nil.
func Decode(packets [][]byte) ([]string, error) {
	decoded := make([]string, 0, len(packets))
	for i, payload := range packets {
		if !utf8.Valid(payload) {
			return nil, fmt.Errorf("%w: datagram #%d %q", ErrInvalidText, i, payload)
		}
		decoded = append(decoded, string(payload))
	}
	return decoded, nil
}

// perform runs the action in the foreground.
// If the action panics, the receiver is stopped and joined before the panic goes on.
func (s *Session) perform(action func(), done *atomic.Bool, results <-chan outcome) {
	defer func() {
		if r := recover(); r != nil {
			done.Store(true)
			<-results
			panic(r)
		}
	}()
	action()
}

func (s *Session) receive(done *atomic.Bool, results chan<- outcome) {
	var packets [][]byte

	defer func() {
		if r := recover(); r != nil {
			s.observeError("panic")
			results <- outcome{packets: packets, err: fmt.Errorf("%w: %v", ErrReceiverPanicked, r)}
		}
	}()

	for {
		payload, err := s.receiver.Receive()
		switch {
		case err == nil:
			packets = append(packets, payload)
			s.observePacket(payload)
		case errors.Is(err, endpoint.ErrTimeout):
			if s.metrics != nil {
				s.metrics.CaptureTimeouts.Inc()
			}
		case errors.Is(err, endpoint.ErrTruncated):
			if s.metrics != nil {
				s.metrics.CaptureTruncated.Inc()
			}
			if s.truncation == FailOnTruncation {
				s.observeError("truncated")
				results <- outcome{packets: packets, err: err}
				return
			}
			s.logger.Warn().Int("size", len(payload)).Msg("Received truncated datagram")
			packets = append(packets, payload)
			s.observePacket(payload)
		default:
			s.observeError("receive")
			results <- outcome{packets: packets, err: err}
			return
		}
		// check after the attempt, so there is always at least one
		if done.Load() {
			results <- outcome{packets: packets}
			return
		}
	}
}

func (s *Session) observePacket(payload []byte) {
	s.logger.Debug().Int("size", len(payload)).Bytes("payload", payload).Msg("Received datagram")
	if s.metrics != nil {
		s.metrics.CapturePackets.Inc()
		s.metrics.CaptureReceived.Add(float64(len(payload)))
	}
}

func (s *Session) observeError(reason string) {
	if s.metrics != nil {
		s.metrics.CaptureErrors.WithLabelValues(reason).Inc()
	}
}
