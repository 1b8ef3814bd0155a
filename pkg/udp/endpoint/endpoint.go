package endpoint

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"
)

const (
	DefaultAddress     = "127.0.0.1:0" // 0 - let the OS pick a free port
	DefaultReadTimeout = time.Millisecond * 100
	// DefaultBufferSize is the largest datagram accepted without truncation.
	DefaultBufferSize = 1500
)

var (
	ErrInvalidOption = errors.New("endpoint: invalid option")
	ErrTimeout       = fmt.Errorf("endpoint: receive timed out: %w", os.ErrDeadlineExceeded)
	ErrTruncated     = errors.New("endpoint: datagram exceeds buffer size")
)

type Option func(*Endpoint) error

// Endpoint is a loopback UDP socket that accepts datagrams
// one at a time, each read bounded by the configured read timeout.
type Endpoint struct {
	addr        *net.UDPAddr
	conn        *net.UDPConn
	readTimeout time.Duration
	bufferSize  int
	buffer      []byte
	closeOnce   sync.Once
	closeErr    error
	listenAddr  string
}

func WithAddress(addr string) Option {
	return func(e *Endpoint) error {
		e.listenAddr = addr
		return nil
	}
}

func WithReadTimeout(timeout time.Duration) Option {
	return func(e *Endpoint) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: read timeout must be positive, got %s", ErrInvalidOption, timeout)
		}
		e.readTimeout = timeout
		return nil
	}
}

func WithBufferSize(sz int) Option {
	return func(e *Endpoint) error {
		if sz <= 0 {
			return fmt.Errorf("%w: buffer size must be positive, got %d", ErrInvalidOption, sz)
		}
		e.bufferSize = sz
		return nil
	}
}

// New binds the endpoint right away, so that datagrams sent
// to its address are queued by the OS before anyone reads them.
func New(opts ...Option) (*Endpoint, error) {
	e := &Endpoint{
		// set defaults
		listenAddr:  DefaultAddress,
		readTimeout: DefaultReadTimeout,
		bufferSize:  DefaultBufferSize,
	}
	for _, opt := range opts {
		if optErr := opt(e); optErr != nil {
			return nil, optErr
		}
	}

	udpAddr, err := net.ResolveUDPAddr("udp4", e.listenAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address %s due to: %w", e.listenAddr, err)
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind UDP endpoint %s due to: %w", udpAddr, err)
	}
	localAddr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		conn.Close() // nolint: errcheck
		return nil, fmt.Errorf("unexpected local address type %T", conn.LocalAddr())
	}

	e.conn = conn
	e.addr = localAddr
	// one extra byte lets us tell a full-sized datagram from a truncated one
	e.buffer = make([]byte, e.bufferSize+1)

	return e, nil
}

func (e *Endpoint) Addr() *net.UDPAddr {
	return e.addr
}

func (e *Endpoint) AddrPort() netip.AddrPort {
	return e.addr.AddrPort()
}

// String returns the address in host:port form, e.g. 127.0.0.1:54321
func (e *Endpoint) String() string {
	return e.addr.String()
}

func (e *Endpoint) ReadTimeout() time.Duration {
	return e.readTimeout
}

func (e *Endpoint) BufferSize() int {
	return e.bufferSize
}

// Receive waits up to the read timeout for a single datagram
// and returns a copy of its payload.
// ErrTimeout is returned when nothing arrives in time.
// A datagram larger than the buffer size is returned cut to the buffer size along with ErrTruncated.
// Receive must not be called concurrently.
func (e *Endpoint) Receive() ([]byte, error) {
	if err := e.conn.SetReadDeadline(time.Now().Add(e.readTimeout)); err != nil {
		return nil, fmt.Errorf("failed to set read deadline on %s due to: %w", e.addr, err)
	}
	n, _, err := e.conn.ReadFromUDP(e.buffer)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("failed to read on UDP endpoint %s due to: %w", e.addr, err)
	}
	if n > e.bufferSize {
		payload := make([]byte, e.bufferSize)
		copy(payload, e.buffer[:e.bufferSize])
		return payload, ErrTruncated
	}
	payload := make([]byte, n)
	copy(payload, e.buffer[:n])
	return payload, nil
}

func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		if err := e.conn.Close(); err != nil {
			e.closeErr = fmt.Errorf("failed to close UDP endpoint %s due to: %w", e.addr, err)
		}
	})
	return e.closeErr
}
