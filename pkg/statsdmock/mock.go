package statsdmock

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Mock is a Server bound to a test.
// Any failure, from binding the socket to decoding a packet, stops the test.
type Mock struct {
	t      testing.TB
	server *Server
}

func Start(t testing.TB, opts ...Option) *Mock {
	t.Helper()
	server, err := New(opts...)
	require.NoError(t, err, "failed to start StatsD mock")
	t.Cleanup(func() {
		server.Close() // nolint: errcheck
	})
	return &Mock{
		t:      t,
		server: server,
	}
}

func (m *Mock) Addr() string {
	return m.server.Addr()
}

func (m *Mock) CaptureAll(action func()) []string {
	m.t.Helper()
	packets, err := m.server.CaptureAll(action)
	require.NoError(m.t, err, "failed to capture StatsD packets")
	return packets
}

func (m *Mock) Capture(action func()) string {
	m.t.Helper()
	got, err := m.server.Capture(action)
	require.NoError(m.t, err, "failed to capture StatsD packets")
	return got
}
