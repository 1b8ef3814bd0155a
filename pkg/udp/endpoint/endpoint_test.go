package endpoint_test

import (
	"bytes"
	"errors"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duyet/statsdmock/pkg/udp/endpoint"
)

func sendUDP(t *testing.T, addr string, payloads ...[]byte) {
	t.Helper()
	conn, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer conn.Close()
	for _, p := range payloads {
		_, err := conn.Write(p)
		require.NoError(t, err)
	}
}

func TestEndpoint_New(t *testing.T) {
	ep, err := endpoint.New()
	require.NoError(t, err)
	defer ep.Close() // nolint: errcheck

	assert.Equal(t, "127.0.0.1", ep.Addr().IP.String())
	assert.NotZero(t, ep.Addr().Port)
	assert.True(t, ep.AddrPort().Addr().IsLoopback())
	assert.Equal(t, endpoint.DefaultReadTimeout, ep.ReadTimeout())
	assert.Equal(t, endpoint.DefaultBufferSize, ep.BufferSize())
}

func TestEndpoint_StringIsStable(t *testing.T) {
	ep, err := endpoint.New()
	require.NoError(t, err)
	defer ep.Close() // nolint: errcheck

	first := ep.String()
	assert.Contains(t, first, "127.0.0.1:")
	assert.Equal(t, first, ep.String())
	assert.Equal(t, first, ep.AddrPort().String())
}

func TestEndpoint_InvalidOptions(t *testing.T) {
	tests := []struct {
		name string
		opt  endpoint.Option
	}{
		{
			"zero read timeout",
			endpoint.WithReadTimeout(0),
		},
		{
			"negative read timeout",
			endpoint.WithReadTimeout(-time.Second),
		},
		{
			"zero buffer size",
			endpoint.WithBufferSize(0),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := endpoint.New(tt.opt)
			assert.ErrorIs(t, err, endpoint.ErrInvalidOption)
			assert.Nil(t, ep)
		})
	}
}

func TestEndpoint_BindFailure(t *testing.T) {
	taken, err := endpoint.New()
	require.NoError(t, err)
	defer taken.Close() // nolint: errcheck

	ep, err := endpoint.New(endpoint.WithAddress(taken.String()))
	assert.Error(t, err)
	assert.Nil(t, ep)

	ep, err = endpoint.New(endpoint.WithAddress("not an address"))
	assert.Error(t, err)
	assert.Nil(t, ep)
}

func TestEndpoint_ReceiveInOrder(t *testing.T) {
	ep, err := endpoint.New()
	require.NoError(t, err)
	defer ep.Close() // nolint: errcheck

	sendUDP(t, ep.String(), []byte("foo:1|c"), []byte("bar:2|c"))

	first, err := ep.Receive()
	require.NoError(t, err)
	assert.Equal(t, "foo:1|c", string(first))

	second, err := ep.Receive()
	require.NoError(t, err)
	assert.Equal(t, "bar:2|c", string(second))
}

func TestEndpoint_ReceiveTimeout(t *testing.T) {
	ep, err := endpoint.New(endpoint.WithReadTimeout(time.Millisecond * 10))
	require.NoError(t, err)
	defer ep.Close() // nolint: errcheck

	started := time.Now()
	payload, err := ep.Receive()
	assert.ErrorIs(t, err, endpoint.ErrTimeout)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.Nil(t, payload)
	assert.GreaterOrEqual(t, time.Since(started), time.Millisecond*10)
}

func TestEndpoint_ReceiveTruncated(t *testing.T) {
	tests := []struct {
		name      string
		size      int
		wantLen   int
		truncated bool
	}{
		{
			"smaller than buffer",
			15,
			15,
			false,
		},
		{
			"exactly buffer size",
			16,
			16,
			false,
		},
		{
			"one byte over",
			17,
			16,
			true,
		},
		{
			"much larger",
			1024,
			16,
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep, err := endpoint.New(endpoint.WithBufferSize(16))
			require.NoError(t, err)
			defer ep.Close() // nolint: errcheck

			sendUDP(t, ep.String(), bytes.Repeat([]byte{'x'}, tt.size))

			payload, err := ep.Receive()
			if tt.truncated {
				assert.ErrorIs(t, err, endpoint.ErrTruncated)
			} else {
				assert.NoError(t, err)
			}
			assert.Len(t, payload, tt.wantLen)
		})
	}
}

func TestEndpoint_ReceiveReturnsCopies(t *testing.T) {
	ep, err := endpoint.New()
	require.NoError(t, err)
	defer ep.Close() // nolint: errcheck

	sendUDP(t, ep.String(), []byte("aaaa"), []byte("bb"))

	first, err := ep.Receive()
	require.NoError(t, err)
	_, err = ep.Receive()
	require.NoError(t, err)
	// the second read must not overwrite the first payload
	assert.Equal(t, "aaaa", string(first))
}

func TestEndpoint_Close(t *testing.T) {
	ep, err := endpoint.New()
	require.NoError(t, err)

	require.NoError(t, ep.Close())
	// closing twice is fine
	require.NoError(t, ep.Close())

	_, err = ep.Receive()
	assert.Error(t, err)
	assert.False(t, errors.Is(err, endpoint.ErrTimeout))
}
