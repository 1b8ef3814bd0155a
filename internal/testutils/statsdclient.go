package testutils

import (
	"fmt"
	"net"
	"strconv"
)

// StatsDClient writes StatsD lines over UDP, one line per datagram.
// It plays the client under test and panics on any network error.
type StatsDClient struct {
	conn   net.Conn
	prefix string
}

func NewStatsDClient(address string, prefix string) *StatsDClient {
	conn, err := net.Dial("udp", address)
	if err != nil {
		panic(err)
	}
	return &StatsDClient{
		conn:   conn,
		prefix: prefix,
	}
}

func (c *StatsDClient) Incr(name string) {
	c.Count(name, 1)
}

func (c *StatsDClient) Decr(name string) {
	c.Count(name, -1)
}

func (c *StatsDClient) Count(name string, value float64) {
	c.send(name, strconv.FormatFloat(value, 'f', -1, 64), "c")
}

func (c *StatsDClient) Gauge(name string, value float64) {
	c.send(name, strconv.FormatFloat(value, 'f', -1, 64), "g")
}

func (c *StatsDClient) Timing(name string, ms int) {
	c.send(name, strconv.Itoa(ms), "ms")
}

func (c *StatsDClient) Send(payload []byte) {
	if _, err := c.conn.Write(payload); err != nil {
		panic(err)
	}
}

func (c *StatsDClient) Close() {
	c.conn.Close() // nolint: errcheck
}

func (c *StatsDClient) send(name, value, kind string) {
	if c.prefix != "" {
		name = c.prefix + "." + name
	}
	c.Send([]byte(fmt.Sprintf("%s:%s|%s", name, value, kind)))
}

// SendUDP fires payloads at address from a throwaway socket.
func SendUDP(address string, payloads ...[]byte) {
	c := NewStatsDClient(address, "")
	defer c.Close()
	for _, p := range payloads {
		c.Send(p)
	}
}
