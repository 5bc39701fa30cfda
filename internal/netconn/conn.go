// Package netconn sketches the connection contract this core consumes
// from a connection pool: write/readFully with a deadline, close, and a
// last-used timestamp bump. Pool acquire/release plumbing itself is out
// of scope; Dial below is a minimal, non-pooling implementation
// sufficient for tests and for callers who haven't wired in a real pool
// yet.
package netconn

import (
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Conn is the only surface the core uses from a pooled connection.
type Conn interface {
	// Write writes exactly len(buf) bytes or returns an error, bounded by
	// deadline.
	Write(buf []byte, deadline time.Time) error
	// ReadFull reads exactly n bytes into a new slice or returns an
	// error, bounded by deadline.
	ReadFull(n int, deadline time.Time) ([]byte, error)
	// Close closes the underlying transport.
	Close() error
	// UpdateLastUsed bumps the connection's idle clock, consulted by the
	// pool's maxSocketIdle eviction.
	UpdateLastUsed()
	// NodeAddress identifies which node this connection is attached to,
	// used only for error annotation.
	NodeAddress() string
}

// TCPConn is a thin, non-pooling Conn backed directly by a net.Conn. A
// production deployment wires a real pool (acquire/release, LIFO reuse,
// maxConnsPerNode, maxSocketIdle) around connections built this way;
// that plumbing is explicitly out of this core's scope.
type TCPConn struct {
	addr     string
	conn     net.Conn
	lastUsed time.Time
}

// Dial opens a new TCP connection to addr.
func Dial(addr string, timeout time.Duration) (*TCPConn, error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return &TCPConn{addr: addr, conn: c, lastUsed: time.Now()}, nil
}

func (c *TCPConn) Write(buf []byte, deadline time.Time) error {
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	_, err := c.conn.Write(buf)
	if err != nil {
		return errors.Wrapf(err, "write to %s", c.addr)
	}
	return nil
}

func (c *TCPConn) ReadFull(n int, deadline time.Time) ([]byte, error) {
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, errors.Wrap(err, "set read deadline")
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		return nil, errors.Wrapf(err, "read from %s", c.addr)
	}
	return buf, nil
}

func (c *TCPConn) Close() error {
	return c.conn.Close()
}

func (c *TCPConn) UpdateLastUsed() { c.lastUsed = time.Now() }

func (c *TCPConn) LastUsed() time.Time { return c.lastUsed }

func (c *TCPConn) NodeAddress() string { return c.addr }
