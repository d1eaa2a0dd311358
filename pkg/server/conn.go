package server

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/aeolun/relaychat/pkg/protocol"
)

// SafeConn is the send handle for one client connection. Writes from the
// session goroutine and from broadcasts are serialized so frames never
// interleave, and each write is bounded by a deadline.
type SafeConn struct {
	conn      net.Conn
	ID        uint64
	Transport string // "tcp" or "websocket"

	writeMu      sync.Mutex
	writeTimeout time.Duration
	closeOnce    sync.Once
	closed       chan struct{}
}

// NewSafeConn wraps conn. A zero writeTimeout disables write deadlines.
func NewSafeConn(conn net.Conn, id uint64, transport string, writeTimeout time.Duration) *SafeConn {
	return &SafeConn{
		conn:         conn,
		ID:           id,
		Transport:    transport,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

// WriteMessage encodes msg as one frame and writes it
func (c *SafeConn) WriteMessage(msg protocol.Message) error {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return err
	}
	return c.WriteFrame(data)
}

// WriteFrame writes an already encoded frame
func (c *SafeConn) WriteFrame(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.IsClosed() {
		return net.ErrClosed
	}

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}

	n, err := c.conn.Write(data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("short write: %d of %d bytes", n, len(data))
	}
	return nil
}

// Close closes the underlying connection once. A blocked reader on the
// session goroutine wakes up with an error.
func (c *SafeConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

// RemoteAddr returns the peer address
func (c *SafeConn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// IsClosed reports whether Close has been called
func (c *SafeConn) IsClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
