package wsocket

import (
	"net"
	"time"
)

// StreamConn presents a Transport as a byte stream. It implements net.Conn,
// so it can be handed to anything that expects a socket.
//
// Message boundaries are not preserved on read: a message larger than the
// caller's buffer is returned across several Read calls, and its unread tail
// is kept until drained. Every Write is sent as exactly one binary message.
//
// One goroutine may Read while another Writes. Concurrent Reads, or
// concurrent Writes, are not supported.
type StreamConn struct {
	transport Transport
	pending   []byte
}

var _ net.Conn = (*StreamConn)(nil)

// NewStreamConn wraps an established transport. Write compression is enabled
// when the transport supports it.
func NewStreamConn(t Transport) *StreamConn {
	if c, ok := t.(compressor); ok {
		c.EnableWriteCompression(true)
	}
	return &StreamConn{transport: t}
}

// Transport returns the underlying message transport.
func (c *StreamConn) Transport() Transport {
	return c.transport
}

// Read reads up to len(b) bytes. When nothing is pending it blocks for the
// next message.
//
// A zero-length message yields (0, nil). End of stream is reported only
// through a non-nil error.
func (c *StreamConn) Read(b []byte) (int, error) {
	if len(c.pending) == 0 {
		_, p, err := c.transport.ReadMessage()
		if err != nil {
			c.pending = nil
			return 0, err
		}
		c.pending = p
	}

	n := copy(b, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// Write sends b as a single binary message.
//
// The returned count is always len(b), even when err is non-nil: the message
// is either sent whole or not at all, so err is the only failure signal.
func (c *StreamConn) Write(b []byte) (int, error) {
	err := c.transport.WriteMessage(BinaryMessage, b)
	return len(b), err
}

// Close closes the underlying transport.
func (c *StreamConn) Close() error {
	return c.transport.Close()
}

// LocalAddr returns the local network address.
func (c *StreamConn) LocalAddr() net.Addr {
	return c.transport.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (c *StreamConn) RemoteAddr() net.Addr {
	return c.transport.RemoteAddr()
}

// SetDeadline sets the read deadline and then the write deadline. If the
// read deadline cannot be set the write deadline is left untouched.
func (c *StreamConn) SetDeadline(t time.Time) error {
	if err := c.SetReadDeadline(t); err != nil {
		return err
	}
	return c.SetWriteDeadline(t)
}

// SetReadDeadline sets the deadline for Read.
func (c *StreamConn) SetReadDeadline(t time.Time) error {
	return c.transport.SetReadDeadline(t)
}

// SetWriteDeadline sets the deadline for Write.
func (c *StreamConn) SetWriteDeadline(t time.Time) error {
	return c.transport.SetWriteDeadline(t)
}
