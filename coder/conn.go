// Package coder lets a github.com/coder/websocket connection back a
// wsocket.StreamConn.
//
// coder/websocket bounds blocking calls with contexts rather than deadlines.
// Transport stores the read and write deadlines and derives a context from
// them for every call. As with coder/websocket itself, a read that times out
// while in progress closes the connection.
package coder

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/pkg/errors"

	"github.com/Zereker/wsocket"
)

// Transport implements wsocket.Transport for a coder/websocket connection.
type Transport struct {
	conn   *websocket.Conn
	local  net.Addr
	remote net.Addr

	readDeadline  atomic.Int64 // unix nanoseconds, 0 means none
	writeDeadline atomic.Int64
	closed        atomic.Bool
}

var _ wsocket.Transport = (*Transport)(nil)

// Wrap wraps c. coder/websocket does not expose endpoint addresses, so the
// caller supplies them; nil addresses are replaced with a placeholder.
func Wrap(c *websocket.Conn, local, remote net.Addr) *Transport {
	if local == nil {
		local = addr("")
	}
	if remote == nil {
		remote = addr("")
	}
	return &Transport{conn: c, local: local, remote: remote}
}

// Conn returns the wrapped connection.
func (t *Transport) Conn() *websocket.Conn {
	return t.conn
}

// ReadMessage reads the next message, honoring the read deadline.
func (t *Transport) ReadMessage() (int, []byte, error) {
	ctx, cancel, err := t.context("read", &t.readDeadline)
	if err != nil {
		return 0, nil, err
	}
	defer cancel()

	typ, p, err := t.conn.Read(ctx)
	if err != nil {
		return 0, nil, t.timeout(ctx, "read", err)
	}
	return messageType(typ), p, nil
}

// WriteMessage writes data as one message, honoring the write deadline.
func (t *Transport) WriteMessage(messageType int, data []byte) error {
	typ := websocket.MessageBinary
	if messageType == wsocket.TextMessage {
		typ = websocket.MessageText
	}

	ctx, cancel, err := t.context("write", &t.writeDeadline)
	if err != nil {
		return err
	}
	defer cancel()

	if err = t.conn.Write(ctx, typ, data); err != nil {
		return t.timeout(ctx, "write", err)
	}
	return nil
}

// Close performs the close handshake with a normal closure status.
func (t *Transport) Close() error {
	t.closed.Store(true)
	return t.conn.Close(websocket.StatusNormalClosure, "")
}

// LocalAddr returns the local address given to Wrap.
func (t *Transport) LocalAddr() net.Addr {
	return t.local
}

// RemoteAddr returns the remote address given to Wrap.
func (t *Transport) RemoteAddr() net.Addr {
	return t.remote
}

// SetReadDeadline sets the deadline for future ReadMessage calls.
// A zero value disables it.
func (t *Transport) SetReadDeadline(deadline time.Time) error {
	return t.setDeadline(&t.readDeadline, deadline)
}

// SetWriteDeadline sets the deadline for future WriteMessage calls.
// A zero value disables it.
func (t *Transport) SetWriteDeadline(deadline time.Time) error {
	return t.setDeadline(&t.writeDeadline, deadline)
}

func (t *Transport) setDeadline(v *atomic.Int64, deadline time.Time) error {
	if t.closed.Load() {
		return net.ErrClosed
	}
	if deadline.IsZero() {
		v.Store(0)
	} else {
		v.Store(deadline.UnixNano())
	}
	return nil
}

// context derives the context for one call. An already expired deadline
// fails without touching the connection.
func (t *Transport) context(op string, v *atomic.Int64) (context.Context, context.CancelFunc, error) {
	ns := v.Load()
	if ns == 0 {
		return context.Background(), func() {}, nil
	}

	deadline := time.Unix(0, ns)
	if !time.Now().Before(deadline) {
		return nil, nil, t.opError(op, os.ErrDeadlineExceeded)
	}
	ctx, cancel := context.WithDeadline(context.Background(), deadline)
	return ctx, cancel, nil
}

// timeout converts a failure caused by an expired deadline into a
// timeout-class net.Error. Other errors pass through unchanged.
func (t *Transport) timeout(ctx context.Context, op string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return t.opError(op, os.ErrDeadlineExceeded)
	}
	return err
}

func (t *Transport) opError(op string, err error) error {
	return &net.OpError{
		Op:     op,
		Net:    "websocket",
		Source: t.local,
		Addr:   t.remote,
		Err:    err,
	}
}

func messageType(typ websocket.MessageType) int {
	if typ == websocket.MessageText {
		return wsocket.TextMessage
	}
	return wsocket.BinaryMessage
}

// addr is a net.Addr for endpoints known only by their string form.
type addr string

func (a addr) Network() string { return "websocket" }
func (a addr) String() string  { return string(a) }

// Accept accepts a WebSocket handshake and wraps the connection in a
// StreamConn. With nil opts every origin is accepted and compression is
// negotiated without context takeover.
func Accept(w http.ResponseWriter, r *http.Request, opts *websocket.AcceptOptions) (*wsocket.StreamConn, error) {
	if opts == nil {
		opts = &websocket.AcceptOptions{
			InsecureSkipVerify: true,
			CompressionMode:    websocket.CompressionNoContextTakeover,
		}
	}

	c, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, errors.Wrap(err, "websocket accept")
	}

	local, _ := r.Context().Value(http.LocalAddrContextKey).(net.Addr)
	return wsocket.NewStreamConn(Wrap(c, local, addr(r.RemoteAddr))), nil
}

// Dial opens a client connection to urlStr and wraps it in a StreamConn.
func Dial(ctx context.Context, urlStr string, opts *websocket.DialOptions) (*wsocket.StreamConn, error) {
	u, err := url.Parse(urlStr)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", urlStr)
	}

	// coder/websocket owns the handshake response body.
	c, _, err := websocket.Dial(ctx, urlStr, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", urlStr)
	}
	return wsocket.NewStreamConn(Wrap(c, nil, addr(u.Host))), nil
}
