package wsocket

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// defaultHandshakeTimeout bounds the opening handshake of Dial.
const defaultHandshakeTimeout = 10 * time.Second

// Upgrader upgrades HTTP requests to WebSocket connections and returns them
// as stream connections. By default every origin is accepted.
type Upgrader struct {
	ws websocket.Upgrader
}

// UpgraderOption configures an Upgrader.
type UpgraderOption func(*websocket.Upgrader)

// CheckOriginOption sets the origin policy. Returning false rejects the
// handshake with 403.
func CheckOriginOption(fn func(r *http.Request) bool) UpgraderOption {
	return func(u *websocket.Upgrader) {
		u.CheckOrigin = fn
	}
}

// BufferSizeOption sets the I/O buffer sizes of the upgraded connection.
func BufferSizeOption(read, write int) UpgraderOption {
	return func(u *websocket.Upgrader) {
		u.ReadBufferSize = read
		u.WriteBufferSize = write
	}
}

// CompressionOption controls per-message compression negotiation.
func CompressionOption(enable bool) UpgraderOption {
	return func(u *websocket.Upgrader) {
		u.EnableCompression = enable
	}
}

// SubprotocolsOption sets the server's supported subprotocols in order of
// preference.
func SubprotocolsOption(protocols ...string) UpgraderOption {
	return func(u *websocket.Upgrader) {
		u.Subprotocols = protocols
	}
}

// HandshakeTimeoutOption bounds the server side of the handshake.
func HandshakeTimeoutOption(timeout time.Duration) UpgraderOption {
	return func(u *websocket.Upgrader) {
		u.HandshakeTimeout = timeout
	}
}

// NewUpgrader creates an Upgrader that accepts all origins unless
// CheckOriginOption says otherwise.
func NewUpgrader(opts ...UpgraderOption) *Upgrader {
	u := &Upgrader{
		ws: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(&u.ws)
	}
	return u
}

// Upgrade upgrades the request and wraps the connection in a StreamConn.
// On failure the HTTP error response has already been written.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request, responseHeader http.Header) (*StreamConn, error) {
	conn, err := u.ws.Upgrade(w, r, responseHeader)
	if err != nil {
		return nil, errors.Wrap(err, "websocket upgrade")
	}
	return NewStreamConn(conn), nil
}

var defaultUpgrader = NewUpgrader()

// NewServerConn upgrades the request with the default Upgrader.
func NewServerConn(w http.ResponseWriter, r *http.Request) (*StreamConn, error) {
	return defaultUpgrader.Upgrade(w, r, nil)
}

// Dial opens a WebSocket client connection to urlStr and wraps it in a
// StreamConn.
func Dial(ctx context.Context, urlStr string, header http.Header) (*StreamConn, error) {
	dialer := websocket.Dialer{
		Proxy:             http.ProxyFromEnvironment,
		HandshakeTimeout:  defaultHandshakeTimeout,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, urlStr, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", urlStr)
	}
	return NewStreamConn(conn), nil
}
