package wsocket

import (
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// Message types understood by a Transport. The values are the RFC 6455 opcodes
// used by github.com/gorilla/websocket.
const (
	TextMessage   = websocket.TextMessage
	BinaryMessage = websocket.BinaryMessage
)

// Transport is a message-oriented, full-duplex connection. Each ReadMessage
// returns exactly one whole message and each WriteMessage sends exactly one.
//
// ReadMessage and WriteMessage may be called concurrently with each other,
// but not with themselves.
type Transport interface {
	// ReadMessage blocks until the next data message arrives.
	ReadMessage() (messageType int, p []byte, err error)
	// WriteMessage sends data as a single message of the given type.
	WriteMessage(messageType int, data []byte) error
	// Close closes the connection.
	Close() error
	// LocalAddr returns the local network address.
	LocalAddr() net.Addr
	// RemoteAddr returns the remote network address.
	RemoteAddr() net.Addr
	// SetReadDeadline sets the deadline for future ReadMessage calls.
	SetReadDeadline(t time.Time) error
	// SetWriteDeadline sets the deadline for future WriteMessage calls.
	SetWriteDeadline(t time.Time) error
}

// compressor is implemented by transports that can compress outgoing messages.
type compressor interface {
	EnableWriteCompression(enable bool)
}

var (
	_ Transport  = (*websocket.Conn)(nil)
	_ compressor = (*websocket.Conn)(nil)
)
