package wsocket

import "io"

// Message is the unit exchanged by a Conn.
type Message interface {
	// Length returns the length of the message body.
	Length() int
	// Body returns the raw message data.
	Body() []byte
}

// Codec frames messages on top of a byte stream.
//
// Decode reads from an io.Reader rather than from whole WebSocket messages:
// when the stream is a StreamConn, one frame may span several WebSocket
// messages and one WebSocket message may hold several frames. The codec reads
// exactly the bytes of one frame and leaves the rest on the stream.
type Codec interface {
	// Decode reads and decodes one complete message from r.
	Decode(r io.Reader) (Message, error)
	// Encode encodes a Message into bytes for transmission.
	Encode(Message) ([]byte, error)
}
