package wsocket

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// lengthFieldSize is the size of the big-endian length prefix.
const lengthFieldSize = 4

// RawMessage is a Message carrying an opaque body.
type RawMessage []byte

// Length returns the body length.
func (m RawMessage) Length() int { return len(m) }

// Body returns the body.
func (m RawMessage) Body() []byte { return m }

// LengthFieldCodec frames each message with a 4-byte big-endian length
// prefix. Decoded messages are RawMessage values.
type LengthFieldCodec struct {
	// MaxLength rejects larger bodies before they are allocated.
	// Zero means no limit beyond the prefix range.
	MaxLength int
}

// Decode reads one length-prefixed message.
func (c LengthFieldCodec) Decode(r io.Reader) (Message, error) {
	var header [lengthFieldSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(header[:])
	if c.MaxLength > 0 && uint64(length) > uint64(c.MaxLength) {
		return nil, ErrMessageTooLarge
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return RawMessage(body), nil
}

// Encode prefixes the message body with its length.
func (c LengthFieldCodec) Encode(m Message) ([]byte, error) {
	body := m.Body()
	if uint64(len(body)) > uint64(^uint32(0)) || (c.MaxLength > 0 && len(body) > c.MaxLength) {
		return nil, ErrMessageTooLarge
	}

	buf := make([]byte, lengthFieldSize+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[lengthFieldSize:], body)
	return buf, nil
}
