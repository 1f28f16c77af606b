package wsocket

import (
	"time"
)

// ErrorAction is what a Conn does after a read or write error.
type ErrorAction int

const (
	// Disconnect stops the connection.
	Disconnect ErrorAction = iota
	// Continue drops the error and keeps the connection running.
	Continue
)

// MessageHandler is called by Conn.Run for each decoded message.
// Returning an error stops the connection.
type MessageHandler func(c *Conn, m Message) error

// options holds the configuration for a Conn.
type options struct {
	codec  Codec
	logger Logger

	onMessage MessageHandler
	onError   func(error) ErrorAction

	bufferSize     int           // queued outgoing messages
	maxMessageSize int           // largest decodable frame, prefix included
	heartbeat      time.Duration // deadlines are heartbeat*2 from each read/write
}

// Option configures a Conn.
type Option func(*options)

// CodecOption sets the message codec. Required.
func CodecOption(codec Codec) Option {
	return func(o *options) {
		o.codec = codec
	}
}

// BufferSizeOption sets how many encoded messages may wait for the write loop.
func BufferSizeOption(size int) Option {
	return func(o *options) {
		o.bufferSize = size
	}
}

// HeartbeatOption sets the heartbeat interval. The peer must send or accept
// data within twice this interval or the pending read or write times out.
func HeartbeatOption(heartbeat time.Duration) Option {
	return func(o *options) {
		o.heartbeat = heartbeat
	}
}

// MaxMessageSizeOption caps the number of stream bytes one Decode may consume.
func MaxMessageSizeOption(size int) Option {
	return func(o *options) {
		o.maxMessageSize = size
	}
}

// OnErrorOption sets the callback for read, decode and write errors.
// Without it every error disconnects.
func OnErrorOption(cb func(error) ErrorAction) Option {
	return func(o *options) {
		o.onError = cb
	}
}

// OnMessageOption sets the message handler. Required.
func OnMessageOption(cb MessageHandler) Option {
	return func(o *options) {
		o.onMessage = cb
	}
}

// LoggerOption sets the logger. Defaults to slog.Default().
func LoggerOption(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}
