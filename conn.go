// Package wsocket carries byte streams over WebSocket connections.
//
// StreamConn adapts a message-oriented WebSocket connection to net.Conn.
// Conn and Server build on it: Server upgrades HTTP requests and hands each
// stream to a Handler, and Conn runs codec-framed messages over any net.Conn
// with asynchronous read and write loops.
package wsocket

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Errors returned by Conn.
var (
	// ErrInvalidCodec is returned when no codec is provided.
	ErrInvalidCodec = errors.New("invalid codec")
	// ErrInvalidOnMessage is returned when no message handler is provided.
	ErrInvalidOnMessage = errors.New("invalid on message callback")
	// ErrMessageTooLarge is returned when a frame exceeds the maximum size.
	ErrMessageTooLarge = errors.New("message too large")
	// ErrConnectionClosed is returned when writing to a closed Conn.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrBufferFull is returned by Write when the send queue is full.
	// The message was not queued; use WriteBlocking or WriteTimeout to wait.
	ErrBufferFull = errors.New("send buffer full")
)

// Default configuration values.
const (
	defaultBufferSize     = 1
	defaultMaxMessageSize = 1024 * 1024
	defaultHeartbeat      = 30 * time.Second
)

// limitedReader fails with ErrMessageTooLarge once more than the allowed
// number of bytes has been consumed for the current frame.
type limitedReader struct {
	r         io.Reader
	remaining int64
}

func newLimitedReader(r io.Reader, limit int64) *limitedReader {
	return &limitedReader{r: r, remaining: limit}
}

func (l *limitedReader) Read(p []byte) (n int, err error) {
	if l.remaining <= 0 {
		return 0, ErrMessageTooLarge
	}
	if int64(len(p)) > l.remaining {
		p = p[:l.remaining]
	}
	n, err = l.r.Read(p)
	l.remaining -= int64(n)
	return
}

// reset starts a new frame. Bytes already buffered below stay in place.
func (l *limitedReader) reset(limit int64) {
	l.remaining = limit
}

// Conn exchanges codec-framed messages over a byte stream, usually a
// StreamConn. Run drives a read loop that dispatches decoded messages to the
// handler and a write loop that drains queued outgoing messages.
type Conn struct {
	rawConn net.Conn
	reader  *limitedReader
	logger  Logger

	opts options

	sendMsg   chan []byte
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	cancel    context.CancelFunc
}

// NewConn wraps conn. A codec and a message handler are required.
func NewConn(conn net.Conn, opt ...Option) (*Conn, error) {
	var opts options
	for _, o := range opt {
		o(&opts)
	}

	if err := checkOptions(&opts); err != nil {
		return nil, err
	}

	return newConnWithOptions(conn, opts), nil
}

// checkOptions validates opts and fills in defaults.
func checkOptions(opts *options) error {
	if opts.codec == nil {
		return ErrInvalidCodec
	}

	if opts.onMessage == nil {
		return ErrInvalidOnMessage
	}

	if opts.bufferSize <= 0 {
		opts.bufferSize = defaultBufferSize
	}

	if opts.maxMessageSize <= 0 {
		opts.maxMessageSize = defaultMaxMessageSize
	}

	if opts.heartbeat <= 0 {
		opts.heartbeat = defaultHeartbeat
	}

	if opts.onError == nil {
		opts.onError = func(error) ErrorAction { return Disconnect }
	}

	if opts.logger == nil {
		opts.logger = defaultLogger()
	}

	return nil
}

func newConnWithOptions(c net.Conn, opts options) *Conn {
	return &Conn{
		rawConn: c,
		reader:  newLimitedReader(bufio.NewReader(c), int64(opts.maxMessageSize)),
		logger:  opts.logger,
		opts:    opts,
		sendMsg: make(chan []byte, opts.bufferSize),
	}
}

// Run starts the read and write loops and blocks until one of them fails or
// ctx is canceled. The underlying connection is closed when Run returns.
func (c *Conn) Run(ctx context.Context) error {
	c.logger.Info("connection established", "addr", c.Addr())
	c.logger.Debug("connection options", "addr", c.Addr(),
		"buffer_size", c.opts.bufferSize,
		"max_message_size", c.opts.maxMessageSize,
		"heartbeat", c.opts.heartbeat)

	ctx, c.cancel = context.WithCancel(ctx)
	group, child := errgroup.WithContext(ctx)

	group.Go(func() error {
		return c.readLoop(child)
	})

	group.Go(func() error {
		return c.writeLoop(child)
	})

	// A read blocked in the transport only returns once the stream closes.
	go func() {
		<-child.Done()
		_ = c.closeConn()
	}()

	err := group.Wait()
	_ = c.closeConn()

	if err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Info("connection closed with error", "addr", c.Addr(), "error", err)
	} else {
		c.logger.Info("connection closed", "addr", c.Addr())
	}

	return err
}

// Close stops Run and closes the underlying connection. Safe to call more
// than once.
func (c *Conn) Close() error {
	c.closed.Store(true)
	if c.cancel != nil {
		c.cancel()
	}
	return c.closeConn()
}

// IsClosed reports whether the connection has been closed.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// Write encodes and queues a message without blocking. It returns
// ErrBufferFull when the queue is full; the message is then dropped.
func (c *Conn) Write(message Message) error {
	data, err := c.encode(message)
	if err != nil {
		return err
	}

	select {
	case c.sendMsg <- data:
		return nil
	default:
		return ErrBufferFull
	}
}

// WriteBlocking encodes and queues a message, waiting for queue space until
// ctx is done.
func (c *Conn) WriteBlocking(ctx context.Context, message Message) error {
	data, err := c.encode(message)
	if err != nil {
		return err
	}

	select {
	case c.sendMsg <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WriteTimeout encodes and queues a message, waiting at most timeout for
// queue space. It returns ErrBufferFull when the wait expires.
func (c *Conn) WriteTimeout(message Message, timeout time.Duration) error {
	data, err := c.encode(message)
	if err != nil {
		return err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c.sendMsg <- data:
		return nil
	case <-timer.C:
		return ErrBufferFull
	}
}

func (c *Conn) encode(message Message) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	return c.opts.codec.Encode(message)
}

// Addr returns the remote address of the connection.
func (c *Conn) Addr() net.Addr {
	return c.rawConn.RemoteAddr()
}

// readLoop decodes frames from the stream and hands them to the handler.
func (c *Conn) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_ = c.rawConn.SetReadDeadline(time.Now().Add(c.opts.heartbeat * 2))

		c.reader.reset(int64(c.opts.maxMessageSize))

		message, err := c.opts.codec.Decode(c.reader)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Debug("read error", "addr", c.Addr(), "error", err)
			if c.opts.onError(err) == Disconnect {
				return err
			}
			continue
		}

		if err = c.opts.onMessage(c, message); err != nil {
			return err
		}
	}
}

// writeLoop sends queued messages until ctx is done or a write fails.
func (c *Conn) writeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data := <-c.sendMsg:
			if err := c.write(data); err != nil {
				return err
			}
		}
	}
}

// write sends one encoded message. Errors the onError callback chooses to
// keep are dropped.
func (c *Conn) write(data []byte) error {
	_ = c.rawConn.SetWriteDeadline(time.Now().Add(c.opts.heartbeat * 2))

	if _, err := c.rawConn.Write(data); err != nil {
		c.logger.Debug("write error", "addr", c.Addr(), "error", err)
		if c.opts.onError(err) == Disconnect {
			return err
		}
	}

	return nil
}

// closeConn marks the connection closed and closes the stream once. Later
// callers wait for the first close to finish.
func (c *Conn) closeConn() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.rawConn.Close()
	})
	return c.closeErr
}
