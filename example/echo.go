// Command wsecho runs a length-prefixed echo service over WebSockets.
//
// Every upgraded connection is read as a byte stream and split into frames
// with a 4-byte big-endian length prefix; each frame is written back as is.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Zereker/wsocket"
)

var (
	listenAddr      string
	upgradePath     string
	heartbeat       time.Duration
	maxMessageSize  int
	shutdownTimeout time.Duration
	debug           bool
)

var rootCmd = &cobra.Command{
	Use:          "wsecho",
	Short:        "Length-prefixed echo server over WebSockets",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(debug)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return run(ctx, wsocket.ZapLogger(logger))
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&listenAddr, "addr", "127.0.0.1:12345", "listen address")
	flags.StringVar(&upgradePath, "path", "/", "path upgraded to WebSocket")
	flags.DurationVar(&heartbeat, "heartbeat", 30*time.Second, "idle interval; connections time out after twice this")
	flags.IntVar(&maxMessageSize, "max-message", 1024*1024, "largest accepted frame in bytes")
	flags.DurationVar(&shutdownTimeout, "shutdown-timeout", 0, "keep accepting for this long after a shutdown signal")
	flags.BoolVar(&debug, "debug", false, "enable debug logging")
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(ctx context.Context, logger wsocket.Logger) error {
	server, err := wsocket.New(listenAddr,
		wsocket.ServerLoggerOption(logger),
		wsocket.ServerPathOption(upgradePath),
		wsocket.ServerShutdownTimeoutOption(shutdownTimeout),
	)
	if err != nil {
		return err
	}

	e := &echo{ctx: ctx, logger: logger}
	err = server.Serve(ctx, e)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// echo runs a framed Conn on every upgraded stream.
type echo struct {
	ctx    context.Context
	logger wsocket.Logger
}

func (e *echo) Handle(stream net.Conn) {
	conn, err := wsocket.NewConn(stream,
		wsocket.CodecOption(wsocket.LengthFieldCodec{MaxLength: maxMessageSize}),
		wsocket.MaxMessageSizeOption(maxMessageSize+4),
		wsocket.HeartbeatOption(heartbeat),
		wsocket.LoggerOption(e.logger),
		wsocket.OnMessageOption(func(c *wsocket.Conn, m wsocket.Message) error {
			return c.WriteBlocking(e.ctx, m)
		}),
	)
	if err != nil {
		e.logger.Error("failed to create connection", "error", err)
		_ = stream.Close()
		return
	}

	_ = conn.Run(e.ctx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
