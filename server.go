package wsocket

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Handler serves upgraded connections.
type Handler interface {
	// Handle is called in its own goroutine for each upgraded connection
	// and owns it from then on.
	Handle(conn net.Conn)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(conn net.Conn)

// Handle calls f(conn).
func (f HandlerFunc) Handle(conn net.Conn) {
	f(conn)
}

// Server accepts WebSocket upgrades on a TCP listener and passes each
// connection, as a StreamConn, to a Handler.
type Server struct {
	listener        net.Listener
	upgrader        *Upgrader
	path            string
	logger          Logger
	shutdownTimeout time.Duration

	mu          sync.Mutex
	httpServer  *http.Server
	shutdown    bool
	shutdownNow chan struct{} // bypasses the shutdown timeout
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLoggerOption sets the logger for the server.
func ServerLoggerOption(logger Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

// ServerShutdownTimeoutOption sets how long the server keeps accepting after
// its context is canceled. Default is 0 (immediate shutdown).
//
// Upgraded connections are not tracked by the server; stop them through the
// context given to Conn.Run or by closing them.
func ServerShutdownTimeoutOption(timeout time.Duration) ServerOption {
	return func(s *Server) {
		s.shutdownTimeout = timeout
	}
}

// ServerPathOption sets the request path that is upgraded. Default is "/".
func ServerPathOption(path string) ServerOption {
	return func(s *Server) {
		s.path = path
	}
}

// ServerUpgraderOption replaces the default Upgrader.
func ServerUpgraderOption(u *Upgrader) ServerOption {
	return func(s *Server) {
		s.upgrader = u
	}
}

// New creates a server listening on the TCP address addr.
func New(addr string, opts ...ServerOption) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", addr)
	}

	s := &Server{
		listener:    listener,
		upgrader:    defaultUpgrader,
		path:        "/",
		logger:      slog.Default(),
		shutdownNow: make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// Serve accepts connections and dispatches them to handler. It blocks until
// ctx is canceled or the listener fails.
//
// After ctx is canceled the server keeps serving for the shutdown timeout,
// unless Close is called first, and then returns ctx.Err().
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	mux := http.NewServeMux()
	mux.Handle(s.path, s.upgradeHandler(handler))

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		return http.ErrServerClosed
	}
	s.httpServer = &http.Server{Handler: mux}
	httpServer := s.httpServer
	s.mu.Unlock()

	s.logger.Info("server started", "addr", s.listener.Addr(), "path", s.path)

	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}

		if s.shutdownTimeout > 0 {
			s.logger.Info("graceful shutdown initiated", "timeout", s.shutdownTimeout)
			select {
			case <-time.After(s.shutdownTimeout):
			case <-s.shutdownNow:
				s.logger.Debug("shutdown timeout bypassed via Close()")
			}
		}

		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()
		_ = httpServer.Close()
	}()

	err := httpServer.Serve(s.listener)

	s.mu.Lock()
	isShutdown := s.shutdown
	s.mu.Unlock()

	if isShutdown {
		s.logger.Info("server stopped", "addr", s.listener.Addr())
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return http.ErrServerClosed
	}

	s.logger.Error("serve error", "error", err)
	return err
}

// upgradeHandler upgrades each request and starts handler on the stream.
func (s *Server) upgradeHandler(handler Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Debug("upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
			return
		}

		s.logger.Debug("accepted connection", "remote_addr", conn.RemoteAddr())
		go handler.Handle(conn)
	})
}

// Close stops the server immediately, bypassing any pending shutdown
// timeout. Connections already handed to the Handler stay open.
func (s *Server) Close() error {
	s.mu.Lock()
	s.shutdown = true
	httpServer := s.httpServer
	s.mu.Unlock()

	select {
	case s.shutdownNow <- struct{}{}:
	default:
	}

	if httpServer != nil {
		return httpServer.Close()
	}
	return s.listener.Close()
}

// Addr returns the listener's network address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}
