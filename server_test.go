package wsocket

import (
	"context"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"
)

// mockHandler implements Handler for testing.
type mockHandler struct {
	mu       sync.Mutex
	conns    []net.Conn
	handleCh chan net.Conn
}

func newMockHandler() *mockHandler {
	return &mockHandler{
		handleCh: make(chan net.Conn, 10),
	}
}

func (h *mockHandler) Handle(conn net.Conn) {
	h.mu.Lock()
	h.conns = append(h.conns, conn)
	h.mu.Unlock()

	select {
	case h.handleCh <- conn:
	default:
	}
}

func (h *mockHandler) getConns() []net.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]net.Conn(nil), h.conns...)
}

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	server, err := New("127.0.0.1:0", opts...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return server
}

func serverURL(s *Server, path string) string {
	return "ws://" + s.Addr().String() + path
}

func dialServer(t *testing.T, s *Server, path string) *StreamConn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := Dial(ctx, serverURL(s, path), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func TestNew(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	if server.listener == nil {
		t.Error("listener is nil")
	}
	if server.path != "/" {
		t.Errorf("path = %q, want %q", server.path, "/")
	}
	if server.upgrader != defaultUpgrader {
		t.Error("default upgrader not used")
	}
}

func TestNew_InvalidAddr(t *testing.T) {
	server1 := newTestServer(t)
	defer server1.Close()

	if _, err := New(server1.Addr().String()); err == nil {
		t.Error("expected error for occupied port")
	}
}

func TestNew_Options(t *testing.T) {
	logger := &mockLogger{}
	upgrader := NewUpgrader()
	server := newTestServer(t,
		ServerLoggerOption(logger),
		ServerShutdownTimeoutOption(time.Second),
		ServerPathOption("/ws"),
		ServerUpgraderOption(upgrader),
	)
	defer server.Close()

	if server.logger != logger {
		t.Error("logger not set")
	}
	if server.shutdownTimeout != time.Second {
		t.Errorf("shutdownTimeout = %v, want 1s", server.shutdownTimeout)
	}
	if server.path != "/ws" {
		t.Errorf("path = %q, want /ws", server.path)
	}
	if server.upgrader != upgrader {
		t.Error("upgrader not set")
	}
}

func TestServer_Close_BeforeServe(t *testing.T) {
	server := newTestServer(t)

	if err := server.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := server.Serve(context.Background(), newMockHandler()); err != http.ErrServerClosed {
		t.Errorf("expected http.ErrServerClosed, got %v", err)
	}
}

func TestServer_Serve(t *testing.T) {
	server := newTestServer(t)
	handler := newMockHandler()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, handler)
	}()

	client := dialServer(t, server, "/")
	defer client.Close()

	select {
	case conn := <-handler.handleCh:
		if _, ok := conn.(*StreamConn); !ok {
			t.Errorf("handler received %T, want *StreamConn", conn)
		}
		conn.Close()
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for handler")
	}

	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve to return")
	}
}

func TestServer_Serve_Stream(t *testing.T) {
	server := newTestServer(t, ServerPathOption("/stream"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Echo raw bytes back in whatever chunks Read returns.
	go server.Serve(ctx, HandlerFunc(func(conn net.Conn) {
		defer conn.Close()
		buf := make([]byte, 3)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			if _, err = conn.Write(buf[:n]); err != nil {
				return
			}
		}
	}))

	client := dialServer(t, server, "/stream")
	defer client.Close()

	if _, err := client.Write([]byte("ping-pong")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	_ = client.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got []byte
	buf := make([]byte, 16)
	for len(got) < len("ping-pong") {
		n, err := client.Read(buf)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != "ping-pong" {
		t.Errorf("got %q, want %q", got, "ping-pong")
	}
}

func TestServer_Serve_WrongPath(t *testing.T) {
	server := newTestServer(t, ServerPathOption("/ws"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.Serve(ctx, newMockHandler())

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()

	if _, err := Dial(dialCtx, serverURL(server, "/other"), nil); err == nil {
		t.Error("expected dial to an unserved path to fail")
	}
}

func TestServer_Serve_MultipleConnections(t *testing.T) {
	server := newTestServer(t)
	handler := newMockHandler()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go server.Serve(ctx, handler)

	numClients := 5
	clients := make([]*StreamConn, numClients)
	for i := 0; i < numClients; i++ {
		clients[i] = dialServer(t, server, "/")
	}

	for i := 0; i < numClients; i++ {
		select {
		case conn := <-handler.handleCh:
			if conn == nil {
				t.Errorf("handler %d received nil connection", i)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for handler %d", i)
		}
	}

	for _, conn := range clients {
		conn.Close()
	}

	conns := handler.getConns()
	if len(conns) != numClients {
		t.Errorf("handler received %d connections, want %d", len(conns), numClients)
	}
	for _, conn := range conns {
		conn.Close()
	}
}

func TestServer_Serve_ShutdownTimeout(t *testing.T) {
	server := newTestServer(t, ServerShutdownTimeoutOption(100*time.Millisecond))
	handler := newMockHandler()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, handler)
	}()

	// Make sure the server is up before canceling.
	dialServer(t, server, "/").Close()

	start := time.Now()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
		if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
			t.Errorf("Serve returned after %v, before the shutdown timeout", elapsed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for Serve to return")
	}
}

func TestServer_Close_BypassesShutdownTimeout(t *testing.T) {
	server := newTestServer(t, ServerShutdownTimeoutOption(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(ctx, newMockHandler())
	}()

	dialServer(t, server, "/").Close()
	cancel()
	time.Sleep(20 * time.Millisecond)

	if err := server.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not bypass the shutdown timeout")
	}
}

func TestServer_Addr(t *testing.T) {
	server := newTestServer(t)
	defer server.Close()

	if server.Addr() == nil {
		t.Error("Addr returned nil")
	}
}
