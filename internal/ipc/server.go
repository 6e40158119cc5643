package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/azzuriel/clipman/internal/logging"
)

const (
	DefaultAcceptTimeout   = time.Second
	DefaultMaxRequestBytes = 65536
	DefaultConnTimeout     = 5 * time.Second
)

// Handler answers one request.
type Handler interface {
	Dispatch(ctx context.Context, req Request) Response
}

// Options tune the Server.
type Options struct {
	// AcceptTimeout bounds each Accept call so the loop notices Stop.
	AcceptTimeout time.Duration
	// MaxRequestBytes caps how much of a request is read.
	MaxRequestBytes int
	// ConnTimeout bounds the whole exchange with one client.
	ConnTimeout time.Duration
}

// Server listens on a UNIX socket and answers one request per connection.
type Server struct {
	socketPath string
	handler    Handler
	opts       Options

	mu        sync.Mutex
	listener  *net.UnixListener
	stopCh    chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
}

// NewServer creates a Server for socketPath.
func NewServer(socketPath string, handler Handler, opts Options) *Server {
	if opts.AcceptTimeout <= 0 {
		opts.AcceptTimeout = DefaultAcceptTimeout
	}
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = DefaultMaxRequestBytes
	}
	if opts.ConnTimeout <= 0 {
		opts.ConnTimeout = DefaultConnTimeout
	}
	return &Server{
		socketPath: socketPath,
		handler:    handler,
		opts:       opts,
	}
}

// SocketPath returns the path the server binds.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Start removes a stale socket file, binds and starts accepting.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("server is already running")
	}

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}

	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: s.socketPath, Net: "unix"})
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	// Stop removes the file itself.
	ln.SetUnlinkOnClose(false)

	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		ln.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.listener = ln
	s.stopCh = make(chan struct{})
	s.cancel = cancel
	s.isRunning = true

	s.wg.Add(1)
	go s.acceptLoop(ctx, ln, s.stopCh)

	logging.Info("IPC server listening", map[string]interface{}{
		"socket": s.socketPath,
	})
	return nil
}

// Stop closes the listener, waits for in-flight connections and removes the
// socket file. Calling Stop on a stopped server does nothing.
func (s *Server) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.listener.Close()
	cancel := s.cancel
	s.mu.Unlock()

	s.wg.Wait()
	cancel()

	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		logging.Warn("Failed to remove socket file", map[string]interface{}{
			"socket": s.socketPath,
			"error":  err.Error(),
		})
	}

	logging.Info("IPC server stopped")
}

// IsRunning reports whether the server accepts connections.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

func (s *Server) acceptLoop(ctx context.Context, ln *net.UnixListener, stopCh <-chan struct{}) {
	defer s.wg.Done()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		ln.SetDeadline(time.Now().Add(s.opts.AcceptTimeout))
		conn, err := ln.AcceptUnix()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-stopCh:
				return
			default:
			}
			logging.Error("Accept failed", err, nil)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		s.wg.Add(1)
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(s.opts.ConnTimeout))

	resp := s.serve(ctx, conn)

	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		logging.Debug("Failed to write reply", map[string]interface{}{"error": err.Error()})
	}
}

// serve reads and dispatches one request. Panics become error replies.
func (s *Server) serve(ctx context.Context, r io.Reader) (resp Response) {
	defer func() {
		if p := recover(); p != nil {
			logging.Error("Request handler panicked", fmt.Errorf("%v", p), nil)
			resp = Fail(fmt.Sprintf("internal error: %v", p))
		}
	}()

	var req Request
	dec := json.NewDecoder(io.LimitReader(r, int64(s.opts.MaxRequestBytes)))
	if err := dec.Decode(&req); err != nil {
		return Fail("Invalid request: " + err.Error())
	}

	return s.handler.Dispatch(ctx, req)
}
