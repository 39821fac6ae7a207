package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

const defaultReadTimeout = 2 * time.Second

// Handler processes one IPC command request.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Server answers owner requests.
type Server struct {
	Handler Handler
	Logger  *slog.Logger
	// ReadTimeout bounds how long a client may take to send its request.
	ReadTimeout time.Duration
}

// Serve runs a Server with default settings.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	s := &Server{Handler: handler}
	return s.Serve(ctx, listener)
}

// Serve accepts clients until ctx is cancelled or the listener is closed.
// In-flight requests finish before it returns.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	var wg sync.WaitGroup

	stop := context.AfterFunc(ctx, func() {
		_ = listener.Close()
	})
	defer stop()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			wg.Wait()
			return fmt.Errorf("accept IPC connection: %w", err)
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			defer c.Close()
			s.serveConn(ctx, c)
		}(conn)
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	timeout := s.ReadTimeout
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	var req Request
	if err := readFrame(conn, &req, "request"); err != nil {
		s.logger().Debug("ipc request rejected", "error", err.Error())
		_ = writeFrame(conn, Response{OK: false, Error: err.Error()})
		return
	}

	resp := s.Handler.Handle(ctx, req)
	s.logger().Debug("ipc request handled", "command", req.Command, "ok", resp.OK, "state", resp.State)
	if err := writeFrame(conn, resp); err != nil {
		s.logger().Debug("ipc response write failed", "command", req.Command, "error", err.Error())
	}
}

func (s *Server) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.New(slog.DiscardHandler)
}
