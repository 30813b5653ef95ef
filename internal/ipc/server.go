package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

const defaultExchangeTimeout = 10 * time.Second

// Handler applies one control request.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

// Server answers control requests accepted on a unix listener.
type Server struct {
	Handler Handler
	Logger  *slog.Logger

	// Timeout bounds one request/response exchange.
	Timeout time.Duration
}

// Serve runs a Server with default settings.
func Serve(ctx context.Context, listener net.Listener, handler Handler) error {
	return (&Server{Handler: handler}).Serve(ctx, listener)
}

// Serve accepts connections until ctx ends or the listener is closed. It
// returns after every in-flight exchange has been answered.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept control connection: %w", err)
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultExchangeTimeout
	}
	_ = conn.SetDeadline(time.Now().Add(timeout))

	resp := s.respond(ctx, conn)
	if err := writeLine(conn, resp); err != nil {
		s.logger().Debug("control reply failed", "error", err.Error())
	}
}

func (s *Server) respond(ctx context.Context, r io.Reader) Response {
	line, err := readLine(r)
	if err != nil {
		return Response{Error: fmt.Sprintf("read request: %v", err)}
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Response{Error: fmt.Sprintf("decode request: %v", err)}
	}
	req.Command = strings.ToLower(strings.TrimSpace(req.Command))
	if req.Command == "" {
		return Response{Error: "command is required"}
	}

	s.logger().Debug("control request", "command", req.Command)
	return s.Handler.Handle(ctx, req)
}

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
