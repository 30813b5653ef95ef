// Package server exposes the observer WebSocket endpoint, health and metrics
// over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rbright/livecap/internal/broadcast"
	"github.com/rbright/livecap/internal/fsm"
	"github.com/rbright/livecap/internal/protocol"
	"github.com/rbright/livecap/internal/version"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultPingInterval = 30 * time.Second
	maxCommandBytes     = 4096
)

// Controller is the session surface observers can drive.
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	StatusEvent() protocol.Status
	Health() (fsm.State, bool)
}

// Hub registers observers and delivers directed replies.
type Hub interface {
	Register(conn broadcast.Conn) (*broadcast.Observer, error)
	Unregister(o *broadcast.Observer)
	Send(o *broadcast.Observer, msg any) error
	Count() int
}

// Metrics instruments plain HTTP routes and serves the scrape endpoint.
type Metrics interface {
	Instrument(route string, next http.Handler) http.Handler
	Handler() http.Handler
}

// Options configures a Server.
type Options struct {
	WSPath       string
	StaticDir    string
	WriteTimeout time.Duration
	PingInterval time.Duration
	Controller   Controller
	Hub          Hub
	Metrics      Metrics
	Logger       *slog.Logger
	Now          func() time.Time
}

// Server routes HTTP and WebSocket traffic.
type Server struct {
	opts     Options
	logger   *slog.Logger
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// New builds the route table.
func New(opts Options) *Server {
	if opts.WSPath == "" {
		opts.WSPath = "/ws"
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaultPingInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	s := &Server{
		opts:   opts,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// any origin may observe
			CheckOrigin: func(*http.Request) bool { return true },
		},
		mux: http.NewServeMux(),
	}

	// The upgrade needs the raw ResponseWriter, so /ws is not instrumented.
	s.mux.HandleFunc(opts.WSPath, s.handleWebSocket)
	s.mux.Handle("/health", s.instrument("/health", http.HandlerFunc(s.handleHealth)))
	if opts.Metrics != nil {
		s.mux.Handle("/metrics", opts.Metrics.Handler())
	}
	if opts.StaticDir != "" {
		s.mux.Handle("/", s.instrument("/", http.FileServer(http.Dir(opts.StaticDir))))
	}
	return s
}

func (s *Server) instrument(route string, next http.Handler) http.Handler {
	if s.opts.Metrics == nil {
		return next
	}
	return s.opts.Metrics.Instrument(route, next)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve accepts connections on listener until ctx ends, then shuts down
// within shutdownTimeout.
func (s *Server) Serve(ctx context.Context, listener net.Listener, shutdownTimeout time.Duration) error {
	httpServer := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(listener)
	}()
	s.logger.Info("http server listening", "addr", listener.Addr().String(), "ws_path", s.opts.WSPath)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown incomplete", "error", err.Error())
		_ = httpServer.Close()
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type healthResponse struct {
	Status    string       `json:"status"`
	State     string       `json:"state"`
	Clients   int          `json:"clients"`
	Version   version.Info `json:"version"`
	Timestamp time.Time    `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state, ok := s.opts.Controller.Health()
	resp := healthResponse{
		Status:    "ok",
		State:     string(state),
		Clients:   s.opts.Hub.Count(),
		Version:   version.Current(),
		Timestamp: s.opts.Now().UTC(),
	}
	code := http.StatusOK
	if !ok {
		resp.Status = "error"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
