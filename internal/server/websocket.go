package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rbright/livecap/internal/broadcast"
	"github.com/rbright/livecap/internal/protocol"
)

// wsConn adapts a WebSocket to the broadcaster's Conn. Only the observer's
// writer goroutine calls WriteMessage; pings go through WriteControl, which
// gorilla allows concurrently.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) WriteMessage(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
	return c.conn.Close()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err.Error())
		return
	}
	conn.SetReadLimit(maxCommandBytes)

	observer, err := s.opts.Hub.Register(&wsConn{conn: conn, writeTimeout: s.opts.WriteTimeout})
	if err != nil {
		s.logger.Warn("observer rejected", "remote", r.RemoteAddr, "error", err.Error())
		_ = conn.Close()
		return
	}
	defer s.opts.Hub.Unregister(observer)

	go s.keepalive(conn, observer)
	s.readCommands(r, conn, observer)
}

// keepalive pings the observer until it is unregistered.
func (s *Server) keepalive(conn *websocket.Conn, observer *broadcast.Observer) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-observer.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.opts.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("observer ping failed", "observer", observer.ID(), "error", err.Error())
				_ = conn.Close()
				return
			}
		}
	}
}

// readCommands handles inbound control messages until the socket closes.
func (s *Server) readCommands(r *http.Request, conn *websocket.Conn, observer *broadcast.Observer) {
	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("observer read failed", "observer", observer.ID(), "error", err.Error())
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		cmd, err := protocol.ParseCommand(data)
		if err != nil {
			s.logger.Warn("invalid observer command", "observer", observer.ID(), "error", err.Error())
			continue
		}
		s.dispatch(r, observer, cmd)
	}
}

func (s *Server) dispatch(r *http.Request, observer *broadcast.Observer, cmd protocol.Command) {
	ctx := r.Context()
	var err error
	switch cmd.Type {
	case protocol.CommandStart:
		err = s.opts.Controller.Start(ctx)
	case protocol.CommandStop:
		err = s.opts.Controller.Stop(ctx)
	case protocol.CommandStatus:
		err = s.opts.Hub.Send(observer, s.opts.Controller.StatusEvent())
	}
	if err != nil {
		s.logger.Info("observer command not applied", "observer", observer.ID(), "command", cmd.Type, "error", err.Error())
	}
}
