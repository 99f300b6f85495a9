package server

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/babylon-markets/a2a/logger"
	"github.com/babylon-markets/a2a/types"
)

// Per-connection auth state machine.
type authState int

const (
	authUnauthenticated authState = iota
	authAuthenticating
	authAuthenticated
)

const (
	maxFrameBytes  = 1 << 20
	sendBufferSize = 256
	writeWait      = 10 * time.Second
)

// Session is one live transport connection and its authentication state.
// Frames are handled sequentially by the read pump; all writes go through the
// send channel so the write pump is the only goroutine touching the socket.
type Session struct {
	server *Server
	conn   *websocket.Conn
	log    *logger.Logger

	send chan []byte
	done chan struct{}
	once sync.Once

	// Owned by the read pump until bindAgent publishes them.
	state        authState
	agentID      string
	address      string
	tokenID      uint64
	capabilities types.AgentCapabilities
	sessionToken string
	sessionEnd   time.Time
	connectedAt  time.Time
	lastActivity time.Time
}

func newSession(s *Server, conn *websocket.Conn) *Session {
	now := time.Now()
	return &Session{
		server:       s,
		conn:         conn,
		log:          s.log.WithField("remote", conn.RemoteAddr().String()),
		send:         make(chan []byte, sendBufferSize),
		done:         make(chan struct{}),
		connectedAt:  now,
		lastActivity: now,
	}
}

// Close tears the session down. Safe to call from any goroutine, idempotent.
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.done)
		s.server.dropSession(s)
		s.server.disconnectCleanup(s)
		s.conn.Close()
	})
}

// readPump owns the inbound side: it decodes frames, runs handlers in order,
// and triggers teardown when the transport dies.
func (s *Session) readPump() {
	defer s.Close()

	pongWait := 2 * s.server.cfg.Heartbeat()
	s.conn.SetReadLimit(maxFrameBytes)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Debug("connection dropped: %v", err)
			}
			return
		}
		s.lastActivity = time.Now()
		s.handleFrame(data)
	}
}

// writePump owns the outbound side: queued frames plus heartbeat pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.server.cfg.Heartbeat())
	defer ticker.Stop()

	for {
		select {
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.Close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				// A failed ping is a disconnect signal, nothing more.
				s.Close()
				return
			}
		case <-s.done:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (s *Session) handleFrame(data []byte) {
	frame, err := types.DecodeFrame(data)
	if err != nil {
		code := types.CodeInvalidRequest
		if !json.Valid(data) {
			code = types.CodeParseError
		}
		s.sendResponse(types.NewErrorResponse(0, types.NewRPCError(code, err.Error())))
		return
	}

	switch frame.Kind {
	case types.FrameRequest:
		s.server.handleRequest(s, frame.Request)
	case types.FrameNotification:
		s.log.Debug("ignoring client notification %s", frame.Notification.Method)
	case types.FrameResponse:
		// The server never issues requests to clients; a stray response is
		// dropped.
		s.log.Debug("dropping unexpected response frame id=%d", frame.Response.ID)
	}
}

// enqueue hands a frame to the write pump. A consumer too slow to drain its
// buffer is treated as dead rather than allowed to wedge the read loop.
func (s *Session) enqueue(data []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	case <-s.done:
		return false
	default:
		s.log.Warn("send buffer full, dropping connection")
		s.Close()
		return false
	}
}

func (s *Session) sendResponse(resp *types.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error(err, "encode response id=%d", resp.ID)
		return
	}
	s.enqueue(data)
}

func (s *Session) sendNotification(n *types.Notification) bool {
	data, err := json.Marshal(n)
	if err != nil {
		s.log.Error(err, "encode notification %s", n.Method)
		return false
	}
	return s.enqueue(data)
}

// authenticated reports whether the session is past the handshake gate and
// the token is still live. Expiry invalidates the session for new requests
// without tearing down the transport.
func (s *Session) authenticated(now time.Time) bool {
	if s.state != authAuthenticated {
		return false
	}
	if now.After(s.sessionEnd) {
		s.state = authUnauthenticated
		s.log.Info("session token expired for %s", s.agentID)
		return false
	}
	return true
}
