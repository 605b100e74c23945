package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 25 * time.Second
	sendBuffer   = 256
)

// Session is one websocket subscriber connection.
type Session struct {
	conn      *websocket.Conn
	userID    string
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewSession wraps an upgraded connection. userID may be empty for
// anonymous streams.
func NewSession(conn *websocket.Conn, userID string) *Session {
	return &Session{
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

// UserID returns the owner of the session.
func (s *Session) UserID() string { return s.userID }

// Send queues one pre-encoded payload, dropping it if the session is slow.
func (s *Session) Send(data []byte) {
	select {
	case s.send <- data:
	default:
	}
}

// Run pumps queued payloads to the connection and keeps it alive with
// pings. It blocks until the peer disconnects or Close is called.
func (s *Session) Run() {
	go s.readPump()
	s.writePump()
}

// Close terminates the session. Safe to call from multiple goroutines.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	_ = s.conn.Close()
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; its only job is noticing disconnects
// and keeping the pong deadline fresh.
func (s *Session) readPump() {
	defer s.Close()
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
