package events

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fenix-social/realtime/pkg/transport"
)

const DefaultPingInterval = 45 * time.Second

// Server streams changes to local UI clients over websockets, speaking the
// same hello, nonce and resume protocol as the backend push channel.
type Server struct {
	upgrader websocket.Upgrader

	PingInterval time.Duration

	mu        sync.Mutex
	sessions  map[string]*Session
	nextNonce int64

	now func() time.Time
}

func NewServer() *Server {
	return &Server{
		upgrader: websocket.Upgrader{
			ReadBufferSize:    1024,
			WriteBufferSize:   1024,
			CheckOrigin:       func(r *http.Request) bool { return true },
			EnableCompression: true,
		},
		PingInterval: DefaultPingInterval,
		sessions:     make(map[string]*Session),
		now:          time.Now,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	format, err := transport.ParseFormat(query.Get("format"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte("Unknown format."))
		return
	}

	// Get current session or create new session
	var (
		session   *Session
		resume    bool
		lastNonce int64
	)
	if query.Has("sid") && query.Has("nonce") {
		lastNonce, _ = strconv.ParseInt(query.Get("nonce"), 10, 64)
		s.mu.Lock()
		session = s.sessions[query.Get("sid")]
		s.mu.Unlock()
		if session == nil {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte("Session not found."))
			return
		}
		resume = true
	}

	// Upgrade connection
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	if session == nil {
		session = newSession(s, uuid.NewString())
		s.mu.Lock()
		s.sessions[session.id] = session
		s.mu.Unlock()
	}

	// Register connection
	if err := session.registerConn(conn, format, resume, lastNonce); err != nil {
		conn.Close()
	}
}

func (s *Server) getNextNonce() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	nonce := s.nextNonce
	s.nextNonce++
	return nonce
}

// Broadcast sends a packet to every session.
func (s *Server) Broadcast(cmd string, val interface{}) error {
	p, err := createPacket(cmd, val, s.getNextNonce(), s.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.send(p)
	}
	return nil
}

func (s *Server) endSession(session *Session) {
	s.mu.Lock()
	delete(s.sessions, session.id)
	s.mu.Unlock()
	session.end()
}

// Run pings connections and ends abandoned sessions until ctx is done.
func (s *Server) Run(ctx context.Context) {
	ticker := time.NewTicker(s.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Server) sweep() {
	now := s.now()

	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		if sess.tick(now) {
			s.endSession(sess)
		}
	}
}

// Close ends every session.
func (s *Server) Close() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*Session)
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.end()
	}
}

func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
