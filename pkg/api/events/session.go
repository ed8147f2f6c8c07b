package events

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fenix-social/realtime/pkg/transport"
)

// Session outlives its connection for one ping interval so a client that
// drops can come back and get the packets it missed.
type Session struct {
	id     string
	server *Server

	mu             sync.Mutex
	conn           *websocket.Conn
	format         transport.Format
	packets        []*Packet
	disconnectedAt time.Time
	ended          bool
}

func newSession(server *Server, id string) *Session {
	return &Session{
		id:     id,
		server: server,
	}
}

// registerConn swaps in a new connection, says hello and replays everything
// after lastNonce when resuming.
func (s *Session) registerConn(conn *websocket.Conn, format transport.Format, resume bool, lastNonce int64) error {
	hello, err := createPacket(transport.CmdHello, transport.Hello{
		SessionId:    s.id,
		PingInterval: int(s.server.PingInterval / time.Millisecond),
	}, -1, s.server.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	// Close current connection if one exists
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
		s.conn.Close()
	}
	s.conn = conn
	s.format = format

	s.writeToConn(hello)
	if resume {
		for _, packet := range s.packets {
			if packet.Nonce > lastNonce {
				s.writeToConn(packet)
			}
		}
	}
	s.mu.Unlock()

	go s.readLoop(conn)
	return nil
}

// Clients may send room commands meant for the backend. The local stream
// has no rooms, so everything read is discarded.
func (s *Session) readLoop(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.server.endSession(s)
				return
			}
			conn.Close()

			s.mu.Lock()
			if s.conn == conn {
				s.conn = nil
				s.disconnectedAt = s.server.now()
			}
			s.mu.Unlock()
			return
		}
	}
}

func (s *Session) send(packet *Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.packets = append(s.packets, packet)
	s.writeToConn(packet)
}

// writeToConn expects s.mu to be held.
func (s *Session) writeToConn(packet *Packet) {
	if s.conn == nil {
		return
	}
	if err := s.conn.WriteMessage(s.format.MessageType(), packet.encoded(s.format)); err != nil {
		log.Println(err)
		s.conn.Close()
		s.conn = nil
		s.disconnectedAt = s.server.now()
	}
}

// tick pings the connection and forgets packets older than the ping
// interval. It reports whether the session has been without a connection for
// longer than that and should end.
func (s *Session) tick(now time.Time) (expired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.server.PingInterval)
	if s.conn == nil {
		return s.disconnectedAt.Before(cutoff)
	}

	if err := s.conn.WriteControl(websocket.PingMessage, nil, now.Add(time.Second)); err != nil {
		log.Println(err)
	}
	itemsToRemove := 0
	for _, packet := range s.packets {
		if !packet.CreatedAt.Before(cutoff) {
			break
		}
		itemsToRemove++
	}
	s.packets = s.packets[itemsToRemove:]
	return false
}

func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true
	s.packets = nil
	if s.conn != nil {
		s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
		s.conn.Close()
		s.conn = nil
	}
}
