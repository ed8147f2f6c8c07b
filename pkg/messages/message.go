package messages

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Status tags a message as confirmed by the server or still waiting for its
// echo. The zero value is Settled so anything decoded off the wire is settled.
type Status uint8

const (
	StatusSettled Status = iota
	StatusProvisional
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusProvisional:
		return "provisional"
	case StatusFailed:
		return "failed"
	}
	return "settled"
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	switch str {
	case "provisional":
		*s = StatusProvisional
	case "failed":
		*s = StatusFailed
	default:
		*s = StatusSettled
	}
	return nil
}

type Message struct {
	Id            int64     `json:"id" msgpack:"id"`
	CorrelationId int64     `json:"correlation_id,omitempty" msgpack:"correlation_id,omitempty"`
	Status        Status    `json:"status" msgpack:"-"`
	Content       string    `json:"content,omitempty" msgpack:"content,omitempty"`
	AttachmentURL string    `json:"attachment_url,omitempty" msgpack:"attachment_url,omitempty"`
	SenderId      int64     `json:"sender_id" msgpack:"sender_id"`
	ReceiverId    int64     `json:"receiver_id" msgpack:"receiver_id"`
	CreatedAt     time.Time `json:"created_at" msgpack:"created_at"`
}

func (m *Message) Settled() bool {
	return m.Status == StatusSettled
}

// matches reports whether m is the same content as other, ignoring
// surrounding whitespace.
func (m *Message) matches(other *Message) bool {
	return strings.TrimSpace(m.Content) == strings.TrimSpace(other.Content) &&
		m.AttachmentURL == other.AttachmentURL
}

// Peer returns the participant of m that is not self.
func (m *Message) Peer(self int64) int64 {
	if m.SenderId == self {
		return m.ReceiverId
	}
	return m.SenderId
}

// Outgoing is the send_message payload.
type Outgoing struct {
	CorrelationId int64  `json:"correlation_id" msgpack:"correlation_id"`
	ReceiverId    int64  `json:"receiver_id" msgpack:"receiver_id"`
	Content       string `json:"content,omitempty" msgpack:"content,omitempty"`
	AttachmentURL string `json:"attachment_url,omitempty" msgpack:"attachment_url,omitempty"`
}

// ConversationUpdated is published when a message lands in a conversation
// nobody is looking at.
type ConversationUpdated struct {
	PeerId int64 `json:"peer_id" msgpack:"peer_id"`
}

// RoomID is the push channel room shared by two participants.
func RoomID(a, b int64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d_%d", a, b)
}

// UserRoom is a user's personal room.
func UserRoom(userId int64) string {
	return fmt.Sprintf("user_%d", userId)
}
