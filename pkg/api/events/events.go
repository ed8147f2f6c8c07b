package events

import (
	"github.com/fenix-social/realtime/pkg/interactions"
	"github.com/fenix-social/realtime/pkg/messages"
	"github.com/fenix-social/realtime/pkg/notifications"
)

const (
	CmdNotifications       = "notifications"
	CmdInteraction         = "interaction"
	CmdConversationUpdated = "conversation_updated"
	CmdSession             = "session"
)

type SessionVal struct {
	SignedIn bool   `json:"signed_in" msgpack:"signed_in"`
	UserId   int64  `json:"user_id,omitempty" msgpack:"user_id,omitempty"`
	Username string `json:"username,omitempty" msgpack:"username,omitempty"`
}

func (s *Server) SendNotifications(summary notifications.Summary) error {
	return s.Broadcast(CmdNotifications, summary)
}

func (s *Server) SendInteraction(i interactions.Interaction) error {
	return s.Broadcast(CmdInteraction, i)
}

func (s *Server) SendConversationUpdated(u messages.ConversationUpdated) error {
	return s.Broadcast(CmdConversationUpdated, u)
}

func (s *Server) SendSession(userId int64, username string) error {
	return s.Broadcast(CmdSession, SessionVal{
		SignedIn: userId != 0,
		UserId:   userId,
		Username: username,
	})
}
