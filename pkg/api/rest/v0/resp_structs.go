package v0_rest

import (
	"github.com/fenix-social/realtime/pkg/interactions"
	"github.com/fenix-social/realtime/pkg/messages"
	"github.com/fenix-social/realtime/pkg/notifications"
)

type BaseResp struct {
	Error bool `json:"error"`
}

type ErrResp struct {
	Error  bool              `json:"error"`
	Type   string            `json:"type"`
	Fields map[string]string `json:"fields,omitempty"`
}

type StatusResp struct {
	Error    bool   `json:"error"`
	SignedIn bool   `json:"signed_in"`
	UserId   int64  `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
	Relayed  bool   `json:"relayed"`
}

type SummaryResp struct {
	Error bool `json:"error"`
	notifications.Summary
}

type PostResp struct {
	Error bool `json:"error"`
	notifications.PostView
}

type InteractionResp struct {
	Error       bool                     `json:"error"`
	Interaction interactions.Interaction `json:"interaction"`
}

type ConversationResp struct {
	Error bool `json:"error"`
	messages.Snapshot
	Draft string `json:"draft"`
}

type MessageResp struct {
	Error bool `json:"error"`
	messages.Message
}

type DraftResp struct {
	Error   bool   `json:"error"`
	Content string `json:"content"`
}
