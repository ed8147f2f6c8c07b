package interactions

import (
	"time"
)

type Action string

const (
	ActionLike          Action = "like"
	ActionUnlike        Action = "unlike"
	ActionRepost        Action = "repost"
	ActionUnrepost      Action = "unrepost"
	ActionComment       Action = "comment"
	ActionDeleteComment Action = "delete_comment"
	ActionFollow        Action = "follow"
	ActionUnfollow      Action = "unfollow"
)

// Kind is the bucket an action is aggregated into.
type Kind uint8

const (
	KindNone Kind = iota
	KindLike
	KindRepost
	KindComment
	KindFollow
)

func (k Kind) String() string {
	switch k {
	case KindLike:
		return "like"
	case KindRepost:
		return "repost"
	case KindComment:
		return "comment"
	case KindFollow:
		return "follow"
	}
	return "none"
}

// Kind returns the bucket for the action and whether the action retracts a
// previous one (unlike, unrepost, delete_comment, unfollow).
func (a Action) Kind() (kind Kind, retraction bool) {
	switch a {
	case ActionLike:
		return KindLike, false
	case ActionUnlike:
		return KindLike, true
	case ActionRepost:
		return KindRepost, false
	case ActionUnrepost:
		return KindRepost, true
	case ActionComment:
		return KindComment, false
	case ActionDeleteComment:
		return KindComment, true
	case ActionFollow:
		return KindFollow, false
	case ActionUnfollow:
		return KindFollow, true
	}
	return KindNone, false
}

func (a Action) Known() bool {
	kind, _ := a.Kind()
	return kind != KindNone
}

type Source uint8

const (
	SourceServer Source = 1
	SourceLocal  Source = 2
)

func (s Source) String() string {
	switch s {
	case SourceServer:
		return "server"
	case SourceLocal:
		return "local"
	}
	return "unknown"
}

type Actor struct {
	Id          int64  `json:"id" msgpack:"id"`
	DisplayName string `json:"display_name,omitempty" msgpack:"display_name,omitempty"`
	Handle      string `json:"handle,omitempty" msgpack:"handle,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty" msgpack:"avatar_url,omitempty"`
}

// Interaction is one social action, identical in shape whether it came from
// the snapshot, the push channel, or a local optimistic producer.
type Interaction struct {
	PostId int64  `json:"post_id,omitempty" msgpack:"post_id,omitempty"` // 0 for account-level events
	Action Action `json:"action" msgpack:"action"`
	Actor  *Actor `json:"actor,omitempty" msgpack:"actor,omitempty"`

	PostSnippet      string `json:"post_snippet,omitempty" msgpack:"post_snippet,omitempty"`
	PostImage        string `json:"post_image,omitempty" msgpack:"post_image,omitempty"`
	PostAuthorName   string `json:"post_author_name,omitempty" msgpack:"post_author_name,omitempty"`
	PostAuthorHandle string `json:"post_author_handle,omitempty" msgpack:"post_author_handle,omitempty"`

	Timestamp      time.Time `json:"timestamp" msgpack:"timestamp"`
	NotificationId int64     `json:"notification_id,omitempty" msgpack:"notification_id,omitempty"` // 0 unless server-persisted

	Source    Source `json:"source" msgpack:"source"`
	Persisted bool   `json:"persisted" msgpack:"persisted"`
	Read      bool   `json:"read,omitempty" msgpack:"read,omitempty"`
}

// Validate checks the provenance invariant: a local interaction must not
// carry a durable notification id.
func (i *Interaction) Validate() error {
	if i.Action == "" {
		return ErrMissingAction
	}
	if i.Source == SourceLocal && i.NotificationId != 0 {
		return ErrLocalNotificationId
	}
	return nil
}

// Unread reports whether the interaction should raise an unread marker.
func (i *Interaction) Unread() bool {
	return (i.Source == SourceServer || i.Persisted) && !i.Read
}

func (i *Interaction) ActorId() int64 {
	if i.Actor == nil {
		return 0
	}
	return i.Actor.Id
}

// Local builds an optimistic interaction for an action performed in this client.
func Local(action Action, postId int64, actor *Actor, at time.Time) Interaction {
	return Interaction{
		PostId:    postId,
		Action:    action,
		Actor:     actor,
		Timestamp: at,
		Source:    SourceLocal,
	}
}
