package notifications

import (
	"sort"
	"time"

	"github.com/fenix-social/realtime/pkg/interactions"
)

type FeedType string

const (
	FeedPost   FeedType = "post"
	FeedFollow FeedType = "follow"
)

// FeedItem is one row of the combined notification list: either a post
// aggregate or a single follow entry.
type FeedItem struct {
	Type      FeedType  `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Post      *PostView `json:"post,omitempty"`
	Follow    *Entry    `json:"follow,omitempty"`
}

type Flags struct {
	Like    bool `json:"like"`
	Repost  bool `json:"repost"`
	Comment bool `json:"comment"`
	Follow  bool `json:"follow"`
}

func (f Flags) count() int {
	n := 0
	for _, b := range []bool{f.Like, f.Repost, f.Comment, f.Follow} {
		if b {
			n++
		}
	}
	return n
}

// Badge picks the icon shown on the notification entry point.
type Badge string

const (
	BadgeNone       Badge = "none"
	BadgeLike       Badge = "like"
	BadgeRepost     Badge = "repost"
	BadgeComment    Badge = "comment"
	BadgeFollow     Badge = "follow"
	BadgeFollowLike Badge = "follow_like"
	BadgeMixed      Badge = "mixed"
)

// BadgeFor maps unread flags to a badge. One kind gets its own badge, follows
// together with likes get a combined one, anything else is mixed.
func BadgeFor(f Flags) Badge {
	switch f.count() {
	case 0:
		return BadgeNone
	case 1:
		switch {
		case f.Like:
			return BadgeLike
		case f.Repost:
			return BadgeRepost
		case f.Comment:
			return BadgeComment
		default:
			return BadgeFollow
		}
	case 2:
		if f.Follow && f.Like {
			return BadgeFollowLike
		}
	}
	return BadgeMixed
}

// Summary is everything the notification view needs in one read.
type Summary struct {
	Feed        []FeedItem `json:"feed"`
	UnreadCount int        `json:"unread_count"`
	HasUnread   bool       `json:"has_unread"`
	Flags       Flags      `json:"flags"`
	Badge       Badge      `json:"badge"`
	Open        bool       `json:"open"`
}

func (e *Engine) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()

	flags := e.flags()
	return Summary{
		Feed:        e.feed(),
		UnreadCount: e.unreadCount(),
		HasUnread:   e.hasUnread,
		Flags:       flags,
		Badge:       BadgeFor(flags),
		Open:        e.open,
	}
}

func (e *Engine) HasUnread() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasUnread
}

func (e *Engine) UnreadCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unreadCount()
}

func (e *Engine) Flags() Flags {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flags()
}

func (e *Engine) Badge() Badge {
	return BadgeFor(e.Flags())
}

func (e *Engine) Feed() []FeedItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.feed()
}

func (e *Engine) Post(id int64) (PostView, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.posts[id]
	if !ok {
		return PostView{}, false
	}
	return p.view(), true
}

func (e *Engine) Follows() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.follows.Entries()
}

// Globals returns the unread tallies that could not be attached to an aggregate.
func (e *Engine) Globals() map[interactions.Kind]int {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[interactions.Kind]int, len(e.globals))
	for kind, t := range e.globals {
		if n := t.count(); n > 0 {
			out[kind] = n
		}
	}
	return out
}

func (e *Engine) globalCount(kind interactions.Kind) int {
	if t, ok := e.globals[kind]; ok {
		return t.count()
	}
	return 0
}

func (e *Engine) unreadCount() int {
	n := e.follows.unreadCount()
	for _, p := range e.posts {
		n += p.unread(interactions.KindLike) + p.unread(interactions.KindRepost) + p.unread(interactions.KindComment)
	}
	for _, t := range e.globals {
		n += t.count()
	}
	return n
}

func (e *Engine) flags() Flags {
	f := Flags{
		Like:    e.globalCount(interactions.KindLike) > 0,
		Repost:  e.globalCount(interactions.KindRepost) > 0,
		Comment: e.globalCount(interactions.KindComment) > 0,
		Follow:  e.globalCount(interactions.KindFollow) > 0 || e.follows.unreadCount() > 0,
	}
	for _, p := range e.posts {
		f.Like = f.Like || p.unread(interactions.KindLike) > 0
		f.Repost = f.Repost || p.unread(interactions.KindRepost) > 0
		f.Comment = f.Comment || p.unread(interactions.KindComment) > 0
	}
	return f
}

func (e *Engine) feed() []FeedItem {
	items := make([]FeedItem, 0, len(e.posts)+e.follows.Len())
	for _, p := range e.posts {
		v := p.view()
		items = append(items, FeedItem{Type: FeedPost, Timestamp: p.LastTimestamp, Post: &v})
	}
	for _, f := range e.follows.Entries() {
		f := f
		items = append(items, FeedItem{Type: FeedFollow, Timestamp: f.Timestamp, Follow: &f})
	}

	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		if a.Type != b.Type {
			return a.Type == FeedPost
		}
		if a.Type == FeedPost {
			return a.Post.Id < b.Post.Id
		}
		return a.Follow.Actor.Id < b.Follow.Actor.Id
	})
	return items
}
