package notifications

import (
	"sort"
	"time"

	"github.com/fenix-social/realtime/pkg/interactions"
)

// tally counts unread payloads that carry no actor. Ids make re-deliveries
// idempotent; id-less payloads can only be counted.
type tally struct {
	ids       map[int64]struct{}
	anonymous int
}

func (t *tally) add(notificationId int64) {
	if notificationId == 0 {
		t.anonymous++
		return
	}
	if t.ids == nil {
		t.ids = make(map[int64]struct{})
	}
	t.ids[notificationId] = struct{}{}
}

func (t *tally) count() int {
	return len(t.ids) + t.anonymous
}

func (t *tally) settle(ids map[int64]struct{}, includeIdless bool) {
	for id := range t.ids {
		if _, ok := ids[id]; ok {
			delete(t.ids, id)
		}
	}
	if includeIdless {
		t.anonymous = 0
	}
}

// Post aggregates everything that happened to one post.
type Post struct {
	Id           int64
	Snippet      string
	Image        string
	AuthorName   string
	AuthorHandle string

	Likes    Roster
	Reposts  Roster
	Comments Roster

	LastTimestamp time.Time

	counters        map[interactions.Kind]*tally
	notificationIds map[int64]struct{}
}

func newPost(i *interactions.Interaction) *Post {
	return &Post{
		Id:              i.PostId,
		Snippet:         i.PostSnippet,
		Image:           i.PostImage,
		AuthorName:      i.PostAuthorName,
		AuthorHandle:    i.PostAuthorHandle,
		LastTimestamp:   i.Timestamp,
		counters:        make(map[interactions.Kind]*tally),
		notificationIds: make(map[int64]struct{}),
	}
}

// fill seeds display fields the post was first created without.
func (p *Post) fill(i *interactions.Interaction) {
	if p.Snippet == "" {
		p.Snippet = i.PostSnippet
	}
	if p.Image == "" {
		p.Image = i.PostImage
	}
	if p.AuthorName == "" {
		p.AuthorName = i.PostAuthorName
	}
	if p.AuthorHandle == "" {
		p.AuthorHandle = i.PostAuthorHandle
	}
}

func (p *Post) roster(kind interactions.Kind) *Roster {
	switch kind {
	case interactions.KindLike:
		return &p.Likes
	case interactions.KindRepost:
		return &p.Reposts
	case interactions.KindComment:
		return &p.Comments
	}
	return nil
}

func (p *Post) counter(kind interactions.Kind) *tally {
	t, ok := p.counters[kind]
	if !ok {
		t = &tally{}
		p.counters[kind] = t
	}
	return t
}

func (p *Post) counted(kind interactions.Kind) int {
	if t, ok := p.counters[kind]; ok {
		return t.count()
	}
	return 0
}

func (p *Post) unread(kind interactions.Kind) int {
	return p.roster(kind).unreadCount() + p.counted(kind)
}

func (p *Post) intersects(ids map[int64]struct{}) bool {
	for id := range p.notificationIds {
		if _, ok := ids[id]; ok {
			return true
		}
	}
	return false
}

func (p *Post) settle(ids map[int64]struct{}) {
	touched := p.intersects(ids)
	p.Likes.settle(ids, touched)
	p.Reposts.settle(ids, touched)
	p.Comments.settle(ids, touched)
	for _, t := range p.counters {
		t.settle(ids, touched)
	}
}

// PostView is a read-only copy of a Post.
type PostView struct {
	Id           int64  `json:"id"`
	Snippet      string `json:"snippet,omitempty"`
	Image        string `json:"image,omitempty"`
	AuthorName   string `json:"author_name,omitempty"`
	AuthorHandle string `json:"author_handle,omitempty"`

	Likes    []Entry `json:"likes"`
	Reposts  []Entry `json:"reposts"`
	Comments []Entry `json:"comments"`

	// unread payloads that carried no actor
	LikeCount    int `json:"like_count"`
	RepostCount  int `json:"repost_count"`
	CommentCount int `json:"comment_count"`

	NotificationIds []int64   `json:"notification_ids"`
	LastTimestamp   time.Time `json:"last_timestamp"`
	Unread          bool      `json:"unread"`
}

func (p *Post) view() PostView {
	ids := make([]int64, 0, len(p.notificationIds))
	for id := range p.notificationIds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	v := PostView{
		Id:              p.Id,
		Snippet:         p.Snippet,
		Image:           p.Image,
		AuthorName:      p.AuthorName,
		AuthorHandle:    p.AuthorHandle,
		Likes:           p.Likes.Entries(),
		Reposts:         p.Reposts.Entries(),
		Comments:        p.Comments.Entries(),
		LikeCount:       p.counted(interactions.KindLike),
		RepostCount:     p.counted(interactions.KindRepost),
		CommentCount:    p.counted(interactions.KindComment),
		NotificationIds: ids,
		LastTimestamp:   p.LastTimestamp,
	}
	v.Unread = p.unread(interactions.KindLike)+p.unread(interactions.KindRepost)+p.unread(interactions.KindComment) > 0
	return v
}
