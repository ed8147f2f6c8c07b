package notifications

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/fenix-social/realtime/pkg/bus"
	"github.com/fenix-social/realtime/pkg/interactions"
)

// Marker marks durable notification ids as read on the server.
type Marker interface {
	MarkRead(ctx context.Context, ids []int64) error
}

// Engine owns the notification projection. Every Interaction, no matter where
// it came from, goes through Process. Nothing else writes to the rosters.
type Engine struct {
	mu sync.Mutex

	marker Marker
	self   func() int64

	posts   map[int64]*Post
	follows Roster
	globals map[interactions.Kind]*tally

	seen    map[int64]struct{}
	settled map[int64]struct{}

	open      bool
	hasUnread bool

	// bumped by Reset so in-flight settlements can tell their state is gone
	generation uint64

	changes *bus.Bus[struct{}]
}

// NewEngine returns an empty engine. self reports the signed-in user's id,
// or 0 when nobody is signed in.
func NewEngine(marker Marker, self func() int64) *Engine {
	if self == nil {
		self = func() int64 { return 0 }
	}
	e := &Engine{marker: marker, self: self, changes: bus.New[struct{}]()}
	e.reset()
	return e
}

// OnChange registers fn to run after every change to the projection. fn runs
// outside the engine's lock and may read from the engine.
func (e *Engine) OnChange(fn func()) (off func()) {
	return e.changes.Subscribe(func(struct{}) { fn() })
}

func (e *Engine) changed() {
	e.changes.Publish(struct{}{})
}

func (e *Engine) reset() {
	e.posts = make(map[int64]*Post)
	e.follows = Roster{}
	e.globals = make(map[interactions.Kind]*tally)
	e.seen = make(map[int64]struct{})
	e.settled = make(map[int64]struct{})
	e.open = false
	e.hasUnread = false
}

// Reset drops all state. Used when the signed-in user changes.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.reset()
	e.generation++
	e.mu.Unlock()

	e.changed()
}

// Process folds one interaction into the projection. It is safe to call with
// the same interaction any number of times.
func (e *Engine) Process(i interactions.Interaction) {
	e.mu.Lock()
	applied := e.process(i)
	e.mu.Unlock()

	if applied {
		e.changed()
	}
}

func (e *Engine) process(i interactions.Interaction) bool {
	kind, retraction := i.Action.Kind()
	if kind == interactions.KindNone {
		return false
	}

	if i.Source == interactions.SourceLocal {
		if self := e.self(); self != 0 && i.ActorId() == self {
			return false
		}
		// a local echo can't vouch for a durable row
		i.NotificationId = 0
	}
	if i.Actor != nil && i.Actor.Id == 0 {
		i.Actor = nil
	}

	unread := i.Unread()
	if i.NotificationId != 0 {
		if _, ok := e.settled[i.NotificationId]; ok {
			unread = false
		}
		e.seen[i.NotificationId] = struct{}{}
	}

	switch {
	case kind == interactions.KindFollow:
		if i.Actor == nil {
			if !retraction && unread {
				e.global(kind).add(i.NotificationId)
			}
			break
		}
		if retraction {
			e.follows.Remove(i.Actor.Id)
		} else {
			e.follows.Merge(entryFrom(&i, unread))
		}

	case i.PostId > 0:
		p, ok := e.posts[i.PostId]
		if !ok {
			if retraction {
				// nothing to retract from yet
				break
			}
			p = newPost(&i)
			e.posts[i.PostId] = p
		}
		p.fill(&i)
		if i.NotificationId != 0 {
			p.notificationIds[i.NotificationId] = struct{}{}
		}
		if i.Timestamp.After(p.LastTimestamp) {
			p.LastTimestamp = i.Timestamp
		}

		switch {
		case i.Actor == nil:
			if !retraction && unread {
				p.counter(kind).add(i.NotificationId)
			}
		case retraction:
			p.roster(kind).Remove(i.Actor.Id)
		default:
			p.roster(kind).Merge(entryFrom(&i, unread))
		}

	default:
		if !retraction && unread {
			e.global(kind).add(i.NotificationId)
		}
	}

	e.hasUnread = e.unreadCount() > 0
	return true
}

func (e *Engine) global(kind interactions.Kind) *tally {
	t, ok := e.globals[kind]
	if !ok {
		t = &tally{}
		e.globals[kind] = t
	}
	return t
}

// Open records that the notification view is showing.
func (e *Engine) Open() {
	e.mu.Lock()
	e.open = true
	e.mu.Unlock()

	e.changed()
}

func (e *Engine) IsOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

// Close records that the notification view went away and settles. Closing a
// view that is not open does nothing.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	wasOpen := e.open
	e.open = false
	e.mu.Unlock()

	if !wasOpen {
		return nil
	}
	e.changed()
	return e.Settle(ctx)
}

// Settle marks every durable id seen so far and not yet settled as read. On
// failure the projection is left as it was.
func (e *Engine) Settle(ctx context.Context) error {
	e.mu.Lock()
	ids := make([]int64, 0, len(e.seen))
	for id := range e.seen {
		if _, ok := e.settled[id]; !ok {
			ids = append(ids, id)
		}
	}
	generation := e.generation
	e.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	if e.marker == nil {
		return ErrNoMarker
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	if err := e.marker.MarkRead(ctx, ids); err != nil {
		log.Printf("mark read failed for %d ids: %v", len(ids), err)
		return fmt.Errorf("mark read: %w", err)
	}

	e.mu.Lock()
	if generation != e.generation {
		e.mu.Unlock()
		return nil
	}

	call := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		call[id] = struct{}{}
		e.settled[id] = struct{}{}
	}
	for _, p := range e.posts {
		p.settle(call)
	}
	e.follows.settle(call, e.follows.intersects(call))
	for _, t := range e.globals {
		t.settle(call, true)
	}
	e.hasUnread = e.unreadCount() > 0
	e.mu.Unlock()

	e.changed()
	return nil
}
