package notifications

import (
	"sort"
	"time"

	"github.com/fenix-social/realtime/pkg/interactions"
)

// RosterCap bounds every roster. The oldest entries fall off first.
const RosterCap = 50

// Entry is one actor in the context of a roster.
type Entry struct {
	Actor          interactions.Actor `json:"actor"`
	State          ReadState          `json:"state"`
	Timestamp      time.Time          `json:"timestamp"`
	NotificationId int64              `json:"notification_id,omitempty"`

	// time of the event that contributed NotificationId
	idAt time.Time

	// unread ids still waiting for a mark-read call, and whether an unread
	// event without an id was merged in
	unreadIds    map[int64]struct{}
	idlessUnread bool
}

func (e Entry) Unread() bool {
	return e.State.IsUnread()
}

func entryFrom(i *interactions.Interaction, unread bool) Entry {
	e := Entry{
		Actor:          *i.Actor,
		State:          stateOf(unread),
		Timestamp:      i.Timestamp,
		NotificationId: i.NotificationId,
		idAt:           i.Timestamp,
	}
	if unread {
		e.markUnread(i.NotificationId)
	}
	return e
}

func (e *Entry) markUnread(id int64) {
	if id == 0 {
		e.idlessUnread = true
		return
	}
	if e.unreadIds == nil {
		e.unreadIds = make(map[int64]struct{})
	}
	e.unreadIds[id] = struct{}{}
}

// absorb merges a re-arrival of the same actor into e.
func (e *Entry) absorb(src Entry) {
	if src.Actor.DisplayName != "" {
		e.Actor.DisplayName = src.Actor.DisplayName
	}
	if src.Actor.Handle != "" {
		e.Actor.Handle = src.Actor.Handle
	}
	if src.Actor.AvatarURL != "" {
		e.Actor.AvatarURL = src.Actor.AvatarURL
	}

	e.State = e.State.Merge(src.State)
	for id := range src.unreadIds {
		e.markUnread(id)
	}
	if src.idlessUnread {
		e.idlessUnread = true
	}

	if src.NotificationId != 0 {
		if e.NotificationId == 0 ||
			src.idAt.After(e.idAt) ||
			(src.idAt.Equal(e.idAt) && src.NotificationId > e.NotificationId) {
			e.NotificationId = src.NotificationId
			e.idAt = src.idAt
		}
	}
	if src.Timestamp.After(e.Timestamp) {
		e.Timestamp = src.Timestamp
	}
}

// Roster is a capped list of entries keyed by actor id, kept newest first.
type Roster struct {
	entries []Entry
}

func (r *Roster) Merge(e Entry) {
	merged := false
	for i := range r.entries {
		if r.entries[i].Actor.Id == e.Actor.Id {
			r.entries[i].absorb(e)
			merged = true
			break
		}
	}
	if !merged {
		r.entries = append(r.entries, e)
	}

	sort.SliceStable(r.entries, func(i, j int) bool {
		a, b := r.entries[i], r.entries[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		return a.Actor.Id < b.Actor.Id
	})
	if len(r.entries) > RosterCap {
		r.entries = r.entries[:RosterCap]
	}
}

// Remove drops the actor's entry. It reports whether one was present.
func (r *Roster) Remove(actorId int64) bool {
	for i := range r.entries {
		if r.entries[i].Actor.Id == actorId {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Roster) Len() int {
	return len(r.entries)
}

func (r *Roster) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

func (r *Roster) unreadCount() int {
	n := 0
	for _, e := range r.entries {
		if e.Unread() {
			n++
		}
	}
	return n
}

func (r *Roster) intersects(ids map[int64]struct{}) bool {
	for _, e := range r.entries {
		if _, ok := ids[e.NotificationId]; ok && e.NotificationId != 0 {
			return true
		}
		for id := range e.unreadIds {
			if _, ok := ids[id]; ok {
				return true
			}
		}
	}
	return false
}

// settle forgets unread ids that were marked read. An entry goes back to read
// once none of its unread ids are left. Unread events without an id are
// cleared when the roster's owner took part in the call.
func (r *Roster) settle(ids map[int64]struct{}, includeIdless bool) {
	for i := range r.entries {
		e := &r.entries[i]
		for id := range e.unreadIds {
			if _, ok := ids[id]; ok {
				delete(e.unreadIds, id)
			}
		}
		if includeIdless {
			e.idlessUnread = false
		}
		if len(e.unreadIds) == 0 && !e.idlessUnread {
			e.State = e.State.Settle()
		}
	}
}
