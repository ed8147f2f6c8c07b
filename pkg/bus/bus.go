package bus

import (
	"sort"
	"sync"
)

// Bus is a typed publish/subscribe channel. Delivery is synchronous: Publish
// returns after every subscriber registered at the time of the call has run.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]func(T)
	nextId uint64
}

func New[T any]() *Bus[T] {
	return &Bus[T]{subs: make(map[uint64]func(T))}
}

// Subscribe registers fn and returns a func that removes it. The returned func
// is safe to call more than once.
func (b *Bus[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextId
	b.nextId++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// Publish delivers v to subscribers in subscription order.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	ids := make([]uint64, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(T), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subs[id])
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (b *Bus[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
