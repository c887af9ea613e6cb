// ABOUTME: TTL tracker for already-processed event IDs
// ABOUTME: Guards the intake flow against sync redelivery of the same event

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// Tracker remembers recently seen event IDs. The Matrix sync stream can
// redeliver events after a reconnect or on the initial sync; processing
// an order event twice would double-advance the intake flow, so the bot
// checks every inbound event here first.
//
// Entries expire after the TTL and the tracker is capped; at capacity
// the oldest entry is evicted. Expired entries are pruned lazily on
// insert, so there is no background goroutine to manage.
type Tracker struct {
	mu    sync.Mutex
	seen  map[string]*list.Element
	order *list.List // entries oldest-first
	ttl   time.Duration
	cap   int

	now func() time.Time
}

type entry struct {
	id   string
	when time.Time
}

// NewTracker creates a tracker. Entries older than ttl are forgotten;
// at most cap entries are kept.
func NewTracker(ttl time.Duration, cap int) *Tracker {
	if cap <= 0 {
		cap = 4096
	}
	return &Tracker{
		seen:  make(map[string]*list.Element),
		order: list.New(),
		ttl:   ttl,
		cap:   cap,
		now:   time.Now,
	}
}

// Seen atomically checks whether the ID was processed within the TTL
// and marks it. Returns true for a duplicate, false for a fresh ID that
// is now marked. The check and the mark are one critical section, so
// two workers racing on the same ID agree on a single winner.
func (t *Tracker) Seen(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.pruneLocked(now)

	if el, ok := t.seen[id]; ok {
		if now.Sub(el.Value.(*entry).when) < t.ttl {
			return true
		}
		// Expired but not yet pruned: refresh in place.
		el.Value.(*entry).when = now
		t.order.MoveToBack(el)
		return false
	}

	if len(t.seen) >= t.cap {
		t.evictOldestLocked()
	}
	t.seen[id] = t.order.PushBack(&entry{id: id, when: now})
	return false
}

// Len returns the number of tracked IDs, expired ones included.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

func (t *Tracker) pruneLocked(now time.Time) {
	for {
		front := t.order.Front()
		if front == nil {
			return
		}
		e := front.Value.(*entry)
		if now.Sub(e.when) < t.ttl {
			return
		}
		t.order.Remove(front)
		delete(t.seen, e.id)
	}
}

func (t *Tracker) evictOldestLocked() {
	front := t.order.Front()
	if front == nil {
		return
	}
	t.order.Remove(front)
	delete(t.seen, front.Value.(*entry).id)
}
