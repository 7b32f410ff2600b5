// Package events keeps the bounded in-memory history of agent events and
// fans new entries out to live subscribers (TUI, SSE, websocket).
package events

import (
	"sync"
	"time"
)

// DefaultCapacity is how many events the buffer retains.
const DefaultCapacity = 100

// Entry is one agent event, ingested over HTTP or emitted locally.
type Entry struct {
	ID        int64             `json:"id"`
	Timestamp time.Time         `json:"ts"`
	Kind      string            `json:"kind"`
	Session   string            `json:"session"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// subscriber channels are buffered; a slow consumer drops events rather
// than stalling ingestion.
const subscriberBuffer = 16

// Buffer is a fixed-capacity ring of recent events. Appending past
// capacity overwrites the oldest entry. IDs increase monotonically for
// the life of the buffer.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	size    int
	nextID  int64

	subs    map[int]chan Entry
	nextSub int
}

// New creates a buffer. A non-positive capacity means DefaultCapacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{
		entries: make([]Entry, capacity),
		nextID:  1,
		subs:    make(map[int]chan Entry),
	}
}

// Append stores an entry, assigning its ID and stamping the time when
// unset, and returns the stored value. Subscribers are notified without
// blocking; a full subscriber channel misses the entry.
func (b *Buffer) Append(e Entry) Entry {
	b.mu.Lock()
	e.ID = b.nextID
	b.nextID++
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.entries[b.next] = e
	b.next = (b.next + 1) % len(b.entries)
	if b.size < len(b.entries) {
		b.size++
	}

	subs := make([]chan Entry, 0, len(b.subs))
	for _, ch := range b.subs {
		subs = append(subs, ch)
	}
	b.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- e:
		default:
		}
	}
	return e
}

// RecentN returns up to n of the newest entries in chronological order.
func (b *Buffer) RecentN(n int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > b.size {
		n = b.size
	}
	if n <= 0 {
		return nil
	}

	out := make([]Entry, 0, n)
	start := (b.next - n + len(b.entries)) % len(b.entries)
	for i := 0; i < n; i++ {
		out = append(out, b.entries[(start+i)%len(b.entries)])
	}
	return out
}

// All returns every retained entry in chronological order.
func (b *Buffer) All() []Entry {
	return b.RecentN(cap(b.entries))
}

// Len reports how many entries are currently retained.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Capacity reports the ring size.
func (b *Buffer) Capacity() int {
	return cap(b.entries)
}

// Subscribe registers for entries appended after this call. The returned
// cancel function must be called to release the subscription.
func (b *Buffer) Subscribe() (<-chan Entry, func()) {
	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	ch := make(chan Entry, subscriberBuffer)
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}
