// Package buffer provides the bounded ring that backs every pub/sub
// subscriber queue. Writers never block: when the ring is full the
// configured policy discards either the oldest or the newest item, and
// an optional drop handler observes what was lost. That keeps slow
// GraphQL subscribers from ever stalling the ingest path.
package buffer

import (
	"sync"

	"github.com/joyautomation/mantle/errors"
)

// Policy selects what Write does when the ring is full.
type Policy int

const (
	// DropOldest discards the oldest buffered item to admit the new one.
	DropOldest Policy = iota
	// DropNewest discards the incoming item and keeps the buffer as is.
	DropNewest
)

func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	default:
		return "unknown"
	}
}

// Option configures a Ring.
type Option[T any] func(*Ring[T])

// WithPolicy sets the overflow policy. The default is DropOldest.
func WithPolicy[T any](p Policy) Option[T] {
	return func(r *Ring[T]) { r.policy = p }
}

// OnDrop installs a handler invoked with each discarded item. The
// handler runs outside the ring's lock, after the write that caused
// the drop has completed.
func OnDrop[T any](fn func(T)) Option[T] {
	return func(r *Ring[T]) { r.onDrop = fn }
}

// Stats is a point-in-time snapshot of ring activity.
type Stats struct {
	Writes uint64
	Reads  uint64
	Drops  uint64
	Len    int
	Cap    int
}

// Ring is a fixed-capacity FIFO queue safe for concurrent use.
type Ring[T any] struct {
	mu     sync.Mutex
	items  []T
	head   int
	tail   int
	size   int
	closed bool

	policy Policy
	onDrop func(T)

	writes uint64
	reads  uint64
	drops  uint64
}

// NewRing creates a ring holding at most capacity items. A capacity
// below one is clamped to one.
func NewRing[T any](capacity int, opts ...Option[T]) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	r := &Ring[T]{items: make([]T, capacity)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Write enqueues item. On a full ring the policy decides which item is
// discarded; Write itself never blocks. It fails only after Close.
func (r *Ring[T]) Write(item T) error {
	var zero T
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStopped, "buffer", "Write", "ring closed")
	}

	var dropped T
	var didDrop bool
	if r.size == len(r.items) {
		if r.policy == DropNewest {
			r.drops++
			r.mu.Unlock()
			if r.onDrop != nil {
				r.onDrop(item)
			}
			return nil
		}
		dropped, didDrop = r.items[r.tail], true
		r.items[r.tail] = zero
		r.tail = (r.tail + 1) % len(r.items)
		r.size--
		r.drops++
	}

	r.items[r.head] = item
	r.head = (r.head + 1) % len(r.items)
	r.size++
	r.writes++
	r.mu.Unlock()

	if didDrop && r.onDrop != nil {
		r.onDrop(dropped)
	}
	return nil
}

// Read dequeues the oldest item. The second return is false when the
// ring is empty.
func (r *Ring[T]) Read() (T, bool) {
	var zero T
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == 0 {
		return zero, false
	}
	item := r.items[r.tail]
	r.items[r.tail] = zero
	r.tail = (r.tail + 1) % len(r.items)
	r.size--
	r.reads++
	return item, true
}

// Len reports the number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Cap reports the fixed capacity.
func (r *Ring[T]) Cap() int { return len(r.items) }

// Stats snapshots the counters.
func (r *Ring[T]) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{
		Writes: r.writes,
		Reads:  r.reads,
		Drops:  r.drops,
		Len:    r.size,
		Cap:    len(r.items),
	}
}

// Close rejects further writes. Buffered items remain readable so a
// drain loop can finish; Read keeps working after Close.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}
