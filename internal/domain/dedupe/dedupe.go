// Package dedupe provides self-expiring "already processed" markers.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Deduper records seen keys to ensure at-most-once processing within a TTL.
type Deduper interface {
	// SeenAndRecord atomically checks if key was seen and records it if not.
	// Returns true if key was already seen and its marker has not expired.
	SeenAndRecord(ctx context.Context, key string) bool

	// Unrecord removes a marker so the key can be retried.
	Unrecord(ctx context.Context, key string)

	// Sweep drops expired markers and returns how many were removed.
	Sweep(ctx context.Context) int

	Size() int64
}

type marker struct {
	key     string
	expires time.Time
}

// inMemoryDeduper keeps markers in insertion order. With a single TTL the
// oldest marker is always the next to expire, so expiry and size eviction
// both pop from the back of the list.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]*list.Element
	order   *list.List // front = newest
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		ttl:     10 * time.Minute,
		maxSize: 50_000,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]*list.Element)
	d.order = list.New()
	return d
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if el, ok := d.seen[key]; ok {
		if now.Before(el.Value.(*marker).expires) {
			return true
		}
		d.remove(el)
	}

	d.expire(now)
	if d.maxSize > 0 && len(d.seen) >= d.maxSize {
		d.remove(d.order.Back())
	}
	d.seen[key] = d.order.PushFront(&marker{key: key, expires: now.Add(d.ttl)})
	return false
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.seen[key]; ok {
		d.remove(el)
	}
}

func (d *inMemoryDeduper) Sweep(_ context.Context) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.expire(d.now())
}

func (d *inMemoryDeduper) Size() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int64(len(d.seen))
}

// expire pops expired markers from the back. Caller holds d.mu.
func (d *inMemoryDeduper) expire(now time.Time) int {
	n := 0
	for el := d.order.Back(); el != nil; el = d.order.Back() {
		if now.Before(el.Value.(*marker).expires) {
			break
		}
		d.remove(el)
		n++
	}
	return n
}

func (d *inMemoryDeduper) remove(el *list.Element) {
	if el == nil {
		return
	}
	delete(d.seen, el.Value.(*marker).key)
	d.order.Remove(el)
}
