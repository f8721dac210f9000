// Package dedupe binds client Idempotency-Key values to the job they created.
package dedupe

import (
	"context"
	"sync"
	"sync/atomic"
)

// Index maps idempotency keys to job IDs so a retried submission returns the
// original job instead of starting a new analysis.
type Index interface {
	// Claim atomically binds key to jobID unless key is already bound.
	// It returns the bound job ID and whether this call created the binding.
	Claim(ctx context.Context, key, jobID string) (boundJobID string, claimed bool)

	// Lookup returns the job bound to key, if any.
	Lookup(ctx context.Context, key string) (string, bool)

	// Release removes key so the submission can be retried, e.g. after the
	// job queue rejected it.
	Release(ctx context.Context, key string)

	Size() int64
}

// node is an entry in the insertion-ordered list; head is the newest.
type node struct {
	key   string
	jobID string
	prev  *node
	next  *node
}

func (n *node) reset() {
	*n = node{}
}

// inMemoryIndex is a bounded key index evicting the oldest binding when full.
// maxSize <= 0 disables eviction.
type inMemoryIndex struct {
	mu       sync.Mutex
	keys     map[string]*node
	head     *node
	tail     *node
	maxSize  int
	size     atomic.Int64
	nodePool sync.Pool
}

// NewInMemoryIndex creates a new in-memory idempotency index.
func NewInMemoryIndex(opts ...Option) Index {
	d := &inMemoryIndex{
		maxSize: 10_000,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.keys = make(map[string]*node)
	d.nodePool = sync.Pool{
		New: func() interface{} {
			return &node{}
		},
	}
	return d
}

func (d *inMemoryIndex) Claim(_ context.Context, key, jobID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if n, exists := d.keys[key]; exists {
		return n.jobID, false
	}
	if d.maxSize > 0 && len(d.keys) >= d.maxSize {
		d.evictOldest()
	}

	n := d.nodePool.Get().(*node)
	n.key, n.jobID = key, jobID
	n.next = d.head
	if d.head != nil {
		d.head.prev = n
	}
	d.head = n
	if d.tail == nil {
		d.tail = n
	}
	d.keys[key] = n
	d.size.Add(1)
	return jobID, true
}

func (d *inMemoryIndex) Lookup(_ context.Context, key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.keys[key]; ok {
		return n.jobID, true
	}
	return "", false
}

func (d *inMemoryIndex) Release(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n, ok := d.keys[key]; ok {
		d.unlink(n)
	}
}

// evictOldest drops the tail. Must be called with d.mu held.
func (d *inMemoryIndex) evictOldest() {
	if d.tail != nil {
		d.unlink(d.tail)
	}
}

// unlink removes n from the list and map. Must be called with d.mu held.
func (d *inMemoryIndex) unlink(n *node) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		d.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		d.tail = n.prev
	}
	delete(d.keys, n.key)
	n.reset()
	d.nodePool.Put(n)
	d.size.Add(-1)
}

// Size returns the current number of bindings.
func (d *inMemoryIndex) Size() int64 {
	return d.size.Load()
}
