// Package dedupe tracks client idempotency keys so a retried append is
// answered with the original message ID instead of appending twice.
package dedupe

import (
	"container/list"
	"context"
	"sync"
)

const defaultMaxSize = 50000

// Deduper remembers idempotency keys and the result they produced.
type Deduper interface {
	// Claim records key as in flight. When key was already claimed it
	// returns seen=true together with the stored result, which is empty
	// while the first request is still running.
	Claim(ctx context.Context, key string) (result string, seen bool)

	// Complete stores the result for a claimed key.
	Complete(ctx context.Context, key, result string)

	// Release forgets key so the request can be retried, e.g. after the
	// write it guarded failed.
	Release(ctx context.Context, key string)

	Size() int
}

type entry struct {
	key    string
	result string
}

// inMemoryDeduper keeps at most maxSize keys, evicting the oldest claim.
// maxSize <= 0 disables eviction.
type inMemoryDeduper struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List
	index   map[string]*list.Element
}

// NewInMemoryDeduper creates an in-memory deduper.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{maxSize: defaultMaxSize}
	for _, opt := range opts {
		opt(d)
	}
	d.order = list.New()
	d.index = make(map[string]*list.Element)
	return d
}

func (d *inMemoryDeduper) Claim(_ context.Context, key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[key]; ok {
		return el.Value.(*entry).result, true
	}
	if d.maxSize > 0 && d.order.Len() >= d.maxSize {
		oldest := d.order.Front()
		d.order.Remove(oldest)
		delete(d.index, oldest.Value.(*entry).key)
	}
	d.index[key] = d.order.PushBack(&entry{key: key})
	return "", false
}

func (d *inMemoryDeduper) Complete(_ context.Context, key, result string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[key]; ok {
		el.Value.(*entry).result = result
	}
}

func (d *inMemoryDeduper) Release(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[key]; ok {
		d.order.Remove(el)
		delete(d.index, key)
	}
}

func (d *inMemoryDeduper) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}
