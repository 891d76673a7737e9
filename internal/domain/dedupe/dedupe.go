// Package dedupe tracks which work units a run has already claimed, so a
// subject listed twice or a unit resubmitted after a retry is processed once.
package dedupe

import (
	"context"
	"sync"

	"github.com/okian/meshrsa/internal/domain/mesh"
)

// Deduper records claimed unit keys.
type Deduper interface {
	// Claim atomically records key. It returns false when key was already
	// claimed.
	Claim(ctx context.Context, key string) bool

	// Release forgets key so it can be claimed again, for units that failed
	// before doing any work.
	Release(ctx context.Context, key string)

	Size() int
}

// UnitKey is the dedupe key of one subject and hemisphere.
func UnitKey(subject string, h mesh.Hemisphere) string {
	return subject + "-" + h.String()
}

// inMemoryDeduper keeps keys in a map. In bounded mode the oldest claim is
// forgotten once maxSize keys are held.
type inMemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]int // key -> slot in order
	order   []string       // ring of claimed keys, bounded mode only
	next    int
	maxSize int
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]int)
	if d.maxSize > 0 {
		d.order = make([]string, d.maxSize)
	}
	return d
}

func (d *inMemoryDeduper) Claim(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[key]; ok {
		return false
	}
	if d.maxSize <= 0 {
		d.seen[key] = -1
		return true
	}
	if old := d.order[d.next]; old != "" {
		delete(d.seen, old)
	}
	d.order[d.next] = key
	d.seen[key] = d.next
	d.next = (d.next + 1) % d.maxSize
	return true
}

func (d *inMemoryDeduper) Release(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot, ok := d.seen[key]
	if !ok {
		return
	}
	delete(d.seen, key)
	if slot >= 0 {
		d.order[slot] = ""
	}
}

func (d *inMemoryDeduper) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
