// Package thread reconstructs reply trees from events seen out of order across relays.
package thread

import (
	"sync"
	"sync/atomic"

	"nostr-feed/internal/nostr"
	"nostr-feed/internal/types"
)

// Snapshot is one immutable generation of the index.
// Buckets must not be modified by readers.
type Snapshot struct {
	Generation uint64
	Buckets    map[string][]types.Event
}

// Index maps a parent key to the children observed for it.
// AddEvents publishes a new Snapshot atomically, so a reader holding a snapshot
// (or calling Get) never sees a half-applied batch.
type Index struct {
	mu      sync.Mutex                     // serializes writers
	seen    map[string]struct{}            // every key ever offered, placed or not
	members map[string]map[string]struct{} // parent -> child keys already in the bucket

	current atomic.Pointer[Snapshot]
}

// NewIndex creates an empty index
func NewIndex() *Index {
	idx := &Index{
		seen:    make(map[string]struct{}),
		members: make(map[string]map[string]struct{}),
	}
	idx.current.Store(&Snapshot{Buckets: map[string][]types.Event{}})
	return idx
}

// AddEvents inserts a batch. Already seen events are skipped; events without a
// resolvable parent are remembered as seen but not placed in any bucket.
func (x *Index) AddEvents(events []types.Event) {
	if len(events) == 0 {
		return
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	// Group resolved children by parent, preserving arrival order
	grouped := make(map[string][]types.Event)
	var parents []string
	for _, evt := range events {
		key := nostr.Key(evt)
		if _, ok := x.seen[key]; ok {
			continue
		}
		x.seen[key] = struct{}{}

		parent, ok := nostr.ParentKey(evt)
		if !ok {
			continue
		}
		if _, ok := grouped[parent]; !ok {
			parents = append(parents, parent)
		}
		grouped[parent] = append(grouped[parent], evt)
	}
	if len(parents) == 0 {
		return
	}

	prev := x.current.Load()
	buckets := make(map[string][]types.Event, len(prev.Buckets)+len(parents))
	for k, v := range prev.Buckets {
		buckets[k] = v
	}

	for _, parent := range parents {
		set := x.members[parent]
		if set == nil {
			set = make(map[string]struct{})
			x.members[parent] = set
		}
		old := buckets[parent]
		// Copy so readers of the previous generation keep their slice untouched
		bucket := make([]types.Event, len(old), len(old)+len(grouped[parent]))
		copy(bucket, old)
		for _, child := range grouped[parent] {
			ck := nostr.Key(child)
			if _, dup := set[ck]; dup {
				continue
			}
			set[ck] = struct{}{}
			bucket = append(bucket, child)
		}
		buckets[parent] = bucket
	}

	x.current.Store(&Snapshot{Generation: prev.Generation + 1, Buckets: buckets})
}

// Get returns the children of parentKey in arrival order.
// The slice is shared with the snapshot and must be treated as read-only.
func (x *Index) Get(parentKey string) []types.Event {
	return x.current.Load().Buckets[parentKey]
}

// Count returns the number of known children of parentKey
func (x *Index) Count(parentKey string) int {
	return len(x.Get(parentKey))
}

// Len returns the number of parents with at least one child
func (x *Index) Len() int {
	return len(x.current.Load().Buckets)
}

// Generation returns how many batches have changed the index
func (x *Index) Generation() uint64 {
	return x.current.Load().Generation
}

// Snapshot returns the current generation
func (x *Index) Snapshot() *Snapshot {
	return x.current.Load()
}

// Walk visits the subtree under rootKey depth-first, children in arrival order.
// depth is 1 for direct children. Cycles are cut by visiting each key once.
func (x *Index) Walk(rootKey string, fn func(evt types.Event, depth int)) {
	snap := x.current.Load()
	visited := map[string]bool{rootKey: true}
	var walk func(key string, depth int)
	walk = func(key string, depth int) {
		for _, child := range snap.Buckets[key] {
			ck := nostr.Key(child)
			if visited[ck] {
				continue
			}
			visited[ck] = true
			fn(child, depth)
			walk(ck, depth+1)
		}
	}
	walk(rootKey, 1)
}
