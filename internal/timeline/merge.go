// Package timeline merges per-relay result batches into one ordered feed.
package timeline

import (
	"cmp"

	"nostr-feed/internal/nostr"
	"nostr-feed/internal/types"
)

// Precedence selects which copy survives when two heads compare equal.
type Precedence int

const (
	// KeepEarlier keeps the copy from the accumulated (earlier) sequence.
	KeepEarlier Precedence = iota
	// KeepLater keeps the copy from the sequence being folded in.
	KeepLater
)

// Options configures a merge.
type Options[T any] struct {
	// Limit caps the result length; 0 means unbounded.
	Limit int
	// Key, when set, drops elements whose key was already emitted.
	Key func(T) string
	// Precedence decides which copy of a tie is emitted.
	Precedence Precedence
}

// Option mutates event merge options.
type Option func(*Options[types.Event])

// WithLimit caps the merged feed at n events.
func WithLimit(n int) Option {
	return func(o *Options[types.Event]) { o.Limit = n }
}

// WithPrecedence chooses which copy of a duplicate survives.
func WithPrecedence(p Precedence) Option {
	return func(o *Options[types.Event]) { o.Precedence = p }
}

// WithKey overrides the deduplication key; nil disables key dedupe
// and leaves only comparator ties as duplicates.
func WithKey(key func(types.Event) string) Option {
	return func(o *Options[types.Event]) { o.Key = key }
}

// NewestFirst orders events by created_at descending, then by ID.
func NewestFirst(a, b types.Event) int {
	if c := cmp.Compare(b.CreatedAt, a.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// OldestFirst orders events by created_at ascending, then by ID.
func OldestFirst(a, b types.Event) int {
	if c := cmp.Compare(a.CreatedAt, b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// Merge combines event sequences sorted NewestFirst into one newest-first feed
// free of duplicate event keys.
func Merge(seqs [][]types.Event, opts ...Option) []types.Event {
	o := Options[types.Event]{Key: nostr.Key}
	for _, opt := range opts {
		opt(&o)
	}
	return MergeFunc(seqs, NewestFirst, o)
}

// MergeFunc folds the sequences pairwise, left to right: ((s1+s2)+s3)+...
// Every input must already be sorted by compare; the output is sorted by compare too.
func MergeFunc[T any](seqs [][]T, compare func(a, b T) int, o Options[T]) []T {
	if len(seqs) == 0 {
		return []T{}
	}
	if len(seqs) == 1 {
		out := seqs[0]
		if o.Limit > 0 && len(out) > o.Limit {
			out = out[:o.Limit]
		}
		return append([]T(nil), out...)
	}

	result := seqs[0]
	for _, next := range seqs[1:] {
		result = mergePair(result, next, compare, o)
	}
	return result
}

func mergePair[T any](a, b []T, compare func(a, b T) int, o Options[T]) []T {
	size := len(a) + len(b)
	if o.Limit > 0 && size > o.Limit {
		size = o.Limit
	}
	out := make([]T, 0, size)

	var seen map[string]struct{}
	if o.Key != nil {
		seen = make(map[string]struct{}, size)
	}
	full := func() bool {
		return o.Limit > 0 && len(out) >= o.Limit
	}
	emit := func(v T) {
		if seen != nil {
			k := o.Key(v)
			if _, dup := seen[k]; dup {
				return
			}
			seen[k] = struct{}{}
		}
		out = append(out, v)
	}

	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if full() {
			return out
		}
		switch c := compare(a[i], b[j]); {
		case c < 0:
			emit(a[i])
			i++
		case c > 0:
			emit(b[j])
			j++
		default:
			if o.Precedence == KeepLater {
				emit(b[j])
			} else {
				emit(a[i])
			}
			i++
			j++
		}
	}
	for ; i < len(a) && !full(); i++ {
		emit(a[i])
	}
	for ; j < len(b) && !full(); j++ {
		emit(b[j])
	}
	return out
}
