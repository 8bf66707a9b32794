// Package loader implements a coalescing, batching key/value loader.
//
// Concurrent requests for the same key share one in-flight fetch, keys requested
// within the same dispatch window are grouped into batches of at most MaxBatch keys,
// and a failure for one key never fails its siblings.
package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"nostr-feed/internal/util"
)

var (
	// ErrFetchFailure marks every key of a batch whose fetch failed outright.
	ErrFetchFailure = errors.New("loader: batch fetch failed")
	// ErrNotFound is the conventional per-key error for keys the source does not know.
	ErrNotFound = errors.New("loader: not found")
)

// Result is the outcome for one key of a batch.
type Result[V any] struct {
	Value V
	Err   error
}

// Found wraps a successfully fetched value
func Found[V any](v V) Result[V] {
	return Result[V]{Value: v}
}

// Failed wraps a per-key failure
func Failed[V any](err error) Result[V] {
	return Result[V]{Err: err}
}

// BatchFunc fetches values for keys. It must return one Result per key, in key order.
// A non-nil error fails the whole batch.
type BatchFunc[K comparable, V any] func(ctx context.Context, keys []K) ([]Result[V], error)

// Config tunes batching
type Config struct {
	Window   time.Duration `yaml:"window"`    // how long the first key of a batch waits for company
	MaxBatch int           `yaml:"max_batch"` // max keys per underlying fetch (0 = unlimited)
}

// DefaultConfig returns sensible defaults for batching
func DefaultConfig() Config {
	return Config{
		Window:   50 * time.Millisecond, // Collect requests for 50ms
		MaxBatch: 100,                   // Max 100 keys per batch
	}
}

// Stats is a point-in-time view of a loader
type Stats struct {
	Cached   int
	Pending  int // scheduled, not yet dispatched
	InFlight int // scheduled or dispatched, not yet resolved
}

// Option configures a Loader
type Option func(*options)

type options struct {
	logger   *slog.Logger
	recorder Recorder
}

// WithLogger sets the logger (default slog.Default())
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(o *options) { o.recorder = r }
}

func buildOptions(opts []Option) options {
	o := options{logger: slog.Default(), recorder: NoopRecorder{}}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// call is the shared in-flight result for one key
type call[V any] struct {
	done chan struct{}
	val  V
	ok   bool
}

// Loader is a memoizing loader keyed by K.
// Resolved values stay until Prime replaces them or Clear removes them.
type Loader[K comparable, V any] struct {
	name    string
	batchFn BatchFunc[K, V]
	cfg     Config
	log     *slog.Logger
	rec     Recorder

	mu       sync.Mutex
	values   map[K]V
	inflight map[K]*call[V]
	pending  []K
	timer    *time.Timer

	batches sync.WaitGroup
}

// New creates a loader; name is used in logs and metrics
func New[K comparable, V any](name string, batchFn BatchFunc[K, V], cfg Config, opts ...Option) *Loader[K, V] {
	o := buildOptions(opts)
	return &Loader[K, V]{
		name:     name,
		batchFn:  batchFn,
		cfg:      cfg,
		log:      o.logger.With("loader", name),
		rec:      o.recorder,
		values:   make(map[K]V),
		inflight: make(map[K]*call[V]),
	}
}

// Load returns the value for key, fetching it if needed.
// ok is false when the fetch failed or ctx ended first; the fetch itself keeps running.
func (l *Loader[K, V]) Load(ctx context.Context, key K) (V, bool) {
	l.mu.Lock()
	if v, ok := l.values[key]; ok {
		l.mu.Unlock()
		l.rec.Hit(l.name)
		return v, true
	}
	c := l.scheduleLocked(key)
	l.mu.Unlock()

	return wait(ctx, c)
}

// LoadMany loads several keys; results are in key order.
// All misses are scheduled together, so they share batches.
func (l *Loader[K, V]) LoadMany(ctx context.Context, keys []K) ([]V, []bool) {
	values := make([]V, len(keys))
	found := make([]bool, len(keys))
	calls := make([]*call[V], len(keys))

	l.mu.Lock()
	for i, key := range keys {
		if v, ok := l.values[key]; ok {
			values[i], found[i] = v, true
			l.rec.Hit(l.name)
			continue
		}
		calls[i] = l.scheduleLocked(key)
	}
	l.mu.Unlock()

	for i, c := range calls {
		if c != nil {
			values[i], found[i] = wait(ctx, c)
		}
	}
	return values, found
}

// LoadMap is LoadMany returning only the keys that resolved
func (l *Loader[K, V]) LoadMap(ctx context.Context, keys []K) map[K]V {
	values, found := l.LoadMany(ctx, keys)
	result := make(map[K]V, len(keys))
	for i, key := range keys {
		if found[i] {
			result[key] = values[i]
		}
	}
	return result
}

func wait[V any](ctx context.Context, c *call[V]) (V, bool) {
	select {
	case <-c.done:
		return c.val, c.ok
	case <-ctx.Done():
		var zero V
		return zero, false
	}
}

// scheduleLocked joins an in-flight call for key or schedules a new one
func (l *Loader[K, V]) scheduleLocked(key K) *call[V] {
	if c, ok := l.inflight[key]; ok {
		return c
	}
	c := &call[V]{done: make(chan struct{})}
	l.inflight[key] = c
	l.pending = append(l.pending, key)
	l.rec.Miss(l.name)

	if l.timer == nil {
		l.timer = time.AfterFunc(l.cfg.Window, l.Dispatch)
	}
	return c
}

// Dispatch sends every scheduled key now instead of waiting for the window
func (l *Loader[K, V]) Dispatch() {
	l.mu.Lock()
	keys := l.pending
	l.pending = nil
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	l.mu.Unlock()

	for _, chunk := range util.Chunk(keys, l.cfg.MaxBatch) {
		l.batches.Add(1)
		go l.runBatch(chunk)
	}
}

// runBatch fetches one batch and resolves its calls. Dispatched batches are not
// tied to any caller's context and always run to completion.
func (l *Loader[K, V]) runBatch(keys []K) {
	defer l.batches.Done()

	l.rec.Batch(l.name, len(keys))
	l.log.Debug("loader: executing batch", "keys", len(keys))

	results, err := l.batchFn(context.Background(), keys)
	if err == nil && len(results) != len(keys) {
		err = fmt.Errorf("%w: %d results for %d keys", ErrFetchFailure, len(results), len(keys))
	}
	if err != nil {
		if !errors.Is(err, ErrFetchFailure) {
			err = fmt.Errorf("%w: %w", ErrFetchFailure, err)
		}
		l.log.Warn("loader: batch failed", "keys", len(keys), "error", err)
		l.rec.Failure(l.name, len(keys))
		results = nil
	}

	failed := 0
	l.mu.Lock()
	for i, key := range keys {
		c := l.inflight[key]
		delete(l.inflight, key)
		if results != nil && results[i].Err == nil {
			// A value primed while the fetch was running is newer; keep it
			if primed, ok := l.values[key]; ok {
				c.val = primed
			} else {
				l.values[key] = results[i].Value
				c.val = results[i].Value
			}
			c.ok = true
		} else if results != nil {
			failed++
		}
		close(c.done)
	}
	l.mu.Unlock()

	if failed > 0 {
		l.log.Debug("loader: keys failed in batch", "failed", failed, "keys", len(keys))
		l.rec.Failure(l.name, failed)
	}
}

// Prime stores value for key without fetching
func (l *Loader[K, V]) Prime(key K, value V) {
	l.mu.Lock()
	l.values[key] = value
	l.mu.Unlock()
}

// Clear forgets the resolved value for key, so the next Load refetches it
func (l *Loader[K, V]) Clear(key K) {
	l.mu.Lock()
	delete(l.values, key)
	l.mu.Unlock()
}

// ClearAll forgets every resolved value
func (l *Loader[K, V]) ClearAll() {
	l.mu.Lock()
	l.values = make(map[K]V)
	l.mu.Unlock()
}

// Peek returns the resolved value for key without scheduling a fetch
func (l *Loader[K, V]) Peek(key K) (V, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.values[key]
	return v, ok
}

// Stats returns current loader statistics
func (l *Loader[K, V]) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Cached:   len(l.values),
		Pending:  len(l.pending),
		InFlight: len(l.inflight),
	}
}

// Wait flushes scheduled keys and blocks until every dispatched batch has finished
func (l *Loader[K, V]) Wait() {
	l.Dispatch()
	l.batches.Wait()
}
