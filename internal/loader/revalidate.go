package loader

import (
	"context"
	"fmt"
	"sync"
)

// Store is the durable collaborator behind a Revalidating loader.
type Store[K comparable, V any] interface {
	GetMultiple(ctx context.Context, keys []K) (map[K]V, error)
	Set(ctx context.Context, key K, v V) error
}

// Revalidating is a Loader that serves durable-store values while refreshing them.
//
// On an in-memory miss the store is consulted first. Stored values are returned at
// once and re-fetched in the background; fresh values are persisted and primed, so
// later loads see them. Callers already holding the stale value are not notified.
// Keys absent from the store are fetched directly and persisted.
type Revalidating[K comparable, V any] struct {
	*Loader[K, V]

	store Store[K, V]
	fetch BatchFunc[K, V]

	mu         sync.Mutex
	refreshing map[K]struct{}
	background sync.WaitGroup
}

// NewRevalidating creates a stale-while-revalidate loader over store and fetch
func NewRevalidating[K comparable, V any](name string, store Store[K, V], fetch BatchFunc[K, V], cfg Config, opts ...Option) *Revalidating[K, V] {
	r := &Revalidating[K, V]{
		store:      store,
		fetch:      fetch,
		refreshing: make(map[K]struct{}),
	}
	r.Loader = New(name, r.batch, cfg, opts...)
	return r
}

func (r *Revalidating[K, V]) batch(ctx context.Context, keys []K) ([]Result[V], error) {
	stored, err := r.store.GetMultiple(ctx, keys)
	if err != nil {
		// Still fetch from the source; a broken store must not block lookups
		r.log.Warn("loader: store read failed", "keys", len(keys), "error", err)
		stored = nil
	}

	results := make([]Result[V], len(keys))
	var stale, missing []K
	var missingIdx []int
	for i, key := range keys {
		if v, ok := stored[key]; ok {
			results[i] = Found(v)
			stale = append(stale, key)
			continue
		}
		missing = append(missing, key)
		missingIdx = append(missingIdx, i)
	}

	if len(stale) > 0 {
		r.revalidate(stale)
	}
	if len(missing) == 0 {
		return results, nil
	}

	fresh, err := r.fetchChecked(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, idx := range missingIdx {
		results[idx] = fresh[j]
		if fresh[j].Err == nil {
			r.persist(ctx, missing[j], fresh[j].Value)
		}
	}
	return results, nil
}

func (r *Revalidating[K, V]) fetchChecked(ctx context.Context, keys []K) ([]Result[V], error) {
	results, err := r.fetch(ctx, keys)
	if err != nil {
		return nil, err
	}
	if len(results) != len(keys) {
		return nil, fmt.Errorf("%w: %d results for %d keys", ErrFetchFailure, len(results), len(keys))
	}
	return results, nil
}

func (r *Revalidating[K, V]) persist(ctx context.Context, key K, v V) {
	if err := r.store.Set(ctx, key, v); err != nil {
		r.log.Warn("loader: store write failed", "key", fmt.Sprint(key), "error", err)
	}
}

// revalidate refreshes keys in the background. Keys already being refreshed are skipped.
func (r *Revalidating[K, V]) revalidate(keys []K) {
	r.mu.Lock()
	todo := make([]K, 0, len(keys))
	for _, key := range keys {
		if _, busy := r.refreshing[key]; busy {
			continue
		}
		r.refreshing[key] = struct{}{}
		todo = append(todo, key)
	}
	r.mu.Unlock()
	if len(todo) == 0 {
		return
	}

	r.background.Add(1)
	go func() {
		defer r.background.Done()
		defer func() {
			r.mu.Lock()
			for _, key := range todo {
				delete(r.refreshing, key)
			}
			r.mu.Unlock()
		}()

		ctx := context.Background()
		fresh, err := r.fetchChecked(ctx, todo)
		if err != nil {
			r.log.Warn("loader: revalidation failed, keeping stored values", "keys", len(todo), "error", err)
			r.rec.Failure(r.name, len(todo))
			return
		}

		refreshed := 0
		for i, key := range todo {
			if fresh[i].Err != nil {
				continue
			}
			r.persist(ctx, key, fresh[i].Value)
			r.Prime(key, fresh[i].Value)
			refreshed++
		}
		if refreshed > 0 {
			r.rec.Revalidated(r.name, refreshed)
		}
		r.log.Debug("loader: revalidated", "keys", len(todo), "refreshed", refreshed)
	}()
}

// Wait blocks until dispatched batches and background refreshes have finished
func (r *Revalidating[K, V]) Wait() {
	r.Loader.Wait()
	r.background.Wait()
}
