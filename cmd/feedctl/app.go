package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.uber.org/multierr"

	"nostr-feed/internal/cache"
	"nostr-feed/internal/config"
	"nostr-feed/internal/loader"
	"nostr-feed/internal/lookup"
	"nostr-feed/internal/metrics"
	"nostr-feed/internal/pool"
	"nostr-feed/internal/types"
)

// app wires the pool, the durable store and the lookups for one command run
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	pool    *pool.Pool
	backend cache.Backend
	metrics *metrics.Metrics
	server  *http.Server

	waiters []interface{ Wait() }
}

func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, error) {
	backend, err := cache.Open(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	if sc, ok := backend.(*cache.SQLiteCache); ok {
		if n, err := sc.Prune(ctx); err != nil {
			log.Warn("cache: prune failed", "error", err)
		} else if n > 0 {
			log.Debug("cache: pruned expired entries", "count", n)
		}
	}

	m := metrics.New(cfg.Cache.Backend)
	p := pool.New(cfg.Pool, pool.WithLogger(log), pool.WithRecorder(m))
	m.TrackPool(p)

	a := &app{cfg: cfg, log: log, pool: p, backend: backend, metrics: m}
	if cfg.Metrics.Addr != "" {
		if err := a.serveMetrics(cfg.Metrics.Addr); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	a.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("metrics server stopped", "error", err)
		}
	}()
	a.log.Info("serving metrics", "addr", ln.Addr().String())
	return nil
}

func (a *app) loaderOptions() []loader.Option {
	return []loader.Option{loader.WithLogger(a.log), loader.WithRecorder(a.metrics)}
}

func (a *app) profiles() *lookup.Profiles {
	store := cache.NewTyped[*types.ProfileInfo](a.backend, "profile:", a.cfg.Cache.ProfileTTL)
	p := lookup.NewProfiles(a.pool, a.cfg.Relays.Profile, store, a.cfg.Lookup, a.cfg.Loader, a.loaderOptions()...)
	a.waiters = append(a.waiters, p)
	return p
}

func (a *app) relayInfo() *lookup.RelayInfo {
	store := cache.NewTyped[*types.RelayInfo](a.backend, "nip11:", a.cfg.Cache.RelayInfoTTL)
	r := lookup.NewRelayInfo(store, a.cfg.Lookup, a.cfg.Loader, a.loaderOptions()...)
	a.waiters = append(a.waiters, r)
	return r
}

// reputation returns nil when no scoring endpoint is configured
func (a *app) reputation() *lookup.Reputation {
	if a.cfg.Lookup.ReputationURL == "" {
		return nil
	}
	store := cache.NewTyped[float64](a.backend, "reputation:", a.cfg.Cache.ReputationTTL)
	r := lookup.NewReputation(a.cfg.Lookup.ReputationURL, store, a.cfg.Lookup, a.cfg.Loader, a.loaderOptions()...)
	a.waiters = append(a.waiters, r)
	return r
}

// Close lets background refreshes persist, then releases everything
func (a *app) Close() error {
	for _, w := range a.waiters {
		w.Wait()
	}

	var errs error
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		errs = multierr.Append(errs, a.server.Shutdown(ctx))
		cancel()
	}
	errs = multierr.Append(errs, a.pool.Close())
	errs = multierr.Append(errs, a.backend.Close())
	return errs
}
