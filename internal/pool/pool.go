// Package pool keeps one reusable websocket connection per relay and evicts idle ones.
package pool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"nostr-feed/internal/nostr"
)

var (
	// ErrConnectTimeout is returned when a relay does not accept a connection within Config.ConnectTimeout
	ErrConnectTimeout = errors.New("pool: connect timeout")
	// ErrUnsafeURL is returned for malformed relay URLs and private destinations
	ErrUnsafeURL = errors.New("pool: relay URL blocked: unsafe destination")
	// ErrPoolClosed is returned by every operation after Close
	ErrPoolClosed = errors.New("pool: closed")
)

// Config controls connection lifetimes
type Config struct {
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	IdleTimeout          time.Duration `yaml:"idle_timeout"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
	CleanupThreshold     int           `yaml:"cleanup_threshold"` // tracked count above which a new relay triggers a sweep first
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	SubscriptionBuffer   int           `yaml:"subscription_buffer"`
	MaxConcurrentQueries int           `yaml:"max_concurrent_queries"` // 0 = one goroutine per relay
}

// DefaultConfig returns the pool defaults
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:       10 * time.Second,
		IdleTimeout:          2 * time.Minute,
		SweepInterval:        60 * time.Second,
		CleanupThreshold:     50,
		WriteTimeout:         10 * time.Second,
		SubscriptionBuffer:   100,
		MaxConcurrentQueries: 16,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = d.SweepInterval
	}
	if c.SubscriptionBuffer <= 0 {
		c.SubscriptionBuffer = d.SubscriptionBuffer
	}
	return c
}

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Recorder receives pool events for metrics
type Recorder interface {
	Dialed(relay string, err error)
	Evicted(n int)
}

// NoopRecorder discards everything
type NoopRecorder struct{}

func (NoopRecorder) Dialed(string, error) {}
func (NoopRecorder) Evicted(int)          {}

// Option configures a Pool
type Option func(*Pool)

// WithClock replaces the clock used for activity tracking and sweeps
func WithClock(c clock.Clock) Option {
	return func(p *Pool) { p.clock = c }
}

// WithDialer replaces websocket.DefaultDialer
func WithDialer(d Dialer) Option {
	return func(p *Pool) { p.dialer = d }
}

// WithLogger sets the logger (default slog.Default())
func WithLogger(l *slog.Logger) Option {
	return func(p *Pool) { p.log = l }
}

// WithRecorder sets the metrics recorder
func WithRecorder(r Recorder) Option {
	return func(p *Pool) { p.rec = r }
}

// WithResolver sets the resolver used for destination checks
func WithResolver(r *net.Resolver) Option {
	return func(p *Pool) { p.resolver = r }
}

// Stats is a point-in-time view of the pool
type Stats struct {
	Tracked       int
	Subscriptions int
}

// Pool manages connections to multiple relays
type Pool struct {
	cfg      Config
	clock    clock.Clock
	dialer   Dialer
	log      *slog.Logger
	rec      Recorder
	resolver *net.Resolver

	mu     sync.Mutex
	conns  map[string]*Conn // normalized relay URL -> connection
	closed bool

	dials   singleflight.Group
	done    chan struct{}
	sweeper sync.WaitGroup
}

// New creates a pool and starts its periodic sweep
func New(cfg Config, opts ...Option) *Pool {
	p := &Pool{
		cfg:      cfg.withDefaults(),
		clock:    clock.New(),
		dialer:   websocket.DefaultDialer,
		log:      slog.Default(),
		rec:      NoopRecorder{},
		resolver: net.DefaultResolver,
		conns:    make(map[string]*Conn),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	ticker := p.clock.Ticker(p.cfg.SweepInterval)
	p.sweeper.Add(1)
	go p.sweepLoop(ticker)
	return p
}

// EnsureConnection returns the live connection for relayURL, dialing it if needed.
// Every call counts as activity on the relay. Concurrent calls for the same relay
// share one dial; ctx only bounds how long this caller waits for it.
func (p *Pool) EnsureConnection(ctx context.Context, relayURL string) (*Conn, error) {
	normalized := nostr.NormalizeRelayURL(relayURL)
	if normalized == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnsafeURL, relayURL)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	c, known := p.conns[normalized]
	if known && c.Alive() {
		c.touch()
		p.mu.Unlock()
		return c, nil
	}
	needSweep := !known && len(p.conns) > p.cfg.CleanupThreshold
	p.mu.Unlock()

	if needSweep {
		p.log.Debug("pool: cleanup threshold exceeded, sweeping before dial", "relay", normalized)
		p.Sweep()
	}

	ch := p.dials.DoChan(normalized, func() (interface{}, error) {
		return p.connect(normalized)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		c := res.Val.(*Conn)
		c.touch()
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// connect dials relayURL under the connect timeout and registers the connection
func (p *Pool) connect(relayURL string) (*Conn, error) {
	p.mu.Lock()
	if c := p.conns[relayURL]; c != nil && c.Alive() {
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ConnectTimeout)
	defer cancel()

	if !isRelayURLSafe(ctx, p.resolver, relayURL) {
		return nil, fmt.Errorf("%w: %s", ErrUnsafeURL, relayURL)
	}

	p.log.Debug("pool: creating new connection", "relay", relayURL)
	ws, _, err := p.dialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %s after %s", ErrConnectTimeout, relayURL, p.cfg.ConnectTimeout)
		}
		p.log.Debug("pool: dial failed", "relay", relayURL, "error", err)
		p.rec.Dialed(relayURL, err)
		return nil, err
	}

	c := newConn(relayURL, ws, p.cfg, p.clock, p.log)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		c.markClosed()
		return nil, ErrPoolClosed
	}
	p.conns[relayURL] = c
	p.mu.Unlock()

	p.rec.Dialed(relayURL, nil)
	go c.readLoop()
	return c, nil
}

func (p *Pool) sweepLoop(ticker *clock.Ticker) {
	defer p.sweeper.Done()
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.Sweep()
		case <-p.done:
			return
		}
	}
}

// Sweep closes connections without subscriptions that have been idle longer than
// IdleTimeout and drops dead ones. Close errors are logged, never returned.
// Returns the number of connections removed.
func (p *Pool) Sweep() int {
	now := p.clock.Now()

	p.mu.Lock()
	var victims []*Conn
	for url, c := range p.conns {
		if c.evictable(now, p.cfg.IdleTimeout) {
			victims = append(victims, c)
			delete(p.conns, url)
		}
	}
	p.mu.Unlock()

	if len(victims) == 0 {
		return 0
	}
	if err := closeAll(victims); err != nil {
		p.log.Warn("pool: errors closing idle connections", "failed", len(multierr.Errors(err)), "error", err)
	}
	p.log.Debug("pool: closed idle connections", "count", len(victims))
	p.rec.Evicted(len(victims))
	return len(victims)
}

func closeAll(conns []*Conn) error {
	var errs error
	for _, c := range conns {
		if err := c.markClosed(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", c.url, err))
		}
	}
	return errs
}

// CloseRelay closes a specific relay connection
func (p *Pool) CloseRelay(relayURL string) {
	normalized := nostr.NormalizeRelayURL(relayURL)

	p.mu.Lock()
	c := p.conns[normalized]
	delete(p.conns, normalized)
	p.mu.Unlock()

	if c != nil {
		if err := c.markClosed(); err != nil {
			p.log.Debug("pool: close failed", "relay", normalized, "error", err)
		}
	}
}

// Connections returns the tracked relay URLs, sorted
func (p *Pool) Connections() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	urls := make([]string, 0, len(p.conns))
	for url := range p.conns {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Stats{Tracked: len(p.conns)}
	for _, c := range p.conns {
		s.Subscriptions += c.Subscriptions()
	}
	return s
}

// Close stops the sweep and closes every connection
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	conns := make([]*Conn, 0, len(p.conns))
	for _, c := range p.conns {
		conns = append(conns, c)
	}
	p.conns = make(map[string]*Conn)
	p.mu.Unlock()

	close(p.done)
	p.sweeper.Wait()
	return closeAll(conns)
}
