package pool

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nostr-feed/internal/relaytest"
	"nostr-feed/internal/types"
)

// countingDialer wraps the default dialer and can hold dials until released
type countingDialer struct {
	calls   atomic.Int32
	release chan struct{}
}

func (d *countingDialer) DialContext(ctx context.Context, url string, h http.Header) (*websocket.Conn, *http.Response, error) {
	d.calls.Add(1)
	if d.release != nil {
		<-d.release
	}
	return websocket.DefaultDialer.DialContext(ctx, url, h)
}

// hangingDialer never connects
type hangingDialer struct {
	calls atomic.Int32
}

func (d *hangingDialer) DialContext(ctx context.Context, url string, h http.Header) (*websocket.Conn, *http.Response, error) {
	d.calls.Add(1)
	<-ctx.Done()
	return nil, nil, ctx.Err()
}

func newTestPool(t *testing.T, cfg Config, opts ...Option) *Pool {
	t.Helper()
	p := New(cfg, opts...)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestEnsureConnectionReusesConnection(t *testing.T) {
	relay := relaytest.New(t)
	p := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	c1, err := p.EnsureConnection(ctx, relay.URL)
	require.NoError(t, err)
	c2, err := p.EnsureConnection(ctx, relay.URL+"/")
	require.NoError(t, err)

	assert.Same(t, c1, c2, "trailing slash normalizes to the same relay")
	assert.Equal(t, 1, relay.Connections())
	assert.Equal(t, 1, p.Stats().Tracked)
}

func TestConcurrentDialsAreShared(t *testing.T) {
	relay := relaytest.New(t)
	dialer := &countingDialer{release: make(chan struct{})}
	p := newTestPool(t, DefaultConfig(), WithDialer(dialer))
	ctx := context.Background()

	const callers = 8
	conns := make([]*Conn, callers)
	var wg sync.WaitGroup
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := p.EnsureConnection(ctx, relay.URL)
			assert.NoError(t, err)
			conns[i] = c
		}(i)
	}
	require.Eventually(t, func() bool { return dialer.calls.Load() == 1 }, time.Second, time.Millisecond)
	// give the remaining callers time to join
	time.Sleep(20 * time.Millisecond)
	close(dialer.release)
	wg.Wait()

	assert.Equal(t, int32(1), dialer.calls.Load())
	for _, c := range conns {
		assert.Same(t, conns[0], c)
	}
	assert.Equal(t, 1, relay.Connections())
}

func TestConnectTimeout(t *testing.T) {
	dialer := &hangingDialer{}
	cfg := DefaultConfig()
	cfg.ConnectTimeout = 20 * time.Millisecond
	p := newTestPool(t, cfg, WithDialer(dialer))

	start := time.Now()
	_, err := p.EnsureConnection(context.Background(), "ws://127.0.0.1:1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, int32(1), dialer.calls.Load(), "no internal retry")
	assert.Equal(t, 0, p.Stats().Tracked)
}

func TestCallerContextOnlyBoundsWait(t *testing.T) {
	dialer := &hangingDialer{}
	cfg := DefaultConfig()
	cfg.ConnectTimeout = time.Second
	p := newTestPool(t, cfg, WithDialer(dialer))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := p.EnsureConnection(ctx, "ws://127.0.0.1:1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrConnectTimeout)
}

func TestUnsafeURLs(t *testing.T) {
	dialer := &hangingDialer{}
	p := newTestPool(t, DefaultConfig(), WithDialer(dialer))

	for _, url := range []string{
		"",
		"https://relay.example.com",
		"wss://relay.local",
		"wss://intranet",
		"ws://10.0.0.1",
		"ws://192.168.1.20:7777",
		"ws://169.254.169.254",
	} {
		_, err := p.EnsureConnection(context.Background(), url)
		assert.ErrorIs(t, err, ErrUnsafeURL, url)
	}
	assert.Equal(t, int32(0), dialer.calls.Load())
}

func TestIsRelayIPSafe(t *testing.T) {
	assert.True(t, isRelayIPSafe(net.ParseIP("127.0.0.1")))
	assert.True(t, isRelayIPSafe(net.ParseIP("93.184.216.34")))
	assert.False(t, isRelayIPSafe(net.ParseIP("10.1.2.3")))
	assert.False(t, isRelayIPSafe(net.ParseIP("fe80::1")))
	assert.False(t, isRelayIPSafe(net.ParseIP("0.0.0.0")))
	assert.False(t, isRelayIPSafe(net.ParseIP("224.0.0.1")))
	assert.False(t, isRelayIPSafe(nil))
}

func TestIdleSweepSparesSubscribedConnections(t *testing.T) {
	idle := relaytest.New(t)
	busy := relaytest.New(t)
	mock := clock.NewMock()
	cfg := DefaultConfig()
	cfg.IdleTimeout = 10 * time.Second
	cfg.SweepInterval = 5 * time.Second
	p := newTestPool(t, cfg, WithClock(mock))
	ctx := context.Background()

	idleConn, err := p.EnsureConnection(ctx, idle.URL)
	require.NoError(t, err)
	busyConn, err := p.EnsureConnection(ctx, busy.URL)
	require.NoError(t, err)
	sub, err := p.Subscribe(ctx, busy.URL, types.Filter{Kinds: []int{1}})
	require.NoError(t, err)
	<-sub.EOSE

	// Ticks at 5s and 10s may sweep on their own; the explicit sweep is the one at 11s
	mock.Add(11 * time.Second)
	p.Sweep()
	assert.Eventually(t, func() bool { return !idleConn.Alive() }, time.Second, time.Millisecond)
	assert.True(t, busyConn.Alive())
	assert.Equal(t, []string{busyConn.URL()}, p.Connections())

	p.Unsubscribe(sub)
	assert.Eventually(t, func() bool { return len(busy.Closes()) == 1 }, time.Second, time.Millisecond)
	mock.Add(11 * time.Second)
	p.Sweep()
	assert.Eventually(t, func() bool { return !busyConn.Alive() }, time.Second, time.Millisecond)
	assert.Empty(t, p.Connections())
}

func TestEnsureConnectionCountsAsActivity(t *testing.T) {
	relay := relaytest.New(t)
	mock := clock.NewMock()
	cfg := DefaultConfig()
	cfg.IdleTimeout = 10 * time.Second
	cfg.SweepInterval = time.Hour
	p := newTestPool(t, cfg, WithClock(mock))
	ctx := context.Background()

	c, err := p.EnsureConnection(ctx, relay.URL)
	require.NoError(t, err)

	mock.Add(8 * time.Second)
	_, err = p.EnsureConnection(ctx, relay.URL)
	require.NoError(t, err)
	mock.Add(3 * time.Second)

	assert.Equal(t, 0, p.Sweep())
	assert.True(t, c.Alive())
	assert.Equal(t, 1, relay.Connections())
}

func TestThresholdTriggersSweepBeforeDial(t *testing.T) {
	a, b, c := relaytest.New(t), relaytest.New(t), relaytest.New(t)
	mock := clock.NewMock()
	cfg := DefaultConfig()
	cfg.IdleTimeout = 10 * time.Second
	cfg.SweepInterval = time.Hour
	cfg.CleanupThreshold = 1
	p := newTestPool(t, cfg, WithClock(mock))
	ctx := context.Background()

	_, err := p.EnsureConnection(ctx, a.URL)
	require.NoError(t, err)
	_, err = p.EnsureConnection(ctx, b.URL)
	require.NoError(t, err)
	assert.Len(t, p.Connections(), 2)

	mock.Add(11 * time.Second)
	connC, err := p.EnsureConnection(ctx, c.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{connC.URL()}, p.Connections())
}

func TestSweepDropsDeadConnections(t *testing.T) {
	relay := relaytest.New(t)
	p := newTestPool(t, DefaultConfig())

	c, err := p.EnsureConnection(context.Background(), relay.URL)
	require.NoError(t, err)
	relay.Close()
	require.Eventually(t, func() bool { return !c.Alive() }, time.Second, time.Millisecond)

	assert.Equal(t, 1, p.Sweep())
	assert.Empty(t, p.Connections())
}

func TestCloseRelayAndRedial(t *testing.T) {
	relay := relaytest.New(t)
	p := newTestPool(t, DefaultConfig())
	ctx := context.Background()

	c1, err := p.EnsureConnection(ctx, relay.URL)
	require.NoError(t, err)
	p.CloseRelay(relay.URL)
	assert.False(t, c1.Alive())

	c2, err := p.EnsureConnection(ctx, relay.URL)
	require.NoError(t, err)
	assert.NotSame(t, c1, c2)
	assert.Equal(t, 2, relay.Connections())
}

func TestClosedPool(t *testing.T) {
	relay := relaytest.New(t)
	p := New(DefaultConfig())

	c, err := p.EnsureConnection(context.Background(), relay.URL)
	require.NoError(t, err)
	require.NoError(t, p.Close())
	assert.False(t, c.Alive())

	_, err = p.EnsureConnection(context.Background(), relay.URL)
	assert.ErrorIs(t, err, ErrPoolClosed)
	assert.NoError(t, p.Close(), "second close is a no-op")
}

type dialRecorder struct {
	NoopRecorder
	mu      sync.Mutex
	dials   int
	failed  int
	evicted int
}

func (r *dialRecorder) Dialed(_ string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dials++
	if err != nil {
		r.failed++
	}
}

func (r *dialRecorder) Evicted(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evicted += n
}

func TestRecorder(t *testing.T) {
	relay := relaytest.New(t)
	rec := &dialRecorder{}
	mock := clock.NewMock()
	cfg := DefaultConfig()
	cfg.SweepInterval = time.Hour
	p := newTestPool(t, cfg, WithRecorder(rec), WithClock(mock))

	_, err := p.EnsureConnection(context.Background(), relay.URL)
	require.NoError(t, err)
	mock.Add(cfg.IdleTimeout + time.Second)
	p.Sweep()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, 1, rec.dials)
	assert.Equal(t, 0, rec.failed)
	assert.Equal(t, 1, rec.evicted)
}
