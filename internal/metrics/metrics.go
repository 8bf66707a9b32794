// Package metrics exposes pool and loader activity as Prometheus metrics.
package metrics

import (
	"errors"
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nostr-feed/internal/loader"
	"nostr-feed/internal/pool"
)

const namespace = "nostr_feed"

var (
	_ loader.Recorder = (*Metrics)(nil)
	_ pool.Recorder   = (*Metrics)(nil)
)

// Metrics records into its own registry
type Metrics struct {
	registry *prometheus.Registry

	loaderHits        *prometheus.CounterVec
	loaderMisses      *prometheus.CounterVec
	loaderBatchSize   *prometheus.HistogramVec
	loaderFailures    *prometheus.CounterVec
	loaderRevalidated *prometheus.CounterVec

	poolDials     *prometheus.CounterVec
	poolEvictions prometheus.Counter
}

// New creates the collectors and registers them, together with Go runtime and process metrics
func New(cacheBackend string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		loaderHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "loader", Name: "hits_total",
			Help: "Loads answered from memoized values.",
		}, []string{"loader"}),
		loaderMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "loader", Name: "misses_total",
			Help: "Keys scheduled for fetching.",
		}, []string{"loader"}),
		loaderBatchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "loader", Name: "batch_size",
			Help:    "Keys per underlying batch fetch.",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		}, []string{"loader"}),
		loaderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "loader", Name: "failed_keys_total",
			Help: "Keys whose fetch failed.",
		}, []string{"loader"}),
		loaderRevalidated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "loader", Name: "revalidated_keys_total",
			Help: "Stale keys refreshed in the background.",
		}, []string{"loader"}),
		poolDials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool", Name: "dials_total",
			Help: "Relay connection attempts by result.",
		}, []string{"result"}),
		poolEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "pool", Name: "evictions_total",
			Help: "Connections closed by the idle sweep.",
		}),
	}

	buildInfo := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace, Name: "build_info",
		Help:        "Build and configuration information.",
		ConstLabels: prometheus.Labels{"cache_backend": cacheBackend, "go_version": runtime.Version()},
	})
	buildInfo.Set(1)

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		buildInfo,
		m.loaderHits, m.loaderMisses, m.loaderBatchSize, m.loaderFailures, m.loaderRevalidated,
		m.poolDials, m.poolEvictions,
	)
	return m
}

// TrackPool exports the pool's live connection and subscription counts
func (m *Metrics) TrackPool(p *pool.Pool) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool", Name: "connections",
			Help: "Tracked relay connections.",
		}, func() float64 { return float64(p.Stats().Tracked) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pool", Name: "subscriptions",
			Help: "Open subscriptions across all connections.",
		}, func() float64 { return float64(p.Stats().Subscriptions) }),
	)
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Hit(name string)  { m.loaderHits.WithLabelValues(name).Inc() }
func (m *Metrics) Miss(name string) { m.loaderMisses.WithLabelValues(name).Inc() }

func (m *Metrics) Batch(name string, size int) {
	m.loaderBatchSize.WithLabelValues(name).Observe(float64(size))
}

func (m *Metrics) Failure(name string, keys int) {
	m.loaderFailures.WithLabelValues(name).Add(float64(keys))
}

func (m *Metrics) Revalidated(name string, keys int) {
	m.loaderRevalidated.WithLabelValues(name).Add(float64(keys))
}

// Dialed counts a connection attempt; relay URLs are not used as labels
func (m *Metrics) Dialed(_ string, err error) {
	result := "ok"
	switch {
	case errors.Is(err, pool.ErrConnectTimeout):
		result = "timeout"
	case err != nil:
		result = "error"
	}
	m.poolDials.WithLabelValues(result).Inc()
}

func (m *Metrics) Evicted(n int) { m.poolEvictions.Add(float64(n)) }
