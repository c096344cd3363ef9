package providers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"shd/internal/structures"
	"time"
)

const (
	TickOK     = "ok"
	TickFailed = "failed"
	TickPanic  = "panic"
)

type MetricsProviderInterface interface {
	IncRequestsTotal(endpoint string, status int)
	ObserveRequestDuration(endpoint string, duration time.Duration)
	IncCacheHits()
	IncCacheMisses()
	ObservePersistenceDuration(duration time.Duration)
	IncPersistenceFailures()
	IncPollerTicks(result string)
	IncPollerRefreshes()
	SetActivePollers(count int)
	SetSamplesTotal(tenant string, count int)
}

type MetricsProvider struct {
	requestsTotal       *prometheus.CounterVec
	requestDuration     *prometheus.HistogramVec
	cacheHits           prometheus.Counter
	cacheMisses         prometheus.Counter
	persistenceDuration prometheus.Histogram
	persistenceFailures prometheus.Counter
	pollerTicks         *prometheus.CounterVec
	pollerRefreshes     prometheus.Counter
	activePollers       prometheus.Gauge
	samplesTotal        *prometheus.GaugeVec
}

func (m *MetricsProvider) IncRequestsTotal(endpoint string, status int) {
	m.requestsTotal.WithLabelValues(endpoint, httpStatusBucket(status)).Inc()
}

func (m *MetricsProvider) ObserveRequestDuration(endpoint string, duration time.Duration) {
	m.requestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *MetricsProvider) IncCacheHits() {
	m.cacheHits.Inc()
}

func (m *MetricsProvider) IncCacheMisses() {
	m.cacheMisses.Inc()
}

func (m *MetricsProvider) ObservePersistenceDuration(duration time.Duration) {
	m.persistenceDuration.Observe(duration.Seconds())
}

func (m *MetricsProvider) IncPersistenceFailures() {
	m.persistenceFailures.Inc()
}

func (m *MetricsProvider) IncPollerTicks(result string) {
	m.pollerTicks.WithLabelValues(result).Inc()
}

func (m *MetricsProvider) IncPollerRefreshes() {
	m.pollerRefreshes.Inc()
}

func (m *MetricsProvider) SetActivePollers(count int) {
	m.activePollers.Set(float64(count))
}

func (m *MetricsProvider) SetSamplesTotal(tenant string, count int) {
	m.samplesTotal.WithLabelValues(tenant).Set(float64(count))
}

func httpStatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

func NewMetricsProvider(conf *structures.Config) MetricsProviderInterface {
	if !conf.Metrics.Enabled {
		return &noopMetrics{}
	}

	return &MetricsProvider{
		requestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shd_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"endpoint", "status"}),

		requestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shd_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		cacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shd_cache_hits_total",
			Help: "Total number of cache hits",
		}),

		cacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shd_cache_misses_total",
			Help: "Total number of cache misses",
		}),

		persistenceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "shd_persistence_duration_seconds",
			Help:    "History save duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		persistenceFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shd_persistence_failures_total",
			Help: "Total number of failed history saves",
		}),

		pollerTicks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shd_poller_ticks_total",
			Help: "Total number of poller ticks by result",
		}, []string{"result"}),

		pollerRefreshes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shd_poller_refreshes_total",
			Help: "Total number of pollers restarted by the health monitor",
		}),

		activePollers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shd_active_pollers",
			Help: "Number of running tenant pollers",
		}),

		samplesTotal: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shd_samples_total",
			Help: "Number of retained samples per tenant",
		}, []string{"tenant"}),
	}
}

// noopMetrics is a no-op implementation for when metrics are disabled.
type noopMetrics struct{}

func (n *noopMetrics) IncRequestsTotal(_ string, _ int)                 {}
func (n *noopMetrics) ObserveRequestDuration(_ string, _ time.Duration) {}
func (n *noopMetrics) IncCacheHits()                                    {}
func (n *noopMetrics) IncCacheMisses()                                  {}
func (n *noopMetrics) ObservePersistenceDuration(_ time.Duration)       {}
func (n *noopMetrics) IncPersistenceFailures()                          {}
func (n *noopMetrics) IncPollerTicks(_ string)                          {}
func (n *noopMetrics) IncPollerRefreshes()                              {}
func (n *noopMetrics) SetActivePollers(_ int)                           {}
func (n *noopMetrics) SetSamplesTotal(_ string, _ int)                  {}
