package pool

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirrors the shape of the teacher's per-bucket Prometheus
// collectors, scoped down to a single pool and labelled by pool name so
// many pools can share one registry.
var (
	connsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "connpool_connections_active",
		Help: "Connections currently checked out of the pool.",
	}, []string{"pool"})

	connsIdle = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "connpool_connections_idle",
		Help: "Connections currently idle in the pool.",
	}, []string{"pool"})

	connsTotal = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "connpool_conns_total",
		Help: "Connections the pool is currently responsible for (idle + checked out + establishing).",
	}, []string{"pool"})

	acquireTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connpool_acquire_total",
		Help: "Total Acquire calls by result.",
	}, []string{"pool", "result"})

	queueWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "connpool_queue_wait_seconds",
		Help:    "Time spent waiting for a connection in Acquire.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	}, []string{"pool"})

	reconnectAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connpool_reconnect_attempts_total",
		Help: "Total reconnection attempts made by Grow tasks after a failure.",
	}, []string{"pool"})

	reconnectFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connpool_reconnect_failed_total",
		Help: "Total times a Grow task exhausted reconnectTimeout and gave up.",
	}, []string{"pool"})

	idleEvictedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connpool_idle_evicted_total",
		Help: "Total idle connections closed for exceeding maxIdle.",
	}, []string{"pool"})
)

func (p *Pool) metricsAcquire(result string) {
	acquireTotal.WithLabelValues(p.name, result).Inc()
}

func (p *Pool) metricsQueueWait(seconds float64) {
	queueWaitSeconds.WithLabelValues(p.name).Observe(seconds)
}

func (p *Pool) metricsReconnectAttempt() {
	reconnectAttemptsTotal.WithLabelValues(p.name).Inc()
}

func (p *Pool) metricsReconnectFailed() {
	reconnectFailedTotal.WithLabelValues(p.name).Inc()
}

func (p *Pool) metricsIdleEvicted() {
	idleEvictedTotal.WithLabelValues(p.name).Inc()
}

// updateCensus refreshes the gauges from current pool state. Must be
// called with p.mu held by the caller, or immediately after release.
func (p *Pool) updateCensus() {
	connsActive.WithLabelValues(p.name).Set(float64(p.checkedOut))
	connsIdle.WithLabelValues(p.name).Set(float64(len(p.idle)))
	connsTotal.WithLabelValues(p.name).Set(float64(p.nConns))
}
