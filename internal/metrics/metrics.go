// Package metrics exposes prometheus collectors for the pool lifecycle,
// the query path, and the HTTP surface.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/denwal/poolgate/internal/database"
)

// Collector owns every metric the service emits. One Collector is created
// at startup and shared by the lifecycle manager, the gateway, and the
// HTTP middleware.
type Collector struct {
	lifecycleState  *prometheus.GaugeVec
	connectAttempts *prometheus.CounterVec
	probeFailures   prometheus.Counter
	reconnects      prometheus.Counter

	queryTotal    *prometheus.CounterVec
	queryDuration prometheus.Histogram

	poolMax      prometheus.Gauge
	poolTotal    prometheus.Gauge
	poolIdle     prometheus.Gauge
	poolAcquired prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	mu        sync.Mutex
	lastState string
}

// NewCollector registers all collectors with reg and returns the set.
// Pass nil to use the default registerer; tests pass their own registry.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	c := &Collector{}

	c.lifecycleState = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_lifecycle_state",
			Help:      "Current lifecycle state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	c.connectAttempts = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_connect_attempts_total",
			Help:      "Connection attempts by outcome",
		},
		[]string{"outcome"},
	)

	c.probeFailures = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_keepalive_probe_failures_total",
			Help:      "Keepalive probes that found the pool dead",
		},
	)

	c.reconnects = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "db_reconnects_total",
			Help:      "Recovery connect sequences scheduled after a failure",
		},
	)

	c.queryTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_requests_total",
			Help:      "Ad-hoc queries by outcome",
		},
		[]string{"outcome"},
	)

	c.queryDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Ad-hoc query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	c.poolMax = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_pool_max_conns",
		Help:      "Pool connection ceiling",
	})
	c.poolTotal = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_pool_total_conns",
		Help:      "Connections currently open",
	})
	c.poolIdle = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_pool_idle_conns",
		Help:      "Connections currently idle",
	})
	c.poolAcquired = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_pool_acquired_conns",
		Help:      "Connections currently checked out",
	})

	c.httpRequests = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, path and status",
		},
		[]string{"method", "path", "status"},
	)

	c.httpDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	return c
}

// SetLifecycleState flips the state gauge: the previous state drops to 0,
// the new one rises to 1.
func (c *Collector) SetLifecycleState(state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastState != "" && c.lastState != state {
		c.lifecycleState.WithLabelValues(c.lastState).Set(0)
	}
	c.lifecycleState.WithLabelValues(state).Set(1)
	c.lastState = state
}

// ConnectAttempt records one connection attempt.
func (c *Collector) ConnectAttempt(success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	c.connectAttempts.WithLabelValues(outcome).Inc()
}

// ProbeFailure records a failed keepalive probe.
func (c *Collector) ProbeFailure() {
	c.probeFailures.Inc()
}

// Reconnect records a scheduled recovery sequence.
func (c *Collector) Reconnect() {
	c.reconnects.Inc()
}

// Query records one ad-hoc query execution.
func (c *Collector) Query(d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	c.queryTotal.WithLabelValues(outcome).Inc()
	c.queryDuration.Observe(d.Seconds())
}

// PoolStat publishes current pool occupancy.
func (c *Collector) PoolStat(s database.PoolStat) {
	c.poolMax.Set(float64(s.MaxConns))
	c.poolTotal.Set(float64(s.TotalConns))
	c.poolIdle.Set(float64(s.IdleConns))
	c.poolAcquired.Set(float64(s.AcquiredConns))
}

// HTTPRequest records one served request.
func (c *Collector) HTTPRequest(method, path string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
