package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gridcache"

// Metrics holds all Prometheus metrics for a grid member
type Metrics struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec

	// Cache metrics
	CacheEntries   *prometheus.GaugeVec
	ExpiredEntries prometheus.Counter

	// Processing metrics
	TransactionConflicts prometheus.Counter
	TransactionRetries   prometheus.Counter
	TransactionRollbacks prometheus.Counter

	// Event metrics
	EventsDispatched      *prometheus.CounterVec
	ListenerRegistrations *prometheus.GaugeVec

	// Gateway metrics
	SessionsActive prometheus.Gauge
	HeartbeatsSent prometheus.Counter
	HeartbeatsRecv prometheus.Counter

	// Gossip metrics
	GossipMembersTotal prometheus.Gauge

	// System metrics
	MemoryUsageBytes prometheus.Gauge
	GoroutinesTotal  prometheus.Gauge
}

// NewMetrics creates and registers all metrics with reg, or with the default
// registerer when reg is nil
func NewMetrics(nodeID string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	labels := prometheus.Labels{"node_id": nodeID}

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "gateway",
			Name:        "requests_total",
			Help:        "Total number of requests by type and outcome",
			ConstLabels: labels,
		}, []string{"type", "outcome"}),
		RequestsDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   namespace,
			Subsystem:   "gateway",
			Name:        "request_duration_seconds",
			Help:        "Histogram of request durations",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"type"}),

		CacheEntries: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "cache",
			Name:        "entries",
			Help:        "Number of entries per cache",
			ConstLabels: labels,
		}, []string{"cache"}),
		ExpiredEntries: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "cache",
			Name:        "expired_entries_total",
			Help:        "Total number of entries removed by expiry",
			ConstLabels: labels,
		}),

		TransactionConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "processing",
			Name:        "conflicts_total",
			Help:        "Total number of transactions aborted by deadlock or lock timeout",
			ConstLabels: labels,
		}),
		TransactionRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "processing",
			Name:        "retries_total",
			Help:        "Total number of transaction retries",
			ConstLabels: labels,
		}),
		TransactionRollbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "processing",
			Name:        "rollbacks_total",
			Help:        "Total number of rolled back transactions",
			ConstLabels: labels,
		}),

		EventsDispatched: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "events",
			Name:        "dispatched_total",
			Help:        "Total number of events delivered to listeners",
			ConstLabels: labels,
		}, []string{"type"}),
		ListenerRegistrations: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "events",
			Name:        "registrations",
			Help:        "Number of listener registrations by kind",
			ConstLabels: labels,
		}, []string{"kind"}),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "gateway",
			Name:        "sessions",
			Help:        "Number of open proxy sessions",
			ConstLabels: labels,
		}),
		HeartbeatsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "gateway",
			Name:        "heartbeats_sent_total",
			Help:        "Total number of heartbeats sent to clients",
			ConstLabels: labels,
		}),
		HeartbeatsRecv: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Subsystem:   "gateway",
			Name:        "heartbeats_received_total",
			Help:        "Total number of heartbeats received from clients",
			ConstLabels: labels,
		}),

		GossipMembersTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "gossip",
			Name:        "members",
			Help:        "Number of known grid members",
			ConstLabels: labels,
		}),

		MemoryUsageBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "system",
			Name:        "memory_usage_bytes",
			Help:        "Heap memory in use",
			ConstLabels: labels,
		}),
		GoroutinesTotal: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "system",
			Name:        "goroutines",
			Help:        "Number of goroutines",
			ConstLabels: labels,
		}),
	}
}

// Helper methods for recording metrics. All of them accept a nil receiver
// so components can run without metrics.

func (m *Metrics) RecordRequest(requestType, outcome string, duration float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(requestType, outcome).Inc()
	m.RequestsDuration.WithLabelValues(requestType).Observe(duration)
}

func (m *Metrics) UpdateCacheEntries(cache string, entries int) {
	if m == nil {
		return
	}
	m.CacheEntries.WithLabelValues(cache).Set(float64(entries))
}

func (m *Metrics) DeleteCache(cache string) {
	if m == nil {
		return
	}
	m.CacheEntries.DeleteLabelValues(cache)
}

func (m *Metrics) RecordExpired(n int) {
	if m == nil {
		return
	}
	m.ExpiredEntries.Add(float64(n))
}

func (m *Metrics) RecordConflict() {
	if m == nil {
		return
	}
	m.TransactionConflicts.Inc()
}

func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.TransactionRetries.Inc()
}

func (m *Metrics) RecordRollback() {
	if m == nil {
		return
	}
	m.TransactionRollbacks.Inc()
}

func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.EventsDispatched.WithLabelValues(eventType).Inc()
}

func (m *Metrics) UpdateRegistrations(kind string, count int) {
	if m == nil {
		return
	}
	m.ListenerRegistrations.WithLabelValues(kind).Set(float64(count))
}

func (m *Metrics) UpdateSessions(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
}

func (m *Metrics) RecordHeartbeatSent() {
	if m == nil {
		return
	}
	m.HeartbeatsSent.Inc()
}

func (m *Metrics) RecordHeartbeatReceived() {
	if m == nil {
		return
	}
	m.HeartbeatsRecv.Inc()
}

func (m *Metrics) UpdateGossipMembers(total int) {
	if m == nil {
		return
	}
	m.GossipMembersTotal.Set(float64(total))
}

func (m *Metrics) UpdateSystemStats(memoryUsage int64, goroutines int) {
	if m == nil {
		return
	}
	m.MemoryUsageBytes.Set(float64(memoryUsage))
	m.GoroutinesTotal.Set(float64(goroutines))
}
