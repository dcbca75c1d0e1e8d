package metrics

import (
	"sync"
	"sync/atomic"
)

// MetricKey is a strongly typed metric identifier.
type MetricKey string

// Metric keys (centralized)
const (
	// Cache
	CacheSetsTotal   MetricKey = "cache_sets_total"
	CacheGetsTotal   MetricKey = "cache_gets_total"
	CacheMissesTotal MetricKey = "cache_misses_total"

	// Replication
	ReplicationEntriesSentTotal    MetricKey = "replication_entries_sent_total"
	ReplicationEntriesAppliedTotal MetricKey = "replication_entries_applied_total"
	ReplicationRetriesTotal        MetricKey = "replication_retries_total"
	ReplicationBacklogGauge        MetricKey = "replication_backlog_gauge"
	SessionsActiveGauge            MetricKey = "sessions_active_gauge"
	DatagramPacketsSentTotal       MetricKey = "datagram_packets_sent_total"
	DatagramPacketsDroppedTotal    MetricKey = "datagram_packets_dropped_total"
	ReconnectAttemptsTotal         MetricKey = "reconnect_attempts_total"

	// Peers
	PeersHealthy      MetricKey = "peers_healthy"
	PeersUnhealthy    MetricKey = "peers_unhealthy"
	PeerFailuresTotal MetricKey = "peer_failures_total"

	// Heartbeat metrics
	HeartbeatRunsTotal     MetricKey = "heartbeat_runs_total"
	HeartbeatSuccessTotal  MetricKey = "heartbeat_success_total"
	HeartbeatFailuresTotal MetricKey = "heartbeat_failures_total"
)

// Registry stores all metrics.
type Registry struct {
	mu       sync.RWMutex
	counters map[MetricKey]*int64
}

// NewRegistry creates a metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[MetricKey]*int64),
	}
}

// Inc increments a metric by 1.
func (r *Registry) Inc(key MetricKey) {
	r.Add(key, 1)
}

// Add increments a metric by delta.
func (r *Registry) Add(key MetricKey, delta int64) {
	r.mu.RLock()
	ptr, ok := r.counters[key]
	r.mu.RUnlock()

	if ok {
		atomic.AddInt64(ptr, delta)
		return
	}

	// Slow path: metric not yet initialized
	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if ptr, ok = r.counters[key]; ok {
		atomic.AddInt64(ptr, delta)
		return
	}

	var val int64
	r.counters[key] = &val
	atomic.AddInt64(&val, delta)
}

// Set overwrites a gauge-style metric to an absolute value, unlike
// Add/Inc which accumulate.
func (r *Registry) Set(key MetricKey, value int64) {
	r.mu.RLock()
	ptr, ok := r.counters[key]
	r.mu.RUnlock()

	if ok {
		atomic.StoreInt64(ptr, value)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ptr, ok = r.counters[key]; ok {
		atomic.StoreInt64(ptr, value)
		return
	}

	val := value
	r.counters[key] = &val
}
