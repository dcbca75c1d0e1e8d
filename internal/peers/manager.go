package peers

import (
	"sync"

	"meshkv/internal/metrics"
)

// PeerState represents the health state of a peer.
type PeerState int

const (
	Healthy PeerState = iota
	Unhealthy
)

// Peer tracks the health-related state for a single peer
type Peer struct {
	Address      string
	State        PeerState
	FailureCount int
	SuccessCount int
}

// PeerManager manages the health state of multiple peers. It is fed
// only by the replication reactor's connect loop (dial failure/success
// per configured peer address); inbound session handshakes do not
// update it, and it does no active polling of its own. The wire
// protocol's heartbeat frames and read deadlines are what detect a
// silent peer on an open session (see replication.Session).
type PeerManager struct {
	mu      sync.RWMutex
	peers   map[string]*Peer
	config  PeerConfig
	metrics *metrics.Registry
}

// NewPeerManager creates a new PeerManager
func NewPeerManager(cfg PeerConfig, metricsRegistry *metrics.Registry) *PeerManager {
	return &PeerManager{
		peers:   make(map[string]*Peer),
		config:  cfg,
		metrics: metricsRegistry,
	}
}

// AddPeer registers a new Peer
func (pm *PeerManager) AddPeer(addr string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if _, exists := pm.peers[addr]; !exists {
		pm.peers[addr] = &Peer{
			Address: addr,
			State:   Healthy,
		}
	}
	pm.publishGaugesLocked()
}

// MarkFailure marks a peer as failed
func (pm *PeerManager) MarkFailure(addr string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	peer, ok := pm.peers[addr]
	if !ok {
		return
	}
	pm.metrics.Inc(metrics.PeerFailuresTotal)

	peer.FailureCount++
	peer.SuccessCount = 0
	if peer.FailureCount >= pm.config.Health.FailureThreshold {
		peer.State = Unhealthy
	}
	pm.publishGaugesLocked()
}

// MarkSuccess marks a peer as successful
func (pm *PeerManager) MarkSuccess(addr string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	peer, ok := pm.peers[addr]
	if !ok {
		return
	}
	peer.SuccessCount++
	peer.FailureCount = 0
	if peer.SuccessCount >= pm.config.Health.SuccessThreshold {
		peer.State = Healthy
	}
	pm.publishGaugesLocked()
}

// publishGaugesLocked recomputes the healthy/unhealthy peer counts and
// republishes them as gauges. Recomputing from scratch on every
// transition is simpler than tracking a running delta and the peer
// set is small enough that the O(n) scan is free.
func (pm *PeerManager) publishGaugesLocked() {
	var healthy, unhealthy int64
	for _, p := range pm.peers {
		if p.State == Healthy {
			healthy++
		} else {
			unhealthy++
		}
	}
	pm.metrics.Set(metrics.PeersHealthy, healthy)
	pm.metrics.Set(metrics.PeersUnhealthy, unhealthy)
}

func (pm *PeerManager) IsHealthy(addr string) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	peer, ok := pm.peers[addr]
	return ok && peer.State == Healthy
}

func (pm *PeerManager) GetPeers() []string {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	out := make([]string, 0, len(pm.peers))
	for addr := range pm.peers {
		out = append(out, addr)
	}
	return out
}
