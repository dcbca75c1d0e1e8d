package peers

import (
	"context"
	"fmt"
	"time"

	"meshkv/internal/logs"
	"meshkv/internal/metrics"
)

// HeartbeatWorker periodically summarizes peer liveness into the log
// and metrics. It does not itself probe peers over the network: the
// wire protocol already carries the liveness signal (idle sessions
// exchange heartbeat frames, and a stalled read deadline in
// replication.Session marks the connection dead), and PeerManager is
// kept current by the reactor's connect loop.
// This worker turns that state into a periodic, observable summary
// rather than leaving it silent between transitions.
type HeartbeatWorker struct {
	manager *PeerManager
	config  PeerConfig
	logger  *logs.Logger
	metrics *metrics.Registry
}

// NewHeartbeatWorker creates a new heartbeat worker
func NewHeartbeatWorker(
	manager *PeerManager,
	cfg PeerConfig,
	logger *logs.Logger,
	metricsRegistry *metrics.Registry,
) *HeartbeatWorker {
	return &HeartbeatWorker{
		manager: manager,
		config:  cfg,
		logger:  logger,
		metrics: metricsRegistry,
	}
}

// Start begins the summary loop. Stops immediately when ctx is
// cancelled.
func (hw *HeartbeatWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(hw.config.Heartbeat.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			hw.runOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// runOnce logs the current healthy/unhealthy split across all known
// peers and records that a summary ran.
func (hw *HeartbeatWorker) runOnce(_ context.Context) {
	hw.metrics.Inc(metrics.HeartbeatRunsTotal)

	var healthy, unhealthy int
	for _, addr := range hw.manager.GetPeers() {
		if hw.manager.IsHealthy(addr) {
			healthy++
		} else {
			unhealthy++
		}
	}

	if unhealthy == 0 {
		hw.metrics.Inc(metrics.HeartbeatSuccessTotal)
		hw.logger.Debug(fmt.Sprintf("peer health summary: %d healthy, 0 unhealthy", healthy))
		return
	}

	hw.metrics.Inc(metrics.HeartbeatFailuresTotal)
	hw.logger.Warn(fmt.Sprintf("peer health summary: %d healthy, %d unhealthy", healthy, unhealthy))
}
