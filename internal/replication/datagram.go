package replication

import (
	"context"
	"fmt"
	"net"
	"time"

	"meshkv/internal/config"
	"meshkv/internal/logs"
	"meshkv/internal/metrics"
	"meshkv/internal/store"
	"meshkv/internal/wire"
)

// broadcastPseudoRemote is the modification-iterator identifier
// reserved for the datagram replicator. Real node identifiers are in
// [1,127] (spec §3), so 0 is free for this internal bookkeeping use:
// the datagram channel broadcasts rather than replicating to one
// remote, so it needs its own cursor distinct from every peer
// session's.
const broadcastPseudoRemote = 0

// DatagramReplicator is the optional best-effort broadcast channel of
// spec §4.6. It never retransmits and never acknowledges; convergence
// is guaranteed only when the reliable mesh (Reactor) is also
// running.
//
// Read and write live on separate goroutines rather than a single
// loop that alternates between them on the same key, sidestepping the
// spec's Open Question about an inverted `if (key.isValid())
// continue;` branch in the original source: there is no shared
// per-key interest to get backwards in the first place.
type DatagramReplicator struct {
	conn          net.PacketConn
	broadcastAddr net.Addr
	adapter       store.Adapter
	cfg           config.Config
	logger        *logs.Logger
	metrics       *metrics.Registry
	iterator      *store.ModificationIterator
}

// NewDatagramReplicator binds a DatagramReplicator to an already-open
// UDP socket and the address it broadcasts to.
func NewDatagramReplicator(conn net.PacketConn, broadcastAddr net.Addr, adapter store.Adapter, cfg config.Config, logger *logs.Logger, metricsRegistry *metrics.Registry) *DatagramReplicator {
	return &DatagramReplicator{
		conn:          conn,
		broadcastAddr: broadcastAddr,
		adapter:       adapter,
		cfg:           cfg,
		logger:        logger,
		metrics:       metricsRegistry,
		iterator:      adapter.ModificationIteratorFor(broadcastPseudoRemote),
	}
}

// Run blocks until ctx is cancelled, driving both the send and
// receive sides of the datagram channel.
func (d *DatagramReplicator) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.readLoop(ctx)
	}()

	d.writeLoop(ctx)
	<-done
	return nil
}

func (d *DatagramReplicator) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(defaultWritePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		d.iterator.NextEntry(func(e store.Entry) bool {
			payload, n, err := wire.Serialize(nil, e)
			if err != nil || n == 0 {
				return false
			}
			packet := wire.EncodeDatagram(payload)
			if len(packet) > d.cfg.PacketSize {
				d.logger.Warn(fmt.Sprintf("datagram entry for key %q exceeds packet size, dropping", e.Key))
				return false
			}
			if _, err := d.conn.WriteTo(packet, d.broadcastAddr); err != nil {
				d.logger.Warn(fmt.Sprintf("datagram write failed: %v", err))
				return false
			}
			d.metrics.Inc(metrics.DatagramPacketsSentTotal)
			return true
		})
	}
}

func (d *DatagramReplicator) readLoop(ctx context.Context) {
	buf := make([]byte, d.cfg.PacketSize)

	for {
		select {
		case <-ctx.Done():
			d.conn.Close()
			return
		default:
		}

		d.conn.SetReadDeadline(time.Now().Add(defaultWritePollInterval * 5))
		n, _, err := d.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue // read timeout or transient error: best-effort channel, just try again
		}

		payload, ok := wire.DecodeDatagram(buf[:n])
		if !ok {
			d.metrics.Inc(metrics.DatagramPacketsDroppedTotal)
			continue
		}

		entry, err := wire.Deserialize(payload)
		if err != nil {
			d.metrics.Inc(metrics.DatagramPacketsDroppedTotal)
			continue
		}

		if err := d.adapter.ApplyIncoming(entry); err != nil {
			d.logger.Error(fmt.Sprintf("%v: dropping datagram entry for key %q", fmt.Errorf("%w: %v", ErrStorageError, err), entry.Key))
		}
	}
}
