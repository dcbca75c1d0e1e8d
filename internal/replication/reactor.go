package replication

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"meshkv/internal/config"
	"meshkv/internal/logs"
	"meshkv/internal/metrics"
	"meshkv/internal/peers"
	"meshkv/internal/store"

	"golang.org/x/time/rate"
)

// Reactor is the single loop (per SPEC_FULL.md §5, one goroutine tree)
// that owns the listening socket, the outbound connectors, and every
// active Session. It never performs blocking I/O itself — each
// concern (accept, dial-with-backoff, read, write) runs on its own
// goroutine, and Reactor only coordinates lifetime and the
// remote-identifier registry used to detect self-collision.
type Reactor struct {
	cfg         config.Config
	adapter     store.Adapter
	peerManager *peers.PeerManager
	peerConfig  peers.PeerConfig
	logger      *logs.Logger
	metrics     *metrics.Registry

	acceptLimiter *rate.Limiter

	mu       sync.Mutex
	listener net.Listener
	sessions map[byte]*Session
}

// NewReactor wires a Reactor to the local adapter it replicates and
// the peer health tracking the admin API surfaces.
func NewReactor(
	cfg config.Config,
	adapter store.Adapter,
	peerManager *peers.PeerManager,
	peerConfig peers.PeerConfig,
	logger *logs.Logger,
	metricsRegistry *metrics.Registry,
) *Reactor {
	return &Reactor{
		cfg:           cfg,
		adapter:       adapter,
		peerManager:   peerManager,
		peerConfig:    peerConfig,
		logger:        logger,
		metrics:       metricsRegistry,
		acceptLimiter: rate.NewLimiter(rate.Limit(20), 20),
		sessions:      make(map[byte]*Session),
	}
}

// Run binds the listener, starts one outbound connector per
// configured peer, and blocks until ctx is cancelled. On return every
// session and connector has exited.
func (r *Reactor) Run(ctx context.Context) error {
	ln, err := listenConfig.Listen(ctx, "tcp", fmt.Sprintf(":%d", r.cfg.ListenPort))
	if err != nil {
		return fmt.Errorf("replication: listen: %w", err)
	}
	r.mu.Lock()
	r.listener = ln
	r.mu.Unlock()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		r.acceptLoop(ctx, ln)
	}()

	for _, addr := range r.cfg.Peers {
		addr := addr
		r.peerManager.AddPeer(addr.String())
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.connectLoop(ctx, addr)
		}()
	}

	<-ctx.Done()
	r.shutdown()
	wg.Wait()
	return nil
}

func (r *Reactor) acceptLoop(ctx context.Context, ln net.Listener) {
	var sessWG sync.WaitGroup
	defer sessWG.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			r.logger.Warn(fmt.Sprintf("accept error: %v", err))
			return
		}

		if !r.acceptLimiter.Allow() {
			r.logger.Warn("accept loop rate limit exceeded, dropping connection from " + conn.RemoteAddr().String())
			conn.Close()
			continue
		}

		sessWG.Add(1)
		go func() {
			defer sessWG.Done()
			sess, err := r.runSession(conn)
			if err != nil {
				r.logger.Debug(fmt.Sprintf("inbound session %s ended: %v", sess.TraceID(), err))
			}
			// Accepted sessions are simply forgotten: no retry.
		}()
	}
}

func (r *Reactor) connectLoop(ctx context.Context, addr config.PeerAddr) {
	backoff := r.peerConfig.Retry.BaseBackoff

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := dialer.DialContext(ctx, "tcp", addr.String())
		if err != nil {
			r.metrics.Inc(metrics.ReconnectAttemptsTotal)
			r.peerManager.MarkFailure(addr.String())
			r.logger.Warn(fmt.Sprintf("%v: %s: %v", ErrConnectFailed, addr, err))

			wait := backoff
			if r.peerConfig.Retry.JitterFn != nil {
				wait += r.peerConfig.Retry.JitterFn(backoff)
			}
			if wait > r.peerConfig.Retry.MaxBackoff {
				wait = r.peerConfig.Retry.MaxBackoff
			}
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return
			}
			backoff *= 2
			if backoff > r.peerConfig.Retry.MaxBackoff {
				backoff = r.peerConfig.Retry.MaxBackoff
			}
			r.metrics.Inc(metrics.ReplicationRetriesTotal)
			continue
		}

		backoff = r.peerConfig.Retry.BaseBackoff
		r.peerManager.MarkSuccess(addr.String())

		if _, err := r.runSession(conn); err != nil {
			r.logger.Debug(fmt.Sprintf("outbound session to %s ended: %v", addr, err))
		}

		select {
		case <-time.After(r.peerConfig.Retry.BaseBackoff):
		case <-ctx.Done():
			return
		}
	}
}

// runSession registers the session in the remote-identifier registry
// as soon as its handshake completes (detecting self-collision per
// spec §4.4's fatal-conditions list) and unregisters it on exit.
func (r *Reactor) runSession(conn net.Conn) (*Session, error) {
	var sess *Session

	onHandshake := func(remoteID byte) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		if existing, ok := r.sessions[remoteID]; ok && existing != sess {
			return fmt.Errorf("peer %d already owns an active session", remoteID)
		}
		r.sessions[remoteID] = sess
		return nil
	}
	onClose := func(remoteID byte) {
		r.mu.Lock()
		if r.sessions[remoteID] == sess {
			delete(r.sessions, remoteID)
		}
		r.mu.Unlock()
	}

	sess = NewSession(conn, r.adapter, r.cfg, r.logger, r.metrics, onHandshake, onClose)
	return sess, sess.Run()
}

// shutdown closes the listener and every active session, the
// Go-native reading of spec §5's "signal the reactor to exit its next
// wait... and join."
func (r *Reactor) shutdown() {
	r.mu.Lock()
	ln := r.listener
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	if ln != nil {
		ln.Close()
	}
	for _, s := range sessions {
		s.Close()
	}
}

// Snapshot reports the remote identifiers with an active session, for
// the admin API's health surface.
func (r *Reactor) Snapshot() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}
