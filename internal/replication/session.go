package replication

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"meshkv/internal/config"
	"meshkv/internal/logs"
	"meshkv/internal/metrics"
	"meshkv/internal/store"
	"meshkv/internal/wire"

	"github.com/google/uuid"
)

// Phase is the peer session state machine of spec §4.4.
type Phase int

const (
	PhaseConnecting Phase = iota
	PhaseHandshake
	PhaseBootstrap
	PhaseReplicating
	PhaseClosed
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseHandshake:
		return "handshake"
	case PhaseBootstrap:
		return "bootstrap"
	case PhaseReplicating:
		return "replicating"
	case PhaseClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// defaultWritePollInterval is how often the writer goroutine checks
// the modification iterator for new work when it has no pending
// output. This is the Go-native stand-in for spec §4.5's
// write-readiness signal: rather than a manual readiness loop, the
// writer goroutine polls its own iterator on a short tick (see
// SPEC_FULL.md §5).
const defaultWritePollInterval = 10 * time.Millisecond

// HandshakeHook is invoked once a session has read the remote's
// welcome record, before the session transitions to Bootstrap. It
// returns a non-nil error to reject the handshake (self-collision,
// see Reactor).
type HandshakeHook func(remoteID byte) error

// CloseHook is invoked once a session has fully exited, with the
// remote identifier it negotiated (0 if the handshake never
// completed).
type CloseHook func(remoteID byte)

// Session is the state machine for one reliable connection to a
// remote peer. It owns a single net.Conn and is driven by two
// goroutines it starts itself (reader, writer) once Replicating; see
// SPEC_FULL.md §5 for why this, not a literal readiness loop, is the
// idiomatic Go rendering of spec §4.4/§4.5.
type Session struct {
	conn    net.Conn
	adapter store.Adapter
	cfg     config.Config
	logger  *logs.Logger
	metrics *metrics.Registry

	// traceID identifies this connection attempt in logs even across
	// a reconnect to the same remote identifier, since the remote
	// identifier alone does not distinguish successive TCP
	// connections to/from the same peer.
	traceID string

	onHandshake HandshakeHook
	onClose     CloseHook

	mu             sync.Mutex
	phase          Phase
	remoteID       byte
	remoteLastSeen int64
	iterator       *store.ModificationIterator

	done chan struct{}
}

// NewSession wraps an already-connected net.Conn. Direction (inbound
// accept vs outbound dial) doesn't matter to the state machine: both
// sides send the welcome record immediately, per spec §4.4.
func NewSession(conn net.Conn, adapter store.Adapter, cfg config.Config, logger *logs.Logger, metricsRegistry *metrics.Registry, onHandshake HandshakeHook, onClose CloseHook) *Session {
	return &Session{
		conn:        conn,
		adapter:     adapter,
		cfg:         cfg,
		logger:      logger,
		metrics:     metricsRegistry,
		traceID:     uuid.NewString(),
		onHandshake: onHandshake,
		onClose:     onClose,
		phase:       PhaseConnecting,
		done:        make(chan struct{}),
	}
}

// TraceID returns the identifier generated for this connection
// attempt, for log correlation across reconnects.
func (s *Session) TraceID() string {
	return s.traceID
}

// Phase returns the session's current state, safe for concurrent use.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// RemoteID returns the negotiated remote identifier, or 0 before the
// handshake completes.
func (s *Session) RemoteID() byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteID
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	s.phase = p
	s.mu.Unlock()
}

// closeDrainDeadline bounds how long Close waits for the peer to
// notice a half-close before the connection is hard-closed (spec §5:
// "half-close output, drain input briefly up to a small deadline,
// then hard-close").
const closeDrainDeadline = 200 * time.Millisecond

// Close nudges the session towards exit. If the connection supports a
// half-close (TCP does), it closes the write side and arms a short
// read deadline so the reader goroutine's in-flight Read unblocks on
// its own with a timeout rather than an abrupt reset; Session.Run
// hard-closes the connection once either goroutine reports an error.
// Close is idempotent.
func (s *Session) Close() {
	if cw, ok := s.conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
		s.conn.SetReadDeadline(time.Now().Add(closeDrainDeadline))
		return
	}
	s.conn.Close()
}

// Done returns a channel closed once Run has returned.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run drives the session through Handshake, Bootstrap, and
// Replicating, blocking until a fatal condition closes it. It always
// returns a non-nil error identifying why the session ended (wrapping
// one of the kinds in errors.go).
func (s *Session) Run() error {
	defer close(s.done)

	s.setPhase(PhaseHandshake)
	if err := s.handshake(); err != nil {
		s.setPhase(PhaseClosed)
		s.conn.Close()
		if s.onClose != nil {
			s.onClose(s.RemoteID())
		}
		return err
	}

	s.setPhase(PhaseBootstrap)
	s.iterator.DirtyEntriesFrom(s.remoteLastSeen)

	s.setPhase(PhaseReplicating)
	s.metrics.Inc(metrics.SessionsActiveGauge)
	defer s.metrics.Add(metrics.SessionsActiveGauge, -1)

	errCh := make(chan error, 2)
	go s.readLoop(errCh)
	go s.writeLoop(errCh)

	err := <-errCh
	s.setPhase(PhaseClosed)
	s.conn.Close()
	<-errCh // let the other goroutine observe the close and exit

	if s.onClose != nil {
		s.onClose(s.RemoteID())
	}
	return err
}

func (s *Session) handshake() error {
	welcome := wire.EncodeWelcome(nil, s.adapter.Identifier(), s.adapter.LastModification())
	// Both sides send first, so the welcome is written concurrently with
	// reading the remote's: on an unbuffered conn (net.Pipe) a
	// write-then-read on both ends would block forever.
	writeErr := make(chan error, 1)
	go func() {
		_, err := s.conn.Write(welcome)
		writeErr <- err
	}()

	buf := make([]byte, wire.WelcomeSize)
	if _, err := io.ReadFull(s.conn, buf); err != nil {
		return fmt.Errorf("%w: reading welcome: %v", ErrDisconnected, err)
	}
	if err := <-writeErr; err != nil {
		return fmt.Errorf("%w: writing welcome: %v", ErrDisconnected, err)
	}

	remoteID, remoteLastSeen, err := wire.DecodeWelcome(buf)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if remoteID < 1 || remoteID > 127 {
		return fmt.Errorf("%w: identifier %d out of range", ErrHandshakeRejected, remoteID)
	}
	if s.onHandshake != nil {
		if err := s.onHandshake(remoteID); err != nil {
			return fmt.Errorf("%w: %v", ErrHandshakeRejected, err)
		}
	}

	s.mu.Lock()
	s.remoteID = remoteID
	s.remoteLastSeen = remoteLastSeen
	s.mu.Unlock()

	s.iterator = s.adapter.ModificationIteratorFor(remoteID)
	return nil
}

func (s *Session) readLoop(errCh chan<- error) {
	codec := wire.NewFrameCodec(s.cfg.EntryMaxSize)
	buf := make([]byte, 4096)
	readDeadline := 2 * s.cfg.HeartbeatInterval

	for {
		if readDeadline > 0 {
			s.conn.SetReadDeadline(time.Now().Add(readDeadline))
		}

		n, err := s.conn.Read(buf)
		if err != nil {
			errCh <- fmt.Errorf("%w: %v", ErrDisconnected, err)
			return
		}

		codec.Feed(buf[:n])
		if codec.Buffered() > s.cfg.BufferCap() {
			errCh <- fmt.Errorf("%w: inbound buffer exceeded %d bytes", ErrOversizedFrame, s.cfg.BufferCap())
			return
		}

		for {
			payload, heartbeat, ok, err := codec.Next()
			if err != nil {
				errCh <- fmt.Errorf("%w: %v", ErrMalformedFrame, err)
				return
			}
			if !ok {
				break
			}
			if heartbeat {
				continue
			}

			entry, err := wire.Deserialize(payload)
			if err != nil {
				errCh <- fmt.Errorf("%w: %v", ErrMalformedFrame, err)
				return
			}
			if err := s.adapter.ApplyIncoming(entry); err != nil {
				s.logger.Error(fmt.Sprintf("%v: dropping entry for key %q", fmt.Errorf("%w: %v", ErrStorageError, err), entry.Key))
			}
		}
	}
}

func (s *Session) writeLoop(errCh chan<- error) {
	codec := wire.NewFrameCodec(s.cfg.EntryMaxSize)
	ticker := time.NewTicker(defaultWritePollInterval)
	defer ticker.Stop()

	lastWrite := time.Now()

	for range ticker.C {
		buf, sent, err := s.drainChunk(codec)
		if err != nil {
			errCh <- err
			return
		}

		if len(buf) > 0 {
			if _, err := s.conn.Write(buf); err != nil {
				errCh <- fmt.Errorf("%w: %v", ErrDisconnected, err)
				return
			}
			s.metrics.Add(metrics.ReplicationEntriesSentTotal, int64(sent))
			lastWrite = time.Now()
			continue
		}

		if s.cfg.HeartbeatInterval > 0 && time.Since(lastWrite) >= s.cfg.HeartbeatInterval {
			hb := codec.WriteHeartbeat(nil)
			if _, err := s.conn.Write(hb); err != nil {
				errCh <- fmt.Errorf("%w: %v", ErrDisconnected, err)
				return
			}
			lastWrite = time.Now()
		}
	}
}

// drainChunk pulls entries from the session's modification iterator
// into buf until the iterator has nothing more, or one more entry
// would exceed entryMaxSize for this chunk. It implements spec
// §4.4's write-readiness drain, and the iterator's decline-restores-
// the-bit contract: any entry that doesn't fit this chunk is declined
// (not failed) so it is retried on the next tick.
func (s *Session) drainChunk(codec *wire.FrameCodec) (buf []byte, sent int, err error) {
	for {
		var stepErr error
		delivered := s.iterator.NextEntry(func(e store.Entry) bool {
			newBuf, wrote, werr := codec.WriteEntry(buf, e)
			if werr != nil {
				stepErr = werr
				return false
			}
			if !wrote {
				return false
			}
			if len(buf) > 0 && len(newBuf) > s.cfg.EntryMaxSize {
				return false
			}
			buf = newBuf
			return true
		})
		if stepErr != nil {
			if errors.Is(stepErr, wire.ErrOversizedFrame) {
				return nil, 0, fmt.Errorf("%w: %v", ErrOversizedFrame, stepErr)
			}
			return nil, 0, fmt.Errorf("%w: %v", ErrMalformedFrame, stepErr)
		}
		if !delivered {
			return buf, sent, nil
		}
		sent++
		if len(buf) >= s.cfg.EntryMaxSize {
			return buf, sent, nil
		}
	}
}
