package replication

import "errors"

// Error kinds from spec §7. Sessions and the reactor wrap these with
// fmt.Errorf("...: %w", ErrX) so errors.Is keeps working across
// context.
var (
	// ErrDisconnected covers peer EOF and connection reset.
	ErrDisconnected = errors.New("replication: peer disconnected")

	// ErrMalformedFrame covers a bad record length or an undecodable
	// entry.
	ErrMalformedFrame = errors.New("replication: malformed frame")

	// ErrOversizedFrame covers a record whose declared length exceeds
	// the session's buffer cap.
	ErrOversizedFrame = errors.New("replication: oversized frame")

	// ErrConnectFailed covers a failed outbound dial. Never fatal to
	// the reactor; the connector backs off and retries.
	ErrConnectFailed = errors.New("replication: connect failed")

	// ErrHandshakeRejected covers an out-of-range identifier or a
	// self-collision (the remote claims an identifier that already
	// owns an active session).
	ErrHandshakeRejected = errors.New("replication: handshake rejected")

	// ErrStorageError covers a failure from the store.Adapter. The
	// session logs and drops the entry; it never crashes the reactor.
	ErrStorageError = errors.New("replication: storage error")

	// ErrShutdown is the kind for an orderly close of the reactor
	// (cancelling the context passed to Reactor.Run). Reactor.Run's
	// shutdown path returns nil and does not wrap it.
	ErrShutdown = errors.New("replication: shutdown")
)
