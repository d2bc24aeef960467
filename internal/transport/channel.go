// Package transport implements the framed duplex byte channel the rest of
// the client speaks RPC over. Channel carries opaque text frames; it knows
// nothing about RPC methods, correlation ids, or schemas — that is the
// rpc package's job.
package transport

import "context"

// Channel is a persistent bidirectional stream of text frames. A single
// Channel corresponds to one WebSocket connection; it is replaced wholesale
// on every reconnect rather than mutated in place.
type Channel interface {
	// Open dials the remote endpoint and blocks until the connection is
	// established or ctx is cancelled.
	Open(ctx context.Context) error

	// Send writes one frame to the channel. Safe to call concurrently with
	// itself — at most one write is ever in flight at a time internally.
	Send(ctx context.Context, frame []byte) error

	// Messages returns the channel of inbound frames. It is closed when the
	// connection closes, after Closed() has been signalled.
	Messages() <-chan []byte

	// Closed reports the reason the connection ended, exactly once. Callers
	// that need to distinguish a requested close from an involuntary one
	// must track that themselves (e.g. a flag set before calling Close) —
	// the underlying read error looks the same either way.
	Closed() <-chan error

	// Close closes the connection with the given WebSocket close code and
	// reason. Closed() is subsequently signalled with whatever error the
	// closed connection's reader reports, which is not necessarily nil.
	Close(code int, reason string) error
}
