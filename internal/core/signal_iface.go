package core

import "github.com/dkeye/scribe/internal/domain"

// Frame is one encoded outbound event.
type Frame []byte

// SignalConnection abstracts the bidirectional transport of one client.
// Owned by the adapter; TrySend must never block.
type SignalConnection interface {
	ID() domain.ConnID
	TrySend(Frame) error
	// Close flushes already queued frames and then drops the connection.
	Close()
}
