// Package link defines the opaque per-peer message channel the mesh runs
// over. Links are established out-of-band (see rtclink and the signaling
// relay); the mesh only ever sees ordered, reliable byte messages.
package link

import "errors"

// ErrClosed is returned by Send on a destroyed link.
var ErrClosed = errors.New("link closed")

// Handlers receives link events. All callbacks for one link are invoked
// sequentially, preserving arrival order.
type Handlers struct {
	Data  func(data []byte)
	Close func()
	Error func(err error)
}

// PeerLink is one ordered, reliable, bidirectional message channel to a
// remote peer. Send is fire-and-forget; delivery reliability is the
// transport's concern, not the caller's.
type PeerLink interface {
	// Send queues a message for the remote side. Returns ErrClosed once
	// the link has been destroyed.
	Send(data []byte) error

	// Bind installs the event handlers and starts delivery. Messages
	// received before Bind are held and delivered in order afterwards.
	Bind(h Handlers)

	// Destroy tears the link down on both ends. Idempotent.
	Destroy() error
}
