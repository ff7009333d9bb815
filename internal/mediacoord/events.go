package mediacoord

import "github.com/driftroom/driftroom/pkg/protocol"

// PeerFileStatus is one peer's row in the file-readiness handshake.
type PeerFileStatus struct {
	PeerID    string
	HasFile   bool
	Filename  string
	SizeBytes int64
}

// VoteView is a snapshot of the outstanding change vote for the UI layer.
type VoteView struct {
	RequestID   string
	Proposed    protocol.MediaInfo
	RequestedBy string
	Yes         int
	No          int
}

// Events receives media coordination notifications. Callbacks are invoked
// outside the coordinator lock.
type Events interface {
	// MediaSource fires when a current media source is established,
	// locally or by a remote peer.
	MediaSource(media protocol.MediaInfo)

	// MediaReady fires exactly once per media, when every tracked peer
	// holds the file (immediately, for streamed media).
	MediaReady(media protocol.MediaInfo)

	// WaitingForFiles reports the live per-peer readiness status whenever
	// it changes.
	WaitingForFiles(status []PeerFileStatus)

	// VoteRequested surfaces a remote change proposal for a UI decision.
	VoteRequested(v VoteView)

	// VoteUpdated fires as ballots arrive.
	VoteUpdated(v VoteView)

	// VoteResult fires once per vote at finalization.
	VoteResult(v VoteView, accepted bool)

	// MediaChanged fires when an accepted vote swaps the current media.
	MediaChanged(old, new protocol.MediaInfo)
}

// NopEvents ignores all notifications.
type NopEvents struct{}

func (NopEvents) MediaSource(protocol.MediaInfo)       {}
func (NopEvents) MediaReady(protocol.MediaInfo)        {}
func (NopEvents) WaitingForFiles([]PeerFileStatus)     {}
func (NopEvents) VoteRequested(VoteView)               {}
func (NopEvents) VoteUpdated(VoteView)                 {}
func (NopEvents) VoteResult(VoteView, bool)            {}
func (NopEvents) MediaChanged(_, _ protocol.MediaInfo) {}

var _ Events = NopEvents{}
