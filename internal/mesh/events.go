package mesh

// Events receives room lifecycle notifications. Implementations embed
// NopEvents and override what they care about; callbacks are invoked
// outside the mesh lock but may arrive from link delivery goroutines.
type Events interface {
	// PeerJoined fires when a remote peer completes the identity handshake.
	PeerJoined(p Peer)

	// PeerLeft fires exactly once, when a peer's reconnection grace window
	// expires unresolved.
	PeerLeft(p Peer)

	// PeerStatus fires on any peer status transition (connected,
	// reconnecting).
	PeerStatus(p Peer)

	// LeaderChanged fires whenever the locally computed leader changes.
	LeaderChanged(leaderID string)

	// ChatMessage passes a chat line through; the core does no rendering.
	ChatMessage(peerID, nickname, text string)

	// Disconnected fires once when the local node leaves the room.
	Disconnected()
}

// NopEvents is an Events implementation that ignores everything.
type NopEvents struct{}

func (NopEvents) PeerJoined(Peer)            {}
func (NopEvents) PeerLeft(Peer)              {}
func (NopEvents) PeerStatus(Peer)            {}
func (NopEvents) LeaderChanged(string)       {}
func (NopEvents) ChatMessage(_, _, _ string) {}
func (NopEvents) Disconnected()              {}

var _ Events = NopEvents{}
