package protocol

// Media kinds.
const (
	MediaKindLocal    = "local"
	MediaKindStreamed = "streamed"
)

// MediaInfo describes a media source agreed on (or proposed to) the room.
type MediaInfo struct {
	Kind      string `json:"kind"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
	Locator   string `json:"locator,omitempty"`
	LoadedBy  string `json:"loaded_by,omitempty"`
}

// Handshake is sent by each side when a peer link is established. A remote
// peer does not exist for the local node until its handshake arrives.
type Handshake struct {
	PeerID   string `json:"peer_id"`
	Nickname string `json:"nickname"`
	Priority int    `json:"priority"`
	LeaderID string `json:"leader_id,omitempty"`
}

// Chat is a chat line passed through the mesh; the core does no rendering.
type Chat struct {
	Nickname string `json:"nickname"`
	Text     string `json:"text"`
}

// LeaderAnnounce advertises a newly computed leader.
type LeaderAnnounce struct {
	LeaderID string `json:"leader_id"`
}

// PlaybackCommand is a discrete user action (play, pause or seek) with the
// position it happened at, in seconds.
type PlaybackCommand struct {
	Position float64 `json:"position"`
}

// Sync is the leader's periodic playback sample. SentAt mirrors the envelope
// timestamp so followers can estimate one-way latency from the sample alone.
type Sync struct {
	Playing  bool    `json:"playing"`
	Position float64 `json:"position"`
	SentAt   int64   `json:"sent_at"`
}

// Buffering reports a peer entering or leaving a buffering state.
type Buffering struct {
	Buffering bool   `json:"buffering"`
	Nickname  string `json:"nickname,omitempty"`
}

// MediaLoaded announces the first media source for the room.
type MediaLoaded struct {
	Media MediaInfo `json:"media"`
}

// FileUploaded confirms the sender holds a local copy of the current media.
// Filename and size must match the current media exactly.
type FileUploaded struct {
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
}

// ChangeRequest proposes replacing the current media, subject to a vote.
type ChangeRequest struct {
	RequestID string    `json:"request_id"`
	Media     MediaInfo `json:"media"`
}

// Vote is a single peer's ballot on an outstanding change request.
type Vote struct {
	RequestID string `json:"request_id"`
	Accept    bool   `json:"accept"`
}

// SignalPeer identifies a room member on the signaling relay.
type SignalPeer struct {
	PeerID   string `json:"peer_id"`
	Nickname string `json:"nickname"`
	Priority int    `json:"priority"`
}

// SignalJoin registers a peer with a room on the signaling relay.
type SignalJoin struct {
	RoomCode string `json:"room_code"`
	PeerID   string `json:"peer_id"`
	Nickname string `json:"nickname"`
	Priority int    `json:"priority"`
}

// SignalMembers lists the peers already present when joining a room.
type SignalMembers struct {
	Peers []SignalPeer `json:"peers"`
}

// SignalJoined notifies existing members that a peer joined the room.
type SignalJoined struct {
	Peer SignalPeer `json:"peer"`
}

// SignalLeft notifies members that a peer left the room.
type SignalLeft struct {
	PeerID string `json:"peer_id"`
}

// SignalRelay carries an opaque offer or answer blob to a specific peer.
type SignalRelay struct {
	To   string `json:"to"`
	Kind string `json:"kind"` // "offer" or "answer"
	Blob string `json:"blob"`
}
