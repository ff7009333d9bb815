package protocol

// Mesh message types.
const (
	TypeHandshake     = "handshake"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeChat          = "chat"
	TypeLeader        = "leader"
	TypePlay          = "play"
	TypePause         = "pause"
	TypeSeek          = "seek"
	TypeSync          = "sync"
	TypeReady         = "ready"
	TypeBuffering     = "buffering"
	TypeMediaLoaded   = "media_loaded"
	TypeFileUploaded  = "file_uploaded"
	TypeChangeRequest = "change_request"
	TypeVote          = "vote"
)

// Signaling message types (out-of-band link establishment only; never
// carried over peer links).
const (
	TypeSignalJoin    = "signal_join"
	TypeSignalMembers = "signal_members"
	TypeSignalJoined  = "signal_joined"
	TypeSignalLeft    = "signal_left"
	TypeSignalRelay   = "signal_relay"
)

// propagating lists the message types every peer forwards once to the rest
// of the mesh, so that messages reach peers beyond the directly-linked
// sender. Handshake, ping/pong and leader announcements stay link-local:
// identity and liveness are per-link concerns, and leadership is recomputed
// locally from membership.
var propagating = map[string]bool{
	TypeChat:          true,
	TypePlay:          true,
	TypePause:         true,
	TypeSeek:          true,
	TypeSync:          true,
	TypeBuffering:     true,
	TypeMediaLoaded:   true,
	TypeFileUploaded:  true,
	TypeChangeRequest: true,
	TypeVote:          true,
}

// Propagating reports whether envelopes of the given type are relayed by
// receiving peers.
func Propagating(msgType string) bool {
	return propagating[msgType]
}
