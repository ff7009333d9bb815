// Package peers tracks room membership on the signaling relay.
package peers

import (
	"sync"
	"time"

	"github.com/driftroom/driftroom/pkg/protocol"
)

// Member is one peer's registration in a room.
type Member struct {
	Peer   protocol.SignalPeer
	ConnID string // unique per WebSocket connection
}

// memberConnection holds a member and its send channel.
type memberConnection struct {
	member Member
	send   chan protocol.Envelope
}

// Hub manages room membership in a thread-safe manner. Duplicate peer ids
// within a room use last-write-wins: the most recent connection replaces
// any previous one.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]*memberConnection // roomCode -> connID -> memberConnection
	byPeerID map[string]map[string]string            // roomCode -> peerID -> connID
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:    make(map[string]map[string]*memberConnection),
		byPeerID: make(map[string]map[string]string),
	}
}

// Add registers a member in a room and returns a remove function. The send
// function delivers envelopes to the member's connection; delivery runs on
// a per-connection goroutine so a slow socket never blocks the hub.
func (h *Hub) Add(roomCode string, m Member, send func(env protocol.Envelope) error) (remove func()) {
	ch := make(chan protocol.Envelope, 256)

	mc := &memberConnection{
		member: m,
		send:   ch,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for env := range ch {
			if err := send(env); err != nil {
				return
			}
		}
	}()

	h.mu.Lock()
	if h.rooms[roomCode] == nil {
		h.rooms[roomCode] = make(map[string]*memberConnection)
	}
	if h.byPeerID[roomCode] == nil {
		h.byPeerID[roomCode] = make(map[string]string)
	}

	// Last-write-wins: a reconnecting peer replaces its stale connection.
	if oldConnID, exists := h.byPeerID[roomCode][m.Peer.PeerID]; exists && oldConnID != m.ConnID {
		if oldMC, ok := h.rooms[roomCode][oldConnID]; ok {
			close(oldMC.send)
		}
		delete(h.rooms[roomCode], oldConnID)
		delete(h.byPeerID[roomCode], m.Peer.PeerID)
	}

	h.rooms[roomCode][m.ConnID] = mc
	h.byPeerID[roomCode][m.Peer.PeerID] = m.ConnID
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		roomMembers, exists := h.rooms[roomCode]
		if !exists {
			h.mu.Unlock()
			return
		}

		// This connection may already have been replaced.
		if _, stillExists := roomMembers[m.ConnID]; !stillExists {
			h.mu.Unlock()
			return
		}

		delete(roomMembers, m.ConnID)
		if peerIDMap, exists := h.byPeerID[roomCode]; exists {
			if peerIDMap[m.Peer.PeerID] == m.ConnID {
				delete(peerIDMap, m.Peer.PeerID)
			}
		}
		h.mu.Unlock()

		close(ch)
		select {
		case <-done:
		case <-time.After(1 * time.Second):
		}

		h.mu.Lock()
		if len(roomMembers) == 0 {
			delete(h.rooms, roomCode)
			delete(h.byPeerID, roomCode)
		}
		h.mu.Unlock()
	}
}

// List returns the members of a room.
func (h *Hub) List(roomCode string) []protocol.SignalPeer {
	h.mu.RLock()
	defer h.mu.RUnlock()

	roomMembers, exists := h.rooms[roomCode]
	if !exists || len(roomMembers) == 0 {
		return []protocol.SignalPeer{}
	}

	members := make([]protocol.SignalPeer, 0, len(roomMembers))
	for _, mc := range roomMembers {
		members = append(members, mc.member.Peer)
	}
	return members
}

// Broadcast sends an envelope to every member of a room. Sends are
// non-blocking via the buffered per-connection channels.
func (h *Hub) Broadcast(roomCode string, env protocol.Envelope) {
	h.mu.RLock()
	roomMembers, exists := h.rooms[roomCode]
	if !exists {
		h.mu.RUnlock()
		return
	}
	membersCopy := make([]*memberConnection, 0, len(roomMembers))
	for _, mc := range roomMembers {
		membersCopy = append(membersCopy, mc)
	}
	h.mu.RUnlock()

	for _, mc := range membersCopy {
		select {
		case mc.send <- env:
		default:
			// Channel full, skip this member.
		}
	}
}

// BroadcastExcept sends an envelope to every member of a room except one.
func (h *Hub) BroadcastExcept(roomCode string, exceptPeerID string, env protocol.Envelope) {
	h.mu.RLock()
	roomMembers, exists := h.rooms[roomCode]
	if !exists {
		h.mu.RUnlock()
		return
	}

	exceptConnID := ""
	if peerIDMap, exists := h.byPeerID[roomCode]; exists {
		exceptConnID = peerIDMap[exceptPeerID]
	}

	membersCopy := make([]*memberConnection, 0, len(roomMembers))
	for connID, mc := range roomMembers {
		if connID != exceptConnID {
			membersCopy = append(membersCopy, mc)
		}
	}
	h.mu.RUnlock()

	for _, mc := range membersCopy {
		select {
		case mc.send <- env:
		default:
		}
	}
}

// SendTo sends an envelope to a specific member of a room. Returns false if
// the peer is not present.
func (h *Hub) SendTo(roomCode string, peerID string, env protocol.Envelope) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	peerIDMap, exists := h.byPeerID[roomCode]
	if !exists {
		return false
	}
	connID, exists := peerIDMap[peerID]
	if !exists {
		return false
	}
	mc, exists := h.rooms[roomCode][connID]
	if !exists {
		return false
	}

	select {
	case mc.send <- env:
		return true
	default:
		// Channel full, but the peer exists.
		return true
	}
}
