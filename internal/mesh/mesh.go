// Package mesh maintains room membership, identity, leadership and message
// delivery across a full peer mesh. Every peer holds a direct link to every
// other peer; there is no server in the message path.
package mesh

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/driftroom/driftroom/internal/link"
	"github.com/driftroom/driftroom/internal/sched"
	"github.com/driftroom/driftroom/pkg/protocol"
)

// Peer status values.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
)

// Peer is the public view of a room member.
type Peer struct {
	ID       string
	Nickname string
	Priority int
	Status   Status
	LastSeen time.Time
}

// Config configures a Mesh instance.
type Config struct {
	RoomCode string
	LocalID  string
	Nickname string
	Priority int

	// HeartbeatInterval is how often each connected peer is pinged.
	// Default 5s.
	HeartbeatInterval time.Duration

	// GraceWindow is how long a disconnected peer is kept provisionally
	// before being removed. Default 30s.
	GraceWindow time.Duration

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type peerRecord struct {
	peer      Peer
	link      link.PeerLink
	heartbeat *sched.Task
	grace     *sched.Task
}

const (
	seenLimit = 2048
	seenTTL   = 2 * time.Minute
)

// Mesh owns the peer registry for one room. All shared state is guarded by
// one mutex; events and sends happen outside it.
type Mesh struct {
	cfg    Config
	log    *slog.Logger
	events Events
	timers *sched.Scheduler

	mu       sync.Mutex
	peers    map[string]*peerRecord
	pending  map[link.PeerLink]struct{} // links with no handshake yet
	leaderID string
	seen     map[string]time.Time
	subs     []func(protocol.Envelope)
	closed   bool
}

// New creates a mesh for the given room. The local node starts as its own
// leader until peers with higher priority hand-shake in.
func New(cfg Config, events Events) *Mesh {
	cfg.setDefaults()
	if events == nil {
		events = NopEvents{}
	}
	m := &Mesh{
		cfg:      cfg,
		log:      cfg.Logger.With("room", cfg.RoomCode),
		events:   events,
		timers:   sched.New(),
		peers:    make(map[string]*peerRecord),
		pending:  make(map[link.PeerLink]struct{}),
		leaderID: cfg.LocalID,
		seen:     make(map[string]time.Time),
	}
	events.LeaderChanged(cfg.LocalID)
	return m
}

// LocalID returns the local peer id.
func (m *Mesh) LocalID() string { return m.cfg.LocalID }

// Nickname returns the local display name.
func (m *Mesh) Nickname() string { return m.cfg.Nickname }

// RoomCode returns the room this mesh belongs to.
func (m *Mesh) RoomCode() string { return m.cfg.RoomCode }

// LeaderID returns the currently elected leader.
func (m *Mesh) LeaderID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.leaderID
}

// IsLeader reports whether the local node is the elected leader.
func (m *Mesh) IsLeader() bool {
	return m.LeaderID() == m.cfg.LocalID
}

// Peers returns a snapshot of all known remote peers.
func (m *Mesh) Peers() []Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Peer, 0, len(m.peers))
	for _, rec := range m.peers {
		out = append(out, rec.peer)
	}
	return out
}

// ConnectedPeerIDs returns the ids of remote peers currently connected,
// excluding the local node.
func (m *Mesh) ConnectedPeerIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.peers))
	for id, rec := range m.peers {
		if rec.peer.Status == StatusConnected {
			out = append(out, id)
		}
	}
	return out
}

// Subscribe registers a handler for application envelopes (playback, media
// and vote messages). Mesh-internal types are not forwarded.
func (m *Mesh) Subscribe(fn func(protocol.Envelope)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, fn)
}

// AttachLink wires an established opaque channel into the mesh and starts
// the identity handshake. The remote side is not a peer until its
// handshake envelope arrives.
func (m *Mesh) AttachLink(l link.PeerLink) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		l.Destroy()
		return
	}
	m.pending[l] = struct{}{}
	m.mu.Unlock()

	l.Bind(link.Handlers{
		Data:  func(data []byte) { m.handleData(l, data) },
		Close: func() { m.linkDown(l) },
		Error: func(err error) {
			m.log.Warn("link error", "error", err)
			m.linkDown(l)
		},
	})

	m.sendHandshake(l)
}

func (m *Mesh) sendHandshake(l link.PeerLink) {
	env, err := protocol.NewEnvelope(protocol.TypeHandshake, m.cfg.LocalID, protocol.Handshake{
		PeerID:   m.cfg.LocalID,
		Nickname: m.cfg.Nickname,
		Priority: m.cfg.Priority,
		LeaderID: m.LeaderID(),
	})
	if err != nil {
		m.log.Error("build handshake", "error", err)
		return
	}
	m.sendOnLink(l, env)
}

func (m *Mesh) sendOnLink(l link.PeerLink, env protocol.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		m.log.Error("marshal envelope", "type", env.Type, "error", err)
		return
	}
	if err := l.Send(data); err != nil {
		// A send to a destroyed link is an implicit close.
		m.linkDown(l)
	}
}

// Broadcast sends an envelope of the given type to every connected peer.
func (m *Mesh) Broadcast(msgType string, payload any) error {
	env, err := protocol.NewEnvelope(msgType, m.cfg.LocalID, payload)
	if err != nil {
		return err
	}
	m.broadcastEnvelope(env, "")
	return nil
}

// SendTo sends an envelope of the given type to one connected peer.
// Returns false if the peer is unknown or not connected.
func (m *Mesh) SendTo(peerID string, msgType string, payload any) bool {
	env, err := protocol.NewEnvelope(msgType, m.cfg.LocalID, payload)
	if err != nil {
		m.log.Error("build envelope", "type", msgType, "error", err)
		return false
	}
	m.mu.Lock()
	rec, ok := m.peers[peerID]
	var target link.PeerLink
	if ok && rec.peer.Status == StatusConnected {
		target = rec.link
	}
	m.mu.Unlock()
	if target == nil {
		return false
	}
	m.sendOnLink(target, env)
	return true
}

// SendChat broadcasts a chat line to the room.
func (m *Mesh) SendChat(text string) error {
	return m.Broadcast(protocol.TypeChat, protocol.Chat{
		Nickname: m.cfg.Nickname,
		Text:     text,
	})
}

func (m *Mesh) broadcastEnvelope(env protocol.Envelope, exceptPeer string) {
	data, err := json.Marshal(env)
	if err != nil {
		m.log.Error("marshal envelope", "type", env.Type, "error", err)
		return
	}
	m.broadcastRaw(data, exceptPeer)
}

func (m *Mesh) broadcastRaw(data []byte, exceptPeer string) {
	m.mu.Lock()
	targets := make([]link.PeerLink, 0, len(m.peers))
	for id, rec := range m.peers {
		if id == exceptPeer || rec.peer.Status != StatusConnected {
			continue
		}
		targets = append(targets, rec.link)
	}
	m.mu.Unlock()

	for _, l := range targets {
		if err := l.Send(data); err != nil {
			m.linkDown(l)
		}
	}
}

func (m *Mesh) handleData(l link.PeerLink, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		m.log.Warn("malformed envelope dropped", "error", err)
		return
	}
	if err := env.ValidateBasic(); err != nil {
		m.log.Warn("invalid envelope dropped", "error", err)
		return
	}
	if env.From == m.cfg.LocalID {
		// Our own message relayed back around the mesh.
		return
	}
	if m.alreadySeen(env.MsgID) {
		return
	}

	switch env.Type {
	case protocol.TypeHandshake:
		m.handleHandshake(l, env)
		return
	case protocol.TypePing:
		m.touch(env.From)
		pong, err := protocol.NewEnvelope(protocol.TypePong, m.cfg.LocalID, nil)
		if err == nil {
			m.sendOnLink(l, pong)
		}
		return
	case protocol.TypePong:
		m.touch(env.From)
		return
	case protocol.TypeLeader:
		// Advisory announcement: re-run the local election. Same inputs
		// produce the same winner everywhere, so no ack protocol.
		m.touch(env.From)
		m.recomputeLeader()
		return
	}

	if protocol.Propagating(env.Type) {
		// Forward unchanged, exactly once, to everyone but the original
		// sender. The seen-cache stops further copies from looping, so
		// relays converge even between peers with no direct link.
		m.broadcastRaw(data, env.From)
	}

	switch env.Type {
	case protocol.TypeChat:
		var chat protocol.Chat
		if err := env.DecodePayload(&chat); err != nil {
			m.log.Warn("malformed chat dropped", "error", err)
			return
		}
		m.touch(env.From)
		m.events.ChatMessage(env.From, chat.Nickname, chat.Text)
		return
	case protocol.TypeSync, protocol.TypePlay, protocol.TypePause,
		protocol.TypeSeek, protocol.TypeBuffering, protocol.TypeReady:
		// Playback traffic needs an established peer; a sample arriving
		// before any handshake is ignored.
		if !m.touch(env.From) {
			m.log.Debug("envelope from unknown peer dropped", "type", env.Type, "from", env.From)
			return
		}
	default:
		// Media and vote messages are map-keyed and idempotent on the
		// receiving side; accept them from relayed-only peers too.
		m.touch(env.From)
	}

	m.dispatch(env)
}

func (m *Mesh) dispatch(env protocol.Envelope) {
	m.mu.Lock()
	subs := make([]func(protocol.Envelope), len(m.subs))
	copy(subs, m.subs)
	m.mu.Unlock()
	for _, fn := range subs {
		fn(env)
	}
}

// alreadySeen records the message id and reports whether it was already
// known. The cache is pruned by age once it grows past seenLimit.
func (m *Mesh) alreadySeen(msgID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[msgID]; ok {
		return true
	}
	now := time.Now()
	if len(m.seen) >= seenLimit {
		for id, at := range m.seen {
			if now.Sub(at) > seenTTL {
				delete(m.seen, id)
			}
		}
	}
	m.seen[msgID] = now
	return false
}

// touch updates lastSeen for a known peer. Reports whether the peer exists.
func (m *Mesh) touch(peerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.peers[peerID]
	if !ok {
		return false
	}
	rec.peer.LastSeen = time.Now()
	return true
}

func (m *Mesh) handleHandshake(l link.PeerLink, env protocol.Envelope) {
	var hs protocol.Handshake
	if err := env.DecodePayload(&hs); err != nil {
		m.log.Warn("malformed handshake dropped", "error", err)
		return
	}
	if hs.PeerID == "" || hs.PeerID == m.cfg.LocalID {
		return
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	delete(m.pending, l)

	rec, exists := m.peers[hs.PeerID]
	var joined, restored bool
	var oldLink link.PeerLink
	if !exists {
		rec = &peerRecord{
			peer: Peer{
				ID:       hs.PeerID,
				Nickname: hs.Nickname,
				Priority: hs.Priority,
				Status:   StatusConnected,
				LastSeen: time.Now(),
			},
			link: l,
		}
		m.peers[hs.PeerID] = rec
		joined = true
	} else {
		rec.peer.Nickname = hs.Nickname
		rec.peer.Priority = hs.Priority
		rec.peer.LastSeen = time.Now()
		if rec.link != l {
			oldLink = rec.link
			rec.link = l
		}
		if rec.peer.Status == StatusReconnecting {
			// Fresh handshake within the grace window: restore silently,
			// no peer-left was or will be fired.
			rec.grace.Stop()
			rec.grace = nil
			rec.peer.Status = StatusConnected
			restored = true
		}
	}
	if joined || restored {
		m.startHeartbeatLocked(rec)
	}
	snapshot := rec.peer
	m.mu.Unlock()

	if oldLink != nil {
		oldLink.Destroy()
	}

	if joined {
		m.log.Info("peer joined", "peer", hs.PeerID, "nickname", hs.Nickname, "priority", hs.Priority)
		m.events.PeerJoined(snapshot)
		m.sendHandshake(l)
	}
	if restored {
		m.log.Info("peer restored within grace window", "peer", hs.PeerID)
		m.events.PeerStatus(snapshot)
		m.sendHandshake(l)
	}
	if joined || restored {
		m.recomputeLeader()
	}
}

func (m *Mesh) startHeartbeatLocked(rec *peerRecord) {
	if rec.heartbeat != nil {
		rec.heartbeat.Stop()
	}
	peerID := rec.peer.ID
	rec.heartbeat = m.timers.Every(m.cfg.HeartbeatInterval, func() {
		ping, err := protocol.NewEnvelope(protocol.TypePing, m.cfg.LocalID, nil)
		if err != nil {
			return
		}
		m.mu.Lock()
		cur, ok := m.peers[peerID]
		var target link.PeerLink
		if ok && cur.peer.Status == StatusConnected {
			target = cur.link
		}
		m.mu.Unlock()
		if target != nil {
			m.sendOnLink(target, ping)
		}
	})
}

// linkDown degrades the owning peer to reconnecting, or discards the link
// if no handshake ever completed on it.
func (m *Mesh) linkDown(l link.PeerLink) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if _, ok := m.pending[l]; ok {
		delete(m.pending, l)
		m.mu.Unlock()
		l.Destroy()
		return
	}

	var affected *peerRecord
	for _, rec := range m.peers {
		if rec.link == l {
			affected = rec
			break
		}
	}
	if affected == nil || affected.peer.Status != StatusConnected {
		m.mu.Unlock()
		return
	}

	affected.peer.Status = StatusReconnecting
	if affected.heartbeat != nil {
		affected.heartbeat.Stop()
		affected.heartbeat = nil
	}
	peerID := affected.peer.ID
	affected.grace = m.timers.After(m.cfg.GraceWindow, func() {
		m.expireGrace(peerID)
	})
	snapshot := affected.peer
	m.mu.Unlock()

	m.log.Info("peer link down, grace window started", "peer", peerID, "window", m.cfg.GraceWindow)
	m.events.PeerStatus(snapshot)
}

// expireGrace removes a peer whose grace window ran out.
func (m *Mesh) expireGrace(peerID string) {
	m.mu.Lock()
	rec, ok := m.peers[peerID]
	if !ok || rec.peer.Status != StatusReconnecting {
		m.mu.Unlock()
		return
	}
	delete(m.peers, peerID)
	if rec.heartbeat != nil {
		rec.heartbeat.Stop()
	}
	snapshot := rec.peer
	snapshot.Status = StatusDisconnected
	l := rec.link
	m.mu.Unlock()

	if l != nil {
		l.Destroy()
	}
	m.log.Info("peer removed after grace window", "peer", peerID)
	m.events.PeerLeft(snapshot)
	m.recomputeLeader()
}

// recomputeLeader re-runs the election over the local node plus all
// connected peers, announcing the result if it changed.
func (m *Mesh) recomputeLeader() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	cands := []Candidate{{ID: m.cfg.LocalID, Priority: m.cfg.Priority}}
	for id, rec := range m.peers {
		if rec.peer.Status == StatusConnected {
			cands = append(cands, Candidate{ID: id, Priority: rec.peer.Priority})
		}
	}
	winner := Elect(cands)
	changed := winner != m.leaderID
	if changed {
		m.leaderID = winner
	}
	m.mu.Unlock()

	if !changed {
		return
	}
	m.log.Info("leader changed", "leader", winner)
	if err := m.Broadcast(protocol.TypeLeader, protocol.LeaderAnnounce{LeaderID: winner}); err != nil {
		m.log.Error("announce leader", "error", err)
	}
	m.events.LeaderChanged(winner)
}

// Close leaves the room: stops every timer, destroys every link, clears the
// registry and emits a disconnected status. Idempotent.
func (m *Mesh) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	links := make([]link.PeerLink, 0, len(m.peers)+len(m.pending))
	for _, rec := range m.peers {
		links = append(links, rec.link)
	}
	for l := range m.pending {
		links = append(links, l)
	}
	m.peers = make(map[string]*peerRecord)
	m.pending = make(map[link.PeerLink]struct{})
	m.seen = make(map[string]time.Time)
	m.mu.Unlock()

	m.timers.StopAll()
	for _, l := range links {
		l.Destroy()
	}
	m.log.Info("left room")
	m.events.Disconnected()
}
