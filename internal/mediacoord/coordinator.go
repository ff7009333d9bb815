// Package mediacoord keeps all peers agreed on what is playing: it owns the
// current media source, runs the file-readiness handshake for local files,
// and arbitrates change proposals through a majority vote.
package mediacoord

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/driftroom/driftroom/internal/sched"
	"github.com/driftroom/driftroom/pkg/protocol"
)

var (
	// ErrNoMedia is returned for operations that need a current media.
	ErrNoMedia = errors.New("no current media")

	// ErrVoteInProgress is returned when a change is proposed while
	// another proposal is still outstanding.
	ErrVoteInProgress = errors.New("a change vote is already in progress")

	// ErrNoActiveVote is returned when casting a ballot with no
	// outstanding proposal.
	ErrNoActiveVote = errors.New("no active vote")

	// ErrFileMismatch is returned when a supplied file does not match the
	// current media's name and size exactly.
	ErrFileMismatch = errors.New("file does not match current media")
)

// Bus is the slice of the mesh the coordinator needs.
type Bus interface {
	Broadcast(msgType string, payload any) error
	SendTo(peerID string, msgType string, payload any) bool
	LocalID() string
	ConnectedPeerIDs() []string
}

// Config configures a Coordinator.
type Config struct {
	// VoteTimeout bounds how long a change proposal stays open.
	// Default 30s.
	VoteTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) setDefaults() {
	if c.VoteTimeout <= 0 {
		c.VoteTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

type fileStatus struct {
	hasFile   bool
	filename  string
	sizeBytes int64
}

// Coordinator owns the room's media agreement state.
type Coordinator struct {
	cfg    Config
	bus    Bus
	log    *slog.Logger
	events Events
	timers *sched.Scheduler

	mu         sync.Mutex
	current    *protocol.MediaInfo
	readiness  map[string]*fileStatus
	readyFired bool
	vote       *voteState
	closed     bool
}

// New creates a coordinator with no current media.
func New(bus Bus, events Events, cfg Config) *Coordinator {
	cfg.setDefaults()
	if events == nil {
		events = NopEvents{}
	}
	return &Coordinator{
		cfg:    cfg,
		bus:    bus,
		log:    cfg.Logger,
		events: events,
		timers: sched.New(),
	}
}

// Current returns a copy of the current media, or false if none is set.
func (c *Coordinator) Current() (protocol.MediaInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return protocol.MediaInfo{}, false
	}
	return *c.current, true
}

// Readiness returns the live per-peer file status, sorted by peer id.
// Empty when no readiness handshake is in flight.
func (c *Coordinator) Readiness() []PeerFileStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readinessLocked()
}

func (c *Coordinator) readinessLocked() []PeerFileStatus {
	out := make([]PeerFileStatus, 0, len(c.readiness))
	for id, st := range c.readiness {
		out = append(out, PeerFileStatus{
			PeerID:    id,
			HasFile:   st.hasFile,
			Filename:  st.filename,
			SizeBytes: st.sizeBytes,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out
}

// Load introduces media. With no current media the local peer becomes the
// source of truth; with one already set it opens a change vote instead.
func (c *Coordinator) Load(media protocol.MediaInfo) error {
	media.LoadedBy = c.bus.LocalID()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("coordinator closed")
	}
	if c.current != nil {
		c.mu.Unlock()
		return c.propose(media)
	}
	c.current = &media
	c.startReadinessLocked(media)
	c.mu.Unlock()

	if err := c.bus.Broadcast(protocol.TypeMediaLoaded, protocol.MediaLoaded{Media: media}); err != nil {
		c.log.Warn("broadcast media loaded", "error", err)
	}
	c.log.Info("media loaded", "kind", media.Kind, "filename", media.Filename, "size", media.SizeBytes)
	c.events.MediaSource(media)
	c.afterReadinessChange()
	return nil
}

// ConfirmLocalFile records that the local user supplied a file for the
// current local-kind media. Name and size must match exactly.
func (c *Coordinator) ConfirmLocalFile(filename string, sizeBytes int64) error {
	c.mu.Lock()
	cur := c.current
	if cur == nil || cur.Kind != protocol.MediaKindLocal {
		c.mu.Unlock()
		return ErrNoMedia
	}
	if filename != cur.Filename || sizeBytes != cur.SizeBytes {
		c.mu.Unlock()
		c.log.Warn("local file rejected",
			"filename", filename, "size", sizeBytes,
			"want_filename", cur.Filename, "want_size", cur.SizeBytes)
		return ErrFileMismatch
	}
	c.markReadyLocked(c.bus.LocalID(), filename, sizeBytes)
	c.mu.Unlock()

	err := c.bus.Broadcast(protocol.TypeFileUploaded, protocol.FileUploaded{
		Filename:  filename,
		SizeBytes: sizeBytes,
	})
	if err != nil {
		c.log.Warn("broadcast file uploaded", "error", err)
	}
	c.afterReadinessChange()
	return nil
}

// PeerJoined folds a newly connected peer into any in-flight readiness
// handshake, and catches them up on the current media if we loaded it.
func (c *Coordinator) PeerJoined(peerID string) {
	c.mu.Lock()
	var announce *protocol.MediaInfo
	if c.current != nil && c.current.LoadedBy == c.bus.LocalID() {
		m := *c.current
		announce = &m
	}
	if c.readiness != nil && !c.readyFired {
		if _, ok := c.readiness[peerID]; !ok {
			c.readiness[peerID] = &fileStatus{}
		}
	}
	c.mu.Unlock()

	if announce != nil {
		c.bus.SendTo(peerID, protocol.TypeMediaLoaded, protocol.MediaLoaded{Media: *announce})
	}
	c.afterReadinessChange()
}

// PeerLeft drops a departed peer from readiness tracking and re-checks the
// vote's early-finalize condition against the shrunken room.
func (c *Coordinator) PeerLeft(peerID string) {
	c.mu.Lock()
	if c.readiness != nil {
		delete(c.readiness, peerID)
	}
	c.mu.Unlock()

	c.afterReadinessChange()
	c.maybeFinalizeEarly()
}

// HandleEnvelope consumes media and vote envelopes dispatched by the mesh.
func (c *Coordinator) HandleEnvelope(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeMediaLoaded:
		var msg protocol.MediaLoaded
		if err := env.DecodePayload(&msg); err != nil {
			c.log.Warn("malformed media-loaded dropped", "error", err)
			return
		}
		c.handleMediaLoaded(msg.Media)
	case protocol.TypeFileUploaded:
		var msg protocol.FileUploaded
		if err := env.DecodePayload(&msg); err != nil {
			c.log.Warn("malformed file-uploaded dropped", "error", err)
			return
		}
		c.handleFileUploaded(env.From, msg)
	case protocol.TypeChangeRequest:
		var msg protocol.ChangeRequest
		if err := env.DecodePayload(&msg); err != nil {
			c.log.Warn("malformed change-request dropped", "error", err)
			return
		}
		c.handleChangeRequest(env.From, msg)
	case protocol.TypeVote:
		var msg protocol.Vote
		if err := env.DecodePayload(&msg); err != nil {
			c.log.Warn("malformed vote dropped", "error", err)
			return
		}
		c.handleVote(env.From, msg)
	}
}

// handleMediaLoaded adopts a remote first load.
func (c *Coordinator) handleMediaLoaded(media protocol.MediaInfo) {
	c.mu.Lock()
	if c.current != nil {
		// Already agreed on a source; changes go through the vote.
		c.mu.Unlock()
		return
	}
	c.current = &media
	c.startReadinessLocked(media)
	c.mu.Unlock()

	c.log.Info("media source announced", "kind", media.Kind, "filename", media.Filename, "by", media.LoadedBy)
	c.events.MediaSource(media)
	c.afterReadinessChange()
}

// handleFileUploaded records a remote readiness confirmation. A mismatched
// filename or size is rejected to the sender's detriment only.
func (c *Coordinator) handleFileUploaded(from string, msg protocol.FileUploaded) {
	c.mu.Lock()
	cur := c.current
	if cur == nil || cur.Kind != protocol.MediaKindLocal || c.readiness == nil {
		c.mu.Unlock()
		return
	}
	if msg.Filename != cur.Filename || msg.SizeBytes != cur.SizeBytes {
		c.mu.Unlock()
		c.log.Warn("file confirmation rejected",
			"peer", from, "filename", msg.Filename, "size", msg.SizeBytes,
			"want_filename", cur.Filename, "want_size", cur.SizeBytes)
		return
	}
	c.markReadyLocked(from, msg.Filename, msg.SizeBytes)
	c.mu.Unlock()

	c.afterReadinessChange()
}

// startReadinessLocked begins a fresh file-readiness handshake for the
// given media. Streamed media is immediately ready everywhere; the
// bulk-transfer subsystem propagates bytes on its own time.
func (c *Coordinator) startReadinessLocked(media protocol.MediaInfo) {
	c.readyFired = false
	if media.Kind != protocol.MediaKindLocal {
		c.readiness = nil
		return
	}
	c.readiness = make(map[string]*fileStatus)
	for _, id := range c.bus.ConnectedPeerIDs() {
		c.readiness[id] = &fileStatus{}
	}
	self := &fileStatus{}
	if media.LoadedBy == c.bus.LocalID() {
		self.hasFile = true
		self.filename = media.Filename
		self.sizeBytes = media.SizeBytes
	}
	c.readiness[c.bus.LocalID()] = self
	if loader, ok := c.readiness[media.LoadedBy]; ok {
		loader.hasFile = true
		loader.filename = media.Filename
		loader.sizeBytes = media.SizeBytes
	}
}

func (c *Coordinator) markReadyLocked(peerID, filename string, sizeBytes int64) {
	if c.readiness == nil {
		return
	}
	st, ok := c.readiness[peerID]
	if !ok {
		st = &fileStatus{}
		c.readiness[peerID] = st
	}
	st.hasFile = true
	st.filename = filename
	st.sizeBytes = sizeBytes
}

// afterReadinessChange surfaces the live status and fires MediaReady once
// the last pending peer flips. Streamed media short-circuits to ready.
func (c *Coordinator) afterReadinessChange() {
	c.mu.Lock()
	cur := c.current
	if cur == nil || c.readyFired {
		c.mu.Unlock()
		return
	}
	if cur.Kind != protocol.MediaKindLocal {
		c.readyFired = true
		media := *cur
		c.mu.Unlock()
		c.events.MediaReady(media)
		return
	}
	if c.readiness == nil {
		c.mu.Unlock()
		return
	}
	status := c.readinessLocked()
	allReady := true
	for _, st := range c.readiness {
		if !st.hasFile {
			allReady = false
			break
		}
	}
	var media protocol.MediaInfo
	if allReady {
		c.readyFired = true
		media = *cur
		// The handshake is over; the status map has served its purpose.
		c.readiness = nil
	}
	c.mu.Unlock()

	if allReady {
		c.log.Info("all peers ready", "filename", media.Filename)
		c.events.MediaReady(media)
	} else {
		c.events.WaitingForFiles(status)
	}
}

// Close stops the vote deadline timer and drops all state.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.current = nil
	c.readiness = nil
	c.vote = nil
	c.mu.Unlock()
	c.timers.StopAll()
}
