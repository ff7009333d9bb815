// Package syncengine keeps a follower's local playback aligned to the
// elected leader's, and pauses everyone while anyone is buffering.
package syncengine

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/driftroom/driftroom/internal/sched"
	"github.com/driftroom/driftroom/pkg/protocol"
)

// Bus is the slice of the mesh the engine needs: fire-and-forget broadcast
// plus local identity.
type Bus interface {
	Broadcast(msgType string, payload any) error
	LocalID() string
	Nickname() string
	IsLeader() bool
}

// Config holds the drift policy and loop cadence. Zero values pick the
// defaults noted per field.
type Config struct {
	LowThreshold  time.Duration // dead zone, default 300ms
	MidThreshold  time.Duration // soft/firm boundary, default 700ms
	HardThreshold time.Duration // firm/seek boundary, default 2s

	SoftRateDelta  float64       // default 0.03
	FirmRateDelta  float64       // default 0.08
	SoftRateWindow time.Duration // default 1s
	FirmRateWindow time.Duration // default 1.5s

	PlayInterval  time.Duration // leader loop while playing, default 400ms
	PauseInterval time.Duration // leader loop while paused, default 2s

	LatencySamples int // trimmed-mean window size, default 5

	// OnBufferingChange reports the nicknames currently buffering, every
	// time the set changes. Optional.
	OnBufferingChange func(active []string)

	Logger *slog.Logger

	now func() time.Time // test hook
}

func (c *Config) setDefaults() {
	if c.LowThreshold <= 0 {
		c.LowThreshold = 300 * time.Millisecond
	}
	if c.MidThreshold <= 0 {
		c.MidThreshold = 700 * time.Millisecond
	}
	if c.HardThreshold <= 0 {
		c.HardThreshold = 2 * time.Second
	}
	if c.SoftRateDelta == 0 {
		c.SoftRateDelta = 0.03
	}
	if c.FirmRateDelta == 0 {
		c.FirmRateDelta = 0.08
	}
	if c.SoftRateWindow <= 0 {
		c.SoftRateWindow = time.Second
	}
	if c.FirmRateWindow <= 0 {
		c.FirmRateWindow = 1500 * time.Millisecond
	}
	if c.PlayInterval <= 0 {
		c.PlayInterval = 400 * time.Millisecond
	}
	if c.PauseInterval <= 0 {
		c.PauseInterval = 2 * time.Second
	}
	if c.LatencySamples <= 0 {
		c.LatencySamples = 5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
}

// Engine reconciles the local player against leader sync samples.
type Engine struct {
	cfg    Config
	bus    Bus
	player Player
	log    *slog.Logger
	timers *sched.Scheduler

	mu             sync.Mutex
	leading        bool
	loop           *sched.Task
	loopPlaying    bool
	window         *latencyWindow
	rateRestore    *sched.Task
	applyingRemote bool
	buffering      map[string]string // peerID -> nickname
	autoPaused     bool
	closed         bool
}

// New creates an engine over the given bus and player.
func New(bus Bus, player Player, cfg Config) *Engine {
	cfg.setDefaults()
	return &Engine{
		cfg:       cfg,
		bus:       bus,
		player:    player,
		log:       cfg.Logger,
		timers:    sched.New(),
		window:    newLatencyWindow(cfg.LatencySamples),
		buffering: make(map[string]string),
	}
}

// Start begins leading if the local node is already the leader, otherwise
// announces readiness so the leader emits a state sample.
func (e *Engine) Start() {
	if e.bus.IsLeader() {
		e.OnLeaderChanged(e.bus.LocalID())
		return
	}
	e.OnLeaderChanged("")
}

// OnLeaderChanged starts the periodic broadcast loop on leadership gain and
// stops it on loss. A new follower announces readiness to pull one sample.
func (e *Engine) OnLeaderChanged(leaderID string) {
	isLeader := leaderID == e.bus.LocalID()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	was := e.leading
	e.leading = isLeader
	e.mu.Unlock()

	if isLeader && !was {
		e.log.Info("assumed sync leadership")
		e.restartLoop()
		e.emitSync()
		return
	}
	if !isLeader {
		e.stopLoop()
		if was {
			e.log.Info("dropped sync leadership")
		}
		if err := e.bus.Broadcast(protocol.TypeReady, nil); err != nil {
			e.log.Warn("announce ready", "error", err)
		}
	}
}

// Play starts local playback and broadcasts the discrete command.
func (e *Engine) Play() {
	e.player.Play()
	e.broadcastCommand(protocol.TypePlay)
	e.restartLoopIfLeading()
}

// Pause pauses local playback and broadcasts the discrete command.
func (e *Engine) Pause() {
	e.player.Pause()
	e.broadcastCommand(protocol.TypePause)
	e.restartLoopIfLeading()
}

// Seek jumps local playback and broadcasts the discrete command.
func (e *Engine) Seek(position float64) {
	e.player.SetPosition(position)
	e.broadcastCommand(protocol.TypeSeek)
}

// NotifyLocalPlay reports a play action detected on the player itself.
// Echo-suppressed while a remote command is being applied.
func (e *Engine) NotifyLocalPlay() {
	if e.isApplyingRemote() {
		return
	}
	e.broadcastCommand(protocol.TypePlay)
	e.restartLoopIfLeading()
}

// NotifyLocalPause reports a pause action detected on the player itself.
func (e *Engine) NotifyLocalPause() {
	if e.isApplyingRemote() {
		return
	}
	e.broadcastCommand(protocol.TypePause)
	e.restartLoopIfLeading()
}

// NotifyLocalSeek reports a seek detected on the player itself.
func (e *Engine) NotifyLocalSeek() {
	if e.isApplyingRemote() {
		return
	}
	e.broadcastCommand(protocol.TypeSeek)
}

func (e *Engine) broadcastCommand(msgType string) {
	err := e.bus.Broadcast(msgType, protocol.PlaybackCommand{Position: e.player.Position()})
	if err != nil {
		e.log.Warn("broadcast playback command", "type", msgType, "error", err)
	}
}

// SetBuffering reports the local player entering or leaving a buffering
// state to the room, and applies the same pause-for-slowest-peer rule
// locally.
func (e *Engine) SetBuffering(buffering bool) {
	err := e.bus.Broadcast(protocol.TypeBuffering, protocol.Buffering{
		Buffering: buffering,
		Nickname:  e.bus.Nickname(),
	})
	if err != nil {
		e.log.Warn("broadcast buffering", "error", err)
	}
	e.applyBuffering(e.bus.LocalID(), e.bus.Nickname(), buffering)
}

// HandleEnvelope consumes playback envelopes dispatched by the mesh.
func (e *Engine) HandleEnvelope(env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeSync:
		var sample protocol.Sync
		if err := env.DecodePayload(&sample); err != nil {
			e.log.Warn("malformed sync sample dropped", "error", err)
			return
		}
		e.handleSync(sample)
	case protocol.TypePlay:
		e.applyRemote(func() {
			e.syncCommandPosition(env)
			e.player.Play()
		})
	case protocol.TypePause:
		e.applyRemote(func() {
			e.player.Pause()
			e.syncCommandPosition(env)
		})
	case protocol.TypeSeek:
		var cmd protocol.PlaybackCommand
		if err := env.DecodePayload(&cmd); err != nil {
			e.log.Warn("malformed seek dropped", "error", err)
			return
		}
		e.applyRemote(func() { e.player.SetPosition(cmd.Position) })
	case protocol.TypeReady:
		if e.isLeading() {
			e.emitSync()
		}
	case protocol.TypeBuffering:
		var buf protocol.Buffering
		if err := env.DecodePayload(&buf); err != nil {
			e.log.Warn("malformed buffering dropped", "error", err)
			return
		}
		e.applyBuffering(env.From, buf.Nickname, buf.Buffering)
	}
}

// PeerGone clears any buffering claim a departed peer held, so the room is
// not stuck paused for someone who left.
func (e *Engine) PeerGone(peerID string) {
	e.applyBuffering(peerID, "", false)
}

func (e *Engine) syncCommandPosition(env protocol.Envelope) {
	var cmd protocol.PlaybackCommand
	if err := env.DecodePayload(&cmd); err != nil {
		return
	}
	e.player.SetPosition(cmd.Position)
}

// handleSync runs the three-tier drift correction against a leader sample.
func (e *Engine) handleSync(sample protocol.Sync) {
	if e.isLeading() {
		return
	}

	latency := float64(e.cfg.now().UnixMilli() - sample.SentAt)
	if latency < 0 {
		latency = 0
	}

	e.mu.Lock()
	e.window.push(latency)
	avg := e.window.trimmedMean()
	e.mu.Unlock()

	expected := sample.Position
	if sample.Playing {
		expected += (latency + avg/2) / 1000
	}

	// Reconcile the discrete play state first.
	if sample.Playing != e.player.Playing() {
		e.applyRemote(func() {
			if sample.Playing {
				e.player.Play()
			} else {
				e.player.Pause()
			}
		})
	}

	drift := e.player.Position() - expected
	driftDur := time.Duration(drift * float64(time.Second))
	action := e.cfg.ClassifyDrift(driftDur)

	switch action {
	case ActionNone:
		e.setRate(1.0)
	case ActionSoftNudge:
		e.nudge(drift, e.cfg.SoftRateDelta, e.cfg.SoftRateWindow)
	case ActionFirmNudge:
		e.nudge(drift, e.cfg.FirmRateDelta, e.cfg.FirmRateWindow)
	case ActionHardSeek:
		e.log.Debug("hard seek", "drift", driftDur, "expected", expected)
		e.applyRemote(func() {
			e.player.SetPosition(expected)
			e.player.SetRate(1.0)
		})
	}
}

// nudge applies a bounded playback-rate correction: ahead of the leader
// slows down, behind speeds up, restored to 1.0 after the window.
func (e *Engine) nudge(drift, delta float64, window time.Duration) {
	rate := 1.0 + delta
	if drift > 0 {
		rate = 1.0 - delta
	}
	e.player.SetRate(rate)

	e.mu.Lock()
	if e.rateRestore != nil {
		e.rateRestore.Stop()
	}
	e.rateRestore = e.timers.After(window, func() { e.player.SetRate(1.0) })
	e.mu.Unlock()
}

func (e *Engine) setRate(rate float64) {
	e.mu.Lock()
	if e.rateRestore != nil {
		e.rateRestore.Stop()
		e.rateRestore = nil
	}
	e.mu.Unlock()
	if e.player.Rate() != rate {
		e.player.SetRate(rate)
	}
}

// applyBuffering maintains the buffering set. The first entry into a
// non-empty set pauses local playback; the set emptying resumes it, but
// only if the pause was ours to begin with. Every node applies the same
// rule, so pause-for-slowest-peer needs no leader decision.
func (e *Engine) applyBuffering(peerID, nickname string, buffering bool) {
	e.mu.Lock()
	wasEmpty := len(e.buffering) == 0
	before := len(e.buffering)
	if buffering {
		e.buffering[peerID] = nickname
	} else {
		delete(e.buffering, peerID)
	}
	changed := len(e.buffering) != before
	nowEmpty := len(e.buffering) == 0
	active := make([]string, 0, len(e.buffering))
	for _, nick := range e.buffering {
		active = append(active, nick)
	}
	var pause, resume bool
	if wasEmpty && !nowEmpty && e.player.Playing() {
		e.autoPaused = true
		pause = true
	}
	if !wasEmpty && nowEmpty && e.autoPaused {
		e.autoPaused = false
		resume = true
	}
	e.mu.Unlock()

	if pause {
		e.log.Info("pausing for buffering peer", "peer", peerID)
		e.applyRemote(func() { e.player.Pause() })
	}
	if resume {
		e.log.Info("resuming, no peer buffering")
		e.applyRemote(func() { e.player.Play() })
	}
	if changed && e.cfg.OnBufferingChange != nil {
		sort.Strings(active)
		e.cfg.OnBufferingChange(active)
	}
}

// BufferingPeers returns the ids of peers currently buffering.
func (e *Engine) BufferingPeers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.buffering))
	for id := range e.buffering {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// emitSync broadcasts one leader sample.
func (e *Engine) emitSync() {
	err := e.bus.Broadcast(protocol.TypeSync, protocol.Sync{
		Playing:  e.player.Playing(),
		Position: e.player.Position(),
		SentAt:   e.cfg.now().UnixMilli(),
	})
	if err != nil {
		e.log.Warn("broadcast sync sample", "error", err)
	}
}

// restartLoop (re)starts the periodic leader broadcast with the interval
// matching the current play state: tight while playing, relaxed while
// paused.
func (e *Engine) restartLoop() {
	playing := e.player.Playing()
	interval := e.cfg.PauseInterval
	if playing {
		interval = e.cfg.PlayInterval
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if e.loop != nil {
		e.loop.Stop()
	}
	e.loopPlaying = playing
	e.loop = e.timers.Every(interval, e.loopTick)
	e.mu.Unlock()
}

func (e *Engine) loopTick() {
	e.emitSync()
	e.mu.Lock()
	adapt := e.loopPlaying != e.player.Playing() && e.leading
	e.mu.Unlock()
	if adapt {
		e.restartLoop()
	}
}

func (e *Engine) stopLoop() {
	e.mu.Lock()
	if e.loop != nil {
		e.loop.Stop()
		e.loop = nil
	}
	e.mu.Unlock()
}

func (e *Engine) restartLoopIfLeading() {
	if e.isLeading() {
		e.restartLoop()
	}
}

func (e *Engine) isLeading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leading
}

func (e *Engine) isApplyingRemote() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.applyingRemote
}

// applyRemote runs one player mutation with the echo-suppression flag set,
// so the change is not re-broadcast as a local user action.
func (e *Engine) applyRemote(fn func()) {
	e.mu.Lock()
	e.applyingRemote = true
	e.mu.Unlock()
	fn()
	e.mu.Lock()
	e.applyingRemote = false
	e.mu.Unlock()
}

// Close stops the loop and all pending rate restores.
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.loop = nil
	e.rateRestore = nil
	e.mu.Unlock()
	e.timers.StopAll()
}
