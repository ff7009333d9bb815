package syncengine

import (
	"sync"
	"time"
)

// Player is the local media player surface the engine drives. Positions are
// seconds; rate 1.0 is normal speed. Implementations must be safe for
// concurrent use.
type Player interface {
	Position() float64
	SetPosition(seconds float64)
	Playing() bool
	Play()
	Pause()
	Rate() float64
	SetRate(rate float64)
}

// SimPlayer is a wall-clock driven Player used in tests and the demo
// binary: position advances in real time scaled by the playback rate.
type SimPlayer struct {
	mu      sync.Mutex
	base    float64 // position at ref
	ref     time.Time
	playing bool
	rate    float64
	now     func() time.Time
}

var _ Player = (*SimPlayer)(nil)

// NewSimPlayer creates a paused player at position zero.
func NewSimPlayer() *SimPlayer {
	return &SimPlayer{rate: 1.0, now: time.Now}
}

func (p *SimPlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionLocked()
}

func (p *SimPlayer) positionLocked() float64 {
	if !p.playing {
		return p.base
	}
	return p.base + p.now().Sub(p.ref).Seconds()*p.rate
}

func (p *SimPlayer) SetPosition(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.base = seconds
	p.ref = p.now()
}

func (p *SimPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *SimPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		return
	}
	p.base = p.positionLocked()
	p.ref = p.now()
	p.playing = true
}

func (p *SimPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return
	}
	p.base = p.positionLocked()
	p.playing = false
}

func (p *SimPlayer) Rate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

func (p *SimPlayer) SetRate(rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Re-anchor so the rate change applies from now on.
	p.base = p.positionLocked()
	p.ref = p.now()
	p.rate = rate
}
