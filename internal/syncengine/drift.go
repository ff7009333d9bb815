package syncengine

import "time"

// DriftAction is the correction chosen for an observed drift magnitude.
type DriftAction int

const (
	// ActionNone: drift is inside the dead zone, rate resets to 1.0.
	ActionNone DriftAction = iota
	// ActionSoftNudge: small rate nudge for a bounded window.
	ActionSoftNudge
	// ActionFirmNudge: larger rate nudge for a longer window.
	ActionFirmNudge
	// ActionHardSeek: jump straight to the expected position.
	ActionHardSeek
)

func (a DriftAction) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionSoftNudge:
		return "soft"
	case ActionFirmNudge:
		return "firm"
	case ActionHardSeek:
		return "seek"
	default:
		return "unknown"
	}
}

// ClassifyDrift maps an absolute drift to the three-tier correction policy.
// Boundaries are half-open: a drift exactly at a threshold falls into the
// stronger tier.
func (c Config) ClassifyDrift(drift time.Duration) DriftAction {
	if drift < 0 {
		drift = -drift
	}
	switch {
	case drift < c.LowThreshold:
		return ActionNone
	case drift < c.MidThreshold:
		return ActionSoftNudge
	case drift < c.HardThreshold:
		return ActionFirmNudge
	default:
		return ActionHardSeek
	}
}

// latencyWindow keeps the last n one-way latency samples (milliseconds) and
// produces a trimmed mean that drops the single largest and smallest sample
// to resist jitter outliers.
type latencyWindow struct {
	samples []float64
	cap     int
}

func newLatencyWindow(cap int) *latencyWindow {
	return &latencyWindow{cap: cap}
}

func (w *latencyWindow) push(ms float64) {
	w.samples = append(w.samples, ms)
	if len(w.samples) > w.cap {
		w.samples = w.samples[len(w.samples)-w.cap:]
	}
}

func (w *latencyWindow) trimmedMean() float64 {
	n := len(w.samples)
	if n == 0 {
		return 0
	}
	var sum, min, max float64
	min = w.samples[0]
	max = w.samples[0]
	for _, s := range w.samples {
		sum += s
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	if n <= 2 {
		return sum / float64(n)
	}
	return (sum - min - max) / float64(n-2)
}
