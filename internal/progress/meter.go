// Package progress tracks byte progress for seed transfers.
package progress

import (
	"fmt"
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of a transfer.
type Stats struct {
	BytesDone int64
	Total     int64
	RateBps   float64
	ETA       time.Duration
	Percent   float64
}

// Meter tracks completed bytes against a total and computes a smoothed
// transfer rate.
type Meter struct {
	mu        sync.Mutex
	total     int64
	done      int64
	startedAt time.Time
	lastAt    time.Time
	rateBps   float64
	alpha     float64
	now       func() time.Time
}

// NewMeter creates a meter for a transfer of totalBytes.
func NewMeter(totalBytes int64) *Meter {
	return newMeterWithNow(totalBytes, time.Now)
}

func newMeterWithNow(totalBytes int64, now func() time.Time) *Meter {
	start := now()
	return &Meter{
		total:     totalBytes,
		startedAt: start,
		lastAt:    start,
		alpha:     0.2,
		now:       now,
	}
}

// Add records n more completed bytes and updates the smoothed rate.
func (m *Meter) Add(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.done += int64(n)

	t := m.now()
	dt := t.Sub(m.lastAt).Seconds()
	if dt <= 0 {
		return
	}
	instant := float64(n) / dt
	if m.rateBps == 0 {
		m.rateBps = instant
	} else {
		m.rateBps = m.alpha*instant + (1-m.alpha)*m.rateBps
	}
	m.lastAt = t
}

// Snapshot returns the current progress.
func (m *Meter) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		BytesDone: m.done,
		Total:     m.total,
		RateBps:   m.rateBps,
	}
	if m.total > 0 {
		s.Percent = 100 * float64(m.done) / float64(m.total)
	}
	if m.rateBps > 0 && m.done < m.total {
		remaining := float64(m.total - m.done)
		s.ETA = time.Duration(remaining / m.rateBps * float64(time.Second))
	}
	return s
}

// FormatRate renders a byte rate as a human-readable string.
func FormatRate(bps float64) string {
	switch {
	case bps >= 1<<30:
		return fmt.Sprintf("%.1f GB/s", bps/(1<<30))
	case bps >= 1<<20:
		return fmt.Sprintf("%.1f MB/s", bps/(1<<20))
	case bps >= 1<<10:
		return fmt.Sprintf("%.1f KB/s", bps/(1<<10))
	default:
		return fmt.Sprintf("%.0f B/s", bps)
	}
}
