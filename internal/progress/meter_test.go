package progress

import (
	"testing"
	"time"
)

func TestMeter_Snapshot(t *testing.T) {
	current := time.Unix(1000, 0)
	now := func() time.Time { return current }
	m := newMeterWithNow(1000, now)

	current = current.Add(time.Second)
	m.Add(100)

	s := m.Snapshot()
	if s.BytesDone != 100 {
		t.Errorf("BytesDone = %d, want 100", s.BytesDone)
	}
	if s.Percent != 10 {
		t.Errorf("Percent = %v, want 10", s.Percent)
	}
	if s.RateBps != 100 {
		t.Errorf("RateBps = %v, want 100", s.RateBps)
	}
	// 900 bytes left at 100 B/s.
	if s.ETA != 9*time.Second {
		t.Errorf("ETA = %v, want 9s", s.ETA)
	}
}

func TestMeter_RateSmoothing(t *testing.T) {
	current := time.Unix(1000, 0)
	now := func() time.Time { return current }
	m := newMeterWithNow(0, now)

	current = current.Add(time.Second)
	m.Add(100)
	current = current.Add(time.Second)
	m.Add(1000)

	s := m.Snapshot()
	// 0.2*1000 + 0.8*100.
	if want := 280.0; s.RateBps != want {
		t.Errorf("RateBps = %v, want %v", s.RateBps, want)
	}
}

func TestMeter_CompleteHasNoETA(t *testing.T) {
	current := time.Unix(1000, 0)
	m := newMeterWithNow(100, func() time.Time { return current })
	current = current.Add(time.Second)
	m.Add(100)

	if s := m.Snapshot(); s.ETA != 0 {
		t.Errorf("ETA = %v at completion, want 0", s.ETA)
	}
}

func TestFormatRate(t *testing.T) {
	tests := []struct {
		bps  float64
		want string
	}{
		{500, "500 B/s"},
		{2048, "2.0 KB/s"},
		{3 << 20, "3.0 MB/s"},
		{1 << 30, "1.0 GB/s"},
	}
	for _, tt := range tests {
		if got := FormatRate(tt.bps); got != tt.want {
			t.Errorf("FormatRate(%v) = %q, want %q", tt.bps, got, tt.want)
		}
	}
}
