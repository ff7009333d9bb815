package mesh

import (
	"math/rand"
	"testing"
)

func TestElect_HighestPriorityWins(t *testing.T) {
	cands := []Candidate{
		{ID: "a", Priority: 1},
		{ID: "b", Priority: 9},
		{ID: "c", Priority: 4},
	}
	if got := Elect(cands); got != "b" {
		t.Errorf("Elect = %s, want b", got)
	}
}

func TestElect_TieBrokenByID(t *testing.T) {
	cands := []Candidate{
		{ID: "aaa", Priority: 5},
		{ID: "zzz", Priority: 5},
		{ID: "mmm", Priority: 5},
	}
	if got := Elect(cands); got != "zzz" {
		t.Errorf("Elect = %s, want zzz", got)
	}
}

func TestElect_Empty(t *testing.T) {
	if got := Elect(nil); got != "" {
		t.Errorf("Elect(nil) = %q, want empty", got)
	}
}

func TestElect_InvariantUnderReordering(t *testing.T) {
	cands := []Candidate{
		{ID: "p1", Priority: 3},
		{ID: "p2", Priority: 7},
		{ID: "p3", Priority: 7},
		{ID: "p4", Priority: 2},
		{ID: "p5", Priority: 5},
	}
	want := Elect(cands)

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 50; i++ {
		shuffled := make([]Candidate, len(cands))
		copy(shuffled, cands)
		rng.Shuffle(len(shuffled), func(a, b int) {
			shuffled[a], shuffled[b] = shuffled[b], shuffled[a]
		})
		if got := Elect(shuffled); got != want {
			t.Fatalf("Elect varied under reordering: got %s, want %s (order %v)", got, want, shuffled)
		}
	}
}

func TestElect_NegativeAndZeroPriorities(t *testing.T) {
	cands := []Candidate{
		{ID: "a", Priority: -3},
		{ID: "b", Priority: 0},
	}
	if got := Elect(cands); got != "b" {
		t.Errorf("Elect = %s, want b", got)
	}
}
