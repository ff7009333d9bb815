package mesh

// Candidate is one peer considered for leadership.
type Candidate struct {
	ID       string
	Priority int
}

// Elect picks the leader from the candidate set: highest priority wins,
// ties broken by the greater ID so every peer reaches the same answer
// regardless of the order candidates were learned in. Returns "" for an
// empty set.
func Elect(cands []Candidate) string {
	var best Candidate
	found := false
	for _, c := range cands {
		if !found {
			best = c
			found = true
			continue
		}
		if c.Priority > best.Priority || (c.Priority == best.Priority && c.ID > best.ID) {
			best = c
		}
	}
	if !found {
		return ""
	}
	return best.ID
}
