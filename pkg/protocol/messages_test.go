package protocol

import "testing"

func TestPropagating(t *testing.T) {
	relayed := []string{
		TypeChat, TypePlay, TypePause, TypeSeek, TypeSync, TypeBuffering,
		TypeMediaLoaded, TypeFileUploaded, TypeChangeRequest, TypeVote,
	}
	for _, mt := range relayed {
		if !Propagating(mt) {
			t.Errorf("Propagating(%s) = false, want true", mt)
		}
	}

	linkLocal := []string{TypeHandshake, TypePing, TypePong, TypeLeader, TypeSignalJoin, "unknown"}
	for _, mt := range linkLocal {
		if Propagating(mt) {
			t.Errorf("Propagating(%s) = true, want false", mt)
		}
	}
}
