package peers

import (
	"sync"
	"testing"
	"time"

	"github.com/driftroom/driftroom/pkg/protocol"
)

func member(peerID, connID string) Member {
	return Member{
		Peer:   protocol.SignalPeer{PeerID: peerID, Nickname: "nick-" + peerID},
		ConnID: connID,
	}
}

type recorder struct {
	mu   sync.Mutex
	envs []protocol.Envelope
}

func (r *recorder) send(env protocol.Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envs = append(r.envs, env)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.envs)
}

func (r *recorder) waitCount(t *testing.T, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if r.count() >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("received %d envelopes, want %d", r.count(), want)
}

func TestHub_AddAndRemove(t *testing.T) {
	hub := NewHub()
	rec := &recorder{}

	remove := hub.Add("room1", member("peer1", "conn1"), rec.send)

	members := hub.List("room1")
	if len(members) != 1 {
		t.Fatalf("members = %d, want 1", len(members))
	}
	if members[0].PeerID != "peer1" {
		t.Errorf("PeerID = %s, want peer1", members[0].PeerID)
	}
	if members[0].Nickname != "nick-peer1" {
		t.Errorf("Nickname = %s, want nick-peer1", members[0].Nickname)
	}

	remove()

	if members := hub.List("room1"); len(members) != 0 {
		t.Errorf("members after remove = %d, want 0", len(members))
	}
}

func TestHub_RoomsAreIsolated(t *testing.T) {
	hub := NewHub()
	rec := &recorder{}

	hub.Add("room1", member("peer1", "conn1"), rec.send)
	hub.Add("room1", member("peer2", "conn2"), rec.send)
	hub.Add("room2", member("peer3", "conn3"), rec.send)

	if n := len(hub.List("room1")); n != 2 {
		t.Errorf("room1 members = %d, want 2", n)
	}
	if n := len(hub.List("room2")); n != 1 {
		t.Errorf("room2 members = %d, want 1", n)
	}
	if n := len(hub.List("missing")); n != 0 {
		t.Errorf("missing room members = %d, want 0", n)
	}
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub()
	rec1 := &recorder{}
	rec2 := &recorder{}
	rec3 := &recorder{}

	hub.Add("room1", member("peer1", "conn1"), rec1.send)
	hub.Add("room1", member("peer2", "conn2"), rec2.send)
	hub.Add("room2", member("peer3", "conn3"), rec3.send)

	env, err := protocol.NewEnvelope(protocol.TypeSignalJoined, "server", protocol.SignalJoined{
		Peer: protocol.SignalPeer{PeerID: "peer9"},
	})
	if err != nil {
		t.Fatal(err)
	}
	hub.Broadcast("room1", env)

	rec1.waitCount(t, 1)
	rec2.waitCount(t, 1)
	time.Sleep(20 * time.Millisecond)
	if n := rec3.count(); n != 0 {
		t.Errorf("other room received %d envelopes, want 0", n)
	}
}

func TestHub_BroadcastExcept(t *testing.T) {
	hub := NewHub()
	rec1 := &recorder{}
	rec2 := &recorder{}

	hub.Add("room1", member("peer1", "conn1"), rec1.send)
	hub.Add("room1", member("peer2", "conn2"), rec2.send)

	env, err := protocol.NewEnvelope(protocol.TypeSignalLeft, "server", protocol.SignalLeft{PeerID: "peer1"})
	if err != nil {
		t.Fatal(err)
	}
	hub.BroadcastExcept("room1", "peer1", env)

	rec2.waitCount(t, 1)
	time.Sleep(20 * time.Millisecond)
	if n := rec1.count(); n != 0 {
		t.Errorf("excluded peer received %d envelopes, want 0", n)
	}
}

func TestHub_SendTo(t *testing.T) {
	hub := NewHub()
	rec1 := &recorder{}
	rec2 := &recorder{}

	hub.Add("room1", member("peer1", "conn1"), rec1.send)
	hub.Add("room1", member("peer2", "conn2"), rec2.send)

	env, err := protocol.NewEnvelope(protocol.TypeSignalRelay, "peer1", protocol.SignalRelay{To: "peer2", Kind: "offer", Blob: "x"})
	if err != nil {
		t.Fatal(err)
	}

	if !hub.SendTo("room1", "peer2", env) {
		t.Fatal("SendTo returned false for a present peer")
	}
	rec2.waitCount(t, 1)
	time.Sleep(20 * time.Millisecond)
	if n := rec1.count(); n != 0 {
		t.Errorf("non-target received %d envelopes, want 0", n)
	}

	if hub.SendTo("room1", "ghost", env) {
		t.Error("SendTo returned true for an absent peer")
	}
}

func TestHub_LastWriteWins(t *testing.T) {
	hub := NewHub()
	old := &recorder{}
	fresh := &recorder{}

	hub.Add("room1", member("peer1", "conn-old"), old.send)
	hub.Add("room1", member("peer1", "conn-new"), fresh.send)

	if n := len(hub.List("room1")); n != 1 {
		t.Fatalf("members after reconnect = %d, want 1", n)
	}

	env, err := protocol.NewEnvelope(protocol.TypeSignalRelay, "x", protocol.SignalRelay{To: "peer1"})
	if err != nil {
		t.Fatal(err)
	}
	hub.SendTo("room1", "peer1", env)

	fresh.waitCount(t, 1)
	time.Sleep(20 * time.Millisecond)
	if n := old.count(); n != 0 {
		t.Errorf("stale connection received %d envelopes, want 0", n)
	}
}
