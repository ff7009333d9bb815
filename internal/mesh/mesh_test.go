package mesh

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/driftroom/driftroom/internal/link"
	"github.com/driftroom/driftroom/pkg/protocol"
)

// recordingEvents captures mesh events for assertions.
type recordingEvents struct {
	NopEvents
	mu           sync.Mutex
	joined       []Peer
	left         []Peer
	statuses     []Peer
	leaders      []string
	chats        []string
	disconnected int
}

func (r *recordingEvents) PeerJoined(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined = append(r.joined, p)
}

func (r *recordingEvents) PeerLeft(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.left = append(r.left, p)
}

func (r *recordingEvents) PeerStatus(p Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, p)
}

func (r *recordingEvents) LeaderChanged(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaders = append(r.leaders, id)
}

func (r *recordingEvents) ChatMessage(_, _, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = append(r.chats, text)
}

func (r *recordingEvents) Disconnected() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected++
}

func (r *recordingEvents) joinedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.joined)
}

func (r *recordingEvents) leftCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.left)
}

func (r *recordingEvents) currentLeader() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.leaders) == 0 {
		return ""
	}
	return r.leaders[len(r.leaders)-1]
}

func newTestMesh(id string, priority int, events Events) *Mesh {
	return New(Config{
		RoomCode:          "TESTROOM",
		LocalID:           id,
		Nickname:          "nick-" + id,
		Priority:          priority,
		HeartbeatInterval: 50 * time.Millisecond,
		GraceWindow:       100 * time.Millisecond,
	}, events)
}

// connect links two meshes with an in-memory pipe pair.
func connect(a, b *Mesh) {
	la, lb := link.NewPipePair()
	a.AttachLink(la)
	b.AttachLink(lb)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestHandshake_CreatesPeers(t *testing.T) {
	evA := &recordingEvents{}
	evB := &recordingEvents{}
	a := newTestMesh("aaa", 1, evA)
	b := newTestMesh("bbb", 2, evB)
	defer a.Close()
	defer b.Close()

	connect(a, b)

	waitFor(t, func() bool { return evA.joinedCount() == 1 && evB.joinedCount() == 1 })

	peersA := a.Peers()
	if len(peersA) != 1 || peersA[0].ID != "bbb" || peersA[0].Nickname != "nick-bbb" {
		t.Errorf("a.Peers() = %+v, want one peer bbb", peersA)
	}
	if peersA[0].Status != StatusConnected {
		t.Errorf("peer status = %s, want connected", peersA[0].Status)
	}
}

func TestElection_ConvergesAcrossMesh(t *testing.T) {
	evA := &recordingEvents{}
	evB := &recordingEvents{}
	evC := &recordingEvents{}
	a := newTestMesh("aaa", 1, evA)
	b := newTestMesh("bbb", 9, evB)
	c := newTestMesh("ccc", 4, evC)
	defer a.Close()
	defer b.Close()
	defer c.Close()

	connect(a, b)
	connect(a, c)
	connect(b, c)

	waitFor(t, func() bool {
		return a.LeaderID() == "bbb" && b.LeaderID() == "bbb" && c.LeaderID() == "bbb"
	})

	if !b.IsLeader() {
		t.Error("b should consider itself leader")
	}
	if a.IsLeader() || c.IsLeader() {
		t.Error("followers should not consider themselves leader")
	}
	if got := evA.currentLeader(); got != "bbb" {
		t.Errorf("a last leader event = %s, want bbb", got)
	}
}

func TestBroadcast_ReachesAllPeersExactlyOnce(t *testing.T) {
	a := newTestMesh("aaa", 1, nil)
	b := newTestMesh("bbb", 2, nil)
	c := newTestMesh("ccc", 3, nil)
	defer a.Close()
	defer b.Close()
	defer c.Close()

	var mu sync.Mutex
	counts := map[string]int{}
	for id, m := range map[string]*Mesh{"aaa": a, "bbb": b, "ccc": c} {
		id := id
		m.Subscribe(func(env protocol.Envelope) {
			if env.Type == protocol.TypeSync {
				mu.Lock()
				counts[id]++
				mu.Unlock()
			}
		})
	}

	connect(a, b)
	connect(a, c)
	connect(b, c)
	waitFor(t, func() bool {
		return len(a.ConnectedPeerIDs()) == 2 && len(b.ConnectedPeerIDs()) == 2 && len(c.ConnectedPeerIDs()) == 2
	})

	if err := a.Broadcast(protocol.TypeSync, protocol.Sync{Playing: true, Position: 1}); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return counts["bbb"] == 1 && counts["ccc"] == 1
	})

	// Let any duplicate relays settle, then confirm exactly-once delivery
	// and that the sender never got its own message back.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if counts["aaa"] != 0 {
		t.Errorf("sender received its own broadcast %d times", counts["aaa"])
	}
	if counts["bbb"] != 1 || counts["ccc"] != 1 {
		t.Errorf("counts = %v, want exactly one delivery per receiver", counts)
	}
}

func TestRelay_BridgesMissingLink(t *testing.T) {
	// B and C are not directly linked and never exchanged handshakes;
	// chat and vote traffic still converges through A's relay.
	evC := &recordingEvents{}
	a := newTestMesh("aaa", 1, nil)
	b := newTestMesh("bbb", 2, nil)
	c := newTestMesh("ccc", 3, evC)
	defer a.Close()
	defer b.Close()
	defer c.Close()

	votes := make(chan protocol.Envelope, 4)
	c.Subscribe(func(env protocol.Envelope) {
		if env.Type == protocol.TypeVote {
			votes <- env
		}
	})

	connect(a, b)
	connect(a, c)
	waitFor(t, func() bool { return len(a.ConnectedPeerIDs()) == 2 })

	if err := b.SendChat("over the bridge"); err != nil {
		t.Fatalf("SendChat failed: %v", err)
	}
	if err := b.Broadcast(protocol.TypeVote, protocol.Vote{RequestID: "r1", Accept: true}); err != nil {
		t.Fatalf("Broadcast failed: %v", err)
	}

	waitFor(t, func() bool {
		evC.mu.Lock()
		defer evC.mu.Unlock()
		return len(evC.chats) == 1
	})

	select {
	case env := <-votes:
		if env.From != "bbb" {
			t.Errorf("relayed envelope From = %s, want bbb (original sender preserved)", env.From)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("relayed vote never reached c")
	}
}

func TestChat_PassThrough(t *testing.T) {
	evB := &recordingEvents{}
	a := newTestMesh("aaa", 1, nil)
	b := newTestMesh("bbb", 2, evB)
	defer a.Close()
	defer b.Close()

	connect(a, b)
	waitFor(t, func() bool { return len(a.ConnectedPeerIDs()) == 1 })

	if err := a.SendChat("hello room"); err != nil {
		t.Fatalf("SendChat failed: %v", err)
	}

	waitFor(t, func() bool {
		evB.mu.Lock()
		defer evB.mu.Unlock()
		return len(evB.chats) == 1 && evB.chats[0] == "hello room"
	})
}

func TestReconnect_WithinGraceWindowRestoresSilently(t *testing.T) {
	evA := &recordingEvents{}
	a := newTestMesh("aaa", 1, evA)
	b := newTestMesh("bbb", 2, nil)
	defer a.Close()
	defer b.Close()

	la, lb := link.NewPipePair()
	a.AttachLink(la)
	b.AttachLink(lb)
	waitFor(t, func() bool { return evA.joinedCount() == 1 })

	// Drop the link, then re-establish before the 100ms grace window fires.
	la.Destroy()
	waitFor(t, func() bool {
		for _, p := range a.Peers() {
			if p.ID == "bbb" && p.Status == StatusReconnecting {
				return true
			}
		}
		return false
	})

	connect(a, b)
	waitFor(t, func() bool {
		for _, p := range a.Peers() {
			if p.ID == "bbb" && p.Status == StatusConnected {
				return true
			}
		}
		return false
	})

	// Wait out the original grace deadline: no peer-left may fire.
	time.Sleep(200 * time.Millisecond)
	if evA.leftCount() != 0 {
		t.Errorf("peer-left fired %d times after silent restore, want 0", evA.leftCount())
	}
	if evA.joinedCount() != 1 {
		t.Errorf("peer-joined fired %d times, want 1 (restore must not re-join)", evA.joinedCount())
	}
}

func TestReconnect_GraceExpiryFiresOnePeerLeft(t *testing.T) {
	evA := &recordingEvents{}
	a := newTestMesh("aaa", 5, evA)
	b := newTestMesh("bbb", 9, nil)
	defer a.Close()
	defer b.Close()

	la, _ := func() (*link.Pipe, *link.Pipe) {
		p, q := link.NewPipePair()
		a.AttachLink(p)
		b.AttachLink(q)
		return p, q
	}()
	waitFor(t, func() bool { return evA.joinedCount() == 1 })
	waitFor(t, func() bool { return a.LeaderID() == "bbb" })

	la.Destroy()
	waitFor(t, func() bool { return evA.leftCount() == 1 })

	time.Sleep(150 * time.Millisecond)
	if evA.leftCount() != 1 {
		t.Errorf("peer-left fired %d times, want exactly 1", evA.leftCount())
	}

	// The departed peer was the leader; election must fall back to us.
	if a.LeaderID() != "aaa" {
		t.Errorf("leader after losing bbb = %s, want aaa", a.LeaderID())
	}
}

func TestMessageBeforeHandshakeIgnored(t *testing.T) {
	a := newTestMesh("aaa", 1, nil)
	defer a.Close()

	received := make(chan protocol.Envelope, 1)
	a.Subscribe(func(env protocol.Envelope) { received <- env })

	la, lb := link.NewPipePair()
	a.AttachLink(la)
	lb.Bind(link.Handlers{})

	env, err := protocol.NewEnvelope(protocol.TypeSync, "stranger", protocol.Sync{Position: 5})
	if err != nil {
		t.Fatal(err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatal(err)
	}
	if err := lb.Send(data); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case env := <-received:
		t.Errorf("envelope from unknown peer dispatched: %+v", env)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMalformedEnvelopeSurvives(t *testing.T) {
	evA := &recordingEvents{}
	a := newTestMesh("aaa", 1, evA)
	b := newTestMesh("bbb", 2, nil)
	defer a.Close()
	defer b.Close()

	la, lb := link.NewPipePair()
	a.AttachLink(la)

	// Garbage bytes precede the handshake; the link must survive them.
	if err := lb.Send([]byte("{not json")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	b.AttachLink(lb)

	waitFor(t, func() bool { return evA.joinedCount() == 1 })
}

func TestClose_TearsDownEverything(t *testing.T) {
	evA := &recordingEvents{}
	a := newTestMesh("aaa", 1, evA)
	b := newTestMesh("bbb", 2, nil)
	defer b.Close()

	connect(a, b)
	waitFor(t, func() bool { return evA.joinedCount() == 1 })

	a.Close()
	a.Close() // idempotent

	if got := len(a.Peers()); got != 0 {
		t.Errorf("peers after Close = %d, want 0", got)
	}
	evA.mu.Lock()
	defer evA.mu.Unlock()
	if evA.disconnected != 1 {
		t.Errorf("Disconnected fired %d times, want 1", evA.disconnected)
	}
}
