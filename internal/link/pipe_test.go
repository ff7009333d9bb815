package link

import (
	"sync"
	"testing"
	"time"
)

func TestPipe_DeliversInOrder(t *testing.T) {
	a, b := NewPipePair()
	defer a.Destroy()

	var mu sync.Mutex
	var got []string
	b.Bind(Handlers{Data: func(data []byte) {
		mu.Lock()
		got = append(got, string(data))
		mu.Unlock()
	}})

	for _, msg := range []string{"one", "two", "three"} {
		if err := a.Send([]byte(msg)); err != nil {
			t.Fatalf("Send(%s) failed: %v", msg, err)
		}
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	})

	mu.Lock()
	defer mu.Unlock()
	want := []string{"one", "two", "three"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("message %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestPipe_QueuesBeforeBind(t *testing.T) {
	a, b := NewPipePair()
	defer a.Destroy()

	if err := a.Send([]byte("early")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	got := make(chan string, 1)
	b.Bind(Handlers{Data: func(data []byte) { got <- string(data) }})

	select {
	case msg := <-got:
		if msg != "early" {
			t.Errorf("got %s, want early", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("message sent before Bind was not delivered")
	}
}

func TestPipe_DestroyClosesBothEnds(t *testing.T) {
	a, b := NewPipePair()

	aClosed := make(chan struct{})
	bClosed := make(chan struct{})
	a.Bind(Handlers{Close: func() { close(aClosed) }})
	b.Bind(Handlers{Close: func() { close(bClosed) }})

	if err := a.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}

	for name, ch := range map[string]chan struct{}{"a": aClosed, "b": bClosed} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("close handler for %s did not fire", name)
		}
	}

	if err := a.Send([]byte("x")); err != ErrClosed {
		t.Errorf("Send after Destroy = %v, want ErrClosed", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
