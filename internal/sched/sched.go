// Package sched provides a small registry of cancellable timer tasks.
//
// Every timer the core runs (per-peer heartbeats, reconnection grace
// windows, the leader sync loop, vote deadlines) is created through one
// Scheduler instance per component, so teardown is a single StopAll call
// instead of timer handles scattered across structs.
package sched

import (
	"sync"
	"time"
)

// Scheduler tracks live tasks and stops them all on teardown.
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[*Task]struct{}
	stopped bool
}

// Task is a handle to a scheduled one-shot or periodic callback.
type Task struct {
	s *Scheduler

	mu     sync.Mutex
	cancel func()
	done   bool
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{tasks: make(map[*Task]struct{})}
}

// After schedules fn to run once after d. Returns nil if the scheduler is
// already stopped.
func (s *Scheduler) After(d time.Duration, fn func()) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}

	t := &Task{s: s}
	timer := time.AfterFunc(d, func() {
		t.finish()
		fn()
	})
	t.cancel = func() { timer.Stop() }
	s.tasks[t] = struct{}{}
	return t
}

// Every schedules fn to run repeatedly at interval d until the task or the
// scheduler is stopped. Returns nil if the scheduler is already stopped.
func (s *Scheduler) Every(d time.Duration, fn func()) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}

	t := &Task{s: s}
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	t.cancel = func() {
		ticker.Stop()
		close(done)
	}
	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	s.tasks[t] = struct{}{}
	return t
}

// Stop cancels the task. Safe to call on a nil or already-stopped task,
// and safe to call from inside the task's own callback.
func (t *Task) Stop() {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.s.remove(t)
}

// finish marks a one-shot task complete once it has fired.
func (t *Task) finish() {
	t.mu.Lock()
	t.done = true
	t.mu.Unlock()
	t.s.remove(t)
}

func (s *Scheduler) remove(t *Task) {
	s.mu.Lock()
	delete(s.tasks, t)
	s.mu.Unlock()
}

// StopAll cancels every live task and rejects new ones.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	live := make([]*Task, 0, len(s.tasks))
	for t := range s.tasks {
		live = append(live, t)
	}
	s.tasks = make(map[*Task]struct{})
	s.mu.Unlock()

	for _, t := range live {
		t.mu.Lock()
		done := t.done
		t.done = true
		cancel := t.cancel
		t.mu.Unlock()
		if !done && cancel != nil {
			cancel()
		}
	}
}

// Len reports the number of live tasks. Used by teardown tests.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
