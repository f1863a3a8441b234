package timeoutmgr

import (
	"sync"
	"testing"
	"time"

	"github.com/rajgiridhar1995/kronos/internal/task"
)

// fakeTimer is a no-op Timer; fakeClock reports a fixed Now and runs every
// AfterFunc callback at once on a new goroutine.
type fakeTimer struct {
	stopped bool
}

func (f *fakeTimer) Stop() bool {
	already := f.stopped
	f.stopped = true
	return !already
}

type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func (c *fakeClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc runs f immediately on a goroutine, as if the duration had
// already elapsed; tests that need a timer that has not yet fired use
// blockingClock below instead.
func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	go f()
	return &fakeTimer{}
}

func TestArmFiresImmediatelyWhenDeadlinePast(t *testing.T) {
	clock := &fakeClock{now: 1000}
	fired := make(chan task.ID, 1)
	m := New(clock, func(id task.ID) { fired <- id }, nil)

	tk := &task.Task{ID: task.ID{Name: "t"}, SubmittedAt: 0, MaxExecutionTimeMs: 500}
	m.Arm(tk)

	select {
	case id := <-fired:
		if id != tk.ID {
			t.Fatalf("unexpected id fired: %v", id)
		}
	case <-time.After(time.Second):
		t.Fatal("expected immediate synchronous fire for a past deadline")
	}
}

func TestArmIsFirstArmWins(t *testing.T) {
	clock := &blockingClock{}
	calls := 0
	var mu sync.Mutex
	m := New(clock, func(id task.ID) { mu.Lock(); calls++; mu.Unlock() }, nil)

	tk := &task.Task{ID: task.ID{Name: "t"}, SubmittedAt: 0, MaxExecutionTimeMs: 100000}
	m.Arm(tk)
	if !m.Pending(tk.ID) {
		t.Fatalf("expected timer to be pending after first arm")
	}
	m.Arm(tk) // should be ignored; re-arming must not replace the pending timer
	if !m.Pending(tk.ID) {
		t.Fatalf("expected timer to remain pending after redundant arm")
	}
}

func TestCancelIsNoOpWhenAlreadyFiredOrMissing(t *testing.T) {
	clock := &fakeClock{now: 1000}
	m := New(clock, func(task.ID) {}, nil)

	// Never armed: Cancel must tolerate this.
	m.Cancel(task.ID{Name: "never-armed"})

	tk := &task.Task{ID: task.ID{Name: "t"}, SubmittedAt: 0, MaxExecutionTimeMs: 500}
	m.Arm(tk) // fires immediately since deadline is already past
	time.Sleep(10 * time.Millisecond)
	m.Cancel(tk.ID) // already fired and removed itself; must be a no-op, not panic
	if m.Pending(tk.ID) {
		t.Fatalf("expected no pending timer after an already-fired task")
	}
}

// blockingClock never invokes the AfterFunc callback, simulating a timer
// that has not yet elapsed, so Cancel has something live to remove.
type blockingClock struct{}

func (blockingClock) Now() int64 { return 0 }
func (blockingClock) AfterFunc(d time.Duration, f func()) Timer {
	return &fakeTimer{}
}

func TestCancelRemovesPendingTimer(t *testing.T) {
	m := New(&blockingClock{}, func(task.ID) {}, nil)

	tk := &task.Task{ID: task.ID{Name: "t"}, SubmittedAt: 0, MaxExecutionTimeMs: 100000}
	m.Arm(tk)
	if !m.Pending(tk.ID) {
		t.Fatalf("expected pending timer before cancel")
	}
	m.Cancel(tk.ID)
	if m.Pending(tk.ID) {
		t.Fatalf("expected timer removed after cancel")
	}
}
