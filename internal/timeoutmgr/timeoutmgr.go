// Package timeoutmgr tracks one pending deadline timer per active task,
// first-arm-wins, firing a single FAILED(TIMED_OUT) status update back into
// the scheduler.
package timeoutmgr

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/rajgiridhar1995/kronos/internal/task"
)

// FireFunc is called when a task's deadline elapses. The scheduler supplies
// a closure around its own updateStatus so firing is exactly one call.
type FireFunc func(id task.ID)

// Clock abstracts time so tests can control deadline arithmetic without
// sleeping. Production code uses the real clock below.
type Clock interface {
	Now() int64
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is the minimal surface of time.Timer this package needs.
type Timer interface {
	Stop() bool
}

// TimeoutManager tracks one pending timer per active task id.
type TimeoutManager struct {
	mu      sync.Mutex
	pending map[task.ID]Timer
	clock   Clock
	fire    FireFunc

	fired metric.Int64Counter
}

// New constructs a TimeoutManager. meter may be nil in tests.
func New(clock Clock, fire FireFunc, meter metric.Meter) *TimeoutManager {
	if clock == nil {
		clock = RealClock{}
	}
	m := &TimeoutManager{
		pending: make(map[task.ID]Timer),
		clock:   clock,
		fire:    fire,
	}
	if meter != nil {
		m.fired, _ = meter.Int64Counter("kronos_timeouts_fired_total")
	}
	return m
}

// Arm schedules t's deadline timer, computed as
// t.SubmittedAt + t.MaxExecutionTimeMs. A task that already has a pending
// timer is left untouched (first-arm-wins). A deadline already in the past
// fires synchronously on the calling goroutine — callers arming timers
// during startup recovery must expect this.
func (m *TimeoutManager) Arm(t *task.Task) {
	m.mu.Lock()
	if _, exists := m.pending[t.ID]; exists {
		m.mu.Unlock()
		return
	}
	deadline := t.SubmittedAt + t.MaxExecutionTimeMs
	now := m.clock.Now()
	if deadline <= now {
		m.mu.Unlock()
		m.runFire(t.ID)
		return
	}
	id := t.ID
	timer := m.clock.AfterFunc(time.Duration(deadline-now)*time.Millisecond, func() {
		m.mu.Lock()
		if _, ok := m.pending[id]; !ok {
			m.mu.Unlock()
			return
		}
		delete(m.pending, id)
		m.mu.Unlock()
		m.runFire(id)
	})
	m.pending[id] = timer
	m.mu.Unlock()
}

func (m *TimeoutManager) runFire(id task.ID) {
	if m.fired != nil {
		m.fired.Add(context.Background(), 1)
	}
	if m.fire != nil {
		m.fire(id)
	}
}

// Cancel removes the pending timer for id, if any. Best-effort: a timer
// whose callback already started running has already removed itself from
// pending, so Cancel racing it is a harmless no-op — the in-flight
// updateStatus it issues must itself tolerate firing against an
// already-terminal task.
func (m *TimeoutManager) Cancel(id task.ID) {
	m.mu.Lock()
	timer, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()
	if ok {
		timer.Stop()
	}
}

// CancelAll stops every currently pending timer. Used on scheduler shutdown;
// like Cancel, it is best-effort against timers whose callback has already
// started running.
func (m *TimeoutManager) CancelAll() {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[task.ID]Timer)
	m.mu.Unlock()
	for _, timer := range pending {
		timer.Stop()
	}
}

// Count returns the number of currently armed timers. Used by the scheduler's
// stats introspection endpoint.
func (m *TimeoutManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Pending reports whether id currently has an armed timer. Test/diagnostic use.
func (m *TimeoutManager) Pending(id task.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[id]
	return ok
}

// RealClock is the production Clock backed by time.Now and time.AfterFunc.
type RealClock struct{}

func (RealClock) Now() int64 { return time.Now().UnixMilli() }

func (RealClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
