package resilience

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// PollGate bounds how often the scheduler's status consumer may hit the
// inbound queue. A plain token bucket is enough: the gate has a single
// caller (the poll loop), so there is no reservation or per-caller fairness
// machinery — a denied tick is simply skipped and the next ticker fire
// tries again.
type PollGate struct {
	mu        sync.Mutex
	capacity  float64
	perSecond float64
	tokens    float64
	last      time.Time

	denied metric.Int64Counter
}

// NewPollGate returns a gate refilling at perSecond tokens up to capacity,
// starting full so the first polls after startup are never gated. meter may
// be nil in tests.
func NewPollGate(capacity int, perSecond float64, meter metric.Meter) *PollGate {
	g := &PollGate{
		capacity:  float64(capacity),
		perSecond: perSecond,
		tokens:    float64(capacity),
		last:      time.Now(),
	}
	if meter != nil {
		g.denied, _ = meter.Int64Counter("kronos_poll_gate_denied_total")
	}
	return g
}

// Allow consumes one poll token if available.
func (g *PollGate) Allow() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	g.tokens += now.Sub(g.last).Seconds() * g.perSecond
	if g.tokens > g.capacity {
		g.tokens = g.capacity
	}
	g.last = now

	if g.tokens < 1 {
		if g.denied != nil {
			g.denied.Add(context.Background(), 1)
		}
		return false
	}
	g.tokens--
	return true
}
