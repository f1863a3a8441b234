// Package natsqueue implements queue.Producer and queue.Consumer over NATS,
// with trace-context injection on publish and span-wrapped subscription
// handling.
package natsqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var propagator = propagation.TraceContext{}

// Queue is a NATS-backed Producer/Consumer. Outbound Send publishes
// directly onto a subject named after the task type; inbound Poll drains a
// per-subject channel subscription buffer rather than blocking on
// nc.NextMsg, since the Scheduler's poll loop calls Poll on its own
// interval.
type Queue struct {
	nc *nats.Conn

	mu   sync.Mutex
	subs map[string]*subscription
}

type subscription struct {
	sub *nats.Subscription
	ch  chan *nats.Msg
}

// Connect dials url. Any retry-wrapped bootstrap is left to the caller (see
// cmd/kronos-scheduler/main.go) — Connect itself is a thin constructor so
// tests can swap in a local nats-server.
func Connect(url string) (*Queue, error) {
	nc, err := nats.Connect(url, nats.Name("kronos-scheduler"))
	if err != nil {
		return nil, err
	}
	return &Queue{nc: nc, subs: make(map[string]*subscription)}, nil
}

// Send publishes payload on the subject named queueType, injecting the
// current trace context into the message header exactly as
// natsctx.Publish does.
func (q *Queue) Send(ctx context.Context, queueType string, payload []byte) error {
	hdr := nats.Header{}
	carrier := propagation.HeaderCarrier(hdr)
	propagator.Inject(ctx, carrier)
	msg := &nats.Msg{Subject: queueType, Data: payload, Header: hdr}
	return q.nc.PublishMsg(msg)
}

// Poll drains whatever has arrived on queueName's buffered channel
// subscription since the last call, subscribing lazily on first use.
func (q *Queue) Poll(ctx context.Context, queueName string) ([][]byte, error) {
	sub, err := q.subscriptionFor(queueName)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0)
	for {
		select {
		case m, ok := <-sub.ch:
			if !ok {
				return out, nil
			}
			out = append(out, m.Data)
		default:
			return out, nil
		}
	}
}

func (q *Queue) subscriptionFor(queueName string) (*subscription, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if sub, ok := q.subs[queueName]; ok {
		return sub, nil
	}

	ch := make(chan *nats.Msg, 256)
	natsSub, err := q.nc.Subscribe(queueName, func(m *nats.Msg) {
		carrier := propagation.HeaderCarrier(m.Header)
		spanCtx := propagator.Extract(context.Background(), carrier)
		tr := otel.Tracer("kronos-nats")
		_, span := tr.Start(spanCtx, "nats.consume", trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
		select {
		case ch <- m:
		case <-time.After(time.Second):
		}
	})
	if err != nil {
		return nil, err
	}
	sub := &subscription{sub: natsSub, ch: ch}
	q.subs[queueName] = sub
	return sub, nil
}

// Close unsubscribes every subscription and closes the underlying connection.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var firstErr error
	for _, sub := range q.subs {
		if err := sub.sub.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	q.nc.Close()
	if firstErr != nil {
		return firstErr
	}
	if q.nc.LastError() != nil {
		return errors.New("natsqueue: connection closed with error: " + q.nc.LastError().Error())
	}
	return nil
}
