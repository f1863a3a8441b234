// Package memqueue is an in-process Producer/Consumer used for tests and
// for KRONOS_QUEUE_DRIVER=mem — a single-process deployment with no
// external broker.
package memqueue

import (
	"context"
	"errors"
	"sync"
)

// Queue is an in-memory, per-queue-name FIFO buffer satisfying both
// queue.Producer and queue.Consumer.
type Queue struct {
	mu      sync.Mutex
	buffers map[string][][]byte
	closed  bool
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{buffers: make(map[string][][]byte)}
}

// Send appends payload to queueType's buffer.
func (q *Queue) Send(ctx context.Context, queueType string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("memqueue: send on closed queue")
	}
	q.buffers[queueType] = append(q.buffers[queueType], payload)
	return nil
}

// Poll drains and returns every pending message for queueName.
func (q *Queue) Poll(ctx context.Context, queueName string) ([][]byte, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, errors.New("memqueue: poll on closed queue")
	}
	msgs := q.buffers[queueName]
	delete(q.buffers, queueName)
	return msgs, nil
}

// Close marks the queue closed; further Send/Poll calls error.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}
