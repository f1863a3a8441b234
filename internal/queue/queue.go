// Package queue defines the outbound Producer and inbound Consumer
// collaborators the Scheduler is constructed with. Concrete adapters live
// in the natsqueue and memqueue subpackages.
package queue

import "context"

// Producer dispatches a task's serialized payload to the queue named after
// its type. Send must be non-blocking from the scheduler's perspective — an
// adapter backed by a blocking transport is expected to apply its own async
// buffering.
type Producer interface {
	Send(ctx context.Context, queueType string, payload []byte) error
	Close() error
}

// Consumer fetches pending status messages for queueName. The scheduler
// polls it at KRONOS_STATUS_POLL_INTERVAL; Poll itself is a single fetch,
// not a background loop.
type Consumer interface {
	Poll(ctx context.Context, queueName string) ([][]byte, error)
	Close() error
}
