// Package queue carries delivery tasks from the dispatcher to the worker
// pool. The Redis implementation is durable and supports delayed re-enqueue
// for backoff waits without occupying a worker.
package queue

import (
	"context"
	"time"

	"hookrelay/types"
)

// Queue is the producer side: enqueue a task, optionally delayed.
type Queue interface {
	Enqueue(ctx context.Context, task *types.DeliveryTask, delay time.Duration) error
}

// Consumer is the worker side. Dequeue blocks until a task is available or
// the context is cancelled.
type Consumer interface {
	Dequeue(ctx context.Context) (*types.DeliveryTask, error)
}
