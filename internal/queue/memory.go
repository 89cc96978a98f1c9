package queue

import (
	"context"
	"sync"
	"time"

	"hookrelay/types"
)

// Memory is an in-process queue for tests. Delayed tasks are held aside
// with their recorded delay until the test promotes them, so backoff
// schedules can be asserted without sleeping.
type Memory struct {
	mu        sync.Mutex
	ready     chan *types.DeliveryTask
	scheduled []Scheduled
}

// Scheduled is a delayed task together with the delay it was enqueued with.
type Scheduled struct {
	Task  *types.DeliveryTask
	Delay time.Duration
}

// NewMemory returns an in-process queue with the given ready buffer.
func NewMemory(buffer int) *Memory {
	return &Memory{ready: make(chan *types.DeliveryTask, buffer)}
}

func (q *Memory) Enqueue(ctx context.Context, task *types.DeliveryTask, delay time.Duration) error {
	if delay > 0 {
		q.mu.Lock()
		q.scheduled = append(q.scheduled, Scheduled{Task: task, Delay: delay})
		q.mu.Unlock()
		return nil
	}
	select {
	case q.ready <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Memory) Dequeue(ctx context.Context) (*types.DeliveryTask, error) {
	select {
	case task := <-q.ready:
		return task, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Delays returns the delays of all scheduled tasks in enqueue order.
func (q *Memory) Delays() []time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()
	delays := make([]time.Duration, len(q.scheduled))
	for i, s := range q.scheduled {
		delays[i] = s.Delay
	}
	return delays
}

// PromoteAll moves every scheduled task to the ready channel, as if all
// backoff waits had elapsed. Returns the number promoted.
func (q *Memory) PromoteAll() int {
	q.mu.Lock()
	scheduled := q.scheduled
	q.scheduled = nil
	q.mu.Unlock()
	for _, s := range scheduled {
		q.ready <- s.Task
	}
	return len(scheduled)
}

// Len reports how many tasks are ready plus scheduled.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready) + len(q.scheduled)
}
