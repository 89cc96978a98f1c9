package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"hookrelay/internal/metrics"
	"hookrelay/internal/queue"
	"hookrelay/types"

	"github.com/google/uuid"
)

// Ingestion rejections. These surface to the caller; no task is enqueued
// and nothing is logged.
var (
	ErrInactiveSubscription = errors.New("subscription is inactive")
	ErrEventTypeNotAllowed  = errors.New("event type not allowed for this subscription")
)

// Dispatcher accepts ingestion requests, validates subscription eligibility
// and enqueues the first delivery task. Delivery itself is asynchronous.
type Dispatcher struct {
	subs  SubscriptionSource
	queue queue.Queue
}

// NewDispatcher builds a dispatcher over the given subscription source
// (usually the cache) and task queue.
func NewDispatcher(subs SubscriptionSource, q queue.Queue) *Dispatcher {
	return &Dispatcher{subs: subs, queue: q}
}

// Ingest validates the subscription, mints a webhook delivery id and queues
// attempt 1. The returned id is stable across all retries of this delivery.
// Returns store.ErrNotFound, ErrInactiveSubscription or
// ErrEventTypeNotAllowed on rejection.
func (d *Dispatcher) Ingest(ctx context.Context, subscriptionID uuid.UUID, payload json.RawMessage, eventType string) (uuid.UUID, error) {
	sub, err := d.subs.Get(ctx, subscriptionID)
	if err != nil {
		return uuid.Nil, err
	}
	if !sub.Active {
		return uuid.Nil, ErrInactiveSubscription
	}
	if !sub.AllowsEventType(eventType) {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrEventTypeNotAllowed, eventType)
	}

	webhookID := uuid.New()
	task := &types.DeliveryTask{
		WebhookID:      webhookID,
		SubscriptionID: subscriptionID,
		Payload:        payload,
		Attempt:        1,
	}
	if err := d.queue.Enqueue(ctx, task, 0); err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue delivery: %w", err)
	}
	metrics.IngestedWebhooks.Inc()
	return webhookID, nil
}
