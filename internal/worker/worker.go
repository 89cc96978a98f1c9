package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"hookrelay/internal/metrics"
	"hookrelay/internal/queue"
	"hookrelay/internal/retry"
	"hookrelay/internal/signature"
	"hookrelay/internal/store"
	"hookrelay/types"

	"github.com/google/uuid"
)

// DefaultHTTPTimeout bounds each delivery attempt.
const DefaultHTTPTimeout = 10 * time.Second

// storeRetryDelay is used when the subscription store itself is unavailable
// and the task is put back for a later try.
const storeRetryDelay = 10 * time.Second

// SubscriptionSource resolves subscriptions; in production this is the
// read-through cache.
type SubscriptionSource interface {
	Get(ctx context.Context, id uuid.UUID) (*types.Subscription, error)
}

// AttemptLog records delivery attempts; in production this is the Postgres
// audit log.
type AttemptLog interface {
	AppendAttempt(ctx context.Context, attempt *types.DeliveryAttempt) error
}

// Pool is the delivery worker pool. Workers pull tasks from the queue,
// perform one signed HTTP attempt each, append an audit record, and hand the
// outcome to the retry policy. Workers hold no per-delivery state beyond the
// task itself.
type Pool struct {
	consumer queue.Consumer
	producer queue.Queue
	subs     SubscriptionSource
	attempts AttemptLog
	client   *http.Client
	workers  int
	wg       sync.WaitGroup
}

// NewPool builds a pool with the default 10s per-attempt HTTP timeout.
func NewPool(consumer queue.Consumer, producer queue.Queue, subs SubscriptionSource, attempts AttemptLog, workers int) *Pool {
	return &Pool{
		consumer: consumer,
		producer: producer,
		subs:     subs,
		attempts: attempts,
		client:   &http.Client{Timeout: DefaultHTTPTimeout},
		workers:  workers,
	}
}

// Start launches the workers. They run until the context is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		id := i + 1
		go func() {
			defer p.wg.Done()
			p.run(ctx, id)
		}()
	}
	log.Printf("started %d delivery workers", p.workers)
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, id int) {
	for {
		task, err := p.consumer.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Printf("worker %d: dequeue failed: %v", id, err)
			}
			return
		}
		p.process(ctx, task)
	}
}

// process performs exactly one delivery attempt for the task.
func (p *Pool) process(ctx context.Context, task *types.DeliveryTask) {
	sub, err := p.subs.Get(ctx, task.SubscriptionID)
	if errors.Is(err, store.ErrNotFound) {
		// Subscription is gone; the audit context went with it.
		return
	}
	if err != nil {
		// Store outage, not a delivery failure. Put the task back with the
		// same attempt number; duplicate attempts are tolerated.
		log.Printf("worker: subscription lookup failed for %s: %v", task.SubscriptionID, err)
		if err := p.producer.Enqueue(ctx, task, storeRetryDelay); err != nil {
			log.Printf("worker: failed to requeue task %s: %v", task.WebhookID, err)
		}
		return
	}

	start := time.Now()
	outcome := p.deliver(ctx, task, sub)
	latency := time.Since(start)

	record := attemptRecord(task, sub, outcome)
	if err := p.attempts.AppendAttempt(ctx, record); err != nil {
		log.Printf("worker: failed to record attempt %d for %s: %v", task.Attempt, task.WebhookID, err)
	}
	metrics.DeliveryAttempts.WithLabelValues(record.Status).Inc()
	metrics.DeliveryLatency.WithLabelValues(record.Status).Observe(float64(latency.Milliseconds()))

	decision := retry.Decide(outcome, task.Attempt)
	switch {
	case decision.Retry:
		next := &types.DeliveryTask{
			WebhookID:      task.WebhookID,
			SubscriptionID: task.SubscriptionID,
			Payload:        task.Payload,
			Attempt:        task.Attempt + 1,
		}
		if err := p.producer.Enqueue(ctx, next, decision.Delay); err != nil {
			log.Printf("worker: failed to schedule retry for %s: %v", task.WebhookID, err)
			return
		}
		log.Printf("delivery %s attempt %d failed, retry in %s", task.WebhookID, task.Attempt, decision.Delay)
	case decision.Exhausted:
		log.Printf("delivery %s exhausted after %d attempts", task.WebhookID, task.Attempt)
	default:
		log.Printf("delivery %s succeeded on attempt %d", task.WebhookID, task.Attempt)
	}
}

// deliver performs the HTTP POST and classifies the result.
func (p *Pool) deliver(ctx context.Context, task *types.DeliveryTask, sub *types.Subscription) retry.Outcome {
	body, err := signature.Canonicalize(task.Payload)
	if err != nil {
		// The dispatcher validated the payload; fall back to raw bytes.
		body = task.Payload
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.TargetURL, bytes.NewReader(body))
	if err != nil {
		return retry.Outcome{Kind: retry.OutcomeNetworkError, Err: err, Detail: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-ID", task.WebhookID.String())
	req.Header.Set("X-Webhook-Attempt", fmt.Sprintf("%d", task.Attempt))
	if sub.Secret != "" {
		req.Header.Set("X-Webhook-Signature", signature.SignBytes(body, sub.Secret))
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return retry.Outcome{Kind: retry.OutcomeNetworkError, Err: err, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return retry.Outcome{Kind: retry.OutcomeSuccess, StatusCode: resp.StatusCode}
	}
	return retry.Outcome{
		Kind:       retry.OutcomeHTTPError,
		StatusCode: resp.StatusCode,
		Detail:     fmt.Sprintf("endpoint returned status %d", resp.StatusCode),
	}
}

func attemptRecord(task *types.DeliveryTask, sub *types.Subscription, outcome retry.Outcome) *types.DeliveryAttempt {
	record := &types.DeliveryAttempt{
		ID:             uuid.New(),
		WebhookID:      task.WebhookID,
		SubscriptionID: task.SubscriptionID,
		TargetURL:      sub.TargetURL,
		Payload:        task.Payload,
		AttemptNumber:  task.Attempt,
		Timestamp:      time.Now().UTC(),
	}
	if outcome.Kind == retry.OutcomeSuccess {
		record.Status = types.StatusSuccess
	} else {
		record.Status = types.StatusFailed
	}
	if outcome.Kind != retry.OutcomeNetworkError {
		code := outcome.StatusCode
		record.StatusCode = &code
	}
	if outcome.Detail != "" {
		detail := outcome.Detail
		record.ErrorMessage = &detail
	}
	return record
}
