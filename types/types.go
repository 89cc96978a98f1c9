package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Delivery attempt statuses recorded in the audit log.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Subscription represents a webhook subscription. The store owns it; the
// cache holds a TTL-bounded copy.
type Subscription struct {
	ID         uuid.UUID `json:"id" db:"id"`
	TargetURL  string    `json:"target_url" db:"target_url"`
	Secret     string    `json:"secret,omitempty" db:"secret"`
	EventTypes []string  `json:"event_types,omitempty" db:"event_types"`
	Active     bool      `json:"active" db:"active"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" db:"updated_at"`
}

// AllowsEventType reports whether the subscription accepts the given event
// type. An empty allow list or an empty event type means no filtering.
func (s *Subscription) AllowsEventType(eventType string) bool {
	if len(s.EventTypes) == 0 || eventType == "" {
		return true
	}
	for _, et := range s.EventTypes {
		if et == eventType {
			return true
		}
	}
	return false
}

// DeliveryTask is the unit of work consumed by the worker pool. The webhook
// id stays the same across retries; the attempt number starts at 1.
type DeliveryTask struct {
	WebhookID      uuid.UUID       `json:"webhook_id"`
	SubscriptionID uuid.UUID       `json:"subscription_id"`
	Payload        json.RawMessage `json:"payload"`
	Attempt        int             `json:"attempt"`
}

// DeliveryAttempt is one row of the append-only audit log. Immutable once
// written.
type DeliveryAttempt struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	WebhookID      uuid.UUID       `json:"webhook_id" db:"webhook_id"`
	SubscriptionID uuid.UUID       `json:"subscription_id" db:"subscription_id"`
	TargetURL      string          `json:"target_url" db:"target_url"`
	Payload        json.RawMessage `json:"payload" db:"payload"`
	AttemptNumber  int             `json:"attempt_number" db:"attempt_number"`
	Status         string          `json:"status" db:"status"`
	StatusCode     *int            `json:"status_code,omitempty" db:"status_code"`
	ErrorMessage   *string         `json:"error_message,omitempty" db:"error_message"`
	Timestamp      time.Time       `json:"timestamp" db:"timestamp"`
}

// StatusSummary is the answer to a latest-status query: the most recent
// attempt for a webhook id.
type StatusSummary struct {
	WebhookID    uuid.UUID `json:"webhook_id"`
	Status       string    `json:"status"`
	Attempts     int       `json:"attempts"`
	LastAttempt  time.Time `json:"last_attempt"`
	ErrorMessage *string   `json:"error_message,omitempty"`
}
