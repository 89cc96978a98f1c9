package store

import (
	"context"
	"errors"
	"time"

	"hookrelay/types"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a subscription or delivery has no record.
var ErrNotFound = errors.New("not found")

// Store is the persistence boundary for subscriptions and the delivery
// audit log. The store is authoritative; the cache layer sits in front of
// the subscription reads only.
type Store interface {
	// Subscriptions
	CreateSubscription(ctx context.Context, sub *types.Subscription) error
	GetSubscription(ctx context.Context, id uuid.UUID) (*types.Subscription, error)
	ListSubscriptions(ctx context.Context, limit, offset int) ([]types.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *types.Subscription) error
	DeleteSubscription(ctx context.Context, id uuid.UUID) error

	// Delivery attempt log (append-only)
	AppendAttempt(ctx context.Context, attempt *types.DeliveryAttempt) error
	LatestAttempt(ctx context.Context, webhookID uuid.UUID) (*types.DeliveryAttempt, error)
	RecentAttempts(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]types.DeliveryAttempt, error)
	PurgeAttemptsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
