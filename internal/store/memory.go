package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"hookrelay/types"

	"github.com/google/uuid"
)

// Memory is an in-memory Store used by tests and local development.
type Memory struct {
	mu       sync.RWMutex
	subs     map[uuid.UUID]types.Subscription
	attempts []types.DeliveryAttempt
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{subs: make(map[uuid.UUID]types.Subscription)}
}

func (m *Memory) CreateSubscription(ctx context.Context, sub *types.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = *sub
	return nil
}

func (m *Memory) GetSubscription(ctx context.Context, id uuid.UUID) (*types.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := sub
	return &cp, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, limit, offset int) ([]types.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	subs := make([]types.Subscription, 0, len(m.subs))
	for _, sub := range m.subs {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].CreatedAt.After(subs[j].CreatedAt) })
	if offset >= len(subs) {
		return nil, nil
	}
	subs = subs[offset:]
	if limit > 0 && len(subs) > limit {
		subs = subs[:limit]
	}
	return subs, nil
}

func (m *Memory) UpdateSubscription(ctx context.Context, sub *types.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; !ok {
		return ErrNotFound
	}
	m.subs[sub.ID] = *sub
	return nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return ErrNotFound
	}
	delete(m.subs, id)
	kept := m.attempts[:0]
	for _, a := range m.attempts {
		if a.SubscriptionID != id {
			kept = append(kept, a)
		}
	}
	m.attempts = kept
	return nil
}

func (m *Memory) AppendAttempt(ctx context.Context, attempt *types.DeliveryAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts = append(m.attempts, *attempt)
	return nil
}

func (m *Memory) LatestAttempt(ctx context.Context, webhookID uuid.UUID) (*types.DeliveryAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *types.DeliveryAttempt
	for i := range m.attempts {
		a := &m.attempts[i]
		if a.WebhookID != webhookID {
			continue
		}
		if latest == nil || a.Timestamp.After(latest.Timestamp) ||
			(a.Timestamp.Equal(latest.Timestamp) && a.AttemptNumber > latest.AttemptNumber) {
			latest = a
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *Memory) RecentAttempts(ctx context.Context, subscriptionID uuid.UUID, limit int) ([]types.DeliveryAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var attempts []types.DeliveryAttempt
	for _, a := range m.attempts {
		if a.SubscriptionID == subscriptionID {
			attempts = append(attempts, a)
		}
	}
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].Timestamp.After(attempts[j].Timestamp) })
	if limit > 0 && len(attempts) > limit {
		attempts = attempts[:limit]
	}
	return attempts, nil
}

func (m *Memory) PurgeAttemptsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.attempts[:0]
	var purged int64
	for _, a := range m.attempts {
		if a.Timestamp.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, a)
	}
	m.attempts = kept
	return purged, nil
}
