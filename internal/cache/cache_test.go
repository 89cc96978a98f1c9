package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hookrelay/internal/store"
	"hookrelay/types"

	"github.com/google/uuid"
)

// fakeKV is an in-memory KV with a controllable clock for TTL expiry.
type fakeKV struct {
	mu      sync.Mutex
	entries map[string]fakeEntry
	now     time.Time
	fail    bool
}

type fakeEntry struct {
	value     string
	expiresAt time.Time
}

func newFakeKV() *fakeKV {
	return &fakeKV{entries: make(map[string]fakeEntry), now: time.Now()}
}

func (f *fakeKV) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return "", errors.New("kv unavailable")
	}
	e, ok := f.entries[key]
	if !ok || f.now.After(e.expiresAt) {
		return "", ErrCacheMiss
	}
	return e.value, nil
}

func (f *fakeKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("kv unavailable")
	}
	f.entries[key] = fakeEntry{value: value, expiresAt: f.now.Add(ttl)}
	return nil
}

func (f *fakeKV) Del(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("kv unavailable")
	}
	delete(f.entries, key)
	return nil
}

// countingStore counts store reads so tests can tell hits from misses.
type countingStore struct {
	*store.Memory
	mu    sync.Mutex
	reads int
}

func (c *countingStore) GetSubscription(ctx context.Context, id uuid.UUID) (*types.Subscription, error) {
	c.mu.Lock()
	c.reads++
	c.mu.Unlock()
	return c.Memory.GetSubscription(ctx, id)
}

func (c *countingStore) readCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

func newTestSubscription() *types.Subscription {
	return &types.Subscription{
		ID:        uuid.New(),
		TargetURL: "https://example.com/hook",
		Secret:    "s3cret",
		Active:    true,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

func TestGetWithinTTLSkipsStore(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	cs := &countingStore{Memory: store.NewMemory()}
	c := NewSubscriptionCache(kv, cs)

	sub := newTestSubscription()
	if err := cs.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}
	c.Put(ctx, sub)

	got, err := c.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.TargetURL != sub.TargetURL {
		t.Fatalf("wrong subscription returned: %+v", got)
	}
	if n := cs.readCount(); n != 0 {
		t.Fatalf("expected 0 store reads on cache hit, got %d", n)
	}
}

func TestGetAfterTTLReadsStoreAndRepopulates(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	cs := &countingStore{Memory: store.NewMemory()}
	c := NewSubscriptionCache(kv, cs)

	sub := newTestSubscription()
	if err := cs.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}
	c.Put(ctx, sub)

	kv.advance(DefaultTTL + time.Second)

	if _, err := c.Get(ctx, sub.ID); err != nil {
		t.Fatalf("get after expiry: %v", err)
	}
	if n := cs.readCount(); n != 1 {
		t.Fatalf("expected 1 store read after TTL expiry, got %d", n)
	}

	// The read-through should have repopulated the cache.
	if _, err := c.Get(ctx, sub.ID); err != nil {
		t.Fatalf("get after repopulate: %v", err)
	}
	if n := cs.readCount(); n != 1 {
		t.Fatalf("expected cache hit after repopulate, store reads = %d", n)
	}
}

func TestGetMissingSubscription(t *testing.T) {
	ctx := context.Background()
	c := NewSubscriptionCache(newFakeKV(), &countingStore{Memory: store.NewMemory()})

	_, err := c.Get(ctx, uuid.New())
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInvalidateForcesStoreRead(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	cs := &countingStore{Memory: store.NewMemory()}
	c := NewSubscriptionCache(kv, cs)

	sub := newTestSubscription()
	if err := cs.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}
	c.Put(ctx, sub)
	c.Invalidate(ctx, sub.ID)

	if _, err := c.Get(ctx, sub.ID); err != nil {
		t.Fatalf("get: %v", err)
	}
	if n := cs.readCount(); n != 1 {
		t.Fatalf("expected store read after invalidate, got %d", n)
	}
}

func TestCacheBackendFailureDegradesToStore(t *testing.T) {
	ctx := context.Background()
	kv := newFakeKV()
	kv.fail = true
	cs := &countingStore{Memory: store.NewMemory()}
	c := NewSubscriptionCache(kv, cs)

	sub := newTestSubscription()
	if err := cs.CreateSubscription(ctx, sub); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Put and Invalidate must not error out even when the backend is down.
	c.Put(ctx, sub)
	c.Invalidate(ctx, sub.ID)

	got, err := c.Get(ctx, sub.ID)
	if err != nil {
		t.Fatalf("get with failing cache: %v", err)
	}
	if got.ID != sub.ID {
		t.Fatalf("wrong subscription: %+v", got)
	}
	if n := cs.readCount(); n != 1 {
		t.Fatalf("expected store fallback read, got %d", n)
	}
}
