package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"hookrelay/internal/store"
	"hookrelay/types"

	"github.com/google/uuid"
)

// DefaultTTL bounds how stale a cached subscription copy may be.
const DefaultTTL = 10 * time.Minute

// SubscriptionReader is the read surface the cache needs from the store.
type SubscriptionReader interface {
	GetSubscription(ctx context.Context, id uuid.UUID) (*types.Subscription, error)
}

// SubscriptionCache is a cache-aside layer over the subscription store.
// Reads check the cache first and fall back to the store on miss; writes go
// to the store first with a best-effort cache update. Cache backend failures
// are absorbed: the store is always authoritative.
type SubscriptionCache struct {
	kv    KV
	store SubscriptionReader
	ttl   time.Duration
}

// NewSubscriptionCache builds a cache with the default 10-minute TTL.
func NewSubscriptionCache(kv KV, store SubscriptionReader) *SubscriptionCache {
	return &SubscriptionCache{kv: kv, store: store, ttl: DefaultTTL}
}

// NewSubscriptionCacheTTL builds a cache with an explicit TTL.
func NewSubscriptionCacheTTL(kv KV, store SubscriptionReader, ttl time.Duration) *SubscriptionCache {
	return &SubscriptionCache{kv: kv, store: store, ttl: ttl}
}

func cacheKey(id uuid.UUID) string {
	return fmt.Sprintf("subscription:%s", id)
}

// Get returns the subscription from the cache when present, otherwise reads
// the store and repopulates the cache. Returns store.ErrNotFound when the
// subscription does not exist.
func (c *SubscriptionCache) Get(ctx context.Context, id uuid.UUID) (*types.Subscription, error) {
	val, err := c.kv.Get(ctx, cacheKey(id))
	if err == nil {
		var sub types.Subscription
		if err := json.Unmarshal([]byte(val), &sub); err == nil {
			return &sub, nil
		}
		// Corrupt entry; fall through to the store.
		log.Printf("cache: discarding unreadable entry for subscription %s", id)
	} else if !errors.Is(err, ErrCacheMiss) {
		log.Printf("cache: get failed for subscription %s: %v", id, err)
	}

	sub, err := c.store.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Put(ctx, sub)
	return sub, nil
}

// Put writes the subscription into the cache with the configured TTL.
// Best-effort: failures are logged and swallowed.
func (c *SubscriptionCache) Put(ctx context.Context, sub *types.Subscription) {
	data, err := json.Marshal(sub)
	if err != nil {
		log.Printf("cache: failed to marshal subscription %s: %v", sub.ID, err)
		return
	}
	if err := c.kv.Set(ctx, cacheKey(sub.ID), string(data), c.ttl); err != nil {
		log.Printf("cache: put failed for subscription %s: %v", sub.ID, err)
	}
}

// Invalidate removes the cached copy unconditionally. Best-effort.
func (c *SubscriptionCache) Invalidate(ctx context.Context, id uuid.UUID) {
	if err := c.kv.Del(ctx, cacheKey(id)); err != nil {
		log.Printf("cache: invalidate failed for subscription %s: %v", id, err)
	}
}

var _ SubscriptionReader = (store.Store)(nil)
