package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"hookrelay/types"

	"github.com/redis/go-redis/v9"
)

const (
	readyKey     = "delivery:ready"
	scheduledKey = "delivery:scheduled"

	dequeueBlock    = 1 * time.Second
	promoteInterval = 1 * time.Second
	promoteBatch    = 100
)

// Redis is a durable task queue: immediate tasks live on a list, delayed
// tasks in a sorted set scored by their ready time. A promoter loop moves
// due tasks onto the list, where workers block-pop them.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps a Redis client as a task queue.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func (q *Redis) Enqueue(ctx context.Context, task *types.DeliveryTask, delay time.Duration) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}
	if delay <= 0 {
		if err := q.client.LPush(ctx, readyKey, data).Err(); err != nil {
			return fmt.Errorf("failed to enqueue task: %w", err)
		}
		return nil
	}
	readyAt := time.Now().Add(delay)
	member := redis.Z{Score: float64(readyAt.UnixMilli()), Member: string(data)}
	if err := q.client.ZAdd(ctx, scheduledKey, member).Err(); err != nil {
		return fmt.Errorf("failed to schedule task: %w", err)
	}
	return nil
}

func (q *Redis) Dequeue(ctx context.Context) (*types.DeliveryTask, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := q.client.BRPop(ctx, dequeueBlock, readyKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to dequeue task: %w", err)
		}
		// BRPop returns [key, value].
		var task types.DeliveryTask
		if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
			log.Printf("queue: dropping unreadable task: %v", err)
			continue
		}
		return &task, nil
	}
}

// RunPromoter periodically moves due scheduled tasks to the ready list.
// Blocks until the context is cancelled.
func (q *Redis) RunPromoter(ctx context.Context) {
	ticker := time.NewTicker(promoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := q.promoteDue(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("queue: promoter error: %v", err)
			}
		}
	}
}

func (q *Redis) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.client.ZRangeByScore(ctx, scheduledKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   now,
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return err
	}
	for _, member := range due {
		// Remove first so a concurrent promoter cannot double-deliver;
		// ZRem reports whether we won the race.
		removed, err := q.client.ZRem(ctx, scheduledKey, member).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, readyKey, member).Err(); err != nil {
			return err
		}
	}
	return nil
}
