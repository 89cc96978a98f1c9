// Package retention implements the audit log retention sweep: bulk deletion
// of attempt records older than the retention window. An external ticker
// drives it; the policy lives here.
package retention

import (
	"context"
	"log"
	"time"

	"hookrelay/internal/metrics"
)

// DefaultRetention is how long attempt records are kept.
const DefaultRetention = 72 * time.Hour

// AttemptPurger is the store surface the sweep needs.
type AttemptPurger interface {
	PurgeAttemptsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Sweeper deletes attempt records older than the retention window.
type Sweeper struct {
	store     AttemptPurger
	retention time.Duration
	now       func() time.Time
}

// NewSweeper builds a sweeper; a non-positive retention falls back to the
// 72-hour default.
func NewSweeper(store AttemptPurger, retention time.Duration) *Sweeper {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &Sweeper{store: store, retention: retention, now: time.Now}
}

// PurgeOnce runs a single sweep and returns the number of records removed.
// All-or-nothing per invocation; a failed sweep is simply retried on the
// next cycle.
func (s *Sweeper) PurgeOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.retention)
	purged, err := s.store.PurgeAttemptsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.PurgedAttempts.Add(float64(purged))
	return purged, nil
}

// Run sweeps immediately and then on every tick until the context is
// cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	sweep := func() {
		count, err := s.PurgeOnce(ctx)
		if err != nil {
			log.Printf("retention: sweep failed: %v", err)
			return
		}
		if count > 0 {
			log.Printf("retention: purged %d attempt records", count)
		}
	}

	sweep()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
