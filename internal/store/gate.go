package store

import (
	"context"
	"errors"

	"golang.org/x/sync/semaphore"

	"schoolattend/internal/metrics"
	"schoolattend/internal/retry"
)

// ErrPoolExhausted is returned when no slot frees up within the retry policy.
var ErrPoolExhausted = errors.New("store: connection pool exhausted")

// Gate caps concurrent store work with a counting semaphore.
type Gate struct {
	sem    *semaphore.Weighted
	policy retry.Policy
}

// NewGate allows at most size concurrent holders.
func NewGate(size int, policy retry.Policy) *Gate {
	if size <= 0 {
		size = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(size)), policy: policy}
}

// Do acquires a slot, retrying with backoff while the pool is full, runs fn and
// releases the slot on every exit path, including panics.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	err := g.policy.Do(ctx, func(context.Context) error {
		if g.sem.TryAcquire(1) {
			return nil
		}
		metrics.PoolWaits.Inc()
		return ErrPoolExhausted
	})
	if err != nil {
		return err
	}
	defer g.sem.Release(1)
	return fn(ctx)
}
