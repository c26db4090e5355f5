package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/Kirk1984/redlib/internal/logging"
)

type flightResult[T any] struct {
	data    T
	created bool
}

// GetOrCreate returns the live entry for key, or runs create and stores its result for ttl.
//
// At most one create runs per key at a time. Concurrent callers for the same key wait for that create and
// receive its result, including its error. Errors are never stored.
func GetOrCreate[T any](ctx context.Context, cache Cache[T], key string, ttl time.Duration, create func() (T, error)) (T, Outcome, error) {
	logger := logging.FromContext(ctx).With("cacheKey", key)

	if data, ok := cache.get(key); ok {
		logger.InfoContext(ctx, "Getting cache entry", "cache", OutcomeHit)
		return data, OutcomeHit, nil
	}

	led := false
	resultChan := cache.flights().DoChan(key, func() (any, error) {
		led = true

		// A flight that finished after our lookup may already have stored the entry
		if data, ok := cache.get(key); ok {
			return flightResult[T]{data: data, created: false}, nil
		}

		data, err := create()
		if err != nil {
			return nil, err
		}

		cache.set(key, data, ttl)

		return flightResult[T]{data: data, created: true}, nil
	})

	var empty T
	select {
	case <-ctx.Done():
		return empty, OutcomeJoined, fmt.Errorf("waiting for cache entry: %w", context.Cause(ctx))
	case result := <-resultChan:
		outcome := OutcomeJoined
		if led {
			outcome = OutcomeMiss
		}

		if result.Err != nil {
			logger.InfoContext(ctx, "Getting cache entry", "cache", outcome, "error", result.Err.Error())
			return empty, outcome, fmt.Errorf("failed to create cache entry: %w", result.Err)
		}

		flight := result.Val.(flightResult[T])
		if led && !flight.created {
			outcome = OutcomeHit
		}

		logger.InfoContext(ctx, "Getting cache entry", "cache", outcome)
		return flight.data, outcome, nil
	}
}
