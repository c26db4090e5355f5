package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type Data = string

type Callback func() (Data, error)

func createCallback(data int) Callback {
	return func() (Data, error) {
		return fmt.Sprintf("data%d", data), nil
	}
}

func createErrorCallback(variant int) Callback {
	return func() (Data, error) {
		return "", fmt.Errorf("error%d", variant)
	}
}

func createUnreachable(t *testing.T) Callback {
	return func() (Data, error) {
		t.Helper()
		t.Error("Unreachable code executed")
		return "", nil
	}
}

type cacheCase struct {
	name     string
	newCache func() Cache[Data]
}

func cacheCases(t *testing.T) []cacheCase {
	t.Helper()

	return []cacheCase{
		{
			name: "BasicCache",
			newCache: func() Cache[Data] {
				return NewBasicCache[Data](100, time.Now)
			},
		},
		{
			name: "TTLCache",
			newCache: func() Cache[Data] {
				cache, stop := NewTTLCache[Data](100)
				t.Cleanup(stop)
				return cache
			},
		},
	}
}

func TestGetOrCreate(t *testing.T) {
	t.Parallel()

	for _, c := range cacheCases(t) {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			t.Run("miss then hit", func(t *testing.T) {
				t.Parallel()

				cache := c.newCache()

				data, outcome, err := GetOrCreate(t.Context(), cache, "key1", time.Minute, createCallback(1))
				require.NoError(t, err)
				require.Equal(t, "data1", data)
				require.Equal(t, OutcomeMiss, outcome)

				data, outcome, err = GetOrCreate(t.Context(), cache, "key1", time.Minute, createUnreachable(t))
				require.NoError(t, err)
				require.Equal(t, "data1", data)
				require.Equal(t, OutcomeHit, outcome)
			})

			t.Run("keys are independent", func(t *testing.T) {
				t.Parallel()

				cache := c.newCache()

				_, _, err := GetOrCreate(t.Context(), cache, "key1", time.Minute, createCallback(1))
				require.NoError(t, err)

				data, outcome, err := GetOrCreate(t.Context(), cache, "key2", time.Minute, createCallback(2))
				require.NoError(t, err)
				require.Equal(t, "data2", data)
				require.Equal(t, OutcomeMiss, outcome)
			})

			t.Run("errors are not cached", func(t *testing.T) {
				t.Parallel()

				cache := c.newCache()

				_, outcome, err := GetOrCreate(t.Context(), cache, "key1", time.Minute, createErrorCallback(10))
				require.ErrorContains(t, err, "error10")
				require.Equal(t, OutcomeMiss, outcome)

				_, ok := cache.get("key1")
				require.False(t, ok, "a failed create leaves no entry behind")

				data, outcome, err := GetOrCreate(t.Context(), cache, "key1", time.Minute, createCallback(1))
				require.NoError(t, err)
				require.Equal(t, "data1", data)
				require.Equal(t, OutcomeMiss, outcome)
			})

			t.Run("create error is wrapped", func(t *testing.T) {
				t.Parallel()

				cache := c.newCache()
				sentinel := errors.New("sentinel")

				_, _, err := GetOrCreate(t.Context(), cache, "key1", time.Minute, func() (Data, error) {
					return "", fmt.Errorf("upstream: %w", sentinel)
				})
				require.ErrorIs(t, err, sentinel)
			})

			t.Run("expired entry is created again", func(t *testing.T) {
				t.Parallel()

				cache := c.newCache()

				_, _, err := GetOrCreate(t.Context(), cache, "key1", 10*time.Millisecond, createCallback(1))
				require.NoError(t, err)

				time.Sleep(30 * time.Millisecond)

				data, outcome, err := GetOrCreate(t.Context(), cache, "key1", time.Minute, createCallback(2))
				require.NoError(t, err)
				require.Equal(t, "data2", data)
				require.Equal(t, OutcomeMiss, outcome)
			})
		})
	}
}

func TestGetOrCreateConcurrent(t *testing.T) {
	t.Parallel()

	const callers = 20

	for _, c := range cacheCases(t) {
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()

			t.Run("concurrent callers share one create", func(t *testing.T) {
				t.Parallel()

				cache := c.newCache()

				var calls atomic.Int32
				release := make(chan struct{})
				create := func() (Data, error) {
					calls.Add(1)
					<-release
					return "shared", nil
				}

				var started, done sync.WaitGroup
				started.Add(callers)
				done.Add(callers)
				results := make([]Data, callers)
				errs := make([]error, callers)
				outcomes := make([]Outcome, callers)
				for i := range callers {
					go func() {
						defer done.Done()
						started.Done()
						results[i], outcomes[i], errs[i] = GetOrCreate(t.Context(), cache, "key", time.Minute, create)
					}()
				}

				started.Wait()
				require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
				time.Sleep(50 * time.Millisecond)
				close(release)
				done.Wait()

				require.Equal(t, int32(1), calls.Load())
				misses := 0
				for i := range callers {
					require.NoError(t, errs[i])
					require.Equal(t, "shared", results[i])
					if outcomes[i] == OutcomeMiss {
						misses++
					}
				}
				require.Equal(t, 1, misses)
			})

			t.Run("every waiter receives the error", func(t *testing.T) {
				t.Parallel()

				cache := c.newCache()

				var calls atomic.Int32
				release := make(chan struct{})
				sentinel := errors.New("upstream down")
				create := func() (Data, error) {
					calls.Add(1)
					<-release
					return "", sentinel
				}

				var started, done sync.WaitGroup
				started.Add(callers)
				done.Add(callers)
				errs := make([]error, callers)
				for i := range callers {
					go func() {
						defer done.Done()
						started.Done()
						_, _, errs[i] = GetOrCreate(t.Context(), cache, "key", time.Minute, create)
					}()
				}

				started.Wait()
				require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
				time.Sleep(50 * time.Millisecond)
				close(release)
				done.Wait()

				require.Equal(t, int32(1), calls.Load())
				for _, err := range errs {
					require.ErrorIs(t, err, sentinel)
				}

				_, ok := cache.get("key")
				require.False(t, ok)
			})

			t.Run("waiter gives up when its context is done", func(t *testing.T) {
				t.Parallel()

				cache := c.newCache()

				release := make(chan struct{})
				leaderStarted := make(chan struct{})
				leaderDone := make(chan struct{})
				go func() {
					defer close(leaderDone)
					data, _, err := GetOrCreate(context.Background(), cache, "key", time.Minute, func() (Data, error) {
						close(leaderStarted)
						<-release
						return "data", nil
					})
					require.NoError(t, err)
					require.Equal(t, "data", data)
				}()
				<-leaderStarted

				ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
				defer cancel()

				_, outcome, err := GetOrCreate(ctx, cache, "key", time.Minute, createUnreachable(t))
				require.ErrorIs(t, err, context.DeadlineExceeded)
				require.Equal(t, OutcomeJoined, outcome)

				close(release)
				<-leaderDone

				data, outcome, err := GetOrCreate(t.Context(), cache, "key", time.Minute, createUnreachable(t))
				require.NoError(t, err)
				require.Equal(t, "data", data)
				require.Equal(t, OutcomeHit, outcome)
			})

			t.Run("requests are de-duplicated in highly concurrent environment", func(t *testing.T) {
				t.Parallel()

				cache := c.newCache()

				for testIndex := range 50 {
					var calls atomic.Int32
					var wg sync.WaitGroup
					for range 10 {
						wg.Add(1)
						go func() {
							defer wg.Done()
							data, _, err := GetOrCreate(t.Context(), cache, fmt.Sprintf("key%d", testIndex), time.Minute, func() (Data, error) {
								calls.Add(1)
								return "data1", nil
							})
							require.NoError(t, err)
							require.Equal(t, "data1", data)
						}()
					}
					wg.Wait()
					require.Equal(t, int32(1), calls.Load(), "create should only be called once")
				}
			})
		})
	}
}
