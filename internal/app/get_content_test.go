package app_test

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Kirk1984/redlib/internal/adapters/cache"
	"github.com/Kirk1984/redlib/internal/app"
	"github.com/Kirk1984/redlib/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockedContentProvider struct {
	calls atomic.Int64

	getContent func(ctx context.Context, request domain.ContentRequest) (domain.Content, error)
}

func (m *mockedContentProvider) GetContent(ctx context.Context, request domain.ContentRequest) (domain.Content, error) {
	m.calls.Add(1)
	return m.getContent(ctx, request)
}

func listingContent(title string) domain.Content {
	return domain.Content{
		Kind: domain.KindListing,
		Listing: &domain.Listing{
			Posts: []domain.Post{{ID: "abc", Title: title}},
		},
	}
}

type clock struct {
	mutex sync.Mutex
	now   time.Time
}

func (c *clock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.now = c.now.Add(d)
}

var ttls = app.ContentTTLs{
	Listing: 30 * time.Second,
	Thread:  time.Minute,
	About:   10 * time.Minute,
}

func TestGetContent(t *testing.T) {
	t.Parallel()

	golang, err := domain.NewSubredditListingRequest("golang", "hot", nil)
	require.NoError(t, err)

	t.Run("identical requests within the ttl hit upstream once", func(t *testing.T) {
		t.Parallel()

		provider := &mockedContentProvider{
			getContent: func(ctx context.Context, request domain.ContentRequest) (domain.Content, error) {
				return listingContent("first"), nil
			},
		}
		c := &clock{now: time.Now()}
		getContent, err := app.BuildGetContentWithCache(cache.NewBasicCache[domain.Content](100, c.Now), provider, ttls, time.Second)
		require.NoError(t, err)

		first, err := getContent(t.Context(), golang)
		require.NoError(t, err)

		c.Advance(29 * time.Second)
		second, err := getContent(t.Context(), golang)
		require.NoError(t, err)

		require.Equal(t, first, second)
		require.Same(t, first.Listing, second.Listing)
		require.Equal(t, int64(1), provider.calls.Load())
	})

	t.Run("parameter order does not matter", func(t *testing.T) {
		t.Parallel()

		provider := &mockedContentProvider{
			getContent: func(ctx context.Context, request domain.ContentRequest) (domain.Content, error) {
				return listingContent("search"), nil
			},
		}
		getContent, err := app.BuildGetContentWithCache(cache.NewBasicCache[domain.Content](100, time.Now), provider, ttls, time.Second)
		require.NoError(t, err)

		a, err := domain.NewSearchRequest("", url.Values{"q": {"go"}, "sort": {"new"}})
		require.NoError(t, err)
		b, err := domain.NewSearchRequest("", url.Values{"sort": {"new"}, "q": {"go"}})
		require.NoError(t, err)
		require.Equal(t, a.CacheKey(), b.CacheKey())

		_, err = getContent(t.Context(), a)
		require.NoError(t, err)
		_, err = getContent(t.Context(), b)
		require.NoError(t, err)
		require.Equal(t, int64(1), provider.calls.Load())
	})

	t.Run("ttl depends on the resource class", func(t *testing.T) {
		t.Parallel()

		provider := &mockedContentProvider{
			getContent: func(ctx context.Context, request domain.ContentRequest) (domain.Content, error) {
				return domain.Content{Kind: request.Kind}, nil
			},
		}
		c := &clock{now: time.Now()}
		getContent, err := app.BuildGetContentWithCache(cache.NewBasicCache[domain.Content](100, c.Now), provider, ttls, time.Second)
		require.NoError(t, err)

		about, err := domain.NewSubredditInfoRequest("golang")
		require.NoError(t, err)

		_, err = getContent(t.Context(), golang)
		require.NoError(t, err)
		_, err = getContent(t.Context(), about)
		require.NoError(t, err)
		require.Equal(t, int64(2), provider.calls.Load())

		c.Advance(30 * time.Second)

		// The listing expired, the about page did not
		_, err = getContent(t.Context(), golang)
		require.NoError(t, err)
		_, err = getContent(t.Context(), about)
		require.NoError(t, err)
		require.Equal(t, int64(3), provider.calls.Load())
	})

	t.Run("errors are not cached", func(t *testing.T) {
		t.Parallel()

		fail := atomic.Bool{}
		fail.Store(true)
		provider := &mockedContentProvider{
			getContent: func(ctx context.Context, request domain.ContentRequest) (domain.Content, error) {
				if fail.Load() {
					return domain.Content{}, domain.ErrTemporarilyUnavailable
				}
				return listingContent("recovered"), nil
			},
		}
		getContent, err := app.BuildGetContentWithCache(cache.NewBasicCache[domain.Content](100, time.Now), provider, ttls, time.Second)
		require.NoError(t, err)

		_, err = getContent(t.Context(), golang)
		require.ErrorIs(t, err, domain.ErrTemporarilyUnavailable)

		fail.Store(false)
		content, err := getContent(t.Context(), golang)
		require.NoError(t, err)
		require.Equal(t, "recovered", content.Listing.Posts[0].Title)
		require.Equal(t, int64(2), provider.calls.Load())
	})

	t.Run("a disconnecting caller does not abort the shared fetch", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		fetchErr := make(chan error, 1)
		provider := &mockedContentProvider{
			getContent: func(ctx context.Context, request domain.ContentRequest) (domain.Content, error) {
				<-release
				fetchErr <- ctx.Err()
				return listingContent("slow"), nil
			},
		}
		contentCache, stop := cache.NewTTLCache[domain.Content](100)
		t.Cleanup(stop)
		getContent, err := app.BuildGetContentWithCache(contentCache, provider, ttls, 10*time.Second)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(t.Context())
		done := make(chan error, 1)
		go func() {
			_, err := getContent(ctx, golang)
			done <- err
		}()

		cancel()
		select {
		case err := <-done:
			require.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("caller did not give up")
		}

		close(release)
		require.NoError(t, <-fetchErr, "fetch must not see the caller's cancellation")

		// The result was stored for the next caller
		require.Eventually(t, func() bool {
			content, err := getContent(t.Context(), golang)
			return err == nil && content.Listing.Posts[0].Title == "slow"
		}, time.Second, 10*time.Millisecond)
		assert.Equal(t, int64(1), provider.calls.Load())
	})

	t.Run("concurrent callers share one fetch", func(t *testing.T) {
		t.Parallel()

		release := make(chan struct{})
		provider := &mockedContentProvider{
			getContent: func(ctx context.Context, request domain.ContentRequest) (domain.Content, error) {
				<-release
				return listingContent("shared"), nil
			},
		}
		getContent, err := app.BuildGetContentWithCache(cache.NewBasicCache[domain.Content](100, time.Now), provider, ttls, time.Second)
		require.NoError(t, err)

		var wg sync.WaitGroup
		results := make(chan domain.Content, 25)
		for range 25 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				content, err := getContent(t.Context(), golang)
				assert.NoError(t, err)
				results <- content
			}()
		}

		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()
		close(results)

		for content := range results {
			require.Equal(t, "shared", content.Listing.Posts[0].Title)
		}
		require.Equal(t, int64(1), provider.calls.Load())
	})
}

func TestContentTTLs(t *testing.T) {
	t.Parallel()

	require.Equal(t, 30*time.Second, ttls.For(domain.ClassListing))
	require.Equal(t, time.Minute, ttls.For(domain.ClassThread))
	require.Equal(t, 10*time.Minute, ttls.For(domain.ClassAbout))
}
