package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Kirk1984/redlib/internal/adapters/cache"
	"github.com/Kirk1984/redlib/internal/adapters/contentprovider"
	"github.com/Kirk1984/redlib/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type GetContent func(ctx context.Context, request domain.ContentRequest) (domain.Content, error)

// ContentTTLs holds how long parsed content is served from the cache per resource class
type ContentTTLs struct {
	Listing time.Duration
	Thread  time.Duration
	About   time.Duration
}

func (t ContentTTLs) For(class domain.ResourceClass) time.Duration {
	switch class {
	case domain.ClassThread:
		return t.Thread
	case domain.ClassAbout:
		return t.About
	default:
		return t.Listing
	}
}

type getContentMetricsCollection struct {
	requestCount metric.Int64Counter
}

func setupGetContentMetrics(meter metric.Meter) (getContentMetricsCollection, error) {
	requestCount, err := meter.Int64Counter("app/get_content/request_count")
	if err != nil {
		return getContentMetricsCollection{}, fmt.Errorf("failed to create metric: %w", err)
	}

	return getContentMetricsCollection{
		requestCount: requestCount,
	}, nil
}

// BuildGetContentWithCache serves content from contentCache and asks provider on a miss.
//
// The upstream fetch outlives the caller that started it so that a disconnecting client doesn't fail
// everyone waiting on the same key. It is bounded by requestTimeout instead.
func BuildGetContentWithCache(
	contentCache cache.Cache[domain.Content],
	provider contentprovider.ContentProvider,
	ttls ContentTTLs,
	requestTimeout time.Duration,
) (GetContent, error) {
	metrics, err := setupGetContentMetrics(otel.Meter("app/get_content"))
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	return func(ctx context.Context, request domain.ContentRequest) (domain.Content, error) {
		content, outcome, err := cache.GetOrCreate(
			ctx,
			contentCache,
			request.CacheKey(),
			ttls.For(request.Kind.Class()),
			func() (domain.Content, error) {
				fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requestTimeout)
				defer cancel()

				return provider.GetContent(fetchCtx, request)
			},
		)

		metrics.requestCount.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", string(request.Kind)),
			attribute.String("cache", string(outcome)),
			attribute.Bool("success", err == nil),
		))

		if err != nil {
			// NOTE: ContentProvider implementations handle their own error reporting
			return domain.Content{}, fmt.Errorf("failed to get content: %w", err)
		}

		return content, nil
	}, nil
}
