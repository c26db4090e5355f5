package contentprovider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Kirk1984/redlib/internal/adapters/upstream"
	"github.com/Kirk1984/redlib/internal/domain"
	"github.com/Kirk1984/redlib/internal/logging"
	"github.com/Kirk1984/redlib/internal/ratelimiting"
	"github.com/Kirk1984/redlib/internal/reporting"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Upper bound on a single content request including its retry
const maxOperationTime = 2 * time.Second

type redditContentProvider struct {
	fetcher Fetcher
	baseURL string
	limiter ratelimiting.RequestLimiter

	metrics redditContentProviderMetricsCollection
}

// NewRedditContentProvider reads content from the reddit json api at baseURL.
//
// Every outbound request is run through limiter.
func NewRedditContentProvider(fetcher Fetcher, baseURL string, limiter ratelimiting.RequestLimiter) (ContentProvider, error) {
	meter := otel.Meter("contentprovider/reddit")
	metrics, err := setupRedditContentProviderMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	return &redditContentProvider{
		fetcher: fetcher,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		limiter: limiter,

		metrics: metrics,
	}, nil
}

func (r *redditContentProvider) contentURL(request domain.ContentRequest) string {
	query := request.NormalizedQuery()
	if query != "" {
		query += "&"
	}
	query += "raw_json=1"

	// The front page is "/.json"
	return fmt.Sprintf("%s%s.json?%s", r.baseURL, request.Path, query)
}

func (r *redditContentProvider) GetContent(ctx context.Context, request domain.ContentRequest) (domain.Content, error) {
	content, err := r.getContent(ctx, request)

	r.metrics.requestCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(request.Kind)),
		attribute.String("outcome", outcomeOf(err)),
	))

	return content, err
}

func (r *redditContentProvider) getContent(ctx context.Context, request domain.ContentRequest) (domain.Content, error) {
	content, err := r.fetchContent(ctx, request)

	var random *randomSubredditRedirect
	if !errors.As(err, &random) {
		return content, err
	}

	logging.FromContext(ctx).InfoContext(ctx, "Resolved random subreddit",
		slog.String("requestedPath", request.Path),
		slog.String("resolvedPath", random.target.Path),
	)
	content, err = r.fetchContent(ctx, random.target)
	if err != nil {
		return domain.Content{}, err
	}
	content.ResolvedPath = random.target.Path
	return content, nil
}

func (r *redditContentProvider) fetchContent(ctx context.Context, request domain.ContentRequest) (domain.Content, error) {
	apiURL := r.contentURL(request)
	ctx = logging.AddMetaToContext(ctx,
		slog.String("contentKind", string(request.Kind)),
		slog.String("contentPath", request.Path),
	)

	header := http.Header{}
	header.Set("Accept", "application/json")
	header.Set("Accept-Encoding", "gzip, deflate, br")

	var response upstream.Response
	var fetchErr error
	ran := r.limiter.Limit(ctx, maxOperationTime, func() {
		response, fetchErr = r.fetcher.Fetch(ctx, upstream.Request{URL: apiURL, Header: header})
	})
	if !ran {
		if ctx.Err() != nil {
			return domain.Content{}, fmt.Errorf("%w: gave up waiting for request budget: %w", domain.ErrTemporarilyUnavailable, context.Cause(ctx))
		}
		logging.FromContext(ctx).WarnContext(ctx, "Outbound request budget exhausted")
		return domain.Content{}, fmt.Errorf("%w: outbound request budget exhausted", domain.ErrRateLimited)
	}
	if fetchErr != nil {
		return domain.Content{}, classifyFetchError(ctx, request, fetchErr)
	}

	content, err := parseContent(request.Kind, response.Body)
	if err != nil {
		err = fmt.Errorf("%w: %w", domain.ErrMalformed, err)
		logging.FromContext(ctx).ErrorContext(ctx, "Failed to parse content", "error", err.Error())
		reporting.Report(ctx, err, map[string]string{
			"url":  apiURL,
			"body": truncate(response.Body, 1024),
		})
		return domain.Content{}, err
	}

	return content, nil
}

// Reasons the api gives for a 403 that mean the resource is off limits for anonymous readers
var hiddenReasons = []string{"private", "quarantined", "gold_only", "banned"}

type redditErrorResponse struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// randomSubredditRedirect is returned when reddit redirects a random subreddit to the one it picked
type randomSubredditRedirect struct {
	target domain.ContentRequest
	err    error
}

func (e *randomSubredditRedirect) Error() string {
	return fmt.Sprintf("random subreddit resolved to %s: %s", e.target.Path, e.err)
}

func (e *randomSubredditRedirect) Unwrap() error {
	return e.err
}

var randomSubreddits = []string{"random", "randnsfw"}

func isRandomSubreddit(name string) bool {
	for _, random := range randomSubreddits {
		if strings.EqualFold(name, random) {
			return true
		}
	}
	return false
}

// subredditOf splits "/r/<name>/<rest>" into name and rest
func subredditOf(path string) (string, string, bool) {
	rest, ok := strings.CutPrefix(path, "/r/")
	if !ok {
		return "", "", false
	}
	name, rest, _ := strings.Cut(rest, "/")
	return name, rest, true
}

// randomSubredditTarget rewrites request onto the subreddit location points to, when request is for a
// random subreddit
func randomSubredditTarget(request domain.ContentRequest, location string) (domain.ContentRequest, bool) {
	name, rest, ok := subredditOf(request.Path)
	if !ok || !isRandomSubreddit(name) {
		return domain.ContentRequest{}, false
	}

	target, err := url.Parse(location)
	if err != nil {
		return domain.ContentRequest{}, false
	}
	targetName, _, ok := subredditOf(target.Path)
	if !ok {
		return domain.ContentRequest{}, false
	}
	targetName = strings.TrimSuffix(targetName, ".json")
	if !domain.IsValidName(targetName) || isRandomSubreddit(targetName) {
		return domain.ContentRequest{}, false
	}

	resolved := request
	resolved.Path = "/r/" + targetName
	if rest != "" {
		resolved.Path += "/" + rest
	}
	return resolved, true
}

func classifyFetchError(ctx context.Context, request domain.ContentRequest, err error) error {
	var rejected *upstream.RejectedError
	if !errors.As(err, &rejected) {
		// Transport failures are expected now and then and logged by the upstream client
		return fmt.Errorf("%w: %w", domain.ErrTemporarilyUnavailable, err)
	}

	switch status := rejected.StatusCode; {
	case status == http.StatusNotFound, status == http.StatusGone, status == http.StatusUnavailableForLegalReasons:
		return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", domain.ErrRateLimited, err)
	case status == http.StatusForbidden:
		var reason redditErrorResponse
		if json.Unmarshal(rejected.Body, &reason) == nil {
			for _, hidden := range hiddenReasons {
				if reason.Reason == hidden {
					return fmt.Errorf("%w: subreddit is %s: %w", domain.ErrNotFound, hidden, err)
				}
			}
		}
	case status >= 300 && status < 400:
		// Unknown subreddits redirect to the subreddit search
		location := rejected.Header.Get("Location")
		if strings.Contains(location, "/subreddits/search") {
			return fmt.Errorf("%w: %w", domain.ErrNotFound, err)
		}
		if target, ok := randomSubredditTarget(request, location); ok {
			return &randomSubredditRedirect{target: target, err: err}
		}
	case status >= 500:
		return fmt.Errorf("%w: %w", domain.ErrTemporarilyUnavailable, err)
	}

	err = fmt.Errorf("%w: unexpected upstream response: %w", domain.ErrTemporarilyUnavailable, err)
	logging.FromContext(ctx).ErrorContext(ctx, "Unexpected upstream response", "error", err.Error())
	reporting.Report(ctx, err, map[string]string{
		"statusCode": strconv.Itoa(rejected.StatusCode),
		"body":       truncate(rejected.Body, 1024),
	})
	return err
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrMalformed):
		return "malformed"
	case errors.Is(err, domain.ErrTemporarilyUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func truncate(body []byte, limit int) string {
	if len(body) > limit {
		body = body[:limit]
	}
	return string(body)
}

type redditContentProviderMetricsCollection struct {
	requestCount metric.Int64Counter
}

func setupRedditContentProviderMetrics(meter metric.Meter) (redditContentProviderMetricsCollection, error) {
	requestCount, err := meter.Int64Counter("contentprovider/reddit/request_count")
	if err != nil {
		return redditContentProviderMetricsCollection{}, fmt.Errorf("failed to create metric: %w", err)
	}

	return redditContentProviderMetricsCollection{
		requestCount: requestCount,
	}, nil
}
