package ports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Kirk1984/redlib/internal/app"
	"github.com/Kirk1984/redlib/internal/domain"
	"github.com/Kirk1984/redlib/internal/logging"
	"github.com/Kirk1984/redlib/internal/ratelimiting"
	"github.com/Kirk1984/redlib/internal/reporting"
)

// Retry-After values in seconds
const (
	unavailableRetryAfter = 30
	rateLimitedRetryAfter = 60
)

// ContentRequestBuilder turns an inbound request into the logical content request it asks for
type ContentRequestBuilder func(r *http.Request) (domain.ContentRequest, error)

func FrontPageRequest(r *http.Request) (domain.ContentRequest, error) {
	sort := r.PathValue("sort")
	if sort != "" && !domain.IsListingSort(sort) {
		return domain.ContentRequest{}, fmt.Errorf("%w: unknown sort %q", domain.ErrNotFound, sort)
	}
	return domain.NewFrontPageRequest(sort, r.URL.Query()), nil
}

func SubredditListingRequest(r *http.Request) (domain.ContentRequest, error) {
	return domain.NewSubredditListingRequest(r.PathValue("subreddit"), r.PathValue("sort"), r.URL.Query())
}

func SubredditSearchRequest(r *http.Request) (domain.ContentRequest, error) {
	query := r.URL.Query()
	// Searches within a subreddit unless told otherwise
	if query.Get("restrict_sr") == "" {
		query.Set("restrict_sr", "on")
	}
	return domain.NewSearchRequest(r.PathValue("subreddit"), query)
}

func SearchRequest(r *http.Request) (domain.ContentRequest, error) {
	return domain.NewSearchRequest("", r.URL.Query())
}

func ThreadRequest(r *http.Request) (domain.ContentRequest, error) {
	return domain.NewThreadRequest(r.PathValue("subreddit"), r.PathValue("id"), r.URL.Query())
}

func SubredditInfoRequest(r *http.Request) (domain.ContentRequest, error) {
	return domain.NewSubredditInfoRequest(r.PathValue("subreddit"))
}

func UserListingRequest(r *http.Request) (domain.ContentRequest, error) {
	return domain.NewUserListingRequest(r.PathValue("username"), r.URL.Query())
}

func UserInfoRequest(r *http.Request) (domain.ContentRequest, error) {
	return domain.NewUserInfoRequest(r.PathValue("username"))
}

type ContentRoute struct {
	// ServeMux pattern without the method
	Pattern string
	// Name of the port in logs and metrics
	Port         string
	BuildRequest ContentRequestBuilder
}

// ContentRoutes are the front-end paths answered with content
var ContentRoutes = []ContentRoute{
	{"/{$}", "frontpage", FrontPageRequest},
	{"/{sort}", "frontpage", FrontPageRequest},
	{"/search", "search", SearchRequest},
	{"/r/{subreddit}", "subreddit", SubredditListingRequest},
	{"/r/{subreddit}/{sort}", "subreddit", SubredditListingRequest},
	{"/r/{subreddit}/search", "subredditsearch", SubredditSearchRequest},
	{"/r/{subreddit}/about", "subredditabout", SubredditInfoRequest},
	{"/r/{subreddit}/comments/{id}", "thread", ThreadRequest},
	{"/r/{subreddit}/comments/{id}/{title}", "thread", ThreadRequest},
	{"/user/{username}", "user", UserListingRequest},
	{"/user/{username}/about", "userabout", UserInfoRequest},
}

type contentResponse struct {
	Success bool            `json:"success"`
	Content *domain.Content `json:"content,omitempty"`
	Cause   string          `json:"cause,omitempty"`
}

func writeJSON(ctx context.Context, w http.ResponseWriter, statusCode int, response contentResponse) {
	body, err := json.Marshal(response)
	if err != nil {
		reporting.Report(ctx, fmt.Errorf("failed to marshal response: %w", err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"cause":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write(body)
}

func writeRateLimited(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", strconv.Itoa(rateLimitedRetryAfter))
	writeJSON(r.Context(), w, http.StatusTooManyRequests, contentResponse{Cause: "rate limit exceeded"})
}

func writeContentError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(ctx, w, http.StatusNotFound, contentResponse{Cause: "not found"})
	case errors.Is(err, domain.ErrRateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(rateLimitedRetryAfter))
		writeJSON(ctx, w, http.StatusTooManyRequests, contentResponse{Cause: "rate limited by upstream"})
	case errors.Is(err, domain.ErrTemporarilyUnavailable):
		w.Header().Set("Retry-After", strconv.Itoa(unavailableRetryAfter))
		writeJSON(ctx, w, http.StatusServiceUnavailable, contentResponse{Cause: "temporarily unavailable"})
	case errors.Is(err, domain.ErrMalformed):
		writeJSON(ctx, w, http.StatusBadGateway, contentResponse{Cause: "unexpected upstream response"})
	default:
		writeJSON(ctx, w, http.StatusInternalServerError, contentResponse{Cause: "internal server error"})
	}
}

func MakeGetContentHandler(
	route string,
	buildRequest ContentRequestBuilder,
	getContent app.GetContent,
	ipRateLimiter ratelimiting.RequestRateLimiter,
	allowedOrigins *DomainSuffixes,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := ComposeMiddlewares(
		buildMetricsMiddleware(route),
		logging.NewRequestLoggerMiddleware(rootLogger),
		sentryMiddleware,
		BuildCORSMiddleware(allowedOrigins),
		NewRateLimitMiddleware(ipRateLimiter, writeRateLimited),
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		request, err := buildRequest(r)
		if err != nil {
			logging.FromContext(ctx).InfoContext(ctx, "Invalid content request", "error", err.Error())
			writeContentError(ctx, w, err)
			return
		}

		ctx = logging.AddMetaToContext(ctx,
			slog.String("contentKind", string(request.Kind)),
			slog.String("cacheKey", request.CacheKey()),
		)
		ctx = reporting.AddContentRequestToContext(ctx, request)

		content, err := getContent(ctx, request)
		if err != nil {
			// NOTE: GetContent implementations handle their own error reporting
			logging.FromContext(ctx).InfoContext(ctx, "Failed to get content", "error", err.Error())
			writeContentError(ctx, w, err)
			return
		}

		writeJSON(ctx, w, http.StatusOK, contentResponse{Success: true, Content: &content})
	}

	return middleware(handler)
}
