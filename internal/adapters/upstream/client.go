package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Kirk1984/redlib/internal/constants"
	"github.com/Kirk1984/redlib/internal/logging"
	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultRetryDelay = 250 * time.Millisecond
	maxAttempts       = 2

	// Content API pages are at most a few MB even for huge threads
	maxBodyBytes = 32 << 20
	// Kept from a rejected response so callers can inspect the reason
	maxRejectedBodyBytes = 64 << 10
)

type HttpClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type Request struct {
	URL    string
	Header http.Header
}

// Response is a fully read and decoded upstream response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Stream is an upstream response whose body is read incrementally. The body is still encoded as
// described by its Content-Encoding header. Body must be closed.
type Stream struct {
	// URL the response was served from, after any redirects the http client followed
	URL        string
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

type clientMetricsCollection struct {
	requestCount    metric.Int64Counter
	requestDuration metric.Float64Histogram
	retryCount      metric.Int64Counter
}

func setupClientMetrics(meter metric.Meter) (clientMetricsCollection, error) {
	requestCount, err := meter.Int64Counter("upstream/request_count")
	if err != nil {
		return clientMetricsCollection{}, fmt.Errorf("failed to create request count metric: %w", err)
	}

	requestDuration, err := meter.Float64Histogram(
		"upstream/request_duration_seconds",
		metric.WithUnit("s"),
	)
	if err != nil {
		return clientMetricsCollection{}, fmt.Errorf("failed to create request duration metric: %w", err)
	}

	retryCount, err := meter.Int64Counter("upstream/retry_count")
	if err != nil {
		return clientMetricsCollection{}, fmt.Errorf("failed to create retry count metric: %w", err)
	}

	return clientMetricsCollection{
		requestCount:    requestCount,
		requestDuration: requestDuration,
		retryCount:      retryCount,
	}, nil
}

// Client performs requests against one upstream. Transport failures are classified as ErrUnavailable and
// retried once. Unsuccessful statuses are returned as *RejectedError and never retried.
type Client struct {
	name       string
	httpClient HttpClient
	timeout    time.Duration
	retryDelay time.Duration

	metrics clientMetricsCollection
	tracer  trace.Tracer
}

// NewClient creates a client where every attempt is bounded by timeout. For streams the timeout bounds
// the wait for response headers and each pause between body reads.
func NewClient(name string, httpClient HttpClient, timeout time.Duration) (*Client, error) {
	const instrumentationName = "redlib/adapters/upstream"

	meter := otel.Meter(instrumentationName)
	tracer := otel.Tracer(instrumentationName)

	metrics, err := setupClientMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	return &Client{
		name:       name,
		httpClient: httpClient,
		timeout:    timeout,
		retryDelay: defaultRetryDelay,

		metrics: metrics,
		tracer:  tracer,
	}, nil
}

func (c *Client) newRequest(ctx context.Context, request Request) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, request.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if request.Header != nil {
		req.Header = request.Header.Clone()
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", constants.USER_AGENT)
	}

	return req, nil
}

func (c *Client) retry(ctx context.Context, method string) []backoff.RetryOption {
	return []backoff.RetryOption{
		backoff.WithBackOff(backoff.NewConstantBackOff(c.retryDelay)),
		backoff.WithMaxTries(maxAttempts),
		backoff.WithNotify(func(err error, delay time.Duration) {
			c.metrics.retryCount.Add(ctx, 1, metric.WithAttributes(
				attribute.String("client", c.name),
				attribute.String("method", method),
			))
			logging.FromContext(ctx).InfoContext(
				ctx,
				"Retrying upstream request",
				slog.String("client", c.name),
				slog.String("error", err.Error()),
				slog.Duration("delay", delay),
			)
		}),
	}
}

// classify strips retry bookkeeping from err and makes sure cancellations surface as ErrUnavailable
func classify(err error) error {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}

	if err != nil && !errors.Is(err, ErrUnavailable) &&
		(errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	return err
}

func outcomeOf(err error) string {
	var rejected *RejectedError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &rejected):
		return "rejected"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}

func (c *Client) record(ctx context.Context, span trace.Span, method string, statusCode int, start time.Time, err error) {
	outcome := outcomeOf(err)
	attributes := metric.WithAttributes(
		attribute.String("client", c.name),
		attribute.String("method", method),
		attribute.String("outcome", outcome),
		attribute.String("status_code", strconv.Itoa(statusCode)),
	)
	duration := time.Since(start)
	c.metrics.requestCount.Add(ctx, 1, attributes)
	c.metrics.requestDuration.Record(ctx, duration.Seconds(), attributes)

	span.SetAttributes(
		attribute.String("upstream.outcome", outcome),
		attribute.Int("http.response.status_code", statusCode),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	logging.FromContext(ctx).InfoContext(
		ctx,
		"Upstream request completed",
		slog.String("client", c.name),
		slog.String("method", method),
		slog.String("outcome", outcome),
		slog.Int("statusCode", statusCode),
		slog.Duration("duration", duration),
	)
}

// Fetch performs a GET request and returns the fully read, decompressed body
func (c *Client) Fetch(ctx context.Context, request Request) (Response, error) {
	ctx, span := c.tracer.Start(ctx, "UpstreamClient.Fetch")
	defer span.End()

	start := time.Now()

	response, err := backoff.Retry(ctx, func() (Response, error) {
		return c.fetchOnce(ctx, request)
	}, c.retry(ctx, "fetch")...)
	err = classify(err)

	statusCode := response.StatusCode
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		statusCode = rejected.StatusCode
	}
	c.record(ctx, span, "fetch", statusCode, start, err)

	if err != nil {
		return Response{}, err
	}
	return response, nil
}

func (c *Client) fetchOnce(ctx context.Context, request Request) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, request)
	if err != nil {
		return Response{}, backoff.Permanent(err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, sendError(err)
	}
	defer resp.Body.Close()

	success := resp.StatusCode >= 200 && resp.StatusCode < 300

	limit := int64(maxBodyBytes)
	if !success {
		limit = maxRejectedBodyBytes
	}

	body, err := readBody(resp, limit)
	if err != nil && success {
		return Response{}, err
	}

	header := resp.Header.Clone()
	if !success {
		return Response{}, backoff.Permanent(&RejectedError{
			StatusCode: resp.StatusCode,
			Header:     header,
			Body:       body,
		})
	}

	// The body no longer matches these
	header.Del("Content-Encoding")
	header.Del("Content-Length")

	return Response{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
	}, nil
}

func sendError(err error) error {
	if errors.Is(err, ErrRedirectRefused) {
		return backoff.Permanent(fmt.Errorf("failed to send request: %w", err))
	}
	return fmt.Errorf("%w: failed to send request: %w", ErrUnavailable, err)
}

func readBody(resp *http.Response, limit int64) ([]byte, error) {
	decoded, err := decodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer decoded.Close()

	body, err := io.ReadAll(io.LimitReader(decoded, limit+1))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %w", ErrUnavailable, err)
	}

	if int64(len(body)) > limit {
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil, backoff.Permanent(fmt.Errorf("%w: response body exceeds %d bytes", ErrUnavailable, limit))
		}
		body = body[:limit]
	}

	return body, nil
}

// FetchStream performs a GET request and returns as soon as the response headers arrive.
//
// 2xx and 304 Not Modified are successes. Cancelling ctx or closing the body aborts the transfer.
func (c *Client) FetchStream(ctx context.Context, request Request) (*Stream, error) {
	ctx, span := c.tracer.Start(ctx, "UpstreamClient.FetchStream")
	defer span.End()

	start := time.Now()

	stream, err := backoff.Retry(ctx, func() (*Stream, error) {
		return c.fetchStreamOnce(ctx, request)
	}, c.retry(ctx, "stream")...)
	err = classify(err)

	statusCode := 0
	if stream != nil {
		statusCode = stream.StatusCode
	}
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		statusCode = rejected.StatusCode
	}
	c.record(ctx, span, "stream", statusCode, start, err)

	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (c *Client) fetchStreamOnce(ctx context.Context, request Request) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := c.newRequest(ctx, request)
	if err != nil {
		cancel()
		return nil, backoff.Permanent(err)
	}

	headerTimer := time.AfterFunc(c.timeout, cancel)
	resp, err := c.httpClient.Do(req)
	headerTimer.Stop()
	if err != nil {
		cancel()
		return nil, sendError(err)
	}

	if (resp.StatusCode < 200 || resp.StatusCode >= 300) && resp.StatusCode != http.StatusNotModified {
		defer cancel()
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxRejectedBodyBytes))
		return nil, backoff.Permanent(&RejectedError{
			StatusCode: resp.StatusCode,
			Header:     resp.Header.Clone(),
			Body:       body,
		})
	}

	finalURL := request.URL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Stream{
		URL:        finalURL,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       newIdleTimeoutBody(resp.Body, c.timeout, cancel),
	}, nil
}
