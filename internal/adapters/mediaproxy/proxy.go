package mediaproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/Kirk1984/redlib/internal/adapters/upstream"
	"github.com/Kirk1984/redlib/internal/domain"
	"github.com/Kirk1984/redlib/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const copyBufferSize = 32 << 10

var (
	forwardedRequestHeaders = []string{
		"Range",
		"If-Modified-Since",
		"If-None-Match",
		"Cache-Control",
		"Accept-Encoding",
	}
	forwardedResponseHeaders = []string{
		"Content-Type",
		"Content-Length",
		"Content-Range",
		"Content-Encoding",
		"Accept-Ranges",
		"Cache-Control",
		"Last-Modified",
		"ETag",
		"Expires",
	}
)

var bufferPool = sync.Pool{
	New: func() any {
		buffer := make([]byte, copyBufferSize)
		return &buffer
	},
}

type Streamer interface {
	FetchStream(ctx context.Context, request upstream.Request) (*upstream.Stream, error)
}

type proxyMetricsCollection struct {
	activeSessions   metric.Int64UpDownCounter
	sessionCount     metric.Int64Counter
	overlappingCount metric.Int64Counter
	bytesStreamed    metric.Int64Counter
}

func setupProxyMetrics(meter metric.Meter) (proxyMetricsCollection, error) {
	activeSessions, err := meter.Int64UpDownCounter("mediaproxy/active_sessions")
	if err != nil {
		return proxyMetricsCollection{}, fmt.Errorf("failed to create active sessions metric: %w", err)
	}

	sessionCount, err := meter.Int64Counter("mediaproxy/session_count")
	if err != nil {
		return proxyMetricsCollection{}, fmt.Errorf("failed to create session count metric: %w", err)
	}

	// Sessions opened while another one for the same origin url and range was still live
	overlappingCount, err := meter.Int64Counter("mediaproxy/overlapping_session_count")
	if err != nil {
		return proxyMetricsCollection{}, fmt.Errorf("failed to create overlapping session count metric: %w", err)
	}

	bytesStreamed, err := meter.Int64Counter("mediaproxy/bytes_streamed", metric.WithUnit("By"))
	if err != nil {
		return proxyMetricsCollection{}, fmt.Errorf("failed to create bytes streamed metric: %w", err)
	}

	return proxyMetricsCollection{
		activeSessions:   activeSessions,
		sessionCount:     sessionCount,
		overlappingCount: overlappingCount,
		bytesStreamed:    bytesStreamed,
	}, nil
}

// Proxy streams media from an allow-listed set of origin hosts
type Proxy struct {
	streamer     Streamer
	allowedHosts hostAllowList
	registry     *sessionRegistry

	metrics proxyMetricsCollection
}

func NewProxy(streamer Streamer, allowedHosts []string) (*Proxy, error) {
	allowList, err := newHostAllowList(allowedHosts)
	if err != nil {
		return nil, err
	}

	metrics, err := setupProxyMetrics(otel.Meter("mediaproxy"))
	if err != nil {
		return nil, fmt.Errorf("failed to set up metrics: %w", err)
	}

	return &Proxy{
		streamer:     streamer,
		allowedHosts: allowList,
		registry:     newSessionRegistry(),

		metrics: metrics,
	}, nil
}

// CheckOrigin returns domain.ErrForbidden unless originURL is a plain https url on an allowed host
func (p *Proxy) CheckOrigin(originURL string) error {
	return p.allowedHosts.checkRaw(originURL)
}

// ActiveSessions is the number of sessions that have not terminated yet
func (p *Proxy) ActiveSessions() int {
	return p.registry.active()
}

// Stream opens originURL and returns once the origin has answered with a success or 304.
//
// The session is bound to ctx: cancelling it aborts the origin transfer. The session must be closed,
// which WriteTo does when it returns.
func (p *Proxy) Stream(ctx context.Context, originURL string, clientHeader http.Header) (*Session, error) {
	if err := p.CheckOrigin(originURL); err != nil {
		return nil, err
	}

	header := http.Header{}
	for _, name := range forwardedRequestHeaders {
		if value := clientHeader.Get(name); value != "" {
			header.Set(name, value)
		}
	}
	if header.Get("Accept-Encoding") == "" {
		header.Set("Accept-Encoding", "identity")
	}

	key := originURL + "|" + header.Get("Range")
	release, concurrent := p.registry.register(key)
	p.metrics.activeSessions.Add(ctx, 1)
	if concurrent > 1 {
		p.metrics.overlappingCount.Add(ctx, 1)
	}
	ctx = logging.AddMetaToContext(ctx, slog.Int("sessionsForOrigin", concurrent))

	ctx, cancel := context.WithCancel(ctx)
	session := &Session{
		ctx:     ctx,
		cancel:  cancel,
		release: release,
		proxy:   p,
	}

	opened := false
	defer func() {
		if !opened {
			session.Close()
		}
	}()

	stream, err := p.streamer.FetchStream(ctx, upstream.Request{URL: originURL, Header: header})
	if err != nil {
		err = p.classify(ctx, err)
		session.outcome = outcomeOf(err)
		return nil, err
	}

	// The http client may have followed redirects without a RedirectPolicy
	if stream.URL != "" && stream.URL != originURL {
		if err := p.CheckOrigin(stream.URL); err != nil {
			stream.Body.Close()
			session.outcome = outcomeOf(err)
			return nil, fmt.Errorf("redirected off the allow list: %w", err)
		}
	}

	session.StatusCode = stream.StatusCode
	session.Header = responseHeader(stream)
	session.body = stream.Body
	opened = true

	return session, nil
}

func (p *Proxy) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %w", domain.ErrClientDisconnected, err)
	}

	if errors.Is(err, domain.ErrForbidden) {
		return err
	}

	var rejected *upstream.RejectedError
	if errors.As(err, &rejected) {
		return &OriginRejectedError{StatusCode: rejected.StatusCode}
	}

	return fmt.Errorf("%w: %w", ErrOriginUnavailable, err)
}

func responseHeader(stream *upstream.Stream) http.Header {
	header := http.Header{}
	for _, name := range forwardedResponseHeaders {
		if values := stream.Header.Values(name); len(values) > 0 {
			header[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
		}
	}

	if stream.StatusCode == http.StatusOK && !strings.EqualFold(header.Get("Accept-Ranges"), "bytes") {
		header.Set("Accept-Ranges", "none")
	}

	return header
}

func outcomeOf(err error) string {
	var rejected *OriginRejectedError
	switch {
	case err == nil:
		return "complete"
	case errors.Is(err, domain.ErrClientDisconnected):
		return "client_disconnected"
	case errors.As(err, &rejected):
		return "origin_rejected"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	default:
		return "origin_unavailable"
	}
}

// Session is one origin transfer on its way to one client
type Session struct {
	StatusCode int
	Header     http.Header

	ctx     context.Context
	cancel  context.CancelFunc
	body    io.ReadCloser
	release func()
	proxy   *Proxy

	outcome   string
	closeOnce sync.Once
}

// WriteTo copies the body to w chunk by chunk, flushing after every chunk when w supports it.
//
// A failing write returns domain.ErrClientDisconnected. The session is closed when WriteTo returns.
func (s *Session) WriteTo(w io.Writer) (int64, error) {
	defer s.Close()

	var written int64
	defer func() {
		s.proxy.metrics.bytesStreamed.Add(s.ctx, written)
	}()

	if s.body == nil {
		return 0, nil
	}

	bufferPtr := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bufferPtr)
	buffer := *bufferPtr

	flusher, _ := w.(http.Flusher)

	for {
		n, readErr := s.body.Read(buffer)
		if n > 0 {
			m, writeErr := w.Write(buffer[:n])
			written += int64(m)
			if writeErr == nil && m < n {
				writeErr = io.ErrShortWrite
			}
			if writeErr != nil {
				s.outcome = outcomeOf(domain.ErrClientDisconnected)
				return written, fmt.Errorf("%w: %w", domain.ErrClientDisconnected, writeErr)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}

		if errors.Is(readErr, io.EOF) {
			s.outcome = outcomeOf(nil)
			return written, nil
		}
		if readErr != nil {
			err := fmt.Errorf("%w: %w", ErrOriginUnavailable, readErr)
			if s.ctx.Err() != nil {
				err = fmt.Errorf("%w: %w", domain.ErrClientDisconnected, readErr)
			}
			s.outcome = outcomeOf(err)
			return written, err
		}
	}
}

// Close aborts the origin transfer if it is still running and releases the session
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		if s.body != nil {
			_ = s.body.Close()
		}
		s.cancel()
		s.release()

		outcome := s.outcome
		if outcome == "" {
			// Closed before the body was drained
			outcome = "abandoned"
		}

		// Record with a context that outlives the session
		ctx := context.WithoutCancel(s.ctx)
		s.proxy.metrics.activeSessions.Add(ctx, -1)
		s.proxy.metrics.sessionCount.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
		logging.FromContext(ctx).InfoContext(ctx, "Media session closed", slog.String("outcome", outcome))
	})

	return nil
}
