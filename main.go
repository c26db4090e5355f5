package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Kirk1984/redlib/internal/adapters/cache"
	"github.com/Kirk1984/redlib/internal/adapters/contentprovider"
	"github.com/Kirk1984/redlib/internal/adapters/mediaproxy"
	"github.com/Kirk1984/redlib/internal/adapters/upstream"
	"github.com/Kirk1984/redlib/internal/app"
	"github.com/Kirk1984/redlib/internal/config"
	"github.com/Kirk1984/redlib/internal/domain"
	"github.com/Kirk1984/redlib/internal/logging"
	"github.com/Kirk1984/redlib/internal/ports"
	"github.com/Kirk1984/redlib/internal/ratelimiting"
	"github.com/Kirk1984/redlib/internal/reporting"
	"github.com/Kirk1984/redlib/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	_ "golang.org/x/crypto/x509roots/fallback"
)

const shutdownTimeout = 10 * time.Second

func main() {
	instanceID := uuid.New().String()
	logger := slog.New(logging.NewTraceLogHandler(slog.NewJSONHandler(os.Stdout, nil))).With("instanceID", instanceID)

	fail := func(msg string, args ...any) {
		logger.Error(msg, args...)
		os.Exit(1)
	}

	config, err := config.ConfigFromEnv()
	if err != nil {
		fail("Failed to load config", "error", err.Error())
	}
	logger.Info("Loaded config", "config", config.NonSensitiveString())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if config.OTelEnabled() {
		shutdownOTel, err := telemetry.SetupOTelSDK(ctx, "redlib")
		if err != nil {
			fail("Failed to initialize OpenTelemetry", "error", err.Error())
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := shutdownOTel(shutdownCtx); err != nil {
				logger.Error("Failed to shut down OpenTelemetry", "error", err.Error())
			}
		}()
		logger.Info("Initialized OpenTelemetry")
	}

	sentryMiddleware, flush, err := reporting.NewSentryMiddlewareOrMock(config)
	if err != nil {
		fail("Failed to initialize Sentry", "error", err.Error())
	}
	defer flush()
	logger.Info("Initialized Sentry middleware")

	contentCache, stopCache := cache.NewTTLCache[domain.Content](uint64(config.CacheMaxEntries()))
	defer stopCache()

	// The content API answers moved or banned subreddits with redirects we classify ourselves
	contentHTTPClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	mediaRedirectPolicy, err := mediaproxy.RedirectPolicy(config.MediaHosts())
	if err != nil {
		fail("Failed to initialize media redirect policy", "error", err.Error())
	}
	mediaHTTPClient := &http.Client{
		Transport:     otelhttp.NewTransport(http.DefaultTransport),
		CheckRedirect: mediaRedirectPolicy,
	}

	redditClient, err := upstream.NewClient("reddit", contentHTTPClient, config.RequestTimeout())
	if err != nil {
		fail("Failed to initialize content client", "error", err.Error())
	}
	mediaClient, err := upstream.NewClient("media", mediaHTTPClient, config.MediaTimeout())
	if err != nil {
		fail("Failed to initialize media client", "error", err.Error())
	}

	upstreamLimiter := ratelimiting.NewWindowLimitRequestLimiter(config.UpstreamBudget(), time.Minute, time.Now, time.After)

	contentProvider, err := contentprovider.NewRedditContentProvider(redditClient, config.RedditBaseURL(), upstreamLimiter)
	if err != nil {
		fail("Failed to initialize content provider", "error", err.Error())
	}
	logger.Info("Initialized content provider", "baseURL", config.RedditBaseURL())

	getContent, err := app.BuildGetContentWithCache(
		contentCache,
		contentProvider,
		app.ContentTTLs{
			Listing: config.ListingTTL(),
			Thread:  config.ThreadTTL(),
			About:   config.AboutTTL(),
		},
		config.RequestTimeout(),
	)
	if err != nil {
		fail("Failed to initialize GetContent", "error", err.Error())
	}

	proxy, err := mediaproxy.NewProxy(mediaClient, config.MediaHosts())
	if err != nil {
		fail("Failed to initialize media proxy", "error", err.Error())
	}

	ipLimiter, stopIPLimiter := ratelimiting.NewTokenBucketRateLimiter(
		ratelimiting.RefillPerSecond(2),
		ratelimiting.BurstSize(60),
	)
	defer stopIPLimiter()
	ipRateLimiter := ratelimiting.NewRequestBasedRateLimiter(ipLimiter, ratelimiting.IPKeyFunc)

	allowedOrigins, err := ports.NewDomainSuffixes(config.AllowedOrigins()...)
	if err != nil {
		fail("Failed to initialize allowed origins", "error", err.Error())
	}

	mux := http.NewServeMux()

	for _, route := range ports.ContentRoutes {
		mux.HandleFunc("OPTIONS "+route.Pattern, ports.BuildCORSHandler(allowedOrigins))
		mux.HandleFunc(
			"GET "+route.Pattern,
			ports.MakeGetContentHandler(
				route.Port,
				route.BuildRequest,
				getContent,
				ipRateLimiter,
				allowedOrigins,
				logger.With("port", route.Port),
				sentryMiddleware,
			),
		)
	}

	mediaHandler := ports.MakeGetMediaHandler(proxy, logger.With("port", "media"), sentryMiddleware)
	for _, pattern := range ports.MediaRoutes {
		mux.HandleFunc(pattern, mediaHandler)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", config.Port()),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.ListenAndServe()
	}()
	logger.Info("Init complete")

	select {
	case err := <-serverErr:
		fail("Server error", "error", err.Error())
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down server", "error", err.Error())
	}
	if err := <-serverErr; !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err.Error())
	}
	logger.Info("Server shutdown")
}
