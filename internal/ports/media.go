package ports

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/Kirk1984/redlib/internal/adapters/mediaproxy"
	"github.com/Kirk1984/redlib/internal/domain"
	"github.com/Kirk1984/redlib/internal/logging"
	"github.com/Kirk1984/redlib/internal/reporting"
	"github.com/Kirk1984/redlib/internal/rewrite"
)

// MediaRoutes are the proxy path patterns served by the media handler
var MediaRoutes = []string{
	"GET /img/{path...}",
	"GET /vid/{id}/{size}",
	"GET /hls/{id}/{path...}",
	"GET /thumb/{point}/{id}",
	"GET /emoji/{id}/{name}",
	"GET /preview/{location}/{path...}",
	"GET /style/{path...}",
	"GET /static/{path...}",
}

func writeMediaError(ctx context.Context, w http.ResponseWriter, err error) {
	var rejected *mediaproxy.OriginRejectedError
	switch {
	case errors.As(err, &rejected):
		w.WriteHeader(rejected.StatusCode)
	case errors.Is(err, domain.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, mediaproxy.ErrOriginUnavailable):
		http.Error(w, "media origin unavailable", http.StatusBadGateway)
	case errors.Is(err, domain.ErrClientDisconnected):
		// Nobody left to answer
	default:
		reporting.Report(ctx, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func MakeGetMediaHandler(
	proxy *mediaproxy.Proxy,
	rootLogger *slog.Logger,
	sentryMiddleware func(http.HandlerFunc) http.HandlerFunc,
) http.HandlerFunc {
	middleware := ComposeMiddlewares(
		buildMetricsMiddleware("media"),
		logging.NewRequestLoggerMiddleware(rootLogger),
		sentryMiddleware,
	)

	handler := func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		originURL, err := rewrite.OriginURL(r.URL.Path, r.URL.RawQuery)
		if err != nil {
			logging.FromContext(ctx).InfoContext(ctx, "Unknown media path", "error", err.Error())
			http.NotFound(w, r)
			return
		}

		ctx = logging.AddMetaToContext(ctx, slog.String("originURL", originURL))
		ctx = reporting.AddMediaOriginToContext(ctx, originURL)

		session, err := proxy.Stream(ctx, originURL, r.Header)
		if err != nil {
			logging.FromContext(ctx).InfoContext(ctx, "Failed to open media session", "error", err.Error())
			writeMediaError(ctx, w, err)
			return
		}

		header := w.Header()
		for key, values := range session.Header {
			header[key] = values
		}
		w.WriteHeader(session.StatusCode)

		written, err := session.WriteTo(w)
		if err != nil {
			// Headers are already sent, so the only thing left is to note what happened
			logging.FromContext(ctx).InfoContext(ctx, "Media stream ended early", "error", err.Error(), "bytesWritten", written)
		}
	}

	return middleware(handler)
}
