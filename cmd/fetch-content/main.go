package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"time"

	"github.com/Kirk1984/redlib/internal/adapters/contentprovider"
	"github.com/Kirk1984/redlib/internal/adapters/upstream"
	"github.com/Kirk1984/redlib/internal/domain"
	"github.com/Kirk1984/redlib/internal/ports"
	"github.com/Kirk1984/redlib/internal/ratelimiting"
)

const baseURL = "https://www.reddit.com"

// requestFor resolves a front-end path like /r/golang/top?t=week to the content request it stands for
func requestFor(path string) (domain.ContentRequest, error) {
	var (
		request  domain.ContentRequest
		buildErr error
		matched  bool
	)

	mux := http.NewServeMux()
	for _, route := range ports.ContentRoutes {
		mux.HandleFunc("GET "+route.Pattern, func(w http.ResponseWriter, r *http.Request) {
			matched = true
			request, buildErr = route.BuildRequest(r)
		})
	}

	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", path, nil))
	if !matched {
		return domain.ContentRequest{}, domain.ErrNotFound
	}
	return request, buildErr
}

func main() {
	if len(os.Args) < 2 || os.Args[1] == "" {
		log.Fatal("No path provided")
	}

	request, err := requestFor(os.Args[1])
	if err != nil {
		log.Fatalf("Failed resolving path: %v", err)
	}

	client, err := upstream.NewClient("reddit", &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, 10*time.Second)
	if err != nil {
		log.Fatalf("Failed creating client: %v", err)
	}

	limiter := ratelimiting.NewWindowLimitRequestLimiter(1, time.Minute, time.Now, time.After)
	provider, err := contentprovider.NewRedditContentProvider(client, baseURL, limiter)
	if err != nil {
		log.Fatalf("Failed creating content provider: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	content, err := provider.GetContent(ctx, request)
	if err != nil {
		log.Fatalf("Failed fetching %s: %v", request.CacheKey(), err)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(content); err != nil {
		log.Fatalf("Failed encoding content: %v", err)
	}
}
