package contentprovider

import (
	"context"

	"github.com/Kirk1984/redlib/internal/adapters/upstream"
	"github.com/Kirk1984/redlib/internal/domain"
)

type ContentProvider interface {
	// Raises domain.ErrNotFound if the resource does not exist or is not publicly readable
	//
	// Raises domain.ErrRateLimited if the upstream or the outbound request budget refuses the request
	//
	// Raises domain.ErrTemporarilyUnavailable if the upstream could not be reached or failed. The call may be retried later.
	//
	// Raises domain.ErrMalformed if the upstream answered with something we could not parse
	GetContent(ctx context.Context, request domain.ContentRequest) (domain.Content, error)
}

type Fetcher interface {
	Fetch(ctx context.Context, request upstream.Request) (upstream.Response, error)
}
