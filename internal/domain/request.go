package domain

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

type ContentKind string

const (
	KindListing       ContentKind = "listing"
	KindSearch        ContentKind = "search"
	KindUserListing   ContentKind = "user_listing"
	KindThread        ContentKind = "thread"
	KindSubredditInfo ContentKind = "subreddit_about"
	KindUserInfo      ContentKind = "user_about"
)

// ResourceClass groups content kinds that share a cache TTL
type ResourceClass string

const (
	ClassListing ResourceClass = "listing"
	ClassThread  ResourceClass = "thread"
	ClassAbout   ResourceClass = "about"
)

func (k ContentKind) Class() ResourceClass {
	switch k {
	case KindThread:
		return ClassThread
	case KindSubredditInfo, KindUserInfo:
		return ClassAbout
	default:
		return ClassListing
	}
}

// ContentRequest identifies one logical resource of the content API.
//
// Path is relative to the API base url and never carries the ".json" suffix.
type ContentRequest struct {
	Kind  ContentKind
	Path  string
	Query url.Values
}

var listingSorts = []string{"hot", "new", "top", "rising", "controversial", "best"}

func IsListingSort(sort string) bool {
	return slices.Contains(listingSorts, sort)
}

// Parameters the content API understands for listings. Anything else is dropped so it can't
// fragment the cache.
var listingParams = []string{"after", "before", "count", "limit", "t", "sort", "q", "restrict_sr", "type", "include_over_18"}

func filterQuery(query url.Values, allowed []string) url.Values {
	filtered := url.Values{}
	for key, values := range query {
		if !slices.Contains(allowed, key) {
			continue
		}
		for _, value := range values {
			if value == "" {
				continue
			}
			filtered.Add(key, value)
		}
	}
	return filtered
}

func NewFrontPageRequest(sort string, query url.Values) ContentRequest {
	path := "/"
	if sort != "" {
		path = "/" + sort
	}
	return ContentRequest{Kind: KindListing, Path: path, Query: filterQuery(query, listingParams)}
}

func NewSubredditListingRequest(subreddit string, sort string, query url.Values) (ContentRequest, error) {
	if !IsValidName(subreddit) {
		return ContentRequest{}, fmt.Errorf("%w: invalid subreddit name", ErrNotFound)
	}
	if sort != "" && !IsListingSort(sort) {
		return ContentRequest{}, fmt.Errorf("%w: unknown sort %q", ErrNotFound, sort)
	}

	path := fmt.Sprintf("/r/%s", subreddit)
	if sort != "" {
		path += "/" + sort
	}
	return ContentRequest{Kind: KindListing, Path: path, Query: filterQuery(query, listingParams)}, nil
}

func NewUserListingRequest(username string, query url.Values) (ContentRequest, error) {
	if !IsValidName(username) {
		return ContentRequest{}, fmt.Errorf("%w: invalid username", ErrNotFound)
	}
	return ContentRequest{
		Kind:  KindUserListing,
		Path:  fmt.Sprintf("/user/%s", username),
		Query: filterQuery(query, listingParams),
	}, nil
}

func NewSearchRequest(subreddit string, query url.Values) (ContentRequest, error) {
	path := "/search"
	if subreddit != "" {
		if !IsValidName(subreddit) {
			return ContentRequest{}, fmt.Errorf("%w: invalid subreddit name", ErrNotFound)
		}
		path = fmt.Sprintf("/r/%s/search", subreddit)
	}
	return ContentRequest{Kind: KindSearch, Path: path, Query: filterQuery(query, listingParams)}, nil
}

var threadParams = []string{"sort", "comment", "context", "limit", "depth"}

func NewThreadRequest(subreddit string, id string, query url.Values) (ContentRequest, error) {
	if !IsValidName(subreddit) {
		return ContentRequest{}, fmt.Errorf("%w: invalid subreddit name", ErrNotFound)
	}
	if !IsValidName(id) {
		return ContentRequest{}, fmt.Errorf("%w: invalid post id", ErrNotFound)
	}
	return ContentRequest{
		Kind:  KindThread,
		Path:  fmt.Sprintf("/r/%s/comments/%s", subreddit, id),
		Query: filterQuery(query, threadParams),
	}, nil
}

func NewSubredditInfoRequest(subreddit string) (ContentRequest, error) {
	if !IsValidName(subreddit) {
		return ContentRequest{}, fmt.Errorf("%w: invalid subreddit name", ErrNotFound)
	}
	return ContentRequest{Kind: KindSubredditInfo, Path: fmt.Sprintf("/r/%s/about", subreddit)}, nil
}

func NewUserInfoRequest(username string) (ContentRequest, error) {
	if !IsValidName(username) {
		return ContentRequest{}, fmt.Errorf("%w: invalid username", ErrNotFound)
	}
	return ContentRequest{Kind: KindUserInfo, Path: fmt.Sprintf("/user/%s/about", username)}, nil
}

// Subreddit names, usernames and post ids share the same alphabet. Multireddits join names with '+'.
func IsValidName(name string) bool {
	if name == "" || len(name) > 200 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-', r == '+':
		default:
			return false
		}
	}
	return true
}

// NormalizedQuery encodes the query with sorted keys and sorted values per key
func (r ContentRequest) NormalizedQuery() string {
	if len(r.Query) == 0 {
		return ""
	}

	keys := make([]string, 0, len(r.Query))
	for key := range r.Query {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		values := slices.Clone(r.Query[key])
		slices.Sort(values)
		for _, value := range values {
			parts = append(parts, url.QueryEscape(key)+"="+url.QueryEscape(value))
		}
	}

	return strings.Join(parts, "&")
}

// CacheKey is stable across process lifetime and independent of parameter insertion order
func (r ContentRequest) CacheKey() string {
	return fmt.Sprintf("%s|%s?%s", r.Kind, strings.ToLower(r.Path), r.NormalizedQuery())
}
