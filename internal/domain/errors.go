package domain

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrTemporarilyUnavailable = errors.New("temporarily unavailable")
	ErrMalformed              = errors.New("malformed upstream response")
	ErrRateLimited            = errors.New("rate limited")
	ErrForbidden              = errors.New("forbidden")
	ErrClientDisconnected     = errors.New("client disconnected")
)
