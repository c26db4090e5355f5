package cache

import (
	"time"

	"golang.org/x/sync/singleflight"
)

// Cache is the storage behind GetOrCreate. Implementations must only return live entries from get.
type Cache[T any] interface {
	get(key string) (T, bool)
	set(key string, data T, ttl time.Duration)
	flights() *singleflight.Group
}

type Outcome string

const (
	// A live entry was found
	OutcomeHit Outcome = "hit"
	// This caller ran create
	OutcomeMiss Outcome = "miss"
	// This caller received the result of another caller's create
	OutcomeJoined Outcome = "joined"
)
