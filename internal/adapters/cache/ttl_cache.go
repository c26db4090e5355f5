package cache

import (
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"
)

type ttlCache[T any] struct {
	cache *ttlcache.Cache[string, T]
	group singleflight.Group
}

func (c *ttlCache[T]) get(key string) (T, bool) {
	item := c.cache.Get(key)
	if item == nil {
		var empty T
		return empty, false
	}
	return item.Value(), true
}

func (c *ttlCache[T]) set(key string, data T, ttl time.Duration) {
	c.cache.Set(key, data, ttl)
}

func (c *ttlCache[T]) flights() *singleflight.Group {
	return &c.group
}

func (c *ttlCache[T]) len() int {
	return c.cache.Len()
}

// NewTTLCache returns a cache evicting the least recently used entry once maxEntries is reached.
//
// Expired entries are never returned. A background sweep reclaims their memory until stop is called.
func NewTTLCache[T any](maxEntries uint64) (Cache[T], func()) {
	cache := ttlcache.New[string, T](
		ttlcache.WithCapacity[string, T](maxEntries),
		ttlcache.WithDisableTouchOnHit[string, T](),
	)
	go cache.Start()
	return &ttlCache[T]{cache: cache}, cache.Stop
}
