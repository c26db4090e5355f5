package cache

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type basicCacheEntry[T any] struct {
	key      string
	data     T
	storedAt time.Time
	ttl      time.Duration
}

// basicCache is a map + LRU list with an injectable clock. Expired entries stay resident until they are
// read or pushed out by capacity.
type basicCache[T any] struct {
	cache      map[string]*list.Element
	lru        *list.List
	maxEntries int
	cacheLock  sync.Mutex

	nowFunc func() time.Time
	group   singleflight.Group
}

func (c *basicCache[T]) get(key string) (T, bool) {
	c.cacheLock.Lock()
	defer c.cacheLock.Unlock()

	var empty T

	elem, ok := c.cache[key]
	if !ok {
		return empty, false
	}

	entry := elem.Value.(*basicCacheEntry[T])
	if c.nowFunc().Sub(entry.storedAt) >= entry.ttl {
		c.lru.Remove(elem)
		delete(c.cache, key)
		return empty, false
	}

	c.lru.MoveToFront(elem)
	return entry.data, true
}

func (c *basicCache[T]) set(key string, data T, ttl time.Duration) {
	c.cacheLock.Lock()
	defer c.cacheLock.Unlock()

	entry := &basicCacheEntry[T]{key: key, data: data, storedAt: c.nowFunc(), ttl: ttl}

	if elem, ok := c.cache[key]; ok {
		elem.Value = entry
		c.lru.MoveToFront(elem)
		return
	}

	c.cache[key] = c.lru.PushFront(entry)

	for c.maxEntries > 0 && c.lru.Len() > c.maxEntries {
		oldest := c.lru.Back()
		c.lru.Remove(oldest)
		delete(c.cache, oldest.Value.(*basicCacheEntry[T]).key)
	}
}

func (c *basicCache[T]) flights() *singleflight.Group {
	return &c.group
}

func (c *basicCache[T]) len() int {
	c.cacheLock.Lock()
	defer c.cacheLock.Unlock()

	return c.lru.Len()
}

// NewBasicCache returns a cache holding at most maxEntries entries. maxEntries <= 0 means unbounded.
func NewBasicCache[T any](maxEntries int, nowFunc func() time.Time) *basicCache[T] {
	return &basicCache[T]{
		cache:      make(map[string]*list.Element),
		lru:        list.New(),
		maxEntries: maxEntries,
		nowFunc:    nowFunc,
	}
}
