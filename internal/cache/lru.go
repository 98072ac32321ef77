package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

// LRUCache is an in-process Cache bounded by entry count. Entries also expire
// ttl after their last Set; expired entries miss on Get and are swept by
// CleanExpired.
type LRUCache[T any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	now     func() time.Time

	byKey  map[string]*list.Element
	recent *list.List // front is most recently used
}

type entry[T any] struct {
	key     string
	value   T
	expires time.Time
}

func NewLRUCache[T any](maxSize int, ttl time.Duration) *LRUCache[T] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &LRUCache[T]{
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
		byKey:   make(map[string]*list.Element),
		recent:  list.New(),
	}
}

func (c *LRUCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	el, ok := c.byKey[key]
	if !ok {
		return zero, false
	}
	e := el.Value.(*entry[T])
	if c.now().After(e.expires) {
		c.drop(el)
		return zero, false
	}
	c.recent.MoveToFront(el)
	return e.value, true
}

// Set stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *LRUCache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &entry[T]{key: key, value: value, expires: c.now().Add(c.ttl)}
	if el, ok := c.byKey[key]; ok {
		el.Value = e
		c.recent.MoveToFront(el)
		return
	}
	c.byKey[key] = c.recent.PushFront(e)
	for c.recent.Len() > c.maxSize {
		c.drop(c.recent.Back())
	}
}

func (c *LRUCache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.byKey[key]; ok {
		c.drop(el)
	}
}

// DeletePrefix drops every key starting with prefix. Snapshot keys start with
// the user ID, so this forgets one user's months.
func (c *LRUCache[T]) DeletePrefix(prefix string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, el := range c.byKey {
		if strings.HasPrefix(key, prefix) {
			c.drop(el)
			n++
		}
	}
	return n, nil
}

// CleanExpired sweeps expired entries and returns how many were dropped.
func (c *LRUCache[T]) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for el := c.recent.Back(); el != nil; {
		prev := el.Prev()
		if now.After(el.Value.(*entry[T]).expires) {
			c.drop(el)
			n++
		}
		el = prev
	}
	return n
}

func (c *LRUCache[T]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byKey)
}

func (c *LRUCache[T]) drop(el *list.Element) {
	delete(c.byKey, el.Value.(*entry[T]).key)
	c.recent.Remove(el)
}
