// Package cache implements a CTag-keyed collection cache. Entries map a
// collection URL to the object list fetched at a known CTag; a stored entry is
// only trusted while the server still advertises the same CTag.
package cache

import (
	"sync"
	"time"
)

// Entry is a snapshot of a collection at a known CTag.
type Entry[T any] struct {
	CTag      string
	Objects   []T
	FetchedAt time.Time
}

// Cache is a mutex-guarded map from collection URL to Entry. It is generic
// over the stored object type; the freshness policy is identical for calendar
// objects and vCards.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]Entry[T]
}

func New[T any]() *Cache[T] {
	return &Cache[T]{entries: make(map[string]Entry[T])}
}

// Get returns the stored entry for url, if any.
func (c *Cache[T]) Get(url string) (Entry[T], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[url]
	return e, ok
}

// Set stores a fresh snapshot for url.
func (c *Cache[T]) Set(url, ctag string, objects []T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = Entry[T]{CTag: ctag, Objects: objects, FetchedAt: time.Now()}
}

// IsFresh reports whether the stored entry for url may be served without a
// network call. It is false when no entry exists, when the server-supplied
// CTag is empty (collections without CTag are always stale), or when the
// CTags differ.
func (c *Cache[T]) IsFresh(url, currentCTag string) bool {
	if currentCTag == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[url]
	return ok && e.CTag == currentCTag
}

// Invalidate drops the entry for url, if present.
func (c *Cache[T]) Invalidate(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, url)
}

// Promote rewrites the stored entry's fetch time after a dirty-check confirmed
// the collection is unchanged on the server.
func (c *Cache[T]) Promote(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[url]; ok {
		e.FetchedAt = time.Now()
		c.entries[url] = e
	}
}

// Clear drops every entry.
func (c *Cache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry[T])
}

// Len returns the number of stored entries.
func (c *Cache[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
