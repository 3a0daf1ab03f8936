// Package cache holds the authoritative local view of one document kind.
//
// A Cache is a keyed map of documents by id with O(1) point lookups and raw
// mutation primitives. It has no side effects beyond the map itself; the
// document store layers persistence and remote sync on top.
//
// All operations are total: missing ids yield absent or filtered results and
// never fail.
package cache

import (
	"sync"
)

// Document is any record with a unique, immutable id that can deep-copy
// itself. T is the concrete document type, usually a pointer.
type Document[T any] interface {
	DocID() string
	Clone() T
}

// Cache is a concurrency-safe map of documents keyed by DocID.
type Cache[T Document[T]] struct {
	mu    sync.RWMutex
	items map[string]T
}

// New creates an empty cache.
func New[T Document[T]]() *Cache[T] {
	return &Cache[T]{items: make(map[string]T)}
}

// Get returns the live document stored under id.
func (c *Cache[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[id]
	return v, ok
}

// GetMany returns the documents for ids in input order, silently dropping
// ids that are not present.
func (c *Cache[T]) GetMany(ids []string) []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		if v, ok := c.items[id]; ok {
			out = append(out, v)
		}
	}
	return out
}

// All returns every document in no particular order.
func (c *Cache[T]) All() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.items))
	for _, v := range c.items {
		out = append(out, v)
	}
	return out
}

// Len returns the number of documents.
func (c *Cache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Snapshot returns an independent deep copy of the whole map.
func (c *Cache[T]) Snapshot() map[string]T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]T, len(c.items))
	for id, v := range c.items {
		out[id] = v.Clone()
	}
	return out
}

// Put stores v under its own id.
func (c *Cache[T]) Put(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[v.DocID()] = v
}

// PutMany stores each document under its own id.
func (c *Cache[T]) PutMany(vs []T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range vs {
		c.items[v.DocID()] = v
	}
}

// Remove deletes id and returns the removed document.
func (c *Cache[T]) Remove(id string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[id]
	if ok {
		delete(c.items, id)
	}
	return v, ok
}

// RemoveMany deletes ids and returns the documents that were present.
func (c *Cache[T]) RemoveMany(ids []string) []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		if v, ok := c.items[id]; ok {
			out = append(out, v)
			delete(c.items, id)
		}
	}
	return out
}

// ReplaceAll swaps the whole map. Entries are keyed by DocID, whatever key
// they had in m.
func (c *Cache[T]) ReplaceAll(m map[string]T) {
	items := make(map[string]T, len(m))
	for _, v := range m {
		items[v.DocID()] = v
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = items
}
