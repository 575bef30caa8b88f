// Package kv provides the key/value tiers (process cache, local SQLite,
// optional remote) and a tiered resolver that reads through them in order.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// ErrMalformed marks stored bytes that do not decode into the requested type.
// Callers treat it as a miss.
var ErrMalformed = errors.New("kv: malformed value")

// ErrUnavailable marks a read where no tier had the key and at least one tier
// failed, so the miss cannot be trusted.
var ErrUnavailable = errors.New("kv: tier unavailable")

// Store is one key/value tier holding JSON blobs.
type Store interface {
	// GetJSON decodes the value at key into dst. found is false on a miss.
	GetJSON(ctx context.Context, key string, dst any) (found bool, err error)
	SetJSON(ctx context.Context, key string, v any) error
}

type cacheEntry struct {
	raw      []byte
	storedAt time.Time
}

// Cache is the process-local tier. Values are kept as encoded JSON so callers
// never share maps or slices through it.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	now     func() time.Time
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry), now: time.Now}
}

// WithClock replaces the time source, for tests.
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

// Get decodes the entry at key when it is younger than maxAge. maxAge <= 0 accepts any age.
func (c *Cache) Get(key string, maxAge time.Duration, dst any) (bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if maxAge > 0 && c.now().Sub(e.storedAt) >= maxAge {
		return false, nil
	}
	if err := json.Unmarshal(e.raw, dst); err != nil {
		return false, errors.Join(ErrMalformed, err)
	}
	return true, nil
}

// Set stores v under key, stamping it with the current time.
func (c *Cache) Set(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{raw: raw, storedAt: c.now()}
	c.mu.Unlock()
	return nil
}

// Delete drops key.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// GetJSON implements Store without a freshness bound.
func (c *Cache) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	return c.Get(key, 0, dst)
}

// SetJSON implements Store.
func (c *Cache) SetJSON(_ context.Context, key string, v any) error {
	return c.Set(key, v)
}
