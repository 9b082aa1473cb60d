// Package peerkeys memoizes other users' key material fetched from the
// directory service. Entries have no TTL: they live until explicitly
// invalidated, which happens after this device republishes its own key.
package peerkeys

import (
	"context"
	"fmt"
	"sync"

	"github.com/dovelchat/msgcache/internal/logging"
)

// Fetcher is the directory-side dependency: resolves a user id to raw key
// material. Implemented by directory.Client.
type Fetcher interface {
	FetchKey(ctx context.Context, userID string) ([]byte, error)
}

// Cache is a pull-based, process-wide cache of peer key material.
// Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string][]byte
	fetcher Fetcher
	log     logging.Logger
}

func NewCache(fetcher Fetcher, log logging.Logger) *Cache {
	return &Cache{
		entries: make(map[string][]byte),
		fetcher: fetcher,
		log:     log,
	}
}

// Get returns the cached key material for peerID, fetching from the
// directory on a miss or when forceRefresh is set. No plaintext is ever
// decrypted without a resolved key, so fetch failures propagate to the
// caller (wrapping common.ErrKeyFetch).
func (c *Cache) Get(ctx context.Context, peerID string, forceRefresh bool) ([]byte, error) {
	if !forceRefresh {
		c.mu.RLock()
		material, ok := c.entries[peerID]
		c.mu.RUnlock()
		if ok {
			return material, nil
		}
	}

	material, err := c.fetcher.FetchKey(ctx, peerID)
	if err != nil {
		return nil, fmt.Errorf("fetch key for %s: %w", peerID, err)
	}

	c.mu.Lock()
	c.entries[peerID] = material
	c.mu.Unlock()

	c.log.Debug(ctx, "cached peer key", "peer", peerID)
	return material, nil
}

// Invalidate drops the cached entry for one peer.
func (c *Cache) Invalidate(peerID string) {
	c.mu.Lock()
	delete(c.entries, peerID)
	c.mu.Unlock()
}

// InvalidateAll drops every cached entry. Called after this device uploads
// new key material so subsequent decrypts refetch everything.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string][]byte)
	c.mu.Unlock()
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
