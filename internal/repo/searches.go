package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vetlabs/pawsync/internal/model"
	"github.com/vetlabs/pawsync/internal/store"
)

// SearchCache stores cached remote search responses with a TTL.
//
// Reads treat an entry past its expiry as absent and evict it as a side
// effect, so stale drug-safety results are never served.
type SearchCache struct {
	store *store.Store
	now   func() time.Time
}

// NewSearchCache creates a search cache over the given store.
func NewSearchCache(s *store.Store) *SearchCache {
	return &SearchCache{store: s, now: time.Now}
}

// Put caches a search payload under key for the given TTL.
func (c *SearchCache) Put(ctx context.Context, key string, payload json.RawMessage, ttl time.Duration) error {
	now := c.now().UTC()
	entry := model.SearchResult{
		Key:       key,
		Payload:   payload,
		CachedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	data, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("failed to marshal search entry: %w", err)
	}
	return c.store.Put(ctx, store.Searches, key, data, map[string]any{
		"cached_at":  entry.CachedAt.Format(time.RFC3339),
		"expires_at": entry.ExpiresAt.Format(time.RFC3339),
	})
}

// Get returns the cached entry for key. An expired entry is evicted and
// reported as not found.
func (c *SearchCache) Get(ctx context.Context, key string) (*model.SearchResult, error) {
	data, err := c.store.Get(ctx, store.Searches, key)
	if err != nil {
		return nil, err
	}

	var entry model.SearchResult
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal search entry %s: %w", key, err)
	}

	if entry.Expired(c.now()) {
		// Evict on read; a failed eviction should not mask the miss.
		if err := c.store.Delete(ctx, store.Searches, key); err != nil {
			return nil, err
		}
		return nil, &store.StorageError{Op: "get", Store: store.Searches, Err: store.ErrNotFound}
	}

	return &entry, nil
}

// Purge removes all expired entries and returns how many were evicted.
func (c *SearchCache) Purge(ctx context.Context) (int, error) {
	values, err := c.store.GetAll(ctx, store.Searches)
	if err != nil {
		return 0, err
	}

	now := c.now()
	evicted := 0
	for _, data := range values {
		var entry model.SearchResult
		if err := json.Unmarshal(data, &entry); err != nil {
			return evicted, fmt.Errorf("failed to unmarshal search entry: %w", err)
		}
		if entry.Expired(now) {
			if err := c.store.Delete(ctx, store.Searches, entry.Key); err != nil {
				return evicted, err
			}
			evicted++
		}
	}
	return evicted, nil
}

// Clear drops the whole cache.
func (c *SearchCache) Clear(ctx context.Context) error {
	return c.store.Clear(ctx, store.Searches)
}
