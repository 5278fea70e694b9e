package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/shelfwise/shelfwise/internal/storage"
	"github.com/shelfwise/shelfwise/pkg/types"
)

// cacheLRUSize bounds the in-process tier of the recommendation cache.
const cacheLRUSize = 512

// Cache is the two-tier recommendation cache: an in-process LRU in front of
// the persistent TTL store. Expired entries are never served on the normal
// path; GetStale exists solely for the timeout fallback chain, where a stale
// list beats an empty one.
//
// Caching is a decorator around the pure computation functions: Cached
// returns either the stored list or the freshly computed and stored one, so
// the retrieval services themselves stay cache-free and testable.
type Cache struct {
	store storage.RecommendationCache
	local *lru.Cache[string, *storage.CacheEntry]
}

// NewCache creates a recommendation cache over the given persistent store.
func NewCache(store storage.RecommendationCache) (*Cache, error) {
	local, err := lru.New[string, *storage.CacheEntry](cacheLRUSize)
	if err != nil {
		return nil, fmt.Errorf("cache: failed to create LRU: %w", err)
	}
	return &Cache{store: store, local: local}, nil
}

// ComputeFunc produces a recommendation list when the cache has no fresh entry.
type ComputeFunc func(ctx context.Context) ([]types.Recommendation, error)

// Cached returns the cached list for key if a fresh entry exists, otherwise
// invokes compute and writes the result through both tiers. The returned
// bool reports whether the result came from cache.
func (c *Cache) Cached(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) ([]types.Recommendation, bool, error) {
	now := time.Now()

	if entry, ok := c.local.Get(key); ok {
		if !entry.Expired(now) {
			recs, err := decodeRecommendations(entry.Payload)
			if err == nil {
				return recs, true, nil
			}
			// Corrupt local entry; fall through to recompute.
			c.local.Remove(key)
		} else {
			c.local.Remove(key)
		}
	}

	if entry, err := c.store.GetCached(ctx, key); err == nil && !entry.Expired(now) {
		recs, err := decodeRecommendations(entry.Payload)
		if err == nil {
			c.local.Add(key, entry)
			return recs, true, nil
		}
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		// A failing cache store must not break recommendations; log and
		// compute directly.
		log.Printf("cache: read failed for %s: %v", key, err)
	}

	recs, err := compute(ctx)
	if err != nil {
		return nil, false, err
	}

	payload, err := json.Marshal(recs)
	if err != nil {
		return recs, false, nil
	}
	expiresAt := now.Add(ttl)
	if err := c.store.PutCached(ctx, key, payload, expiresAt); err != nil {
		log.Printf("cache: write failed for %s: %v", key, err)
	}
	c.local.Add(key, &storage.CacheEntry{Key: key, Payload: payload, ExpiresAt: expiresAt})

	return recs, false, nil
}

// GetStale returns the cached list for key regardless of expiry. Used only
// when the primary computation timed out or failed and any previous answer
// is better than none.
func (c *Cache) GetStale(ctx context.Context, key string) ([]types.Recommendation, bool) {
	if entry, ok := c.local.Get(key); ok {
		if recs, err := decodeRecommendations(entry.Payload); err == nil {
			return recs, true
		}
	}
	entry, err := c.store.GetCached(ctx, key)
	if err != nil {
		return nil, false
	}
	recs, err := decodeRecommendations(entry.Payload)
	if err != nil {
		return nil, false
	}
	return recs, true
}

// InvalidateUser drops every cached list scoped to the user, in both tiers,
// so the next request recomputes with fresh history.
func (c *Cache) InvalidateUser(ctx context.Context, userID string) error {
	prefix := userKeyPrefix(userID)
	for _, key := range c.local.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.local.Remove(key)
		}
	}
	if _, err := c.store.DeleteCachedPrefix(ctx, prefix); err != nil {
		return fmt.Errorf("cache: failed to invalidate user entries: %w", err)
	}
	return nil
}

// PruneExpired sweeps expired entries from the persistent tier.
func (c *Cache) PruneExpired(ctx context.Context) (int, error) {
	return c.store.PruneExpired(ctx)
}

func decodeRecommendations(payload []byte) ([]types.Recommendation, error) {
	var recs []types.Recommendation
	if err := json.Unmarshal(payload, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// Cache keys. User-scoped keys share a prefix so interaction tracking can
// invalidate them with one prefix delete.

func userKeyPrefix(userID string) string {
	return fmt.Sprintf("rec:user:%s:", userID)
}

func contentKey(ref types.MediaRef, opts ContentOptions) string {
	return fmt.Sprintf("rec:item:%s:content:l%d:m%.3f:lang%t:g%.2f:d%.2f",
		ref.Key(), opts.Limit, opts.MinScore, opts.SameLanguageOnly, opts.SameGenreBoost, opts.DiversityFactor)
}

func personalizedKey(userID string, opts CollaborativeOptions) string {
	return fmt.Sprintf("%spersonal:l%d:m%.3f:x%t:r%.2f",
		userKeyPrefix(userID), opts.Limit, opts.MinScore, opts.ExcludeViewed, opts.RecencyWeight)
}

func hybridKey(userID string, anchor *types.MediaRef, opts HybridOptions) string {
	anchorKey := "none"
	if anchor != nil {
		anchorKey = anchor.Key()
	}
	return fmt.Sprintf("%shybrid:a%s:l%d:cw%.2f:ow%.2f:d%.2f:e%.2f:m%.3f",
		userKeyPrefix(userID), anchorKey, opts.Limit, opts.ContentWeight, opts.CollaborativeWeight,
		opts.DiversityFactor, opts.ExplorationRate, opts.MinScore)
}
