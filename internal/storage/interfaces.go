// Package storage provides composable storage interfaces for the Shelfwise
// recommendation engine.
//
// The storage layer is designed with small, focused interfaces that can be
// implemented independently and composed as needed. The sqlite and postgres
// subpackages each implement the full set; a backend value typically
// satisfies all of them through one store type.
package storage

import (
	"context"
	"time"

	"github.com/shelfwise/shelfwise/pkg/types"
)

// VectorStore persists one feature vector per (media type, media id).
// Writes are idempotent upserts keyed by the media reference.
type VectorStore interface {
	// StoreVector creates or overwrites the vector for an item.
	StoreVector(ctx context.Context, vec *types.ItemVector) error

	// GetVector retrieves the vector for an item.
	// Returns ErrNotFound if the item has not been vectorized.
	GetVector(ctx context.Context, ref types.MediaRef) (*types.ItemVector, error)

	// ListVectors returns every stored item vector. The corpus is assumed to
	// fit in memory on one node; callers scan the result for similarity.
	ListVectors(ctx context.Context) ([]types.ItemVector, error)

	// DeleteVector removes the vector for an item.
	// Returns ErrNotFound if no vector exists.
	DeleteVector(ctx context.Context, ref types.MediaRef) error

	// CountVectors returns the number of vectorized items.
	CountVectors(ctx context.Context) (int, error)
}

// VectorSearcher is an optional capability of a VectorStore: backends that
// can rank vectors server-side (pgvector) implement it so similarity scans
// shortlist candidates in SQL instead of loading the whole corpus. Callers
// detect it by type assertion and keep the full-scan path as the portable
// fallback.
type VectorSearcher interface {
	// SearchSimilarVectors returns up to limit items closest to the given
	// vector, best first, never including exclude. Scores are approximate;
	// callers rescore the shortlist with exact cosine similarity.
	// Returns ErrUnsupported when the backend cannot rank server-side.
	SearchSimilarVectors(ctx context.Context, vec types.FeatureVector, exclude types.MediaRef, limit int) ([]types.SimilarItem, error)
}

// SimilarityIndex holds precomputed top-K neighbor lists per source item.
// Lists are replaced wholesale on each precompute pass, never merged.
type SimilarityIndex interface {
	// ReplaceSimilar atomically replaces the neighbor list for a source item.
	ReplaceSimilar(ctx context.Context, source types.MediaRef, items []types.SimilarItem) error

	// GetSimilar returns up to limit neighbors for a source item, ordered by
	// ascending rank. Returns an empty slice (not an error) when the source
	// has no precomputed entry.
	GetSimilar(ctx context.Context, source types.MediaRef, limit int) ([]types.SimilarItem, error)

	// ClearSimilar drops the entire index, in preparation for a full rebuild.
	ClearSimilar(ctx context.Context) error
}

// ItemPopularity summarizes recent engagement with one item.
type ItemPopularity struct {
	Ref          types.MediaRef
	UniqueUsers  int
	Interactions int
	AvgValue     float64
}

// InteractionStore records engagement events and answers the aggregate
// queries the collaborative service needs. Rows are append-only.
type InteractionStore interface {
	// AppendInteraction records one immutable interaction event.
	AppendInteraction(ctx context.Context, in *types.Interaction) error

	// ListByUser returns a user's interactions created at or after since,
	// newest first.
	ListByUser(ctx context.Context, userID string, since time.Time) ([]types.Interaction, error)

	// ListByUsers returns interactions for any of the given users created at
	// or after since, newest first.
	ListByUsers(ctx context.Context, userIDs []string, since time.Time) ([]types.Interaction, error)

	// CountByUser returns the total number of interactions a user has recorded.
	CountByUser(ctx context.Context, userID string) (int, error)

	// UserItemKeys returns the set of MediaRef keys the user has ever
	// interacted with, for exclude-viewed filtering.
	UserItemKeys(ctx context.Context, userID string) (map[string]bool, error)

	// CountByItems returns interaction counts for the given item keys.
	CountByItems(ctx context.Context, refs []types.MediaRef) (map[string]int, error)

	// ItemPopularity ranks items by distinct interacting users since the given
	// time, keeping only items with at least minUsers distinct users, ordered
	// by user count descending then average interaction value descending.
	ItemPopularity(ctx context.Context, since time.Time, minUsers, limit int) ([]ItemPopularity, error)

	// ActiveUsers returns the IDs of users with at least minInteractions
	// recorded interactions.
	ActiveUsers(ctx context.Context, minInteractions int) ([]string, error)
}

// ProfileStore persists user preference profiles. Profiles are replaced
// wholesale on rebuild (upsert keyed by user ID).
type ProfileStore interface {
	// PutProfile creates or replaces a user's preference profile.
	PutProfile(ctx context.Context, profile *types.PreferenceProfile) error

	// GetProfile retrieves a user's preference profile.
	// Returns ErrNotFound if the user has no stored profile.
	GetProfile(ctx context.Context, userID string) (*types.PreferenceProfile, error)
}

// CacheEntry is a stored recommendation list with its expiry. Payload and
// ExpiresAt are always read together so expiry checks are atomic with the
// value they guard.
type CacheEntry struct {
	Key       string
	Payload   []byte
	ExpiresAt time.Time
}

// Expired reports whether the entry is past its expiry at the given time.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// RecommendationCache is the persistent TTL tier of the recommendation cache.
// Entries are upserts with last-write-wins semantics. GetCached returns
// expired entries as-is; the caller decides whether a stale entry is an
// acceptable fallback (it never serves one on the normal path).
type RecommendationCache interface {
	// PutCached creates or overwrites a cache entry.
	PutCached(ctx context.Context, key string, payload []byte, expiresAt time.Time) error

	// GetCached retrieves an entry together with its expiry.
	// Returns ErrNotFound if the key is absent.
	GetCached(ctx context.Context, key string) (*CacheEntry, error)

	// DeleteCachedPrefix removes every entry whose key starts with prefix and
	// returns the number of entries removed.
	DeleteCachedPrefix(ctx context.Context, prefix string) (int, error)

	// PruneExpired removes every entry past its expiry and returns the count.
	PruneExpired(ctx context.Context) (int, error)
}

// CatalogReader is the external catalog interface the engine consumes.
// The catalog itself (schemas, mutation, upload pipelines) is owned by a
// collaborating system.
type CatalogReader interface {
	// ListItems returns every catalog item of the given type.
	ListItems(ctx context.Context, mediaType types.MediaType) ([]types.MediaItem, error)

	// GetItem retrieves one catalog item.
	// Returns ErrNotFound if the item does not exist.
	GetItem(ctx context.Context, ref types.MediaRef) (*types.MediaItem, error)
}

// Store composes every persistence concern the engine needs from a backend.
type Store interface {
	VectorStore
	SimilarityIndex
	InteractionStore
	ProfileStore
	RecommendationCache

	// Close releases any resources held by the store.
	Close() error
}
