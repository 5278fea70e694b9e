package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/shelfwise/shelfwise/internal/storage"
	"github.com/shelfwise/shelfwise/internal/vectorizer"
	"github.com/shelfwise/shelfwise/pkg/types"
)

// ErrRebuildInProgress is returned when a corpus rebuild or precompute job is
// requested while another one is still running. Rebuilds race to clear and
// repopulate shared indexes, so they are strictly serialized.
var ErrRebuildInProgress = errors.New("a rebuild job is already in progress")

// Config holds the engine's tunables.
type Config struct {
	// RequestTimeout bounds each recommendation request. On expiry the
	// engine falls back to stale cache, then popularity, never an error.
	RequestTimeout time.Duration

	// CacheTTL is how long computed recommendation lists stay fresh.
	CacheTTL time.Duration

	// PrecomputeTopN is the neighbor-list size of the similarity index.
	PrecomputeTopN int

	// PrecomputeItemsPerSecond paces the precompute batch. Zero disables
	// pacing.
	PrecomputeItemsPerSecond float64

	// BreakerMaxFailures is the consecutive store-failure count that trips
	// the circuit breaker.
	BreakerMaxFailures uint32

	// BreakerTimeout is how long the breaker stays open before probing again.
	BreakerTimeout time.Duration
}

// DefaultConfig returns the production defaults: sub-2-second requests,
// 15-minute cache, 20-neighbor index.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:     2 * time.Second,
		CacheTTL:           15 * time.Minute,
		PrecomputeTopN:     20,
		BreakerMaxFailures: 5,
		BreakerTimeout:     30 * time.Second,
	}
}

// Validate checks the configuration for usable values.
func (c *Config) Validate() error {
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("cache TTL must be positive")
	}
	if c.PrecomputeTopN <= 0 {
		return fmt.Errorf("precompute topN must be positive")
	}
	return nil
}

// Engine is the recommendation engine facade. It wires the vectorizer, the
// retrieval services, the hybrid ranker, and the cache over a storage
// backend, and exposes the surface consumed by API layers and schedulers.
//
// Every method is safe for concurrent use: requests share no mutable state
// and all writes are idempotent upserts. Only rebuild jobs take a lock.
type Engine struct {
	catalog storage.CatalogReader
	store   storage.Store
	cfg     Config

	vectorizer *vectorizer.Vectorizer
	content    *ContentService
	collab     *CollaborativeService
	profiles   *ProfileBuilder
	hybrid     *HybridRanker
	cache      *Cache

	// breaker protects the interactive path from a struggling store: once
	// open, requests short-circuit straight to the fallback chain.
	breaker *gobreaker.CircuitBreaker

	rebuildMu sync.Mutex
}

// NewEngine creates a recommendation engine over the given catalog reader
// and storage backend.
func NewEngine(catalog storage.CatalogReader, store storage.Store, cfg Config) (*Engine, error) {
	if catalog == nil {
		return nil, fmt.Errorf("engine: catalog reader is required")
	}
	if store == nil {
		return nil, fmt.Errorf("engine: store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("engine: invalid config: %w", err)
	}

	cache, err := NewCache(store)
	if err != nil {
		return nil, err
	}

	profiles := NewProfileBuilder(store, store, store)
	content := NewContentService(store, store, cfg.PrecomputeItemsPerSecond)
	collab := NewCollaborativeService(store, store, profiles)

	e := &Engine{
		catalog:    catalog,
		store:      store,
		cfg:        cfg,
		vectorizer: vectorizer.New(store),
		content:    content,
		collab:     collab,
		profiles:   profiles,
		hybrid:     NewHybridRanker(content, collab, profiles),
		cache:      cache,
	}

	e.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "recommendation-store",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("engine: circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	return e, nil
}

// GetContentBased returns items similar to the given item.
func (e *Engine) GetContentBased(ctx context.Context, ref types.MediaRef, opts ContentOptions) ([]types.Recommendation, error) {
	opts.Normalize()
	return e.serve(ctx, contentKey(ref, opts), func(ctx context.Context) ([]types.Recommendation, error) {
		return e.content.GetRecommendations(ctx, ref, opts)
	}), nil
}

// GetPersonalized returns items scored from the behavior of similar users.
func (e *Engine) GetPersonalized(ctx context.Context, userID string, opts CollaborativeOptions) ([]types.Recommendation, error) {
	opts.Normalize()
	return e.serve(ctx, personalizedKey(userID, opts), func(ctx context.Context) ([]types.Recommendation, error) {
		return e.collab.GetPersonalizedRecommendations(ctx, userID, opts)
	}), nil
}

// GetHybrid returns the fused content + collaborative ranking for the user,
// optionally anchored on an item.
func (e *Engine) GetHybrid(ctx context.Context, userID string, anchor *types.MediaRef, opts HybridOptions) ([]types.Recommendation, error) {
	opts.Normalize()
	return e.serve(ctx, hybridKey(userID, anchor, opts), func(ctx context.Context) ([]types.Recommendation, error) {
		return e.hybrid.GetHybridRecommendations(ctx, userID, anchor, opts)
	}), nil
}

// serve runs the cached computation under the request timeout and circuit
// breaker, then walks the fallback chain on any failure: stale cache first,
// popularity second, empty list last. Recommendation absence is never an
// error state, so serve returns a list unconditionally.
func (e *Engine) serve(ctx context.Context, key string, compute ComputeFunc) []types.Recommendation {
	reqCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	recs, _, err := e.cache.Cached(reqCtx, key, e.cfg.CacheTTL, func(ctx context.Context) ([]types.Recommendation, error) {
		result, err := e.breaker.Execute(func() (interface{}, error) {
			return compute(ctx)
		})
		if err != nil {
			return nil, err
		}
		return result.([]types.Recommendation), nil
	})
	if err == nil {
		return recs
	}
	log.Printf("engine: primary path failed for %s: %v", key, err)

	// The request context may already be expired; give the fallbacks their
	// own short budget.
	fbCtx, fbCancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.RequestTimeout/2)
	defer fbCancel()

	fallbacks := []func() ([]types.Recommendation, bool){
		func() ([]types.Recommendation, bool) {
			return e.cache.GetStale(fbCtx, key)
		},
		func() ([]types.Recommendation, bool) {
			popular, err := e.collab.PopularityFallback(fbCtx, 10)
			return popular, err == nil && len(popular) > 0
		},
	}
	for _, fallback := range fallbacks {
		if recs, ok := fallback(); ok {
			return recs
		}
	}
	return []types.Recommendation{}
}

// TrackInteraction records an engagement event and invalidates the user's
// cached recommendations so the next request sees fresh history.
func (e *Engine) TrackInteraction(ctx context.Context, userID string, item types.MediaRef, kind types.InteractionKind, meta InteractionMeta) (*types.Interaction, error) {
	in, err := e.collab.TrackInteraction(ctx, userID, item, kind, meta)
	if err != nil {
		return nil, err
	}
	if err := e.cache.InvalidateUser(ctx, userID); err != nil {
		log.Printf("engine: cache invalidation failed for user %s: %v", userID, err)
	}
	return in, nil
}

// TrackRecommendationShown records that a recommendation was displayed.
func (e *Engine) TrackRecommendationShown(ctx context.Context, userID string, item types.MediaRef) error {
	_, err := e.collab.TrackInteraction(ctx, userID, item, types.InteractionRecShown, InteractionMeta{})
	return err
}

// TrackRecommendationClick records that a displayed recommendation was
// followed, and invalidates the user's cache like any other engagement.
func (e *Engine) TrackRecommendationClick(ctx context.Context, userID string, item types.MediaRef) error {
	if _, err := e.collab.TrackInteraction(ctx, userID, item, types.InteractionRecClick, InteractionMeta{}); err != nil {
		return err
	}
	if err := e.cache.InvalidateUser(ctx, userID); err != nil {
		log.Printf("engine: cache invalidation failed for user %s: %v", userID, err)
	}
	return nil
}

// RebuildAllVectors re-vectorizes the entire catalog. Only one rebuild job
// runs at a time; a concurrent call returns ErrRebuildInProgress.
func (e *Engine) RebuildAllVectors(ctx context.Context) (processed, failed int, err error) {
	if !e.rebuildMu.TryLock() {
		return 0, 0, ErrRebuildInProgress
	}
	defer e.rebuildMu.Unlock()

	items, err := e.listCatalog(ctx)
	if err != nil {
		return 0, 0, err
	}
	return e.vectorizer.BuildCorpusVectors(ctx, items)
}

// RebuildItemVector re-vectorizes a single item on demand. IDF is
// corpus-wide, so this is O(catalog); batch rebuilds remain the primary path.
func (e *Engine) RebuildItemVector(ctx context.Context, ref types.MediaRef) (*types.ItemVector, error) {
	item, err := e.catalog.GetItem(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("engine: failed to load catalog item: %w", err)
	}
	corpus, err := e.listCatalog(ctx)
	if err != nil {
		return nil, err
	}
	return e.vectorizer.BuildVectorForItem(ctx, item, corpus)
}

// PrecomputeSimilarItems rebuilds the similarity index, topN neighbors per
// item. Serialized with vector rebuilds under the same lock.
func (e *Engine) PrecomputeSimilarItems(ctx context.Context, topN int) (processed, failed int, err error) {
	if !e.rebuildMu.TryLock() {
		return 0, 0, ErrRebuildInProgress
	}
	defer e.rebuildMu.Unlock()

	if topN <= 0 {
		topN = e.cfg.PrecomputeTopN
	}
	return e.content.PrecomputeSimilarItems(ctx, topN)
}

// PruneExpiredCache sweeps expired entries from the persistent cache tier.
func (e *Engine) PruneExpiredCache(ctx context.Context) (int, error) {
	return e.cache.PruneExpired(ctx)
}

// listCatalog gathers every item across the three media types. A failure on
// one type aborts: a partial corpus would silently skew IDF.
func (e *Engine) listCatalog(ctx context.Context) ([]types.MediaItem, error) {
	var all []types.MediaItem
	for _, mt := range []types.MediaType{types.MediaTypeBook, types.MediaTypeAudio, types.MediaTypeVideo} {
		items, err := e.catalog.ListItems(ctx, mt)
		if err != nil {
			return nil, fmt.Errorf("engine: failed to list %s items: %w", mt, err)
		}
		all = append(all, items...)
	}
	return all, nil
}
