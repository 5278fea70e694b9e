package engine

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shelfwise/shelfwise/internal/storage"
	"github.com/shelfwise/shelfwise/pkg/types"
)

// memStore is an in-memory implementation of storage.Store for engine tests.
type memStore struct {
	mu           sync.Mutex
	vectors      map[string]*types.ItemVector
	similar      map[string][]types.SimilarItem
	interactions []types.Interaction
	profiles     map[string]*types.PreferenceProfile
	cache        map[string]*storage.CacheEntry
}

var _ storage.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		vectors:  make(map[string]*types.ItemVector),
		similar:  make(map[string][]types.SimilarItem),
		profiles: make(map[string]*types.PreferenceProfile),
		cache:    make(map[string]*storage.CacheEntry),
	}
}

func (m *memStore) StoreVector(ctx context.Context, vec *types.ItemVector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *vec
	m.vectors[vec.Ref.Key()] = &copied
	return nil
}

func (m *memStore) GetVector(ctx context.Context, ref types.MediaRef) (*types.ItemVector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vec, ok := m.vectors[ref.Key()]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *vec
	return &copied, nil
}

func (m *memStore) ListVectors(ctx context.Context) ([]types.ItemVector, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.vectors))
	for key := range m.vectors {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]types.ItemVector, 0, len(keys))
	for _, key := range keys {
		out = append(out, *m.vectors[key])
	}
	return out, nil
}

func (m *memStore) DeleteVector(ctx context.Context, ref types.MediaRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.vectors[ref.Key()]; !ok {
		return storage.ErrNotFound
	}
	delete(m.vectors, ref.Key())
	return nil
}

func (m *memStore) CountVectors(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.vectors), nil
}

func (m *memStore) ReplaceSimilar(ctx context.Context, source types.MediaRef, items []types.SimilarItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.similar[source.Key()] = append([]types.SimilarItem(nil), items...)
	return nil
}

func (m *memStore) GetSimilar(ctx context.Context, source types.MediaRef, limit int) ([]types.SimilarItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.similar[source.Key()]
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return append([]types.SimilarItem(nil), items...), nil
}

func (m *memStore) ClearSimilar(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.similar = make(map[string][]types.SimilarItem)
	return nil
}

func (m *memStore) AppendInteraction(ctx context.Context, in *types.Interaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interactions = append(m.interactions, *in)
	return nil
}

func (m *memStore) ListByUser(ctx context.Context, userID string, since time.Time) ([]types.Interaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Interaction
	for _, in := range m.interactions {
		if in.UserID == userID && !in.CreatedAt.Before(since) {
			out = append(out, in)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *memStore) ListByUsers(ctx context.Context, userIDs []string, since time.Time) ([]types.Interaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		ids[id] = true
	}
	var out []types.Interaction
	for _, in := range m.interactions {
		if ids[in.UserID] && !in.CreatedAt.Before(since) {
			out = append(out, in)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (m *memStore) CountByUser(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, in := range m.interactions {
		if in.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (m *memStore) UserItemKeys(ctx context.Context, userID string) (map[string]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make(map[string]bool)
	for _, in := range m.interactions {
		if in.UserID == userID {
			keys[in.Item.Key()] = true
		}
	}
	return keys, nil
}

func (m *memStore) CountByItems(ctx context.Context, refs []types.MediaRef) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]bool, len(refs))
	for _, ref := range refs {
		wanted[ref.Key()] = true
	}
	counts := make(map[string]int)
	for _, in := range m.interactions {
		if wanted[in.Item.Key()] {
			counts[in.Item.Key()]++
		}
	}
	return counts, nil
}

func (m *memStore) ItemPopularity(ctx context.Context, since time.Time, minUsers, limit int) ([]storage.ItemPopularity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	type agg struct {
		ref   types.MediaRef
		users map[string]bool
		count int
		total float64
	}
	byItem := make(map[string]*agg)
	for _, in := range m.interactions {
		if in.CreatedAt.Before(since) {
			continue
		}
		key := in.Item.Key()
		a, ok := byItem[key]
		if !ok {
			a = &agg{ref: in.Item, users: make(map[string]bool)}
			byItem[key] = a
		}
		a.users[in.UserID] = true
		a.count++
		a.total += in.Value
	}

	var out []storage.ItemPopularity
	for _, a := range byItem {
		if len(a.users) < minUsers {
			continue
		}
		out = append(out, storage.ItemPopularity{
			Ref:          a.ref,
			UniqueUsers:  len(a.users),
			Interactions: a.count,
			AvgValue:     a.total / float64(a.count),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].UniqueUsers != out[j].UniqueUsers {
			return out[i].UniqueUsers > out[j].UniqueUsers
		}
		return out[i].AvgValue > out[j].AvgValue
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) ActiveUsers(ctx context.Context, minInteractions int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int)
	for _, in := range m.interactions {
		counts[in.UserID]++
	}
	var out []string
	for id, count := range counts {
		if count >= minInteractions {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *memStore) PutProfile(ctx context.Context, profile *types.PreferenceProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *profile
	m.profiles[profile.UserID] = &copied
	return nil
}

func (m *memStore) GetProfile(ctx context.Context, userID string) (*types.PreferenceProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	profile, ok := m.profiles[userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *profile
	return &copied, nil
}

func (m *memStore) PutCached(ctx context.Context, key string, payload []byte, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[key] = &storage.CacheEntry{Key: key, Payload: payload, ExpiresAt: expiresAt}
	return nil
}

func (m *memStore) GetCached(ctx context.Context, key string) (*storage.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.cache[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := *entry
	return &copied, nil
}

func (m *memStore) DeleteCachedPrefix(ctx context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for key := range m.cache {
		if strings.HasPrefix(key, prefix) {
			delete(m.cache, key)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memStore) PruneExpired(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	pruned := 0
	for key, entry := range m.cache {
		if entry.Expired(now) {
			delete(m.cache, key)
			pruned++
		}
	}
	return pruned, nil
}

func (m *memStore) Close() error { return nil }

func sortNewestFirst(interactions []types.Interaction) {
	sort.SliceStable(interactions, func(i, j int) bool {
		return interactions[i].CreatedAt.After(interactions[j].CreatedAt)
	})
}

// searchableStore augments memStore with a canned server-side vector
// shortlist, standing in for a pgvector-capable backend.
type searchableStore struct {
	*memStore
	shortlist   []types.SimilarItem
	searchErr   error
	searchCalls int
}

var _ storage.VectorSearcher = (*searchableStore)(nil)

func (s *searchableStore) SearchSimilarVectors(ctx context.Context, vec types.FeatureVector, exclude types.MediaRef, limit int) ([]types.SimilarItem, error) {
	s.searchCalls++
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	out := make([]types.SimilarItem, 0, len(s.shortlist))
	for _, item := range s.shortlist {
		if item.Ref == exclude {
			continue
		}
		out = append(out, item)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// memCatalog is an in-memory CatalogReader for engine tests.
type memCatalog struct {
	items []types.MediaItem
}

var _ storage.CatalogReader = (*memCatalog)(nil)

func (c *memCatalog) ListItems(ctx context.Context, mediaType types.MediaType) ([]types.MediaItem, error) {
	var out []types.MediaItem
	for _, item := range c.items {
		if item.Ref.Type == mediaType {
			out = append(out, item)
		}
	}
	return out, nil
}

func (c *memCatalog) GetItem(ctx context.Context, ref types.MediaRef) (*types.MediaItem, error) {
	for i := range c.items {
		if c.items[i].Ref == ref {
			item := c.items[i]
			return &item, nil
		}
	}
	return nil, storage.ErrNotFound
}

// Test fixture helpers shared across the engine test files.

func unitVector(terms ...string) types.FeatureVector {
	raw := make(types.FeatureVector, len(terms))
	for _, term := range terms {
		raw[term] = 1
	}
	return raw.Normalized()
}

func storeVector(t interface{ Fatalf(string, ...any) }, store *memStore, ref types.MediaRef, genre, language, creator string, vector types.FeatureVector) {
	err := store.StoreVector(context.Background(), &types.ItemVector{
		Ref:       ref,
		Vector:    vector,
		Genre:     genre,
		Language:  language,
		Creator:   creator,
		Title:     ref.ID,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("store vector: %v", err)
	}
}

func bookRef(id string) types.MediaRef {
	return types.MediaRef{Type: types.MediaTypeBook, ID: id}
}
