package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfwise/shelfwise/pkg/types"
)

func countingCompute(recs []types.Recommendation, err error) (*int, ComputeFunc) {
	calls := new(int)
	return calls, func(ctx context.Context) ([]types.Recommendation, error) {
		*calls++
		return recs, err
	}
}

func TestCache_ComputeOnceThenHit(t *testing.T) {
	store := newMemStore()
	cache, err := NewCache(store)
	require.NoError(t, err)

	want := []types.Recommendation{{Item: bookRef("a"), Score: 0.5, Reason: "r"}}
	calls, compute := countingCompute(want, nil)

	first, hit, err := cache.Cached(context.Background(), "rec:item:test", time.Minute, compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, want, first)

	second, hit, err := cache.Cached(context.Background(), "rec:item:test", time.Minute, compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, first, second, "cache hit must equal the computed result")
	assert.Equal(t, 1, *calls)
}

func TestCache_ExpiredEntryRecomputed(t *testing.T) {
	store := newMemStore()
	cache, err := NewCache(store)
	require.NoError(t, err)

	require.NoError(t, store.PutCached(context.Background(), "k", []byte(`[]`), time.Now().Add(-time.Minute)))

	want := []types.Recommendation{{Item: bookRef("a"), Score: 0.5}}
	calls, compute := countingCompute(want, nil)

	recs, hit, err := cache.Cached(context.Background(), "k", time.Minute, compute)
	require.NoError(t, err)
	assert.False(t, hit, "expired entries are never served")
	assert.Equal(t, want, recs)
	assert.Equal(t, 1, *calls)
}

func TestCache_ComputeErrorPropagates(t *testing.T) {
	cache, err := NewCache(newMemStore())
	require.NoError(t, err)

	wantErr := errors.New("compute failed")
	_, compute := countingCompute(nil, wantErr)

	_, _, err = cache.Cached(context.Background(), "k", time.Minute, compute)
	assert.ErrorIs(t, err, wantErr)
}

func TestCache_GetStaleServesExpiredEntries(t *testing.T) {
	store := newMemStore()
	cache, err := NewCache(store)
	require.NoError(t, err)

	payload := []byte(`[{"item":{"type":"book","id":"a"},"score":0.5,"reason":"r"}]`)
	require.NoError(t, store.PutCached(context.Background(), "k", payload, time.Now().Add(-time.Minute)))

	recs, ok := cache.GetStale(context.Background(), "k")
	require.True(t, ok)
	require.Len(t, recs, 1)
	assert.Equal(t, bookRef("a"), recs[0].Item)
}

func TestCache_GetStaleMissingKey(t *testing.T) {
	cache, err := NewCache(newMemStore())
	require.NoError(t, err)

	_, ok := cache.GetStale(context.Background(), "missing")
	assert.False(t, ok)
}

func TestCache_InvalidateUserDropsOnlyUserKeys(t *testing.T) {
	store := newMemStore()
	cache, err := NewCache(store)
	require.NoError(t, err)

	want := []types.Recommendation{{Item: bookRef("a"), Score: 0.5}}
	_, compute := countingCompute(want, nil)

	userKey := personalizedKey("u1", CollaborativeOptions{Limit: 10})
	itemKey := contentKey(bookRef("a"), ContentOptions{Limit: 10})

	_, _, err = cache.Cached(context.Background(), userKey, time.Minute, compute)
	require.NoError(t, err)
	_, _, err = cache.Cached(context.Background(), itemKey, time.Minute, compute)
	require.NoError(t, err)

	require.NoError(t, cache.InvalidateUser(context.Background(), "u1"))

	calls, compute := countingCompute(want, nil)
	_, hit, err := cache.Cached(context.Background(), userKey, time.Minute, compute)
	require.NoError(t, err)
	assert.False(t, hit, "user-scoped entry was invalidated")
	assert.Equal(t, 1, *calls)

	_, hit, err = cache.Cached(context.Background(), itemKey, time.Minute, compute)
	require.NoError(t, err)
	assert.True(t, hit, "item-scoped entry survives user invalidation")
}

func TestCache_PruneExpiredSweepsStore(t *testing.T) {
	store := newMemStore()
	cache, err := NewCache(store)
	require.NoError(t, err)

	require.NoError(t, store.PutCached(context.Background(), "dead", []byte(`[]`), time.Now().Add(-time.Minute)))
	require.NoError(t, store.PutCached(context.Background(), "live", []byte(`[]`), time.Now().Add(time.Minute)))

	pruned, err := cache.PruneExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, pruned)

	_, err = store.GetCached(context.Background(), "live")
	assert.NoError(t, err)
}
