package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfwise/shelfwise/internal/storage"
	"github.com/shelfwise/shelfwise/pkg/types"
)

func seedContentCorpus(t *testing.T, store *memStore) {
	t.Helper()
	storeVector(t, store, bookRef("source"), "adventure", "en", "rivera", unitVector("dragon", "quest", "castle"))
	storeVector(t, store, bookRef("close"), "adventure", "en", "rivera", unitVector("dragon", "quest", "tower"))
	storeVector(t, store, bookRef("mid"), "mystery", "en", "okafor", unitVector("dragon", "detective", "harbor"))
	storeVector(t, store, bookRef("far"), "romance", "fr", "laurent", unitVector("tender", "paris", "letters"))
}

func TestContentService_NeverRecommendsSource(t *testing.T) {
	store := newMemStore()
	seedContentCorpus(t, store)
	svc := NewContentService(store, store, 0)

	recs, err := svc.GetRecommendations(context.Background(), bookRef("source"), ContentOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, recs)

	for _, rec := range recs {
		assert.NotEqual(t, bookRef("source"), rec.Item)
	}
}

func TestContentService_SortedScoresInRange(t *testing.T) {
	store := newMemStore()
	seedContentCorpus(t, store)
	svc := NewContentService(store, store, 0)

	recs, err := svc.GetRecommendations(context.Background(), bookRef("source"), ContentOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, recs)

	for i, rec := range recs {
		assert.GreaterOrEqual(t, rec.Score, 0.0)
		assert.LessOrEqual(t, rec.Score, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, recs[i-1].Score, rec.Score, "list must be sorted descending")
		}
	}
}

func TestContentService_UnknownSourceYieldsEmptyList(t *testing.T) {
	store := newMemStore()
	svc := NewContentService(store, store, 0)

	recs, err := svc.GetRecommendations(context.Background(), bookRef("ghost"), ContentOptions{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestContentService_SameGenreBoostLiftsMatches(t *testing.T) {
	store := newMemStore()
	// Two candidates with identical similarity to the source; only genre differs.
	storeVector(t, store, bookRef("source"), "adventure", "en", "", unitVector("dragon", "quest"))
	storeVector(t, store, bookRef("samegenre"), "adventure", "en", "", unitVector("dragon", "tower"))
	storeVector(t, store, bookRef("othergenre"), "romance", "en", "", unitVector("dragon", "letters"))
	svc := NewContentService(store, store, 0)

	recs, err := svc.GetRecommendations(context.Background(), bookRef("source"), ContentOptions{SameGenreBoost: 1.2})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, bookRef("samegenre"), recs[0].Item)
	assert.Greater(t, recs[0].Score, recs[1].Score)
}

func TestContentService_SameLanguageOnlyFilters(t *testing.T) {
	store := newMemStore()
	seedContentCorpus(t, store)
	storeVector(t, store, bookRef("translated"), "adventure", "de", "rivera", unitVector("dragon", "quest", "tower"))
	svc := NewContentService(store, store, 0)

	recs, err := svc.GetRecommendations(context.Background(), bookRef("source"), ContentOptions{SameLanguageOnly: true})
	require.NoError(t, err)
	require.NotEmpty(t, recs)

	for _, rec := range recs {
		assert.Equal(t, "en", rec.Language)
	}
}

func TestContentService_MinScoreFiltersWeakMatches(t *testing.T) {
	store := newMemStore()
	seedContentCorpus(t, store)
	svc := NewContentService(store, store, 0)

	recs, err := svc.GetRecommendations(context.Background(), bookRef("source"), ContentOptions{MinScore: 0.5})
	require.NoError(t, err)

	for _, rec := range recs {
		assert.NotEqual(t, bookRef("far"), rec.Item, "orthogonal item must be filtered")
	}
}

func TestContentService_PrecomputedFastPath(t *testing.T) {
	store := newMemStore()
	seedContentCorpus(t, store)
	svc := NewContentService(store, store, 0)

	require.NoError(t, store.ReplaceSimilar(context.Background(), bookRef("source"), []types.SimilarItem{
		{Ref: bookRef("close"), Score: 0.8, Rank: 1},
		{Ref: bookRef("mid"), Score: 0.4, Rank: 2},
	}))

	recs, err := svc.GetRecommendations(context.Background(), bookRef("source"), ContentOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, bookRef("close"), recs[0].Item)
	assert.InDelta(t, 0.8, recs[0].Score, 1e-9)
	assert.Equal(t, "close", recs[0].Title, "metadata hydrated from the vector store")
}

func TestContentService_PrecomputeSimilarItems(t *testing.T) {
	store := newMemStore()
	seedContentCorpus(t, store)
	svc := NewContentService(store, store, 0)

	processed, failed, err := svc.PrecomputeSimilarItems(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 4, processed)
	assert.Zero(t, failed)

	neighbors, err := store.GetSimilar(context.Background(), bookRef("source"), 10)
	require.NoError(t, err)
	require.NotEmpty(t, neighbors)

	for i, n := range neighbors {
		assert.NotEqual(t, bookRef("source"), n.Ref, "no self-neighbor")
		assert.Equal(t, i+1, n.Rank, "dense rank")
		if i > 0 {
			assert.GreaterOrEqual(t, neighbors[i-1].Score, n.Score)
		}
	}
	assert.Equal(t, bookRef("close"), neighbors[0].Ref)
}

func TestContentService_BackendShortlistNarrowsScan(t *testing.T) {
	store := newMemStore()
	seedContentCorpus(t, store)

	// The backend shortlist omits "mid" even though it shares vocabulary with
	// the source, and reports a deliberately wrong approximate score.
	searchable := &searchableStore{
		memStore: store,
		shortlist: []types.SimilarItem{
			{Ref: bookRef("close"), Score: 0.99, Rank: 1},
		},
	}
	svc := NewContentService(searchable, store, 0)

	recs, err := svc.GetRecommendations(context.Background(), bookRef("source"), ContentOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, searchable.searchCalls)

	require.Len(t, recs, 1, "only shortlisted candidates are considered")
	assert.Equal(t, bookRef("close"), recs[0].Item)
	// Exact cosine 2/3 times the default 1.2 same-genre boost, not the
	// backend's approximate 0.99.
	assert.InDelta(t, 0.8, recs[0].Score, 1e-9)
}

func TestContentService_ShortlistUnsupportedFallsBackToScan(t *testing.T) {
	store := newMemStore()
	seedContentCorpus(t, store)

	searchable := &searchableStore{memStore: store, searchErr: storage.ErrUnsupported}
	svc := NewContentService(searchable, store, 0)

	recs, err := svc.GetRecommendations(context.Background(), bookRef("source"), ContentOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, searchable.searchCalls)

	items := make(map[types.MediaRef]bool, len(recs))
	for _, rec := range recs {
		items[rec.Item] = true
	}
	assert.True(t, items[bookRef("close")])
	assert.True(t, items[bookRef("mid")], "full scan considers the whole corpus")
}

func TestContentService_ReasonsExplainMatches(t *testing.T) {
	store := newMemStore()
	seedContentCorpus(t, store)
	svc := NewContentService(store, store, 0)

	recs, err := svc.GetRecommendations(context.Background(), bookRef("source"), ContentOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, recs)

	assert.Equal(t, "Same genre: adventure", recs[0].Reason)
}
