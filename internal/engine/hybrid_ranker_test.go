package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfwise/shelfwise/pkg/types"
)

func newHybridRanker(store *memStore, now time.Time) *HybridRanker {
	profiles := NewProfileBuilder(store, store, store)
	profiles.now = fixedClock(now)
	content := NewContentService(store, store, 0)
	collab := NewCollaborativeService(store, store, profiles)
	collab.now = fixedClock(now)
	return NewHybridRanker(content, collab, profiles)
}

func rec(id string, score float64) types.Recommendation {
	return types.Recommendation{Item: bookRef(id), Score: score, Reason: "r"}
}

func TestHybridMerge_SingleSourceDividesByPresentWeightOnly(t *testing.T) {
	r := newHybridRanker(newMemStore(), time.Now())
	opts := HybridOptions{ContentWeight: 0.5, CollaborativeWeight: 0.5}

	merged := r.merge(
		[]types.Recommendation{rec("contentonly", 0.9)},
		[]types.Recommendation{rec("collabonly", 0.8)},
		opts,
	)
	require.Len(t, merged, 2)

	byItem := make(map[string]float64)
	for _, m := range merged {
		byItem[m.Item.ID] = m.Score
	}

	// Single-source items keep their full score: the absent list's weight is
	// excluded from the divisor.
	assert.InDelta(t, 0.9, byItem["contentonly"], 1e-9)
	assert.InDelta(t, 0.8, byItem["collabonly"], 1e-9)
}

func TestHybridMerge_DualSourceBlendsByWeight(t *testing.T) {
	r := newHybridRanker(newMemStore(), time.Now())
	opts := HybridOptions{ContentWeight: 0.7, CollaborativeWeight: 0.3}

	merged := r.merge(
		[]types.Recommendation{rec("both", 0.8)},
		[]types.Recommendation{rec("both", 0.4)},
		opts,
	)
	require.Len(t, merged, 1)

	assert.InDelta(t, 0.8*0.7+0.4*0.3, merged[0].Score, 1e-9)
}

func TestHybridMerge_ConcatenatesReasons(t *testing.T) {
	r := newHybridRanker(newMemStore(), time.Now())
	opts := HybridOptions{ContentWeight: 0.5, CollaborativeWeight: 0.5}

	content := rec("both", 0.8)
	content.Reason = "Same genre: adventure"
	collab := rec("both", 0.6)
	collab.Reason = "Users like you enjoyed this"

	merged := r.merge(
		[]types.Recommendation{content},
		[]types.Recommendation{collab},
		opts,
	)
	require.Len(t, merged, 1)
	assert.Equal(t, "Same genre: adventure; Users like you enjoyed this", merged[0].Reason)
}

func TestHybridDiversity_PenalizesRepeatedGenre(t *testing.T) {
	r := newHybridRanker(newMemStore(), time.Now())

	recs := []types.Recommendation{
		{Item: bookRef("a"), Score: 0.8, Genre: "adventure", Creator: "c1"},
		{Item: bookRef("b"), Score: 0.8, Genre: "adventure", Creator: "c2"},
		{Item: bookRef("c"), Score: 0.8, Genre: "adventure", Creator: "c3"},
	}
	r.applyDiversity(recs, 1.0)

	// First two same-genre entries are free; the third is the first excess.
	assert.InDelta(t, 0.8, recs[0].Score, 1e-9)
	assert.InDelta(t, 0.8, recs[1].Score, 1e-9)
	assert.InDelta(t, 0.8*0.9, recs[2].Score, 1e-9)
}

func TestHybridDiversity_FactorInterpolatesPenalty(t *testing.T) {
	r := newHybridRanker(newMemStore(), time.Now())

	fullPenalty := []types.Recommendation{
		{Item: bookRef("a"), Score: 0.8, Genre: "g", Creator: "x"},
		{Item: bookRef("b"), Score: 0.8, Genre: "g", Creator: "x"},
	}
	halfPenalty := []types.Recommendation{
		{Item: bookRef("a"), Score: 0.8, Genre: "g", Creator: "x"},
		{Item: bookRef("b"), Score: 0.8, Genre: "g", Creator: "x"},
	}
	r.applyDiversity(fullPenalty, 1.0)
	r.applyDiversity(halfPenalty, 0.5)

	// Second entry repeats the creator: raw penalty 0.85.
	assert.InDelta(t, 0.8*0.85, fullPenalty[1].Score, 1e-9)
	assert.InDelta(t, 0.8*(1-0.5*(1-0.85)), halfPenalty[1].Score, 1e-9)
}

func TestHybridDiversity_ZeroFactorIsNoop(t *testing.T) {
	r := newHybridRanker(newMemStore(), time.Now())

	recs := []types.Recommendation{
		{Item: bookRef("a"), Score: 0.8, Genre: "g", Creator: "x"},
		{Item: bookRef("b"), Score: 0.8, Genre: "g", Creator: "x"},
		{Item: bookRef("c"), Score: 0.8, Genre: "g", Creator: "x"},
	}
	r.applyDiversity(recs, 0)

	for _, rec := range recs {
		assert.InDelta(t, 0.8, rec.Score, 1e-9)
	}
}

func TestAdaptiveWeights(t *testing.T) {
	cases := []struct {
		count   int
		content float64
		collab  float64
	}{
		{0, 0.7, 0.3},
		{4, 0.7, 0.3},
		{5, 0.5, 0.5},
		{19, 0.5, 0.5},
		{20, 0.3, 0.7},
		{500, 0.3, 0.7},
	}
	for _, tc := range cases {
		content, collab := AdaptiveWeights(tc.count)
		assert.Equal(t, tc.content, content, "count=%d", tc.count)
		assert.Equal(t, tc.collab, collab, "count=%d", tc.count)
	}
}

func TestHybrid_NewUserGetsPopularityFallback(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	seedPopularItems(t, store, now)
	r := newHybridRanker(store, now)

	recs, err := r.GetHybridRecommendations(context.Background(), "newcomer", nil, HybridOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, recs)

	for _, rec := range recs {
		assert.Equal(t, "Popular in the library right now", rec.Reason)
	}
	assert.Equal(t, bookRef("hit"), recs[0].Item)
}

func TestHybrid_AnchorBlendsContentCandidates(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	seedPopularItems(t, store, now)
	storeVector(t, store, bookRef("anchor"), "adventure", "en", "", unitVector("dragon", "quest"))
	storeVector(t, store, bookRef("twin"), "adventure", "en", "", unitVector("dragon", "quest", "tower"))
	r := newHybridRanker(store, now)

	recs, err := r.GetHybridRecommendations(context.Background(), "newcomer", &types.MediaRef{Type: types.MediaTypeBook, ID: "anchor"}, HybridOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, recs)

	items := make(map[types.MediaRef]bool)
	for i, rec := range recs {
		items[rec.Item] = true
		assert.NotEqual(t, bookRef("anchor"), rec.Item)
		if i > 0 {
			assert.GreaterOrEqual(t, recs[i-1].Score, rec.Score)
		}
	}
	assert.True(t, items[bookRef("twin")], "content neighbor of the anchor appears")
}

func TestHybrid_ExplorationInjectsUnseenPopularItems(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	seedPopularItems(t, store, now)
	storeVector(t, store, bookRef("anchor"), "mystery", "en", "", unitVector("detective"))
	storeVector(t, store, bookRef("clue"), "mystery", "en", "", unitVector("detective", "harbor"))
	r := newHybridRanker(store, now)

	recs, err := r.GetHybridRecommendations(context.Background(), "newcomer", &types.MediaRef{Type: types.MediaTypeBook, ID: "anchor"}, HybridOptions{
		ContentWeight:   1,
		ExplorationRate: 0.3,
		Limit:           10,
	})
	require.NoError(t, err)

	var discoveries int
	for _, rec := range recs {
		if rec.Reason == "Discover something new" {
			discoveries++
		}
	}
	assert.Greater(t, discoveries, 0, "exploration picks must be injected")
	assert.LessOrEqual(t, discoveries, 3, "ceil(10 x 0.3) picks at most")
}

func TestHybrid_RespectsLimit(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	seedPopularItems(t, store, now)
	r := newHybridRanker(store, now)

	recs, err := r.GetHybridRecommendations(context.Background(), "newcomer", nil, HybridOptions{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}
