package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shelfwise/shelfwise/internal/storage"
	"github.com/shelfwise/shelfwise/pkg/types"
)

func newCollabService(store *memStore, now time.Time) *CollaborativeService {
	profiles := NewProfileBuilder(store, store, store)
	profiles.now = fixedClock(now)
	svc := NewCollaborativeService(store, store, profiles)
	svc.now = fixedClock(now)
	return svc
}

// seedPopularItems gives three distinct users recent interactions with the
// same items so the popularity fallback has something to rank.
func seedPopularItems(t *testing.T, store *memStore, now time.Time) {
	t.Helper()
	storeVector(t, store, bookRef("hit"), "adventure", "en", "", unitVector("dragon"))
	storeVector(t, store, bookRef("niche"), "romance", "en", "", unitVector("tender"))
	for _, user := range []string{"p1", "p2", "p3", "p4"} {
		appendInteraction(t, store, user, bookRef("hit"), types.InteractionLike, now.Add(-time.Hour))
	}
	for _, user := range []string{"p1", "p2", "p3"} {
		appendInteraction(t, store, user, bookRef("niche"), types.InteractionView, now.Add(-time.Hour))
	}
}

func TestCollaborative_ColdStartGetsPopularityFallback(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	seedPopularItems(t, store, now)
	svc := newCollabService(store, now)

	recs, err := svc.GetPersonalizedRecommendations(context.Background(), "newcomer", CollaborativeOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, recs)

	assert.Equal(t, bookRef("hit"), recs[0].Item, "most distinct users wins")
	for _, rec := range recs {
		assert.Equal(t, "Popular in the library right now", rec.Reason)
		assert.GreaterOrEqual(t, rec.Score, 0.0)
		assert.LessOrEqual(t, rec.Score, 1.0)
	}
}

func TestCollaborative_PopularityRequiresMinUsers(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	storeVector(t, store, bookRef("duo"), "adventure", "en", "", unitVector("dragon"))
	appendInteraction(t, store, "p1", bookRef("duo"), types.InteractionLike, now.Add(-time.Hour))
	appendInteraction(t, store, "p2", bookRef("duo"), types.InteractionLike, now.Add(-time.Hour))
	svc := newCollabService(store, now)

	recs, err := svc.PopularityFallback(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, recs, "two distinct users are below the popularity threshold")
}

func TestCollaborative_NeighborsDriveRecommendations(t *testing.T) {
	store := newMemStore()
	now := time.Now()

	// Five adventure items plus one the neighbor alone has touched.
	for i := 1; i <= 5; i++ {
		storeVector(t, store, bookRef(fmt.Sprintf("adv%d", i)), "adventure", "en", "", unitVector("dragon", "quest"))
	}
	storeVector(t, store, bookRef("fresh"), "adventure", "en", "", unitVector("dragon", "tower"))

	// Neighbor has deep overlapping history plus the fresh item.
	for i := 1; i <= 5; i++ {
		appendInteraction(t, store, "neighbor", bookRef(fmt.Sprintf("adv%d", i)), types.InteractionLike, now.Add(-time.Hour))
	}
	appendInteraction(t, store, "neighbor", bookRef("fresh"), types.InteractionComplete, now.Add(-time.Hour))

	// Target shares taste but has only touched adv1.
	appendInteraction(t, store, "target", bookRef("adv1"), types.InteractionLike, now.Add(-time.Hour))

	svc := newCollabService(store, now)

	recs, err := svc.GetPersonalizedRecommendations(context.Background(), "target", CollaborativeOptions{
		ExcludeViewed: true,
		RecencyWeight: 1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, recs)

	items := make(map[types.MediaRef]bool)
	for i, rec := range recs {
		items[rec.Item] = true
		assert.Equal(t, "Users like you enjoyed this", rec.Reason)
		assert.LessOrEqual(t, rec.Score, 1.0)
		if i > 0 {
			assert.GreaterOrEqual(t, recs[i-1].Score, rec.Score)
		}
	}
	assert.True(t, items[bookRef("fresh")], "neighbor's unseen item is recommended")
	assert.False(t, items[bookRef("adv1")], "already-viewed item is excluded")
}

func TestCollaborative_NoNeighborsFallsBackToPopularity(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	seedPopularItems(t, store, now)

	// Loner's taste is orthogonal to everyone with enough history.
	storeVector(t, store, bookRef("weird"), "experimental", "en", "", unitVector("glitch"))
	appendInteraction(t, store, "loner", bookRef("weird"), types.InteractionLike, now.Add(-time.Hour))

	svc := newCollabService(store, now)

	recs, err := svc.GetPersonalizedRecommendations(context.Background(), "loner", CollaborativeOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, recs)
	assert.Equal(t, "Popular in the library right now", recs[0].Reason)
}

func TestCollaborative_TrackInteractionValidation(t *testing.T) {
	store := newMemStore()
	svc := newCollabService(store, time.Now())

	_, err := svc.TrackInteraction(context.Background(), "", bookRef("a"), types.InteractionView, InteractionMeta{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = svc.TrackInteraction(context.Background(), "u1", bookRef("a"), "binge", InteractionMeta{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestCollaborative_TrackInteractionDefaultsValueToKindWeight(t *testing.T) {
	store := newMemStore()
	now := time.Now()
	svc := newCollabService(store, now)

	in, err := svc.TrackInteraction(context.Background(), "u1", bookRef("a"), types.InteractionShare, InteractionMeta{})
	require.NoError(t, err)

	assert.NotEmpty(t, in.ID)
	assert.Equal(t, 3.0, in.Value)
	assert.Equal(t, now, in.CreatedAt)

	explicit, err := svc.TrackInteraction(context.Background(), "u1", bookRef("a"), types.InteractionShare, InteractionMeta{Value: 1.5})
	require.NoError(t, err)
	assert.Equal(t, 1.5, explicit.Value)
}
