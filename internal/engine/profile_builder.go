package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shelfwise/shelfwise/internal/storage"
	"github.com/shelfwise/shelfwise/pkg/types"
)

// ProfileBuilder aggregates a user's interaction history into a preference
// vector in the item vocabulary space, plus coarse favorite-genre and
// favorite-language summaries. Profiles are cached for 24 hours and rebuilt
// wholesale on staleness.
type ProfileBuilder struct {
	interactions storage.InteractionStore
	vectors      storage.VectorStore
	profiles     storage.ProfileStore

	// now is swappable for tests exercising freshness and decay.
	now func() time.Time
}

// NewProfileBuilder creates a profile builder over the given stores.
func NewProfileBuilder(interactions storage.InteractionStore, vectors storage.VectorStore, profiles storage.ProfileStore) *ProfileBuilder {
	return &ProfileBuilder{
		interactions: interactions,
		vectors:      vectors,
		profiles:     profiles,
		now:          time.Now,
	}
}

// GetProfile returns the user's preference profile, rebuilding it from the
// interaction history when no stored profile exists or the stored one is
// older than the freshness window.
func (b *ProfileBuilder) GetProfile(ctx context.Context, userID string) (*types.PreferenceProfile, error) {
	profile, err := b.profiles.GetProfile(ctx, userID)
	if err == nil && profile.Fresh(b.now()) {
		return profile, nil
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("profile: failed to load profile: %w", err)
	}

	return b.RebuildProfile(ctx, userID)
}

// RebuildProfile recomputes the user's profile from the trailing
// interaction window and persists it, replacing any prior profile.
//
// Each interaction contributes its item's feature vector scaled by
//
//	kindWeight × value × exp(-days/90) × (1 + 0.5·min(duration/3600, 2))
//
// and the accumulated sum is divided by the total accumulated weight. This is
// a weight normalization, not an L2 renormalization, so stronger engagement
// shifts the centroid without inflating it.
func (b *ProfileBuilder) RebuildProfile(ctx context.Context, userID string) (*types.PreferenceProfile, error) {
	now := b.now()
	since := now.Add(-interactionWindow)

	history, err := b.interactions.ListByUser(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("profile: failed to list interactions: %w", err)
	}

	totalCount, err := b.interactions.CountByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("profile: failed to count interactions: %w", err)
	}

	sum := make(types.FeatureVector)
	var totalWeight float64
	genres := make(map[string]bool)
	languages := make(map[string]bool)
	var engaged, completed int

	for i := range history {
		in := &history[i]
		weight := b.interactionWeight(in, now)
		if weight <= 0 {
			continue
		}

		// The completion rate counts every engagement interaction in the
		// window, whether or not its item is vectorized yet.
		engaged++
		if in.Kind == types.InteractionComplete {
			completed++
		}

		vec, err := b.vectors.GetVector(ctx, in.Item)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// Item not vectorized yet; it cannot contribute.
				continue
			}
			return nil, fmt.Errorf("profile: failed to load item vector: %w", err)
		}

		for term, w := range vec.Vector {
			sum[term] += w * weight
		}
		totalWeight += weight

		if vec.Genre != "" {
			genres[vec.Genre] = true
		}
		if vec.Language != "" {
			languages[vec.Language] = true
		}
	}

	if totalWeight > 0 {
		for term := range sum {
			sum[term] /= totalWeight
		}
	}

	profile := &types.PreferenceProfile{
		UserID:            userID,
		Vector:            sum,
		FavoriteGenres:    sortedKeys(genres),
		FavoriteLanguages: sortedKeys(languages),
		InteractionCount:  totalCount,
		UpdatedAt:         now,
	}
	if engaged > 0 {
		profile.AvgCompletionRate = float64(completed) / float64(engaged)
	}

	if err := b.profiles.PutProfile(ctx, profile); err != nil {
		return nil, fmt.Errorf("profile: failed to store profile: %w", err)
	}
	return profile, nil
}

// interactionWeight computes the contribution weight of one interaction:
// base kind weight, explicit value, temporal decay, and a duration-engagement
// boost capped at two hours equivalent.
func (b *ProfileBuilder) interactionWeight(in *types.Interaction, now time.Time) float64 {
	base := KindWeight(in.Kind)
	if base == 0 {
		return 0
	}

	value := in.Value
	if value <= 0 {
		value = 1
	}

	days := now.Sub(in.CreatedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	decay := math.Exp(-days / profileDecayDays)

	engagement := 1 + 0.5*math.Min(in.DurationSeconds/3600, 2)

	return base * value * decay * engagement
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	// Deterministic ordering keeps rebuilt profiles byte-comparable.
	sort.Strings(keys)
	return keys
}
