package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/shelfwise/shelfwise/internal/storage"
	"github.com/shelfwise/shelfwise/internal/vectorizer"
	"github.com/shelfwise/shelfwise/pkg/types"
)

// CollaborativeService recommends items by finding users whose preference
// vectors resemble the target's and aggregating what those neighbors engaged
// with. Users with no history fall back to global popularity.
type CollaborativeService struct {
	interactions storage.InteractionStore
	vectors      storage.VectorStore
	profiles     *ProfileBuilder

	now func() time.Time
}

// NewCollaborativeService creates a collaborative filtering service.
func NewCollaborativeService(interactions storage.InteractionStore, vectors storage.VectorStore, profiles *ProfileBuilder) *CollaborativeService {
	return &CollaborativeService{
		interactions: interactions,
		vectors:      vectors,
		profiles:     profiles,
		now:          time.Now,
	}
}

// neighbor is one similar user with their profile similarity to the target.
type neighbor struct {
	userID     string
	similarity float64
}

// GetPersonalizedRecommendations returns items scored from the behavior of
// the target user's nearest neighbors. A user with zero recorded
// interactions receives the popularity fallback, never an error.
func (s *CollaborativeService) GetPersonalizedRecommendations(ctx context.Context, userID string, opts CollaborativeOptions) ([]types.Recommendation, error) {
	opts.Normalize()

	count, err := s.interactions.CountByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("collaborative: failed to count interactions: %w", err)
	}
	if count == 0 {
		return s.PopularityFallback(ctx, opts.Limit)
	}

	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("collaborative: failed to build profile: %w", err)
	}

	neighbors, err := s.findNeighbors(ctx, userID, profile)
	if err != nil {
		return nil, err
	}
	if len(neighbors) == 0 {
		return s.PopularityFallback(ctx, opts.Limit)
	}

	return s.aggregateCandidates(ctx, userID, neighbors, opts)
}

// findNeighbors scores every user with enough history against the target's
// preference vector and keeps the closest few.
func (s *CollaborativeService) findNeighbors(ctx context.Context, userID string, profile *types.PreferenceProfile) ([]neighbor, error) {
	candidates, err := s.interactions.ActiveUsers(ctx, neighborMinInteractions)
	if err != nil {
		return nil, fmt.Errorf("collaborative: failed to list active users: %w", err)
	}

	neighbors := make([]neighbor, 0, len(candidates))
	for _, id := range candidates {
		if id == userID {
			continue
		}
		other, err := s.profiles.GetProfile(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("collaborative: failed to load neighbor profile: %w", err)
		}
		sim := vectorizer.CosineSimilarity(profile.Vector, other.Vector)
		if sim <= neighborMinSimilarity {
			continue
		}
		neighbors = append(neighbors, neighbor{userID: id, similarity: sim})
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		return neighbors[i].similarity > neighbors[j].similarity
	})
	if len(neighbors) > neighborLimit {
		neighbors = neighbors[:neighborLimit]
	}
	return neighbors, nil
}

// aggregateCandidates pulls the neighbors' recent interactions and scores
// each item by summed neighbor affinity, recency, and global popularity.
func (s *CollaborativeService) aggregateCandidates(ctx context.Context, userID string, neighbors []neighbor, opts CollaborativeOptions) ([]types.Recommendation, error) {
	now := s.now()

	simByUser := make(map[string]float64, len(neighbors))
	ids := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		simByUser[n.userID] = n.similarity
		ids = append(ids, n.userID)
	}

	history, err := s.interactions.ListByUsers(ctx, ids, now.Add(-interactionWindow))
	if err != nil {
		return nil, fmt.Errorf("collaborative: failed to list neighbor interactions: %w", err)
	}

	var viewed map[string]bool
	if opts.ExcludeViewed {
		viewed, err = s.interactions.UserItemKeys(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("collaborative: failed to load viewed items: %w", err)
		}
	}

	scores := make(map[string]float64)
	refs := make(map[string]types.MediaRef)
	for i := range history {
		in := &history[i]
		key := in.Item.Key()
		if viewed != nil && viewed[key] {
			continue
		}
		base := KindWeight(in.Kind)
		if base == 0 {
			continue
		}

		daysAgo := now.Sub(in.CreatedAt).Hours() / 24
		if daysAgo < 0 {
			daysAgo = 0
		}
		recencyBoost := math.Exp(-daysAgo/recencyDecayDays) * opts.RecencyWeight

		scores[key] += simByUser[in.UserID] * base * (1 + recencyBoost)
		refs[key] = in.Item
	}

	if len(scores) == 0 {
		return s.PopularityFallback(ctx, opts.Limit)
	}

	// Popularity bonus: widely-engaged items get a gentle logarithmic lift.
	refList := make([]types.MediaRef, 0, len(refs))
	for _, ref := range refs {
		refList = append(refList, ref)
	}
	itemCounts, err := s.interactions.CountByItems(ctx, refList)
	if err != nil {
		return nil, fmt.Errorf("collaborative: failed to count item interactions: %w", err)
	}

	recs := make([]types.Recommendation, 0, len(scores))
	for key, score := range scores {
		score *= 1 + 0.1*math.Log(float64(itemCounts[key])+1)
		score = clampScore(score)
		if score < opts.MinScore {
			continue
		}

		rec := types.Recommendation{
			Item:   refs[key],
			Score:  score,
			Reason: "Users like you enjoyed this",
		}
		if vec, err := s.vectors.GetVector(ctx, refs[key]); err == nil {
			rec.Title = vec.Title
			rec.Genre = vec.Genre
			rec.Language = vec.Language
			rec.Creator = vec.Creator
		}
		recs = append(recs, rec)
	}

	sortRecommendations(recs)
	if len(recs) > opts.Limit {
		recs = recs[:opts.Limit]
	}
	return recs, nil
}

// PopularityFallback ranks items by how many distinct users engaged with
// them over the trailing popularity window. It is the cold-start answer and
// the cheapest signal in every fallback chain.
func (s *CollaborativeService) PopularityFallback(ctx context.Context, limit int) ([]types.Recommendation, error) {
	if limit <= 0 {
		limit = 10
	}

	popular, err := s.interactions.ItemPopularity(ctx, s.now().Add(-popularityWindow), popularityMinUsers, limit)
	if err != nil {
		return nil, fmt.Errorf("collaborative: failed to rank popularity: %w", err)
	}

	recs := make([]types.Recommendation, 0, len(popular))
	for _, pop := range popular {
		rec := types.Recommendation{
			Item:   pop.Ref,
			Score:  clampScore(math.Min(float64(pop.UniqueUsers)/10, 1)),
			Reason: "Popular in the library right now",
		}
		if vec, err := s.vectors.GetVector(ctx, pop.Ref); err == nil {
			rec.Title = vec.Title
			rec.Genre = vec.Genre
			rec.Language = vec.Language
			rec.Creator = vec.Creator
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// InteractionMeta carries the optional fields of a tracked interaction.
type InteractionMeta struct {
	Value           float64
	DurationSeconds float64
	ProgressPercent float64
}

// TrackInteraction appends one interaction event. When no explicit value is
// given, the stored interaction_value is the kind's base weight, so the
// weighting model and the stored history agree.
func (s *CollaborativeService) TrackInteraction(ctx context.Context, userID string, item types.MediaRef, kind types.InteractionKind, meta InteractionMeta) (*types.Interaction, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown interaction kind %q", storage.ErrInvalidInput, kind)
	}

	value := meta.Value
	if value <= 0 {
		value = KindWeight(kind)
	}

	in := &types.Interaction{
		ID:              uuid.New().String(),
		UserID:          userID,
		Item:            item,
		Kind:            kind,
		Value:           value,
		DurationSeconds: meta.DurationSeconds,
		ProgressPercent: meta.ProgressPercent,
		CreatedAt:       s.now(),
	}
	if err := s.interactions.AppendInteraction(ctx, in); err != nil {
		return nil, fmt.Errorf("collaborative: failed to record interaction: %w", err)
	}
	return in, nil
}
