package engine

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/shelfwise/shelfwise/pkg/types"
)

// HybridRanker fuses content-based and collaborative candidates into one
// ranked list, enforces diversity across genre, creator, and media type, and
// injects a bounded amount of exploration from the popularity signal.
type HybridRanker struct {
	content  *ContentService
	collab   *CollaborativeService
	profiles *ProfileBuilder
}

// NewHybridRanker creates a hybrid ranker over the two retrieval services.
func NewHybridRanker(content *ContentService, collab *CollaborativeService, profiles *ProfileBuilder) *HybridRanker {
	return &HybridRanker{content: content, collab: collab, profiles: profiles}
}

// mergedCandidate tracks which source lists an item appeared in while merging.
type mergedCandidate struct {
	rec          types.Recommendation
	contentScore float64
	collabScore  float64
	inContent    bool
	inCollab     bool
}

// GetHybridRecommendations merges collaborative candidates for the user with
// content candidates for the optional anchor item.
//
// The merge divides each item's weighted score by the sum of the weights of
// the lists it actually appeared in: an item present in only one list is not
// penalized by the absent list's weight. That favors strong single-source
// candidates over weak dual-source ones and is intentional ranking behavior,
// pinned by tests.
func (r *HybridRanker) GetHybridRecommendations(ctx context.Context, userID string, anchor *types.MediaRef, opts HybridOptions) ([]types.Recommendation, error) {
	opts.Normalize()

	if opts.ContentWeight == 0 && opts.CollaborativeWeight == 0 {
		count, err := r.collab.interactions.CountByUser(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("hybrid: failed to count interactions: %w", err)
		}
		opts.ContentWeight, opts.CollaborativeWeight = AdaptiveWeights(count)
	}

	pullLimit := opts.Limit * candidateMultiplier

	var collabRecs []types.Recommendation
	if opts.CollaborativeWeight > 0 {
		var err error
		collabRecs, err = r.collab.GetPersonalizedRecommendations(ctx, userID, CollaborativeOptions{
			Limit:         pullLimit,
			MinScore:      opts.MinScore,
			ExcludeViewed: true,
			RecencyWeight: 1,
		})
		if err != nil {
			return nil, err
		}
	}

	var contentRecs []types.Recommendation
	if anchor != nil && opts.ContentWeight > 0 {
		var err error
		contentRecs, err = r.content.GetRecommendations(ctx, *anchor, ContentOptions{
			Limit:    pullLimit,
			MinScore: opts.MinScore,
		})
		if err != nil {
			return nil, err
		}
	}

	recs := r.merge(contentRecs, collabRecs, opts)
	r.applyDiversity(recs, opts.DiversityFactor)

	explore, err := r.explorationPicks(ctx, recs, opts)
	if err != nil {
		return nil, err
	}
	recs = append(recs, explore...)

	if profile, err := r.profiles.GetProfile(ctx, userID); err == nil {
		rerankByPreferences(recs, profile)
	}

	sortRecommendations(recs)
	if len(recs) > opts.Limit {
		recs = recs[:opts.Limit]
	}
	return recs, nil
}

// merge combines the two candidate lists by (type, id) key and returns the
// result ordered by descending merged score.
func (r *HybridRanker) merge(contentRecs, collabRecs []types.Recommendation, opts HybridOptions) []types.Recommendation {
	merged := make(map[string]*mergedCandidate)

	for _, rec := range contentRecs {
		merged[rec.Item.Key()] = &mergedCandidate{rec: rec, contentScore: rec.Score, inContent: true}
	}
	for _, rec := range collabRecs {
		key := rec.Item.Key()
		if c, ok := merged[key]; ok {
			c.collabScore = rec.Score
			c.inCollab = true
			c.rec.Reason = joinReasons(c.rec.Reason, rec.Reason)
		} else {
			merged[key] = &mergedCandidate{rec: rec, collabScore: rec.Score, inCollab: true}
		}
	}

	recs := make([]types.Recommendation, 0, len(merged))
	for _, c := range merged {
		var weightPresent float64
		if c.inContent {
			weightPresent += opts.ContentWeight
		}
		if c.inCollab {
			weightPresent += opts.CollaborativeWeight
		}
		if weightPresent == 0 {
			continue
		}

		score := (c.contentScore*opts.ContentWeight + c.collabScore*opts.CollaborativeWeight) / weightPresent
		score = clampScore(score)
		if score < opts.MinScore {
			continue
		}

		rec := c.rec
		rec.Score = score
		recs = append(recs, rec)
	}

	sortRecommendations(recs)
	return recs
}

// applyDiversity walks the list in its current order and penalizes items
// whose genre, creator, or media type is already over-represented earlier in
// the list. The raw penalty is interpolated toward 1.0 by the diversity
// factor, so factor 0 disables enforcement entirely.
func (r *HybridRanker) applyDiversity(recs []types.Recommendation, factor float64) {
	if factor <= 0 {
		return
	}

	genreSeen := make(map[string]int)
	creatorSeen := make(map[string]int)
	typeSeen := make(map[types.MediaType]int)

	for i := range recs {
		rec := &recs[i]
		raw := 1.0

		if rec.Genre != "" {
			genreSeen[rec.Genre]++
			if excess := genreSeen[rec.Genre] - 2; excess > 0 {
				raw *= math.Pow(0.9, float64(excess))
			}
		}
		if rec.Creator != "" {
			creatorSeen[rec.Creator]++
			if excess := creatorSeen[rec.Creator] - 1; excess > 0 {
				raw *= math.Pow(0.85, float64(excess))
			}
		}
		typeSeen[rec.Item.Type]++
		if excess := typeSeen[rec.Item.Type] - 3; excess > 0 {
			raw *= math.Pow(0.95, float64(excess))
		}

		effective := 1 - factor*(1-raw)
		rec.Score = clampScore(rec.Score * effective)
	}
}

// explorationPicks draws ceil(limit × explorationRate) popularity items not
// already present, discounted so they surface novelty without displacing
// organic candidates.
func (r *HybridRanker) explorationPicks(ctx context.Context, existing []types.Recommendation, opts HybridOptions) ([]types.Recommendation, error) {
	count := int(math.Ceil(float64(opts.Limit) * opts.ExplorationRate))
	if count == 0 {
		return nil, nil
	}

	seen := make(map[string]bool, len(existing))
	for _, rec := range existing {
		seen[rec.Item.Key()] = true
	}

	// Over-fetch so that overlap with the organic list still leaves picks.
	popular, err := r.collab.PopularityFallback(ctx, count+len(existing))
	if err != nil {
		return nil, err
	}

	var picks []types.Recommendation
	for _, rec := range popular {
		if seen[rec.Item.Key()] {
			continue
		}
		rec.Score = clampScore(rec.Score * explorationDiscount)
		rec.Reason = "Discover something new"
		picks = append(picks, rec)
		if len(picks) == count {
			break
		}
	}
	return picks, nil
}

// AdaptiveWeights picks the content/collaborative blend from the user's
// history depth: sparse histories lean on content similarity, rich histories
// on collaborative signal.
func AdaptiveWeights(interactionCount int) (contentWeight, collaborativeWeight float64) {
	switch {
	case interactionCount < 5:
		return 0.7, 0.3
	case interactionCount < 20:
		return 0.5, 0.5
	default:
		return 0.3, 0.7
	}
}

// rerankByPreferences boosts items matching the user's favorite genres and
// languages. The combined boosted score is capped at 1.0.
func rerankByPreferences(recs []types.Recommendation, profile *types.PreferenceProfile) {
	for i := range recs {
		rec := &recs[i]
		boost := 1.0
		if profile.HasGenre(rec.Genre) {
			boost *= 1.15
		}
		if profile.HasLanguage(rec.Language) {
			boost *= 1.1
		}
		if boost > 1 {
			rec.Score = clampScore(rec.Score * boost)
		}
	}
}

func joinReasons(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "" || a == b:
		return a
	default:
		return strings.Join([]string{a, b}, "; ")
	}
}
