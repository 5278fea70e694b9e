// Package engine implements the Shelfwise recommendation engine: content
// similarity retrieval, behavioral preference profiles, collaborative
// filtering, hybrid fusion and ranking, and the recommendation cache.
//
// Every operation is a stateless request handler over the shared persistent
// stores; all writes are idempotent upserts, so concurrent requests need no
// coordination. Only full-corpus rebuild jobs are serialized.
package engine

import (
	"math"
	"sort"
	"time"

	"github.com/shelfwise/shelfwise/pkg/types"
)

// kindWeights is the base engagement weight per interaction kind. Immutable
// configuration, shared by profile building, candidate scoring, and the
// stored interaction_value written by TrackInteraction.
var kindWeights = map[types.InteractionKind]float64{
	types.InteractionView:     1.0,
	types.InteractionLike:     2.0,
	types.InteractionShare:    3.0,
	types.InteractionProgress: 2.5,
	types.InteractionComplete: 5.0,
}

// KindWeight returns the base weight for an interaction kind. Feedback-loop
// kinds (rec_shown, rec_click) carry no engagement weight and return 0.
func KindWeight(kind types.InteractionKind) float64 {
	return kindWeights[kind]
}

const (
	// interactionWindow bounds profile building and collaborative candidate
	// generation: interactions older than this contribute negligible decayed
	// weight and are excluded from the query entirely.
	interactionWindow = 90 * 24 * time.Hour

	// popularityWindow bounds the cold-start popularity ranking.
	popularityWindow = 30 * 24 * time.Hour

	// profileDecayDays is the e-folding time of the temporal-decay factor
	// applied to interaction weights.
	profileDecayDays = 90.0

	// recencyDecayDays is the e-folding time of the recency boost applied to
	// neighbor interactions during collaborative candidate generation.
	recencyDecayDays = 30.0

	// neighborMinInteractions is the minimum history a user needs before
	// being considered as a collaborative neighbor.
	neighborMinInteractions = 5

	// neighborMinSimilarity filters out barely-related neighbor profiles.
	neighborMinSimilarity = 0.1

	// neighborLimit caps how many similar users contribute candidates.
	neighborLimit = 10

	// popularityMinUsers is how many distinct users must have touched an
	// item before it counts as popular.
	popularityMinUsers = 3

	// nearDuplicateThreshold marks content-similarity candidates that are
	// close enough to the source to be near-duplicates.
	nearDuplicateThreshold = 0.9

	// candidateMultiplier oversizes intermediate candidate pulls so that
	// filtering and merging still leave a full result list.
	candidateMultiplier = 3

	// explorationDiscount scores exploration injections below organic
	// candidates so they never displace strong signal from the top.
	explorationDiscount = 0.7
)

// ContentOptions configures content-based retrieval.
type ContentOptions struct {
	// Limit is the maximum number of recommendations (default 10, max 50).
	Limit int

	// MinScore is the minimum cosine similarity for slow-path candidates.
	MinScore float64

	// SameLanguageOnly drops candidates whose language differs from the source.
	SameLanguageOnly bool

	// SameGenreBoost multiplies the score of candidates sharing the source's
	// genre. Values above 1 boost; default 1.2.
	SameGenreBoost float64

	// DiversityFactor is the flat penalty applied to near-duplicate
	// candidates: their score is multiplied by 1 - DiversityFactor.
	DiversityFactor float64
}

// Normalize applies defaults and bounds.
func (o *ContentOptions) Normalize() {
	if o.Limit <= 0 {
		o.Limit = 10
	}
	if o.Limit > 50 {
		o.Limit = 50
	}
	if o.SameGenreBoost <= 0 {
		o.SameGenreBoost = 1.2
	}
	if o.DiversityFactor < 0 {
		o.DiversityFactor = 0
	}
	if o.DiversityFactor > 1 {
		o.DiversityFactor = 1
	}
}

// CollaborativeOptions configures personalized retrieval.
type CollaborativeOptions struct {
	// Limit is the maximum number of recommendations (default 10, max 50).
	Limit int

	// MinScore drops candidates below this final score.
	MinScore float64

	// ExcludeViewed removes items the target user has already interacted with.
	ExcludeViewed bool

	// RecencyWeight scales the recency boost on neighbor interactions.
	RecencyWeight float64
}

// Normalize applies defaults and bounds.
func (o *CollaborativeOptions) Normalize() {
	if o.Limit <= 0 {
		o.Limit = 10
	}
	if o.Limit > 50 {
		o.Limit = 50
	}
	if o.RecencyWeight < 0 {
		o.RecencyWeight = 0
	}
}

// HybridOptions configures hybrid fusion.
type HybridOptions struct {
	// Limit is the maximum number of recommendations (default 10, max 50).
	Limit int

	// ContentWeight and CollaborativeWeight blend the two signals. When both
	// are zero the ranker substitutes adaptive weights based on the user's
	// interaction count.
	ContentWeight       float64
	CollaborativeWeight float64

	// DiversityFactor interpolates the diversity penalties between 1.0
	// (disabled) and their raw values.
	DiversityFactor float64

	// ExplorationRate controls how many popularity-fallback items are
	// injected: ceil(Limit * ExplorationRate).
	ExplorationRate float64

	// MinScore drops merged candidates below this score.
	MinScore float64
}

// Normalize applies defaults and bounds.
func (o *HybridOptions) Normalize() {
	if o.Limit <= 0 {
		o.Limit = 10
	}
	if o.Limit > 50 {
		o.Limit = 50
	}
	if o.DiversityFactor < 0 {
		o.DiversityFactor = 0
	}
	if o.DiversityFactor > 1 {
		o.DiversityFactor = 1
	}
	if o.ExplorationRate < 0 {
		o.ExplorationRate = 0
	}
	if o.ExplorationRate > 1 {
		o.ExplorationRate = 1
	}
}

// clampScore keeps every outgoing recommendation score in [0, 1].
func clampScore(s float64) float64 {
	return math.Max(0, math.Min(1, s))
}

// sortRecommendations orders a list by descending score in place, keeping
// the incoming order for ties so results stay deterministic.
func sortRecommendations(recs []types.Recommendation) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Score > recs[j].Score
	})
}
