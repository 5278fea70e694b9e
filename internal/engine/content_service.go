package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"golang.org/x/time/rate"

	"github.com/shelfwise/shelfwise/internal/storage"
	"github.com/shelfwise/shelfwise/internal/vectorizer"
	"github.com/shelfwise/shelfwise/pkg/types"
)

// ContentService retrieves items similar to a given item by metadata vector
// similarity. The fast path reads the precomputed similarity index; the slow
// path scans the whole vectorized corpus.
type ContentService struct {
	vectors storage.VectorStore
	index   storage.SimilarityIndex

	// limiter paces the precompute batch so the O(N²) neighbor scan cannot
	// starve interactive queries of the single SQLite writer connection.
	limiter *rate.Limiter
}

// NewContentService creates a content similarity service. itemsPerSecond
// bounds the precompute batch; zero or negative disables pacing.
func NewContentService(vectors storage.VectorStore, index storage.SimilarityIndex, itemsPerSecond float64) *ContentService {
	limit := rate.Inf
	if itemsPerSecond > 0 {
		limit = rate.Limit(itemsPerSecond)
	}
	return &ContentService{
		vectors: vectors,
		index:   index,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// GetRecommendations returns the items most similar to the given item,
// never including the item itself. A source with no stored vector yields an
// empty list, not an error.
func (s *ContentService) GetRecommendations(ctx context.Context, ref types.MediaRef, opts ContentOptions) ([]types.Recommendation, error) {
	opts.Normalize()

	source, err := s.vectors.GetVector(ctx, ref)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return []types.Recommendation{}, nil
		}
		return nil, fmt.Errorf("content: failed to load source vector: %w", err)
	}

	// Fast path: precomputed neighbors, already ranked.
	precomputed, err := s.index.GetSimilar(ctx, ref, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("content: failed to read similarity index: %w", err)
	}
	if len(precomputed) > 0 {
		return s.fromPrecomputed(ctx, source, precomputed)
	}

	return s.scanCorpus(ctx, source, opts)
}

// fromPrecomputed hydrates precomputed neighbor entries with display metadata
// and reason strings.
func (s *ContentService) fromPrecomputed(ctx context.Context, source *types.ItemVector, items []types.SimilarItem) ([]types.Recommendation, error) {
	recs := make([]types.Recommendation, 0, len(items))
	for _, item := range items {
		target, err := s.vectors.GetVector(ctx, item.Ref)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				// Vector deleted since the last precompute pass; skip.
				continue
			}
			return nil, fmt.Errorf("content: failed to load neighbor vector: %w", err)
		}
		recs = append(recs, types.Recommendation{
			Item:     item.Ref,
			Score:    clampScore(item.Score),
			Reason:   contentReason(source, target, item.Score),
			Title:    target.Title,
			Genre:    target.Genre,
			Language: target.Language,
			Creator:  target.Creator,
		})
	}
	return recs, nil
}

// contentCandidate pairs a target vector with its exact similarity to the
// source.
type contentCandidate struct {
	vec *types.ItemVector
	sim float64
}

// scanCorpus is the slow path: cosine similarity against candidate items,
// followed by language filtering, genre boosting, and a near-duplicate
// penalty. Backends that can rank vectors server-side provide an approximate
// shortlist; everyone else gets the full in-memory scan.
func (s *ContentService) scanCorpus(ctx context.Context, source *types.ItemVector, opts ContentOptions) ([]types.Recommendation, error) {
	if searcher, ok := s.vectors.(storage.VectorSearcher); ok {
		recs, err := s.scanShortlist(ctx, searcher, source, opts)
		if err == nil {
			return recs, nil
		}
		if !errors.Is(err, storage.ErrUnsupported) {
			log.Printf("content: backend shortlist failed for %s, scanning corpus: %v", source.Ref.Key(), err)
		}
	}

	corpus, err := s.vectors.ListVectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("content: failed to list vectors: %w", err)
	}

	candidates := make([]contentCandidate, 0, len(corpus))
	for i := range corpus {
		target := &corpus[i]
		if target.Ref == source.Ref {
			continue
		}
		sim := vectorizer.CosineSimilarity(source.Vector, target.Vector)
		if sim < opts.MinScore || sim <= 0 {
			continue
		}
		candidates = append(candidates, contentCandidate{vec: target, sim: sim})
	}

	return s.rankCandidates(source, candidates, opts), nil
}

// scanShortlist asks the backend for an approximate top-K by projection
// distance, then rescores the shortlist with exact sparse cosine so hashing
// collisions cannot reorder the final list.
func (s *ContentService) scanShortlist(ctx context.Context, searcher storage.VectorSearcher, source *types.ItemVector, opts ContentOptions) ([]types.Recommendation, error) {
	shortlist, err := searcher.SearchSimilarVectors(ctx, source.Vector, source.Ref, opts.Limit*candidateMultiplier)
	if err != nil {
		return nil, err
	}

	candidates := make([]contentCandidate, 0, len(shortlist))
	for _, item := range shortlist {
		if item.Ref == source.Ref {
			continue
		}
		target, err := s.vectors.GetVector(ctx, item.Ref)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("content: failed to load shortlisted vector: %w", err)
		}
		sim := vectorizer.CosineSimilarity(source.Vector, target.Vector)
		if sim < opts.MinScore || sim <= 0 {
			continue
		}
		candidates = append(candidates, contentCandidate{vec: target, sim: sim})
	}

	return s.rankCandidates(source, candidates, opts), nil
}

// rankCandidates applies the language filter, genre boost, near-duplicate
// penalty, and final ordering shared by both scan paths.
func (s *ContentService) rankCandidates(source *types.ItemVector, candidates []contentCandidate, opts ContentOptions) []types.Recommendation {
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].sim > candidates[j].sim
	})
	if max := opts.Limit * candidateMultiplier; len(candidates) > max {
		candidates = candidates[:max]
	}

	recs := make([]types.Recommendation, 0, len(candidates))
	for _, c := range candidates {
		if opts.SameLanguageOnly && source.Language != "" && c.vec.Language != source.Language {
			continue
		}

		score := c.sim
		if source.Genre != "" && c.vec.Genre == source.Genre {
			score *= opts.SameGenreBoost
		}
		// Near-duplicates get a flat diversity penalty so the list does not
		// fill up with reissues of the same work.
		if c.sim > nearDuplicateThreshold {
			score *= 1 - opts.DiversityFactor
		}

		recs = append(recs, types.Recommendation{
			Item:     c.vec.Ref,
			Score:    clampScore(score),
			Reason:   contentReason(source, c.vec, c.sim),
			Title:    c.vec.Title,
			Genre:    c.vec.Genre,
			Language: c.vec.Language,
			Creator:  c.vec.Creator,
		})
	}

	sortRecommendations(recs)
	if len(recs) > opts.Limit {
		recs = recs[:opts.Limit]
	}
	return recs
}

// PrecomputeSimilarItems clears the similarity index and recomputes the topN
// neighbors for every vectorized item. Intended to run after a corpus
// rebuild; the caller serializes concurrent invocations. Per-item failures
// are logged and counted without aborting the batch.
func (s *ContentService) PrecomputeSimilarItems(ctx context.Context, topN int) (processed, failed int, err error) {
	if topN <= 0 {
		topN = 20
	}

	corpus, err := s.vectors.ListVectors(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("content: failed to list vectors: %w", err)
	}

	if err := s.index.ClearSimilar(ctx); err != nil {
		return 0, 0, fmt.Errorf("content: failed to clear similarity index: %w", err)
	}

	for i := range corpus {
		if err := s.limiter.Wait(ctx); err != nil {
			return processed, failed, err
		}

		source := &corpus[i]
		neighbors := topNeighbors(source, corpus, topN)

		if err := s.index.ReplaceSimilar(ctx, source.Ref, neighbors); err != nil {
			failed++
			log.Printf("content: failed to store neighbors for %s: %v", source.Ref.Key(), err)
			continue
		}
		processed++
	}

	log.Printf("content: precompute complete: %d processed, %d failed", processed, failed)
	return processed, failed, nil
}

// topNeighbors computes the topN most similar items to source within the
// corpus, densely ranked 1..N by descending similarity.
func topNeighbors(source *types.ItemVector, corpus []types.ItemVector, topN int) []types.SimilarItem {
	neighbors := make([]types.SimilarItem, 0, len(corpus))
	for i := range corpus {
		target := &corpus[i]
		if target.Ref == source.Ref {
			continue
		}
		sim := vectorizer.CosineSimilarity(source.Vector, target.Vector)
		if sim <= 0 {
			continue
		}
		neighbors = append(neighbors, types.SimilarItem{Ref: target.Ref, Score: sim})
	}

	sort.SliceStable(neighbors, func(i, j int) bool {
		return neighbors[i].Score > neighbors[j].Score
	})
	if len(neighbors) > topN {
		neighbors = neighbors[:topN]
	}
	for i := range neighbors {
		neighbors[i].Rank = i + 1
	}
	return neighbors
}

// contentReason explains a content match from its strongest shared attribute.
func contentReason(source, target *types.ItemVector, sim float64) string {
	switch {
	case source.Genre != "" && source.Genre == target.Genre:
		return fmt.Sprintf("Same genre: %s", source.Genre)
	case source.Creator != "" && source.Creator == target.Creator:
		return fmt.Sprintf("Same creator: %s", source.Creator)
	case sim > 0.7:
		return "Highly similar content"
	case source.Language != "" && source.Language == target.Language:
		return "Similar content in the same language"
	default:
		return "Similar content"
	}
}
