package vectorizer

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/shelfwise/shelfwise/internal/storage"
	"github.com/shelfwise/shelfwise/pkg/types"
)

// Vectorizer builds and persists TF-IDF feature vectors for catalog items.
// IDF is corpus-wide, so the primary update path is a batch rebuild over the
// whole catalog; single-item rebuilds recompute corpus statistics from
// scratch (an accepted O(N) trade-off for a bounded catalog).
type Vectorizer struct {
	vectors storage.VectorStore
}

// New creates a vectorizer that persists vectors to the given store.
func New(vectors storage.VectorStore) *Vectorizer {
	return &Vectorizer{vectors: vectors}
}

// corpusStats holds the vocabulary statistics of one vectorization pass:
// how many documents exist and how many contain each term. It is computed in
// batch and discarded with the pass; nothing mutates it afterwards.
type corpusStats struct {
	docCount int
	docFreq  map[string]int
}

// idf returns the standard log-scaled inverse document frequency of a term.
// Terms present in every document score ln(1) = 0 and vanish from vectors.
func (c *corpusStats) idf(term string) float64 {
	df := c.docFreq[term]
	if df == 0 || c.docCount == 0 {
		return 0
	}
	return math.Log(float64(c.docCount) / float64(df))
}

// buildCorpusStats tokenizes every item's feature text once and accumulates
// document frequencies. The returned token lists are reused for the TF pass
// so each document is tokenized exactly once per rebuild.
func buildCorpusStats(items []types.MediaItem) (*corpusStats, [][]string) {
	stats := &corpusStats{
		docCount: len(items),
		docFreq:  make(map[string]int),
	}
	tokenized := make([][]string, len(items))
	for i := range items {
		tokens := Tokenize(BuildFeatureText(&items[i]))
		tokenized[i] = tokens

		seen := make(map[string]bool, len(tokens))
		for _, t := range tokens {
			if !seen[t] {
				seen[t] = true
				stats.docFreq[t]++
			}
		}
	}
	return stats, tokenized
}

// vectorFromTokens computes the raw TF-IDF vector for one document and
// L2-normalizes it. The pre-normalization magnitude is returned as metadata;
// it has no functional role after normalization.
func vectorFromTokens(tokens []string, stats *corpusStats) (types.FeatureVector, float64) {
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}

	raw := make(types.FeatureVector, len(tf))
	for term, count := range tf {
		weight := float64(count) * stats.idf(term)
		if weight > 0 {
			raw[term] = weight
		}
	}

	magnitude := raw.Magnitude()
	return raw.Normalized(), magnitude
}

// BuildCorpusVectors recomputes TF-IDF over the entire item population and
// persists one normalized vector per item. Per-item storage failures are
// counted and logged but never abort the batch; partial success is reported
// via the processed/failed counts.
func (v *Vectorizer) BuildCorpusVectors(ctx context.Context, items []types.MediaItem) (processed, failed int, err error) {
	if len(items) == 0 {
		return 0, 0, nil
	}

	stats, tokenized := buildCorpusStats(items)

	now := time.Now()
	for i := range items {
		item := &items[i]
		vector, magnitude := vectorFromTokens(tokenized[i], stats)

		iv := &types.ItemVector{
			Ref:         item.Ref,
			Vector:      vector,
			FeatureText: BuildFeatureText(item),
			Language:    item.Language,
			Genre:       item.Genre,
			Creator:     item.Creator,
			Title:       item.Title,
			Magnitude:   magnitude,
			UpdatedAt:   now,
		}

		if storeErr := v.vectors.StoreVector(ctx, iv); storeErr != nil {
			failed++
			log.Printf("vectorizer: failed to store vector for %s: %v", item.Ref.Key(), storeErr)
			continue
		}
		processed++

		if ctxErr := ctx.Err(); ctxErr != nil {
			return processed, failed, ctxErr
		}
	}

	log.Printf("vectorizer: corpus rebuild complete: %d processed, %d failed", processed, failed)
	return processed, failed, nil
}

// BuildVectorForItem rebuilds and persists the vector for a single item.
// Because IDF is corpus-relative, this re-derives feature text for every item
// in the corpus and recomputes statistics before extracting the target
// vector. Batch rebuilds are the primary update path; this exists for
// on-demand freshness after a single catalog change.
func (v *Vectorizer) BuildVectorForItem(ctx context.Context, item *types.MediaItem, corpus []types.MediaItem) (*types.ItemVector, error) {
	if item == nil {
		return nil, fmt.Errorf("%w: item is required", storage.ErrInvalidInput)
	}

	// Make sure the target participates in the corpus statistics.
	found := false
	for i := range corpus {
		if corpus[i].Ref == item.Ref {
			corpus[i] = *item
			found = true
			break
		}
	}
	if !found {
		corpus = append(corpus, *item)
	}

	stats, tokenized := buildCorpusStats(corpus)

	var target *types.ItemVector
	now := time.Now()
	for i := range corpus {
		if corpus[i].Ref != item.Ref {
			continue
		}
		vector, magnitude := vectorFromTokens(tokenized[i], stats)
		target = &types.ItemVector{
			Ref:         item.Ref,
			Vector:      vector,
			FeatureText: BuildFeatureText(item),
			Language:    item.Language,
			Genre:       item.Genre,
			Creator:     item.Creator,
			Title:       item.Title,
			Magnitude:   magnitude,
			UpdatedAt:   now,
		}
		break
	}

	if err := v.vectors.StoreVector(ctx, target); err != nil {
		return nil, fmt.Errorf("vectorizer: failed to store vector for %s: %w", item.Ref.Key(), err)
	}
	return target, nil
}
