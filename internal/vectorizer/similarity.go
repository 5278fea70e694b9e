package vectorizer

import (
	"math"

	"github.com/shelfwise/shelfwise/pkg/types"
)

// CosineSimilarity returns the cosine of the angle between two sparse term
// vectors: the dot product over the union of keys present in either vector,
// divided by the product of their magnitudes. It returns exactly 0 when
// either vector has zero magnitude, and is symmetric by construction.
// The result lies in [-1, 1]; for non-negative term weights it lies in [0, 1].
func CosineSimilarity(a, b types.FeatureVector) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	// Iterate the smaller vector; terms absent from either side contribute
	// nothing to the dot product.
	if len(b) < len(a) {
		a, b = b, a
	}

	var dot float64
	for term, wa := range a {
		if wb, ok := b[term]; ok {
			dot += wa * wb
		}
	}

	magA := a.Magnitude()
	magB := b.Magnitude()
	if magA == 0 || magB == 0 {
		return 0
	}

	sim := dot / (magA * magB)

	// Guard against float drift pushing the result out of range.
	return math.Max(-1, math.Min(1, sim))
}
