package types

import (
	"math"
	"time"
)

// FeatureVector is a sparse term-weight vector over the shared vocabulary.
// Weights are non-negative; stored vectors are L2-normalized (Euclidean norm 1)
// except the zero vector produced by empty feature text, whose norm is 0.
type FeatureVector map[string]float64

// Magnitude returns the Euclidean norm of the vector.
func (v FeatureVector) Magnitude() float64 {
	var sum float64
	for _, w := range v {
		sum += w * w
	}
	return math.Sqrt(sum)
}

// Normalized returns a copy of the vector scaled to unit Euclidean norm.
// The zero vector normalizes to an empty vector, not an error.
func (v FeatureVector) Normalized() FeatureVector {
	mag := v.Magnitude()
	out := make(FeatureVector, len(v))
	if mag == 0 {
		return out
	}
	for term, w := range v {
		out[term] = w / mag
	}
	return out
}

// Clone returns a deep copy of the vector.
func (v FeatureVector) Clone() FeatureVector {
	out := make(FeatureVector, len(v))
	for term, w := range v {
		out[term] = w
	}
	return out
}

// ItemVector is the persisted vectorization of one catalog item.
// Language and Genre are denormalized from the catalog record for fast
// filtering; FeatureText is retained for debugging only. Magnitude is the
// pre-normalization norm and has no functional role after normalization.
type ItemVector struct {
	Ref         MediaRef      `json:"ref"`
	Vector      FeatureVector `json:"vector"`
	FeatureText string        `json:"feature_text,omitempty"`
	Language    string        `json:"language,omitempty"`
	Genre       string        `json:"genre,omitempty"`
	Creator     string        `json:"creator,omitempty"`
	Title       string        `json:"title,omitempty"`
	Magnitude   float64       `json:"magnitude,omitempty"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// SimilarItem is one entry in a precomputed top-K neighbor list.
// Rank is a dense 1..K ordering by descending score; the source item never
// appears in its own list.
type SimilarItem struct {
	Ref   MediaRef `json:"ref"`
	Score float64  `json:"score"`
	Rank  int      `json:"rank"`
}
