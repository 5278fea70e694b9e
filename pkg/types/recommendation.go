package types

// Recommendation is one ranked output entry. Scores lie in [0, 1]; Reason is a
// human-readable explanation of why the item was selected. Recommendations are
// transient output, cached only as a performance optimization, never stored as
// authoritative state.
type Recommendation struct {
	Item     MediaRef `json:"item"`
	Score    float64  `json:"score"`
	Reason   string   `json:"reason,omitempty"`
	Title    string   `json:"title,omitempty"`
	Genre    string   `json:"genre,omitempty"`
	Language string   `json:"language,omitempty"`
	Creator  string   `json:"creator,omitempty"`
}
