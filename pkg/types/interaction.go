package types

import "time"

// InteractionKind classifies a user's engagement with a media item.
type InteractionKind string

const (
	InteractionView     InteractionKind = "view"
	InteractionLike     InteractionKind = "like"
	InteractionShare    InteractionKind = "share"
	InteractionComplete InteractionKind = "complete"
	InteractionProgress InteractionKind = "progress"

	// Feedback-loop kinds recorded when recommendations are surfaced.
	// They carry no profile weight but close the instrumentation loop.
	InteractionRecShown InteractionKind = "rec_shown"
	InteractionRecClick InteractionKind = "rec_click"
)

// Valid reports whether the kind is one of the known interaction kinds.
func (k InteractionKind) Valid() bool {
	switch k {
	case InteractionView, InteractionLike, InteractionShare,
		InteractionComplete, InteractionProgress,
		InteractionRecShown, InteractionRecClick:
		return true
	}
	return false
}

// Interaction is one append-only engagement event. Rows are immutable once
// recorded and are the sole input to profile building.
type Interaction struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	Item            MediaRef        `json:"item"`
	Kind            InteractionKind `json:"kind"`
	Value           float64         `json:"value"`
	DurationSeconds float64         `json:"duration_seconds,omitempty"`
	ProgressPercent float64         `json:"progress_percent,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
