// Package types defines the shared domain types for the Shelfwise
// recommendation engine: media references, feature vectors, interactions,
// preference profiles, and recommendation results.
package types

import (
	"fmt"
	"time"
)

// MediaType identifies the kind of catalog item.
type MediaType string

const (
	MediaTypeBook  MediaType = "book"
	MediaTypeAudio MediaType = "audio"
	MediaTypeVideo MediaType = "video"
)

// Valid reports whether the media type is one of the known kinds.
func (t MediaType) Valid() bool {
	switch t {
	case MediaTypeBook, MediaTypeAudio, MediaTypeVideo:
		return true
	}
	return false
}

// MediaRef uniquely identifies a catalog item as (type, id).
type MediaRef struct {
	Type MediaType `json:"type"`
	ID   string    `json:"id"`
}

// Key returns a stable string form of the reference, usable as a map key
// or cache-key component.
func (r MediaRef) Key() string {
	return fmt.Sprintf("%s:%s", r.Type, r.ID)
}

// MediaItem is a catalog record as consumed from the external catalog store.
// The engine treats it as read-only; UpdatedAt changes trigger re-vectorization.
type MediaItem struct {
	Ref         MediaRef  `json:"ref"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Creator     string    `json:"creator,omitempty"`
	Genre       string    `json:"genre,omitempty"`
	Language    string    `json:"language,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}
