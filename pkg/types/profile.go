package types

import "time"

// ProfileFreshness is how long a preference profile is considered fresh
// after its last rebuild. Stale profiles are rebuilt from the interaction
// history on the next read.
const ProfileFreshness = 24 * time.Hour

// PreferenceProfile aggregates a user's interaction history into a preference
// vector in the item vocabulary space, plus coarse preference summaries.
// Profiles are replaced wholesale on rebuild, never merged incrementally.
type PreferenceProfile struct {
	UserID            string        `json:"user_id"`
	Vector            FeatureVector `json:"vector"`
	FavoriteGenres    []string      `json:"favorite_genres,omitempty"`
	FavoriteLanguages []string      `json:"favorite_languages,omitempty"`
	InteractionCount  int           `json:"interaction_count"`
	AvgCompletionRate float64       `json:"avg_completion_rate"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// Fresh reports whether the profile was rebuilt within the freshness window.
func (p *PreferenceProfile) Fresh(now time.Time) bool {
	return now.Sub(p.UpdatedAt) <= ProfileFreshness
}

// HasGenre reports whether genre is one of the user's favorite genres.
func (p *PreferenceProfile) HasGenre(genre string) bool {
	if genre == "" {
		return false
	}
	for _, g := range p.FavoriteGenres {
		if g == genre {
			return true
		}
	}
	return false
}

// HasLanguage reports whether language is one of the user's favorite languages.
func (p *PreferenceProfile) HasLanguage(language string) bool {
	if language == "" {
		return false
	}
	for _, l := range p.FavoriteLanguages {
		if l == language {
			return true
		}
	}
	return false
}
