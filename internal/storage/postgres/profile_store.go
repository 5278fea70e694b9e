package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shelfwise/shelfwise/internal/storage"
	"github.com/shelfwise/shelfwise/pkg/types"
)

// PutProfile creates or replaces a user's preference profile. When pgvector
// is available the hashed projection of the preference vector is stored for
// SQL-side similarity queries.
func (s *Store) PutProfile(ctx context.Context, profile *types.PreferenceProfile) error {
	if profile == nil || profile.UserID == "" {
		return fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}

	vectorJSON, err := json.Marshal(profile.Vector)
	if err != nil {
		return fmt.Errorf("postgres: failed to serialize profile vector: %w", err)
	}
	genresJSON, err := json.Marshal(profile.FavoriteGenres)
	if err != nil {
		return fmt.Errorf("postgres: failed to serialize favorite genres: %w", err)
	}
	languagesJSON, err := json.Marshal(profile.FavoriteLanguages)
	if err != nil {
		return fmt.Errorf("postgres: failed to serialize favorite languages: %w", err)
	}

	updatedAt := profile.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	if s.pgvectorAvailable {
		const query = `
			INSERT INTO user_preference_profiles
				(user_id, vector, favorite_genres, favorite_languages, interaction_count, avg_completion_rate, vector_proj, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (user_id) DO UPDATE SET
				vector = excluded.vector,
				favorite_genres = excluded.favorite_genres,
				favorite_languages = excluded.favorite_languages,
				interaction_count = excluded.interaction_count,
				avg_completion_rate = excluded.avg_completion_rate,
				vector_proj = excluded.vector_proj,
				updated_at = excluded.updated_at
		`
		_, err = s.db.ExecContext(ctx, query,
			profile.UserID, string(vectorJSON), string(genresJSON), string(languagesJSON),
			profile.InteractionCount, profile.AvgCompletionRate,
			denseProjection(profile.Vector, ProjectionDim), updatedAt)
	} else {
		const query = `
			INSERT INTO user_preference_profiles
				(user_id, vector, favorite_genres, favorite_languages, interaction_count, avg_completion_rate, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (user_id) DO UPDATE SET
				vector = excluded.vector,
				favorite_genres = excluded.favorite_genres,
				favorite_languages = excluded.favorite_languages,
				interaction_count = excluded.interaction_count,
				avg_completion_rate = excluded.avg_completion_rate,
				updated_at = excluded.updated_at
		`
		_, err = s.db.ExecContext(ctx, query,
			profile.UserID, string(vectorJSON), string(genresJSON), string(languagesJSON),
			profile.InteractionCount, profile.AvgCompletionRate, updatedAt)
	}
	if err != nil {
		return fmt.Errorf("postgres: failed to store profile: %w", err)
	}
	return nil
}

// GetProfile retrieves a user's preference profile.
func (s *Store) GetProfile(ctx context.Context, userID string) (*types.PreferenceProfile, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}

	const query = `
		SELECT user_id, vector, favorite_genres, favorite_languages, interaction_count, avg_completion_rate, updated_at
		FROM user_preference_profiles
		WHERE user_id = $1
	`

	var (
		profile                               types.PreferenceProfile
		vectorJSON, genresJSON, languagesJSON []byte
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&profile.UserID, &vectorJSON, &genresJSON, &languagesJSON,
		&profile.InteractionCount, &profile.AvgCompletionRate, &profile.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get profile: %w", err)
	}

	profile.Vector = make(types.FeatureVector)
	if err := json.Unmarshal(vectorJSON, &profile.Vector); err != nil {
		return nil, fmt.Errorf("postgres: failed to deserialize profile vector: %w", err)
	}
	if err := json.Unmarshal(genresJSON, &profile.FavoriteGenres); err != nil {
		return nil, fmt.Errorf("postgres: failed to deserialize favorite genres: %w", err)
	}
	if err := json.Unmarshal(languagesJSON, &profile.FavoriteLanguages); err != nil {
		return nil, fmt.Errorf("postgres: failed to deserialize favorite languages: %w", err)
	}

	return &profile, nil
}
