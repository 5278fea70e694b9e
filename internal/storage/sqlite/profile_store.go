package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shelfwise/shelfwise/internal/storage"
	"github.com/shelfwise/shelfwise/pkg/types"
)

// PutProfile creates or replaces a user's preference profile.
func (s *Store) PutProfile(ctx context.Context, profile *types.PreferenceProfile) error {
	if profile == nil || profile.UserID == "" {
		return fmt.Errorf("%w: user ID is required", storage.ErrInvalidInput)
	}

	vectorJSON, err := json.Marshal(profile.Vector)
	if err != nil {
		return fmt.Errorf("sqlite: failed to serialize profile vector: %w", err)
	}
	genresJSON, err := json.Marshal(profile.FavoriteGenres)
	if err != nil {
		return fmt.Errorf("sqlite: failed to serialize favorite genres: %w", err)
	}
	languagesJSON, err := json.Marshal(profile.FavoriteLanguages)
	if err != nil {
		return fmt.Errorf("sqlite: failed to serialize favorite languages: %w", err)
	}

	updatedAt := profile.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	const query = `
		INSERT INTO user_preference_profiles
			(user_id, vector, favorite_genres, favorite_languages, interaction_count, avg_completion_rate, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			vector = excluded.vector,
			favorite_genres = excluded.favorite_genres,
			favorite_languages = excluded.favorite_languages,
			interaction_count = excluded.interaction_count,
			avg_completion_rate = excluded.avg_completion_rate,
			updated_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		profile.UserID, string(vectorJSON), string(genresJSON), string(languagesJSON),
		profile.InteractionCount, profile.AvgCompletionRate, updatedAt.Unix())
	if err != nil {
		return fmt.Errorf("sqlite: failed to store profile: %w", err)
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
		WHERE user_id = ?
	`

	var (
		profile                               types.PreferenceProfile
		vectorJSON, genresJSON, languagesJSON string
		updatedAt                             int64
	)
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&profile.UserID, &vectorJSON, &genresJSON, &languagesJSON,
		&profile.InteractionCount, &profile.AvgCompletionRate, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: failed to get profile: %w", err)
	}

	profile.Vector = make(types.FeatureVector)
	if err := json.Unmarshal([]byte(vectorJSON), &profile.Vector); err != nil {
		return nil, fmt.Errorf("sqlite: failed to deserialize profile vector: %w", err)
	}
	if err := json.Unmarshal([]byte(genresJSON), &profile.FavoriteGenres); err != nil {
		return nil, fmt.Errorf("sqlite: failed to deserialize favorite genres: %w", err)
	}
	if err := json.Unmarshal([]byte(languagesJSON), &profile.FavoriteLanguages); err != nil {
		return nil, fmt.Errorf("sqlite: failed to deserialize favorite languages: %w", err)
	}
	profile.UpdatedAt = time.Unix(updatedAt, 0)

	return &profile, nil
}
