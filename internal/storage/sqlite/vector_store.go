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

// StoreVector creates or overwrites the vector for an item (upsert semantics).
// The sparse term-weight map is serialized as JSON; unlike a dense embedding
// there is no fixed dimension to pack into a binary blob.
func (s *Store) StoreVector(ctx context.Context, vec *types.ItemVector) error {
	if vec == nil || vec.Ref.ID == "" || !vec.Ref.Type.Valid() {
		return fmt.Errorf("%w: a valid media ref is required", storage.ErrInvalidInput)
	}

	vectorJSON, err := json.Marshal(vec.Vector)
	if err != nil {
		return fmt.Errorf("sqlite: failed to serialize vector: %w", err)
	}

	updatedAt := vec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	const query = `
		INSERT INTO media_vectors
			(media_type, media_id, vector, feature_text, language, genre, creator, title, magnitude, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(media_type, media_id) DO UPDATE SET
			vector = excluded.vector,
			feature_text = excluded.feature_text,
			language = excluded.language,
			genre = excluded.genre,
			creator = excluded.creator,
			title = excluded.title,
			magnitude = excluded.magnitude,
			updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		string(vec.Ref.Type), vec.Ref.ID, string(vectorJSON), vec.FeatureText,
		vec.Language, vec.Genre, vec.Creator, vec.Title, vec.Magnitude, updatedAt.Unix())
	if err != nil {
		return fmt.Errorf("sqlite: failed to store vector: %w", err)
	}
	return nil
}

// GetVector retrieves the vector for an item.
func (s *Store) GetVector(ctx context.Context, ref types.MediaRef) (*types.ItemVector, error) {
	const query = `
		SELECT media_type, media_id, vector, feature_text, language, genre, creator, title, magnitude, updated_at
		FROM media_vectors
		WHERE media_type = ? AND media_id = ?
	`

	row := s.db.QueryRowContext(ctx, query, string(ref.Type), ref.ID)
	vec, err := scanItemVector(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: failed to get vector: %w", err)
	}
	return vec, nil
}

// ListVectors returns every stored item vector.
func (s *Store) ListVectors(ctx context.Context) ([]types.ItemVector, error) {
	const query = `
		SELECT media_type, media_id, vector, feature_text, language, genre, creator, title, magnitude, updated_at
		FROM media_vectors
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var vectors []types.ItemVector
	for rows.Next() {
		vec, err := scanItemVector(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan vector: %w", err)
		}
		vectors = append(vectors, *vec)
	}
	return vectors, rows.Err()
}

// DeleteVector removes the vector for an item.
func (s *Store) DeleteVector(ctx context.Context, ref types.MediaRef) error {
	const query = `DELETE FROM media_vectors WHERE media_type = ? AND media_id = ?`

	result, err := s.db.ExecContext(ctx, query, string(ref.Type), ref.ID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete vector: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CountVectors returns the number of vectorized items.
func (s *Store) CountVectors(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media_vectors`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to count vectors: %w", err)
	}
	return count, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan code.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanItemVector(row rowScanner) (*types.ItemVector, error) {
	var (
		mediaType, mediaID, vectorJSON, featureText string
		language, genre, creator, title             string
		magnitude                                   float64
		updatedAt                                   int64
	)

	if err := row.Scan(&mediaType, &mediaID, &vectorJSON, &featureText,
		&language, &genre, &creator, &title, &magnitude, &updatedAt); err != nil {
		return nil, err
	}

	vector := make(types.FeatureVector)
	if err := json.Unmarshal([]byte(vectorJSON), &vector); err != nil {
		return nil, fmt.Errorf("failed to deserialize vector: %w", err)
	}

	return &types.ItemVector{
		Ref:         types.MediaRef{Type: types.MediaType(mediaType), ID: mediaID},
		Vector:      vector,
		FeatureText: featureText,
		Language:    language,
		Genre:       genre,
		Creator:     creator,
		Title:       title,
		Magnitude:   magnitude,
		UpdatedAt:   time.Unix(updatedAt, 0),
	}, nil
}
