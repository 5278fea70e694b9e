package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	pgvector "github.com/pgvector/pgvector-go"

	"github.com/shelfwise/shelfwise/internal/storage"
	"github.com/shelfwise/shelfwise/pkg/types"
)

// denseProjection feature-hashes a sparse term vector into a fixed-dimension
// float32 vector for pgvector storage. Each term is hashed to a bucket and a
// sign; hashing is deterministic, so identical sparse vectors always project
// to identical dense vectors and cosine structure is approximately preserved.
func denseProjection(vec types.FeatureVector, dim int) pgvector.Vector {
	out := make([]float32, dim)
	for term, weight := range vec {
		h := fnv.New64a()
		h.Write([]byte(term))
		sum := h.Sum64()
		bucket := int(sum % uint64(dim))
		sign := 1.0
		if sum&(1<<63) != 0 {
			sign = -1.0
		}
		out[bucket] += float32(sign * weight)
	}

	// Renormalize so cosine distance in SQL matches cosine over projections.
	var norm float64
	for _, v := range out {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range out {
			out[i] *= scale
		}
	}
	return pgvector.NewVector(out)
}

// StoreVector creates or overwrites the vector for an item. The sparse JSONB
// form is authoritative; the hashed projection is stored alongside when
// pgvector is available.
func (s *Store) StoreVector(ctx context.Context, vec *types.ItemVector) error {
	if vec == nil || vec.Ref.ID == "" || !vec.Ref.Type.Valid() {
		return fmt.Errorf("%w: a valid media ref is required", storage.ErrInvalidInput)
	}

	vectorJSON, err := json.Marshal(vec.Vector)
	if err != nil {
		return fmt.Errorf("postgres: failed to serialize vector: %w", err)
	}

	updatedAt := vec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	if s.pgvectorAvailable {
		const query = `
			INSERT INTO media_vectors
				(media_type, media_id, vector, feature_text, language, genre, creator, title, magnitude, vector_proj, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (media_type, media_id) DO UPDATE SET
				vector = excluded.vector,
				feature_text = excluded.feature_text,
				language = excluded.language,
				genre = excluded.genre,
				creator = excluded.creator,
				title = excluded.title,
				magnitude = excluded.magnitude,
				vector_proj = excluded.vector_proj,
				updated_at = excluded.updated_at
		`
		_, err = s.db.ExecContext(ctx, query,
			string(vec.Ref.Type), vec.Ref.ID, string(vectorJSON), vec.FeatureText,
			vec.Language, vec.Genre, vec.Creator, vec.Title, vec.Magnitude,
			denseProjection(vec.Vector, ProjectionDim), updatedAt)
	} else {
		const query = `
			INSERT INTO media_vectors
				(media_type, media_id, vector, feature_text, language, genre, creator, title, magnitude, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (media_type, media_id) DO UPDATE SET
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
			vec.Language, vec.Genre, vec.Creator, vec.Title, vec.Magnitude, updatedAt)
	}
	if err != nil {
		return fmt.Errorf("postgres: failed to store vector: %w", err)
	}
	return nil
}

// SearchSimilarVectors ranks stored projections by cosine distance to the
// hashed projection of vec and returns the closest items, best first. Feature
// hashing can collide, so the scores are approximate; callers rescore the
// shortlist with exact sparse cosine. Returns storage.ErrUnsupported when the
// pgvector extension is not installed.
func (s *Store) SearchSimilarVectors(ctx context.Context, vec types.FeatureVector, exclude types.MediaRef, limit int) ([]types.SimilarItem, error) {
	if !s.pgvectorAvailable {
		return nil, storage.ErrUnsupported
	}
	if len(vec) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	const query = `
		SELECT media_type, media_id, 1 - (vector_proj <=> $1::vector) AS score
		FROM media_vectors
		WHERE vector_proj IS NOT NULL
			AND NOT (media_type = $2 AND media_id = $3)
		ORDER BY vector_proj <=> $1::vector
		LIMIT $4
	`
	rows, err := s.db.QueryContext(ctx, query,
		denseProjection(vec, ProjectionDim), string(exclude.Type), exclude.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to search vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []types.SimilarItem
	for rows.Next() {
		var (
			mediaType, mediaID string
			score              float64
		)
		if err := rows.Scan(&mediaType, &mediaID, &score); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan search result: %w", err)
		}
		items = append(items, types.SimilarItem{
			Ref:   types.MediaRef{Type: types.MediaType(mediaType), ID: mediaID},
			Score: score,
			Rank:  len(items) + 1,
		})
	}
	return items, rows.Err()
}

// GetVector retrieves the vector for an item.
func (s *Store) GetVector(ctx context.Context, ref types.MediaRef) (*types.ItemVector, error) {
	const query = `
		SELECT media_type, media_id, vector, feature_text, language, genre, creator, title, magnitude, updated_at
		FROM media_vectors
		WHERE media_type = $1 AND media_id = $2
	`
	row := s.db.QueryRowContext(ctx, query, string(ref.Type), ref.ID)
	vec, err := scanItemVector(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get vector: %w", err)
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
		return nil, fmt.Errorf("postgres: failed to list vectors: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var vectors []types.ItemVector
	for rows.Next() {
		vec, err := scanItemVector(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: failed to scan vector: %w", err)
		}
		vectors = append(vectors, *vec)
	}
	return vectors, rows.Err()
}

// DeleteVector removes the vector for an item.
func (s *Store) DeleteVector(ctx context.Context, ref types.MediaRef) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM media_vectors WHERE media_type = $1 AND media_id = $2`,
		string(ref.Type), ref.ID)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete vector: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// CountVectors returns the number of vectorized items.
func (s *Store) CountVectors(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media_vectors`).Scan(&count); err != nil {
		return 0, fmt.Errorf("postgres: failed to count vectors: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItemVector(row rowScanner) (*types.ItemVector, error) {
	var (
		mediaType, mediaID, featureText string
		language, genre, creator, title string
		vectorJSON                      []byte
		magnitude                       float64
		updatedAt                       time.Time
	)
	if err := row.Scan(&mediaType, &mediaID, &vectorJSON, &featureText,
		&language, &genre, &creator, &title, &magnitude, &updatedAt); err != nil {
		return nil, err
	}

	vector := make(types.FeatureVector)
	if err := json.Unmarshal(vectorJSON, &vector); err != nil {
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
		UpdatedAt:   updatedAt,
	}, nil
}
