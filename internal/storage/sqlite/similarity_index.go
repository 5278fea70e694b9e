package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/shelfwise/shelfwise/internal/storage"
	"github.com/shelfwise/shelfwise/pkg/types"
)

// ReplaceSimilar atomically replaces the precomputed neighbor list for a
// source item. Stale entries are fully replaced, never merged.
func (s *Store) ReplaceSimilar(ctx context.Context, source types.MediaRef, items []types.SimilarItem) error {
	if source.ID == "" || !source.Type.Valid() {
		return fmt.Errorf("%w: a valid source ref is required", storage.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM similar_items WHERE media_type = ? AND media_id = ?`,
		string(source.Type), source.ID); err != nil {
		return fmt.Errorf("sqlite: failed to clear similar items: %w", err)
	}

	const insert = `
		INSERT INTO similar_items (media_type, media_id, similar_type, similar_id, score, rank, computed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().Unix()
	for _, item := range items {
		if _, err := tx.ExecContext(ctx, insert,
			string(source.Type), source.ID,
			string(item.Ref.Type), item.Ref.ID,
			item.Score, item.Rank, now); err != nil {
			return fmt.Errorf("sqlite: failed to insert similar item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: failed to commit similar items: %w", err)
	}
	return nil
}

// GetSimilar returns up to limit precomputed neighbors, ordered by rank.
// An item with no precomputed entry yields an empty slice, not an error.
func (s *Store) GetSimilar(ctx context.Context, source types.MediaRef, limit int) ([]types.SimilarItem, error) {
	if limit <= 0 {
		limit = 10
	}

	const query = `
		SELECT similar_type, similar_id, score, rank
		FROM similar_items
		WHERE media_type = ? AND media_id = ?
		ORDER BY rank ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, string(source.Type), source.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query similar items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []types.SimilarItem
	for rows.Next() {
		var (
			simType, simID string
			score          float64
			rank           int
		)
		if err := rows.Scan(&simType, &simID, &score, &rank); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan similar item: %w", err)
		}
		items = append(items, types.SimilarItem{
			Ref:   types.MediaRef{Type: types.MediaType(simType), ID: simID},
			Score: score,
			Rank:  rank,
		})
	}
	return items, rows.Err()
}

// ClearSimilar drops the entire precomputed index.
func (s *Store) ClearSimilar(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM similar_items`); err != nil {
		return fmt.Errorf("sqlite: failed to clear similarity index: %w", err)
	}
	return nil
}
