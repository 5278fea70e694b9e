package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/shelfwise/shelfwise/internal/storage"
	"github.com/shelfwise/shelfwise/pkg/types"
)

// AppendInteraction records one immutable interaction event.
func (s *Store) AppendInteraction(ctx context.Context, in *types.Interaction) error {
	if in == nil || in.ID == "" || in.UserID == "" {
		return fmt.Errorf("%w: interaction ID and user ID are required", storage.ErrInvalidInput)
	}
	if !in.Kind.Valid() {
		return fmt.Errorf("%w: unknown interaction kind %q", storage.ErrInvalidInput, in.Kind)
	}

	createdAt := in.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	const query = `
		INSERT INTO user_interactions (id, user_id, media_type, media_id, kind, value, duration, progress, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		in.ID, in.UserID, string(in.Item.Type), in.Item.ID, string(in.Kind),
		in.Value, in.DurationSeconds, in.ProgressPercent, createdAt)
	if err != nil {
		return fmt.Errorf("postgres: failed to append interaction: %w", err)
	}
	return nil
}

// ListByUser returns a user's interactions created at or after since.
func (s *Store) ListByUser(ctx context.Context, userID string, since time.Time) ([]types.Interaction, error) {
	const query = `
		SELECT id, user_id, media_type, media_id, kind, value, duration, progress, created_at
		FROM user_interactions
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list interactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanInteractions(rows)
}

// ListByUsers returns interactions for any of the given users created at or
// after since. pq.Array binds the ID list without building placeholders.
func (s *Store) ListByUsers(ctx context.Context, userIDs []string, since time.Time) ([]types.Interaction, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	const query = `
		SELECT id, user_id, media_type, media_id, kind, value, duration, progress, created_at
		FROM user_interactions
		WHERE user_id = ANY($1) AND created_at >= $2
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(userIDs), since)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to list interactions by users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanInteractions(rows)
}

// CountByUser returns the total number of interactions a user has recorded.
func (s *Store) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_interactions WHERE user_id = $1`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to count interactions: %w", err)
	}
	return count, nil
}

// UserItemKeys returns the set of item keys the user has ever interacted with.
func (s *Store) UserItemKeys(ctx context.Context, userID string) (map[string]bool, error) {
	const query = `
		SELECT DISTINCT media_type, media_id
		FROM user_interactions
		WHERE user_id = $1
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query user items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys := make(map[string]bool)
	for rows.Next() {
		var mediaType, mediaID string
		if err := rows.Scan(&mediaType, &mediaID); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan user item: %w", err)
		}
		keys[types.MediaRef{Type: types.MediaType(mediaType), ID: mediaID}.Key()] = true
	}
	return keys, rows.Err()
}

// CountByItems returns interaction counts for the given items.
func (s *Store) CountByItems(ctx context.Context, refs []types.MediaRef) (map[string]int, error) {
	counts := make(map[string]int, len(refs))
	if len(refs) == 0 {
		return counts, nil
	}

	const query = `
		SELECT COUNT(*)
		FROM user_interactions
		WHERE media_type = $1 AND media_id = $2
	`
	for _, ref := range refs {
		var count int
		if err := s.db.QueryRowContext(ctx, query, string(ref.Type), ref.ID).Scan(&count); err != nil {
			return nil, fmt.Errorf("postgres: failed to count item interactions: %w", err)
		}
		if count > 0 {
			counts[ref.Key()] = count
		}
	}
	return counts, nil
}

// ItemPopularity ranks items by distinct interacting users since the given time.
func (s *Store) ItemPopularity(ctx context.Context, since time.Time, minUsers, limit int) ([]storage.ItemPopularity, error) {
	if limit <= 0 {
		limit = 20
	}

	const query = `
		SELECT media_type, media_id,
			COUNT(DISTINCT user_id) AS unique_users,
			COUNT(*) AS interactions,
			AVG(value) AS avg_value
		FROM user_interactions
		WHERE created_at >= $1
		GROUP BY media_type, media_id
		HAVING COUNT(DISTINCT user_id) >= $2
		ORDER BY unique_users DESC, avg_value DESC
		LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, since, minUsers, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query item popularity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []storage.ItemPopularity
	for rows.Next() {
		var (
			mediaType, mediaID string
			pop                storage.ItemPopularity
		)
		if err := rows.Scan(&mediaType, &mediaID, &pop.UniqueUsers, &pop.Interactions, &pop.AvgValue); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan item popularity: %w", err)
		}
		pop.Ref = types.MediaRef{Type: types.MediaType(mediaType), ID: mediaID}
		items = append(items, pop)
	}
	return items, rows.Err()
}

// ActiveUsers returns the IDs of users with at least minInteractions recorded.
func (s *Store) ActiveUsers(ctx context.Context, minInteractions int) ([]string, error) {
	const query = `
		SELECT user_id
		FROM user_interactions
		GROUP BY user_id
		HAVING COUNT(*) >= $1
	`
	rows, err := s.db.QueryContext(ctx, query, minInteractions)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query active users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan user id: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

func scanInteractions(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]types.Interaction, error) {
	var interactions []types.Interaction
	for rows.Next() {
		var (
			in                       types.Interaction
			mediaType, mediaID, kind string
		)
		if err := rows.Scan(&in.ID, &in.UserID, &mediaType, &mediaID, &kind,
			&in.Value, &in.DurationSeconds, &in.ProgressPercent, &in.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan interaction: %w", err)
		}
		in.Item = types.MediaRef{Type: types.MediaType(mediaType), ID: mediaID}
		in.Kind = types.InteractionKind(kind)
		interactions = append(interactions, in)
	}
	return interactions, rows.Err()
}
