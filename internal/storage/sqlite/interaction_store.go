package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		in.ID, in.UserID, string(in.Item.Type), in.Item.ID, string(in.Kind),
		in.Value, in.DurationSeconds, in.ProgressPercent, createdAt.Unix())
	if err != nil {
		return fmt.Errorf("sqlite: failed to append interaction: %w", err)
	}
	return nil
}

// ListByUser returns a user's interactions created at or after since,
// newest first.
func (s *Store) ListByUser(ctx context.Context, userID string, since time.Time) ([]types.Interaction, error) {
	const query = `
		SELECT id, user_id, media_type, media_id, kind, value, duration, progress, created_at
		FROM user_interactions
		WHERE user_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, userID, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list interactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanInteractions(rows)
}

// ListByUsers returns interactions for any of the given users created at or
// after since, newest first.
func (s *Store) ListByUsers(ctx context.Context, userIDs []string, since time.Time) ([]types.Interaction, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(userIDs)), ",")
	query := fmt.Sprintf(`
		SELECT id, user_id, media_type, media_id, kind, value, duration, progress, created_at
		FROM user_interactions
		WHERE user_id IN (%s) AND created_at >= ?
		ORDER BY created_at DESC
	`, placeholders)

	args := make([]any, 0, len(userIDs)+1)
	for _, id := range userIDs {
		args = append(args, id)
	}
	args = append(args, since.Unix())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to list interactions by users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanInteractions(rows)
}

// CountByUser returns the total number of interactions a user has recorded.
func (s *Store) CountByUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_interactions WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to count interactions: %w", err)
	}
	return count, nil
}

// UserItemKeys returns the set of item keys the user has ever interacted with.
func (s *Store) UserItemKeys(ctx context.Context, userID string) (map[string]bool, error) {
	const query = `
		SELECT DISTINCT media_type, media_id
		FROM user_interactions
		WHERE user_id = ?
	`
	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query user items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	keys := make(map[string]bool)
	for rows.Next() {
		var mediaType, mediaID string
		if err := rows.Scan(&mediaType, &mediaID); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan user item: %w", err)
		}
		keys[types.MediaRef{Type: types.MediaType(mediaType), ID: mediaID}.Key()] = true
	}
	return keys, rows.Err()
}

// CountByItems returns interaction counts for the given items, keyed by
// MediaRef key. Items with no interactions are simply absent from the map.
func (s *Store) CountByItems(ctx context.Context, refs []types.MediaRef) (map[string]int, error) {
	counts := make(map[string]int, len(refs))
	if len(refs) == 0 {
		return counts, nil
	}

	const query = `
		SELECT COUNT(*)
		FROM user_interactions
		WHERE media_type = ? AND media_id = ?
	`
	for _, ref := range refs {
		var count int
		if err := s.db.QueryRowContext(ctx, query, string(ref.Type), ref.ID).Scan(&count); err != nil {
			return nil, fmt.Errorf("sqlite: failed to count item interactions: %w", err)
		}
		if count > 0 {
			counts[ref.Key()] = count
		}
	}
	return counts, nil
}

// ItemPopularity ranks items by distinct interacting users since the given
// time, keeping only items with at least minUsers distinct users.
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
		WHERE created_at >= ?
		GROUP BY media_type, media_id
		HAVING COUNT(DISTINCT user_id) >= ?
		ORDER BY unique_users DESC, avg_value DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, since.Unix(), minUsers, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query item popularity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []storage.ItemPopularity
	for rows.Next() {
		var (
			mediaType, mediaID string
			pop                storage.ItemPopularity
		)
		if err := rows.Scan(&mediaType, &mediaID, &pop.UniqueUsers, &pop.Interactions, &pop.AvgValue); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan item popularity: %w", err)
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
		HAVING COUNT(*) >= ?
	`
	rows, err := s.db.QueryContext(ctx, query, minInteractions)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query active users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan user id: %w", err)
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
			in                        types.Interaction
			mediaType, mediaID, kind  string
			createdAt                 int64
		)
		if err := rows.Scan(&in.ID, &in.UserID, &mediaType, &mediaID, &kind,
			&in.Value, &in.DurationSeconds, &in.ProgressPercent, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan interaction: %w", err)
		}
		in.Item = types.MediaRef{Type: types.MediaType(mediaType), ID: mediaID}
		in.Kind = types.InteractionKind(kind)
		in.CreatedAt = time.Unix(createdAt, 0)
		interactions = append(interactions, in)
	}
	return interactions, rows.Err()
}
