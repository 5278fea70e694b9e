package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shelfwise/shelfwise/internal/storage"
)

// PutCached creates or overwrites a cache entry (last-write-wins).
func (s *Store) PutCached(ctx context.Context, key string, payload []byte, expiresAt time.Time) error {
	if key == "" {
		return fmt.Errorf("%w: cache key is required", storage.ErrInvalidInput)
	}

	const query = `
		INSERT INTO recommendation_cache (cache_key, payload, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			payload = excluded.payload,
			expires_at = excluded.expires_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, payload, expiresAt.Unix()); err != nil {
		return fmt.Errorf("sqlite: failed to store cache entry: %w", err)
	}
	return nil
}

// GetCached retrieves an entry together with its expiry in one read, so the
// caller's expiry check is atomic with the value it guards.
func (s *Store) GetCached(ctx context.Context, key string) (*storage.CacheEntry, error) {
	const query = `SELECT cache_key, payload, expires_at FROM recommendation_cache WHERE cache_key = ?`

	var (
		entry     storage.CacheEntry
		expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, query, key).Scan(&entry.Key, &entry.Payload, &expiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("sqlite: failed to get cache entry: %w", err)
	}
	entry.ExpiresAt = time.Unix(expiresAt, 0)
	return &entry, nil
}

// DeleteCachedPrefix removes every entry whose key starts with prefix.
func (s *Store) DeleteCachedPrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, fmt.Errorf("%w: prefix is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM recommendation_cache WHERE cache_key LIKE ? || '%'`, prefix)
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to delete cache entries: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	return int(affected), nil
}

// PruneExpired removes every entry past its expiry.
func (s *Store) PruneExpired(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM recommendation_cache WHERE expires_at < ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to prune cache: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("sqlite: failed to check rows affected: %w", err)
	}
	return int(affected), nil
}
