package postgres

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
		VALUES ($1, $2, $3)
		ON CONFLICT (cache_key) DO UPDATE SET
			payload = excluded.payload,
			expires_at = excluded.expires_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, payload, expiresAt); err != nil {
		return fmt.Errorf("postgres: failed to store cache entry: %w", err)
	}
	return nil
}

// GetCached retrieves an entry together with its expiry.
func (s *Store) GetCached(ctx context.Context, key string) (*storage.CacheEntry, error) {
	const query = `SELECT cache_key, payload, expires_at FROM recommendation_cache WHERE cache_key = $1`

	var entry storage.CacheEntry
	err := s.db.QueryRowContext(ctx, query, key).Scan(&entry.Key, &entry.Payload, &entry.ExpiresAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: failed to get cache entry: %w", err)
	}
	return &entry, nil
}

// DeleteCachedPrefix removes every entry whose key starts with prefix.
func (s *Store) DeleteCachedPrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, fmt.Errorf("%w: prefix is required", storage.ErrInvalidInput)
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM recommendation_cache WHERE cache_key LIKE $1 || '%'`, prefix)
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to delete cache entries: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to check rows affected: %w", err)
	}
	return int(affected), nil
}

// PruneExpired removes every entry past its expiry.
func (s *Store) PruneExpired(ctx context.Context) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM recommendation_cache WHERE expires_at < $1`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to prune cache: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: failed to check rows affected: %w", err)
	}
	return int(affected), nil
}
