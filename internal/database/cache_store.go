package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/streamfeed/server/internal/cache"
)

// CacheStore is a cache.Store over the cache_kv table
type CacheStore struct {
	db  *DB
	now func() time.Time
}

// NewCacheStore creates a new cache store
func NewCacheStore(db *DB) *CacheStore {
	return &CacheStore{db: db, now: time.Now}
}

func (s *CacheStore) Read(ctx context.Context, key string) (cache.Entry, bool, error) {
	var (
		payload   []byte
		writtenAt time.Time
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT payload_json, written_at FROM cache_kv WHERE key = $1`, key,
	).Scan(&payload, &writtenAt)
	if errors.Is(err, sql.ErrNoRows) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, fmt.Errorf("failed to read cache %s: %w", key, err)
	}
	return cache.Entry{Payload: json.RawMessage(payload), WrittenAt: writtenAt}, true, nil
}

func (s *CacheStore) Write(ctx context.Context, key string, payload json.RawMessage) error {
	query := `
		INSERT INTO cache_kv (key, payload_json, written_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			payload_json = EXCLUDED.payload_json,
			written_at = EXCLUDED.written_at
	`
	if _, err := s.db.ExecContext(ctx, query, key, string(payload), s.now().UTC()); err != nil {
		return fmt.Errorf("failed to write cache %s: %w", key, err)
	}
	return nil
}

var _ cache.Store = (*CacheStore)(nil)
