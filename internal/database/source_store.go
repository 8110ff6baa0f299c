package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/streamfeed/server/internal/models"
	"github.com/streamfeed/server/internal/registry"
)

// SourceStore handles source database operations
type SourceStore struct {
	db *DB
}

// NewSourceStore creates a new source store
func NewSourceStore(db *DB) *SourceStore {
	return &SourceStore{db: db}
}

const sourceColumns = `user_id, id, platform, handle, display_name, url, enabled, created_at`

// List returns a user's sources ordered by platform, then newest first
func (s *SourceStore) List(ctx context.Context, userID string, enabledOnly bool) ([]models.Source, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE user_id = $1`
	if enabledOnly {
		query += ` AND enabled = TRUE`
	}
	query += ` ORDER BY platform ASC, created_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	sources := make([]models.Source, 0)
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sources: %w", err)
	}
	return sources, nil
}

// Upsert inserts a source or replaces the row with the same (user_id, id).
// created_at is kept on update. xmax = 0 identifies a fresh insert.
func (s *SourceStore) Upsert(ctx context.Context, userID string, p models.UpsertSourceParams) (*models.Source, models.UpsertAction, error) {
	query := `
		INSERT INTO sources (user_id, id, platform, handle, display_name, url, enabled)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, id) DO UPDATE SET
			platform = EXCLUDED.platform,
			handle = EXCLUDED.handle,
			display_name = EXCLUDED.display_name,
			url = EXCLUDED.url,
			enabled = EXCLUDED.enabled
		RETURNING ` + sourceColumns + `, (xmax = 0) AS inserted
	`

	var (
		src         models.Source
		platform    string
		displayName sql.NullString
		url         sql.NullString
		inserted    bool
	)
	err := s.db.QueryRowContext(ctx, query,
		userID, p.ID, string(p.Platform), p.Handle, nullString(p.DisplayName), nullString(p.URL), p.Enabled,
	).Scan(
		&src.UserID, &src.ID, &platform, &src.Handle, &displayName, &url, &src.Enabled, &src.CreatedAt, &inserted,
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to upsert source: %w", err)
	}

	src.Platform = models.Platform(platform)
	src.DisplayName = stringPtr(displayName)
	src.URL = stringPtr(url)

	action := models.UpsertUpdate
	if inserted {
		action = models.UpsertInsert
	}
	return &src, action, nil
}

// SetEnabled flips the enabled flag. Returns registry.ErrNotFound for an unknown id.
func (s *SourceStore) SetEnabled(ctx context.Context, userID, id string, enabled bool) (*models.Source, error) {
	query := `
		UPDATE sources SET enabled = $3
		WHERE user_id = $1 AND id = $2
		RETURNING ` + sourceColumns

	src, err := scanSource(s.db.QueryRowContext(ctx, query, userID, id, enabled))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return src, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSource(row scanner) (*models.Source, error) {
	var (
		src         models.Source
		platform    string
		displayName sql.NullString
		url         sql.NullString
	)
	err := row.Scan(&src.UserID, &src.ID, &platform, &src.Handle, &displayName, &url, &src.Enabled, &src.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan source: %w", err)
	}

	src.Platform = models.Platform(platform)
	src.DisplayName = stringPtr(displayName)
	src.URL = stringPtr(url)
	return &src, nil
}

var _ registry.SourceStore = (*SourceStore)(nil)
