package registry

import (
	"context"
	"errors"

	"github.com/streamfeed/server/internal/models"
)

// ErrNotFound is returned when a source id or token matches nothing
var ErrNotFound = errors.New("not found")

// SourceStore persists sources. Rows are scoped to the owning user and are
// never deleted.
type SourceStore interface {
	// List returns a user's sources ordered by platform ascending, then
	// newest first
	List(ctx context.Context, userID string, enabledOnly bool) ([]models.Source, error)
	// Upsert inserts the source or replaces the row with the same id,
	// keeping its creation time
	Upsert(ctx context.Context, userID string, params models.UpsertSourceParams) (*models.Source, models.UpsertAction, error)
	// SetEnabled flips the enabled flag and returns ErrNotFound for an unknown id
	SetEnabled(ctx context.Context, userID, id string, enabled bool) (*models.Source, error)
}

// UserStore persists users and resolves their tokens
type UserStore interface {
	Create(ctx context.Context, user *models.User) error
	// GetByToken finds the user owning token and the role it grants
	GetByToken(ctx context.Context, token string) (*models.User, models.Role, error)
}
