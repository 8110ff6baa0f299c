package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/streamfeed/server/internal/models"
	"github.com/streamfeed/server/internal/registry"
)

// UserStore handles user database operations
type UserStore struct {
	db *DB
}

// NewUserStore creates a new user store
func NewUserStore(db *DB) *UserStore {
	return &UserStore{db: db}
}

// Create inserts a user and fills in its creation time
func (s *UserStore) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (id, owner_token, read_token)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`

	if err := s.db.QueryRowContext(ctx, query, user.ID, user.OwnerToken, user.ReadToken).Scan(&user.CreatedAt); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetByToken finds the user holding token as either its owner or read token
func (s *UserStore) GetByToken(ctx context.Context, token string) (*models.User, models.Role, error) {
	query := `
		SELECT id, owner_token, read_token, created_at
		FROM users
		WHERE owner_token = $1 OR read_token = $1
	`

	user := &models.User{}
	err := s.db.QueryRowContext(ctx, query, token).Scan(&user.ID, &user.OwnerToken, &user.ReadToken, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", registry.ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to get user by token: %w", err)
	}

	role := models.RoleRead
	if user.OwnerToken == token {
		role = models.RoleOwner
	}
	return user, role, nil
}

var _ registry.UserStore = (*UserStore)(nil)
