// Package registry manages users and the channels they track.
package registry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/streamfeed/server/internal/logging"
	"github.com/streamfeed/server/internal/models"
)

// tokenBytes is the entropy of owner and read tokens
const tokenBytes = 32

// ValidationError is a client mistake in a registry request
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// UpsertInput is a source upsert as received from a client. Enabled is nil
// when the client omitted it.
type UpsertInput struct {
	ID          string
	Platform    string
	Handle      string
	DisplayName *string
	URL         *string
	Enabled     *bool
}

// Service handles source and user operations
type Service struct {
	sources SourceStore
	users   UserStore
	logger  *logging.Logger
}

// NewService creates a registry service
func NewService(sources SourceStore, users UserStore, logger *logging.Logger) *Service {
	return &Service{
		sources: sources,
		users:   users,
		logger:  logger,
	}
}

// ListSources returns a user's sources, optionally only enabled ones
func (s *Service) ListSources(ctx context.Context, userID string, enabledOnly bool) ([]models.Source, error) {
	list, err := s.sources.List(ctx, userID, enabledOnly)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	return list, nil
}

// UpsertSource validates and stores a source. Enabled defaults to true.
func (s *Service) UpsertSource(ctx context.Context, userID string, in UpsertInput) (*models.Source, models.UpsertAction, error) {
	id := strings.TrimSpace(in.ID)
	handle := strings.TrimSpace(in.Handle)
	if id == "" || strings.TrimSpace(in.Platform) == "" || handle == "" {
		return nil, "", &ValidationError{Message: "id/platform/handle are required"}
	}

	platform, ok := models.ParsePlatform(in.Platform)
	if !ok {
		return nil, "", &ValidationError{Message: fmt.Sprintf("unsupported platform %q", in.Platform)}
	}

	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}

	params := models.UpsertSourceParams{
		ID:          id,
		Platform:    platform,
		Handle:      handle,
		DisplayName: trimmedPtr(in.DisplayName),
		URL:         trimmedPtr(in.URL),
		Enabled:     enabled,
	}

	src, action, err := s.sources.Upsert(ctx, userID, params)
	if err != nil {
		s.logger.Error("Failed to upsert source", logging.WithFields(map[string]interface{}{
			"user_id":   userID,
			"source_id": id,
			"error":     err,
		}))
		return nil, "", fmt.Errorf("upsert source: %w", err)
	}

	s.logger.Info("Upserted source", logging.WithFields(map[string]interface{}{
		"user_id":   userID,
		"source_id": id,
		"platform":  platform,
		"action":    action,
	}))
	return src, action, nil
}

// SetEnabled toggles a source. Unknown ids return ErrNotFound.
func (s *Service) SetEnabled(ctx context.Context, userID, id string, enabled bool) (*models.Source, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, &ValidationError{Message: "id is required"}
	}
	return s.sources.SetEnabled(ctx, userID, id, enabled)
}

// Bootstrap creates a user with fresh owner and read tokens
func (s *Service) Bootstrap(ctx context.Context) (*models.User, error) {
	owner, err := randomToken()
	if err != nil {
		return nil, err
	}
	read, err := randomToken()
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:         uuid.NewString(),
		OwnerToken: owner,
		ReadToken:  read,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("Bootstrapped user", logging.WithField("user_id", user.ID))
	return user, nil
}

// Authenticate resolves a presented token to its user and role
func (s *Service) Authenticate(ctx context.Context, token string) (*models.User, models.Role, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, "", ErrNotFound
	}
	return s.users.GetByToken(ctx, token)
}

func randomToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func trimmedPtr(s *string) *string {
	if s == nil {
		return nil
	}
	return models.StringPtr(strings.TrimSpace(*s))
}
