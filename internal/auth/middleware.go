package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/streamfeed/server/internal/logging"
	"github.com/streamfeed/server/internal/models"
	"github.com/streamfeed/server/internal/registry"
)

// contextKey is a type for context keys
type contextKey string

const (
	// UserIDKey is the context key for the authenticated user ID
	UserIDKey contextKey = "userId"
	// RoleKey is the context key for the role the presented token grants
	RoleKey contextKey = "role"
)

// Header names clients present credentials in
const (
	UserTokenHeader  = "X-USER-TOKEN"
	AdminTokenHeader = "X-ADMIN-TOKEN"
)

// Authenticator resolves a user token to its owner and role
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*models.User, models.Role, error)
}

// Middleware provides authentication middleware for HTTP handlers
type Middleware struct {
	users      Authenticator
	adminToken string
	logger     *logging.Logger
}

// NewMiddleware creates a new auth middleware. An empty adminToken disables
// the admin endpoints.
func NewMiddleware(users Authenticator, adminToken string, logger *logging.Logger) *Middleware {
	return &Middleware{
		users:      users,
		adminToken: adminToken,
		logger:     logger,
	}
}

// RequireUser accepts either an owner or a read token
func (m *Middleware) RequireUser(next http.HandlerFunc) http.HandlerFunc {
	return m.require(false, next)
}

// RequireOwner accepts only an owner token; a read token gets 403
func (m *Middleware) RequireOwner(next http.HandlerFunc) http.HandlerFunc {
	return m.require(true, next)
}

func (m *Middleware) require(mutate bool, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		user, role, err := m.users.Authenticate(r.Context(), token)
		if errors.Is(err, registry.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if err != nil {
			m.logger.Error("Token lookup failed", logging.WithField("error", err))
			writeError(w, http.StatusInternalServerError, "internal")
			return
		}

		if mutate && !role.CanMutate() {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}

		ctx := context.WithValue(r.Context(), UserIDKey, user.ID)
		ctx = context.WithValue(ctx, RoleKey, role)
		next(w, r.WithContext(ctx))
	}
}

// RequireAdmin checks X-ADMIN-TOKEN against the configured admin token
func (m *Middleware) RequireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.IsAdmin(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

// IsAdmin reports whether the request carries the admin token
func (m *Middleware) IsAdmin(r *http.Request) bool {
	if m.adminToken == "" {
		return false
	}
	got := r.Header.Get(AdminTokenHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(m.adminToken)) == 1
}

// GetUserID extracts the user ID from the request context
func GetUserID(ctx context.Context) string {
	userID, _ := ctx.Value(UserIDKey).(string)
	return userID
}

// GetRole extracts the token's role from the request context
func GetRole(ctx context.Context) models.Role {
	role, _ := ctx.Value(RoleKey).(models.Role)
	return role
}

// extractToken reads the user token from X-USER-TOKEN, then the
// Authorization header, then the token query parameter
func extractToken(r *http.Request) string {
	if token := strings.TrimSpace(r.Header.Get(UserTokenHeader)); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}

	// Fall back to query parameter for clients that cannot set headers
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func writeError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"ok":    false,
		"error": code,
	})
}
