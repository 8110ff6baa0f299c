package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/streamfeed/server/internal/models"
	"github.com/streamfeed/server/internal/registry"
	"github.com/streamfeed/server/internal/testutil"
)

type fakeAuthenticator struct {
	tokens map[string]models.Role
	err    error
}

func (f *fakeAuthenticator) Authenticate(_ context.Context, token string) (*models.User, models.Role, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	role, ok := f.tokens[token]
	if !ok {
		return nil, "", registry.ErrNotFound
	}
	return &models.User{ID: "user-1"}, role, nil
}

func newTestMiddleware(adminToken string) *Middleware {
	return NewMiddleware(&fakeAuthenticator{tokens: map[string]models.Role{
		"owner-tok": models.RoleOwner,
		"read-tok":  models.RoleRead,
	}}, adminToken, testutil.NullLogger())
}

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		auth   string
		query  string
		want   string
	}{
		{"user header", "h-tok", "", "", "h-tok"},
		{"bearer", "", "Bearer b-tok", "", "b-tok"},
		{"bearer case-insensitive", "", "bearer b-tok", "", "b-tok"},
		{"query", "", "", "q-tok", "q-tok"},
		{"header wins over bearer and query", "h-tok", "Bearer b-tok", "q-tok", "h-tok"},
		{"bearer wins over query", "", "Bearer b-tok", "q-tok", "b-tok"},
		{"basic auth ignored", "", "Basic abc", "", ""},
		{"none", "", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/api/feed"
			if tt.query != "" {
				path += "?token=" + tt.query
			}
			req := httptest.NewRequest(http.MethodGet, path, nil)
			if tt.header != "" {
				req.Header.Set(UserTokenHeader, tt.header)
			}
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}

			if got := extractToken(req); got != tt.want {
				t.Errorf("extractToken() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequireUserAndOwner(t *testing.T) {
	m := newTestMiddleware("")

	tests := []struct {
		name       string
		owner      bool
		token      string
		wantStatus int
	}{
		{"user: owner token", false, "owner-tok", http.StatusOK},
		{"user: read token", false, "read-tok", http.StatusOK},
		{"user: unknown", false, "other", http.StatusUnauthorized},
		{"user: missing", false, "", http.StatusUnauthorized},
		{"owner: owner token", true, "owner-tok", http.StatusOK},
		{"owner: read token", true, "read-tok", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser string
			var gotRole models.Role
			next := func(w http.ResponseWriter, r *http.Request) {
				gotUser = GetUserID(r.Context())
				gotRole = GetRole(r.Context())
				w.WriteHeader(http.StatusOK)
			}

			h := m.RequireUser(next)
			if tt.owner {
				h = m.RequireOwner(next)
			}

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.token != "" {
				req.Header.Set(UserTokenHeader, tt.token)
			}
			w := httptest.NewRecorder()
			h(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusOK {
				if gotUser != "user-1" {
					t.Errorf("user = %q, want user-1", gotUser)
				}
				if gotRole == "" {
					t.Error("role missing from context")
				}
			}
		})
	}
}

func TestRequireUser_LookupFailure(t *testing.T) {
	m := NewMiddleware(&fakeAuthenticator{err: errors.New("db down")}, "", testutil.NullLogger())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserTokenHeader, "anything")
	w := httptest.NewRecorder()
	m.RequireUser(func(http.ResponseWriter, *http.Request) {
		t.Error("next should not run")
	})(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name       string
		configured string
		presented  string
		wantStatus int
	}{
		{"match", "secret", "secret", http.StatusOK},
		{"mismatch", "secret", "secreT", http.StatusUnauthorized},
		{"missing", "secret", "", http.StatusUnauthorized},
		{"disabled", "", "", http.StatusUnauthorized},
		{"disabled ignores presented", "", "anything", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMiddleware(tt.configured)
			req := httptest.NewRequest(http.MethodPost, "/api/admin/maintenance", nil)
			if tt.presented != "" {
				req.Header.Set(AdminTokenHeader, tt.presented)
			}
			w := httptest.NewRecorder()
			m.RequireAdmin(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			})(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}
