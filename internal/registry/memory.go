package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/streamfeed/server/internal/models"
)

// MemoryStore keeps sources and users in process. It is the fallback when
// no database is configured, and the fake used in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	sources map[string]map[string]models.Source // userID -> id -> source
	users   map[string]*models.User
	tokens  map[string]tokenRef
	now     func() time.Time
}

type tokenRef struct {
	userID string
	role   models.Role
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sources: make(map[string]map[string]models.Source),
		users:   make(map[string]*models.User),
		tokens:  make(map[string]tokenRef),
		now:     time.Now,
	}
}

func (s *MemoryStore) List(_ context.Context, userID string, enabledOnly bool) ([]models.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Source, 0, len(s.sources[userID]))
	for _, src := range s.sources[userID] {
		if enabledOnly && !src.Enabled {
			continue
		}
		out = append(out, src)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) Upsert(_ context.Context, userID string, p models.UpsertSourceParams) (*models.Source, models.UpsertAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.sources[userID]
	if !ok {
		byID = make(map[string]models.Source)
		s.sources[userID] = byID
	}

	action := models.UpsertInsert
	createdAt := s.now().UTC()
	if existing, ok := byID[p.ID]; ok {
		action = models.UpsertUpdate
		createdAt = existing.CreatedAt
	}

	src := models.Source{
		ID:          p.ID,
		UserID:      userID,
		Platform:    p.Platform,
		Handle:      p.Handle,
		DisplayName: p.DisplayName,
		URL:         p.URL,
		Enabled:     p.Enabled,
		CreatedAt:   createdAt,
	}
	byID[p.ID] = src
	return &src, action, nil
}

func (s *MemoryStore) SetEnabled(_ context.Context, userID, id string, enabled bool) (*models.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.sources[userID][id]
	if !ok {
		return nil, ErrNotFound
	}
	src.Enabled = enabled
	s.sources[userID][id] = src
	return &src, nil
}

func (s *MemoryStore) Create(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now().UTC()
	}
	u := *user
	s.users[u.ID] = &u
	s.tokens[u.OwnerToken] = tokenRef{userID: u.ID, role: models.RoleOwner}
	if u.ReadToken != "" {
		s.tokens[u.ReadToken] = tokenRef{userID: u.ID, role: models.RoleRead}
	}
	return nil
}

func (s *MemoryStore) GetByToken(_ context.Context, token string) (*models.User, models.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.tokens[token]
	if !ok || token == "" {
		return nil, "", ErrNotFound
	}
	u := *s.users[ref.userID]
	return &u, ref.role, nil
}

var (
	_ SourceStore = (*MemoryStore)(nil)
	_ UserStore   = (*MemoryStore)(nil)
)
