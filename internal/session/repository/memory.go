package repository

import (
	"context"
	"sync"

	"event-pulse/internal/session/domain"
)

// MemoryRepository is an in-memory Repository implementation used by tests and
// dev mode. It enforces the same (tenant, token) uniqueness the Postgres
// constraint does.
type MemoryRepository struct {
	mu      sync.Mutex
	byPair  map[string]*domain.Session
	byID    map[string]*domain.Session
}

// NewMemoryRepository returns a new in-memory session repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byPair: make(map[string]*domain.Session),
		byID:   make(map[string]*domain.Session),
	}
}

func pairKey(tenantID, token string) string {
	return tenantID + "\x00" + token
}

// FindByTenantAndToken returns a copy of the session for the pair, or nil.
func (r *MemoryRepository) FindByTenantAndToken(ctx context.Context, tenantID, token string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byPair[pairKey(tenantID, token)]
	if !ok {
		return nil, nil
	}
	return copySession(s), nil
}

// Create stores the session, or returns ErrDuplicate when the pair is taken.
func (r *MemoryRepository) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pairKey(s.TenantID, s.Token)
	if _, ok := r.byPair[key]; ok {
		return ErrDuplicate
	}
	cp := copySession(s)
	r.byPair[key] = cp
	r.byID[cp.ID] = cp
	return nil
}

// Identify sets the session's user id only while it is nil.
func (r *MemoryRepository) Identify(ctx context.Context, id, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok || s.UserID != nil {
		return false, nil
	}
	uid := userID
	s.UserID = &uid
	return true, nil
}

// Count returns the number of stored sessions. Test helper.
func (r *MemoryRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func copySession(s *domain.Session) *domain.Session {
	cp := *s
	if s.UserID != nil {
		uid := *s.UserID
		cp.UserID = &uid
	}
	return &cp
}
