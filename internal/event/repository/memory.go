package repository

import (
	"context"
	"sync"

	"event-pulse/internal/event/domain"
)

// MemoryRepository is an in-memory Repository implementation used by tests and dev mode.
type MemoryRepository struct {
	mu     sync.RWMutex
	events []*domain.Event
	byID   map[string]*domain.Event
}

// NewMemoryRepository returns a new in-memory event repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]*domain.Event)}
}

// Save stores a copy of the event in insertion order.
func (r *MemoryRepository) Save(ctx context.Context, e *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.events = append(r.events, &cp)
	r.byID[cp.ID] = &cp
	return nil
}

// GetByID returns the event for id, or nil if not found.
func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

// LatestByTenant returns the most recently saved event for the tenant, or nil if none exists.
func (r *MemoryRepository) LatestByTenant(ctx context.Context, tenantID string) (*domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].TenantID == tenantID {
			cp := *r.events[i]
			return &cp, nil
		}
	}
	return nil, nil
}

// ListByTenant returns events for the tenant, newest first, paginated by limit and offset.
func (r *MemoryRepository) ListByTenant(ctx context.Context, tenantID string, limit, offset int32) ([]*domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var matched []*domain.Event
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].TenantID == tenantID {
			cp := *r.events[i]
			matched = append(matched, &cp)
		}
	}
	if int(offset) >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if int(limit) < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

// Count returns the number of stored events. Test helper.
func (r *MemoryRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}
