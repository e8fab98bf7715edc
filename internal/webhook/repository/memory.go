package repository

import (
	"context"
	"sync"

	"event-pulse/internal/webhook/domain"
)

// MemoryRepository is an in-memory Repository implementation used by tests and dev mode.
type MemoryRepository struct {
	mu   sync.RWMutex
	subs []*domain.Subscription
}

// NewMemoryRepository returns a new in-memory subscription repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

// Add registers a subscription. Test/dev helper standing in for the admin surface.
func (r *MemoryRepository) Add(s *domain.Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.subs = append(r.subs, &cp)
}

// ListEnabledByTenant returns the enabled subscriptions for the tenant.
func (r *MemoryRepository) ListEnabledByTenant(ctx context.Context, tenantID string) ([]*domain.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Subscription
	for _, s := range r.subs {
		if s.TenantID == tenantID && s.Enabled {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out, nil
}
