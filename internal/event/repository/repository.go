package repository

import (
	"context"

	"event-pulse/internal/event/domain"
)

// Repository defines persistence for events.
type Repository interface {
	// Save persists the event. Events are immutable; there is no update path.
	Save(ctx context.Context, e *domain.Event) error
	// GetByID returns the event for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Event, error)
	// LatestByTenant returns the most recently created event for the tenant, or nil if the tenant has none.
	LatestByTenant(ctx context.Context, tenantID string) (*domain.Event, error)
	// ListByTenant returns events for the tenant, newest first, paginated by limit and offset.
	ListByTenant(ctx context.Context, tenantID string, limit, offset int32) ([]*domain.Event, error)
}
