package repository

import (
	"context"

	"event-pulse/internal/webhook/domain"
)

// Repository defines read access to webhook subscriptions.
type Repository interface {
	// ListEnabledByTenant returns the enabled subscriptions for the tenant.
	ListEnabledByTenant(ctx context.Context, tenantID string) ([]*domain.Subscription, error)
}
