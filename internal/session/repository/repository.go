package repository

import (
	"context"
	"errors"

	"event-pulse/internal/session/domain"
)

// ErrDuplicate is returned by Create when a session already exists for the
// (tenant, token) pair. The resolver treats it as "lost the creation race"
// and re-reads the winner's row.
var ErrDuplicate = errors.New("session already exists for tenant and token")

// Repository defines persistence for sessions.
type Repository interface {
	// FindByTenantAndToken returns the session for the pair, or nil if not found.
	FindByTenantAndToken(ctx context.Context, tenantID, token string) (*domain.Session, error)
	// Create persists a new session. The session must have ID set.
	// Returns ErrDuplicate when the (tenant, token) uniqueness constraint rejects the row.
	// Create commits independently of any enclosing work, so a concurrent
	// loser's re-read observes the winner's committed row.
	Create(ctx context.Context, s *domain.Session) error
	// Identify sets the session's user id if and only if it is currently null.
	// Returns true when the write applied; false when the session was already
	// identified (the existing user id is left untouched).
	Identify(ctx context.Context, id, userID string) (bool, error)
}
