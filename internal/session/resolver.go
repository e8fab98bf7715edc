// Package session resolves incoming session tokens to session rows, creating
// sessions on demand and merging anonymous sessions into identified users.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"event-pulse/internal/session/domain"
	"event-pulse/internal/session/repository"
)

// maxResolveAttempts bounds the lookup/create loop. Each retry only happens
// after losing a creation race, so more than a couple of iterations means the
// store is misbehaving.
const maxResolveAttempts = 3

// ErrRetriesExhausted is returned when the resolver repeatedly loses the
// creation race without ever observing the winner's row. Fatal for the request.
var ErrRetriesExhausted = errors.New("session: resolve retries exhausted")

// Resolver finds or creates the session for a (tenant, token) pair.
type Resolver struct {
	repo repository.Repository
	nowF func() time.Time
}

// NewResolver returns a resolver over the given session repository.
func NewResolver(repo repository.Repository) *Resolver {
	return &Resolver{repo: repo, nowF: func() time.Time { return time.Now().UTC() }}
}

// Resolve returns the session for (tenantID, token), creating it if absent.
// A blank token resolves to (nil, nil): the event proceeds without a session.
// When userID is non-empty and the session is still anonymous, the session is
// identified exactly once; a session that already has a user keeps it, even if
// userID differs.
//
// Concurrent creations of the same unseen token are arbitrated by the store's
// uniqueness constraint: the loser re-reads the winner's row and applies the
// identify step against it.
func (r *Resolver) Resolve(ctx context.Context, tenantID, token, userID string) (*domain.Session, error) {
	if token == "" {
		return nil, nil
	}

	for attempt := 0; attempt < maxResolveAttempts; attempt++ {
		s, err := r.repo.FindByTenantAndToken(ctx, tenantID, token)
		if err != nil {
			return nil, fmt.Errorf("session: lookup: %w", err)
		}
		if s != nil {
			return r.identify(ctx, s, userID)
		}

		s = &domain.Session{
			ID:        uuid.New().String(),
			TenantID:  tenantID,
			Token:     token,
			CreatedAt: r.nowF(),
		}
		if userID != "" {
			uid := userID
			s.UserID = &uid
		}
		err = r.repo.Create(ctx, s)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, fmt.Errorf("session: create: %w", err)
		}
		// Lost the creation race; loop and read the winner's row.
	}

	return nil, ErrRetriesExhausted
}

// identify applies the anonymous-to-identified merge to an existing session.
// The repository's guarded update writes at most once per session lifetime; if
// another caller identified the session first, the stored user id wins and is
// re-read so the returned session reflects it.
func (r *Resolver) identify(ctx context.Context, s *domain.Session, userID string) (*domain.Session, error) {
	if userID == "" || s.UserID != nil {
		return s, nil
	}
	applied, err := r.repo.Identify(ctx, s.ID, userID)
	if err != nil {
		return nil, fmt.Errorf("session: identify: %w", err)
	}
	if applied {
		uid := userID
		s.UserID = &uid
		return s, nil
	}
	fresh, err := r.repo.FindByTenantAndToken(ctx, s.TenantID, s.Token)
	if err != nil {
		return nil, fmt.Errorf("session: re-read after identify race: %w", err)
	}
	if fresh == nil {
		// Sessions are never deleted by this pipeline; a vanished row is a store fault.
		return nil, fmt.Errorf("session: %s disappeared during identify", s.ID)
	}
	return fresh, nil
}
