// Package idempotency provides the at-most-one-winner idempotency key ledger.
//
// A ledger maps a caller-supplied key to the summary of the event it produced,
// for a configured TTL. Registration is an atomic set-if-absent: under N
// concurrent callers with the same key, exactly one wins. Expired records
// behave as absent.
package idempotency

import (
	"context"

	"event-pulse/internal/event/domain"
)

// Ledger registers and resolves idempotency keys.
//
// Ledger errors mean the backing store was unreachable, never that the key was
// taken. The ingestion path treats a ledger error as degraded mode: the request
// proceeds without an idempotency guarantee and the failure is logged and
// counted, so a store outage never turns into a client-visible error.
type Ledger interface {
	// CheckAndSet atomically registers summary under key with the configured TTL.
	// Returns true if this call set the record, false if a live record already
	// existed. An empty key always returns true without touching the store
	// (idempotency is opt-in per request).
	CheckAndSet(ctx context.Context, key string, summary domain.Summary) (bool, error)
	// FindSummary returns the live summary registered under key, or nil if the
	// key is absent, expired, or empty. Non-mutating.
	FindSummary(ctx context.Context, key string) (*domain.Summary, error)
}
