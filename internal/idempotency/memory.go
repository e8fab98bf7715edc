package idempotency

import (
	"context"
	"sync"
	"time"

	"event-pulse/internal/event/domain"
)

type entry struct {
	summary   domain.Summary
	expiresAt time.Time
}

// MemoryLedger is an in-memory Ledger implementation. Single-process only:
// once multiple processes share a backing store, use the Postgres ledger
// instead, since in-process locking cannot arbitrate across processes.
type MemoryLedger struct {
	mu   sync.Mutex
	m    map[string]entry
	ttl  time.Duration
	nowF func() time.Time
}

// NewMemoryLedger returns an in-memory ledger with the given record TTL.
func NewMemoryLedger(ttl time.Duration) *MemoryLedger {
	return &MemoryLedger{
		m:    make(map[string]entry),
		ttl:  ttl,
		nowF: func() time.Time { return time.Now().UTC() },
	}
}

// CheckAndSet registers summary under key unless a live record exists.
func (l *MemoryLedger) CheckAndSet(ctx context.Context, key string, summary domain.Summary) (bool, error) {
	if key == "" {
		return true, nil
	}
	now := l.nowF()
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.m[key]; ok && e.expiresAt.After(now) {
		return false, nil
	}
	l.m[key] = entry{summary: summary, expiresAt: now.Add(l.ttl)}
	return true, nil
}

// FindSummary returns the live summary for key, or nil if missing or expired.
// Expired records are removed on read.
func (l *MemoryLedger) FindSummary(ctx context.Context, key string) (*domain.Summary, error) {
	if key == "" {
		return nil, nil
	}
	now := l.nowF()
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.m[key]
	if !ok {
		return nil, nil
	}
	if !e.expiresAt.After(now) {
		delete(l.m, key)
		return nil, nil
	}
	s := e.summary
	return &s, nil
}
