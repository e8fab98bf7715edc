package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"event-pulse/internal/event/domain"
)

// PostgresLedger is a Ledger backed by the idempotency_keys table. The primary
// key on key is the atomic set-if-absent primitive; expired rows are reclaimed
// in place by the conditional ON CONFLICT update, so a stale key behaves as
// absent without a separate sweep.
type PostgresLedger struct {
	db  *sql.DB
	ttl time.Duration
}

// NewPostgresLedger returns a Postgres-backed ledger with the given record TTL.
func NewPostgresLedger(db *sql.DB, ttl time.Duration) *PostgresLedger {
	return &PostgresLedger{db: db, ttl: ttl}
}

// CheckAndSet registers summary under key unless a live record exists.
// A single statement either inserts the row, takes over an expired row, or
// affects nothing when a live row holds the key; rows affected decides the winner.
func (l *PostgresLedger) CheckAndSet(ctx context.Context, key string, summary domain.Summary) (bool, error) {
	if key == "" {
		return true, nil
	}
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, event_id, event_name, event_time, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE
		SET event_id = EXCLUDED.event_id,
		    event_name = EXCLUDED.event_name,
		    event_time = EXCLUDED.event_time,
		    expires_at = EXCLUDED.expires_at
		WHERE idempotency_keys.expires_at <= now()`,
		key, summary.EventID, summary.Name, summary.CreatedAt, time.Now().UTC().Add(l.ttl),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// FindSummary returns the live summary for key, or nil if missing or expired.
func (l *PostgresLedger) FindSummary(ctx context.Context, key string) (*domain.Summary, error) {
	if key == "" {
		return nil, nil
	}
	var s domain.Summary
	err := l.db.QueryRowContext(ctx, `
		SELECT event_id, event_name, event_time
		FROM idempotency_keys
		WHERE key = $1 AND expires_at > now()`, key,
	).Scan(&s.EventID, &s.Name, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}
