package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"event-pulse/internal/event/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an event repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const eventColumns = `id, tenant_id, name, user_id, session_id, attributes, user_agent, referrer, ip, device, os, browser, created_at`

// Save persists the event to the database.
func (r *PostgresRepository) Save(ctx context.Context, e *domain.Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, e.TenantID, e.Name,
		nullStringFromPtr(e.UserID), nullStringFromPtr(e.SessionID),
		eventAttributes(e.Attributes),
		e.UserAgent, e.Referrer, e.IP, e.Device, e.OS, e.Browser, e.CreatedAt,
	)
	return err
}

// GetByID returns the event for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// LatestByTenant returns the most recently created event for the tenant, or nil if none exists.
func (r *PostgresRepository) LatestByTenant(ctx context.Context, tenantID string) (*domain.Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE tenant_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, tenantID)
	e, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// ListByTenant returns events for the tenant, newest first, paginated by limit and offset.
// Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListByTenant(ctx context.Context, tenantID string, limit, offset int32) ([]*domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE tenant_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3`, tenantID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*domain.Event, error) {
	var (
		e         domain.Event
		userID    sql.NullString
		sessionID sql.NullString
	)
	err := row.Scan(
		&e.ID, &e.TenantID, &e.Name, &userID, &sessionID, &e.Attributes,
		&e.UserAgent, &e.Referrer, &e.IP, &e.Device, &e.OS, &e.Browser, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.UserID = ptrFromNullString(userID)
	e.SessionID = ptrFromNullString(sessionID)
	return &e, nil
}

func nullStringFromPtr(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func ptrFromNullString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	return &n.String
}

func eventAttributes(b []byte) json.RawMessage {
	if b == nil {
		return json.RawMessage("{}")
	}
	return json.RawMessage(b)
}
