package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"event-pulse/internal/session/domain"
)

// uniqueViolation is the Postgres error code for a unique constraint violation.
const uniqueViolation = "23505"

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindByTenantAndToken returns the session for the pair, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) FindByTenantAndToken(ctx context.Context, tenantID, token string) (*domain.Session, error) {
	var (
		s      domain.Session
		userID sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, token, user_id, created_at
		FROM sessions
		WHERE tenant_id = $1 AND token = $2`, tenantID, token,
	).Scan(&s.ID, &s.TenantID, &s.Token, &userID, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if userID.Valid {
		s.UserID = &userID.String
	}
	return &s, nil
}

// Create persists the session. The sessions_tenant_token_key unique constraint
// arbitrates concurrent creation; a violation maps to ErrDuplicate. The insert
// is a single autocommitted statement, so it is visible to other connections
// before the caller's event insert runs.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	userID := sql.NullString{}
	if s.UserID != nil && *s.UserID != "" {
		userID = sql.NullString{String: *s.UserID, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, tenant_id, token, user_id, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.TenantID, s.Token, userID, s.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

// Identify sets user_id for the session only while it is null. The WHERE guard
// makes the null-to-value transition atomic; rows affected reports whether this
// call applied it.
func (r *PostgresRepository) Identify(ctx context.Context, id, userID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET user_id = $2
		WHERE id = $1 AND user_id IS NULL`, id, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
