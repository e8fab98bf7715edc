package repository

import (
	"context"
	"database/sql"

	"event-pulse/internal/webhook/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a subscription repository that reads from the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ListEnabledByTenant returns the enabled subscriptions for the tenant.
// Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListEnabledByTenant(ctx context.Context, tenantID string) ([]*domain.Subscription, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, url, secret, enabled, created_at
		FROM webhook_subscriptions
		WHERE tenant_id = $1 AND enabled`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Subscription
	for rows.Next() {
		var (
			s      domain.Subscription
			secret sql.NullString
		)
		if err := rows.Scan(&s.ID, &s.TenantID, &s.URL, &secret, &s.Enabled, &s.CreatedAt); err != nil {
			return nil, err
		}
		if secret.Valid {
			s.Secret = secret.String
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}
