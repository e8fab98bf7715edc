package domain

import "time"

// Session represents a continuous user-agent interaction within one tenant,
// keyed by an externally supplied token unique per (tenant, token).
// UserID transitions only from nil to a value; an identified session is never
// re-anonymized or reassigned.
type Session struct {
	ID        string
	TenantID  string
	Token     string
	UserID    *string // nil while the session is anonymous
	CreatedAt time.Time
}
