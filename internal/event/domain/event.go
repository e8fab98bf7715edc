package domain

import "time"

// Event represents a single analytics event (tenant-scoped, optional user/session).
// Events are immutable once persisted.
type Event struct {
	ID         string
	TenantID   string
	Name       string
	UserID     *string // nil if not set
	SessionID  *string // nil when the request carried no session token
	Attributes []byte  // JSONB
	UserAgent  string
	Referrer   string
	IP         string
	Device     string
	OS         string
	Browser    string
	CreatedAt  time.Time
}

// Summary is the caller-visible result of an ingestion: the event's identity and time.
// It is also what the idempotency ledger records per key.
type Summary struct {
	EventID   string    `json:"eventId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Summary returns the event's summary.
func (e *Event) Summary() Summary {
	return Summary{EventID: e.ID, Name: e.Name, CreatedAt: e.CreatedAt}
}
