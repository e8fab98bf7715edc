package domain

import "time"

// Subscription is a per-tenant webhook delivery target. Disabled subscriptions
// never receive deliveries. Administration of subscriptions happens outside
// the ingestion pipeline; the dispatcher only reads them.
type Subscription struct {
	ID        string
	TenantID  string
	URL       string
	Secret    string // empty means deliveries are unsigned
	Enabled   bool
	CreatedAt time.Time
}
