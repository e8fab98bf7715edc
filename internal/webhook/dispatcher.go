// Package webhook delivers committed events to registered HTTP endpoints,
// optionally signing the payload with a per-target HMAC secret.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	eventdomain "event-pulse/internal/event/domain"
	eventrepo "event-pulse/internal/event/repository"
	"event-pulse/internal/observability"
	"event-pulse/internal/webhook/repository"
)

// SignatureHeader carries the base64-encoded HMAC-SHA256 of the exact payload
// bytes, computed with the target's secret. Absent for targets without a secret.
const SignatureHeader = "X-Pulse-Signature"

// EventHeader carries the event name so receivers can route without parsing the body.
const EventHeader = "X-Pulse-Event"

// LegacyEndpoint is the single global delivery target configured independently
// of per-tenant subscriptions. Passed explicitly at construction; the
// dispatcher reads it per delivery, never from ambient state.
type LegacyEndpoint struct {
	Enabled bool
	URL     string
	Secret  string
}

// Dispatcher fans a committed event out to the legacy endpoint and every
// enabled subscription of the event's tenant. Delivery is best-effort:
// OnEvent never reports failure to its caller.
type Dispatcher struct {
	subs    repository.Repository
	events  eventrepo.Repository
	legacy  LegacyEndpoint
	client  *http.Client
	metrics *observability.Metrics
}

// NewDispatcher returns a dispatcher over the given subscription and event
// stores. client may be nil; a default with a 10s timeout is used. metrics may
// be nil.
func NewDispatcher(subs repository.Repository, events eventrepo.Repository, legacy LegacyEndpoint, client *http.Client, metrics *observability.Metrics) *Dispatcher {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Dispatcher{subs: subs, events: events, legacy: legacy, client: client, metrics: metrics}
}

type target struct {
	url    string
	secret string
}

type deliveryPayload struct {
	EventID    string          `json:"eventId"`
	TenantID   string          `json:"tenantId"`
	Name       string          `json:"name"`
	UserID     *string         `json:"userId,omitempty"`
	SessionID  *string         `json:"sessionId,omitempty"`
	Attributes json.RawMessage `json:"attributes"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// OnEvent delivers the event to all current targets. Each target is attempted
// in its own goroutine and its outcome is independent of every other target;
// OnEvent returns once all deliveries (including retries) have finished.
func (d *Dispatcher) OnEvent(ctx context.Context, e *eventdomain.Event) {
	if e == nil {
		return
	}
	targets, err := d.targetsFor(ctx, e.TenantID)
	if err != nil {
		// The legacy endpoint is independent of the subscription store;
		// a listing failure must not silence it.
		log.Printf("webhook: listing subscriptions for tenant %s: %v", e.TenantID, err)
		d.metrics.WebhookFailed(ctx)
	}
	if len(targets) == 0 {
		return
	}

	payload, err := marshalPayload(e)
	if err != nil {
		log.Printf("webhook: encoding event %s: %v", e.ID, err)
		return
	}

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t target) {
			defer wg.Done()
			d.deliver(ctx, t, e.Name, payload)
		}(t)
	}
	wg.Wait()
}

// ReplayLatest re-delivers the tenant's most recent event through the normal
// delivery path. A tenant with no events is a no-op, not an error.
func (d *Dispatcher) ReplayLatest(ctx context.Context, tenantID string) error {
	e, err := d.events.LatestByTenant(ctx, tenantID)
	if err != nil {
		return err
	}
	if e == nil {
		return nil
	}
	d.OnEvent(ctx, e)
	return nil
}

func (d *Dispatcher) targetsFor(ctx context.Context, tenantID string) ([]target, error) {
	var targets []target
	if d.legacy.Enabled && d.legacy.URL != "" {
		targets = append(targets, target{url: d.legacy.URL, secret: d.legacy.Secret})
	}
	subs, err := d.subs.ListEnabledByTenant(ctx, tenantID)
	if err != nil {
		return targets, err
	}
	for _, s := range subs {
		targets = append(targets, target{url: s.URL, secret: s.Secret})
	}
	return targets, nil
}

// deliver posts the payload to one target, retrying exactly once on a
// transport-level failure. A received HTTP error status is never retried;
// receivers may depend on single-attempt semantics for error responses.
func (d *Dispatcher) deliver(ctx context.Context, t target, eventName string, payload []byte) {
	err := d.post(ctx, t, eventName, payload)
	if err == nil {
		return
	}
	log.Printf("webhook: delivery to %s failed, retrying once: %v", t.url, err)
	if err := d.post(ctx, t, eventName, payload); err != nil {
		log.Printf("webhook: retry to %s failed: %v", t.url, err)
		d.metrics.WebhookFailed(ctx)
	}
}

// post performs one delivery attempt. Returns an error only for transport
// failures (bad URL, connection refused, timeout); any received response,
// success or error status, is a completed attempt.
func (d *Dispatcher) post(ctx context.Context, t target, eventName string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, eventName)
	if t.secret != "" {
		req.Header.Set(SignatureHeader, Sign(t.secret, payload))
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("webhook: %s returned %s", t.url, resp.Status)
		d.metrics.WebhookFailed(ctx)
	}
	return nil
}

// Sign computes the base64-encoded HMAC-SHA256 of payload with secret.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func marshalPayload(e *eventdomain.Event) ([]byte, error) {
	attrs := e.Attributes
	if attrs == nil {
		attrs = []byte("{}")
	}
	return json.Marshal(deliveryPayload{
		EventID:    e.ID,
		TenantID:   e.TenantID,
		Name:       e.Name,
		UserID:     e.UserID,
		SessionID:  e.SessionID,
		Attributes: attrs,
		CreatedAt:  e.CreatedAt,
	})
}
