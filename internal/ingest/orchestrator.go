// Package ingest sequences event ingestion: idempotency check, session
// resolution, durable persistence, then post-commit fan-out to webhooks,
// realtime subscribers, and the Kafka firehose.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"event-pulse/internal/event/domain"
	"event-pulse/internal/event/producer"
	eventrepo "event-pulse/internal/event/repository"
	"event-pulse/internal/idempotency"
	"event-pulse/internal/observability"
	"event-pulse/internal/session"
	sessiondomain "event-pulse/internal/session/domain"
)

// dispatchTimeout is the max time allowed for one event's post-commit fan-out.
// Used by the dispatch goroutine and by DispatchDrainDuration.
const dispatchTimeout = 5 * time.Second

// DispatchDrainDuration is how long the server waits after the HTTP listener
// stops before tearing down dependencies, so in-flight dispatch goroutines can
// finish. Must be >= dispatchTimeout.
const DispatchDrainDuration = dispatchTimeout

// ErrMissingTenant is returned when a request carries no tenant id.
var ErrMissingTenant = errors.New("ingest: tenant id is required")

// ErrMissingName is returned when a request carries no event name.
var ErrMissingName = errors.New("ingest: event name is required")

// Request is a pre-validated inbound event. The request-handling layer owns
// authentication and tenant-header validation; by the time a Request reaches
// the orchestrator its tenant id is trusted.
type Request struct {
	TenantID     string
	Name         string
	SessionToken string // empty means no session is created or referenced
	UserID       string // empty means anonymous
	Attributes   json.RawMessage
	UserAgent    string
	Referrer     string
	IP           string
}

// Result is the caller-visible outcome of an ingestion.
type Result struct {
	Summary  domain.Summary
	Replayed bool // true when answered from the idempotency ledger, no new event created
}

// WebhookSink receives each committed event for webhook delivery.
type WebhookSink interface {
	OnEvent(ctx context.Context, e *domain.Event)
}

// Broadcaster receives each committed event for realtime fan-out.
type Broadcaster interface {
	Broadcast(tenantID string, e *domain.Event)
}

// Orchestrator runs the ingestion sequence. Webhook sink, broadcaster, and
// firehose may each be nil; persistence and the ledger are required.
type Orchestrator struct {
	ledger      idempotency.Ledger
	sessions    *session.Resolver
	events      eventrepo.Repository
	webhooks    WebhookSink
	broadcaster Broadcaster
	firehose    producer.Producer
	metrics     *observability.Metrics
	nowF        func() time.Time
}

// NewOrchestrator wires the ingestion pipeline.
func NewOrchestrator(
	ledger idempotency.Ledger,
	sessions *session.Resolver,
	events eventrepo.Repository,
	webhooks WebhookSink,
	broadcaster Broadcaster,
	firehose producer.Producer,
	metrics *observability.Metrics,
) *Orchestrator {
	return &Orchestrator{
		ledger:      ledger,
		sessions:    sessions,
		events:      events,
		webhooks:    webhooks,
		broadcaster: broadcaster,
		firehose:    firehose,
		metrics:     metrics,
		nowF:        func() time.Time { return time.Now().UTC() },
	}
}

// Ingest runs the full sequence for one inbound event.
//
// A replay (live idempotency record for idempotencyKey) short-circuits before
// session resolution: no session is touched, nothing is persisted, nothing is
// dispatched. Persistence is the commit point: a persistence failure aborts
// with no side effects, while everything after it is best-effort and never
// fails the request.
//
// Ledger errors degrade rather than reject: the request proceeds without an
// idempotency guarantee and the degradation is logged and counted. A lost
// CheckAndSet race after commit keeps this writer's event and returns this
// writer's own summary; two events may then exist for one key, which is the
// accepted cost of never discarding committed data.
func (o *Orchestrator) Ingest(ctx context.Context, req Request, idempotencyKey string) (*Result, error) {
	if req.TenantID == "" {
		return nil, ErrMissingTenant
	}
	if req.Name == "" {
		return nil, ErrMissingName
	}

	if idempotencyKey != "" {
		summary, err := o.ledger.FindSummary(ctx, idempotencyKey)
		if err != nil {
			log.Printf("ingest: idempotency lookup for key %q degraded: %v", idempotencyKey, err)
			o.metrics.LedgerDegraded(ctx)
		} else if summary != nil {
			o.metrics.ReplayServed(ctx)
			return &Result{Summary: *summary, Replayed: true}, nil
		}
	}

	sess, err := o.sessions.Resolve(ctx, req.TenantID, req.SessionToken, req.UserID)
	if err != nil {
		return nil, err
	}

	e := o.buildEvent(req, sess)
	if err := o.events.Save(ctx, e); err != nil {
		return nil, fmt.Errorf("ingest: persist event: %w", err)
	}
	o.metrics.EventIngested(ctx)

	summary := e.Summary()
	if idempotencyKey != "" {
		won, err := o.ledger.CheckAndSet(ctx, idempotencyKey, summary)
		if err != nil {
			log.Printf("ingest: idempotency registration for key %q degraded: %v", idempotencyKey, err)
			o.metrics.LedgerDegraded(ctx)
		} else if !won {
			// Another writer registered the key between our lookup and commit.
			// Our event is already durable, so we keep it and answer with it.
			log.Printf("ingest: key %q lost registration race after commit; event %s kept", idempotencyKey, e.ID)
		}
	}

	o.dispatch(e)

	return &Result{Summary: summary}, nil
}

func (o *Orchestrator) buildEvent(req Request, sess *sessiondomain.Session) *domain.Event {
	cc := domain.DeriveClientContext(req.UserAgent)
	e := &domain.Event{
		ID:         uuid.New().String(),
		TenantID:   req.TenantID,
		Name:       req.Name,
		Attributes: req.Attributes,
		UserAgent:  req.UserAgent,
		Referrer:   req.Referrer,
		IP:         req.IP,
		Device:     cc.Device,
		OS:         cc.OS,
		Browser:    cc.Browser,
		CreatedAt:  o.nowF(),
	}
	if req.UserID != "" {
		uid := req.UserID
		e.UserID = &uid
	}
	if sess != nil {
		sid := sess.ID
		e.SessionID = &sid
	}
	return e
}

// dispatch runs the fan-out in a goroutine so the caller gets its response as
// soon as the event is durable. The goroutine uses context.Background() with
// dispatchTimeout so request cancellation does not abort in-flight delivery.
func (o *Orchestrator) dispatch(e *domain.Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
		defer cancel()
		if o.webhooks != nil {
			o.webhooks.OnEvent(ctx, e)
		}
		if o.broadcaster != nil {
			o.broadcaster.Broadcast(e.TenantID, e)
		}
		if o.firehose != nil {
			if err := o.firehose.Emit(ctx, e); err != nil {
				log.Printf("ingest: firehose emit for event %s failed: %v", e.ID, err)
			}
		}
	}()
}
