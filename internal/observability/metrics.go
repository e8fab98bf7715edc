package observability

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the ingestion pipeline counters. A nil *Metrics is valid and
// counts nothing, so components can hold it without guarding every call site.
type Metrics struct {
	eventsIngested     metric.Int64Counter
	replaysServed      metric.Int64Counter
	ledgerDegradations metric.Int64Counter
	webhookFailures    metric.Int64Counter
	broadcastDrops     metric.Int64Counter
}

// NewMetrics creates the pipeline counters on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.eventsIngested, err = meter.Int64Counter("pulse.events.ingested",
		metric.WithDescription("Events durably persisted")); err != nil {
		return nil, err
	}
	if m.replaysServed, err = meter.Int64Counter("pulse.events.replays",
		metric.WithDescription("Requests answered from the idempotency ledger")); err != nil {
		return nil, err
	}
	if m.ledgerDegradations, err = meter.Int64Counter("pulse.idempotency.degradations",
		metric.WithDescription("Requests that proceeded without an idempotency guarantee")); err != nil {
		return nil, err
	}
	if m.webhookFailures, err = meter.Int64Counter("pulse.webhook.failures",
		metric.WithDescription("Webhook deliveries that failed after the retry")); err != nil {
		return nil, err
	}
	if m.broadcastDrops, err = meter.Int64Counter("pulse.broadcast.drops",
		metric.WithDescription("Realtime subscribers dropped for not keeping up")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) EventIngested(ctx context.Context) {
	if m != nil && m.eventsIngested != nil {
		m.eventsIngested.Add(ctx, 1)
	}
}

func (m *Metrics) ReplayServed(ctx context.Context) {
	if m != nil && m.replaysServed != nil {
		m.replaysServed.Add(ctx, 1)
	}
}

func (m *Metrics) LedgerDegraded(ctx context.Context) {
	if m != nil && m.ledgerDegradations != nil {
		m.ledgerDegradations.Add(ctx, 1)
	}
}

func (m *Metrics) WebhookFailed(ctx context.Context) {
	if m != nil && m.webhookFailures != nil {
		m.webhookFailures.Add(ctx, 1)
	}
}

func (m *Metrics) BroadcastDropped(ctx context.Context) {
	if m != nil && m.broadcastDrops != nil {
		m.broadcastDrops.Add(ctx, 1)
	}
}
