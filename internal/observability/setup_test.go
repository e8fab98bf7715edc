package observability

import (
	"context"
	"testing"
)

func TestNewProviders_EmptyEndpointReturnsNoop(t *testing.T) {
	p, err := NewProviders(context.Background(), "", "pulse", false)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	if p.TracerProvider == nil || p.MeterProvider == nil {
		t.Fatal("no-op providers should still be non-nil")
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown of no-op providers: %v", err)
	}
}

func TestNewProviders_InvalidEndpoint(t *testing.T) {
	if _, err := NewProviders(context.Background(), "http://", "pulse", false); err == nil {
		t.Fatal("NewProviders should reject an endpoint without a host")
	}
}

func TestNewProviders_NormalizesEndpoint(t *testing.T) {
	// gRPC dials lazily, so constructing against an unreachable collector succeeds.
	p, err := NewProviders(context.Background(), "localhost:4317/v1/traces", "pulse", true)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = p.Shutdown(ctx)
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	// None of these may panic.
	m.EventIngested(ctx)
	m.ReplayServed(ctx)
	m.LedgerDegraded(ctx)
	m.WebhookFailed(ctx)
	m.BroadcastDropped(ctx)
}

func TestNewMetrics(t *testing.T) {
	p, err := NewProviders(context.Background(), "", "pulse", false)
	if err != nil {
		t.Fatalf("NewProviders: %v", err)
	}
	m, err := NewMetrics(p.MeterProvider.Meter("test"))
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	// Counters on a no-op provider still accept adds.
	m.EventIngested(context.Background())
	m.WebhookFailed(context.Background())
}
