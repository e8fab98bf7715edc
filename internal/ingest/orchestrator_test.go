package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"event-pulse/internal/event/domain"
	eventrepo "event-pulse/internal/event/repository"
	"event-pulse/internal/idempotency"
	"event-pulse/internal/session"
	sessionrepo "event-pulse/internal/session/repository"
)

// spySink records webhook deliveries.
type spySink struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (s *spySink) OnEvent(ctx context.Context, e *domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *spySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// spyBroadcaster records broadcasts.
type spyBroadcaster struct {
	mu      sync.Mutex
	tenants []string
}

func (s *spyBroadcaster) Broadcast(tenantID string, e *domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants = append(s.tenants, tenantID)
}

func (s *spyBroadcaster) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tenants)
}

type fixture struct {
	orch        *Orchestrator
	ledger      *idempotency.MemoryLedger
	sessions    *sessionrepo.MemoryRepository
	events      *eventrepo.MemoryRepository
	sink        *spySink
	broadcaster *spyBroadcaster
}

func newFixture() *fixture {
	f := &fixture{
		ledger:      idempotency.NewMemoryLedger(time.Hour),
		sessions:    sessionrepo.NewMemoryRepository(),
		events:      eventrepo.NewMemoryRepository(),
		sink:        &spySink{},
		broadcaster: &spyBroadcaster{},
	}
	f.orch = NewOrchestrator(f.ledger, session.NewResolver(f.sessions), f.events, f.sink, f.broadcaster, nil, nil)
	return f
}

func baseRequest() Request {
	return Request{
		TenantID:  "t-1",
		Name:      "page_view",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) Chrome/120.0 Safari/537.36",
	}
}

func TestIngest_CreatesEventAndDispatches(t *testing.T) {
	f := newFixture()

	res, err := f.orch.Ingest(context.Background(), baseRequest(), "")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Replayed {
		t.Error("first ingestion should not be a replay")
	}
	if res.Summary.EventID == "" || res.Summary.Name != "page_view" {
		t.Errorf("summary = %+v", res.Summary)
	}
	if f.events.Count() != 1 {
		t.Errorf("events.Count() = %d, want 1", f.events.Count())
	}

	// Dispatch runs in a goroutine after commit.
	time.Sleep(100 * time.Millisecond)
	if f.sink.count() != 1 {
		t.Errorf("webhook sink received %d events, want 1", f.sink.count())
	}
	if f.broadcaster.count() != 1 {
		t.Errorf("broadcaster received %d events, want 1", f.broadcaster.count())
	}
}

func TestIngest_DerivesClientContext(t *testing.T) {
	f := newFixture()

	res, err := f.orch.Ingest(context.Background(), baseRequest(), "")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	e, err := f.events.GetByID(context.Background(), res.Summary.EventID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if e.Device != "desktop" || e.OS != "windows" || e.Browser != "chrome" {
		t.Errorf("client context = %s/%s/%s, want desktop/windows/chrome", e.Device, e.OS, e.Browser)
	}
}

func TestIngest_MissingRequiredFields(t *testing.T) {
	f := newFixture()

	req := baseRequest()
	req.TenantID = ""
	if _, err := f.orch.Ingest(context.Background(), req, ""); !errors.Is(err, ErrMissingTenant) {
		t.Errorf("err = %v, want ErrMissingTenant", err)
	}

	req = baseRequest()
	req.Name = ""
	if _, err := f.orch.Ingest(context.Background(), req, ""); !errors.Is(err, ErrMissingName) {
		t.Errorf("err = %v, want ErrMissingName", err)
	}
}

func TestIngest_ReplayShortCircuits(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	req := baseRequest()
	req.SessionToken = "s1"
	first, err := f.orch.Ingest(ctx, req, "k1")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	second, err := f.orch.Ingest(ctx, req, "k1")
	if err != nil {
		t.Fatalf("Ingest replay: %v", err)
	}
	if !second.Replayed {
		t.Error("second ingestion with the same key should be a replay")
	}
	if second.Summary.EventID != first.Summary.EventID {
		t.Errorf("replay summary = %q, want first writer's event %q", second.Summary.EventID, first.Summary.EventID)
	}

	// A replay persists nothing and dispatches nothing.
	if f.events.Count() != 1 {
		t.Errorf("events.Count() = %d, want exactly 1 row", f.events.Count())
	}
	time.Sleep(100 * time.Millisecond)
	if f.sink.count() != 1 {
		t.Errorf("webhook sink received %d events, want 1 (no dispatch on replay)", f.sink.count())
	}
	if f.sessions.Count() != 1 {
		t.Errorf("sessions.Count() = %d, want 1 (no session work on replay)", f.sessions.Count())
	}
}

// failingEventRepo fails every save.
type failingEventRepo struct {
	*eventrepo.MemoryRepository
}

func (failingEventRepo) Save(ctx context.Context, e *domain.Event) error {
	return errors.New("store unavailable")
}

func TestIngest_PersistenceFailureHasNoSideEffects(t *testing.T) {
	f := newFixture()
	f.orch = NewOrchestrator(
		f.ledger,
		session.NewResolver(f.sessions),
		failingEventRepo{f.events},
		f.sink,
		f.broadcaster,
		nil,
		nil,
	)
	ctx := context.Background()

	_, err := f.orch.Ingest(ctx, baseRequest(), "k1")
	if err == nil {
		t.Fatal("Ingest should fail when persistence fails")
	}

	// No ledger record, no dispatch.
	if s, _ := f.ledger.FindSummary(ctx, "k1"); s != nil {
		t.Error("a failed ingestion must not register its idempotency key")
	}
	time.Sleep(100 * time.Millisecond)
	if f.sink.count() != 0 {
		t.Errorf("webhook sink received %d events, want 0", f.sink.count())
	}
	if f.broadcaster.count() != 0 {
		t.Errorf("broadcaster received %d events, want 0", f.broadcaster.count())
	}
}

// downLedger simulates an unreachable idempotency store.
type downLedger struct{}

func (downLedger) CheckAndSet(ctx context.Context, key string, summary domain.Summary) (bool, error) {
	return false, errors.New("ledger unavailable")
}

func (downLedger) FindSummary(ctx context.Context, key string) (*domain.Summary, error) {
	return nil, errors.New("ledger unavailable")
}

func TestIngest_LedgerOutageDegradesWithoutFailingRequest(t *testing.T) {
	f := newFixture()
	f.orch = NewOrchestrator(downLedger{}, session.NewResolver(f.sessions), f.events, f.sink, f.broadcaster, nil, nil)

	res, err := f.orch.Ingest(context.Background(), baseRequest(), "k1")
	if err != nil {
		t.Fatalf("Ingest during ledger outage should degrade, not fail: %v", err)
	}
	if res.Replayed {
		t.Error("degraded ingestion is not a replay")
	}
	if f.events.Count() != 1 {
		t.Errorf("events.Count() = %d, want 1", f.events.Count())
	}
}

// lostRaceLedger reports no existing record but loses every registration.
type lostRaceLedger struct{}

func (lostRaceLedger) CheckAndSet(ctx context.Context, key string, summary domain.Summary) (bool, error) {
	return false, nil
}

func (lostRaceLedger) FindSummary(ctx context.Context, key string) (*domain.Summary, error) {
	return nil, nil
}

func TestIngest_LostRegistrationRaceKeepsOwnEvent(t *testing.T) {
	f := newFixture()
	f.orch = NewOrchestrator(lostRaceLedger{}, session.NewResolver(f.sessions), f.events, f.sink, f.broadcaster, nil, nil)

	res, err := f.orch.Ingest(context.Background(), baseRequest(), "k1")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	// Persistence already committed, so the response reflects this writer's own event.
	if f.events.Count() != 1 {
		t.Fatalf("events.Count() = %d, want 1", f.events.Count())
	}
	e, _ := f.events.LatestByTenant(context.Background(), "t-1")
	if res.Summary.EventID != e.ID {
		t.Errorf("summary event = %q, want own persisted event %q", res.Summary.EventID, e.ID)
	}
}

func TestIngest_EventTimestampsAdvance(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.orch.Ingest(ctx, baseRequest(), "")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	second, err := f.orch.Ingest(ctx, baseRequest(), "")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	if !second.Summary.CreatedAt.After(first.Summary.CreatedAt) {
		t.Errorf("second CreatedAt %v not after first %v; event times must track the clock",
			second.Summary.CreatedAt, first.Summary.CreatedAt)
	}

	// Latest-by-tenant ordering depends on these timestamps.
	latest, err := f.events.LatestByTenant(ctx, "t-1")
	if err != nil {
		t.Fatalf("LatestByTenant: %v", err)
	}
	if latest.ID != second.Summary.EventID {
		t.Errorf("LatestByTenant = %q, want the later event %q", latest.ID, second.Summary.EventID)
	}
}

func TestIngest_SessionMergeAcrossEvents(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	// Token "s1" under tenant 5: anonymous, then user 42, then user 99.
	for _, userID := range []string{"", "42", "99"} {
		req := baseRequest()
		req.TenantID = "tenant-5"
		req.SessionToken = "s1"
		req.UserID = userID
		if _, err := f.orch.Ingest(ctx, req, ""); err != nil {
			t.Fatalf("Ingest(user=%q): %v", userID, err)
		}
	}

	s, err := f.sessions.FindByTenantAndToken(ctx, "tenant-5", "s1")
	if err != nil {
		t.Fatalf("FindByTenantAndToken: %v", err)
	}
	if s.UserID == nil || *s.UserID != "42" {
		t.Errorf("session UserID = %v, want 42 (first identify wins, later users never reassign)", s.UserID)
	}
	if f.sessions.Count() != 1 {
		t.Errorf("sessions.Count() = %d, want 1", f.sessions.Count())
	}
}

func TestIngest_BlankTokenCreatesNoSession(t *testing.T) {
	f := newFixture()

	res, err := f.orch.Ingest(context.Background(), baseRequest(), "")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if f.sessions.Count() != 0 {
		t.Errorf("sessions.Count() = %d, want 0", f.sessions.Count())
	}
	e, _ := f.events.GetByID(context.Background(), res.Summary.EventID)
	if e.SessionID != nil {
		t.Errorf("event SessionID = %v, want nil", e.SessionID)
	}
}

func TestIngest_EventReferencesResolvedSession(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	req := baseRequest()
	req.SessionToken = "s1"
	req.UserID = "7"
	res, err := f.orch.Ingest(ctx, req, "")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	e, _ := f.events.GetByID(ctx, res.Summary.EventID)
	if e.SessionID == nil {
		t.Fatal("event should reference the resolved session")
	}
	s, _ := f.sessions.FindByTenantAndToken(ctx, "t-1", "s1")
	if s == nil || s.ID != *e.SessionID {
		t.Errorf("event SessionID = %q, want session %v", *e.SessionID, s)
	}
	if e.UserID == nil || *e.UserID != "7" {
		t.Errorf("event UserID = %v, want 7", e.UserID)
	}
}

func TestIngest_ConcurrentDistinctRequests(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	const n = 30
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := baseRequest()
			req.SessionToken = "shared"
			if _, err := f.orch.Ingest(ctx, req, ""); err != nil {
				t.Errorf("Ingest: %v", err)
			}
		}()
	}
	wg.Wait()

	if f.events.Count() != n {
		t.Errorf("events.Count() = %d, want %d", f.events.Count(), n)
	}
	if f.sessions.Count() != 1 {
		t.Errorf("sessions.Count() = %d, want exactly 1 for the shared token", f.sessions.Count())
	}
}
