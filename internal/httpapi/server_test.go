package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	eventrepo "event-pulse/internal/event/repository"
	"event-pulse/internal/idempotency"
	"event-pulse/internal/ingest"
	"event-pulse/internal/realtime"
	"event-pulse/internal/session"
	sessionrepo "event-pulse/internal/session/repository"
	"event-pulse/internal/webhook"
	webhookrepo "event-pulse/internal/webhook/repository"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	events := eventrepo.NewMemoryRepository()
	broadcaster := realtime.NewBroadcaster(nil)
	dispatcher := webhook.NewDispatcher(webhookrepo.NewMemoryRepository(), events, webhook.LegacyEndpoint{}, nil, nil)
	orch := ingest.NewOrchestrator(
		idempotency.NewMemoryLedger(time.Hour),
		session.NewResolver(sessionrepo.NewMemoryRepository()),
		events,
		dispatcher,
		broadcaster,
		nil,
		nil,
	)
	srv := httptest.NewServer(NewServer(orch, dispatcher, broadcaster, events))
	t.Cleanup(srv.Close)
	return srv
}

func postEvent(t *testing.T, srv *httptest.Server, tenantID, idempotencyKey string, body map[string]any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/events", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if tenantID != "" {
		req.Header.Set(TenantHeader, tenantID)
	}
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyKeyHeader, idempotencyKey)
	}
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("post event: %v", err)
	}
	return resp
}

func decodeIngest(t *testing.T, resp *http.Response) ingestResponse {
	t.Helper()
	defer resp.Body.Close()
	var out ingestResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestIngestCreatesEvent(t *testing.T) {
	srv := newTestServer(t)

	resp := postEvent(t, srv, "acme", "", map[string]any{"name": "page_view"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	out := decodeIngest(t, resp)
	if out.EventID == "" {
		t.Fatal("expected a non-empty event id")
	}
	if out.Replayed {
		t.Fatal("fresh event must not be marked replayed")
	}
	if out.Name != "page_view" {
		t.Fatalf("expected name page_view, got %q", out.Name)
	}
}

func TestIngestReplaysOnDuplicateKey(t *testing.T) {
	srv := newTestServer(t)

	first := decodeIngest(t, postEvent(t, srv, "acme", "req-1", map[string]any{"name": "signup"}))

	resp := postEvent(t, srv, "acme", "req-1", map[string]any{"name": "signup"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for replay, got %d", resp.StatusCode)
	}
	second := decodeIngest(t, resp)
	if !second.Replayed {
		t.Fatal("duplicate key must be marked replayed")
	}
	if second.EventID != first.EventID {
		t.Fatalf("replay returned event %s, want %s", second.EventID, first.EventID)
	}
}

func TestIngestValidation(t *testing.T) {
	srv := newTestServer(t)

	resp := postEvent(t, srv, "", "", map[string]any{"name": "page_view"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing tenant: expected 400, got %d", resp.StatusCode)
	}

	resp = postEvent(t, srv, "acme", "", map[string]any{})
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing name: expected 400, got %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/events", bytes.NewReader([]byte("{not json")))
	req.Header.Set(TenantHeader, "acme")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("post malformed body: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body: expected 400, got %d", resp.StatusCode)
	}
}

func TestIngestTenantFromBody(t *testing.T) {
	srv := newTestServer(t)

	resp := postEvent(t, srv, "", "", map[string]any{"tenantId": "acme", "name": "page_view"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestListEvents(t *testing.T) {
	srv := newTestServer(t)

	for _, name := range []string{"page_view", "signup", "checkout"} {
		postEvent(t, srv, "acme", "", map[string]any{"name": name}).Body.Close()
	}
	postEvent(t, srv, "other", "", map[string]any{"name": "page_view"}).Body.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/events?limit=2", nil)
	req.Header.Set(TenantHeader, "acme")
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var out listResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(out.Events) != 2 {
		t.Fatalf("got %d events, want 2 (limit)", len(out.Events))
	}
	// Newest first.
	if out.Events[0].Name != "checkout" || out.Events[1].Name != "signup" {
		t.Errorf("page = %q/%q, want checkout/signup", out.Events[0].Name, out.Events[1].Name)
	}
	for _, e := range out.Events {
		if e.TenantID != "acme" {
			t.Errorf("event %s belongs to tenant %q, want acme", e.EventID, e.TenantID)
		}
	}
}

func TestListEventsValidation(t *testing.T) {
	srv := newTestServer(t)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/v1/events", nil)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("list without tenant: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without tenant, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/v1/events?limit=nope", nil)
	req.Header.Set(TenantHeader, "acme")
	resp, err = srv.Client().Do(req)
	if err != nil {
		t.Fatalf("list with bad limit: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", resp.StatusCode)
	}
}

func TestReplayEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/v1/webhooks/replay", nil)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("replay without tenant: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without tenant, got %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/v1/webhooks/replay", nil)
	req.Header.Set(TenantHeader, "acme")
	resp, err = srv.Client().Do(req)
	if err != nil {
		t.Fatalf("replay with tenant: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
}

func TestStreamDeliversEvents(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + srv.URL[len("http"):] + "/v1/events/stream?tenant=acme"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// Give the server time to register the subscription before publishing.
	time.Sleep(100 * time.Millisecond)

	resp := postEvent(t, srv, "acme", "", map[string]any{"name": "page_view", "attributes": map[string]any{"path": "/pricing"}})
	created := decodeIngest(t, resp)

	var msg streamMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("read stream message: %v", err)
	}
	if msg.EventID != created.EventID {
		t.Fatalf("streamed event %s, want %s", msg.EventID, created.EventID)
	}
	if msg.TenantID != "acme" || msg.Name != "page_view" {
		t.Fatalf("unexpected stream message: %+v", msg)
	}
}

func TestStreamDoesNotLeakAcrossTenants(t *testing.T) {
	srv := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	wsURL := "ws" + srv.URL[len("http"):] + "/v1/events/stream?tenant=other"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial stream: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	time.Sleep(100 * time.Millisecond)
	postEvent(t, srv, "acme", "", map[string]any{"name": "page_view"}).Body.Close()

	readCtx, readCancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer readCancel()
	var msg streamMessage
	if err := wsjson.Read(readCtx, conn, &msg); err == nil {
		t.Fatalf("tenant other received event %+v meant for acme", msg)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/v1/events", nil)
	r.RemoteAddr = "10.0.0.9:4412"
	if got := clientIP(r); got != "10.0.0.9" {
		t.Fatalf("expected remote addr host, got %q", got)
	}

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if got := clientIP(r); got != "203.0.113.7" {
		t.Fatalf("expected first forwarded hop, got %q", got)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	srv := newTestServer(t)

	resp, err := srv.Client().Get(srv.URL + "/v1/unknown")
	if err != nil {
		t.Fatalf("get unknown route: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
