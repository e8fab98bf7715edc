// Package httpapi exposes the ingestion pipeline over HTTP: event submission,
// the realtime websocket stream, and webhook replay. Authentication and tenant
// validation belong to the gateway in front of this service; handlers trust
// the X-Tenant-ID header.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	eventdomain "event-pulse/internal/event/domain"
	eventrepo "event-pulse/internal/event/repository"
	"event-pulse/internal/ingest"
	"event-pulse/internal/realtime"
	"event-pulse/internal/session"
	"event-pulse/internal/webhook"
)

// TenantHeader carries the tenant id resolved by the upstream gateway.
const TenantHeader = "X-Tenant-ID"

// IdempotencyKeyHeader carries the caller's optional idempotency key.
const IdempotencyKeyHeader = "Idempotency-Key"

const defaultMaxBodyBytes = 1 << 20

// defaultListLimit caps GET /v1/events pages when the caller sends no limit.
const defaultListLimit = 50

// maxListLimit is the hard page-size ceiling for GET /v1/events.
const maxListLimit = 200

// Server routes HTTP requests to the ingestion pipeline.
type Server struct {
	orch         *ingest.Orchestrator
	dispatcher   *webhook.Dispatcher
	broadcaster  *realtime.Broadcaster
	events       eventrepo.Repository
	maxBodyBytes int64
}

// NewServer returns an HTTP server over the given pipeline components.
func NewServer(orch *ingest.Orchestrator, dispatcher *webhook.Dispatcher, broadcaster *realtime.Broadcaster, events eventrepo.Repository) *Server {
	return &Server{
		orch:         orch,
		dispatcher:   dispatcher,
		broadcaster:  broadcaster,
		events:       events,
		maxBodyBytes: defaultMaxBodyBytes,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case r.URL.Path == "/v1/events" && r.Method == http.MethodPost:
		s.handleIngest(w, r)
	case r.URL.Path == "/v1/events" && r.Method == http.MethodGet:
		s.handleList(w, r)
	case r.URL.Path == "/v1/events/stream" && r.Method == http.MethodGet:
		s.handleStream(w, r)
	case r.URL.Path == "/v1/webhooks/replay" && r.Method == http.MethodPost:
		s.handleReplay(w, r)
	default:
		writeError(w, http.StatusNotFound, "route not found")
	}
}

type ingestRequest struct {
	TenantID     string          `json:"tenantId,omitempty"`
	Name         string          `json:"name"`
	SessionToken string          `json:"sessionToken,omitempty"`
	UserID       string          `json:"userId,omitempty"`
	Attributes   json.RawMessage `json:"attributes,omitempty"`
	Referrer     string          `json:"referrer,omitempty"`
}

type ingestResponse struct {
	EventID   string    `json:"eventId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	Replayed  bool      `json:"replayed"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	var req ingestRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	// The gateway's header verdict wins; the body tenant only fills in when no header is present.
	tenantID := r.Header.Get(TenantHeader)
	if tenantID == "" {
		tenantID = req.TenantID
	}

	referrer := req.Referrer
	if referrer == "" {
		referrer = r.Header.Get("Referer")
	}

	result, err := s.orch.Ingest(r.Context(), ingest.Request{
		TenantID:     tenantID,
		Name:         req.Name,
		SessionToken: req.SessionToken,
		UserID:       req.UserID,
		Attributes:   req.Attributes,
		UserAgent:    r.UserAgent(),
		Referrer:     referrer,
		IP:           clientIP(r),
	}, r.Header.Get(IdempotencyKeyHeader))
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrMissingTenant), errors.Is(err, ingest.ErrMissingName):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, session.ErrRetriesExhausted):
			writeError(w, http.StatusServiceUnavailable, "session resolution failed, retry the request")
		default:
			log.Printf("httpapi: ingest failed: %v", err)
			writeError(w, http.StatusInternalServerError, "event could not be stored")
		}
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, ingestResponse{
		EventID:   result.Summary.EventID,
		Name:      result.Summary.Name,
		CreatedAt: result.Summary.CreatedAt,
		Replayed:  result.Replayed,
	})
}

type streamMessage struct {
	EventID    string          `json:"eventId"`
	TenantID   string          `json:"tenantId"`
	Name       string          `json:"name"`
	UserID     *string         `json:"userId,omitempty"`
	SessionID  *string         `json:"sessionId,omitempty"`
	Attributes json.RawMessage `json:"attributes"`
	CreatedAt  time.Time       `json:"createdAt"`
}

func toStreamMessage(e *eventdomain.Event) streamMessage {
	attrs := e.Attributes
	if attrs == nil {
		attrs = []byte("{}")
	}
	return streamMessage{
		EventID:    e.ID,
		TenantID:   e.TenantID,
		Name:       e.Name,
		UserID:     e.UserID,
		SessionID:  e.SessionID,
		Attributes: attrs,
		CreatedAt:  e.CreatedAt,
	}
}

// handleStream upgrades to a websocket and pushes every broadcast event for
// the tenant until the client disconnects. The subscription is removed on any
// exit path so the registry never leaks entries.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get(TenantHeader)
	if tenantID == "" {
		tenantID = r.URL.Query().Get("tenant")
	}
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant is required")
		return
	}

	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("httpapi: websocket accept: %v", err)
		return
	}
	defer c.Close(websocket.StatusInternalError, "stream ended")

	sub := s.broadcaster.Subscribe(tenantID)
	defer sub.Close()

	// CloseRead returns a context that ends when the client disconnects.
	ctx := c.CloseRead(r.Context())
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				c.Close(websocket.StatusPolicyViolation, "subscriber dropped")
				return
			}
			if err := wsjson.Write(ctx, c, toStreamMessage(e)); err != nil {
				return
			}
		case <-ctx.Done():
			c.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

type listResponse struct {
	Events []streamMessage `json:"events"`
}

// handleList returns the tenant's events, newest first, paginated by limit and offset.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get(TenantHeader)
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant is required")
		return
	}

	limit := int32(defaultListLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if n > maxListLimit {
			n = maxListLimit
		}
		limit = int32(n)
	}
	var offset int32
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = int32(n)
	}

	events, err := s.events.ListByTenant(r.Context(), tenantID, limit, offset)
	if err != nil {
		log.Printf("httpapi: listing events for tenant %s: %v", tenantID, err)
		writeError(w, http.StatusInternalServerError, "events could not be listed")
		return
	}

	out := listResponse{Events: make([]streamMessage, 0, len(events))}
	for _, e := range events {
		out.Events = append(out.Events, toStreamMessage(e))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	tenantID := r.Header.Get(TenantHeader)
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant is required")
		return
	}
	if err := s.dispatcher.ReplayLatest(r.Context(), tenantID); err != nil {
		log.Printf("httpapi: replay for tenant %s: %v", tenantID, err)
		writeError(w, http.StatusInternalServerError, "replay failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
