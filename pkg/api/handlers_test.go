package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wabridge/wabridge/pkg/bus"
	"github.com/wabridge/wabridge/pkg/config"
	"github.com/wabridge/wabridge/pkg/storage/file"
	"github.com/wabridge/wabridge/pkg/wa"
	"github.com/wabridge/wabridge/pkg/webhook"
)

const testToken = "test-token"

// newTestServer builds a Server around an unstarted session manager, so every
// send operation observes a missing transport.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	fs, err := file.NewFileStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	if err := fs.Connect(context.Background()); err != nil {
		t.Fatalf("failed to connect storage: %v", err)
	}
	t.Cleanup(func() { fs.Close() })

	eventBus := bus.NewEventBus()
	manager := wa.NewManager(nil, nil, eventBus, nil, wa.ManagerOptions{})

	return &Server{
		config:     config.APIConfig{Token: testToken},
		manager:    manager,
		sender:     wa.NewSender(manager),
		dispatcher: webhook.NewDispatcher(),
		store:      fs,
		eventBus:   eventBus,
		startTime:  time.Now(),
	}
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doJSON(t, s.handleHealth, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["status"] != "ok" {
		t.Errorf("expected status ok, got %v", body["status"])
	}
}

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	protected := s.authMiddleware(s.handleStatus)

	tests := []struct {
		name       string
		authorize  func(*http.Request)
		wantStatus int
	}{
		{"no token", func(r *http.Request) {}, http.StatusUnauthorized},
		{"wrong token", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer nope")
		}, http.StatusUnauthorized},
		{"bearer token", func(r *http.Request) {
			r.Header.Set("Authorization", "Bearer "+testToken)
		}, http.StatusOK},
		{"query token", func(r *http.Request) {
			q := r.URL.Query()
			q.Set("token", testToken)
			r.URL.RawQuery = q.Encode()
		}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
			tt.authorize(req)
			rec := httptest.NewRecorder()
			protected(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestStatusDisconnected(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doJSON(t, s.handleStatus, http.MethodGet, "/api/v1/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["connected"] != false {
		t.Errorf("expected connected false, got %v", body["connected"])
	}
	if _, ok := body["identity"]; ok {
		t.Error("identity must be absent while disconnected")
	}
}

func TestQRNotPending(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doJSON(t, s.handleQR, http.MethodGet, "/api/v1/qr", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 without a pending QR, got %d", rec.Code)
	}
}

func TestSendTextValidation(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"not json", "{", http.StatusBadRequest},
		{"missing to", `{"text":"hi"}`, http.StatusBadRequest},
		{"missing text", `{"to":"5215512345678"}`, http.StatusBadRequest},
		{"not connected", `{"to":"5215512345678","text":"hi"}`, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, s.handleSendText, http.MethodPost, "/api/v1/messages/text", tt.body)
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestSendTextMethodNotAllowed(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doJSON(t, s.handleSendText, http.MethodGet, "/api/v1/messages/text", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestWebhookLifecycle(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	// Enable before configure conflicts.
	rec := doJSON(t, s.handleWebhookEnable, http.MethodPost, "/api/v1/webhook/enable", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 before configuration, got %d", rec.Code)
	}

	// Configure requires a URL.
	rec = doJSON(t, s.handleWebhook, http.MethodPost, "/api/v1/webhook", `{"secret":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without url, got %d", rec.Code)
	}

	rec = doJSON(t, s.handleWebhook, http.MethodPost, "/api/v1/webhook",
		`{"url":"http://localhost:9/hook","events":["message.received"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("configure failed: %d %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s.handleWebhook, http.MethodGet, "/api/v1/webhook", "")
	body := decodeBody(t, rec)
	if body["configured"] != true || body["enabled"] != true {
		t.Errorf("unexpected webhook status: %v", body)
	}

	rec = doJSON(t, s.handleWebhookDisable, http.MethodPost, "/api/v1/webhook/disable", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("disable failed: %d", rec.Code)
	}
	rec = doJSON(t, s.handleWebhookEnable, http.MethodPost, "/api/v1/webhook/enable", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("re-enable failed: %d", rec.Code)
	}
}

func TestMessageLogEmpty(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doJSON(t, s.handleMessageLog, http.MethodGet, "/api/v1/messages", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("expected an empty array, got %q", got)
	}
}

func TestMessageLogRejectsBadLimit(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	for _, limit := range []string{"abc", "0", "-1"} {
		rec := doJSON(t, s.handleMessageLog, http.MethodGet, "/api/v1/messages?limit="+limit, "")
		if rec.Code != http.StatusBadRequest {
			t.Errorf("limit=%s: expected 400, got %d", limit, rec.Code)
		}
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doJSON(t, s.handleStats, http.MethodGet, "/api/v1/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["connected"] != false {
		t.Errorf("expected connected false, got %v", body["connected"])
	}
	if body["messages_24h"] != float64(0) {
		t.Errorf("expected zero recent messages, got %v", body["messages_24h"])
	}
	if body["storage_alive"] != true {
		t.Errorf("expected live storage, got %v", body["storage_alive"])
	}
}

func TestDisconnectWithoutSession(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doJSON(t, s.handleDisconnect, http.MethodPost, "/api/v1/disconnect", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 without a session, got %d", rec.Code)
	}
}

func TestGroupDetailRouting(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doJSON(t, s.handleGroupDetail, http.MethodGet, "/api/v1/groups/", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without a JID, got %d", rec.Code)
	}

	// A valid route without a connected session surfaces the conflict.
	rec = doJSON(t, s.handleGroupDetail, http.MethodGet, "/api/v1/groups/123@g.us", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 while disconnected, got %d", rec.Code)
	}

	rec = doJSON(t, s.handleGroupDetail, http.MethodDelete, "/api/v1/groups/123@g.us/leave", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for wrong method, got %d", rec.Code)
	}
}

func TestContactDetailRouting(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	rec := doJSON(t, s.handleContactDetail, http.MethodGet, "/api/v1/contacts/5215512345678", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without an action, got %d", rec.Code)
	}

	rec = doJSON(t, s.handleContactDetail, http.MethodPost, "/api/v1/contacts/5215512345678/block", "")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 while disconnected, got %d", rec.Code)
	}
}
