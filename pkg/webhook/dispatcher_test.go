package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type capturedRequest struct {
	event     string
	signature string
	body      []byte
}

// captureServer records every webhook POST it receives.
type captureServer struct {
	*httptest.Server

	mu       sync.Mutex
	status   int
	requests []capturedRequest
}

func newCaptureServer(t *testing.T) *captureServer {
	t.Helper()
	cs := &captureServer{status: http.StatusOK}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		cs.mu.Lock()
		cs.requests = append(cs.requests, capturedRequest{
			event:     r.Header.Get("X-Webhook-Event"),
			signature: r.Header.Get("X-Webhook-Signature"),
			body:      body,
		})
		status := cs.status
		cs.mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *captureServer) count() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.requests)
}

func (cs *captureServer) last() capturedRequest {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return cs.requests[len(cs.requests)-1]
}

func TestDispatcherUnconfiguredIsNoOp(t *testing.T) {
	t.Parallel()
	server := newCaptureServer(t)
	d := NewDispatcher()

	d.Send("connection.ready", map[string]string{"jid": "x"})

	if server.count() != 0 {
		t.Errorf("expected no deliveries, got %d", server.count())
	}
	if d.Status() != nil {
		t.Error("expected nil status when unconfigured")
	}
	if d.Enable() {
		t.Error("enable should report false when unconfigured")
	}
	if d.Disable() {
		t.Error("disable should report false when unconfigured")
	}
}

func TestDispatcherDeliversEnvelope(t *testing.T) {
	t.Parallel()
	server := newCaptureServer(t)
	d := NewDispatcher()
	d.Configure(server.URL, "", nil)

	d.Send("message.received", map[string]string{"body": "hello"})

	if server.count() != 1 {
		t.Fatalf("expected one delivery, got %d", server.count())
	}
	req := server.last()
	if req.event != "message.received" {
		t.Errorf("expected event header message.received, got %q", req.event)
	}
	if req.signature != "" {
		t.Error("expected no signature without a secret")
	}

	var env struct {
		Event     string            `json:"event"`
		Timestamp string            `json:"timestamp"`
		Data      map[string]string `json:"data"`
	}
	if err := json.Unmarshal(req.body, &env); err != nil {
		t.Fatalf("failed to decode envelope: %v", err)
	}
	if env.Event != "message.received" {
		t.Errorf("expected envelope event message.received, got %q", env.Event)
	}
	if _, err := time.Parse(time.RFC3339, env.Timestamp); err != nil {
		t.Errorf("timestamp not RFC3339: %q", env.Timestamp)
	}
	if env.Data["body"] != "hello" {
		t.Errorf("expected data body hello, got %q", env.Data["body"])
	}
}

func TestDispatcherSignsBody(t *testing.T) {
	t.Parallel()
	server := newCaptureServer(t)
	d := NewDispatcher()
	d.Configure(server.URL, "topsecret", nil)

	d.Send("connection.ready", map[string]string{"jid": "123@s.whatsapp.net"})

	if server.count() != 1 {
		t.Fatalf("expected one delivery, got %d", server.count())
	}
	req := server.last()
	if req.signature == "" {
		t.Fatal("expected a signature header")
	}

	mac := hmac.New(sha256.New, []byte("topsecret"))
	mac.Write(req.body)
	want := hex.EncodeToString(mac.Sum(nil))
	if req.signature != want {
		t.Errorf("signature mismatch: got %q want %q", req.signature, want)
	}
}

func TestDispatcherEventFilter(t *testing.T) {
	t.Parallel()
	server := newCaptureServer(t)
	d := NewDispatcher()
	d.Configure(server.URL, "", []string{"message.received"})

	d.Send("qr.update", map[string]string{"code": "abc"})
	d.Send("message.received", map[string]string{"body": "hi"})

	if server.count() != 1 {
		t.Fatalf("expected only the listed event, got %d deliveries", server.count())
	}
	if server.last().event != "message.received" {
		t.Errorf("delivered the wrong event: %q", server.last().event)
	}
}

func TestDispatcherEmptyEventsMeansWildcard(t *testing.T) {
	t.Parallel()
	d := NewDispatcher()
	d.Configure("http://localhost:0", "", nil)

	status := d.Status()
	if status == nil {
		t.Fatal("expected a status after configure")
	}
	if len(status.Events) != 1 || status.Events[0] != "*" {
		t.Errorf("expected wildcard events, got %v", status.Events)
	}
	if !status.Enabled {
		t.Error("configure should enable delivery")
	}
}

func TestDispatcherDisableAndEnable(t *testing.T) {
	t.Parallel()
	server := newCaptureServer(t)
	d := NewDispatcher()
	d.Configure(server.URL, "", nil)

	if !d.Disable() {
		t.Fatal("disable should succeed once configured")
	}
	d.Send("connection.ready", nil)
	if server.count() != 0 {
		t.Fatalf("expected no delivery while disabled, got %d", server.count())
	}

	if !d.Enable() {
		t.Fatal("enable should succeed once configured")
	}
	d.Send("connection.ready", nil)
	if server.count() != 1 {
		t.Fatalf("expected delivery after re-enable, got %d", server.count())
	}
}

func TestDispatcherSwallowsEndpointErrors(t *testing.T) {
	t.Parallel()
	server := newCaptureServer(t)
	server.mu.Lock()
	server.status = http.StatusInternalServerError
	server.mu.Unlock()

	d := NewDispatcher()
	d.Configure(server.URL, "", nil)

	d.Send("connection.ready", nil)

	// A failing endpoint gets exactly one attempt; there is no retry.
	if server.count() != 1 {
		t.Fatalf("expected a single attempt, got %d", server.count())
	}
}

func TestDispatcherSendTest(t *testing.T) {
	t.Parallel()
	server := newCaptureServer(t)
	d := NewDispatcher()
	d.Configure(server.URL, "", []string{"*"})

	d.SendTest()

	if server.count() != 1 {
		t.Fatalf("expected one delivery, got %d", server.count())
	}
	if server.last().event != "webhook.test" {
		t.Errorf("expected webhook.test, got %q", server.last().event)
	}
}

func TestMatches(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		allowed []string
		event   string
		want    bool
	}{
		{"wildcard", []string{"*"}, "anything", true},
		{"exact", []string{"message.received"}, "message.received", true},
		{"not listed", []string{"message.received"}, "qr.update", false},
		{"empty list", nil, "message.received", false},
		{"wildcard among others", []string{"qr.update", "*"}, "connection.ready", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := matches(tt.allowed, tt.event); got != tt.want {
				t.Errorf("matches(%v, %q) = %v, want %v", tt.allowed, tt.event, got, tt.want)
			}
		})
	}
}
