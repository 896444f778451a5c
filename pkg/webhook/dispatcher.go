package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/wabridge/wabridge/pkg/bus"
	"github.com/wabridge/wabridge/pkg/logger"
)

// Config is the single mutable webhook configuration. It is owned by the
// Dispatcher; readers get copies.
type Config struct {
	URL     string   `json:"url"`
	Secret  string   `json:"-"`
	Events  []string `json:"events"`
	Enabled bool     `json:"enabled"`
}

// envelope is the transmitted payload. The signature is computed over the
// exact bytes produced by marshaling this struct.
type envelope struct {
	Event     string      `json:"event"`
	Timestamp string      `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Dispatcher delivers event notifications to a configured HTTP endpoint.
// Delivery is at-most-once and best effort: a single POST per event, no
// queue, no retry. Failures are logged and dropped.
type Dispatcher struct {
	mu     sync.Mutex
	cfg    *Config
	client *resty.Client
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		client: resty.New().
			SetTimeout(10 * time.Second).
			SetRetryCount(0),
	}
}

// Configure replaces the whole configuration and enables delivery. An empty
// events list subscribes to everything.
func (d *Dispatcher) Configure(url, secret string, events []string) {
	if len(events) == 0 {
		events = []string{"*"}
	}

	d.mu.Lock()
	d.cfg = &Config{
		URL:     url,
		Secret:  secret,
		Events:  events,
		Enabled: true,
	}
	d.mu.Unlock()

	logger.InfoCF("webhook", "Webhook configured", map[string]interface{}{
		"url":    url,
		"events": events,
		"signed": secret != "",
	})
}

// Enable turns delivery back on. Returns false when nothing is configured.
func (d *Dispatcher) Enable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg == nil {
		return false
	}
	d.cfg.Enabled = true
	return true
}

// Disable pauses delivery without discarding the configuration.
func (d *Dispatcher) Disable() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg == nil {
		return false
	}
	d.cfg.Enabled = false
	return true
}

// Status returns a copy of the current configuration, or nil when
// unconfigured. The secret itself is never exposed.
func (d *Dispatcher) Status() *Config {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cfg == nil {
		return nil
	}
	cp := *d.cfg
	cp.Events = append([]string(nil), d.cfg.Events...)
	return &cp
}

// Send delivers one event. It is a no-op when unconfigured, disabled, or the
// event is filtered out.
func (d *Dispatcher) Send(event string, data interface{}) {
	d.mu.Lock()
	if d.cfg == nil || !d.cfg.Enabled || !matches(d.cfg.Events, event) {
		d.mu.Unlock()
		return
	}
	url := d.cfg.URL
	secret := d.cfg.Secret
	d.mu.Unlock()

	body, err := json.Marshal(envelope{
		Event:     event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	})
	if err != nil {
		logger.ErrorCF("webhook", "Failed to encode payload", map[string]interface{}{
			"event": event,
			"error": err.Error(),
		})
		return
	}

	req := d.client.R().
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Webhook-Event", event).
		SetBody(body)

	if secret != "" {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		req.SetHeader("X-Webhook-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := req.Post(url)
	if err != nil {
		logger.WarnCF("webhook", "Delivery failed", map[string]interface{}{
			"event": event,
			"error": err.Error(),
		})
		return
	}
	if resp.IsError() {
		logger.WarnCF("webhook", "Endpoint returned an error", map[string]interface{}{
			"event":  event,
			"status": resp.StatusCode(),
		})
		return
	}

	logger.DebugCF("webhook", "Event delivered", map[string]interface{}{
		"event": event,
	})
}

// SendTest pushes a synthetic event so users can verify their endpoint and
// signature handling.
func (d *Dispatcher) SendTest() {
	d.Send("webhook.test", map[string]interface{}{
		"message": "wabridge webhook test",
	})
}

// Run subscribes to the bus and forwards every published event until the
// context is canceled.
func (d *Dispatcher) Run(ctx context.Context, eventBus *bus.EventBus) {
	events := eventBus.Subscribe()
	defer eventBus.Unsubscribe(events)

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			d.Send(evt.Name, payloadFor(evt))
		}
	}
}

// payloadFor picks the event-specific data struct out of the bus envelope.
func payloadFor(evt bus.Event) interface{} {
	switch evt.Name {
	case bus.EventQRUpdate:
		return evt.QR
	case bus.EventPairingCode:
		return evt.Pairing
	case bus.EventConnectionReady:
		return evt.Ready
	case bus.EventAuthFailure:
		return evt.Failure
	case bus.EventMessageReceived:
		return evt.Message
	case bus.EventConnectionUpdate:
		return evt.Update
	default:
		return nil
	}
}

// matches reports whether the event list allows the event. The wildcard "*"
// allows everything.
func matches(allowed []string, event string) bool {
	for _, e := range allowed {
		if e == "*" || e == event {
			return true
		}
	}
	return false
}
