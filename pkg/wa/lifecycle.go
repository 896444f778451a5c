package wa

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/wabridge/wabridge/pkg/bus"
	"github.com/wabridge/wabridge/pkg/logger"
)

// Authentication modes.
const (
	ModeQR      = "qr"
	ModePairing = "pairing"
)

const (
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// Manager owns the session lifecycle: credential loading, transport
// construction, authentication, reconnection, and teardown. All state
// transitions are published on the event bus; nothing else in the process
// mutates connection state.
type Manager struct {
	creds    CredentialSource
	factory  TransportFactory
	bus      *bus.EventBus
	pipeline *Pipeline

	mode        string
	phoneNumber string
	displayQR   bool

	mu         sync.Mutex
	generation uint64
	transport  Transport
	handlerID  uint32
	state      ConnectionState
	attached   bool
	backoff    time.Duration
	stopped    bool

	runCtx context.Context
	cancel context.CancelFunc
}

// ManagerOptions carries the static configuration for a Manager.
type ManagerOptions struct {
	Mode        string
	PhoneNumber string
	// DisplayQR also renders QR codes on the terminal in addition to
	// publishing them on the bus.
	DisplayQR bool
}

func NewManager(creds CredentialSource, factory TransportFactory, eventBus *bus.EventBus, pipeline *Pipeline, opts ManagerOptions) *Manager {
	mode := opts.Mode
	if mode == "" {
		mode = ModeQR
	}
	return &Manager{
		creds:       creds,
		factory:     factory,
		bus:         eventBus,
		pipeline:    pipeline,
		mode:        mode,
		phoneNumber: opts.PhoneNumber,
		displayQR:   opts.DisplayQR,
		backoff:     initialBackoff,
	}
}

// Start brings the session up for the first time. It returns once the
// transport is connecting; authentication progress is reported on the bus.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.runCtx != nil {
		m.mu.Unlock()
		return fmt.Errorf("session manager already started")
	}
	m.runCtx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	return m.initSession(m.runCtx)
}

// Stop tears the session down without destroying credentials.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopped = true
	m.generation++
	if m.cancel != nil {
		m.cancel()
	}
	m.detachLocked()
	m.state = ConnectionState{}
	logger.InfoC("wa", "Session manager stopped")
}

// State returns a snapshot of the current connection state.
func (m *Manager) State() ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Transport returns the live transport, or nil when no session is
// initialized. Callers must treat nil as not connected.
func (m *Manager) Transport() Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transport
}

// ---------------------------------------------------------------------------
// Initialization
// ---------------------------------------------------------------------------

// initSession loads credentials, builds a fresh transport, and starts the
// authentication flow appropriate for the configured mode. Each call bumps
// the generation counter so that callbacks from a superseded transport are
// discarded.
func (m *Manager) initSession(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return fmt.Errorf("session manager is stopped")
	}
	m.generation++
	gen := m.generation
	m.detachLocked()
	m.mu.Unlock()

	logger.InfoCF("wa", "Initializing session", map[string]interface{}{
		"mode":       m.mode,
		"generation": gen,
	})

	device, err := m.creds.Load(ctx)
	if err != nil {
		m.bus.PublishAuthFailure(bus.AuthFailure{Reason: err.Error()})
		return fmt.Errorf("failed to load credentials: %w", err)
	}

	t, err := m.factory(device)
	if err != nil {
		m.bus.PublishAuthFailure(bus.AuthFailure{Reason: err.Error()})
		return fmt.Errorf("failed to build transport: %w", err)
	}

	handlerID := t.AddEventHandler(func(evt interface{}) {
		m.handleTransportEvent(gen, evt)
	})

	m.mu.Lock()
	if gen != m.generation {
		// A newer init superseded this one while we were loading.
		m.mu.Unlock()
		t.RemoveEventHandler(handlerID)
		t.Disconnect()
		return nil
	}
	m.transport = t
	m.handlerID = handlerID
	m.mu.Unlock()

	if t.StoreID() != nil {
		logger.InfoCF("wa", "Resuming existing session", map[string]interface{}{
			"device_id": t.StoreID().String(),
		})
		if err := t.Connect(); err != nil {
			m.bus.PublishAuthFailure(bus.AuthFailure{Reason: err.Error()})
			return fmt.Errorf("failed to connect: %w", err)
		}
		return nil
	}

	switch m.mode {
	case ModePairing:
		return m.startPairing(ctx, gen, t)
	default:
		return m.startQRLogin(ctx, gen, t)
	}
}

// startQRLogin begins the QR authentication flow. Codes are published on the
// bus as they rotate; a timeout schedules a fresh init so new codes keep
// flowing until someone scans one.
func (m *Manager) startQRLogin(ctx context.Context, gen uint64, t Transport) error {
	qrChan, err := t.GetQRChannel(ctx)
	if err != nil {
		m.bus.PublishAuthFailure(bus.AuthFailure{Reason: err.Error()})
		return ErrNoQRChallenge
	}
	if err := t.Connect(); err != nil {
		m.bus.PublishAuthFailure(bus.AuthFailure{Reason: err.Error()})
		return fmt.Errorf("failed to connect for QR login: %w", err)
	}

	go m.consumeQR(ctx, gen, qrChan)
	return nil
}

func (m *Manager) consumeQR(ctx context.Context, gen uint64, qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		if m.staleGeneration(gen) {
			return
		}

		switch evt.Event {
		case "code":
			issued := time.Now()
			m.mu.Lock()
			m.state.QRCode = evt.Code
			m.state.QRIssuedAt = issued
			m.mu.Unlock()

			m.bus.PublishQR(bus.QRUpdate{Code: evt.Code, IssuedAt: issued})
			if m.displayQR {
				fmt.Println("\n--- Scan this QR code with WhatsApp (Linked Devices) ---")
				qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, os.Stdout)
			}
			logger.InfoC("wa", "New QR code issued")

		case "success":
			logger.InfoC("wa", "QR code scanned, pairing complete")
			return

		case "timeout":
			logger.WarnC("wa", "QR login timed out, restarting session")
			m.scheduleReinit(ctx, gen, 0)
			return

		case "error":
			logger.ErrorC("wa", "QR login failed, restarting session")
			m.scheduleReinit(ctx, gen, initialBackoff)
			return
		}
	}
}

// startPairing begins the phone-number pairing flow. A missing phone number
// is an authentication failure, not a fatal error: it is reported on the bus
// so API consumers can supply one and retry.
func (m *Manager) startPairing(ctx context.Context, gen uint64, t Transport) error {
	if m.phoneNumber == "" {
		logger.WarnC("wa", "Pairing mode requested without a phone number")
		m.bus.PublishAuthFailure(bus.AuthFailure{Reason: ErrMissingPhoneNumber.Error()})
		return ErrMissingPhoneNumber
	}

	if err := t.Connect(); err != nil {
		m.bus.PublishAuthFailure(bus.AuthFailure{Reason: err.Error()})
		return fmt.Errorf("failed to connect for pairing: %w", err)
	}

	code, err := t.PairPhone(ctx, m.phoneNumber)
	if err != nil {
		m.bus.PublishAuthFailure(bus.AuthFailure{Reason: err.Error()})
		return fmt.Errorf("failed to request pairing code: %w", err)
	}

	issued := time.Now()
	m.mu.Lock()
	if gen == m.generation {
		m.state.PairingCode = code
		m.state.PairingIssuedAt = issued
		m.state.PendingPhoneNumber = m.phoneNumber
	}
	m.mu.Unlock()

	m.bus.PublishPairingCode(bus.PairingCode{Code: code, IssuedAt: issued})
	logger.InfoCF("wa", "Pairing code issued", map[string]interface{}{
		"phone": m.phoneNumber,
	})
	return nil
}

// ---------------------------------------------------------------------------
// Transport events
// ---------------------------------------------------------------------------

func (m *Manager) handleTransportEvent(gen uint64, evt interface{}) {
	if m.staleGeneration(gen) {
		return
	}

	switch v := evt.(type) {
	case *events.Connected:
		m.onConnected()

	case *events.Disconnected:
		logger.WarnC("wa", "Connection closed by server")
		m.onClosed(gen, false, "")

	case *events.LoggedOut:
		logger.ErrorCF("wa", "Session logged out remotely", map[string]interface{}{
			"reason": fmt.Sprintf("%v", v.Reason),
		})
		m.onClosed(gen, true, fmt.Sprintf("%v", v.Reason))

	case *events.Message:
		m.mu.Lock()
		attached := m.attached
		m.mu.Unlock()
		if !attached || m.pipeline == nil {
			return
		}
		if v.Message.GetPollUpdateMessage() != nil {
			m.pipeline.HandlePollUpdate(v)
			return
		}
		m.pipeline.HandleBatch(RawBatch{Live: true, Messages: []*events.Message{v}})

	case *events.HistorySync:
		// Only real-time traffic is normalized.
	}
}

// onConnected records the authenticated identity and announces readiness.
// The normalization pipeline is attached on the first successful connection
// so that no message precedes the ready event.
func (m *Manager) onConnected() {
	m.mu.Lock()
	t := m.transport
	if t == nil {
		m.mu.Unlock()
		return
	}

	identity := &Identity{Name: t.PushName()}
	if id := t.StoreID(); id != nil {
		identity.JID = id.String()
		identity.Phone = id.User
	}

	m.state = ConnectionState{
		Connected: true,
		Identity:  identity,
	}
	m.attached = true
	m.backoff = initialBackoff
	m.mu.Unlock()

	logger.InfoCF("wa", "Session ready", map[string]interface{}{
		"jid":  identity.JID,
		"name": identity.Name,
	})
	m.bus.PublishReady(bus.ConnectionReady{
		JID:   identity.JID,
		Name:  identity.Name,
		Phone: identity.Phone,
	})
}

// onClosed handles an unsolicited connection close. A remote logout wipes the
// stored credentials before restarting so the next init begins a fresh
// authentication; any other close reconnects with the surviving session.
func (m *Manager) onClosed(gen uint64, loggedOut bool, reason string) {
	m.mu.Lock()
	if m.stopped || gen != m.generation {
		m.mu.Unlock()
		return
	}
	m.state.Connected = false
	m.state.Identity = nil
	delay := m.backoff
	m.backoff *= 2
	if m.backoff > maxBackoff {
		m.backoff = maxBackoff
	}
	ctx := m.runCtx
	var device *store.Device
	if m.transport != nil {
		device = m.transport.Device()
	}
	m.mu.Unlock()

	if loggedOut {
		if err := m.creds.Wipe(context.Background(), device); err != nil {
			logger.ErrorCF("wa", "Failed to wipe credentials after logout", map[string]interface{}{
				"error": err.Error(),
			})
		}
		m.scheduleReinit(ctx, gen, 0)
		return
	}

	logger.WarnCF("wa", "Reconnecting", map[string]interface{}{
		"backoff": delay.String(),
	})
	m.scheduleReinit(ctx, gen, delay)
}

// scheduleReinit restarts the session after the given delay unless a newer
// generation has already taken over.
func (m *Manager) scheduleReinit(ctx context.Context, gen uint64, delay time.Duration) {
	go func() {
		if delay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
		if m.staleGeneration(gen) {
			return
		}
		if err := m.initSession(ctx); err != nil {
			logger.ErrorCF("wa", "Session restart failed", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()
}

func (m *Manager) staleGeneration(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped || gen != m.generation
}

// detachLocked removes the handler from the current transport and disconnects
// it. Callers must hold m.mu.
func (m *Manager) detachLocked() {
	if m.transport != nil {
		m.transport.RemoveEventHandler(m.handlerID)
		m.transport.Disconnect()
		m.transport = nil
		m.handlerID = 0
	}
	m.attached = false
}

// ---------------------------------------------------------------------------
// Manual operations
// ---------------------------------------------------------------------------

// Logout terminates the session on request. The remote logout is best effort;
// local state is cleared regardless and a connection.update event is
// published. The session stays down until Reconnect is called.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	m.generation++
	t := m.transport
	m.transport = nil
	m.handlerID = 0
	m.attached = false
	m.state = ConnectionState{}
	m.mu.Unlock()

	if t == nil {
		return ErrNotConnected
	}

	if err := t.Logout(ctx); err != nil {
		logger.WarnCF("wa", "Remote logout failed, clearing local session anyway", map[string]interface{}{
			"error": err.Error(),
		})
	}
	t.Disconnect()

	m.bus.PublishConnectionUpdate(bus.ConnectionUpdate{Reason: "manual_logout"})
	logger.InfoC("wa", "Logged out")
	return nil
}

// Disconnect closes the transport without destroying credentials.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.transport == nil {
		return ErrNotConnected
	}
	m.generation++
	m.detachLocked()
	m.state.Connected = false
	m.state.Identity = nil
	logger.InfoC("wa", "Disconnected")
	return nil
}

// Reconnect forces a fresh session initialization, optionally switching the
// authentication mode and phone number first.
func (m *Manager) Reconnect(ctx context.Context, mode, phoneNumber string) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return fmt.Errorf("session manager is stopped")
	}
	if mode != "" {
		m.mode = mode
	}
	if phoneNumber != "" {
		m.phoneNumber = phoneNumber
	}
	m.state = ConnectionState{}
	runCtx := m.runCtx
	m.mu.Unlock()

	if runCtx == nil {
		return fmt.Errorf("session manager not started")
	}
	return m.initSession(runCtx)
}

// RequestPairingCode switches to pairing mode with the given phone number
// and restarts authentication.
func (m *Manager) RequestPairingCode(ctx context.Context, phoneNumber string) error {
	if phoneNumber == "" {
		m.bus.PublishAuthFailure(bus.AuthFailure{Reason: ErrMissingPhoneNumber.Error()})
		return ErrMissingPhoneNumber
	}
	return m.Reconnect(ctx, ModePairing, phoneNumber)
}
