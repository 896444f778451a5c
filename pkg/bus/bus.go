package bus

import (
	"sync"
	"time"
)

// EventBus fans lifecycle and message events out to subscribers. Delivery to
// each observer is non-blocking: a subscriber that stops draining its channel
// loses events instead of stalling the producers.
type EventBus struct {
	observers []chan Event
	mu        sync.RWMutex
}

func NewEventBus() *EventBus {
	return &EventBus{
		observers: make([]chan Event, 0),
	}
}

// Subscribe returns a channel that receives copies of all bus events.
func (eb *EventBus) Subscribe() chan Event {
	ch := make(chan Event, 100)
	eb.mu.Lock()
	eb.observers = append(eb.observers, ch)
	eb.mu.Unlock()
	return ch
}

// Unsubscribe removes an observer channel and closes it.
func (eb *EventBus) Unsubscribe(ch chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, obs := range eb.observers {
		if obs == ch {
			eb.observers = append(eb.observers[:i], eb.observers[i+1:]...)
			close(ch)
			return
		}
	}
}

func (eb *EventBus) publish(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	for _, obs := range eb.observers {
		select {
		case obs <- event:
		default:
			// Non-blocking: skip slow observers
		}
	}
}

func (eb *EventBus) PublishQR(qr QRUpdate) {
	eb.publish(Event{Name: EventQRUpdate, QR: &qr})
}

func (eb *EventBus) PublishPairingCode(code PairingCode) {
	eb.publish(Event{Name: EventPairingCode, Pairing: &code})
}

func (eb *EventBus) PublishReady(ready ConnectionReady) {
	eb.publish(Event{Name: EventConnectionReady, Ready: &ready})
}

func (eb *EventBus) PublishAuthFailure(failure AuthFailure) {
	eb.publish(Event{Name: EventAuthFailure, Failure: &failure})
}

func (eb *EventBus) PublishMessage(msg CanonicalMessage) {
	eb.publish(Event{Name: EventMessageReceived, Message: &msg})
}

func (eb *EventBus) PublishConnectionUpdate(update ConnectionUpdate) {
	eb.publish(Event{Name: EventConnectionUpdate, Update: &update})
}
