package bus

import (
	"testing"
	"time"
)

func receive(t *testing.T, ch chan Event) Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestSubscribeReceivesPublishedEvents(t *testing.T) {
	t.Parallel()
	eb := NewEventBus()
	ch := eb.Subscribe()
	defer eb.Unsubscribe(ch)

	eb.PublishReady(ConnectionReady{JID: "123@s.whatsapp.net", Name: "Bot"})

	evt := receive(t, ch)
	if evt.Name != EventConnectionReady {
		t.Errorf("expected %s, got %s", EventConnectionReady, evt.Name)
	}
	if evt.Ready == nil || evt.Ready.JID != "123@s.whatsapp.net" {
		t.Error("ready payload not carried")
	}
	if evt.Time.IsZero() {
		t.Error("expected a publish timestamp")
	}
	if evt.QR != nil || evt.Message != nil || evt.Update != nil {
		t.Error("unrelated payload pointers must stay nil")
	}
}

func TestAllObserversReceiveEachEvent(t *testing.T) {
	t.Parallel()
	eb := NewEventBus()
	first := eb.Subscribe()
	second := eb.Subscribe()
	defer eb.Unsubscribe(first)
	defer eb.Unsubscribe(second)

	eb.PublishQR(QRUpdate{Code: "qr-data"})

	for _, ch := range []chan Event{first, second} {
		evt := receive(t, ch)
		if evt.Name != EventQRUpdate || evt.QR.Code != "qr-data" {
			t.Errorf("observer missed the QR event: %+v", evt)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	t.Parallel()
	eb := NewEventBus()
	ch := eb.Subscribe()

	eb.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("expected channel closed after unsubscribe")
	}

	// Publishing after unsubscribe must not panic on the closed channel.
	eb.PublishAuthFailure(AuthFailure{Reason: "x"})
}

func TestPublishDoesNotBlockOnFullObserver(t *testing.T) {
	t.Parallel()
	eb := NewEventBus()
	full := eb.Subscribe()
	defer eb.Unsubscribe(full)

	for i := 0; i < cap(full)+10; i++ {
		eb.PublishMessage(CanonicalMessage{Body: "flood"})
	}

	live := eb.Subscribe()
	defer eb.Unsubscribe(live)
	eb.PublishConnectionUpdate(ConnectionUpdate{Reason: "manual_logout"})

	evt := receive(t, live)
	if evt.Name != EventConnectionUpdate || evt.Update.Reason != "manual_logout" {
		t.Errorf("fresh observer missed the event: %+v", evt)
	}
}

func TestPublishPreservesExplicitKinds(t *testing.T) {
	t.Parallel()
	eb := NewEventBus()
	ch := eb.Subscribe()
	defer eb.Unsubscribe(ch)

	eb.PublishMessage(CanonicalMessage{
		From:    "5215512345678",
		Body:    "hola",
		Kind:    KindText,
		IsGroup: false,
	})

	evt := receive(t, ch)
	if evt.Message == nil {
		t.Fatal("message payload missing")
	}
	if evt.Message.Kind != KindText || evt.Message.From != "5215512345678" {
		t.Errorf("message payload mangled: %+v", evt.Message)
	}
}
