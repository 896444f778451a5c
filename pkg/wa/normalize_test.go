package wa

import (
	"strings"
	"testing"
	"time"

	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/wabridge/wabridge/pkg/bus"
)

func newTestPipeline(t *testing.T, embedded bool) (*Pipeline, chan bus.Event) {
	t.Helper()
	eventBus := bus.NewEventBus()
	ch := eventBus.Subscribe()
	t.Cleanup(func() { eventBus.Unsubscribe(ch) })
	return NewPipeline(eventBus, nil, embedded), ch
}

func liveMessage(msg *waE2E.Message, chat types.JID, fromMe bool) *events.Message {
	return &events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{
				Chat:     chat,
				Sender:   chat,
				IsFromMe: fromMe,
			},
			ID:       "ABCDEF123456",
			PushName: "Test Sender",
		},
		Message: msg,
	}
}

func userChat(number string) types.JID {
	return types.NewJID(number, types.DefaultUserServer)
}

func receiveMessage(t *testing.T, ch chan bus.Event) bus.CanonicalMessage {
	t.Helper()
	select {
	case evt := <-ch:
		if evt.Name != bus.EventMessageReceived || evt.Message == nil {
			t.Fatalf("expected message.received, got %s", evt.Name)
		}
		return *evt.Message
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a message event")
		return bus.CanonicalMessage{}
	}
}

func expectNoMessage(t *testing.T, ch chan bus.Event) {
	t.Helper()
	select {
	case evt := <-ch:
		t.Fatalf("expected no event, got %s", evt.Name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleBatchIgnoresNonLive(t *testing.T) {
	t.Parallel()
	p, ch := newTestPipeline(t, false)

	msg := liveMessage(&waE2E.Message{Conversation: proto.String("hello")}, userChat("5215512345678"), false)
	p.HandleBatch(RawBatch{Live: false, Messages: []*events.Message{msg}})

	expectNoMessage(t, ch)
}

func TestHandleBatchFirstMessageOnly(t *testing.T) {
	t.Parallel()
	p, ch := newTestPipeline(t, false)

	first := liveMessage(&waE2E.Message{Conversation: proto.String("first")}, userChat("5215512345678"), false)
	second := liveMessage(&waE2E.Message{Conversation: proto.String("second")}, userChat("5215512345678"), false)
	p.HandleBatch(RawBatch{Live: true, Messages: []*events.Message{first, second}})

	got := receiveMessage(t, ch)
	if got.Body != "first" {
		t.Errorf("expected body %q, got %q", "first", got.Body)
	}
	expectNoMessage(t, ch)
}

func TestNormalizeDropRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		evt  *events.Message
	}{
		{
			name: "status broadcast",
			evt: liveMessage(
				&waE2E.Message{Conversation: proto.String("status update")},
				types.JID{User: "status", Server: "broadcast"},
				false,
			),
		},
		{
			name: "self originated",
			evt: liveMessage(
				&waE2E.Message{Conversation: proto.String("note to self")},
				userChat("5215512345678"),
				true,
			),
		},
		{
			name: "poll vote envelope",
			evt: liveMessage(
				&waE2E.Message{PollUpdateMessage: &waE2E.PollUpdateMessage{}},
				userChat("5215512345678"),
				false,
			),
		},
		{
			name: "non numeric sender",
			evt: liveMessage(
				&waE2E.Message{Conversation: proto.String("hi")},
				userChat("not-a-number"),
				false,
			),
		},
		{
			name: "sender too short",
			evt: liveMessage(
				&waE2E.Message{Conversation: proto.String("hi")},
				userChat("123"),
				false,
			),
		},
		{
			name: "nil payload",
			evt:  liveMessage(nil, userChat("5215512345678"), false),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ch := newTestPipeline(t, false)
			p.HandleBatch(RawBatch{Live: true, Messages: []*events.Message{tt.evt}})
			expectNoMessage(t, ch)
		})
	}
}

func TestNormalizeTextBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  *waE2E.Message
		want string
	}{
		{
			name: "conversation",
			msg:  &waE2E.Message{Conversation: proto.String("hello")},
			want: "hello",
		},
		{
			name: "extended text preferred",
			msg: &waE2E.Message{
				Conversation: proto.String("plain"),
				ExtendedTextMessage: &waE2E.ExtendedTextMessage{
					Text: proto.String("extended"),
				},
			},
			want: "extended",
		},
		{
			name: "no text yields empty body",
			msg:  &waE2E.Message{},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ch := newTestPipeline(t, false)
			p.HandleBatch(RawBatch{Live: true, Messages: []*events.Message{
				liveMessage(tt.msg, userChat("5215512345678"), false),
			}})

			got := receiveMessage(t, ch)
			if got.Body != tt.want {
				t.Errorf("expected body %q, got %q", tt.want, got.Body)
			}
			if got.Kind != bus.KindText {
				t.Errorf("expected kind text, got %s", got.Kind)
			}
		})
	}
}

func TestNormalizeClassification(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		msg        *waE2E.Message
		wantKind   bus.MessageKind
		wantMarker string
	}{
		{
			name: "location with both coordinates",
			msg: &waE2E.Message{
				LocationMessage: &waE2E.LocationMessage{
					DegreesLatitude:  proto.Float64(19.43),
					DegreesLongitude: proto.Float64(-99.13),
				},
			},
			wantKind:   bus.KindLocation,
			wantMarker: markerLocation,
		},
		{
			name: "image",
			msg: &waE2E.Message{
				ImageMessage: &waE2E.ImageMessage{},
			},
			wantKind:   bus.KindImage,
			wantMarker: markerMedia,
		},
		{
			name: "document",
			msg: &waE2E.Message{
				DocumentMessage: &waE2E.DocumentMessage{},
			},
			wantKind:   bus.KindFile,
			wantMarker: markerDocument,
		},
		{
			name: "audio",
			msg: &waE2E.Message{
				AudioMessage: &waE2E.AudioMessage{},
			},
			wantKind:   bus.KindVoice,
			wantMarker: markerVoiceNote,
		},
		{
			// Every predicate runs; the later match in the fixed order
			// takes precedence.
			name: "document beats image",
			msg: &waE2E.Message{
				ImageMessage:    &waE2E.ImageMessage{},
				DocumentMessage: &waE2E.DocumentMessage{},
			},
			wantKind:   bus.KindFile,
			wantMarker: markerDocument,
		},
		{
			name: "audio beats location",
			msg: &waE2E.Message{
				LocationMessage: &waE2E.LocationMessage{
					DegreesLatitude:  proto.Float64(1),
					DegreesLongitude: proto.Float64(2),
				},
				AudioMessage: &waE2E.AudioMessage{},
			},
			wantKind:   bus.KindVoice,
			wantMarker: markerVoiceNote,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ch := newTestPipeline(t, false)
			p.HandleBatch(RawBatch{Live: true, Messages: []*events.Message{
				liveMessage(tt.msg, userChat("5215512345678"), false),
			}})

			got := receiveMessage(t, ch)
			if got.Kind != tt.wantKind {
				t.Errorf("expected kind %s, got %s", tt.wantKind, got.Kind)
			}
			if !strings.HasPrefix(got.Body, tt.wantMarker) {
				t.Errorf("expected body prefixed with %q, got %q", tt.wantMarker, got.Body)
			}
			if got.Body == tt.wantMarker {
				t.Error("expected marker to carry a unique suffix")
			}
		})
	}
}

func TestNormalizeLocationRequiresBothCoordinates(t *testing.T) {
	t.Parallel()
	p, ch := newTestPipeline(t, false)

	msg := &waE2E.Message{
		Conversation: proto.String("where"),
		LocationMessage: &waE2E.LocationMessage{
			DegreesLatitude: proto.Float64(19.43),
		},
	}
	p.HandleBatch(RawBatch{Live: true, Messages: []*events.Message{
		liveMessage(msg, userChat("5215512345678"), false),
	}})

	got := receiveMessage(t, ch)
	if got.Kind != bus.KindText {
		t.Errorf("expected kind text, got %s", got.Kind)
	}
	if got.Body != "where" {
		t.Errorf("expected body %q, got %q", "where", got.Body)
	}
}

func TestNormalizeInteractiveOverrides(t *testing.T) {
	t.Parallel()

	t.Run("button response overrides media marker", func(t *testing.T) {
		p, ch := newTestPipeline(t, false)

		msg := &waE2E.Message{
			ImageMessage: &waE2E.ImageMessage{},
			ButtonsResponseMessage: &waE2E.ButtonsResponseMessage{
				Response: &waE2E.ButtonsResponseMessage_SelectedDisplayText{
					SelectedDisplayText: "Option A",
				},
			},
		}
		p.HandleBatch(RawBatch{Live: true, Messages: []*events.Message{
			liveMessage(msg, userChat("5215512345678"), false),
		}})

		got := receiveMessage(t, ch)
		if got.Kind != bus.KindImage {
			t.Errorf("expected kind image to survive the override, got %s", got.Kind)
		}
		if got.Body != "Option A" {
			t.Errorf("expected body %q, got %q", "Option A", got.Body)
		}
	})

	t.Run("list response overrides body", func(t *testing.T) {
		p, ch := newTestPipeline(t, false)

		msg := &waE2E.Message{
			Conversation: proto.String("ignored"),
			ListResponseMessage: &waE2E.ListResponseMessage{
				Title: proto.String("Second choice"),
			},
		}
		p.HandleBatch(RawBatch{Live: true, Messages: []*events.Message{
			liveMessage(msg, userChat("5215512345678"), false),
		}})

		got := receiveMessage(t, ch)
		if got.Body != "Second choice" {
			t.Errorf("expected body %q, got %q", "Second choice", got.Body)
		}
	})
}

func TestFormatJID(t *testing.T) {
	t.Parallel()

	user := userChat("5215512345678")
	group := types.NewJID("1234567890-group", types.GroupServer)

	tests := []struct {
		name     string
		embedded bool
		jid      types.JID
		want     string
	}{
		{"standalone user chat", false, user, "5215512345678"},
		{"embedded user chat", true, user, user.String()},
		{"standalone group", false, group, group.String()},
		{"embedded group", true, group, group.String()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestPipeline(t, tt.embedded)
			if got := p.formatJID(tt.jid); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestHandlePollUpdateEmptyLookup(t *testing.T) {
	t.Parallel()
	p, ch := newTestPipeline(t, false)

	evt := liveMessage(&waE2E.Message{
		PollUpdateMessage: &waE2E.PollUpdateMessage{
			PollCreationMessageKey: &waCommon.MessageKey{
				ID: proto.String("POLL123"),
			},
		},
	}, userChat("5215512345678"), false)

	p.HandlePollUpdate(evt)

	got := receiveMessage(t, ch)
	if got.Kind != bus.KindPoll {
		t.Errorf("expected kind poll, got %s", got.Kind)
	}
	if got.Body != "" {
		t.Errorf("expected empty body from the empty lookup, got %q", got.Body)
	}
}

type fixedPollLookup struct {
	options []PollOption
}

func (f fixedPollLookup) LookupPoll(chatJID, messageID string) []PollOption {
	return f.options
}

func TestHandlePollUpdateVotedOption(t *testing.T) {
	t.Parallel()

	eventBus := bus.NewEventBus()
	ch := eventBus.Subscribe()
	defer eventBus.Unsubscribe(ch)

	p := NewPipeline(eventBus, fixedPollLookup{options: []PollOption{
		{Name: "Skipped", Voters: 0},
		{Name: "First", Voters: 1},
		{Name: "Second", Voters: 2},
	}}, false)

	evt := liveMessage(&waE2E.Message{
		PollUpdateMessage: &waE2E.PollUpdateMessage{},
	}, userChat("5215512345678"), false)
	p.HandlePollUpdate(evt)

	// The first voted option resolves the body, even when a later option
	// holds more votes.
	got := receiveMessage(t, ch)
	if got.Body != "First" {
		t.Errorf("expected first voted option %q, got %q", "First", got.Body)
	}
}

func TestValidSenderJID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		jid  types.JID
		want bool
	}{
		{"valid user", userChat("5215512345678"), true},
		{"group", types.NewJID("12345-67890", types.GroupServer), true},
		{"letters", userChat("abc1234567"), false},
		{"too short", userChat("1234"), false},
		{"broadcast server", types.JID{User: "status", Server: "broadcast"}, false},
		{"empty group user", types.JID{Server: types.GroupServer}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := validSenderJID(tt.jid); got != tt.want {
				t.Errorf("validSenderJID(%s) = %v, want %v", tt.jid, got, tt.want)
			}
		})
	}
}
