package wa

import (
	"github.com/google/uuid"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/wabridge/wabridge/pkg/bus"
	"github.com/wabridge/wabridge/pkg/logger"
)

// statusBroadcastJID is the pseudo-address used for status updates. Messages
// addressed from it are never user traffic.
const statusBroadcastJID = "status@broadcast"

// Synthetic body markers for non-text content. Each emitted marker carries a
// unique suffix so downstream consumers can correlate follow-up fetches.
const (
	markerLocation  = "_event_location_"
	markerMedia     = "_event_media_"
	markerDocument  = "_event_document_"
	markerVoiceNote = "_event_voice_note_"
)

// RawBatch is a batch of raw transport messages. Live marks real-time
// notifications; replayed history is delivered with Live unset and ignored.
type RawBatch struct {
	Live     bool
	Messages []*events.Message
}

// PollOption is one choice of a poll with its current voter count.
type PollOption struct {
	Name   string
	Voters int
}

// MessageLookup resolves a previously sent poll creation so vote updates can
// be aggregated against its option labels.
type MessageLookup interface {
	LookupPoll(chatJID, messageID string) []PollOption
}

// emptyPollLookup never finds the original poll, so aggregated poll bodies
// are always empty. Kept as the default until a real message store backs the
// lookup; see DESIGN.md.
type emptyPollLookup struct{}

func (emptyPollLookup) LookupPoll(chatJID, messageID string) []PollOption { return nil }

// Pipeline normalizes raw transport messages into canonical messages and
// publishes them on the event bus.
//
// Classification runs every predicate in a fixed order with no early exit:
// a message matching several predicates takes the kind of the last match.
// Interactive response labels overwrite the body after classification.
type Pipeline struct {
	bus      *bus.EventBus
	lookup   MessageLookup
	embedded bool
}

// NewPipeline builds a pipeline. lookup may be nil, in which case poll
// aggregation uses the empty lookup. embedded controls the shape of the
// final sender formatting pass: embedded consumers receive full JIDs,
// standalone consumers receive bare phone numbers for direct chats.
func NewPipeline(eventBus *bus.EventBus, lookup MessageLookup, embedded bool) *Pipeline {
	if lookup == nil {
		lookup = emptyPollLookup{}
	}
	return &Pipeline{
		bus:      eventBus,
		lookup:   lookup,
		embedded: embedded,
	}
}

// HandleBatch processes one inbound batch. Only the first message of a live
// batch is examined; the rest of the batch is dropped.
func (p *Pipeline) HandleBatch(batch RawBatch) {
	if !batch.Live || len(batch.Messages) == 0 {
		return
	}
	p.normalize(batch.Messages[0])
}

func (p *Pipeline) normalize(evt *events.Message) {
	msg := evt.Message
	if msg == nil {
		return
	}

	// Poll votes are aggregated on the update path, never emitted from here.
	if msg.GetPollUpdateMessage() != nil {
		return
	}

	chat := evt.Info.Chat
	if chat.String() == statusBroadcastJID {
		return
	}
	if evt.Info.IsFromMe {
		return
	}

	body := msg.GetExtendedTextMessage().GetText()
	if body == "" {
		body = msg.GetConversation()
	}
	kind := bus.KindText

	if loc := msg.GetLocationMessage(); loc != nil && loc.DegreesLatitude != nil && loc.DegreesLongitude != nil {
		kind = bus.KindLocation
		body = eventMarker(markerLocation)
	}
	if msg.GetImageMessage() != nil {
		kind = bus.KindImage
		body = eventMarker(markerMedia)
	}
	if msg.GetDocumentMessage() != nil {
		kind = bus.KindFile
		body = eventMarker(markerDocument)
	}
	if msg.GetAudioMessage() != nil {
		kind = bus.KindVoice
		body = eventMarker(markerVoiceNote)
	}

	// Interactive responses carry the selected label as the effective body,
	// even when the message also classified as media.
	if btn := msg.GetButtonsResponseMessage(); btn.GetSelectedDisplayText() != "" {
		body = btn.GetSelectedDisplayText()
	}
	if list := msg.GetListResponseMessage(); list.GetTitle() != "" {
		body = list.GetTitle()
	}

	if !validSenderJID(chat) {
		logger.DebugCF("wa", "Dropping message with invalid sender", map[string]interface{}{
			"chat": chat.String(),
		})
		return
	}

	p.emit(bus.CanonicalMessage{
		From:      p.formatJID(chat),
		Body:      body,
		Kind:      kind,
		MessageID: evt.Info.ID,
		PushName:  evt.Info.PushName,
		IsGroup:   chat.Server == types.GroupServer,
		Raw:       evt,
	})
}

// HandlePollUpdate aggregates a poll-vote delta against the original poll's
// options and emits a canonical poll message whose body is the label of the
// first option that currently has at least one voter.
func (p *Pipeline) HandlePollUpdate(evt *events.Message) {
	msg := evt.Message
	if msg == nil || msg.GetPollUpdateMessage() == nil {
		return
	}

	chat := evt.Info.Chat
	if chat.String() == statusBroadcastJID || evt.Info.IsFromMe {
		return
	}
	if !validSenderJID(chat) {
		return
	}

	pollID := msg.GetPollUpdateMessage().GetPollCreationMessageKey().GetID()
	body := ""
	for _, opt := range p.lookup.LookupPoll(chat.String(), pollID) {
		if opt.Voters > 0 {
			body = opt.Name
			break
		}
	}

	p.emit(bus.CanonicalMessage{
		From:      p.formatJID(chat),
		Body:      body,
		Kind:      bus.KindPoll,
		MessageID: evt.Info.ID,
		PushName:  evt.Info.PushName,
		IsGroup:   chat.Server == types.GroupServer,
		Raw:       evt,
	})
}

func (p *Pipeline) emit(msg bus.CanonicalMessage) {
	logger.DebugCF("wa", "Message normalized", map[string]interface{}{
		"from": msg.From,
		"kind": string(msg.Kind),
	})
	p.bus.PublishMessage(msg)
}

// validSenderJID is the validity pass: direct-chat senders must look like a
// phone number, group senders must carry the group server.
func validSenderJID(jid types.JID) bool {
	switch jid.Server {
	case types.GroupServer:
		return jid.User != ""
	case types.DefaultUserServer:
		if len(jid.User) < 5 || len(jid.User) > 20 {
			return false
		}
		for _, r := range jid.User {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// formatJID is the display pass, distinct from the validity pass. Embedded
// consumers address replies by full JID; standalone consumers expect a bare
// phone number for direct chats. Groups always keep the full JID.
func (p *Pipeline) formatJID(jid types.JID) string {
	if p.embedded || jid.Server == types.GroupServer {
		return jid.String()
	}
	return jid.User
}

func eventMarker(prefix string) string {
	return prefix + uuid.NewString()
}
