package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/wabridge/wabridge/pkg/bus"
	"github.com/wabridge/wabridge/pkg/logger"
	"github.com/wabridge/wabridge/pkg/storage/repository"
)

// Recorder subscribes to the event bus and appends every normalized inbound
// message to the message log. Persistence failures are logged and dropped;
// the log is an observability aid, not part of delivery.
type Recorder struct {
	store Storage
}

func NewRecorder(store Storage) *Recorder {
	return &Recorder{store: store}
}

// Run consumes bus events until the context is canceled.
func (r *Recorder) Run(ctx context.Context, eventBus *bus.EventBus) {
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
			if evt.Name != bus.EventMessageReceived || evt.Message == nil {
				continue
			}
			r.record(ctx, evt)
		}
	}
}

func (r *Recorder) record(ctx context.Context, evt bus.Event) {
	msg := evt.Message
	rec := &repository.MessageRecord{
		ID:         uuid.NewString(),
		ChatJID:    msg.From,
		MessageID:  msg.MessageID,
		PushName:   msg.PushName,
		Kind:       string(msg.Kind),
		Body:       msg.Body,
		IsGroup:    msg.IsGroup,
		ReceivedAt: evt.Time,
	}

	if err := r.store.Messages().Append(ctx, rec); err != nil {
		logger.WarnCF("storage", "Failed to record message", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
