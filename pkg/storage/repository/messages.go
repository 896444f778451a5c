package repository

import (
	"context"
	"time"
)

// MessageRecord is one normalized inbound message as persisted in the
// message log.
type MessageRecord struct {
	ID         string    `json:"id"`
	ChatJID    string    `json:"chat_jid"`
	MessageID  string    `json:"message_id"`
	PushName   string    `json:"push_name,omitempty"`
	Kind       string    `json:"kind"`
	Body       string    `json:"body"`
	IsGroup    bool      `json:"is_group"`
	ReceivedAt time.Time `json:"received_at"`
}

// ListOptions filters message log queries. Zero values mean no filter;
// Limit <= 0 falls back to a backend default.
type ListOptions struct {
	Chat  string
	Kind  string
	Limit int
}

// MessageRepository defines the interface for message log persistence.
type MessageRepository interface {
	// Append stores one record. The caller assigns the ID.
	Append(ctx context.Context, rec *MessageRecord) error

	// List returns matching records, newest first.
	List(ctx context.Context, opts ListOptions) ([]MessageRecord, error)

	// CountSince returns the number of records received at or after the
	// given instant.
	CountSince(ctx context.Context, since time.Time) (int, error)

	// PruneBefore deletes records received before the cutoff and returns
	// how many were removed.
	PruneBefore(ctx context.Context, cutoff time.Time) (int, error)
}
