package bus

import "time"

// Event names form the closed set of lifecycle and message notifications
// flowing from the connection manager and the normalization pipeline to
// subscribers (webhook dispatcher, websocket hub, message log).
const (
	EventQRUpdate         = "qr.update"
	EventPairingCode      = "pairing.code"
	EventConnectionReady  = "connection.ready"
	EventAuthFailure      = "auth.failure"
	EventMessageReceived  = "message.received"
	EventConnectionUpdate = "connection.update"
)

// MessageKind classifies a normalized inbound message. Exactly one kind per
// message.
type MessageKind string

const (
	KindText     MessageKind = "text"
	KindImage    MessageKind = "image"
	KindFile     MessageKind = "file"
	KindVoice    MessageKind = "voice"
	KindLocation MessageKind = "location"
	KindPoll     MessageKind = "poll"
)

// CanonicalMessage is the normalized representation of one accepted inbound
// protocol message. Raw keeps an opaque reference to the original event so
// send operations can quote or forward it; nothing downstream interprets it.
type CanonicalMessage struct {
	From      string      `json:"from"`
	Body      string      `json:"body"`
	Kind      MessageKind `json:"kind"`
	MessageID string      `json:"message_id,omitempty"`
	PushName  string      `json:"push_name,omitempty"`
	IsGroup   bool        `json:"is_group"`
	Raw       interface{} `json:"-"`
}

type QRUpdate struct {
	Code     string    `json:"code"`
	IssuedAt time.Time `json:"issued_at"`
}

type PairingCode struct {
	Code     string    `json:"code"`
	IssuedAt time.Time `json:"issued_at"`
}

type ConnectionReady struct {
	JID   string `json:"jid"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type AuthFailure struct {
	Reason string `json:"reason"`
}

// ConnectionUpdate carries operator-visible state changes outside the
// automatic lifecycle, currently only manual logout.
type ConnectionUpdate struct {
	Reason string `json:"reason"`
}

// Event is one tagged bus notification. Name selects which payload pointer
// is set; all others are nil.
type Event struct {
	Name    string            `json:"event"`
	Time    time.Time         `json:"time"`
	QR      *QRUpdate         `json:"qr,omitempty"`
	Pairing *PairingCode      `json:"pairing,omitempty"`
	Ready   *ConnectionReady  `json:"ready,omitempty"`
	Failure *AuthFailure      `json:"failure,omitempty"`
	Message *CanonicalMessage `json:"message,omitempty"`
	Update  *ConnectionUpdate `json:"update,omitempty"`
}
