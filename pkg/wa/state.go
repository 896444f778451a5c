package wa

import "time"

// Identity describes the authenticated bot account, populated after the
// first successful connect and cleared on manual logout.
type Identity struct {
	JID       string `json:"jid"`
	Name      string `json:"name,omitempty"`
	Phone     string `json:"phone,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

// ConnectionState is the operator-visible lifecycle snapshot. It is owned by
// the Manager; everything outside reads copies through Manager.State().
type ConnectionState struct {
	Connected          bool      `json:"connected"`
	QRCode             string    `json:"qr_code,omitempty"`
	QRIssuedAt         time.Time `json:"qr_issued_at,omitzero"`
	PairingCode        string    `json:"pairing_code,omitempty"`
	PairingIssuedAt    time.Time `json:"pairing_issued_at,omitzero"`
	PendingPhoneNumber string    `json:"pending_phone_number,omitempty"`
	Identity           *Identity `json:"identity,omitempty"`
}

func (s ConnectionState) clone() ConnectionState {
	out := s
	if s.Identity != nil {
		id := *s.Identity
		out.Identity = &id
	}
	return out
}
