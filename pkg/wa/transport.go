package wa

import (
	"context"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Transport is the slice of the WhatsApp client surface the rest of the
// package depends on. Tests substitute fakes; production wires a whatsmeow
// client via NewWhatsmeowTransport.
type Transport interface {
	Connect() error
	Disconnect()
	Logout(ctx context.Context) error
	IsConnected() bool
	IsLoggedIn() bool

	AddEventHandler(handler func(evt interface{})) uint32
	RemoveEventHandler(id uint32) bool
	GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error)
	PairPhone(ctx context.Context, phone string) (string, error)

	StoreID() *types.JID
	PushName() string
	Device() *store.Device

	SendMessage(ctx context.Context, to types.JID, message *waE2E.Message) (whatsmeow.SendResponse, error)
	SendChatPresence(ctx context.Context, jid types.JID, state types.ChatPresence, media types.ChatPresenceMedia) error
	Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error)
	BuildPollCreation(name string, optionNames []string, selectableOptionCount int) *waE2E.Message

	GetJoinedGroups(ctx context.Context) ([]*types.GroupInfo, error)
	GetGroupInfo(ctx context.Context, jid types.JID) (*types.GroupInfo, error)
	CreateGroup(ctx context.Context, name string, participants []types.JID) (*types.GroupInfo, error)
	LeaveGroup(ctx context.Context, jid types.JID) error
	UpdateGroupParticipants(ctx context.Context, jid types.JID, participants []types.JID, action whatsmeow.ParticipantChange) ([]types.GroupParticipant, error)
	SetGroupName(ctx context.Context, jid types.JID, name string) error
	SetGroupTopic(ctx context.Context, jid types.JID, topic string) error
	GetGroupInviteLink(ctx context.Context, jid types.JID, revoke bool) (string, error)

	IsOnWhatsApp(ctx context.Context, phones []string) ([]types.IsOnWhatsAppResponse, error)
	GetProfilePictureInfo(ctx context.Context, jid types.JID, params *whatsmeow.GetProfilePictureParams) (*types.ProfilePictureInfo, error)
	UpdateBlocklist(ctx context.Context, jid types.JID, action events.BlocklistChangeAction) (*types.Blocklist, error)
}

// TransportFactory builds a Transport from loaded credential material. The
// Manager calls it on every session (re)initialization.
type TransportFactory func(device *store.Device) (Transport, error)

// whatsmeowTransport adapts a *whatsmeow.Client to the Transport interface.
type whatsmeowTransport struct {
	client *whatsmeow.Client
}

// NewWhatsmeowTransport wraps a fresh whatsmeow client around the given
// device. Automatic reconnection is disabled: connection recovery is owned by
// the session Manager so that state transitions stay observable.
func NewWhatsmeowTransport(device *store.Device) (Transport, error) {
	clientLog := waLog.Stdout("wabridge-wa", "WARN", true)
	client := whatsmeow.NewClient(device, clientLog)
	client.EnableAutoReconnect = false
	return &whatsmeowTransport{client: client}, nil
}

func (t *whatsmeowTransport) Connect() error    { return t.client.Connect() }
func (t *whatsmeowTransport) Disconnect()       { t.client.Disconnect() }
func (t *whatsmeowTransport) IsConnected() bool { return t.client.IsConnected() }
func (t *whatsmeowTransport) IsLoggedIn() bool  { return t.client.IsLoggedIn() }

func (t *whatsmeowTransport) Logout(ctx context.Context) error {
	return t.client.Logout(ctx)
}

func (t *whatsmeowTransport) AddEventHandler(handler func(evt interface{})) uint32 {
	return t.client.AddEventHandler(handler)
}

func (t *whatsmeowTransport) RemoveEventHandler(id uint32) bool {
	return t.client.RemoveEventHandler(id)
}

func (t *whatsmeowTransport) GetQRChannel(ctx context.Context) (<-chan whatsmeow.QRChannelItem, error) {
	return t.client.GetQRChannel(ctx)
}

func (t *whatsmeowTransport) PairPhone(ctx context.Context, phone string) (string, error) {
	return t.client.PairPhone(ctx, phone, true, whatsmeow.PairClientChrome, "Chrome (Linux)")
}

func (t *whatsmeowTransport) StoreID() *types.JID {
	return t.client.Store.ID
}

func (t *whatsmeowTransport) PushName() string {
	return t.client.Store.PushName
}

func (t *whatsmeowTransport) Device() *store.Device {
	return t.client.Store
}

func (t *whatsmeowTransport) SendMessage(ctx context.Context, to types.JID, message *waE2E.Message) (whatsmeow.SendResponse, error) {
	return t.client.SendMessage(ctx, to, message)
}

func (t *whatsmeowTransport) SendChatPresence(ctx context.Context, jid types.JID, state types.ChatPresence, media types.ChatPresenceMedia) error {
	return t.client.SendChatPresence(ctx, jid, state, media)
}

func (t *whatsmeowTransport) Upload(ctx context.Context, plaintext []byte, appInfo whatsmeow.MediaType) (whatsmeow.UploadResponse, error) {
	return t.client.Upload(ctx, plaintext, appInfo)
}

func (t *whatsmeowTransport) BuildPollCreation(name string, optionNames []string, selectableOptionCount int) *waE2E.Message {
	return t.client.BuildPollCreation(name, optionNames, selectableOptionCount)
}

func (t *whatsmeowTransport) GetJoinedGroups(ctx context.Context) ([]*types.GroupInfo, error) {
	return t.client.GetJoinedGroups(ctx)
}

func (t *whatsmeowTransport) GetGroupInfo(ctx context.Context, jid types.JID) (*types.GroupInfo, error) {
	return t.client.GetGroupInfo(ctx, jid)
}

func (t *whatsmeowTransport) CreateGroup(ctx context.Context, name string, participants []types.JID) (*types.GroupInfo, error) {
	return t.client.CreateGroup(ctx, whatsmeow.ReqCreateGroup{
		Name:         name,
		Participants: participants,
	})
}

func (t *whatsmeowTransport) LeaveGroup(ctx context.Context, jid types.JID) error {
	return t.client.LeaveGroup(ctx, jid)
}

func (t *whatsmeowTransport) UpdateGroupParticipants(ctx context.Context, jid types.JID, participants []types.JID, action whatsmeow.ParticipantChange) ([]types.GroupParticipant, error) {
	return t.client.UpdateGroupParticipants(ctx, jid, participants, action)
}

func (t *whatsmeowTransport) SetGroupName(ctx context.Context, jid types.JID, name string) error {
	return t.client.SetGroupName(ctx, jid, name)
}

func (t *whatsmeowTransport) SetGroupTopic(ctx context.Context, jid types.JID, topic string) error {
	return t.client.SetGroupTopic(ctx, jid, "", "", topic)
}

func (t *whatsmeowTransport) GetGroupInviteLink(ctx context.Context, jid types.JID, revoke bool) (string, error) {
	return t.client.GetGroupInviteLink(ctx, jid, revoke)
}

func (t *whatsmeowTransport) IsOnWhatsApp(ctx context.Context, phones []string) ([]types.IsOnWhatsAppResponse, error) {
	return t.client.IsOnWhatsApp(ctx, phones)
}

func (t *whatsmeowTransport) GetProfilePictureInfo(ctx context.Context, jid types.JID, params *whatsmeow.GetProfilePictureParams) (*types.ProfilePictureInfo, error) {
	return t.client.GetProfilePictureInfo(ctx, jid, params)
}

func (t *whatsmeowTransport) UpdateBlocklist(ctx context.Context, jid types.JID, action events.BlocklistChangeAction) (*types.Blocklist, error) {
	return t.client.UpdateBlocklist(ctx, jid, action)
}
