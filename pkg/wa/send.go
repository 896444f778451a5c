package wa

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/patrickmn/go-cache"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waCommon"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/wabridge/wabridge/pkg/logger"
)

const (
	groupCacheTTL  = 5 * time.Minute
	avatarCacheTTL = 15 * time.Minute
)

// SendResult identifies a successfully sent message.
type SendResult struct {
	MessageID string    `json:"messageId"`
	Timestamp time.Time `json:"timestamp"`
}

// GroupSummary is the API-facing view of a group.
type GroupSummary struct {
	JID          string   `json:"jid"`
	Name         string   `json:"name"`
	Topic        string   `json:"topic,omitempty"`
	Participants []string `json:"participants"`
}

// ContactStatus reports WhatsApp registration for one phone number.
type ContactStatus struct {
	Query      string `json:"query"`
	JID        string `json:"jid,omitempty"`
	Registered bool   `json:"registered"`
}

// Sender performs all outbound operations against the current transport.
// The transport handle is resolved through the Manager on every call, so a
// send during a reconnect fails with ErrNotConnected instead of writing to a
// dead socket.
type Sender struct {
	manager *Manager
	http    *resty.Client
	cache   *cache.Cache
}

func NewSender(manager *Manager) *Sender {
	return &Sender{
		manager: manager,
		http: resty.New().
			SetTimeout(30*time.Second).
			SetHeader("User-Agent", "wabridge"),
		cache: cache.New(groupCacheTTL, 10*time.Minute),
	}
}

// resolve returns the live transport or ErrNotConnected. A socket that is
// connected but not yet authenticated (mid-pairing) cannot send either.
func (s *Sender) resolve() (Transport, error) {
	t := s.manager.Transport()
	if t == nil || !t.IsConnected() || !t.IsLoggedIn() {
		return nil, ErrNotConnected
	}
	return t, nil
}

// ResolveJID turns an API target into a JID. Full JIDs pass through; bare
// digits become a direct-chat JID.
func ResolveJID(target string) (types.JID, error) {
	if target == "" {
		return types.JID{}, fmt.Errorf("empty recipient")
	}
	if strings.ContainsRune(target, '@') {
		jid, err := types.ParseJID(target)
		if err != nil {
			return types.JID{}, fmt.Errorf("invalid recipient %q: %w", target, err)
		}
		return jid, nil
	}
	digits := strings.TrimLeft(target, "+")
	for _, r := range digits {
		if r < '0' || r > '9' {
			return types.JID{}, fmt.Errorf("invalid recipient %q: not a phone number", target)
		}
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}

// ---------------------------------------------------------------------------
// Messaging
// ---------------------------------------------------------------------------

// SendText sends a plain text message, wrapping it with a typing indicator.
func (s *Sender) SendText(ctx context.Context, to, text string) (*SendResult, error) {
	t, err := s.resolve()
	if err != nil {
		return nil, err
	}
	jid, err := ResolveJID(to)
	if err != nil {
		return nil, err
	}

	_ = t.SendChatPresence(ctx, jid, types.ChatPresenceComposing, "")
	resp, err := t.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	_ = t.SendChatPresence(ctx, jid, types.ChatPresencePaused, "")
	if err != nil {
		return nil, fmt.Errorf("failed to send text: %w", err)
	}

	logger.DebugCF("wa", "Text sent", map[string]interface{}{
		"to":         jid.String(),
		"message_id": resp.ID,
	})
	return &SendResult{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

// SendImage sends an image given either an http(s) URL or base64 payload.
func (s *Sender) SendImage(ctx context.Context, to, source, caption string) (*SendResult, error) {
	t, err := s.resolve()
	if err != nil {
		return nil, err
	}
	jid, err := ResolveJID(to)
	if err != nil {
		return nil, err
	}

	data, err := s.fetchMedia(ctx, source)
	if err != nil {
		return nil, err
	}

	uploaded, err := t.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return nil, fmt.Errorf("failed to upload image: %w", err)
	}

	resp, err := t.SendMessage(ctx, jid, &waE2E.Message{
		ImageMessage: &waE2E.ImageMessage{
			Caption:       proto.String(caption),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(http.DetectContentType(data)),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uint64(len(data))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send image: %w", err)
	}
	return &SendResult{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

// SendDocument sends an arbitrary file with its original filename.
func (s *Sender) SendDocument(ctx context.Context, to, source, fileName, caption string) (*SendResult, error) {
	t, err := s.resolve()
	if err != nil {
		return nil, err
	}
	jid, err := ResolveJID(to)
	if err != nil {
		return nil, err
	}

	data, err := s.fetchMedia(ctx, source)
	if err != nil {
		return nil, err
	}

	uploaded, err := t.Upload(ctx, data, whatsmeow.MediaDocument)
	if err != nil {
		return nil, fmt.Errorf("failed to upload document: %w", err)
	}

	resp, err := t.SendMessage(ctx, jid, &waE2E.Message{
		DocumentMessage: &waE2E.DocumentMessage{
			FileName:      proto.String(fileName),
			Caption:       proto.String(caption),
			URL:           proto.String(uploaded.URL),
			DirectPath:    proto.String(uploaded.DirectPath),
			MediaKey:      uploaded.MediaKey,
			Mimetype:      proto.String(http.DetectContentType(data)),
			FileEncSHA256: uploaded.FileEncSHA256,
			FileSHA256:    uploaded.FileSHA256,
			FileLength:    proto.Uint64(uint64(len(data))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send document: %w", err)
	}
	return &SendResult{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

// SendLocation sends a location pin.
func (s *Sender) SendLocation(ctx context.Context, to string, lat, lng float64, name string) (*SendResult, error) {
	t, err := s.resolve()
	if err != nil {
		return nil, err
	}
	jid, err := ResolveJID(to)
	if err != nil {
		return nil, err
	}

	resp, err := t.SendMessage(ctx, jid, &waE2E.Message{
		LocationMessage: &waE2E.LocationMessage{
			DegreesLatitude:  proto.Float64(lat),
			DegreesLongitude: proto.Float64(lng),
			Name:             proto.String(name),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send location: %w", err)
	}
	return &SendResult{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

// SendReaction reacts to a previously received message. An empty emoji
// removes the reaction.
func (s *Sender) SendReaction(ctx context.Context, to, messageID, emoji string) (*SendResult, error) {
	t, err := s.resolve()
	if err != nil {
		return nil, err
	}
	jid, err := ResolveJID(to)
	if err != nil {
		return nil, err
	}

	resp, err := t.SendMessage(ctx, jid, &waE2E.Message{
		ReactionMessage: &waE2E.ReactionMessage{
			Key: &waCommon.MessageKey{
				RemoteJID: proto.String(jid.String()),
				FromMe:    proto.Bool(false),
				ID:        proto.String(messageID),
			},
			Text:              proto.String(emoji),
			SenderTimestampMS: proto.Int64(time.Now().UnixMilli()),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to send reaction: %w", err)
	}
	return &SendResult{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

// SendPoll creates a single-select poll. Interactive button prompts are
// expressed as polls as well; plain button messages are no longer deliverable
// to current clients.
func (s *Sender) SendPoll(ctx context.Context, to, question string, options []string) (*SendResult, error) {
	t, err := s.resolve()
	if err != nil {
		return nil, err
	}
	jid, err := ResolveJID(to)
	if err != nil {
		return nil, err
	}
	if len(options) < 2 {
		return nil, fmt.Errorf("a poll needs at least two options")
	}

	resp, err := t.SendMessage(ctx, jid, t.BuildPollCreation(question, options, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to send poll: %w", err)
	}
	return &SendResult{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

// fetchMedia resolves a media source, either an http(s) URL downloaded with
// a bounded timeout or an inline base64 payload.
func (s *Sender) fetchMedia(ctx context.Context, source string) ([]byte, error) {
	if strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://") {
		resp, err := s.http.R().SetContext(ctx).Get(source)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch media: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("failed to fetch media: status %d", resp.StatusCode())
		}
		return resp.Body(), nil
	}

	// Tolerate data URL prefixes in inline payloads
	if idx := strings.Index(source, "base64,"); idx >= 0 {
		source = source[idx+len("base64,"):]
	}
	data, err := base64.StdEncoding.DecodeString(source)
	if err != nil {
		return nil, fmt.Errorf("media source is neither a URL nor valid base64: %w", err)
	}
	return data, nil
}

// ---------------------------------------------------------------------------
// Groups
// ---------------------------------------------------------------------------

// Groups lists all joined groups, cached briefly to spare the server
// round-trip on bursty API traffic.
func (s *Sender) Groups(ctx context.Context) ([]GroupSummary, error) {
	if cached, ok := s.cache.Get("groups"); ok {
		return cached.([]GroupSummary), nil
	}

	t, err := s.resolve()
	if err != nil {
		return nil, err
	}
	infos, err := t.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	groups := make([]GroupSummary, 0, len(infos))
	for _, info := range infos {
		groups = append(groups, summarizeGroup(info))
	}
	s.cache.Set("groups", groups, groupCacheTTL)
	return groups, nil
}

// GroupInfo fetches a single group's metadata.
func (s *Sender) GroupInfo(ctx context.Context, groupJID string) (*GroupSummary, error) {
	cacheKey := "group:" + groupJID
	if cached, ok := s.cache.Get(cacheKey); ok {
		g := cached.(GroupSummary)
		return &g, nil
	}

	t, err := s.resolve()
	if err != nil {
		return nil, err
	}
	jid, err := types.ParseJID(groupJID)
	if err != nil {
		return nil, fmt.Errorf("invalid group JID %q: %w", groupJID, err)
	}
	info, err := t.GetGroupInfo(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch group info: %w", err)
	}

	g := summarizeGroup(info)
	s.cache.Set(cacheKey, g, groupCacheTTL)
	return &g, nil
}

// CreateGroup creates a group with the given participants (phone numbers or
// JIDs) and returns its metadata.
func (s *Sender) CreateGroup(ctx context.Context, name string, participants []string) (*GroupSummary, error) {
	t, err := s.resolve()
	if err != nil {
		return nil, err
	}
	jids, err := resolveParticipants(participants)
	if err != nil {
		return nil, err
	}

	info, err := t.CreateGroup(ctx, name, jids)
	if err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	s.cache.Delete("groups")

	g := summarizeGroup(info)
	return &g, nil
}

// LeaveGroup leaves a group.
func (s *Sender) LeaveGroup(ctx context.Context, groupJID string) error {
	t, err := s.resolve()
	if err != nil {
		return err
	}
	jid, err := types.ParseJID(groupJID)
	if err != nil {
		return fmt.Errorf("invalid group JID %q: %w", groupJID, err)
	}
	if err := t.LeaveGroup(ctx, jid); err != nil {
		return fmt.Errorf("failed to leave group: %w", err)
	}
	s.cache.Delete("groups")
	s.cache.Delete("group:" + groupJID)
	return nil
}

// UpdateParticipants adds, removes, promotes, or demotes group members.
// action is one of "add", "remove", "promote", "demote".
func (s *Sender) UpdateParticipants(ctx context.Context, groupJID string, participants []string, action string) error {
	t, err := s.resolve()
	if err != nil {
		return err
	}
	jid, err := types.ParseJID(groupJID)
	if err != nil {
		return fmt.Errorf("invalid group JID %q: %w", groupJID, err)
	}
	jids, err := resolveParticipants(participants)
	if err != nil {
		return err
	}

	var change whatsmeow.ParticipantChange
	switch action {
	case "add":
		change = whatsmeow.ParticipantChangeAdd
	case "remove":
		change = whatsmeow.ParticipantChangeRemove
	case "promote":
		change = whatsmeow.ParticipantChangePromote
	case "demote":
		change = whatsmeow.ParticipantChangeDemote
	default:
		return fmt.Errorf("unknown participant action %q", action)
	}

	if _, err := t.UpdateGroupParticipants(ctx, jid, jids, change); err != nil {
		return fmt.Errorf("failed to %s participants: %w", action, err)
	}
	s.cache.Delete("group:" + groupJID)
	return nil
}

// SetGroupName renames a group.
func (s *Sender) SetGroupName(ctx context.Context, groupJID, name string) error {
	t, err := s.resolve()
	if err != nil {
		return err
	}
	jid, err := types.ParseJID(groupJID)
	if err != nil {
		return fmt.Errorf("invalid group JID %q: %w", groupJID, err)
	}
	if err := t.SetGroupName(ctx, jid, name); err != nil {
		return fmt.Errorf("failed to set group name: %w", err)
	}
	s.cache.Delete("group:" + groupJID)
	return nil
}

// SetGroupTopic updates a group's topic text.
func (s *Sender) SetGroupTopic(ctx context.Context, groupJID, topic string) error {
	t, err := s.resolve()
	if err != nil {
		return err
	}
	jid, err := types.ParseJID(groupJID)
	if err != nil {
		return fmt.Errorf("invalid group JID %q: %w", groupJID, err)
	}
	if err := t.SetGroupTopic(ctx, jid, topic); err != nil {
		return fmt.Errorf("failed to set group topic: %w", err)
	}
	s.cache.Delete("group:" + groupJID)
	return nil
}

// GroupInviteLink fetches (or revokes and regenerates) a group invite link.
func (s *Sender) GroupInviteLink(ctx context.Context, groupJID string, revoke bool) (string, error) {
	t, err := s.resolve()
	if err != nil {
		return "", err
	}
	jid, err := types.ParseJID(groupJID)
	if err != nil {
		return "", fmt.Errorf("invalid group JID %q: %w", groupJID, err)
	}
	link, err := t.GetGroupInviteLink(ctx, jid, revoke)
	if err != nil {
		return "", fmt.Errorf("failed to fetch invite link: %w", err)
	}
	return link, nil
}

// ---------------------------------------------------------------------------
// Contacts
// ---------------------------------------------------------------------------

// CheckPhones reports which of the given phone numbers are registered.
func (s *Sender) CheckPhones(ctx context.Context, phones []string) ([]ContactStatus, error) {
	t, err := s.resolve()
	if err != nil {
		return nil, err
	}
	resp, err := t.IsOnWhatsApp(ctx, phones)
	if err != nil {
		return nil, fmt.Errorf("failed to check phone numbers: %w", err)
	}

	statuses := make([]ContactStatus, 0, len(resp))
	for _, r := range resp {
		st := ContactStatus{Query: r.Query, Registered: r.IsIn}
		if r.IsIn {
			st.JID = r.JID.String()
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// AvatarURL fetches a contact's or group's profile picture URL, cached.
func (s *Sender) AvatarURL(ctx context.Context, target string) (string, error) {
	cacheKey := "avatar:" + target
	if cached, ok := s.cache.Get(cacheKey); ok {
		return cached.(string), nil
	}

	t, err := s.resolve()
	if err != nil {
		return "", err
	}
	jid, err := ResolveJID(target)
	if err != nil {
		return "", err
	}
	info, err := t.GetProfilePictureInfo(ctx, jid, &whatsmeow.GetProfilePictureParams{})
	if err != nil {
		return "", fmt.Errorf("failed to fetch avatar: %w", err)
	}
	url := ""
	if info != nil {
		url = info.URL
	}
	s.cache.Set(cacheKey, url, avatarCacheTTL)
	return url, nil
}

// SetBlocked blocks or unblocks a contact.
func (s *Sender) SetBlocked(ctx context.Context, target string, blocked bool) error {
	t, err := s.resolve()
	if err != nil {
		return err
	}
	jid, err := ResolveJID(target)
	if err != nil {
		return err
	}

	action := events.BlocklistChangeActionUnblock
	if blocked {
		action = events.BlocklistChangeActionBlock
	}
	if _, err := t.UpdateBlocklist(ctx, jid, action); err != nil {
		return fmt.Errorf("failed to update blocklist: %w", err)
	}
	return nil
}

func summarizeGroup(info *types.GroupInfo) GroupSummary {
	participants := make([]string, 0, len(info.Participants))
	for _, p := range info.Participants {
		participants = append(participants, p.JID.String())
	}
	return GroupSummary{
		JID:          info.JID.String(),
		Name:         info.Name,
		Topic:        info.Topic,
		Participants: participants,
	}
}

func resolveParticipants(participants []string) ([]types.JID, error) {
	jids := make([]types.JID, 0, len(participants))
	for _, p := range participants {
		jid, err := ResolveJID(p)
		if err != nil {
			return nil, err
		}
		jids = append(jids, jid)
	}
	return jids, nil
}
