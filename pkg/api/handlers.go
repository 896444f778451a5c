package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/wabridge/wabridge/pkg/storage/repository"
	"github.com/wabridge/wabridge/pkg/wa"
)

const version = "0.1.0"

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok", "version": version})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	state := s.manager.State()
	status := map[string]interface{}{
		"version":   version,
		"uptime":    time.Since(s.startTime).String(),
		"connected": state.Connected,
	}
	if state.Identity != nil {
		status["identity"] = state.Identity
	}
	if state.QRCode != "" {
		status["qr_pending"] = true
	}
	if state.PairingCode != "" {
		status["pairing_pending"] = true
	}

	writeJSON(w, status)
}

// handleQR returns the current QR challenge as raw text, base64 PNG, and
// inline SVG so callers can render it however they like.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	state := s.manager.State()
	if state.QRCode == "" {
		http.Error(w, `{"error":"no QR challenge pending"}`, http.StatusNotFound)
		return
	}

	png, err := qrcode.Encode(state.QRCode, qrcode.Medium, 256)
	if err != nil {
		http.Error(w, `{"error":"failed to render QR code"}`, http.StatusInternalServerError)
		return
	}
	svg, err := generateQRSVG(state.QRCode, 256)
	if err != nil {
		http.Error(w, `{"error":"failed to render QR code"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"code":      state.QRCode,
		"issued_at": state.QRIssuedAt,
		"png":       base64.StdEncoding.EncodeToString(png),
		"svg":       svg,
	})
}

func (s *Server) handlePairing(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		state := s.manager.State()
		if state.PairingCode == "" {
			http.Error(w, `{"error":"no pairing code pending"}`, http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]interface{}{
			"code":      state.PairingCode,
			"issued_at": state.PairingIssuedAt,
			"phone":     state.PendingPhoneNumber,
		})

	case http.MethodPost:
		var body struct {
			PhoneNumber string `json:"phoneNumber"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
			return
		}

		if err := s.manager.RequestPairingCode(r.Context(), body.PhoneNumber); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "pairing"})

	default:
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	if err := s.manager.Logout(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "logged_out"})
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Mode        string `json:"mode"`
		PhoneNumber string `json:"phoneNumber"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
			return
		}
	}

	if err := s.manager.Reconnect(r.Context(), body.Mode, body.PhoneNumber); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"status": "reconnecting"})
}

// ---------------------------------------------------------------------------
// Webhook configuration
// ---------------------------------------------------------------------------

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		cfg := s.dispatcher.Status()
		if cfg == nil {
			writeJSON(w, map[string]bool{"configured": false})
			return
		}
		writeJSON(w, map[string]interface{}{
			"configured": true,
			"url":        cfg.URL,
			"events":     cfg.Events,
			"enabled":    cfg.Enabled,
		})

	case http.MethodPost:
		var body struct {
			URL    string   `json:"url"`
			Secret string   `json:"secret"`
			Events []string `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
			return
		}
		if body.URL == "" {
			http.Error(w, `{"error":"url is required"}`, http.StatusBadRequest)
			return
		}

		s.dispatcher.Configure(body.URL, body.Secret, body.Events)
		writeJSON(w, map[string]string{"status": "configured"})

	default:
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleWebhookEnable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if !s.dispatcher.Enable() {
		http.Error(w, `{"error":"webhook is not configured"}`, http.StatusConflict)
		return
	}
	writeJSON(w, map[string]string{"status": "enabled"})
}

func (s *Server) handleWebhookDisable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if !s.dispatcher.Disable() {
		http.Error(w, `{"error":"webhook is not configured"}`, http.StatusConflict)
		return
	}
	writeJSON(w, map[string]string{"status": "disabled"})
}

func (s *Server) handleWebhookTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	s.dispatcher.SendTest()
	writeJSON(w, map[string]string{"status": "sent"})
}

// ---------------------------------------------------------------------------
// Messaging
// ---------------------------------------------------------------------------

func (s *Server) handleSendText(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		To   string `json:"to"`
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if body.To == "" || body.Text == "" {
		http.Error(w, `{"error":"to and text are required"}`, http.StatusBadRequest)
		return
	}

	ctx, cancel := sendContext(r)
	defer cancel()

	result, err := s.sender.SendText(ctx, body.To, body.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (s *Server) handleSendImage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		To      string `json:"to"`
		Source  string `json:"source"`
		Caption string `json:"caption"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if body.To == "" || body.Source == "" {
		http.Error(w, `{"error":"to and source are required"}`, http.StatusBadRequest)
		return
	}

	ctx, cancel := sendContext(r)
	defer cancel()

	result, err := s.sender.SendImage(ctx, body.To, body.Source, body.Caption)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (s *Server) handleSendDocument(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		To       string `json:"to"`
		Source   string `json:"source"`
		FileName string `json:"fileName"`
		Caption  string `json:"caption"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if body.To == "" || body.Source == "" || body.FileName == "" {
		http.Error(w, `{"error":"to, source and fileName are required"}`, http.StatusBadRequest)
		return
	}

	ctx, cancel := sendContext(r)
	defer cancel()

	result, err := s.sender.SendDocument(ctx, body.To, body.Source, body.FileName, body.Caption)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (s *Server) handleSendLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		To        string   `json:"to"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
		Name      string   `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if body.To == "" || body.Latitude == nil || body.Longitude == nil {
		http.Error(w, `{"error":"to, latitude and longitude are required"}`, http.StatusBadRequest)
		return
	}

	ctx, cancel := sendContext(r)
	defer cancel()

	result, err := s.sender.SendLocation(ctx, body.To, *body.Latitude, *body.Longitude, body.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (s *Server) handleSendReaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		To        string `json:"to"`
		MessageID string `json:"messageId"`
		Emoji     string `json:"emoji"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if body.To == "" || body.MessageID == "" {
		http.Error(w, `{"error":"to and messageId are required"}`, http.StatusBadRequest)
		return
	}

	ctx, cancel := sendContext(r)
	defer cancel()

	result, err := s.sender.SendReaction(ctx, body.To, body.MessageID, body.Emoji)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

func (s *Server) handleSendPoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		To       string   `json:"to"`
		Question string   `json:"question"`
		Options  []string `json:"options"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if body.To == "" || body.Question == "" {
		http.Error(w, `{"error":"to and question are required"}`, http.StatusBadRequest)
		return
	}

	ctx, cancel := sendContext(r)
	defer cancel()

	result, err := s.sender.SendPoll(ctx, body.To, body.Question, body.Options)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, result)
}

// handleMessageLog returns recently received messages from the log.
func (s *Server) handleMessageLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	opts := repository.ListOptions{
		Chat: r.URL.Query().Get("chat"),
		Kind: r.URL.Query().Get("kind"),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			http.Error(w, `{"error":"limit must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		opts.Limit = limit
	}

	records, err := s.store.Messages().List(r.Context(), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	if records == nil {
		records = []repository.MessageRecord{}
	}
	writeJSON(w, records)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	dayCount, err := s.store.Messages().CountSince(r.Context(), time.Now().Add(-24*time.Hour))
	if err != nil {
		writeError(w, err)
		return
	}

	state := s.manager.State()
	writeJSON(w, map[string]interface{}{
		"uptime":        time.Since(s.startTime).String(),
		"connected":     state.Connected,
		"messages_24h":  dayCount,
		"storage_alive": s.store.Ping(r.Context()) == nil,
	})
}

// ---------------------------------------------------------------------------
// Groups
// ---------------------------------------------------------------------------

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		groups, err := s.sender.Groups(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, groups)

	case http.MethodPost:
		var body struct {
			Name         string   `json:"name"`
			Participants []string `json:"participants"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
			return
		}
		if body.Name == "" || len(body.Participants) == 0 {
			http.Error(w, `{"error":"name and participants are required"}`, http.StatusBadRequest)
			return
		}

		group, err := s.sender.CreateGroup(r.Context(), body.Name, body.Participants)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, group)

	default:
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
	}
}

// handleGroupDetail routes /api/v1/groups/{jid}[/action].
func (s *Server) handleGroupDetail(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/groups/")
	parts := strings.SplitN(path, "/", 2)
	if parts[0] == "" {
		http.Error(w, `{"error":"group JID required"}`, http.StatusBadRequest)
		return
	}
	groupJID := parts[0]
	action := ""
	if len(parts) == 2 {
		action = parts[1]
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		group, err := s.sender.GroupInfo(r.Context(), groupJID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, group)

	case action == "leave" && r.Method == http.MethodPost:
		if err := s.sender.LeaveGroup(r.Context(), groupJID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "left"})

	case action == "participants" && r.Method == http.MethodPost:
		var body struct {
			Participants []string `json:"participants"`
			Action       string   `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
			return
		}
		if len(body.Participants) == 0 || body.Action == "" {
			http.Error(w, `{"error":"participants and action are required"}`, http.StatusBadRequest)
			return
		}
		if err := s.sender.UpdateParticipants(r.Context(), groupJID, body.Participants, body.Action); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "updated"})

	case action == "name" && r.Method == http.MethodPut:
		var body struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
			http.Error(w, `{"error":"name is required"}`, http.StatusBadRequest)
			return
		}
		if err := s.sender.SetGroupName(r.Context(), groupJID, body.Name); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "renamed"})

	case action == "topic" && r.Method == http.MethodPut:
		var body struct {
			Topic string `json:"topic"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
			return
		}
		if err := s.sender.SetGroupTopic(r.Context(), groupJID, body.Topic); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "updated"})

	case action == "invite" && r.Method == http.MethodGet:
		revoke := r.URL.Query().Get("revoke") == "true"
		link, err := s.sender.GroupInviteLink(r.Context(), groupJID, revoke)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"link": link})

	default:
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
	}
}

// ---------------------------------------------------------------------------
// Contacts
// ---------------------------------------------------------------------------

func (s *Server) handleContactsCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var body struct {
		Phones []string `json:"phones"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if len(body.Phones) == 0 {
		http.Error(w, `{"error":"phones is required"}`, http.StatusBadRequest)
		return
	}

	statuses, err := s.sender.CheckPhones(r.Context(), body.Phones)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, statuses)
}

// handleContactDetail routes /api/v1/contacts/{target}/{action}.
func (s *Server) handleContactDetail(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/contacts/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		http.Error(w, `{"error":"path must be /api/v1/contacts/{target}/{action}"}`, http.StatusBadRequest)
		return
	}
	target := parts[0]
	action := parts[1]

	switch {
	case action == "avatar" && r.Method == http.MethodGet:
		url, err := s.sender.AvatarURL(r.Context(), target)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"url": url})

	case action == "block" && r.Method == http.MethodPost:
		if err := s.sender.SetBlocked(r.Context(), target, true); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "blocked"})

	case action == "unblock" && r.Method == http.MethodPost:
		if err := s.sender.SetBlocked(r.Context(), target, false); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "unblocked"})

	default:
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Auth via query param for WebSocket
	token := r.URL.Query().Get("token")
	if token != s.config.Token {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	s.hub.handleWebSocket(w, r)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func sendContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 30*time.Second)
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// writeError maps component errors to HTTP statuses. A missing transport is
// the caller's problem (the session is down), not the server's.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, wa.ErrNotConnected):
		status = http.StatusConflict
	case errors.Is(err, wa.ErrMissingPhoneNumber):
		status = http.StatusBadRequest
	}
	http.Error(w, `{"error":"`+err.Error()+`"}`, status)
}
