package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/wabridge/wabridge/pkg/bus"
	"github.com/wabridge/wabridge/pkg/config"
	"github.com/wabridge/wabridge/pkg/logger"
	"github.com/wabridge/wabridge/pkg/storage"
	"github.com/wabridge/wabridge/pkg/wa"
	"github.com/wabridge/wabridge/pkg/webhook"
)

// Server exposes the REST control surface and the WebSocket event stream.
type Server struct {
	config     config.APIConfig
	manager    *wa.Manager
	sender     *wa.Sender
	dispatcher *webhook.Dispatcher
	store      storage.Storage
	eventBus   *bus.EventBus
	hub        *Hub
	httpServer *http.Server
	startTime  time.Time
}

func NewServer(
	apiCfg config.APIConfig,
	manager *wa.Manager,
	sender *wa.Sender,
	dispatcher *webhook.Dispatcher,
	store storage.Storage,
	eventBus *bus.EventBus,
) *Server {
	return &Server{
		config:     apiCfg,
		manager:    manager,
		sender:     sender,
		dispatcher: dispatcher,
		store:      store,
		eventBus:   eventBus,
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.startTime = time.Now()

	// Create WebSocket hub
	s.hub = NewHub(s.eventBus)
	go s.hub.Run(ctx)

	mux := http.NewServeMux()

	// Health check (no auth)
	mux.HandleFunc("/health", s.handleHealth)

	// Session lifecycle
	mux.HandleFunc("/api/v1/status", s.authMiddleware(s.handleStatus))
	mux.HandleFunc("/api/v1/qr", s.authMiddleware(s.handleQR))
	mux.HandleFunc("/api/v1/pairing", s.authMiddleware(s.handlePairing))
	mux.HandleFunc("/api/v1/disconnect", s.authMiddleware(s.handleDisconnect))
	mux.HandleFunc("/api/v1/reconnect", s.authMiddleware(s.handleReconnect))

	// Webhook configuration
	mux.HandleFunc("/api/v1/webhook", s.authMiddleware(s.handleWebhook))
	mux.HandleFunc("/api/v1/webhook/enable", s.authMiddleware(s.handleWebhookEnable))
	mux.HandleFunc("/api/v1/webhook/disable", s.authMiddleware(s.handleWebhookDisable))
	mux.HandleFunc("/api/v1/webhook/test", s.authMiddleware(s.handleWebhookTest))

	// Messaging
	mux.HandleFunc("/api/v1/messages", s.authMiddleware(s.handleMessageLog))
	mux.HandleFunc("/api/v1/messages/text", s.authMiddleware(s.handleSendText))
	mux.HandleFunc("/api/v1/messages/image", s.authMiddleware(s.handleSendImage))
	mux.HandleFunc("/api/v1/messages/document", s.authMiddleware(s.handleSendDocument))
	mux.HandleFunc("/api/v1/messages/location", s.authMiddleware(s.handleSendLocation))
	mux.HandleFunc("/api/v1/messages/reaction", s.authMiddleware(s.handleSendReaction))
	mux.HandleFunc("/api/v1/messages/poll", s.authMiddleware(s.handleSendPoll))

	// Groups and contacts
	mux.HandleFunc("/api/v1/groups", s.authMiddleware(s.handleGroups))
	mux.HandleFunc("/api/v1/groups/", s.authMiddleware(s.handleGroupDetail))
	mux.HandleFunc("/api/v1/contacts/check", s.authMiddleware(s.handleContactsCheck))
	mux.HandleFunc("/api/v1/contacts/", s.authMiddleware(s.handleContactDetail))

	// Stats
	mux.HandleFunc("/api/v1/stats", s.authMiddleware(s.handleStats))

	// WebSocket (auth via query param)
	mux.HandleFunc("/ws", s.handleWebSocket)

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.corsMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	go func() {
		logger.InfoCF("api", "API server started", map[string]interface{}{
			"address": addr,
		})
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			logger.ErrorCF("api", "API server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	return nil
}

func (s *Server) Stop() {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
		logger.InfoC("api", "API server stopped")
	}
}

// authMiddleware wraps a handler with bearer token authentication.
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := s.extractToken(r)
		if token != s.config.Token {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// extractToken gets the bearer token from Authorization header.
func (s *Server) extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	// Fallback: query parameter (for WebSocket)
	return r.URL.Query().Get("token")
}

// corsMiddleware adds CORS headers for same-origin requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
