package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/draftpilot/wabuffer/internal/biz/domain"
	"github.com/draftpilot/wabuffer/internal/service"
)

// Server is the inbound webhook boundary: it accepts chat-platform events,
// acks fast, and leaves everything beyond ingestion to the scheduler.
type Server struct {
	ingest *service.IngestService
	server *http.Server
	log    *slog.Logger
}

// NewServer creates the webhook server.
func NewServer(ingest *service.IngestService, port int, log *slog.Logger) *Server {
	s := &Server{
		ingest: ingest,
		log:    log.With("component", "api"),
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Webhook-Secret"},
	}))

	r.Post("/webhook/whatsapp", s.handleWebhook)
	r.Get("/healthz", s.handleHealth)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start starts the HTTP server (blocking).
func (s *Server) Start() error {
	s.log.Info("webhook server listening", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("webhook server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// webhookPayload is the chat-platform event shape at the inbound boundary
type webhookPayload struct {
	ConversationID    string `json:"conversation_id"`
	ExternalMessageID string `json:"external_message_id"`
	ContentType       string `json:"content_type"`
	Payload           string `json:"payload"`
	SenderName        string `json:"sender_name"`
	SenderPhone       string `json:"sender_phone"`
	OwnerID           string `json:"owner_id"`
	ReceivedAt        int64  `json:"received_at"` // unix milliseconds, optional
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	if payload.ConversationID == "" || payload.ExternalMessageID == "" {
		http.Error(w, "missing conversation_id or external_message_id", http.StatusBadRequest)
		return
	}

	event := &domain.InboundEvent{
		ConversationID:    payload.ConversationID,
		ExternalMessageID: payload.ExternalMessageID,
		ContentType:       domain.ContentType(payload.ContentType),
		Payload:           payload.Payload,
		SenderName:        payload.SenderName,
		SenderPhone:       payload.SenderPhone,
	}
	if payload.OwnerID != "" {
		event.OwnerID = &payload.OwnerID
	}
	if payload.ReceivedAt > 0 {
		event.ReceivedAt = time.UnixMilli(payload.ReceivedAt)
	}

	session, err := s.ingest.HandleInbound(r.Context(), event)
	if err != nil {
		s.log.Error("ingestion failed",
			"conversation_id", payload.ConversationID, "error", err)
		http.Error(w, "ingestion error", http.StatusInternalServerError)
		return
	}

	// The sender has no synchronous channel for buffering outcomes; the ack
	// carries the buffer id purely for debugging.
	resp := map[string]any{"status": "ok"}
	if session != nil {
		resp["buffer_id"] = session.ID
		resp["message_count"] = session.MessageCount
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}
