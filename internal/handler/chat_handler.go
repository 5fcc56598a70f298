package handler

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"triplab/internal/domain"
	"triplab/internal/service"
	"triplab/internal/service/chat"
	"triplab/pkg/errors"
	"triplab/pkg/logger"
)

// ChatHandler proxies assistant conversations.
type ChatHandler struct {
	chat      service.ChatService
	assistant *chat.Assistant
	trips     *service.TripService
	logger    *logger.Logger
}

func NewChatHandler(chatService service.ChatService, trips *service.TripService, logger *logger.Logger) *ChatHandler {
	return &ChatHandler{
		chat:      chatService,
		assistant: chat.NewAssistant(chatService, ""),
		trips:     trips,
		logger:    logger,
	}
}

// RegisterRoutes mounts the chat routes. Requires middleware.Auth.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.Complete)
	r.Post("/trips/{tripID}/assistant", h.Ask)
}

// Complete handles POST /api/chat and returns the upstream completion body.
func (h *ChatHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req domain.ChatRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, r, errors.NewValidationError("Invalid request body", nil), h.logger)
		return
	}
	// A missing messages array is reported by the service with its own message.
	if req.Messages != nil {
		if err := validateStruct(&req); err != nil {
			respondError(w, r, err, h.logger)
			return
		}
	}

	resp, err := h.chat.Complete(r.Context(), &req)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

// Ask handles POST /api/trips/{tripID}/assistant. The trip is described to
// the assistant in a system message ahead of the caller's history.
func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	ident, err := identity(r)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	var req domain.AssistantRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	trip, err := h.trips.RequireMember(r.Context(), chi.URLParam(r, "tripID"), ident.UserID)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}

	history := append([]domain.ChatMessage{chat.TripContext(trip)}, req.History...)
	answer, err := h.assistant.Ask(r.Context(), history, req.Question)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	respondJSON(w, http.StatusOK, domain.AssistantResponse{Answer: answer})
}
