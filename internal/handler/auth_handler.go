package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"triplab/internal/domain"
	"triplab/internal/service"
	"triplab/pkg/logger"
)

// AuthHandler issues traveler identities
type AuthHandler struct {
	auth   service.AuthService
	logger *logger.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(auth service.AuthService, logger *logger.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

// RegisterRoutes mounts the public auth routes.
func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/anonymous", h.SignInAnonymously)
}

// SignInAnonymously handles POST /api/auth/anonymous
func (h *AuthHandler) SignInAnonymously(w http.ResponseWriter, r *http.Request) {
	var req domain.AnonymousSignInRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, r, err, h.logger)
		return
	}

	resp, err := h.auth.SignInAnonymously(r.Context(), req.Name)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}

	h.logger.WithField("user_id", resp.UserID).Info("Anonymous identity issued")
	respondJSON(w, http.StatusCreated, resp)
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	ident, err := identity(r)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	respondJSON(w, http.StatusOK, ident)
}
