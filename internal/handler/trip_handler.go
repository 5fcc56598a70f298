package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"triplab/internal/domain"
	"triplab/internal/planning"
	"triplab/internal/service"
	"triplab/pkg/logger"
)

// TripHandler serves trip creation, joining, availability and locking.
type TripHandler struct {
	trips  *service.TripService
	locks  *service.LockCoordinator
	logger *logger.Logger
}

func NewTripHandler(trips *service.TripService, locks *service.LockCoordinator, logger *logger.Logger) *TripHandler {
	return &TripHandler{trips: trips, locks: locks, logger: logger}
}

// RegisterRoutes mounts the trip routes. The router must already carry
// middleware.Auth.
func (h *TripHandler) RegisterRoutes(r chi.Router) {
	r.Post("/trips", h.Create)
	r.Post("/trips/join", h.Join)
	r.Get("/codes/{code}", h.ResolveCode)
	r.Route("/trips/{tripID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Get("/summary", h.Summary)
		r.Put("/dates", h.SetDates)
		r.Put("/lock", h.SetLock)
	})
}

// TripResponse is a trip document with its id and planning readiness.
type TripResponse struct {
	ID string `json:"id"`
	*domain.Trip
	CanPlan bool `json:"can_plan"`
}

func newTripResponse(trip *domain.Trip) TripResponse {
	return TripResponse{ID: trip.ID, Trip: trip, CanPlan: planning.CanPlan(trip)}
}

// SummaryResponse is the overlap overview shown beside the calendar.
type SummaryResponse struct {
	TripID           string                 `json:"trip_id"`
	Destination      string                 `json:"destination"`
	Status           planning.Status        `json:"status"`
	AllUsersLocked   bool                   `json:"all_users_locked"`
	OverlappedDates  []domain.Date          `json:"overlapped_dates"`
	CanPlan          bool                   `json:"can_plan"`
	UnlockedUsers    []string               `json:"unlocked_users"`
	Users            []planning.UserSummary `json:"users"`
	RangeDescription string                 `json:"range_description"`
}

// Create handles POST /api/trips
func (h *TripHandler) Create(w http.ResponseWriter, r *http.Request) {
	ident, err := identity(r)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	var req domain.CreateTripRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, r, err, h.logger)
		return
	}

	resp, err := h.trips.Create(r.Context(), ident, req.Destination)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

// Join handles POST /api/trips/join
func (h *TripHandler) Join(w http.ResponseWriter, r *http.Request) {
	ident, err := identity(r)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	var req domain.JoinTripRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, r, err, h.logger)
		return
	}

	resp, err := h.trips.Join(r.Context(), ident, req.Code)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	status := http.StatusCreated
	if resp.AlreadyJoined {
		status = http.StatusOK
	}
	respondJSON(w, status, resp)
}

// ResolveCode handles GET /api/codes/{code}
func (h *TripHandler) ResolveCode(w http.ResponseWriter, r *http.Request) {
	tripID, err := h.trips.ResolveCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"trip_id": tripID})
}

// memberTrip loads the trip in the URL for the calling member.
func (h *TripHandler) memberTrip(r *http.Request) (*domain.Trip, domain.Identity, error) {
	ident, err := identity(r)
	if err != nil {
		return nil, ident, err
	}
	trip, err := h.trips.RequireMember(r.Context(), chi.URLParam(r, "tripID"), ident.UserID)
	return trip, ident, err
}

// Get handles GET /api/trips/{tripID}
func (h *TripHandler) Get(w http.ResponseWriter, r *http.Request) {
	trip, _, err := h.memberTrip(r)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	respondJSON(w, http.StatusOK, newTripResponse(trip))
}

// Summary handles GET /api/trips/{tripID}/summary
func (h *TripHandler) Summary(w http.ResponseWriter, r *http.Request) {
	trip, _, err := h.memberTrip(r)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}

	status := planning.OverlapStatus(trip.Users)
	rangeDates := trip.OverlappedDates
	if len(rangeDates) == 0 {
		rangeDates = status.Overlap
	}
	overlapped := trip.OverlappedDates
	if overlapped == nil {
		overlapped = []domain.Date{}
	}

	respondJSON(w, http.StatusOK, SummaryResponse{
		TripID:           trip.ID,
		Destination:      trip.Destination,
		Status:           status,
		AllUsersLocked:   trip.AllUsersLocked,
		OverlappedDates:  overlapped,
		CanPlan:          planning.CanPlan(trip),
		UnlockedUsers:    planning.UnlockedUsers(trip.Users),
		Users:            planning.DateSummary(trip.Users),
		RangeDescription: planning.DateRangeDescription(rangeDates),
	})
}

// SetDates handles PUT /api/trips/{tripID}/dates
func (h *TripHandler) SetDates(w http.ResponseWriter, r *http.Request) {
	ident, err := identity(r)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	var req domain.SetDatesRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, r, err, h.logger)
		return
	}

	dates := make([]domain.Date, len(req.Dates))
	for i, s := range req.Dates {
		dates[i] = domain.Date(s)
	}
	out, err := h.trips.SetDates(r.Context(), chi.URLParam(r, "tripID"), ident.UserID, dates)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"dates": out})
}

// SetLock handles PUT /api/trips/{tripID}/lock
func (h *TripHandler) SetLock(w http.ResponseWriter, r *http.Request) {
	ident, err := identity(r)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	var req domain.SetLockRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, r, err, h.logger)
		return
	}

	res, err := h.locks.SetLocked(r.Context(), chi.URLParam(r, "tripID"), ident.UserID, req.Locked)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	respondJSON(w, http.StatusOK, res)
}
