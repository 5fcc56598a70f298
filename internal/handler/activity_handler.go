package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"triplab/internal/domain"
	"triplab/internal/planning"
	"triplab/internal/service"
	"triplab/pkg/logger"
)

// ActivityHandler serves the per-day activity board.
type ActivityHandler struct {
	trips      *service.TripService
	activities *service.ActivityBoard
	logger     *logger.Logger
}

func NewActivityHandler(trips *service.TripService, activities *service.ActivityBoard, logger *logger.Logger) *ActivityHandler {
	return &ActivityHandler{trips: trips, activities: activities, logger: logger}
}

// RegisterRoutes mounts /trips/{tripID}/days. Requires middleware.Auth.
func (h *ActivityHandler) RegisterRoutes(r chi.Router) {
	r.Route("/trips/{tripID}/days/{date}", func(r chi.Router) {
		r.Get("/", h.Day)
		r.Route("/{slot}/activities", func(r chi.Router) {
			r.Post("/", h.Add)
			r.Route("/{activityID}", func(r chi.Router) {
				r.Patch("/", h.Edit)
				r.Delete("/", h.Delete)
				r.Post("/vote", h.Vote)
				r.Post("/vote/toggle", h.ToggleVote)
			})
		})
	})
}

type activityTarget struct {
	ident      domain.Identity
	tripID     string
	date       domain.Date
	slot       domain.TimeSlot
	activityID string
}

func parseTarget(r *http.Request, withSlot bool) (activityTarget, error) {
	var t activityTarget
	ident, err := identity(r)
	if err != nil {
		return t, err
	}
	t.ident = ident
	t.tripID = chi.URLParam(r, "tripID")
	t.activityID = chi.URLParam(r, "activityID")

	if t.date, err = domain.ParseDate(chi.URLParam(r, "date")); err != nil {
		return t, err
	}
	if withSlot {
		if t.slot, err = domain.ParseTimeSlot(chi.URLParam(r, "slot")); err != nil {
			return t, err
		}
	}
	return t, nil
}

// Day handles GET /api/trips/{tripID}/days/{date}
func (h *ActivityHandler) Day(w http.ResponseWriter, r *http.Request) {
	t, err := parseTarget(r, false)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	if _, err := h.trips.RequireMember(r.Context(), t.tripID, t.ident.UserID); err != nil {
		respondError(w, r, err, h.logger)
		return
	}

	plan, err := h.activities.Day(r.Context(), t.tripID, t.date, t.ident.UserID)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	respondJSON(w, http.StatusOK, plan)
}

// Add handles POST /api/trips/{tripID}/days/{date}/{slot}/activities
func (h *ActivityHandler) Add(w http.ResponseWriter, r *http.Request) {
	t, err := parseTarget(r, true)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	var req domain.ActivityRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, r, err, h.logger)
		return
	}

	activity, err := h.activities.Add(r.Context(), t.tripID, t.ident, t.date, t.slot, service.ActivityInput{
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	respondJSON(w, http.StatusCreated, activity)
}

// Edit handles PATCH .../activities/{activityID}
func (h *ActivityHandler) Edit(w http.ResponseWriter, r *http.Request) {
	t, err := parseTarget(r, true)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	var req domain.ActivityRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, r, err, h.logger)
		return
	}

	activity, err := h.activities.Edit(r.Context(), t.tripID, t.ident, t.date, t.slot, t.activityID, service.ActivityInput{
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	respondJSON(w, http.StatusOK, activity)
}

// Delete handles DELETE .../activities/{activityID}
func (h *ActivityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	t, err := parseTarget(r, true)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	if err := h.activities.Delete(r.Context(), t.tripID, t.ident, t.date, t.slot, t.activityID); err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Vote handles POST .../vote. Direction 0 removes the caller's vote.
func (h *ActivityHandler) Vote(w http.ResponseWriter, r *http.Request) {
	h.vote(w, r, false)
}

// ToggleVote handles POST .../vote/toggle. Clicking the current direction
// again removes the vote.
func (h *ActivityHandler) ToggleVote(w http.ResponseWriter, r *http.Request) {
	h.vote(w, r, true)
}

func (h *ActivityHandler) vote(w http.ResponseWriter, r *http.Request, toggle bool) {
	t, err := parseTarget(r, true)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	var req domain.VoteRequest
	if err := decodeAndValidate(r, &req); err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	dir, err := planning.ParseDirection(req.Direction)
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}

	var view *service.ActivityView
	if toggle {
		view, err = h.activities.ToggleVote(r.Context(), t.tripID, t.ident, t.date, t.slot, t.activityID, dir)
	} else {
		view, err = h.activities.Vote(r.Context(), t.tripID, t.ident, t.date, t.slot, t.activityID, dir)
	}
	if err != nil {
		respondError(w, r, err, h.logger)
		return
	}
	respondJSON(w, http.StatusOK, view)
}
