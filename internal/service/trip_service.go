package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"triplab/internal/domain"
	"triplab/internal/store"
	apperrors "triplab/pkg/errors"
)

// maxCodeAttempts bounds the search for an unused shareable code.
const maxCodeAttempts = 5

type TripService struct {
	store   store.Store
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
	newCode func() (string, error)
}

func NewTripService(st store.Store, logger *zap.Logger) *TripService {
	return &TripService{
		store:   st,
		logger:  logger,
		now:     time.Now,
		newID:   newUUID,
		newCode: domain.GenerateCode,
	}
}

func newUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Create writes a new trip with the creator as its first traveler and
// registers a fresh shareable code for it.
func (s *TripService) Create(ctx context.Context, creator domain.Identity, destination string) (*domain.CreateTripResponse, error) {
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return nil, apperrors.NewValidationError("Destination is required", nil)
	}
	if creator.UserID == "" {
		return nil, apperrors.NewAuthenticationError("Sign in required")
	}

	code, err := s.unusedCode(ctx)
	if err != nil {
		return nil, err
	}

	tripID := s.newID()
	now := domain.TimestampOf(s.now())
	trip := &domain.Trip{
		SchemaVersion: domain.CurrentSchemaVersion,
		Destination:   destination,
		ShareableCode: code,
		CreatedBy:     creator.UserID,
		CreatedAt:     now,
		Users: map[string]*domain.UserState{
			creator.UserID: {
				Name:        creator.Name,
				Color:       domain.ColorForIndex(0),
				LockedDates: false,
				JoinedAt:    now,
			},
		},
		AllUsersLocked: false,
	}

	if err := s.store.Set(ctx, store.TripPath(tripID), trip); err != nil {
		return nil, err
	}
	if err := s.store.Set(ctx, store.CodePath(code), tripID); err != nil {
		return nil, err
	}

	s.logger.Info("trip_created",
		zap.String("trip_id", tripID),
		zap.String("code", code),
		zap.String("user_id", creator.UserID))

	return &domain.CreateTripResponse{TripID: tripID, ShareableCode: code}, nil
}

func (s *TripService) unusedCode(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		code, err := s.newCode()
		if err != nil {
			return "", apperrors.NewInternalError("Failed to generate trip code", err)
		}
		snap, err := s.store.Get(ctx, store.CodePath(code))
		if err != nil {
			return "", err
		}
		if !snap.Exists() {
			return code, nil
		}
		s.logger.Warn("trip_code_collision", zap.String("code", code), zap.Int("attempt", attempt))
	}
	return "", apperrors.NewInternalError("Failed to generate a unique trip code", nil)
}

// ResolveCode maps a shareable code to its trip id.
func (s *TripService) ResolveCode(ctx context.Context, raw string) (string, error) {
	code, err := domain.ValidateCode(raw)
	if err != nil {
		return "", err
	}
	snap, err := s.store.Get(ctx, store.CodePath(code))
	if err != nil {
		return "", err
	}
	var tripID string
	if err := snap.Decode(&tripID); err != nil {
		return "", apperrors.NewSchemaMismatchError(snap.Path, err)
	}
	if tripID == "" {
		return "", apperrors.NewNotFoundError("Invalid trip code")
	}
	return tripID, nil
}

// Join adds the caller to the trip behind code. Joining twice is a no-op
// reported through AlreadyJoined.
func (s *TripService) Join(ctx context.Context, ident domain.Identity, code string) (*domain.JoinTripResponse, error) {
	if ident.UserID == "" {
		return nil, apperrors.NewAuthenticationError("Sign in required")
	}
	tripID, err := s.ResolveCode(ctx, code)
	if err != nil {
		return nil, err
	}

	trip, err := s.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.Member(ident.UserID) != nil {
		return &domain.JoinTripResponse{TripID: tripID, AlreadyJoined: true}, nil
	}

	user := &domain.UserState{
		Name:        ident.Name,
		Color:       domain.ColorForIndex(len(trip.Users)),
		LockedDates: false,
		JoinedAt:    domain.TimestampOf(s.now()),
	}
	// A newcomer is unlocked, so the trip can no longer be fully locked.
	err = s.store.Update(ctx, store.TripPath(tripID), map[string]interface{}{
		"users/" + ident.UserID: user,
		"allUsersLocked":        false,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("trip_joined",
		zap.String("trip_id", tripID),
		zap.String("user_id", ident.UserID),
		zap.Int("travelers", len(trip.Users)+1))

	return &domain.JoinTripResponse{TripID: tripID}, nil
}

// Get reads and validates the whole trip document.
func (s *TripService) Get(ctx context.Context, tripID string) (*domain.Trip, error) {
	path := store.TripPath(tripID)
	snap, err := s.store.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, apperrors.NewNotFoundError("Trip not found")
	}
	return domain.DecodeTrip(tripID, path, snap.Value)
}

// RequireMember loads the trip and checks that userID has joined it.
func (s *TripService) RequireMember(ctx context.Context, tripID, userID string) (*domain.Trip, error) {
	trip, err := s.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.Member(userID) == nil {
		return nil, apperrors.NewNotAMemberError("You are not a member of this trip")
	}
	return trip, nil
}

// Watch streams the trip document. fn gets a NotFound error while the trip
// does not exist and a SchemaMismatch error for undecodable documents.
func (s *TripService) Watch(ctx context.Context, tripID string, fn func(*domain.Trip, error)) (*store.Subscription, error) {
	path := store.TripPath(tripID)
	return s.store.Subscribe(ctx, path, func(snap store.Snapshot) {
		if !snap.Exists() {
			fn(nil, apperrors.NewNotFoundError("Trip not found"))
			return
		}
		trip, err := domain.DecodeTrip(tripID, path, snap.Value)
		if err != nil {
			s.logger.Warn("trip_decode_failed", zap.String("trip_id", tripID), zap.Error(err))
		}
		fn(trip, err)
	})
}

// SetDates writes a member's selection immediately, without the debounce a
// live session applies. Locked members cannot change their dates.
func (s *TripService) SetDates(ctx context.Context, tripID, userID string, dates []domain.Date) ([]domain.Date, error) {
	for _, d := range dates {
		if !d.Valid() {
			return nil, apperrors.NewValidationError("invalid date", map[string]interface{}{"date": string(d)})
		}
	}
	member, err := checkMember(ctx, s.store, tripID, userID)
	if err != nil {
		return nil, err
	}
	if member.LockedDates {
		return nil, apperrors.NewValidationError("Your dates are locked", nil)
	}

	out := domain.UniqueSorted(dates)
	if err := s.store.Set(ctx, store.SelectedDatesPath(tripID, userID), out); err != nil {
		return nil, err
	}
	s.logger.Debug("dates_set", zap.String("trip_id", tripID), zap.String("user_id", userID), zap.Int("count", len(out)))
	return out, nil
}

// checkMember verifies membership by reading only the user's entry.
func checkMember(ctx context.Context, st store.Store, tripID, userID string) (*domain.UserState, error) {
	path := store.UserPath(tripID, userID)
	snap, err := st.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if !snap.Exists() {
		return nil, apperrors.NewNotAMemberError("You are not a member of this trip")
	}
	var u domain.UserState
	if err := snap.Decode(&u); err != nil {
		return nil, apperrors.NewSchemaMismatchError(path, err)
	}
	u.ID = userID
	return &u, nil
}
