package service

import (
	"context"

	"go.uber.org/zap"

	"triplab/internal/domain"
	"triplab/internal/observability"
	"triplab/internal/planning"
	"triplab/internal/store"
)

// Outcomes of a lock recompute, also used as metric labels.
const (
	LockOutcomePartial        = "partial"
	LockOutcomeNoOverlap      = "locked_no_overlap"
	LockOutcomeOverlapWritten = "overlap_written"
)

// LockResult describes the trip after a lock change.
type LockResult struct {
	Locked          bool          `json:"locked"`
	AllUsersLocked  bool          `json:"all_users_locked"`
	OverlappedDates []domain.Date `json:"overlapped_dates,omitempty"`
	OverlapWritten  bool          `json:"overlap_written"`
	Outcome         string        `json:"outcome"`
}

// LockCoordinator persists a traveler's lock flag and recomputes the
// trip-wide lock state and date overlap.
//
// The steps are separate writes. Two travelers locking at the same moment
// may each see the other as unlocked; the later recompute then writes the
// final state. overlappedDates is only ever written when everyone is locked
// and is left in place when someone unlocks.
type LockCoordinator struct {
	store   store.Store
	logger  *zap.Logger
	metrics *observability.Metrics
}

func NewLockCoordinator(st store.Store, logger *zap.Logger, metrics *observability.Metrics) *LockCoordinator {
	return &LockCoordinator{store: st, logger: logger, metrics: metrics}
}

// SetLocked sets userID's lock flag and recomputes allUsersLocked, writing
// the overlap once everybody is locked with a non-empty selection.
func (c *LockCoordinator) SetLocked(ctx context.Context, tripID, userID string, locked bool) (*LockResult, error) {
	if _, err := checkMember(ctx, c.store, tripID, userID); err != nil {
		return nil, err
	}

	if err := c.store.Set(ctx, store.LockedDatesPath(tripID, userID), locked); err != nil {
		return nil, err
	}

	usersPath := store.UsersPath(tripID)
	snap, err := c.store.Get(ctx, usersPath)
	if err != nil {
		return nil, err
	}
	users, err := domain.DecodeUsers(usersPath, snap.Value)
	if err != nil {
		return nil, err
	}

	all := planning.AllLocked(users)
	if err := c.store.Set(ctx, store.AllUsersLockedPath(tripID), all); err != nil {
		return nil, err
	}

	result := &LockResult{Locked: locked, AllUsersLocked: all, Outcome: LockOutcomePartial}
	if all {
		result.Outcome = LockOutcomeNoOverlap
		if planning.EverySelectionNonEmpty(users) {
			overlap := planning.UsersOverlap(users)
			if err := c.store.Set(ctx, store.OverlappedDatesPath(tripID), overlap); err != nil {
				return nil, err
			}
			result.OverlappedDates = overlap
			result.OverlapWritten = true
			result.Outcome = LockOutcomeOverlapWritten
		}
	}
	c.metrics.LockRecompute(result.Outcome)

	c.logger.Info("lock_updated",
		zap.String("trip_id", tripID),
		zap.String("user_id", userID),
		zap.Bool("locked", locked),
		zap.Bool("all_users_locked", all),
		zap.Int("overlap_days", len(result.OverlappedDates)),
		zap.String("outcome", result.Outcome))

	return result, nil
}

// Toggle flips the caller's current lock flag.
func (c *LockCoordinator) Toggle(ctx context.Context, tripID, userID string) (*LockResult, error) {
	user, err := checkMember(ctx, c.store, tripID, userID)
	if err != nil {
		return nil, err
	}
	return c.SetLocked(ctx, tripID, userID, !user.LockedDates)
}
