package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"triplab/internal/domain"
	"triplab/internal/observability"
	"triplab/internal/planning"
	"triplab/internal/store"
	apperrors "triplab/pkg/errors"
)

// SessionHooks are called from store delivery goroutines. They must not block.
type SessionHooks struct {
	OnTrip      func(*domain.Trip)
	OnSelection func([]domain.Date)
	OnError     func(error)
}

// Session is one traveler's live view of a trip: the trip stream, their
// synchronized selection, the calendar guards and drag selection.
type Session struct {
	ident    domain.Identity
	tripID   string
	trips    *TripService
	locks    *LockCoordinator
	sync     *AvailabilitySynchronizer
	drag     *planning.DragSelection
	notifier Notifier
	hooks    SessionHooks
	logger   *zap.Logger
	metrics  *observability.Metrics
	now      func() time.Time

	tripSub *store.Subscription

	mu     sync.Mutex
	prev   *domain.Trip
	closed bool
}

type SessionConfig struct {
	Sync     SyncOptions
	Notifier Notifier
	Hooks    SessionHooks
	Now      func() time.Time
}

// SessionFactory opens live sessions with shared dependencies.
type SessionFactory struct {
	store   store.Store
	trips   *TripService
	locks   *LockCoordinator
	logger  *zap.Logger
	metrics *observability.Metrics
	sync    SyncOptions
}

func NewSessionFactory(st store.Store, trips *TripService, locks *LockCoordinator, logger *zap.Logger, metrics *observability.Metrics, syncOpts SyncOptions) *SessionFactory {
	syncOpts.Metrics = metrics
	return &SessionFactory{store: st, trips: trips, locks: locks, logger: logger, metrics: metrics, sync: syncOpts}
}

// Open starts a session for a member of tripID. cfg.Sync callbacks are
// replaced by the session's own; timing fields left zero use the factory's.
func (f *SessionFactory) Open(ctx context.Context, tripID string, ident domain.Identity, cfg SessionConfig) (*Session, error) {
	trip, err := f.trips.RequireMember(ctx, tripID, ident.UserID)
	if err != nil {
		return nil, err
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NewLogNotifier(f.logger)
	}

	s := &Session{
		ident:    ident,
		tripID:   tripID,
		trips:    f.trips,
		locks:    f.locks,
		notifier: notifier,
		hooks:    cfg.Hooks,
		logger:   f.logger.With(zap.String("trip_id", tripID), zap.String("user_id", ident.UserID)),
		metrics:  f.metrics,
		now:      now,
	}

	opts := f.sync
	if cfg.Sync.Debounce > 0 {
		opts.Debounce = cfg.Sync.Debounce
	}
	if cfg.Sync.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.Sync.WriteTimeout
	}
	if cfg.Sync.AfterFunc != nil {
		opts.AfterFunc = cfg.Sync.AfterFunc
	}
	opts.OnChange = s.selectionChanged
	opts.OnError = s.reportError

	view := planning.NewCalendarView(domain.DateOf(now()), trip.Member(ident.UserID).LockedDates)
	s.sync, err = NewAvailabilitySynchronizer(ctx, f.store, tripID, ident.UserID, f.logger, opts)
	if err != nil {
		return nil, err
	}
	s.drag = planning.NewDragSelection(s.sync, view)

	ready := make(chan struct{})
	var once sync.Once
	s.tripSub, err = f.trips.Watch(context.WithoutCancel(ctx), tripID, func(trip *domain.Trip, err error) {
		s.tripChanged(trip, err)
		once.Do(func() { close(ready) })
	})
	if err != nil {
		s.sync.Close()
		return nil, err
	}
	select {
	case <-ready:
	case <-ctx.Done():
		s.tripSub.Cancel()
		s.sync.Close()
		return nil, ctx.Err()
	}

	f.metrics.SessionOpened()
	s.logger.Info("session_opened")
	return s, nil
}

func (s *Session) Identity() domain.Identity { return s.ident }
func (s *Session) TripID() string            { return s.tripID }

func (s *Session) tripChanged(trip *domain.Trip, err error) {
	if err != nil {
		s.reportError(err)
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	prev := s.prev
	s.prev = trip
	s.mu.Unlock()

	// Only follow edges of the stored flag so a late snapshot cannot undo
	// a lock change this session just made.
	if me := trip.Member(s.ident.UserID); me != nil {
		before := prev.Member(s.ident.UserID)
		if before == nil || before.LockedDates != me.LockedDates {
			view := s.drag.View()
			view.Locked = me.LockedDates
			s.drag.SetView(view)
		}
	}

	for _, ev := range DiffEvents(prev, trip, s.ident.UserID, s.now()) {
		s.notifier.Notify(ev)
	}
	if s.hooks.OnTrip != nil {
		s.hooks.OnTrip(trip)
	}
}

func (s *Session) selectionChanged(dates []domain.Date) {
	if s.hooks.OnSelection != nil {
		s.hooks.OnSelection(dates)
	}
}

func (s *Session) reportError(err error) {
	s.logger.Warn("session_error", zap.Error(err))
	if s.hooks.OnError != nil {
		s.hooks.OnError(err)
	}
}

// Trip returns the latest trip state seen by the session.
func (s *Session) Trip() *domain.Trip {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prev
}

func (s *Session) Selected() []domain.Date { return s.sync.Selected() }

func (s *Session) View() planning.CalendarView { return s.drag.View() }

// SetMonth changes the displayed month.
func (s *Session) SetMonth(year int, month time.Month) error {
	if month < time.January || month > time.December {
		return apperrors.NewValidationError("invalid month", map[string]interface{}{"month": int(month)})
	}
	view := s.drag.View()
	view.Year, view.Month = year, month
	view.Today = domain.DateOf(s.now())
	s.drag.SetView(view)
	return nil
}

// SetGrid installs the rendered calendar geometry used for pointer moves.
func (s *Session) SetGrid(grid planning.CalendarGrid) {
	s.drag.SetHitTester(grid)
}

func (s *Session) guardedView() planning.CalendarView {
	view := s.drag.View()
	view.Today = domain.DateOf(s.now())
	return view
}

// Toggle flips one date, subject to the lock and past-date guards.
func (s *Session) Toggle(date domain.Date) ([]domain.Date, error) {
	view := s.guardedView()
	if view.Locked {
		return nil, apperrors.NewValidationError("Your dates are locked", nil)
	}
	if !view.CanToggle(date) {
		return nil, apperrors.NewValidationError("Date cannot be selected", map[string]interface{}{"date": string(date)})
	}
	return s.sync.Toggle(date)
}

// SetDates replaces the selection. Past dates are rejected.
func (s *Session) SetDates(dates []domain.Date) ([]domain.Date, error) {
	view := s.guardedView()
	if view.Locked {
		return nil, apperrors.NewValidationError("Your dates are locked", nil)
	}
	for _, d := range dates {
		if !view.CanToggle(d) {
			return nil, apperrors.NewValidationError("Date cannot be selected", map[string]interface{}{"date": string(d)})
		}
	}
	return s.sync.Replace(dates)
}

func (s *Session) DragStart(anchor domain.Date) bool {
	s.drag.SetView(s.guardedView())
	return s.drag.Start(anchor)
}

func (s *Session) DragEnter(date domain.Date) bool { return s.drag.Enter(date) }

func (s *Session) PointerMove(x, y float64) bool { return s.drag.PointerMove(x, y) }

// DragEnd commits the drag, returning the new selection or nil.
func (s *Session) DragEnd() []domain.Date { return s.drag.Commit() }

// SetLocked writes pending edits first so the overlap sees them.
func (s *Session) SetLocked(ctx context.Context, locked bool) (*LockResult, error) {
	if err := s.sync.Flush(ctx); err != nil {
		return nil, err
	}
	res, err := s.locks.SetLocked(ctx, s.tripID, s.ident.UserID, locked)
	if err != nil {
		return nil, err
	}
	view := s.drag.View()
	view.Locked = locked
	s.drag.SetView(view)
	return res, nil
}

func (s *Session) Flush(ctx context.Context) error { return s.sync.Flush(ctx) }

// Close flushes nothing: a pending edit is abandoned.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.tripSub.Cancel()
	s.sync.Close()
	s.metrics.SessionClosed()
	s.logger.Info("session_closed")
}
