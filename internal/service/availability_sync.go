package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"triplab/internal/domain"
	"triplab/internal/observability"
	"triplab/internal/store"
	apperrors "triplab/pkg/errors"
)

const (
	DefaultSyncDebounce     = 300 * time.Millisecond
	DefaultSyncWriteTimeout = 5 * time.Second
)

// ErrSyncClosed is returned by mutations after Close.
var ErrSyncClosed = errors.New("availability sync closed")

// Timer is the part of *time.Timer the synchronizer needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type SyncOptions struct {
	Debounce     time.Duration
	WriteTimeout time.Duration
	AfterFunc    AfterFunc
	// OnChange receives the local selection after every local edit and
	// every accepted remote value.
	OnChange func([]domain.Date)
	// OnError receives failed writes and undecodable remote values.
	OnError func(error)
	Metrics *observability.Metrics
}

// queuedWrite is closed on completion; err is set before done closes.
type queuedWrite struct {
	dates []domain.Date
	done  chan struct{}
	err   error
}

// AvailabilitySynchronizer keeps one traveler's local date selection in
// step with the stored selectedDates.
//
// Local edits apply at once and are written after a quiet period; every
// edit restarts the period. Remote values equal to what this synchronizer
// wrote, or means to write, are its own echoes and are ignored. Any other
// remote value replaces the local selection and drops a pending write.
// Failed writes are reported but neither retried nor rolled back. The next
// Flush writes the local selection again.
type AvailabilitySynchronizer struct {
	store  store.Store
	tripID string
	userID string
	path   string
	logger *zap.Logger
	opts   SyncOptions

	mu          sync.Mutex
	local       []domain.Date
	intended    []domain.Date
	hasIntended bool
	inflight    [][]domain.Date
	timer       Timer
	gen         uint64
	queue       []*queuedWrite
	last        *queuedWrite
	lastFailed  bool
	seeded      bool
	closed      bool

	sub  *store.Subscription
	wake chan struct{}
	stop chan struct{}
}

// NewAvailabilitySynchronizer subscribes to the traveler's selectedDates.
// The local selection is seeded by the first remote value, which is
// delivered before this returns.
func NewAvailabilitySynchronizer(ctx context.Context, st store.Store, tripID, userID string, logger *zap.Logger, opts SyncOptions) (*AvailabilitySynchronizer, error) {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultSyncDebounce
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultSyncWriteTimeout
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = realAfterFunc
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &AvailabilitySynchronizer{
		store:  st,
		tripID: tripID,
		userID: userID,
		path:   store.SelectedDatesPath(tripID, userID),
		logger: logger.With(zap.String("trip_id", tripID), zap.String("user_id", userID)),
		opts:   opts,
		local:  []domain.Date{},
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}

	seeded := make(chan struct{})
	var once sync.Once
	sub, err := st.Subscribe(context.WithoutCancel(ctx), s.path, func(snap store.Snapshot) {
		s.onRemote(snap)
		once.Do(func() { close(seeded) })
	})
	if err != nil {
		return nil, err
	}
	s.sub = sub

	select {
	case <-seeded:
	case <-sub.Done():
		return nil, store.ErrClosed
	case <-ctx.Done():
		sub.Cancel()
		return nil, ctx.Err()
	}

	go s.writer()
	return s, nil
}

// Selected returns a copy of the local selection.
func (s *AvailabilitySynchronizer) Selected() []domain.Date {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Date{}, s.local...)
}

// Toggle adds or removes date from the local selection.
func (s *AvailabilitySynchronizer) Toggle(date domain.Date) ([]domain.Date, error) {
	if !date.Valid() {
		return nil, apperrors.NewValidationError("invalid date", map[string]interface{}{"date": string(date)})
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSyncClosed
	}
	next := make([]domain.Date, 0, len(s.local)+1)
	found := false
	for _, d := range s.local {
		if d == date {
			found = true
			continue
		}
		next = append(next, d)
	}
	if !found {
		next = append(next, date)
	}
	out := s.applyLocked(domain.UniqueSorted(next))
	s.mu.Unlock()

	s.changed(out)
	return out, nil
}

// Replace sets the whole local selection.
func (s *AvailabilitySynchronizer) Replace(dates []domain.Date) ([]domain.Date, error) {
	for _, d := range dates {
		if !d.Valid() {
			return nil, apperrors.NewValidationError("invalid date", map[string]interface{}{"date": string(d)})
		}
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSyncClosed
	}
	out := s.applyLocked(domain.UniqueSorted(dates))
	s.mu.Unlock()

	s.changed(out)
	return out, nil
}

// SetAll is Replace for callers that cannot handle errors, such as a drag
// commit. Rejected selections are logged.
func (s *AvailabilitySynchronizer) SetAll(dates []domain.Date) {
	if _, err := s.Replace(dates); err != nil {
		s.logger.Warn("selection_rejected", zap.Error(err))
	}
}

// applyLocked installs next as the local selection and restarts the quiet
// period. Returns a copy for the caller.
func (s *AvailabilitySynchronizer) applyLocked(next []domain.Date) []domain.Date {
	s.local = next
	s.intended = next
	s.hasIntended = true
	s.lastFailed = false

	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen
	s.timer = s.opts.AfterFunc(s.opts.Debounce, func() { s.fire(gen) })

	return append([]domain.Date{}, next...)
}

// fire runs when the quiet period of generation gen ends.
func (s *AvailabilitySynchronizer) fire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || gen != s.gen {
		return
	}
	s.timer = nil
	s.enqueueLocked()
}

func (s *AvailabilitySynchronizer) enqueueLocked() *queuedWrite {
	value := append([]domain.Date{}, s.local...)
	w := &queuedWrite{dates: value, done: make(chan struct{})}
	s.inflight = append(s.inflight, value)
	s.queue = append(s.queue, w)
	s.last = w
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return w
}

// Flush writes a pending edit now and waits until the most recent write has
// completed. If that write failed and nothing changed since, the local
// selection is written again; an earlier failure is never returned twice.
func (s *AvailabilitySynchronizer) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSyncClosed
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
		s.gen++
		s.enqueueLocked()
	} else if s.lastFailed {
		s.lastFailed = false
		s.enqueueLocked()
	}
	w := s.last
	s.mu.Unlock()

	if w == nil {
		return nil
	}
	select {
	case <-w.done:
		return w.err
	case <-s.stop:
		return ErrSyncClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// writer performs queued writes one at a time, in order.
func (s *AvailabilitySynchronizer) writer() {
	for {
		select {
		case <-s.stop:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if s.closed || len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			w := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			w.err = s.persist(w.dates)
			s.mu.Lock()
			if s.last == w {
				s.lastFailed = w.err != nil
			}
			s.mu.Unlock()
			close(w.done)
		}
	}
}

func (s *AvailabilitySynchronizer) persist(dates []domain.Date) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
	defer cancel()

	err := s.store.Set(ctx, s.path, dates)
	s.opts.Metrics.SyncFlush(err)
	if err == nil {
		s.logger.Debug("selection_written", zap.Int("dates", len(dates)))
		return nil
	}

	// No echo will arrive for a failed write.
	s.mu.Lock()
	for i := len(s.inflight) - 1; i >= 0; i-- {
		if domain.SameDates(s.inflight[i], dates) {
			s.inflight = append(s.inflight[:i], s.inflight[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.logger.Warn("selection_write_failed", zap.Int("dates", len(dates)), zap.Error(err))
	if s.opts.OnError != nil {
		s.opts.OnError(err)
	}
	return err
}

// onRemote reconciles a stored value with the local selection.
func (s *AvailabilitySynchronizer) onRemote(snap store.Snapshot) {
	remote, err := domain.DecodeDates(s.path, snap.Value)
	if err != nil {
		s.logger.Warn("selection_decode_failed", zap.Error(err))
		if s.opts.OnError != nil {
			s.opts.OnError(err)
		}
		return
	}
	remote = domain.UniqueSorted(remote)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	// Values arrive in commit order, so an echo also confirms every
	// earlier write.
	for i, w := range s.inflight {
		if domain.SameDates(w, remote) {
			s.inflight = s.inflight[i+1:]
			s.mu.Unlock()
			s.opts.Metrics.SyncEcho()
			return
		}
	}
	if s.hasIntended && domain.SameDates(s.intended, remote) {
		s.mu.Unlock()
		s.opts.Metrics.SyncEcho()
		return
	}

	first := !s.seeded
	s.seeded = true
	s.local = remote
	s.intended = remote
	s.hasIntended = true
	s.inflight = nil
	s.lastFailed = false
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	out := append([]domain.Date{}, remote...)
	s.mu.Unlock()

	if !first {
		s.opts.Metrics.SyncOverride()
		s.logger.Debug("selection_overridden", zap.Int("dates", len(out)))
	}
	s.changed(out)
}

func (s *AvailabilitySynchronizer) changed(dates []domain.Date) {
	if s.opts.OnChange != nil {
		s.opts.OnChange(dates)
	}
}

// Close abandons a pending edit and stops listening. A write already in
// progress may still complete.
func (s *AvailabilitySynchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.mu.Unlock()

	close(s.stop)
	if s.sub != nil {
		s.sub.Cancel()
	}
}
