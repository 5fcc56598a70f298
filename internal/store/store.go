// Package store is the hierarchical document store every planning component
// reads from, writes to and subscribes on.
//
// Paths look like "trips/{id}/users/{uid}/selectedDates". The first two
// segments name a document (its root); a Backend persists whole documents and
// announces when one changed. DocumentStore layers path addressing, subtree
// writes and per-path subscriptions on top.
//
// Guarantees: last accepted write per path wins; writes to one root are
// serialized by the backend; each subscription sees values in commit order,
// gets the current value first and is only called again when the value at its
// path actually changed. Notifications are best effort: bursts of writes may
// be coalesced into their final state.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"triplab/internal/observability"
	apperrors "triplab/pkg/errors"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Store is what the planning services depend on.
type Store interface {
	Get(ctx context.Context, path string) (Snapshot, error)
	Set(ctx context.Context, path string, value interface{}) error
	Update(ctx context.Context, path string, children map[string]interface{}) error
	Delete(ctx context.Context, path string) error
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (*Subscription, error)
}

// Snapshot is the value at a path at some point in time.
type Snapshot struct {
	Path  string
	Value json.RawMessage
}

// Exists reports whether anything is stored at the path.
func (s Snapshot) Exists() bool { return len(s.Value) > 0 }

// Decode unmarshals the value into v. Absent values leave v untouched.
func (s Snapshot) Decode(v interface{}) error {
	if !s.Exists() {
		return nil
	}
	return json.Unmarshal(s.Value, v)
}

// MutateFunc receives the stored document (nil when absent) and returns the
// document to store (nil to delete) and whether it differs from current.
type MutateFunc func(current []byte) (next []byte, changed bool, err error)

// Backend persists whole documents keyed by root.
type Backend interface {
	Name() string
	Load(ctx context.Context, root string) ([]byte, error)
	// Mutate applies fn atomically with respect to other writers of root and
	// announces the change to watchers of root when fn reports one.
	Mutate(ctx context.Context, root string, fn MutateFunc) error
	// Watch returns a watcher signalling after every change to root.
	// ctx bounds the setup only.
	Watch(ctx context.Context, root string) (Watcher, error)
	Close() error
}

// Watcher delivers coalesced change signals for one root.
type Watcher interface {
	Changes() <-chan struct{}
	Close() error
}

// DocumentStore implements Store over a Backend.
type DocumentStore struct {
	backend Backend
	log     *zap.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	feeds  map[string]*feed
	closed bool
}

// New wraps backend. metrics may be nil.
func New(backend Backend, log *zap.Logger, metrics *observability.Metrics) *DocumentStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &DocumentStore{
		backend: backend,
		log:     log.With(zap.String("backend", backend.Name())),
		metrics: metrics,
		feeds:   make(map[string]*feed),
	}
}

// Backend returns the underlying backend name, e.g. for health output.
func (s *DocumentStore) Backend() string { return s.backend.Name() }

func (s *DocumentStore) Get(ctx context.Context, path string) (Snapshot, error) {
	root, rest, err := splitRoot(path)
	if err != nil {
		return Snapshot{}, err
	}
	raw, err := s.backend.Load(ctx, root)
	if err != nil {
		s.log.Warn("store_read_failed", zap.String("path", path), zap.Error(err))
		return Snapshot{}, apperrors.NewInternalError("store read failed", err).WithDetail("path", path)
	}
	tree, err := decodeDoc(raw)
	if err != nil {
		return Snapshot{}, apperrors.NewSchemaMismatchError(path, err)
	}
	return Snapshot{Path: path, Value: encodeValue(valueAt(tree, rest))}, nil
}

// Set replaces the value at path. A nil value deletes it.
func (s *DocumentStore) Set(ctx context.Context, path string, value interface{}) error {
	root, rest, err := splitRoot(path)
	if err != nil {
		return err
	}
	val, err := normalize(value)
	if err != nil {
		return apperrors.NewValidationError("value is not representable as a document", map[string]interface{}{
			"path":  path,
			"error": err.Error(),
		})
	}
	return s.mutate(ctx, path, root, func(tree interface{}) interface{} {
		return setAt(tree, rest, val)
	})
}

// Update writes several children of path in one atomic step. Keys may be
// relative paths ("users/u1/lockedDates"); nil values delete.
func (s *DocumentStore) Update(ctx context.Context, path string, children map[string]interface{}) error {
	root, rest, err := splitRoot(path)
	if err != nil {
		return err
	}

	type change struct {
		segs []string
		val  interface{}
	}
	keys := make([]string, 0, len(children))
	for k := range children {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	changes := make([]change, 0, len(keys))
	for _, k := range keys {
		segs, err := splitPath(k)
		if err != nil {
			return err
		}
		val, err := normalize(children[k])
		if err != nil {
			return apperrors.NewValidationError("value is not representable as a document", map[string]interface{}{
				"path":  path + "/" + k,
				"error": err.Error(),
			})
		}
		full := make([]string, 0, len(rest)+len(segs))
		full = append(append(full, rest...), segs...)
		changes = append(changes, change{segs: full, val: val})
	}

	return s.mutate(ctx, path, root, func(tree interface{}) interface{} {
		for _, c := range changes {
			tree = setAt(tree, c.segs, c.val)
		}
		return tree
	})
}

func (s *DocumentStore) Delete(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

func (s *DocumentStore) mutate(ctx context.Context, path, root string, apply func(tree interface{}) interface{}) error {
	if s.isClosed() {
		return apperrors.NewRemoteWriteError(path, ErrClosed)
	}

	start := time.Now()
	err := s.backend.Mutate(ctx, root, func(current []byte) ([]byte, bool, error) {
		tree, err := decodeDoc(current)
		if err != nil {
			return nil, false, err
		}
		before, err := encodeDoc(tree)
		if err != nil {
			return nil, false, err
		}
		next, err := encodeDoc(apply(tree))
		if err != nil {
			return nil, false, err
		}
		return next, !bytes.Equal(before, next), nil
	})
	elapsed := time.Since(start)
	s.metrics.StoreWrite(s.backend.Name(), err, elapsed)

	if err != nil {
		s.log.Warn("store_write_failed",
			zap.String("path", path),
			zap.Duration("duration", elapsed),
			zap.Error(err))
		return apperrors.NewRemoteWriteError(path, err)
	}
	s.log.Debug("store_write",
		zap.String("path", path),
		zap.Duration("duration", elapsed))
	return nil
}

// Subscribe calls fn with the current value at path and again after every
// change of that value. Calls for one subscription never overlap. The
// subscription ends on Cancel, when ctx is done, or when the store is closed.
func (s *DocumentStore) Subscribe(ctx context.Context, path string, fn func(Snapshot)) (*Subscription, error) {
	root, rest, err := splitRoot(path)
	if err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, apperrors.NewValidationError("subscription callback is required", nil)
	}

	sub := newSubscription(path, root, rest, fn, s.release)
	f, err := s.attach(ctx, root, sub)
	if err != nil {
		return nil, err
	}
	go sub.run()
	stop := context.AfterFunc(ctx, sub.Cancel)
	sub.mu.Lock()
	sub.stopAfter = stop
	sub.mu.Unlock()
	f.kick()
	return sub, nil
}

// attach adds sub to the feed of root, starting the feed if needed.
func (s *DocumentStore) attach(ctx context.Context, root string, sub *Subscription) (*feed, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if f, ok := s.feeds[root]; ok {
		f.add(sub)
		s.mu.Unlock()
		return f, nil
	}
	s.mu.Unlock()

	w, err := s.backend.Watch(ctx, root)
	if err != nil {
		s.log.Warn("store_watch_failed", zap.String("root", root), zap.Error(err))
		return nil, apperrors.NewInternalError("subscribe failed", err).WithDetail("root", root)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = w.Close()
		return nil, ErrClosed
	}
	if f, ok := s.feeds[root]; ok {
		_ = w.Close()
		f.add(sub)
		return f, nil
	}
	f := newFeed(s, root, w)
	f.add(sub)
	s.feeds[root] = f
	go f.run()
	return f, nil
}

// release detaches a cancelled subscription and stops its feed when it was the last one.
func (s *DocumentStore) release(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.feeds[sub.root]
	if !ok {
		return
	}
	if f.remove(sub) == 0 {
		delete(s.feeds, sub.root)
		f.stop()
	}
}

func (s *DocumentStore) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close ends every subscription and closes the backend.
func (s *DocumentStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	feeds := s.feeds
	s.feeds = map[string]*feed{}
	s.mu.Unlock()

	for _, f := range feeds {
		for _, sub := range f.members() {
			sub.shutdown(false)
		}
		f.stop()
	}
	return s.backend.Close()
}

// feed fans change signals of one root out to its subscriptions.
type feed struct {
	store   *DocumentStore
	root    string
	watcher Watcher
	kickCh  chan struct{}
	stopCh  chan struct{}
	once    sync.Once

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func newFeed(s *DocumentStore, root string, w Watcher) *feed {
	return &feed{
		store:   s,
		root:    root,
		watcher: w,
		kickCh:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		subs:    make(map[*Subscription]struct{}),
	}
}

func (f *feed) add(sub *Subscription) {
	f.mu.Lock()
	f.subs[sub] = struct{}{}
	f.mu.Unlock()
}

func (f *feed) remove(sub *Subscription) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, sub)
	return len(f.subs)
}

func (f *feed) members() []*Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*Subscription, 0, len(f.subs))
	for sub := range f.subs {
		out = append(out, sub)
	}
	return out
}

func (f *feed) kick() {
	select {
	case f.kickCh <- struct{}{}:
	default:
	}
}

func (f *feed) stop() {
	f.once.Do(func() {
		close(f.stopCh)
		if err := f.watcher.Close(); err != nil {
			f.store.log.Debug("store_watch_close", zap.String("root", f.root), zap.Error(err))
		}
	})
}

func (f *feed) run() {
	changes := f.watcher.Changes()
	for {
		select {
		case <-f.stopCh:
			return
		case _, ok := <-changes:
			if !ok {
				f.store.log.Warn("store_watch_ended", zap.String("root", f.root))
				changes = nil
				continue
			}
		case <-f.kickCh:
		}
		f.refresh()
	}
}

// refresh loads the document once and delivers to every subscription whose
// value changed. Only the feed goroutine touches primed/last.
func (f *feed) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	raw, err := f.store.backend.Load(ctx, f.root)
	if err != nil {
		f.store.log.Warn("store_refresh_failed", zap.String("root", f.root), zap.Error(err))
		time.AfterFunc(time.Second, f.kick)
		return
	}
	tree, err := decodeDoc(raw)
	if err != nil {
		f.store.log.Error("store_refresh_corrupt", zap.String("root", f.root), zap.Error(err))
		return
	}

	for _, sub := range f.members() {
		val := encodeValue(valueAt(tree, sub.rest))
		if sub.primed && bytes.Equal(sub.last, val) {
			continue
		}
		sub.primed = true
		sub.last = val
		sub.enqueue(Snapshot{Path: sub.path, Value: val})
		f.store.metrics.StoreNotification(f.store.backend.Name())
	}
}

// Subscription is a live listener on one path.
type Subscription struct {
	path    string
	root    string
	rest    []string
	fn      func(Snapshot)
	release func(*Subscription)

	mu    sync.Mutex
	queue []Snapshot
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once

	stopAfter func() bool

	// owned by the feed goroutine
	primed bool
	last   json.RawMessage
}

func newSubscription(path, root string, rest []string, fn func(Snapshot), release func(*Subscription)) *Subscription {
	return &Subscription{
		path:    path,
		root:    root,
		rest:    rest,
		fn:      fn,
		release: release,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (s *Subscription) Path() string { return s.path }

// Done is closed once the subscription has ended.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Cancel stops further deliveries. Safe to call more than once and from
// inside the callback.
func (s *Subscription) Cancel() { s.shutdown(true) }

func (s *Subscription) shutdown(release bool) {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		stop := s.stopAfter
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
		if release && s.release != nil {
			s.release(s)
		}
	})
}

func (s *Subscription) enqueue(snap Snapshot) {
	s.mu.Lock()
	s.queue = append(s.queue, snap)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.mu.Lock()
			if len(s.queue) == 0 {
				s.mu.Unlock()
				break
			}
			snap := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.fn(snap)
		}
	}
}
