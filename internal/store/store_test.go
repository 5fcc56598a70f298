package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "triplab/pkg/errors"
	pkgredis "triplab/pkg/redis"
)

const waitTimeout = 2 * time.Second

type backendFactory func(t *testing.T) Backend

func memoryFactory(t *testing.T) Backend { return NewMemoryBackend() }

func redisFactory(t *testing.T) Backend {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client, err := pkgredis.NewClient("redis://"+mr.Addr(), "test", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return NewRedisBackend(client, zap.NewNop())
}

func backends() map[string]backendFactory {
	return map[string]backendFactory{
		"memory": memoryFactory,
		"redis":  redisFactory,
	}
}

func newTestStore(t *testing.T, f backendFactory) *DocumentStore {
	s := New(f(t), zap.NewNop(), nil)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// recorder collects snapshot values delivered to a subscription.
type recorder struct {
	mu   sync.Mutex
	vals []string
	ch   chan string
}

func newRecorder() *recorder { return &recorder{ch: make(chan string, 64)} }

func (r *recorder) fn(s Snapshot) {
	v := string(s.Value)
	r.mu.Lock()
	r.vals = append(r.vals, v)
	r.mu.Unlock()
	r.ch <- v
}

func (r *recorder) next(t *testing.T) string {
	t.Helper()
	select {
	case v := <-r.ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for snapshot")
		return ""
	}
}

func (r *recorder) waitFor(t *testing.T, want string) {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case v := <-r.ch:
			if v == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func (r *recorder) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case v := <-r.ch:
		t.Fatalf("unexpected snapshot %s", v)
	case <-time.After(d):
	}
}

func TestStore_SetGet(t *testing.T) {
	for name, f := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t, f)
			ctx := context.Background()

			snap, err := s.Get(ctx, "trips/t1")
			require.NoError(t, err)
			assert.False(t, snap.Exists())

			require.NoError(t, s.Set(ctx, "trips/t1", map[string]interface{}{
				"destination":    "Lisbon",
				"allUsersLocked": false,
			}))
			require.NoError(t, s.Set(ctx, "trips/t1/users/u1/selectedDates", []string{"2024-07-01", "2024-07-02"}))

			snap, err = s.Get(ctx, "trips/t1/users/u1/selectedDates")
			require.NoError(t, err)
			var dates []string
			require.NoError(t, snap.Decode(&dates))
			assert.Equal(t, []string{"2024-07-01", "2024-07-02"}, dates)

			snap, err = s.Get(ctx, "trips/t1/destination")
			require.NoError(t, err)
			assert.JSONEq(t, `"Lisbon"`, string(snap.Value))

			snap, err = s.Get(ctx, "trips/t1/allUsersLocked")
			require.NoError(t, err)
			assert.True(t, snap.Exists())
			assert.JSONEq(t, `false`, string(snap.Value))
		})
	}
}

func TestStore_UpdateAndDelete(t *testing.T) {
	for name, f := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t, f)
			ctx := context.Background()

			require.NoError(t, s.Update(ctx, "trips/t1", map[string]interface{}{
				"users/u1/lockedDates": true,
				"users/u2/lockedDates": false,
				"allUsersLocked":       false,
			}))

			snap, err := s.Get(ctx, "trips/t1/users")
			require.NoError(t, err)
			assert.JSONEq(t, `{"u1":{"lockedDates":true},"u2":{"lockedDates":false}}`, string(snap.Value))

			require.NoError(t, s.Update(ctx, "trips/t1/users", map[string]interface{}{
				"u1": nil,
			}))
			snap, err = s.Get(ctx, "trips/t1/users/u1")
			require.NoError(t, err)
			assert.False(t, snap.Exists())

			require.NoError(t, s.Delete(ctx, "trips/t1/users/u2/lockedDates"))
			snap, err = s.Get(ctx, "trips/t1/users")
			require.NoError(t, err)
			assert.False(t, snap.Exists(), "empty parents are pruned")

			require.NoError(t, s.Delete(ctx, "trips/t1"))
			snap, err = s.Get(ctx, "trips/t1")
			require.NoError(t, err)
			assert.False(t, snap.Exists())
		})
	}
}

func TestStore_InvalidPaths(t *testing.T) {
	s := newTestStore(t, memoryFactory)
	ctx := context.Background()

	err := s.Set(ctx, "trips", true)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	err = s.Update(ctx, "trips/t1", map[string]interface{}{"bad.key": 1})
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))

	_, err = s.Subscribe(ctx, "trips/t1", nil)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
}

func TestStore_SubscribeDeliversCurrentThenChanges(t *testing.T) {
	for name, f := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t, f)
			ctx := context.Background()
			path := "trips/t1/users/u1/lockedDates"

			require.NoError(t, s.Set(ctx, path, false))

			rec := newRecorder()
			sub, err := s.Subscribe(ctx, path, rec.fn)
			require.NoError(t, err)
			defer sub.Cancel()

			assert.Equal(t, "false", rec.next(t))

			require.NoError(t, s.Set(ctx, path, true))
			assert.Equal(t, "true", rec.next(t))

			// A sibling write does not touch this path.
			require.NoError(t, s.Set(ctx, "trips/t1/users/u2/lockedDates", true))
			// Rewriting the same value is not a change.
			require.NoError(t, s.Set(ctx, path, true))
			rec.quiet(t, 150*time.Millisecond)

			// Replacing an ancestor is.
			require.NoError(t, s.Set(ctx, "trips/t1/users", nil))
			assert.Equal(t, "", rec.next(t))
		})
	}
}

func TestStore_SubscriptionOrdering(t *testing.T) {
	for name, f := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t, f)
			ctx := context.Background()
			path := "trips/t1/counter"

			rec := newRecorder()
			sub, err := s.Subscribe(ctx, path, rec.fn)
			require.NoError(t, err)
			defer sub.Cancel()
			assert.Equal(t, "", rec.next(t))

			for i := 1; i <= 20; i++ {
				require.NoError(t, s.Set(ctx, path, i))
			}
			rec.waitFor(t, "20")

			rec.mu.Lock()
			defer rec.mu.Unlock()
			prev := 0
			for _, v := range rec.vals[1:] {
				var n int
				require.NoError(t, json.Unmarshal([]byte(v), &n))
				assert.Greater(t, n, prev, "values arrive in commit order")
				prev = n
			}
		})
	}
}

func TestStore_CancelStopsDelivery(t *testing.T) {
	for name, f := range backends() {
		t.Run(name, func(t *testing.T) {
			s := newTestStore(t, f)
			ctx := context.Background()
			path := "trips/t1/allUsersLocked"

			rec := newRecorder()
			sub, err := s.Subscribe(ctx, path, rec.fn)
			require.NoError(t, err)
			rec.next(t)

			sub.Cancel()
			sub.Cancel()
			<-sub.Done()

			require.NoError(t, s.Set(ctx, path, true))
			rec.quiet(t, 150*time.Millisecond)

			s.mu.Lock()
			assert.Empty(t, s.feeds, "last subscription releases its feed")
			s.mu.Unlock()
		})
	}
}

func TestStore_ContextCancelEndsSubscription(t *testing.T) {
	s := newTestStore(t, memoryFactory)
	ctx, cancel := context.WithCancel(context.Background())

	rec := newRecorder()
	sub, err := s.Subscribe(ctx, "trips/t1/x", rec.fn)
	require.NoError(t, err)
	rec.next(t)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(waitTimeout):
		t.Fatal("subscription not ended by context")
	}
}

func TestStore_SharedFeed(t *testing.T) {
	s := newTestStore(t, memoryFactory)
	ctx := context.Background()

	a, b := newRecorder(), newRecorder()
	subA, err := s.Subscribe(ctx, "trips/t1/users/u1", a.fn)
	require.NoError(t, err)
	subB, err := s.Subscribe(ctx, "trips/t1/users/u2", b.fn)
	require.NoError(t, err)
	a.next(t)
	b.next(t)

	s.mu.Lock()
	assert.Len(t, s.feeds, 1)
	s.mu.Unlock()

	require.NoError(t, s.Set(ctx, "trips/t1/users/u2/name", "Bo"))
	assert.JSONEq(t, `{"name":"Bo"}`, b.next(t))
	a.quiet(t, 100*time.Millisecond)

	subA.Cancel()
	require.NoError(t, s.Set(ctx, "trips/t1/users/u2/name", "Bea"))
	assert.JSONEq(t, `{"name":"Bea"}`, b.next(t))
	subB.Cancel()
}

func TestStore_Close(t *testing.T) {
	s := New(NewMemoryBackend(), zap.NewNop(), nil)
	ctx := context.Background()

	rec := newRecorder()
	sub, err := s.Subscribe(ctx, "trips/t1/x", rec.fn)
	require.NoError(t, err)
	rec.next(t)

	require.NoError(t, s.Close())
	<-sub.Done()

	err = s.Set(ctx, "trips/t1/x", 1)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeRemoteWrite))
	assert.True(t, errors.Is(err, ErrClosed))

	_, err = s.Subscribe(ctx, "trips/t1/x", rec.fn)
	assert.ErrorIs(t, err, ErrClosed)
}

// failingBackend rejects every write.
type failingBackend struct {
	*MemoryBackend
}

func (failingBackend) Mutate(context.Context, string, MutateFunc) error {
	return errors.New("permission denied")
}

func TestStore_WriteFailureIsRemoteWriteError(t *testing.T) {
	s := New(failingBackend{NewMemoryBackend()}, zap.NewNop(), nil)
	defer s.Close()

	err := s.Set(context.Background(), "trips/t1/overlappedDates", []string{"2024-07-02"})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeRemoteWrite))
	assert.Equal(t, "trips/t1/overlappedDates", apperrors.AsAppError(err).Details["path"])
}
