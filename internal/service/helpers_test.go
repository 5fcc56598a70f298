package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"triplab/internal/domain"
	"triplab/internal/store"
)

const waitTimeout = 2 * time.Second

func d(s string) domain.Date { return domain.Date(s) }

func ds(ss ...string) []domain.Date {
	out := make([]domain.Date, len(ss))
	for i, s := range ss {
		out[i] = domain.Date(s)
	}
	return out
}

func newMemStore(t *testing.T) *store.DocumentStore {
	t.Helper()
	st := store.New(store.NewMemoryBackend(), zap.NewNop(), nil)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

var (
	ada = domain.Identity{UserID: "user-ada", Name: "Ada"}
	bo  = domain.Identity{UserID: "user-bo", Name: "Bo"}
	cy  = domain.Identity{UserID: "user-cy", Name: "Cy"}
)

// newTrip creates a trip owned by owner and joins the others.
func newTrip(t *testing.T, trips *TripService, owner domain.Identity, others ...domain.Identity) string {
	t.Helper()
	ctx := context.Background()
	created, err := trips.Create(ctx, owner, "Lisbon")
	require.NoError(t, err)
	for _, o := range others {
		_, err := trips.Join(ctx, o, created.ShareableCode)
		require.NoError(t, err)
	}
	return created.TripID
}

// fakeTimers is a manually driven AfterFunc.
type fakeTimers struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

type fakeTimer struct {
	mu      sync.Mutex
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeTimers) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Active counts timers that were neither stopped nor fired.
func (c *fakeTimers) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		t.mu.Lock()
		if !t.stopped && !t.fired {
			n++
		}
		t.mu.Unlock()
	}
	return n
}

func (c *fakeTimers) Created() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Fire runs every active timer. With includeStopped, stopped timers run too,
// as a timer that lost the race with Stop would.
func (c *fakeTimers) Fire(includeStopped bool) int {
	c.mu.Lock()
	timers := append([]*fakeTimer(nil), c.timers...)
	c.mu.Unlock()

	n := 0
	for _, t := range timers {
		t.mu.Lock()
		run := !t.fired && (includeStopped || !t.stopped)
		if run {
			t.fired = true
		}
		t.mu.Unlock()
		if run {
			t.f()
			n++
		}
	}
	return n
}
