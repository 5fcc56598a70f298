package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"triplab/pkg/database"
)

// postgresFactory connects to TEST_DATABASE_URL and skips when it is unset,
// so the suite runs without a database by default.
func postgresFactory(t *testing.T) Backend {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping postgres backend tests")
	}

	ctx := context.Background()
	db, err := database.NewPostgresDB(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, db.EnsureSchema(ctx))

	b := NewPostgresBackend(db.Pool, zap.NewNop())
	t.Cleanup(func() {
		_ = b.Close()
		db.Close()
	})
	return b
}

func TestPostgresBackend_RoundTripAndNotify(t *testing.T) {
	s := newTestStore(t, postgresFactory)
	ctx := context.Background()
	root := "trips/" + uuid.NewString()

	rec := newRecorder()
	sub, err := s.Subscribe(ctx, root+"/allUsersLocked", rec.fn)
	require.NoError(t, err)
	defer sub.Cancel()
	assert.Equal(t, "", rec.next(t))

	require.NoError(t, s.Update(ctx, root, map[string]interface{}{
		"allUsersLocked":  true,
		"overlappedDates": []string{"2024-07-02"},
	}))
	assert.Equal(t, "true", rec.next(t))

	snap, err := s.Get(ctx, root+"/overlappedDates")
	require.NoError(t, err)
	assert.JSONEq(t, `["2024-07-02"]`, string(snap.Value))

	require.NoError(t, s.Delete(ctx, root))
	assert.Equal(t, "", rec.next(t))
}

func TestPostgresBackend_NoOpMutateLeavesNoRow(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping postgres backend tests")
	}
	ctx := context.Background()
	db, err := database.NewPostgresDB(ctx, dsn)
	require.NoError(t, err)
	require.NoError(t, db.EnsureSchema(ctx))
	b := NewPostgresBackend(db.Pool, zap.NewNop())
	s := New(b, zap.NewNop(), nil)
	t.Cleanup(func() {
		_ = s.Close()
		db.Close()
	})

	root := "trips/" + uuid.NewString()
	rows := func() int {
		var n int
		require.NoError(t, db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents WHERE root = $1`, root).Scan(&n))
		return n
	}

	require.NoError(t, s.Delete(ctx, root+"/users/u1"))
	assert.Equal(t, 0, rows(), "delete under a missing root")

	require.NoError(t, b.Mutate(ctx, root, func(current []byte) ([]byte, bool, error) {
		return nil, false, nil
	}))
	assert.Equal(t, 0, rows())

	require.NoError(t, s.Set(ctx, root+"/destination", "Lisbon"))
	assert.Equal(t, 1, rows())
	require.NoError(t, b.Mutate(ctx, root, func(current []byte) ([]byte, bool, error) {
		return current, false, nil
	}))
	assert.Equal(t, 1, rows(), "existing document untouched")
}
