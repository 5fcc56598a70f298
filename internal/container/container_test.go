package container

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triplab/internal/config"
	"triplab/internal/domain"
	"triplab/internal/service"
	"triplab/pkg/logger"
)

func testConfig(backend string) *config.Config {
	return &config.Config{
		Environment:       "test",
		StoreBackend:      backend,
		JWTSecret:         "test-secret",
		TokenTTL:          time.Hour,
		SyncDebounce:      10 * time.Millisecond,
		StoreWriteTimeout: time.Second,
	}
}

func TestNew(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	redisCfg := testConfig(config.BackendRedis)
	redisCfg.RedisURL = "redis://" + mr.Addr()

	badRedis := testConfig(config.BackendRedis)
	badRedis.RedisURL = "invalid://redis-url"

	badPostgres := testConfig(config.BackendPostgres)
	badPostgres.DatabaseURL = "not a url"

	tests := []struct {
		name        string
		config      *config.Config
		wantBackend string
		expectRedis bool
		expectError bool
	}{
		{name: "memory backend", config: testConfig(config.BackendMemory), wantBackend: "memory"},
		{name: "redis backend", config: redisCfg, wantBackend: "redis", expectRedis: true},
		{name: "invalid redis url", config: badRedis, expectError: true},
		{name: "invalid database url", config: badPostgres, expectError: true},
		{name: "unknown backend", config: testConfig("etcd"), expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(context.Background(), tt.config, logger.NewNop(), prometheus.NewRegistry())
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, c)
				return
			}
			require.NoError(t, err)
			t.Cleanup(func() { _ = c.Store.Close() })

			assert.Equal(t, tt.config, c.GetConfig())
			assert.Equal(t, tt.wantBackend, c.StoreBackend())
			assert.Equal(t, tt.expectRedis, c.RedisClient != nil)
			assert.Nil(t, c.DB)
			assert.NoError(t, c.Health(context.Background()))

			require.NotNil(t, c.Services)
			assert.Implements(t, (*service.AuthService)(nil), c.Services.Auth)
			assert.Implements(t, (*service.ChatService)(nil), c.Services.Chat)
			assert.NotNil(t, c.Services.Trips)
			assert.NotNil(t, c.Services.Locks)
			assert.NotNil(t, c.Services.Activities)
			assert.NotNil(t, c.Services.Sessions)
		})
	}
}

func TestContainer_ServicesShareStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := testConfig(config.BackendRedis)
	cfg.RedisURL = "redis://" + mr.Addr()

	c, err := New(context.Background(), cfg, logger.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Store.Close() })

	ctx := context.Background()
	ada := domain.Identity{UserID: "user-ada", Name: "Ada"}
	created, err := c.Services.Trips.Create(ctx, ada, "Lisbon")
	require.NoError(t, err)

	res, err := c.Services.Locks.SetLocked(ctx, created.TripID, ada.UserID, true)
	require.NoError(t, err)
	assert.True(t, res.AllUsersLocked)

	trip, err := c.Services.Trips.Get(ctx, created.TripID)
	require.NoError(t, err)
	assert.Equal(t, "Lisbon", trip.Destination)
	assert.True(t, trip.Member(ada.UserID).LockedDates)
}

func TestContainer_HealthFailsWhenRedisIsGone(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	cfg := testConfig(config.BackendRedis)
	cfg.RedisURL = "redis://" + mr.Addr()

	c, err := New(context.Background(), cfg, logger.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Store.Close() })

	mr.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.Error(t, c.Health(ctx))
}
