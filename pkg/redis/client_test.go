package redis

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	client, err := NewClient("redis://"+mr.Addr(), "test", zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name string
		url  string
	}{
		{name: "Invalid scheme", url: "invalid://url"},
		{name: "Empty URL", url: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewClient(tt.url, "test", zap.NewNop())
			assert.Error(t, err)
			assert.Nil(t, client)
		})
	}
}

func TestClient_GetBytes(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("test:doc", `{"a":1}`))

	got, err := client.GetBytes(ctx, "test:doc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(got))

	_, err = client.GetBytes(ctx, "test:missing")
	assert.ErrorIs(t, err, ErrNil)
}

func TestClient_Transact_SerializesConcurrentWriters(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx := context.Background()
	key := "test:counter"

	increment := func(tx *goredis.Tx) error {
		n, err := tx.Get(ctx, key).Int()
		if err != nil && err != goredis.Nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, n+1, 0)
			return nil
		})
		return err
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, client.Transact(ctx, key, increment))
		}()
	}
	wg.Wait()

	val, err := mr.Get(key)
	require.NoError(t, err)
	n, err := strconv.Atoi(val)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
}

func TestClient_TransactPublishReachesSubscriber(t *testing.T) {
	mr, client := setupTestRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	key := client.KeyBuilder.KeyDocument("trips/t1")
	channel := client.KeyBuilder.KeyDocumentChannel("trips/t1")
	pubsub, err := client.Subscribe(ctx, channel)
	require.NoError(t, err)
	defer pubsub.Close()

	err = client.Transact(ctx, key, func(tx *goredis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, `{"destination":"Lisbon"}`, 0)
			pipe.Publish(ctx, channel, "trips/t1")
			return nil
		})
		return err
	})
	require.NoError(t, err)

	select {
	case msg := <-pubsub.Channel():
		assert.Equal(t, "trips/t1", msg.Payload)
	case <-ctx.Done():
		t.Fatal("no message received")
	}
	assert.True(t, mr.Exists(key))
}

func TestClient_Health(t *testing.T) {
	mr, client := setupTestRedis(t)
	assert.NoError(t, client.Health(context.Background()))

	mr.Close()
	assert.Error(t, client.Health(context.Background()))
}

func TestPrefixForLog(t *testing.T) {
	assert.Equal(t, "short", prefixForLog("short"))
	long := "prod:doc:trips/0190e6a2-8c1d-7abc-9def-0123456789ab"
	assert.Equal(t, long[:32]+"…", prefixForLog(long))
}
