package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNil is returned by Get when the key does not exist.
var ErrNil = redis.Nil

// ErrTxConflict is returned by Transact when the watched key kept changing.
var ErrTxConflict = errors.New("redis: transaction conflict")

type Client struct {
	rdb        *redis.Client
	KeyBuilder *KeyBuilder
	log        *zap.Logger
}

// Transaction retry policy for optimistic WATCH/MULTI updates.
const (
	maxTxAttempts = 10
	txBackoff     = 5 * time.Millisecond
)

// NewClient creates a new Redis client
func NewClient(redisURL string, environment string, log *zap.Logger) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = 50
	opts.MinIdleConns = 5
	opts.MaxRetries = 3
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if log == nil {
		log = zap.NewNop()
	}
	return &Client{rdb: rdb, KeyBuilder: NewKeyBuilder(environment), log: log}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}

// GetBytes retrieves a raw value. Missing keys return ErrNil.
func (c *Client) GetBytes(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	val, err := c.rdb.Get(ctx, key).Bytes()
	dur := time.Since(start)
	if err != nil && err != redis.Nil {
		c.log.Info("redis_get",
			zap.String("key_prefix", prefixForLog(key)),
			zap.Duration("duration", dur),
			zap.Error(err))
	} else {
		c.log.Debug("redis_get",
			zap.String("key_prefix", prefixForLog(key)),
			zap.Bool("hit", err == nil),
			zap.Duration("duration", dur))
	}
	return val, err
}

// Transact runs fn under WATCH key and retries when another client changed
// the key before EXEC. fn must queue its writes with tx.TxPipelined.
func (c *Client) Transact(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	start := time.Now()
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err := c.rdb.Watch(ctx, fn, key)
		if err == nil {
			c.log.Debug("redis_tx",
				zap.String("key_prefix", prefixForLog(key)),
				zap.Int("attempts", attempt),
				zap.Duration("duration", time.Since(start)))
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			c.log.Info("redis_tx",
				zap.String("key_prefix", prefixForLog(key)),
				zap.Int("attempts", attempt),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err))
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * txBackoff):
		}
	}
	c.log.Warn("redis_tx_conflict",
		zap.String("key_prefix", prefixForLog(key)),
		zap.Int("attempts", maxTxAttempts))
	return ErrTxConflict
}

// Subscribe opens a pub/sub connection and waits for the server to confirm
// the subscription, so no message published afterwards is missed.
func (c *Client) Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	pubsub := c.rdb.Subscribe(ctx, channels...)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		c.log.Info("redis_subscribe",
			zap.Strings("channels", channels),
			zap.Error(err))
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	c.log.Debug("redis_subscribe", zap.Strings("channels", channels))
	return pubsub, nil
}

// Health checks the Redis connection
func (c *Client) Health(ctx context.Context) error {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	dur := time.Since(start)
	if err != nil {
		c.log.Info("redis_ping",
			zap.Duration("duration", dur),
			zap.Error(err))
	} else {
		c.log.Debug("redis_ping", zap.Duration("duration", dur))
	}
	return err
}

// prefixForLog returns a safe prefix of a key to avoid logging PII
func prefixForLog(key string) string {
	if len(key) <= 32 {
		return key
	}
	return key[:32] + "…"
}
