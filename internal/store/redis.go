package store

import (
	"context"
	"errors"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	pkgredis "triplab/pkg/redis"
)

// RedisBackend stores each document as one JSON string and announces changes
// on a per-document pub/sub channel. Writes use WATCH/MULTI so concurrent
// instances serialize per document.
type RedisBackend struct {
	client *pkgredis.Client
	log    *zap.Logger
}

func NewRedisBackend(client *pkgredis.Client, log *zap.Logger) *RedisBackend {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBackend{client: client, log: log}
}

func (b *RedisBackend) Name() string { return "redis" }

func (b *RedisBackend) Load(ctx context.Context, root string) ([]byte, error) {
	doc, err := b.client.GetBytes(ctx, b.client.KeyBuilder.KeyDocument(root))
	if errors.Is(err, pkgredis.ErrNil) {
		return nil, nil
	}
	return doc, err
}

func (b *RedisBackend) Mutate(ctx context.Context, root string, fn MutateFunc) error {
	key := b.client.KeyBuilder.KeyDocument(root)
	channel := b.client.KeyBuilder.KeyDocumentChannel(root)

	return b.client.Transact(ctx, key, func(tx *goredis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, goredis.Nil) {
			current = nil
		} else if err != nil {
			return err
		}

		next, changed, err := fn(current)
		if err != nil || !changed {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, key)
			} else {
				pipe.Set(ctx, key, next, 0)
			}
			pipe.Publish(ctx, channel, root)
			return nil
		})
		return err
	})
}

func (b *RedisBackend) Watch(ctx context.Context, root string) (Watcher, error) {
	pubsub, err := b.client.Subscribe(ctx, b.client.KeyBuilder.KeyDocumentChannel(root))
	if err != nil {
		return nil, err
	}
	w := &redisWatcher{
		pubsub: pubsub,
		ch:     make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go w.pump()
	return w, nil
}

// Close is a no-op; the Redis client is owned by the container.
func (b *RedisBackend) Close() error { return nil }

type redisWatcher struct {
	pubsub *goredis.PubSub
	ch     chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (w *redisWatcher) pump() {
	msgs := w.pubsub.Channel()
	for {
		select {
		case <-w.done:
			return
		case _, ok := <-msgs:
			if !ok {
				return
			}
			select {
			case w.ch <- struct{}{}:
			default:
			}
		}
	}
}

func (w *redisWatcher) Changes() <-chan struct{} { return w.ch }

func (w *redisWatcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.pubsub.Close()
	})
	return err
}
