package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"triplab/pkg/database"
)

const listenRetryDelay = time.Second

// PostgresBackend keeps each document in a JSONB row. Writers lock the row
// with SELECT ... FOR UPDATE; commits send pg_notify so every instance can
// refresh its subscribers.
type PostgresBackend struct {
	pool *pgxpool.Pool
	log  *zap.Logger

	mu        sync.Mutex
	watchers  map[string]map[*pgWatcher]struct{}
	listening bool
	ready     chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewPostgresBackend(pool *pgxpool.Pool, log *zap.Logger) *PostgresBackend {
	if log == nil {
		log = zap.NewNop()
	}
	return &PostgresBackend{
		pool:     pool,
		log:      log,
		watchers: make(map[string]map[*pgWatcher]struct{}),
	}
}

func (b *PostgresBackend) Name() string { return "postgres" }

func (b *PostgresBackend) Load(ctx context.Context, root string) ([]byte, error) {
	var body []byte
	err := b.pool.QueryRow(ctx, `SELECT body FROM documents WHERE root = $1`, root).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", root, err)
	}
	return body, nil
}

func (b *PostgresBackend) Mutate(ctx context.Context, root string, fn MutateFunc) error {
	return pgx.BeginFunc(ctx, b.pool, func(tx pgx.Tx) error {
		// Make sure a row exists so FOR UPDATE has something to lock.
		if _, err := tx.Exec(ctx,
			`INSERT INTO documents (root, body) VALUES ($1, NULL) ON CONFLICT (root) DO NOTHING`, root); err != nil {
			return fmt.Errorf("reserve %s: %w", root, err)
		}

		var current []byte
		if err := tx.QueryRow(ctx,
			`SELECT body FROM documents WHERE root = $1 FOR UPDATE`, root).Scan(&current); err != nil {
			return fmt.Errorf("lock %s: %w", root, err)
		}

		next, changed, err := fn(current)
		if err != nil {
			return err
		}
		if !changed {
			if current == nil {
				// Drop the placeholder reserved above.
				if _, err := tx.Exec(ctx,
					`DELETE FROM documents WHERE root = $1 AND body IS NULL`, root); err != nil {
					return fmt.Errorf("release %s: %w", root, err)
				}
			}
			return nil
		}

		if next == nil {
			_, err = tx.Exec(ctx, `DELETE FROM documents WHERE root = $1`, root)
		} else {
			_, err = tx.Exec(ctx,
				`UPDATE documents SET body = $2::jsonb, updated_at = NOW() WHERE root = $1`, root, string(next))
		}
		if err != nil {
			return fmt.Errorf("write %s: %w", root, err)
		}

		if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, database.DocumentsChannel, root); err != nil {
			return fmt.Errorf("notify %s: %w", root, err)
		}
		return nil
	})
}

// Watch registers interest in root and starts the shared listener on first use.
func (b *PostgresBackend) Watch(ctx context.Context, root string) (Watcher, error) {
	b.mu.Lock()
	if !b.listening {
		listenCtx, cancel := context.WithCancel(context.Background())
		b.listening = true
		b.ready = make(chan struct{})
		b.cancel = cancel
		b.done = make(chan struct{})
		go b.listen(listenCtx)
	}
	ready := b.ready
	w := &pgWatcher{backend: b, root: root, ch: make(chan struct{}, 1)}
	if b.watchers[root] == nil {
		b.watchers[root] = make(map[*pgWatcher]struct{})
	}
	b.watchers[root][w] = struct{}{}
	b.mu.Unlock()

	select {
	case <-ready:
		return w, nil
	case <-ctx.Done():
		_ = w.Close()
		return nil, ctx.Err()
	}
}

func (b *PostgresBackend) listen(ctx context.Context) {
	defer close(b.done)
	announced := false
	for {
		err := b.listenOnce(ctx, &announced)
		if ctx.Err() != nil {
			return
		}
		b.log.Warn("postgres_listen_interrupted", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(listenRetryDelay):
		}
	}
}

func (b *PostgresBackend) listenOnce(ctx context.Context, announced *bool) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{database.DocumentsChannel}.Sanitize()); err != nil {
		return err
	}
	if !*announced {
		*announced = true
		close(b.ready)
	} else {
		// Notifications sent while reconnecting are lost; make every feed reload.
		b.signalAll()
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		b.signal(n.Payload)
	}
}

func (b *PostgresBackend) signal(root string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for w := range b.watchers[root] {
		w.signal()
	}
}

func (b *PostgresBackend) signalAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, set := range b.watchers {
		for w := range set {
			w.signal()
		}
	}
}

// Close stops the listener. The pool is owned by the container.
func (b *PostgresBackend) Close() error {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.listening = false
	b.watchers = make(map[string]map[*pgWatcher]struct{})
	b.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

type pgWatcher struct {
	backend *PostgresBackend
	root    string
	ch      chan struct{}
}

func (w *pgWatcher) signal() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

func (w *pgWatcher) Changes() <-chan struct{} { return w.ch }

func (w *pgWatcher) Close() error {
	b := w.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.watchers[w.root]; ok {
		delete(set, w)
		if len(set) == 0 {
			delete(b.watchers, w.root)
		}
	}
	return nil
}
