package store

import (
	"context"
	"sync"
)

// MemoryBackend keeps documents in process. It is the default backend for a
// single instance and the one tests use.
type MemoryBackend struct {
	mu       sync.Mutex
	docs     map[string][]byte
	watchers map[string]map[*memoryWatcher]struct{}
	closed   bool
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		docs:     make(map[string][]byte),
		watchers: make(map[string]map[*memoryWatcher]struct{}),
	}
}

func (b *MemoryBackend) Name() string { return "memory" }

func (b *MemoryBackend) Load(_ context.Context, root string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	doc, ok := b.docs[root]
	if !ok {
		return nil, nil
	}
	out := make([]byte, len(doc))
	copy(out, doc)
	return out, nil
}

func (b *MemoryBackend) Mutate(ctx context.Context, root string, fn MutateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}

	next, changed, err := fn(b.docs[root])
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if next == nil {
		delete(b.docs, root)
	} else {
		b.docs[root] = next
	}
	for w := range b.watchers[root] {
		w.signal()
	}
	return nil
}

func (b *MemoryBackend) Watch(_ context.Context, root string) (Watcher, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	w := &memoryWatcher{backend: b, root: root, ch: make(chan struct{}, 1)}
	if b.watchers[root] == nil {
		b.watchers[root] = make(map[*memoryWatcher]struct{})
	}
	b.watchers[root][w] = struct{}{}
	return w, nil
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.watchers = make(map[string]map[*memoryWatcher]struct{})
	return nil
}

type memoryWatcher struct {
	backend *MemoryBackend
	root    string
	ch      chan struct{}
}

func (w *memoryWatcher) signal() {
	select {
	case w.ch <- struct{}{}:
	default:
	}
}

func (w *memoryWatcher) Changes() <-chan struct{} { return w.ch }

func (w *memoryWatcher) Close() error {
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
