package reconcile

import (
	"context"
	"sync"
)

// localKeyLocker is the in-process KeyLocker used when a single reconciler
// instance owns the cache. Multi-replica deployments swap in the
// redis-backed locker.
type localKeyLocker struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLocalKeyLocker builds an in-process per-key locker.
func NewLocalKeyLocker() KeyLocker {
	return &localKeyLocker{locks: make(map[string]*sync.Mutex)}
}

func (l *localKeyLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock, nil
}
