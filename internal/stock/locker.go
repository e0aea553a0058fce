package stock

import (
	"context"
	"slices"
	"sync"

	"rentory/internal/domain"
)

// Locker serializes writers per stock key. Acquire blocks until every key is
// held or ctx is done; release must be called exactly once.
type Locker interface {
	Acquire(ctx context.Context, keys []domain.StockKey) (release func(), err error)
}

// SortedKeys returns the distinct keys in lock order.
func SortedKeys(keys []domain.StockKey) []string {
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		names = append(names, key.String())
	}
	slices.Sort(names)
	return slices.Compact(names)
}

// LocalLocker is an in-process keyed mutex. Keys with no waiters are dropped.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*keyLock)}
}

func (l *LocalLocker) Acquire(ctx context.Context, keys []domain.StockKey) (func(), error) {
	names := SortedKeys(keys)
	held := make([]string, 0, len(names))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.unlock(held[i])
		}
	}

	for _, name := range names {
		lock := l.ref(name)
		select {
		case lock.ch <- struct{}{}:
			held = append(held, name)
		case <-ctx.Done():
			l.unref(name)
			release()
			return func() {}, ctx.Err()
		}
	}
	return release, nil
}

func (l *LocalLocker) ref(name string) *keyLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock, ok := l.locks[name]
	if !ok {
		lock = &keyLock{ch: make(chan struct{}, 1)}
		l.locks[name] = lock
	}
	lock.refs++
	return lock
}

func (l *LocalLocker) unref(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock := l.locks[name]
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, name)
	}
}

func (l *LocalLocker) unlock(name string) {
	l.mu.Lock()
	lock := l.locks[name]
	l.mu.Unlock()
	<-lock.ch
	l.unref(name)
}
