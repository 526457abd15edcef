package lock

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is a process-local Locker with the same lease semantics as
// the redis implementation.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]time.Time{}}
}

func (l *MemoryLocker) Acquire(ctx context.Context, key string, lease time.Duration) (Lease, error) {
	deadline := time.Now().Add(lease)
	for {
		if l.tryAcquire(key, lease) {
			return &memoryLease{locker: l, key: key}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrNotAcquired
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
}

func (l *MemoryLocker) tryAcquire(key string, lease time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if expiry, ok := l.held[key]; ok && now.Before(expiry) {
		return false
	}
	l.held[key] = now.Add(lease)
	return true
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
}

func (l *memoryLease) Release(ctx context.Context) error {
	l.locker.mu.Lock()
	defer l.locker.mu.Unlock()
	delete(l.locker.held, l.key)
	return nil
}
