// Package synclock serializes sync runs per (user, provider). The sync
// engine's dedup check is read-then-insert, so two concurrent runs for the
// same connection could both import the same remote records; holding this lock
// for the duration of a run preserves at-most-once import semantics.
package synclock

import (
	"context"
	"fmt"
	"sync"
)

// Locker grants exclusive sync access for one (userID, provider) pair.
// TryLock never blocks: a held lock reports ok=false and the caller rejects
// the concurrent run.
type Locker interface {
	TryLock(ctx context.Context, userID, provider string) (release func(), ok bool, err error)
}

func lockKey(userID, provider string) string {
	return fmt.Sprintf("sync-lock:%s:%s", userID, provider)
}

// MemoryLocker is the single-process implementation.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) TryLock(_ context.Context, userID, provider string) (func(), bool, error) {
	key := lockKey(userID, provider)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, taken := l.held[key]; taken {
		return nil, false, nil
	}
	l.held[key] = struct{}{}

	release := func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}
	return release, true, nil
}
