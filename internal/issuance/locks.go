package issuance

import (
	"context"
	"sync"
)

// keyedLocks hands out one single-slot channel per campaign. Slots are
// created on first use and kept for the life of the process, so two callers
// for the same campaign always contend on the same slot.
type keyedLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{slots: make(map[string]chan struct{})}
}

func (l *keyedLocks) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// acquire blocks until the slot for key is free or ctx is done. The returned
// func releases the slot and must be called exactly once.
func (l *keyedLocks) acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ch := l.slot(key)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
