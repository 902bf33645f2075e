package chain

import (
	"context"
	"sync"
)

// Locker serialises executor submissions. Lock blocks until the lock is
// held or ctx is done and returns the release function.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

// LocalLocker serialises submissions within one process. Running several
// API processes with one executor key requires RedisLocker instead.
type LocalLocker struct {
	ch chan struct{}
}

// NewLocalLocker returns an unlocked LocalLocker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{ch: make(chan struct{}, 1)}
}

// Lock acquires the lock.
func (l *LocalLocker) Lock(ctx context.Context) (func(), error) {
	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-l.ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// NonceManager tracks the executor's next nonce. Callers must hold the
// signer lock between Next and Commit or Reset.
type NonceManager struct {
	mu    sync.Mutex
	next  uint64
	valid bool
}

// Next returns max(tracked next nonce, pending nonce reported by fetch).
// Taking the maximum covers both transactions sent by other processes and
// a node that has not yet seen our latest submission.
func (n *NonceManager) Next(ctx context.Context, fetch func(context.Context) (uint64, error)) (uint64, error) {
	pending, err := fetch(ctx)
	if err != nil {
		return 0, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.valid && n.next > pending {
		return n.next, nil
	}
	return pending, nil
}

// Commit records that used was consumed by a broadcast transaction.
func (n *NonceManager) Commit(used uint64) {
	n.mu.Lock()
	n.next = used + 1
	n.valid = true
	n.mu.Unlock()
}

// Reset forgets the tracked nonce after a failed submission.
func (n *NonceManager) Reset() {
	n.mu.Lock()
	n.valid = false
	n.mu.Unlock()
}
