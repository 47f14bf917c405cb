// Package lock serializes ingestion writers. Local covers a single process;
// Redis covers the CLI and the server running against the same database.
package lock

import (
	"context"
	"errors"
	"sync"
)

var ErrLocked = errors.New("ingestion lock is held by another run")

type Locker interface {
	// Lock returns ErrLocked immediately instead of waiting when the lock is
	// taken. The returned func releases it and is safe to call twice.
	Lock(ctx context.Context) (unlock func(), error)
}

type Local struct {
	mu sync.Mutex
}

func NewLocal() *Local { return &Local{} }

func (l *Local) Lock(ctx context.Context) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !l.mu.TryLock() {
		return nil, ErrLocked
	}
	var once sync.Once
	return func() { once.Do(l.mu.Unlock) }, nil
}
