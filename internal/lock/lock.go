// Package lock provides named, cross-process mutual exclusion.
//
// Two backends share one contract: at most one holder per name at any instant,
// acquisition waits at most a bounded time, and waiters are not ordered.
package lock

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// Backend names
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Session is the store connection a lock may be bound to
type Session interface {
	sqlx.ExecerContext
	sqlx.QueryerContext
}

// Lease is a held named lock
type Lease interface {
	Name() string
	// Release gives the lock up. It must be called exactly once.
	Release(ctx context.Context) error
}

// Locker acquires named locks, waiting at most wait for a busy name
type Locker interface {
	Acquire(ctx context.Context, session Session, name string, wait time.Duration) (Lease, error)
	Backend() string
}

// sleep waits d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
