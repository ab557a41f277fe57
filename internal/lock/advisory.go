package lock

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/util"

	"go.uber.org/zap"
)

// AdvisoryLocker takes Postgres session-level advisory locks.
// The lock belongs to the connection it was taken on, so the same
// connection must stay checked out until Release.
type AdvisoryLocker struct {
	retryInterval time.Duration
	logger        *zap.Logger
}

// NewAdvisoryLocker polls a busy lock every retryInterval
func NewAdvisoryLocker(retryInterval time.Duration) *AdvisoryLocker {
	if retryInterval <= 0 {
		retryInterval = 50 * time.Millisecond
	}
	return &AdvisoryLocker{
		retryInterval: retryInterval,
		logger:        util.GetLogger().Named("advisory_lock"),
	}
}

func (l *AdvisoryLocker) Backend() string { return BackendPostgres }

// LockKey maps a lock name onto the bigint key space of pg_advisory_lock
func LockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}

func (l *AdvisoryLocker) Acquire(ctx context.Context, session Session, name string, wait time.Duration) (Lease, error) {
	if session == nil {
		return nil, errors.New("advisory lock requires a session")
	}

	start := time.Now()
	deadline := start.Add(wait)
	key := LockKey(name)

	for {
		var locked bool
		if err := session.QueryRowxContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&locked); err != nil {
			util.LockFailuresTotal.WithLabelValues(BackendPostgres).Inc()
			return nil, apperr.LockAcquisitionFailed(err, "acquire lock %q", name)
		}
		if locked {
			util.LockAcquireLatency.WithLabelValues(BackendPostgres).Observe(time.Since(start).Seconds())
			return &advisoryLease{name: name, key: key, session: session}, nil
		}

		if !time.Now().Before(deadline) {
			util.LockFailuresTotal.WithLabelValues(BackendPostgres).Inc()
			l.logger.Warn("Lock wait timed out", zap.String("lock", name), zap.Duration("wait", wait))
			return nil, apperr.LockAcquisitionFailed(nil, "could not acquire lock %q within %s", name, wait)
		}

		if err := sleep(ctx, l.retryInterval); err != nil {
			util.LockFailuresTotal.WithLabelValues(BackendPostgres).Inc()
			return nil, apperr.LockAcquisitionFailed(err, "acquire lock %q", name)
		}
	}
}

type advisoryLease struct {
	name    string
	key     int64
	session Session
}

func (a *advisoryLease) Name() string { return a.name }

func (a *advisoryLease) Release(ctx context.Context) error {
	var released bool
	if err := a.session.QueryRowxContext(ctx, "SELECT pg_advisory_unlock($1)", a.key).Scan(&released); err != nil {
		return fmt.Errorf("release lock %q: %w", a.name, err)
	}
	if !released {
		return fmt.Errorf("release lock %q: not held by this session", a.name)
	}
	return nil
}
