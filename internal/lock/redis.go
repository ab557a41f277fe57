package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/redisclient"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RedisLocker takes leased locks in Redis for deployments whose store has no
// advisory locking. A lease expires after ttl so a crashed holder frees its
// names on its own; a live holder renews it every ttl/3 until Release.
type RedisLocker struct {
	client        *redisclient.Client
	ttl           time.Duration
	retryInterval time.Duration
	logger        *zap.Logger
}

func NewRedisLocker(client *redisclient.Client, ttl, retryInterval time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if retryInterval <= 0 {
		retryInterval = 50 * time.Millisecond
	}
	return &RedisLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: retryInterval,
		logger:        util.GetLogger().Named("redis_lock"),
	}
}

func (l *RedisLocker) Backend() string { return BackendRedis }

// Acquire ignores session; the lease lives in Redis
func (l *RedisLocker) Acquire(ctx context.Context, _ Session, name string, wait time.Duration) (Lease, error) {
	start := time.Now()
	deadline := start.Add(wait)
	token := uuid.NewString()

	for {
		ok, err := l.client.AcquireLock(ctx, name, token, l.ttl)
		if err != nil {
			util.LockFailuresTotal.WithLabelValues(BackendRedis).Inc()
			return nil, apperr.LockAcquisitionFailed(err, "acquire lock %q", name)
		}
		if ok {
			util.LockAcquireLatency.WithLabelValues(BackendRedis).Observe(time.Since(start).Seconds())
			return l.newLease(name, token), nil
		}

		if !time.Now().Before(deadline) {
			util.LockFailuresTotal.WithLabelValues(BackendRedis).Inc()
			l.logger.Warn("Lock wait timed out", zap.String("lock", name), zap.Duration("wait", wait))
			return nil, apperr.LockAcquisitionFailed(nil, "could not acquire lock %q within %s", name, wait)
		}

		if err := sleep(ctx, l.retryInterval); err != nil {
			util.LockFailuresTotal.WithLabelValues(BackendRedis).Inc()
			return nil, apperr.LockAcquisitionFailed(err, "acquire lock %q", name)
		}
	}
}

type redisLease struct {
	name   string
	token  string
	client *redisclient.Client
	logger *zap.Logger

	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

func (l *RedisLocker) newLease(name, token string) *redisLease {
	lease := &redisLease{
		name:   name,
		token:  token,
		client: l.client,
		logger: l.logger.With(zap.String("lock", name)),
		stop:   make(chan struct{}),
	}
	lease.wg.Add(1)
	go lease.renew(l.ttl)
	return lease
}

// renew pushes the expiry back to ttl every ttl/3. It gives up once the key
// no longer carries this lease's token.
func (r *redisLease) renew(ttl time.Duration) {
	defer r.wg.Done()

	interval := ttl / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), interval)
		ok, err := r.client.ExtendLock(ctx, r.name, r.token, ttl)
		cancel()
		if err != nil {
			r.logger.Warn("Lease renewal failed", zap.Error(err))
			continue
		}
		if !ok {
			util.LockFailuresTotal.WithLabelValues(BackendRedis).Inc()
			r.logger.Error("Lease lost before release")
			return
		}
	}
}

func (r *redisLease) Name() string { return r.name }

// Release stops renewal, then deletes the key. It fails if the lease expired
// before the holder finished.
func (r *redisLease) Release(ctx context.Context) error {
	r.once.Do(func() { close(r.stop) })
	r.wg.Wait()

	released, err := r.client.ReleaseLock(ctx, r.name, r.token)
	if err != nil {
		return err
	}
	if !released {
		return fmt.Errorf("release lock %q: lease expired or taken over", r.name)
	}
	return nil
}
