// Package txn runs units of work under a named lock plus a store transaction.
//
// A Unit owns one pooled connection from Begin until Commit or Rollback. Every
// lock taken in the unit is released when it ends, whether or not the
// store-level commit or rollback succeeded.
package txn

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/lock"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/util"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ErrUnitDone is returned when a Unit is used after Commit or Rollback
var ErrUnitDone = errors.New("txn: unit of work already finished")

// Config holds the coordinator timeouts
type Config struct {
	// LockWait bounds named lock acquisition
	LockWait time.Duration
	// RowLockTimeout is applied to each transaction as lock_timeout
	RowLockTimeout time.Duration
	// ReleaseTimeout bounds lock release after the unit ends
	ReleaseTimeout time.Duration
}

// DefaultConfig returns the default coordinator timeouts
func DefaultConfig() Config {
	return Config{
		LockWait:       30 * time.Second,
		RowLockTimeout: 5 * time.Second,
		ReleaseTimeout: 5 * time.Second,
	}
}

// Coordinator runs units of work over one connection pool and one locker.
// Every Run returns its connection to the pool and releases any lease it took.
type Coordinator struct {
	pool   *store.Pool[*sqlx.Conn]
	locker lock.Locker
	cfg    Config
	logger *zap.Logger
}

// NewCoordinator builds a coordinator over one pool and one locker
func NewCoordinator(pool *store.Pool[*sqlx.Conn], locker lock.Locker, cfg Config) *Coordinator {
	d := DefaultConfig()
	if cfg.LockWait <= 0 {
		cfg.LockWait = d.LockWait
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = d.ReleaseTimeout
	}
	return &Coordinator{
		pool:   pool,
		locker: locker,
		cfg:    cfg,
		logger: util.GetLogger().Named("txn"),
	}
}

// Unit is one lock-scoped transaction
type Unit struct {
	c      *Coordinator
	conn   *sqlx.Conn
	tx     *sqlx.Tx
	store  *store.Store
	leases []lock.Lease
	done   bool
}

// Begin checks out a connection, takes lockName if given, and opens a
// transaction. If the lock cannot be taken no transaction is started.
func (c *Coordinator) Begin(ctx context.Context, lockName string) (*Unit, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	u := &Unit{c: c, conn: conn}

	if lockName != "" {
		if err := u.Lock(ctx, lockName); err != nil {
			c.pool.Release(conn)
			return nil, err
		}
	}

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		u.done = true
		u.releaseAll()
		return nil, apperr.Persistence(err, "begin transaction")
	}

	if c.cfg.RowLockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", c.cfg.RowLockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			u.done = true
			u.releaseAll()
			return nil, apperr.Persistence(err, "set lock timeout")
		}
	}

	u.tx = tx
	u.store = store.New(tx)
	return u, nil
}

// Run executes fn inside a unit locked on name. The unit commits when fn
// returns nil and rolls back on an error or panic.
func (c *Coordinator) Run(ctx context.Context, name string, fn func(ctx context.Context, u *Unit) error) (err error) {
	ctx, span := util.StartSpan(ctx, "txn.Run", attribute.String("lock.name", name))
	defer func() { util.EndSpan(span, err) }()

	u, err := c.Begin(ctx, name)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = u.Rollback()
			panic(p)
		}
	}()

	if err = fn(ctx, u); err != nil {
		if rbErr := u.Rollback(); rbErr != nil {
			c.logger.Error("Rollback failed", zap.String("lock", name), zap.Error(rbErr))
		}
		return err
	}

	return u.Commit()
}

// Store returns the transactional store
func (u *Unit) Store() *store.Store {
	return u.store
}

// Lock takes an additional named lock for the rest of the unit
func (u *Unit) Lock(ctx context.Context, name string) error {
	if u.done {
		return ErrUnitDone
	}
	lease, err := u.c.locker.Acquire(ctx, u.conn, name, u.c.cfg.LockWait)
	if err != nil {
		return err
	}
	u.leases = append(u.leases, lease)
	return nil
}

// Commit commits the transaction, then releases every lock of the unit
func (u *Unit) Commit() error {
	if u.done {
		return ErrUnitDone
	}
	u.done = true
	defer u.releaseAll()

	if err := u.tx.Commit(); err != nil {
		return apperr.Persistence(err, "commit transaction")
	}
	return nil
}

// Rollback aborts the transaction, then releases every lock of the unit
func (u *Unit) Rollback() error {
	if u.done {
		return ErrUnitDone
	}
	u.done = true
	defer u.releaseAll()

	if err := u.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return apperr.Persistence(err, "rollback transaction")
	}
	return nil
}

// releaseAll runs on a fresh context so a cancelled request still unlocks.
// A connection whose session lock could not be released is discarded, which
// ends the session and drops its locks.
func (u *Unit) releaseAll() {
	ctx, cancel := context.WithTimeout(context.Background(), u.c.cfg.ReleaseTimeout)
	defer cancel()

	poisoned := false
	for i := len(u.leases) - 1; i >= 0; i-- {
		lease := u.leases[i]
		if err := lease.Release(ctx); err != nil {
			u.c.logger.Error("Failed to release lock", zap.String("lock", lease.Name()), zap.Error(err))
			if u.c.locker.Backend() == lock.BackendPostgres {
				poisoned = true
			}
		}
	}
	u.leases = nil

	if poisoned {
		// ErrBadConn makes database/sql close the session instead of pooling it
		_ = u.conn.Raw(func(any) error { return driver.ErrBadConn })
		u.c.pool.Discard(u.conn)
		return
	}
	u.c.pool.Release(u.conn)
}
