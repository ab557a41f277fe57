package txn

import (
	"context"
	"errors"
	"testing"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/lock"
	"fulfillment-service/internal/store"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const setLockTimeout = `SET LOCAL lock_timeout = '5000ms'`

type fixture struct {
	coord *Coordinator
	pool  *store.Pool[*sqlx.Conn]
	mock  sqlmock.Sqlmock
}

func newFixture(t *testing.T, maxSize int) *fixture {
	t.Helper()
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	db := sqlx.NewDb(raw, "postgres")
	t.Cleanup(func() { db.Close() })

	pool := store.NewPool(store.SessionDialer(db), store.PoolConfig{
		MaxSize:        maxSize,
		AcquireTimeout: 50 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	})
	t.Cleanup(pool.Close)

	coord := NewCoordinator(pool, lock.NewAdvisoryLocker(time.Millisecond), Config{
		LockWait:       100 * time.Millisecond,
		RowLockTimeout: 5 * time.Second,
		ReleaseTimeout: time.Second,
	})
	return &fixture{coord: coord, pool: pool, mock: mock}
}

func (f *fixture) expectLock(held bool) {
	f.mock.ExpectQuery(`pg_try_advisory_lock`).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(held))
}

func (f *fixture) expectUnlock(ok bool) {
	f.mock.ExpectQuery(`pg_advisory_unlock`).
		WillReturnRows(sqlmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(ok))
}

func (f *fixture) expectBegin() {
	f.mock.ExpectBegin()
	f.mock.ExpectExec(setLockTimeout).WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestRun_CommitsAndReleases(t *testing.T) {
	f := newFixture(t, 2)
	f.expectLock(true)
	f.expectBegin()
	f.mock.ExpectExec(`UPDATE inventory_items`).WillReturnResult(sqlmock.NewResult(0, 1))
	f.mock.ExpectCommit()
	f.expectUnlock(true)

	err := f.coord.Run(context.Background(), "inventory_1", func(ctx context.Context, u *Unit) error {
		return u.Store().SetStockQuantity(ctx, 1, 10)
	})
	require.NoError(t, err)
	assert.NoError(t, f.mock.ExpectationsWereMet())
	assert.Equal(t, store.PoolStats{Idle: 1, InUse: 0, Total: 1}, f.pool.Stats())
}

func TestRun_ErrorRollsBackAndReleases(t *testing.T) {
	f := newFixture(t, 2)
	f.expectLock(true)
	f.expectBegin()
	f.mock.ExpectRollback()
	f.expectUnlock(true)

	boom := apperr.InsufficientStock("not enough")
	err := f.coord.Run(context.Background(), "inventory_1", func(ctx context.Context, u *Unit) error {
		return boom
	})
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
	assert.NoError(t, f.mock.ExpectationsWereMet())
	assert.Equal(t, 0, f.pool.Stats().InUse)
}

func TestRun_PanicRollsBackAndReleases(t *testing.T) {
	f := newFixture(t, 2)
	f.expectLock(true)
	f.expectBegin()
	f.mock.ExpectRollback()
	f.expectUnlock(true)

	assert.Panics(t, func() {
		_ = f.coord.Run(context.Background(), "inventory_1", func(ctx context.Context, u *Unit) error {
			panic("boom")
		})
	})
	assert.NoError(t, f.mock.ExpectationsWereMet())
	assert.Equal(t, 0, f.pool.Stats().InUse)
}

func TestBegin_LockTimeoutStartsNoTransaction(t *testing.T) {
	f := newFixture(t, 2)
	f.mock.MatchExpectationsInOrder(false)
	for i := 0; i < 200; i++ {
		f.expectLock(false)
	}

	_, err := f.coord.Begin(context.Background(), "payment_9")
	assert.ErrorIs(t, err, apperr.ErrLockAcquisitionFailed)
	assert.Equal(t, 0, f.pool.Stats().InUse)
}

func TestCommit_FailureStillReleasesLock(t *testing.T) {
	f := newFixture(t, 2)
	f.expectLock(true)
	f.expectBegin()
	f.mock.ExpectCommit().WillReturnError(errors.New("could not serialize access"))
	f.expectUnlock(true)

	err := f.coord.Run(context.Background(), "payment_1", func(ctx context.Context, u *Unit) error {
		return nil
	})
	assert.ErrorIs(t, err, apperr.ErrPersistence)
	assert.NoError(t, f.mock.ExpectationsWereMet())
	assert.Equal(t, 0, f.pool.Stats().InUse)
}

func TestUnit_ExtraLocksReleasedInReverse(t *testing.T) {
	f := newFixture(t, 2)
	f.expectLock(true)
	f.expectBegin()
	f.expectLock(true)
	f.mock.ExpectCommit()
	f.expectUnlock(true)
	f.expectUnlock(true)

	u, err := f.coord.Begin(context.Background(), "payment_1")
	require.NoError(t, err)
	require.NoError(t, u.Lock(context.Background(), "inventory_5"))
	require.NoError(t, u.Commit())

	assert.ErrorIs(t, u.Commit(), ErrUnitDone)
	assert.ErrorIs(t, u.Rollback(), ErrUnitDone)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestUnit_FailedUnlockDiscardsConnection(t *testing.T) {
	f := newFixture(t, 2)
	f.expectLock(true)
	f.expectBegin()
	f.mock.ExpectRollback()
	f.expectUnlock(false)

	u, err := f.coord.Begin(context.Background(), "inventory_3")
	require.NoError(t, err)
	require.NoError(t, u.Rollback())

	assert.Equal(t, store.PoolStats{}, f.pool.Stats())
}

func TestBegin_WithoutLockName(t *testing.T) {
	f := newFixture(t, 1)
	f.expectBegin()
	f.mock.ExpectRollback()

	u, err := f.coord.Begin(context.Background(), "")
	require.NoError(t, err)

	// pool of one is now exhausted
	_, err = f.coord.Begin(context.Background(), "")
	assert.ErrorIs(t, err, apperr.ErrResourceExhausted)

	require.NoError(t, u.Rollback())
	assert.NoError(t, f.mock.ExpectationsWereMet())
}
