package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"fulfillment-service/internal/lock"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/txn"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

type harness struct {
	coord  *txn.Coordinator
	reader *store.Store
	mock   sqlmock.Sqlmock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(raw, "postgres")
	t.Cleanup(func() { db.Close() })

	pool := store.NewPool(store.SessionDialer(db), store.PoolConfig{
		MaxSize:        2,
		AcquireTimeout: 100 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	})
	t.Cleanup(pool.Close)

	coord := txn.NewCoordinator(pool, lock.NewAdvisoryLocker(time.Millisecond), txn.Config{
		LockWait:       100 * time.Millisecond,
		RowLockTimeout: 5 * time.Second,
		ReleaseTimeout: time.Second,
	})
	return &harness{coord: coord, reader: store.New(db), mock: mock}
}

// expectLocked expects the named lock to be taken, a transaction opened and its lock timeout set
func (h *harness) expectLocked(name string) {
	h.mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).
		WithArgs(lock.LockKey(name)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	h.expectBegin()
}

func (h *harness) expectBegin() {
	h.mock.ExpectBegin()
	h.mock.ExpectExec(`SET LOCAL lock_timeout = '5000ms'`).WillReturnResult(sqlmock.NewResult(0, 0))
}

func (h *harness) expectUnlocked(name string) {
	h.mock.ExpectQuery(`SELECT pg_advisory_unlock\(\$1\)`).
		WithArgs(lock.LockKey(name)).
		WillReturnRows(sqlmock.NewRows([]string{"pg_advisory_unlock"}).AddRow(true))
}

type raisedAlert struct {
	Type     string
	Severity models.Severity
	Details  map[string]any
}

type recordingAlerts struct {
	mu     sync.Mutex
	alerts []raisedAlert
	err    error
}

func (r *recordingAlerts) Raise(ctx context.Context, alertType string, severity models.Severity, details map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, raisedAlert{Type: alertType, Severity: severity, Details: details})
	return r.err
}

func (r *recordingAlerts) all() []raisedAlert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]raisedAlert(nil), r.alerts...)
}

type publication struct {
	Topic   string
	Payload any
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []publication
}

func (r *recordingNotifier) Publish(ctx context.Context, topic string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, publication{Topic: topic, Payload: payload})
	return nil
}

func (r *recordingNotifier) all() []publication {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]publication(nil), r.sent...)
}
