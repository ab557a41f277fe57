//go:build integration

package service

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/lock"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/txn"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

type liveDB struct {
	db    *sqlx.DB
	coord *txn.Coordinator
}

func migrationsDir(t *testing.T) string {
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

func startPostgres(t *testing.T) *liveDB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("fulfillment_test"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := store.Open(store.DriverPQ, dsn, 10)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	migrator, err := store.NewMigrator(db.DB, migrationsDir(t), zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, migrator.Up())

	pool := store.NewPool(store.SessionDialer(db, store.DefaultSessionSetup...), store.PoolConfig{
		MaxSize:        8,
		AcquireTimeout: 10 * time.Second,
	})
	t.Cleanup(pool.Close)

	coord := txn.NewCoordinator(pool, lock.NewAdvisoryLocker(5*time.Millisecond), txn.DefaultConfig())
	return &liveDB{db: db, coord: coord}
}

func TestIntegration_SameLockNeverOverlaps(t *testing.T) {
	live := startPostgres(t)

	var inside, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := live.coord.Run(context.Background(), "inventory_42", func(ctx context.Context, u *txn.Unit) error {
				n := atomic.AddInt32(&inside, 1)
				defer atomic.AddInt32(&inside, -1)
				for {
					old := atomic.LoadInt32(&peak)
					if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
}

func TestIntegration_ConcurrentPaymentsCaptureOnce(t *testing.T) {
	live := startPostgres(t)
	ctx := context.Background()

	var orderID int64
	require.NoError(t, live.db.QueryRowx(
		"INSERT INTO orders (total_amount, status) VALUES ('450.00', 'pending') RETURNING id").Scan(&orderID))

	reader := store.New(live.db)
	proc := NewPaymentProcessor(live.coord, reader, gateway.NewRegistry(gateway.NewCashAdapter()),
		nil, nil, nil, ProcessorConfig{GatewayTimeout: 5 * time.Second})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = proc.ProcessPayment(ctx, orderID, PaymentRequest{Gateway: gateway.MethodCash})
		}(i)
	}
	wg.Wait()

	succeeded, duplicates := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case apperr.CodeOf(err) == apperr.CodeDuplicatePayment:
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, duplicates)

	payments, err := reader.ListPaymentsByOrder(ctx, orderID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentStatusCompleted, payments[0].Status)

	order, err := reader.GetOrder(ctx, orderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPaid, order.Status)

	failures, err := reader.ListPaymentFailures(ctx, orderID)
	require.NoError(t, err)
	assert.Len(t, failures, 1)
}

func TestIntegration_SubtractThenAddRestores(t *testing.T) {
	live := startPostgres(t)
	ctx := context.Background()

	var itemID int64
	require.NoError(t, live.db.QueryRowx(
		"INSERT INTO inventory_items (name, quantity, reorder_point) VALUES ('Kimchi Jjigae Base', 40, 4) RETURNING id").Scan(&itemID))

	ledger := NewInventoryLedger(live.coord, store.New(live.db), nil, nil, DefaultLedgerConfig())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.UpdateStock(ctx, itemID, 3, models.StockSubtract)
			assert.NoError(t, err)
			_, err = ledger.UpdateStock(ctx, itemID, 3, models.StockAdd)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	status, err := ledger.GetStockStatus(ctx, itemID)
	require.NoError(t, err)
	assert.Equal(t, 40, status.Quantity)

	_, err = ledger.UpdateStock(ctx, itemID, 41, models.StockSubtract)
	assert.ErrorIs(t, err, apperr.ErrInsufficientStock)
}
