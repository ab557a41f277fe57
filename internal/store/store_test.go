package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres")), mock
}

func TestGetStockItemForUpdate(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "name", "quantity", "reorder_point", "critical_threshold", "updated_at"}).
		AddRow(7, "widget", 12, 20, 0, now)
	mock.ExpectQuery(`SELECT .+ FROM inventory_items WHERE id = \$1 FOR UPDATE`).
		WithArgs(int64(7)).
		WillReturnRows(rows)

	item, err := s.GetStockItemForUpdate(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), item.ID)
	assert.Equal(t, "widget", item.Name)
	assert.Equal(t, 12, item.Quantity)
	assert.Equal(t, 20, item.ReorderPoint)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetStockItem_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM inventory_items WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetStockItem(context.Background(), 99)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGetStockItem_DatabaseError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT .+ FROM inventory_items`).
		WillReturnError(errors.New("connection reset"))

	_, err := s.GetStockItem(context.Background(), 1)
	assert.ErrorIs(t, err, apperr.ErrPersistence)
}

func TestGetStockItemForUpdate_LockTimeout(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`FOR UPDATE`).
		WillReturnError(&pq.Error{Code: "55P03", Message: "canceling statement due to lock timeout"})

	_, err := s.GetStockItemForUpdate(context.Background(), 1)
	assert.ErrorIs(t, err, apperr.ErrLockAcquisitionFailed)
}

func TestSetStockQuantity(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE inventory_items SET quantity = \$1`).
		WithArgs(15, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE inventory_items SET quantity = \$1`).
		WithArgs(15, int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.SetStockQuantity(context.Background(), 3, 15))
	err := s.SetStockQuantity(context.Background(), 4, 15)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRestockOrder(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO restock_orders .+ ON CONFLICT \(item_id\) DO UPDATE`).
		WithArgs(int64(5), 36, models.RestockStatusPending).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.UpsertRestockOrder(context.Background(), 5, 36))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRestockOrder_Absent(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`FROM restock_orders WHERE item_id = \$1`).
		WithArgs(int64(5)).
		WillReturnError(sql.ErrNoRows)

	order, err := s.GetRestockOrder(context.Background(), 5)
	require.NoError(t, err)
	assert.Nil(t, order)
}

func TestCreatePayment(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	payment := &models.Payment{
		OrderID:       42,
		Amount:        decimal.RequireFromString("99.50"),
		Method:        "cash",
		TransactionID: "CASH-abc",
		Status:        models.PaymentStatusCompleted,
	}

	mock.ExpectQuery(`INSERT INTO payments`).
		WithArgs(int64(42), sqlmock.AnyArg(), "cash", "CASH-abc", "completed", 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "updated_at"}).AddRow(11, now, now))

	require.NoError(t, s.CreatePayment(context.Background(), payment))
	assert.Equal(t, int64(11), payment.ID)
	assert.Equal(t, now, payment.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasCompletedPayment(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(int64(42), "completed").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := s.HasCompletedPayment(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSetPaymentStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    models.PaymentStatus
		increment int
		affected  int64
		want      bool
	}{
		{"retry increments count", models.PaymentStatusProcessing, 1, 1, true},
		{"complete keeps count", models.PaymentStatusCompleted, 0, 1, true},
		{"completed payment can be reopened", models.PaymentStatusPending, 0, 1, true},
		{"no matching row", models.PaymentStatusFailed, 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockStore(t)

			mock.ExpectExec(`UPDATE payments\s+SET status = \$1, retry_count = retry_count \+ \$2, updated_at = NOW\(\)\s+WHERE transaction_id = \$3`).
				WithArgs(string(tt.status), tt.increment, "TX-1").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			ok, err := s.SetPaymentStatus(context.Background(), "TX-1", tt.status)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestSetPaymentStatus_SecondCompletedPaymentRejected(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE payments`).
		WithArgs("completed", 0, "TX-2").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint \"uq_payments_completed_order\""})

	ok, err := s.SetPaymentStatus(context.Background(), "TX-2", models.PaymentStatusCompleted)
	assert.False(t, ok)
	assert.ErrorIs(t, err, apperr.ErrDuplicatePayment)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListPaymentsByOrder(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "order_id", "amount", "method", "transaction_id", "status", "retry_count", "created_at", "updated_at"}).
		AddRow(2, 42, "10.00", "cash", "CASH-2", "completed", 0, now, now).
		AddRow(1, 42, "10.00", "card", "pi_1", "failed", 1, now, now)
	mock.ExpectQuery(`FROM payments WHERE order_id = \$1`).
		WithArgs(int64(42)).
		WillReturnRows(rows)

	payments, err := s.ListPaymentsByOrder(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	assert.True(t, decimal.RequireFromString("10").Equal(payments[0].Amount))
	assert.Equal(t, models.PaymentStatusFailed, payments[1].Status)
}

func TestTotalRefunded(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(amount\), 0\) FROM refunds`).
		WithArgs(int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow("25.25"))

	total, err := s.TotalRefunded(context.Background(), 11)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("25.25").Equal(total))
}

func TestCreatePaymentFailure(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO payment_failures`).
		WithArgs(int64(42), "gateway declined").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.CreatePaymentFailure(context.Background(), 42, "gateway declined"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsLockTimeout(t *testing.T) {
	assert.True(t, IsLockTimeout(&pq.Error{Code: "55P03"}))
	assert.True(t, IsLockTimeout(fmt.Errorf("select: %w", &pgconn.PgError{Code: "55P03"})))
	assert.False(t, IsLockTimeout(&pq.Error{Code: "23505"}))
	assert.False(t, IsLockTimeout(errors.New("timeout")))
}

func TestOpen_RejectsUnknownDriver(t *testing.T) {
	_, err := Open("mysql", "root@/db", 5)
	assert.Error(t, err)
}
