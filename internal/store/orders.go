package store

import (
	"context"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const paymentColumns = "id, order_id, amount, method, transaction_id, status, retry_count, created_at, updated_at"

// GetOrder retrieves an order by ID
func (s *Store) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, s.db, &order,
		"SELECT id, total_amount, status, created_at, updated_at FROM orders WHERE id = $1", id)
	if isNoRows(err) {
		return nil, apperr.NotFound("order not found: %d", id)
	}
	if err != nil {
		return nil, wrapErr(err, "get order")
	}
	return &order, nil
}

// UpdateOrderStatus updates order status
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return wrapErr(err, "update order status")
}

// HasCompletedPayment reports whether the order already has a completed payment
func (s *Store) HasCompletedPayment(ctx context.Context, orderID int64) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, s.db, &exists,
		"SELECT EXISTS(SELECT 1 FROM payments WHERE order_id = $1 AND status = $2)",
		orderID, models.PaymentStatusCompleted)
	if err != nil {
		return false, wrapErr(err, "check completed payment")
	}
	return exists, nil
}

// CreatePayment inserts a payment row and fills in its generated fields
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, amount, method, transaction_id, status, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		payment.OrderID, payment.Amount, payment.Method, payment.TransactionID,
		payment.Status, payment.RetryCount)
	if err := row.Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt); err != nil {
		return wrapErr(err, "create payment")
	}
	return nil
}

// GetPayment retrieves a payment by ID
func (s *Store) GetPayment(ctx context.Context, id int64) (*models.Payment, error) {
	var payment models.Payment
	err := sqlx.GetContext(ctx, s.db, &payment,
		"SELECT "+paymentColumns+" FROM payments WHERE id = $1", id)
	if isNoRows(err) {
		return nil, apperr.NotFound("payment not found: %d", id)
	}
	if err != nil {
		return nil, wrapErr(err, "get payment")
	}
	return &payment, nil
}

// GetPaymentByTransactionID retrieves a payment by its gateway transaction id
func (s *Store) GetPaymentByTransactionID(ctx context.Context, txID string) (*models.Payment, error) {
	var payment models.Payment
	err := sqlx.GetContext(ctx, s.db, &payment,
		"SELECT "+paymentColumns+" FROM payments WHERE transaction_id = $1", txID)
	if isNoRows(err) {
		return nil, apperr.NotFound("payment not found for transaction: %s", txID)
	}
	if err != nil {
		return nil, wrapErr(err, "get payment by transaction")
	}
	return &payment, nil
}

// ListPaymentsByOrder returns every payment row of an order, newest first
func (s *Store) ListPaymentsByOrder(ctx context.Context, orderID int64) ([]models.Payment, error) {
	payments := []models.Payment{}
	err := sqlx.SelectContext(ctx, s.db, &payments,
		"SELECT "+paymentColumns+" FROM payments WHERE order_id = $1 ORDER BY created_at DESC, id DESC", orderID)
	if err != nil {
		return nil, wrapErr(err, "list payments")
	}
	return payments, nil
}

// SetPaymentStatus sets the status of the payment with txID. Moving to
// processing also increments retry_count in the same statement. It reports
// whether a row was updated. A second completed payment for one order is
// refused by the one-completed-per-order index and reported as DuplicatePayment.
func (s *Store) SetPaymentStatus(ctx context.Context, txID string, status models.PaymentStatus) (bool, error) {
	increment := 0
	if status == models.PaymentStatusProcessing {
		increment = 1
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE payments
		SET status = $1, retry_count = retry_count + $2, updated_at = NOW()
		WHERE transaction_id = $3`,
		status, increment, txID)
	if err != nil {
		if isUniqueViolation(err) {
			return false, apperr.DuplicatePayment("payment %s: order already has a completed payment", txID)
		}
		return false, wrapErr(err, "update payment status")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr(err, "update payment status")
	}
	return n > 0, nil
}

// CreatePaymentFailure appends a failure record for an order
func (s *Store) CreatePaymentFailure(ctx context.Context, orderID int64, message string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO payment_failures (order_id, error_message) VALUES ($1, $2)",
		orderID, message)
	return wrapErr(err, "record payment failure")
}

// ListPaymentFailures returns the failure trail of an order, oldest first
func (s *Store) ListPaymentFailures(ctx context.Context, orderID int64) ([]models.PaymentFailure, error) {
	failures := []models.PaymentFailure{}
	err := sqlx.SelectContext(ctx, s.db, &failures,
		"SELECT id, order_id, error_message, created_at FROM payment_failures WHERE order_id = $1 ORDER BY id", orderID)
	if err != nil {
		return nil, wrapErr(err, "list payment failures")
	}
	return failures, nil
}

// CreateRefund inserts a refund record and fills in its generated fields
func (s *Store) CreateRefund(ctx context.Context, refund *models.Refund) error {
	row := s.db.QueryRowxContext(ctx, `
		INSERT INTO refunds (payment_id, amount, reason, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`,
		refund.PaymentID, refund.Amount, refund.Reason, refund.Status)
	if err := row.Scan(&refund.ID, &refund.CreatedAt); err != nil {
		return wrapErr(err, "create refund")
	}
	return nil
}

// TotalRefunded sums the refunds already issued against a payment
func (s *Store) TotalRefunded(ctx context.Context, paymentID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := sqlx.GetContext(ctx, s.db, &total,
		"SELECT COALESCE(SUM(amount), 0) FROM refunds WHERE payment_id = $1", paymentID)
	if err != nil {
		return decimal.Zero, wrapErr(err, "sum refunds")
	}
	return total, nil
}
