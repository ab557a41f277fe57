package service

import (
	"context"

	"fulfillment-service/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// AlertSink receives threshold and failure alerts
type AlertSink interface {
	Raise(ctx context.Context, alertType string, severity models.Severity, details map[string]any) error
}

// Notifier broadcasts committed changes to real-time subscribers
type Notifier interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// PaymentAuditor records the lifecycle of payment attempts
type PaymentAuditor interface {
	RecordAttempt(ctx context.Context, orderID int64, method string, amount decimal.Decimal)
	RecordSuccess(ctx context.Context, orderID int64, payment *models.Payment)
	RecordError(ctx context.Context, orderID int64, err error)
	RecordStatusChange(ctx context.Context, transactionID string, status models.PaymentStatus, applied bool)
}

// LogAuditor writes the payment audit trail to the structured log
type LogAuditor struct {
	logger *zap.Logger
}

func NewLogAuditor(logger *zap.Logger) *LogAuditor {
	return &LogAuditor{logger: logger.Named("payment_audit")}
}

func (a *LogAuditor) RecordAttempt(ctx context.Context, orderID int64, method string, amount decimal.Decimal) {
	a.logger.Info("Payment attempt",
		zap.Int64("order_id", orderID),
		zap.String("method", method),
		zap.String("amount", amount.StringFixed(2)))
}

func (a *LogAuditor) RecordSuccess(ctx context.Context, orderID int64, payment *models.Payment) {
	a.logger.Info("Payment completed",
		zap.Int64("order_id", orderID),
		zap.Int64("payment_id", payment.ID),
		zap.String("transaction_id", payment.TransactionID),
		zap.String("amount", payment.Amount.StringFixed(2)))
}

func (a *LogAuditor) RecordError(ctx context.Context, orderID int64, err error) {
	a.logger.Error("Payment failed",
		zap.Int64("order_id", orderID),
		zap.Error(err))
}

func (a *LogAuditor) RecordStatusChange(ctx context.Context, transactionID string, status models.PaymentStatus, applied bool) {
	a.logger.Info("Payment status change",
		zap.String("transaction_id", transactionID),
		zap.String("status", string(status)),
		zap.Bool("applied", applied))
}

type nopAlertSink struct{}

func (nopAlertSink) Raise(context.Context, string, models.Severity, map[string]any) error { return nil }

type nopNotifier struct{}

func (nopNotifier) Publish(context.Context, string, any) error { return nil }
