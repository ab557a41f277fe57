package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/gateway"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/store"
	"fulfillment-service/internal/txn"
	"fulfillment-service/internal/util"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// failureRecordTimeout bounds the separate unit of work that stores a failure
const failureRecordTimeout = 10 * time.Second

// ProcessorConfig holds payment processing limits
type ProcessorConfig struct {
	// GatewayTimeout bounds every adapter call made while a lock is held
	GatewayTimeout time.Duration
}

// PaymentRequest selects a gateway and carries its method-specific fields
type PaymentRequest struct {
	Gateway string            `json:"gateway" binding:"required"`
	Fields  map[string]string `json:"fields"`
}

// RefundRequest asks for a refund; a nil Amount refunds the full payment
type RefundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason"`
}

// PaymentProcessor captures each order's payment exactly once and refunds
// against captured payments.
type PaymentProcessor struct {
	coord    *txn.Coordinator
	reader   *store.Store
	gateways *gateway.Registry
	auditor  PaymentAuditor
	alerts   AlertSink
	notifier Notifier
	cfg      ProcessorConfig
	logger   *zap.Logger
}

// NewPaymentProcessor creates a processor. reader serves lock-free lookups.
func NewPaymentProcessor(
	coord *txn.Coordinator,
	reader *store.Store,
	gateways *gateway.Registry,
	auditor PaymentAuditor,
	alerts AlertSink,
	notifier Notifier,
	cfg ProcessorConfig,
) *PaymentProcessor {
	logger := util.GetLogger().Named("payment_processor")
	if auditor == nil {
		auditor = NewLogAuditor(logger)
	}
	if alerts == nil {
		alerts = nopAlertSink{}
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = 30 * time.Second
	}
	return &PaymentProcessor{
		coord:    coord,
		reader:   reader,
		gateways: gateways,
		auditor:  auditor,
		alerts:   alerts,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// resolveGateway returns the adapter for req after checking its required fields
func (p *PaymentProcessor) resolveGateway(req PaymentRequest) (gateway.Adapter, error) {
	adapter, ok := p.gateways.Get(req.Gateway)
	if !ok {
		return nil, apperr.Validation("unsupported payment gateway %q (supported: %s)",
			req.Gateway, strings.Join(p.gateways.Methods(), ", "))
	}
	if missing := gateway.MissingFields(adapter, req.Fields); len(missing) > 0 {
		return nil, apperr.Validation("gateway %s requires fields: %s", req.Gateway, strings.Join(missing, ", "))
	}
	return adapter, nil
}

// ProcessPayment charges the order total through the requested gateway.
// A second call for an order that already has a completed payment fails with
// DuplicatePayment. Every failure leaves a payment_failures row behind.
func (p *PaymentProcessor) ProcessPayment(ctx context.Context, orderID int64, req PaymentRequest) (payment *models.Payment, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentProcessor.ProcessPayment",
		attribute.Int64("order_id", orderID),
		attribute.String("gateway", req.Gateway))
	defer func() { util.EndSpan(span, err) }()

	util.PaymentAttemptsTotal.Inc()
	start := time.Now()
	defer func() {
		util.PaymentProcessingLatency.Observe(time.Since(start).Seconds())
	}()

	err = p.coord.Run(ctx, fmt.Sprintf("payment_%d", orderID), func(ctx context.Context, u *txn.Unit) error {
		adapter, err := p.resolveGateway(req)
		if err != nil {
			return err
		}

		order, err := u.Store().GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		p.auditor.RecordAttempt(ctx, orderID, adapter.Method(), order.TotalAmount)

		paid, err := u.Store().HasCompletedPayment(ctx, orderID)
		if err != nil {
			return err
		}
		if paid {
			return apperr.DuplicatePayment("order %d already has a completed payment", orderID)
		}

		gctx, cancel := context.WithTimeout(ctx, p.cfg.GatewayTimeout)
		result, err := adapter.Pay(gctx, order.TotalAmount, req.Fields)
		cancel()
		if err != nil {
			return apperr.Gateway(err, "%s payment failed", adapter.Method())
		}

		payment = &models.Payment{
			OrderID:       orderID,
			Amount:        order.TotalAmount,
			Method:        adapter.Method(),
			TransactionID: result.TransactionID,
			Status:        models.PaymentStatusCompleted,
		}
		if err := u.Store().CreatePayment(ctx, payment); err != nil {
			return err
		}
		return u.Store().UpdateOrderStatus(ctx, orderID, models.OrderStatusPaid)
	})
	if err != nil {
		p.recordFailure(ctx, orderID, err)
		return nil, err
	}

	util.PaymentSuccessTotal.WithLabelValues(payment.Method).Inc()
	p.auditor.RecordSuccess(ctx, orderID, payment)
	p.publish(ctx, models.TopicPaymentCompleted, payment)

	return payment, nil
}

// recordFailure stores the failure in its own unit of work after the main
// unit rolled back, then tells the auditor and the alert sink.
func (p *PaymentProcessor) recordFailure(ctx context.Context, orderID int64, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureRecordTimeout)
	defer cancel()

	code := apperr.CodeOf(cause)
	util.PaymentFailedTotal.WithLabelValues(util.ErrorReason(string(code))).Inc()
	p.auditor.RecordError(ctx, orderID, cause)

	err := p.coord.Run(ctx, "", func(ctx context.Context, u *txn.Unit) error {
		return u.Store().CreatePaymentFailure(ctx, orderID, cause.Error())
	})
	if err != nil {
		p.logger.Error("Failed to record payment failure",
			zap.Int64("order_id", orderID),
			zap.NamedError("cause", cause),
			zap.Error(err))
	}

	details := map[string]any{
		"order_id": orderID,
		"code":     string(code),
		"error":    cause.Error(),
	}
	if err := p.alerts.Raise(ctx, models.AlertPaymentFailure, models.SeverityWarning, details); err != nil {
		p.logger.Warn("Failed to raise payment failure alert", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

// ProcessRefund refunds part or all of a completed payment. The refunds of a
// payment never add up to more than its amount.
func (p *PaymentProcessor) ProcessRefund(ctx context.Context, paymentID int64, req RefundRequest) (refund *models.Refund, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentProcessor.ProcessRefund",
		attribute.Int64("payment_id", paymentID))
	defer func() { util.EndSpan(span, err) }()

	var payment *models.Payment
	err = p.coord.Run(ctx, fmt.Sprintf("refund_%d", paymentID), func(ctx context.Context, u *txn.Unit) error {
		var err error
		payment, err = u.Store().GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if payment.Status != models.PaymentStatusCompleted {
			return apperr.Validation("payment %d is %s; only completed payments can be refunded", paymentID, payment.Status)
		}

		amount := payment.Amount
		if req.Amount != nil {
			amount = *req.Amount
		}
		if !amount.IsPositive() {
			return apperr.Validation("refund amount must be positive")
		}
		if amount.GreaterThan(payment.Amount) {
			return apperr.Validation("refund amount %s exceeds payment amount %s",
				amount.StringFixed(2), payment.Amount.StringFixed(2))
		}

		refunded, err := u.Store().TotalRefunded(ctx, paymentID)
		if err != nil {
			return err
		}
		if refunded.Add(amount).GreaterThan(payment.Amount) {
			return apperr.Validation("refund amount %s exceeds remaining %s",
				amount.StringFixed(2), payment.Amount.Sub(refunded).StringFixed(2))
		}

		adapter, ok := p.gateways.Get(payment.Method)
		if !ok {
			return apperr.Validation("payment gateway %q is not configured", payment.Method)
		}

		gctx, cancel := context.WithTimeout(ctx, p.cfg.GatewayTimeout)
		_, err = adapter.Refund(gctx, payment.TransactionID, amount)
		cancel()
		if err != nil {
			return apperr.Gateway(err, "%s refund failed", adapter.Method())
		}

		refund = &models.Refund{
			PaymentID: paymentID,
			Amount:    amount,
			Reason:    req.Reason,
			Status:    models.RefundStatusCompleted,
		}
		return u.Store().CreateRefund(ctx, refund)
	})
	if err != nil {
		util.RefundsTotal.WithLabelValues(util.ErrorReason(string(apperr.CodeOf(err)))).Inc()
		p.logger.Warn("Refund rejected", zap.Int64("payment_id", paymentID), zap.Error(err))
		return nil, err
	}
	util.RefundsTotal.WithLabelValues("ok").Inc()

	p.logger.Info("Refund issued",
		zap.Int64("payment_id", paymentID),
		zap.String("amount", refund.Amount.StringFixed(2)))
	p.publish(ctx, models.TopicPaymentRefunded, &models.Payment{
		ID:            payment.ID,
		OrderID:       payment.OrderID,
		Amount:        refund.Amount,
		Method:        payment.Method,
		TransactionID: payment.TransactionID,
	})

	return refund, nil
}

// UpdatePaymentStatus sets the status of the payment with transactionID.
// Moving to processing counts a retry. The only move refused is one that
// would give an order a second completed payment.
func (p *PaymentProcessor) UpdatePaymentStatus(ctx context.Context, transactionID string, status models.PaymentStatus) (payment *models.Payment, err error) {
	ctx, span := util.StartSpan(ctx, "PaymentProcessor.UpdatePaymentStatus",
		attribute.String("transaction_id", transactionID),
		attribute.String("status", string(status)))
	defer func() { util.EndSpan(span, err) }()

	if !status.IsValid() {
		return nil, apperr.Validation("unknown payment status %q", status)
	}

	err = p.coord.Run(ctx, "", func(ctx context.Context, u *txn.Unit) error {
		applied, err := u.Store().SetPaymentStatus(ctx, transactionID, status)
		if err != nil {
			return err
		}
		if !applied {
			return apperr.NotFound("payment %s not found", transactionID)
		}
		payment, err = u.Store().GetPaymentByTransactionID(ctx, transactionID)
		return err
	})
	p.auditor.RecordStatusChange(ctx, transactionID, status, err == nil)
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// VerifyPayment asks the payment's gateway whether the transaction settled
func (p *PaymentProcessor) VerifyPayment(ctx context.Context, paymentID int64) (bool, error) {
	payment, err := p.reader.GetPayment(ctx, paymentID)
	if err != nil {
		return false, err
	}
	adapter, ok := p.gateways.Get(payment.Method)
	if !ok {
		return false, apperr.Validation("payment gateway %q is not configured", payment.Method)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.GatewayTimeout)
	defer cancel()
	verified, err := adapter.Verify(ctx, payment.TransactionID)
	if err != nil {
		return false, apperr.Gateway(err, "%s verification failed", adapter.Method())
	}
	return verified, nil
}

func (p *PaymentProcessor) GetPayment(ctx context.Context, paymentID int64) (*models.Payment, error) {
	return p.reader.GetPayment(ctx, paymentID)
}

func (p *PaymentProcessor) ListPayments(ctx context.Context, orderID int64) ([]models.Payment, error) {
	return p.reader.ListPaymentsByOrder(ctx, orderID)
}

// ListFailures returns the failure trail of an order
func (p *PaymentProcessor) ListFailures(ctx context.Context, orderID int64) ([]models.PaymentFailure, error) {
	return p.reader.ListPaymentFailures(ctx, orderID)
}

func (p *PaymentProcessor) publish(ctx context.Context, topic string, payment *models.Payment) {
	notification := models.PaymentNotification{
		OrderID:       payment.OrderID,
		PaymentID:     payment.ID,
		TransactionID: payment.TransactionID,
		Amount:        payment.Amount,
		Method:        payment.Method,
	}
	if err := p.notifier.Publish(context.WithoutCancel(ctx), topic, notification); err != nil {
		p.logger.Warn("Failed to broadcast payment", zap.String("topic", topic), zap.Int64("order_id", payment.OrderID), zap.Error(err))
	}
}
