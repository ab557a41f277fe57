package worker

import (
	"context"
	"errors"
	"time"

	"fulfillment-service/internal/apperr"
	"fulfillment-service/internal/broker"
	"fulfillment-service/internal/models"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// claimTTL is how long a handled stock command id is remembered
const claimTTL = 24 * time.Hour

// PaymentRunner captures payments for orders
type PaymentRunner interface {
	ProcessPayment(ctx context.Context, orderID int64, req service.PaymentRequest) (*models.Payment, error)
}

// StockUpdater applies single stock changes
type StockUpdater interface {
	UpdateStock(ctx context.Context, itemID int64, quantity int, op models.StockOperation) (int, error)
}

// IdempotencyStore remembers which commands were already applied
type IdempotencyStore interface {
	ClaimIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ForgetIdempotencyKey(ctx context.Context, key string) error
}

// CommandWorker applies payment and stock commands from the command topic
type CommandWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	payments     PaymentRunner
	stock        StockUpdater
	seen         IdempotencyStore
	logger       *zap.Logger
}

// NewCommandWorker creates a new command worker. seen may be nil, in which
// case stock commands are applied on every delivery.
func NewCommandWorker(
	consumer *broker.Consumer,
	payments PaymentRunner,
	stock StockUpdater,
	seen IdempotencyStore,
) *CommandWorker {
	w := &CommandWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		payments:     payments,
		stock:        stock,
		seen:         seen,
		logger:       util.GetLogger().Named("command_worker"),
	}

	w.eventHandler.OnPaymentRequested(w.handlePaymentRequested)
	w.eventHandler.OnStockAdjustmentRequested(w.handleStockAdjustment)

	return w
}

// Start consumes until ctx is cancelled
func (w *CommandWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting command worker")
	return w.consumer.StartConsuming(ctx, w.HandleMessage)
}

// Stop closes the underlying consumer
func (w *CommandWorker) Stop() error {
	w.logger.Info("Stopping command worker")
	return w.consumer.Close()
}

// HandleMessage routes one command message. A nil return commits the message.
func (w *CommandWorker) HandleMessage(ctx context.Context, msg kafka.Message) error {
	return w.eventHandler.HandleMessage(ctx, msg)
}

func (w *CommandWorker) handlePaymentRequested(ctx context.Context, event *models.PaymentRequestedEvent) error {
	logger := w.logger.With(zap.String("event_id", event.EventID), zap.Int64("order_id", event.OrderID))

	payment, err := w.payments.ProcessPayment(ctx, event.OrderID, service.PaymentRequest{
		Gateway: event.Gateway,
		Fields:  event.Fields,
	})
	switch {
	case err == nil:
		logger.Info("Payment command applied", zap.String("transaction_id", payment.TransactionID))
		return nil
	case errors.Is(err, apperr.ErrDuplicatePayment):
		logger.Info("Order already paid, skipping payment command")
		return nil
	case isPermanent(err):
		logger.Warn("Dropping payment command", zap.Error(err))
		return nil
	default:
		return err
	}
}

func (w *CommandWorker) handleStockAdjustment(ctx context.Context, event *models.StockAdjustmentRequestedEvent) error {
	logger := w.logger.With(zap.String("event_id", event.EventID), zap.Int64("item_id", event.ItemID))

	if w.seen != nil && event.EventID != "" {
		claimed, err := w.seen.ClaimIdempotencyKey(ctx, event.EventID, claimTTL)
		if err != nil {
			return err
		}
		if !claimed {
			logger.Info("Stock command already applied, skipping")
			return nil
		}
	}

	newQty, err := w.stock.UpdateStock(ctx, event.ItemID, event.Quantity, event.Operation)
	if err == nil {
		logger.Info("Stock command applied", zap.Int("quantity", newQty))
		return nil
	}
	if isPermanent(err) {
		logger.Warn("Dropping stock command", zap.Error(err))
		return nil
	}

	if w.seen != nil && event.EventID != "" {
		if ferr := w.seen.ForgetIdempotencyKey(context.WithoutCancel(ctx), event.EventID); ferr != nil {
			logger.Error("Failed to drop idempotency claim", zap.Error(ferr))
		}
	}
	return err
}

// isPermanent reports whether redelivering the command cannot succeed
func isPermanent(err error) bool {
	return errors.Is(err, apperr.ErrValidation) ||
		errors.Is(err, apperr.ErrNotFound) ||
		errors.Is(err, apperr.ErrInsufficientStock)
}
