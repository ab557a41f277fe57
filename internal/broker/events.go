package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// AlertPublisher sends stock and payment alerts to the alerts topic
type AlertPublisher struct {
	producer *Producer
}

// NewAlertPublisher creates a new alert publisher
func NewAlertPublisher(producer *Producer) *AlertPublisher {
	return &AlertPublisher{producer: producer}
}

// Raise publishes an AlertEvent keyed by alert type
func (ap *AlertPublisher) Raise(ctx context.Context, alertType string, severity models.Severity, details map[string]any) error {
	event := &models.AlertEvent{
		BaseEvent: newBaseEvent(models.EventTypeAlertRaised),
		AlertType: alertType,
		Severity:  severity,
		Context:   details,
	}
	return ap.producer.PublishEvent(ctx, alertType, event)
}

// CommandPublisher enqueues commands for the command workers
type CommandPublisher struct {
	producer *Producer
}

// NewCommandPublisher creates a new command publisher
func NewCommandPublisher(producer *Producer) *CommandPublisher {
	return &CommandPublisher{producer: producer}
}

// RequestPayment enqueues a payment for an order. Keyed by order so that
// commands for one order stay on one partition.
func (cp *CommandPublisher) RequestPayment(ctx context.Context, orderID int64, gatewayName string, fields map[string]string) (string, error) {
	event := &models.PaymentRequestedEvent{
		BaseEvent: newBaseEvent(models.EventTypePaymentRequested),
		OrderID:   orderID,
		Gateway:   gatewayName,
		Fields:    fields,
	}
	return event.EventID, cp.producer.PublishEvent(ctx, fmt.Sprintf("order-%d", orderID), event)
}

// RequestStockAdjustment enqueues a stock change for an item
func (cp *CommandPublisher) RequestStockAdjustment(ctx context.Context, update models.StockUpdate) (string, error) {
	event := &models.StockAdjustmentRequestedEvent{
		BaseEvent: newBaseEvent(models.EventTypeStockAdjustmentRequested),
		ItemID:    update.ItemID,
		Quantity:  update.Quantity,
		Operation: update.Operation,
	}
	return event.EventID, cp.producer.PublishEvent(ctx, fmt.Sprintf("item-%d", update.ItemID), event)
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// EventHandler handles incoming events
type EventHandler struct {
	onPaymentRequested func(context.Context, *models.PaymentRequestedEvent) error
	onStockAdjustment  func(context.Context, *models.StockAdjustmentRequestedEvent) error
	logger             *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger().Named("event_handler")}
}

// OnPaymentRequested registers a handler for PaymentRequested events
func (eh *EventHandler) OnPaymentRequested(handler func(context.Context, *models.PaymentRequestedEvent) error) {
	eh.onPaymentRequested = handler
}

// OnStockAdjustmentRequested registers a handler for StockAdjustmentRequested events
func (eh *EventHandler) OnStockAdjustmentRequested(handler func(context.Context, *models.StockAdjustmentRequestedEvent) error) {
	eh.onStockAdjustment = handler
}

// HandleMessage routes messages to appropriate handlers. A message that does
// not decode is logged and dropped, since redelivering it cannot help.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		eh.dropUndecodable(msg, "base event", err)
		return nil
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentRequested:
		if eh.onPaymentRequested != nil {
			var event models.PaymentRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				eh.dropUndecodable(msg, baseEvent.EventType, err)
				return nil
			}
			return eh.onPaymentRequested(ctx, &event)
		}

	case models.EventTypeStockAdjustmentRequested:
		if eh.onStockAdjustment != nil {
			var event models.StockAdjustmentRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				eh.dropUndecodable(msg, baseEvent.EventType, err)
				return nil
			}
			return eh.onStockAdjustment(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}

func (eh *EventHandler) dropUndecodable(msg kafka.Message, kind string, err error) {
	eh.logger.Error("Dropping undecodable message",
		zap.String("kind", kind),
		zap.Int64("offset", msg.Offset),
		zap.Int("partition", msg.Partition),
		zap.Error(err))
}
