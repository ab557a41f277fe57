package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypePaymentRequested         = "PAYMENT_REQUESTED"
	EventTypeStockAdjustmentRequested = "STOCK_ADJUSTMENT_REQUESTED"
	EventTypeAlertRaised              = "ALERT_RAISED"
)

// Notification topics
const (
	TopicInventoryUpdated = "inventory.updated"
	TopicPaymentCompleted = "payment.completed"
	TopicPaymentRefunded  = "payment.refunded"
)

// Alert types
const (
	AlertLowStock       = "low_stock"
	AlertCriticalStock  = "critical_stock"
	AlertPaymentFailure = "payment_failure"
)

// Severity of a raised alert
type Severity string

// Alert severities
const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PaymentRequestedEvent asks the processor to capture payment for an order
type PaymentRequestedEvent struct {
	BaseEvent
	OrderID int64             `json:"order_id"`
	Gateway string            `json:"gateway"`
	Fields  map[string]string `json:"fields"`
}

// StockAdjustmentRequestedEvent asks the ledger to change an item's quantity
type StockAdjustmentRequestedEvent struct {
	BaseEvent
	ItemID    int64          `json:"item_id"`
	Quantity  int            `json:"quantity"`
	Operation StockOperation `json:"operation"`
}

// AlertEvent is published when a threshold or failure alert is raised
type AlertEvent struct {
	BaseEvent
	AlertType string         `json:"alert_type"`
	Severity  Severity       `json:"severity"`
	Context   map[string]any `json:"context"`
}

// InventoryUpdatedNotification is broadcast after a committed stock change
type InventoryUpdatedNotification struct {
	ItemID   int64  `json:"item_id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Level    string `json:"level"`
}

// PaymentNotification is broadcast after a committed capture or refund
type PaymentNotification struct {
	OrderID       int64           `json:"order_id"`
	PaymentID     int64           `json:"payment_id"`
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method"`
}
