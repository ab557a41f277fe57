package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order is the slice of an order this core reads and writes
type Order struct {
	ID          int64           `db:"id" json:"id"`
	TotalAmount decimal.Decimal `db:"total_amount" json:"total_amount"`
	Status      string          `db:"status" json:"status"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// Order statuses
const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusCancelled = "cancelled"
)

// PaymentStatus is the lifecycle state of a payment row
type PaymentStatus string

// Payment statuses
const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
)

// IsValid reports whether s is a known status
func (s PaymentStatus) IsValid() bool {
	switch s {
	case PaymentStatusPending, PaymentStatusProcessing, PaymentStatusCompleted,
		PaymentStatusFailed, PaymentStatusCancelled:
		return true
	default:
		return false
	}
}

// Payment represents a captured payment
type Payment struct {
	ID            int64           `db:"id" json:"id"`
	OrderID       int64           `db:"order_id" json:"order_id"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Method        string          `db:"method" json:"method"`
	TransactionID string          `db:"transaction_id" json:"transaction_id"`
	Status        PaymentStatus   `db:"status" json:"status"`
	RetryCount    int             `db:"retry_count" json:"retry_count"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at" json:"updated_at"`
}

// PaymentFailure is an append-only record of a failed payment attempt
type PaymentFailure struct {
	ID           int64     `db:"id" json:"id"`
	OrderID      int64     `db:"order_id" json:"order_id"`
	ErrorMessage string    `db:"error_message" json:"error_message"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Refund represents a refund issued against a payment
type Refund struct {
	ID        int64           `db:"id" json:"id"`
	PaymentID int64           `db:"payment_id" json:"payment_id"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	Reason    string          `db:"reason" json:"reason"`
	Status    string          `db:"status" json:"status"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Refund statuses
const (
	RefundStatusCompleted = "completed"
)

// StockItem represents the stock count of a catalog item
type StockItem struct {
	ID                int64     `db:"id" json:"id"`
	Name              string    `db:"name" json:"name"`
	Quantity          int       `db:"quantity" json:"quantity"`
	ReorderPoint      int       `db:"reorder_point" json:"reorder_point"`
	CriticalThreshold int       `db:"critical_threshold" json:"critical_threshold"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// RestockOrder is the deduplicated replenishment request for an item
type RestockOrder struct {
	ID                int64     `db:"id" json:"id"`
	ItemID            int64     `db:"item_id" json:"item_id"`
	QuantityRequested int       `db:"quantity_requested" json:"quantity_requested"`
	Status            string    `db:"status" json:"status"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// Restock statuses
const (
	RestockStatusPending = "pending"
)

// Stock levels derived from the configured thresholds
const (
	StockLevelOK       = "ok"
	StockLevelLow      = "low"
	StockLevelCritical = "critical"
)

// StockStatus is a read-only view of an item with its derived level
type StockStatus struct {
	StockItem
	Level          string        `json:"level"`
	PendingRestock *RestockOrder `json:"pending_restock,omitempty"`
}

// StockOperation is the direction of a stock change
type StockOperation string

// Stock operations
const (
	StockAdd      StockOperation = "add"
	StockSubtract StockOperation = "subtract"
)

// IsValid reports whether op is add or subtract
func (op StockOperation) IsValid() bool {
	return op == StockAdd || op == StockSubtract
}

// StockUpdate is one requested change to an item's quantity
type StockUpdate struct {
	ItemID    int64          `json:"item_id" binding:"required"`
	Quantity  int            `json:"quantity" binding:"required,min=1"`
	Operation StockOperation `json:"operation" binding:"required"`
}
