package gateway

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CashAdapter settles in person; there is no network to call
type CashAdapter struct{}

func NewCashAdapter() *CashAdapter { return &CashAdapter{} }

func (c *CashAdapter) Method() string { return MethodCash }

func (c *CashAdapter) RequiredFields() []string { return nil }

func (c *CashAdapter) Pay(ctx context.Context, amount decimal.Decimal, data map[string]string) (*Result, error) {
	return &Result{TransactionID: "CASH-" + uuid.NewString(), Status: StatusCompleted}, nil
}

func (c *CashAdapter) Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (*Result, error) {
	return &Result{TransactionID: "CASH-REFUND-" + uuid.NewString(), Status: StatusRefunded}, nil
}

func (c *CashAdapter) Verify(ctx context.Context, transactionID string) (bool, error) {
	return transactionID != "", nil
}
