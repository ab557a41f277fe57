package gateway

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// CardConfig holds the Stripe credentials
type CardConfig struct {
	SecretKey string
	Currency  string
}

// CardAdapter charges cards through Stripe PaymentIntents
type CardAdapter struct {
	sc       *client.API
	currency string
}

// NewCardAdapter builds an adapter on Stripe's default backends
func NewCardAdapter(cfg CardConfig) *CardAdapter {
	return NewCardAdapterWithBackends(cfg, nil)
}

// NewCardAdapterWithBackends builds an adapter on explicit backends; nil uses the defaults
func NewCardAdapterWithBackends(cfg CardConfig, backends *stripe.Backends) *CardAdapter {
	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	sc := &client.API{}
	sc.Init(cfg.SecretKey, backends)
	return &CardAdapter{sc: sc, currency: currency}
}

func (c *CardAdapter) Method() string { return MethodCard }

func (c *CardAdapter) RequiredFields() []string { return []string{"card_token"} }

// minorUnits converts an amount to cents
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func (c *CardAdapter) Pay(ctx context.Context, amount decimal.Decimal, data map[string]string) (*Result, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(minorUnits(amount)),
		Currency:           stripe.String(c.currency),
		PaymentMethod:      stripe.String(data["card_token"]),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Confirm:            stripe.Bool(true),
	}
	params.Context = ctx
	if ref := data["reference"]; ref != "" {
		params.AddMetadata("reference", ref)
	}

	pi, err := c.sc.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: failed to create payment intent: %w", err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return nil, fmt.Errorf("stripe: payment intent %s not captured: %s", pi.ID, pi.Status)
	}

	return &Result{TransactionID: pi.ID, Status: StatusCompleted}, nil
}

func (c *CardAdapter) Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (*Result, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(transactionID),
		Amount:        stripe.Int64(minorUnits(amount)),
	}
	params.Context = ctx

	r, err := c.sc.Refunds.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: failed to refund %s: %w", transactionID, err)
	}
	if r.Status == stripe.RefundStatusFailed || r.Status == stripe.RefundStatusCanceled {
		return nil, fmt.Errorf("stripe: refund %s %s", r.ID, r.Status)
	}

	return &Result{TransactionID: r.ID, Status: StatusRefunded}, nil
}

func (c *CardAdapter) Verify(ctx context.Context, transactionID string) (bool, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := c.sc.PaymentIntents.Get(transactionID, params)
	if err != nil {
		return false, fmt.Errorf("stripe: failed to get payment intent %s: %w", transactionID, err)
	}
	return pi.Status == stripe.PaymentIntentStatusSucceeded, nil
}
