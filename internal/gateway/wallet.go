package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// Wallet provider statuses
const (
	walletStatusApproved = "approved"
	walletStatusRefunded = "refunded"
)

// WalletConfig holds the credentials of one mobile wallet provider
type WalletConfig struct {
	BaseURL    string
	MerchantID string
	APIKey     string
	Timeout    time.Duration
}

// WalletAdapter calls a mobile wallet provider's REST API
type WalletAdapter struct {
	method     string
	merchantID string
	client     *resty.Client
}

type walletPaymentRequest struct {
	MerchantID   string          `json:"merchant_id"`
	AccountToken string          `json:"account_token"`
	Amount       decimal.Decimal `json:"amount"`
	Reference    string          `json:"reference,omitempty"`
}

type walletRefundRequest struct {
	MerchantID string          `json:"merchant_id"`
	Amount     decimal.Decimal `json:"amount"`
}

type walletResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

type walletError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewWalletAdapter(method string, cfg WalletConfig) *WalletAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Merchant-Id", cfg.MerchantID)

	return &WalletAdapter{method: method, merchantID: cfg.MerchantID, client: client}
}

func (w *WalletAdapter) Method() string { return w.method }

func (w *WalletAdapter) RequiredFields() []string { return []string{"account_token"} }

func (w *WalletAdapter) Pay(ctx context.Context, amount decimal.Decimal, data map[string]string) (*Result, error) {
	var out walletResponse
	var apiErr walletError

	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(walletPaymentRequest{
			MerchantID:   w.merchantID,
			AccountToken: data["account_token"],
			Amount:       amount,
			Reference:    data["reference"],
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v1/payments")
	if err := w.check(resp, err, &apiErr, "pay"); err != nil {
		return nil, err
	}
	if out.Status != walletStatusApproved {
		return nil, fmt.Errorf("%s: payment not approved: %s", w.method, out.Status)
	}

	return &Result{TransactionID: out.TransactionID, Status: StatusCompleted}, nil
}

func (w *WalletAdapter) Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (*Result, error) {
	var out walletResponse
	var apiErr walletError

	resp, err := w.client.R().
		SetContext(ctx).
		SetPathParam("tx", transactionID).
		SetBody(walletRefundRequest{
			MerchantID: w.merchantID,
			Amount:     amount,
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v1/payments/{tx}/refunds")
	if err := w.check(resp, err, &apiErr, "refund"); err != nil {
		return nil, err
	}
	if out.Status != walletStatusRefunded {
		return nil, fmt.Errorf("%s: refund not accepted: %s", w.method, out.Status)
	}

	return &Result{TransactionID: out.TransactionID, Status: StatusRefunded}, nil
}

func (w *WalletAdapter) Verify(ctx context.Context, transactionID string) (bool, error) {
	var out walletResponse
	var apiErr walletError

	resp, err := w.client.R().
		SetContext(ctx).
		SetPathParam("tx", transactionID).
		SetResult(&out).
		SetError(&apiErr).
		Get("/v1/payments/{tx}")
	if err := w.check(resp, err, &apiErr, "verify"); err != nil {
		return false, err
	}

	return out.Status == walletStatusApproved, nil
}

func (w *WalletAdapter) check(resp *resty.Response, err error, apiErr *walletError, op string) error {
	if err != nil {
		return fmt.Errorf("%s %s: %w", w.method, op, err)
	}
	if resp.IsError() {
		if apiErr.Message != "" {
			return fmt.Errorf("%s %s: %s (%s)", w.method, op, apiErr.Message, apiErr.Code)
		}
		return fmt.Errorf("%s %s: unexpected status %d", w.method, op, resp.StatusCode())
	}
	return nil
}
