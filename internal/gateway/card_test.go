package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/form"
)

// mockBackend implements stripe.Backend for testing
type mockBackend struct {
	handler func(method, path string, params stripe.ParamsContainer) ([]byte, error)
}

func (m *mockBackend) Call(method, path, key string, params stripe.ParamsContainer, v stripe.LastResponseSetter) error {
	data, err := m.handler(method, path, params)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (m *mockBackend) CallStreaming(method, path, key string, params stripe.ParamsContainer, v stripe.StreamingLastResponseSetter) error {
	return nil
}

func (m *mockBackend) CallRaw(method, path, key string, body *form.Values, params *stripe.Params, v stripe.LastResponseSetter) error {
	return nil
}

func (m *mockBackend) CallMultipart(method, path, key, boundary string, body *bytes.Buffer, params *stripe.Params, v stripe.LastResponseSetter) error {
	return nil
}

func (m *mockBackend) SetMaxNetworkRetries(maxNetworkRetries int64) {}

func newCardAdapter(handler func(method, path string, params stripe.ParamsContainer) ([]byte, error)) *CardAdapter {
	mock := &mockBackend{handler: handler}
	return NewCardAdapterWithBackends(CardConfig{SecretKey: "sk_test_123", Currency: "USD"},
		&stripe.Backends{API: mock, Connect: mock, Uploads: mock})
}

func TestCardAdapter_Pay(t *testing.T) {
	card := newCardAdapter(func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		if method == "POST" && path == "/v1/payment_intents" {
			p := params.(*stripe.PaymentIntentParams)
			assert.Equal(t, int64(45050), *p.Amount)
			assert.Equal(t, "usd", *p.Currency)
			assert.Equal(t, "pm_card_visa", *p.PaymentMethod)
			assert.True(t, *p.Confirm)
			return json.Marshal(&stripe.PaymentIntent{ID: "pi_123", Status: stripe.PaymentIntentStatusSucceeded})
		}
		return nil, fmt.Errorf("unexpected call: %s %s", method, path)
	})

	res, err := card.Pay(context.Background(), decimal.RequireFromString("450.50"), map[string]string{"card_token": "pm_card_visa"})
	require.NoError(t, err)
	assert.Equal(t, "pi_123", res.TransactionID)
	assert.Equal(t, StatusCompleted, res.Status)
}

func TestCardAdapter_PayRequiresAction(t *testing.T) {
	card := newCardAdapter(func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		return json.Marshal(&stripe.PaymentIntent{ID: "pi_124", Status: stripe.PaymentIntentStatusRequiresAction})
	})

	_, err := card.Pay(context.Background(), decimal.NewFromInt(10), map[string]string{"card_token": "pm_card_visa"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires_action")
}

func TestCardAdapter_PayError(t *testing.T) {
	card := newCardAdapter(func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		return nil, &stripe.Error{Code: stripe.ErrorCodeCardDeclined, Msg: "Your card was declined."}
	})

	_, err := card.Pay(context.Background(), decimal.NewFromInt(10), map[string]string{"card_token": "pm_card_visa"})
	require.Error(t, err)
	var stripeErr *stripe.Error
	assert.ErrorAs(t, err, &stripeErr)
}

func TestCardAdapter_Refund(t *testing.T) {
	card := newCardAdapter(func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		if method == "POST" && path == "/v1/refunds" {
			p := params.(*stripe.RefundParams)
			assert.Equal(t, "pi_123", *p.PaymentIntent)
			assert.Equal(t, int64(10000), *p.Amount)
			return json.Marshal(&stripe.Refund{ID: "re_1", Status: stripe.RefundStatusSucceeded})
		}
		return nil, fmt.Errorf("unexpected call: %s %s", method, path)
	})

	res, err := card.Refund(context.Background(), "pi_123", decimal.NewFromInt(100))
	require.NoError(t, err)
	assert.Equal(t, "re_1", res.TransactionID)
}

func TestCardAdapter_Verify(t *testing.T) {
	card := newCardAdapter(func(method, path string, params stripe.ParamsContainer) ([]byte, error) {
		if method == "GET" && path == "/v1/payment_intents/pi_123" {
			return json.Marshal(&stripe.PaymentIntent{ID: "pi_123", Status: stripe.PaymentIntentStatusSucceeded})
		}
		return json.Marshal(&stripe.PaymentIntent{ID: "pi_x", Status: stripe.PaymentIntentStatusCanceled})
	})

	ok, err := card.Verify(context.Background(), "pi_123")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = card.Verify(context.Background(), "pi_456")
	require.NoError(t, err)
	assert.False(t, ok)
}
