package gateway

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewCashAdapter())
	r.Register(NewWalletAdapter(MethodWalletA, WalletConfig{BaseURL: "http://wallet-a.invalid"}))

	_, ok := r.Get(MethodCash)
	assert.True(t, ok)
	_, ok = r.Get("bitcoin")
	assert.False(t, ok)
	assert.Equal(t, []string{MethodCash, MethodWalletA}, r.Methods())
}

func TestMissingFields(t *testing.T) {
	wallet := NewWalletAdapter(MethodWalletB, WalletConfig{})

	assert.Equal(t, []string{"account_token"}, MissingFields(wallet, map[string]string{}))
	assert.Equal(t, []string{"account_token"}, MissingFields(wallet, map[string]string{"account_token": ""}))
	assert.Empty(t, MissingFields(wallet, map[string]string{"account_token": "acct_1"}))
	assert.Empty(t, MissingFields(NewCashAdapter(), nil))
}

func TestCashAdapter(t *testing.T) {
	cash := NewCashAdapter()
	ctx := context.Background()

	res, err := cash.Pay(ctx, decimal.RequireFromString("12.50"), nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.TransactionID, "CASH-"))
	assert.Equal(t, StatusCompleted, res.Status)

	other, err := cash.Pay(ctx, decimal.RequireFromString("12.50"), nil)
	require.NoError(t, err)
	assert.NotEqual(t, res.TransactionID, other.TransactionID)

	refund, err := cash.Refund(ctx, res.TransactionID, decimal.RequireFromString("5"))
	require.NoError(t, err)
	assert.Equal(t, StatusRefunded, refund.Status)

	ok, err := cash.Verify(ctx, res.TransactionID)
	require.NoError(t, err)
	assert.True(t, ok)
}
