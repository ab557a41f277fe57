// Package gateway holds one Adapter per payment method behind a common contract.
package gateway

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Payment method names
const (
	MethodCash    = "cash"
	MethodWalletA = "mobile-wallet-A"
	MethodWalletB = "mobile-wallet-B"
	MethodCard    = "card"
)

// Result statuses reported by adapters
const (
	StatusCompleted = "completed"
	StatusRefunded  = "refunded"
)

// Result is what a payment network returned for a pay or refund call
type Result struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
}

// Adapter talks to one payment network
type Adapter interface {
	Method() string
	// RequiredFields lists the method-specific keys Pay needs in data
	RequiredFields() []string
	Pay(ctx context.Context, amount decimal.Decimal, data map[string]string) (*Result, error)
	Refund(ctx context.Context, transactionID string, amount decimal.Decimal) (*Result, error)
	Verify(ctx context.Context, transactionID string) (bool, error)
}

// Registry maps method names to adapters
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds a, replacing any adapter for the same method
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Method()] = a
}

func (r *Registry) Get(method string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[method]
	return a, ok
}

// Methods returns the registered method names in sorted order
func (r *Registry) Methods() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	methods := make([]string, 0, len(r.adapters))
	for m := range r.adapters {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// MissingFields returns the required keys of a that are absent or empty in data
func MissingFields(a Adapter, data map[string]string) []string {
	var missing []string
	for _, f := range a.RequiredFields() {
		if data[f] == "" {
			missing = append(missing, f)
		}
	}
	return missing
}
