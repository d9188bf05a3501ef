package chains

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Router sends receipt queries to the adapter registered for the wallet's current chain,
// falling back to a default source (usually the wallet provider itself).
type Router struct {
	registry *Registry
	chainID  func() int64
	fallback ReceiptSource
}

var _ ReceiptSource = (*Router)(nil)

func NewRouter(registry *Registry, chainID func() int64, fallback ReceiptSource) *Router {
	return &Router{
		registry: registry,
		chainID:  chainID,
		fallback: fallback,
	}
}

// Source returns the receipt source for the current chain
func (r *Router) Source() (ReceiptSource, error) {
	if r.registry != nil && r.chainID != nil {
		if adapter, err := r.registry.Get(r.chainID()); err == nil {
			return adapter.ReceiptSource(), nil
		}
	}
	if r.fallback == nil {
		return nil, fmt.Errorf("no receipt source for chain %d", r.currentChain())
	}
	return r.fallback, nil
}

func (r *Router) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (TransactionReceipt, error) {
	source, err := r.Source()
	if err != nil {
		return nil, err
	}
	return source.GetTransactionReceipt(ctx, txHash)
}

func (r *Router) currentChain() int64 {
	if r.chainID == nil {
		return 0
	}
	return r.chainID()
}
