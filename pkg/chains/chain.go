package chains

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/walletpay/pkg/types"
)

// Design inspired by renproject/multichain
// https://github.com/renproject/multichain

// ChainAdapter provides chain-specific access to transaction outcomes
type ChainAdapter interface {
	// Network returns the network name (e.g., "ethereum", "base")
	Network() string

	// ChainID returns the numeric chain id
	ChainID() int64

	// ReceiptSource returns the receipt source for this chain
	ReceiptSource() ReceiptSource
}

// ReceiptSource looks up transaction receipts
type ReceiptSource interface {
	// GetTransactionReceipt returns the receipt for txHash.
	// A transaction that is not yet mined yields (nil, nil); errors are transport failures.
	GetTransactionReceipt(ctx context.Context, txHash common.Hash) (TransactionReceipt, error)
}

// TransactionReceipt is a chain-agnostic transaction receipt
type TransactionReceipt = types.Receipt
