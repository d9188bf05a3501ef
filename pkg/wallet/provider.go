// Package wallet connects to a user's wallet provider and tracks the active session.
package wallet

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
	"github.com/sigweihq/walletpay/pkg/chains"
)

// Provider is the wallet surface consumed by the payment flow (EIP-1193 methods).
// Implementations return *payerr.Error values for provider-level failures.
type Provider interface {
	// RequestAccounts asks the user for account access (eth_requestAccounts)
	RequestAccounts(ctx context.Context) ([]common.Address, error)

	// Accounts returns already-authorized accounts without prompting (eth_accounts)
	Accounts(ctx context.Context) ([]common.Address, error)

	// ChainID returns the provider's current chain (eth_chainId)
	ChainID(ctx context.Context) (*big.Int, error)

	// SendTransaction asks the provider to sign and broadcast a transaction (eth_sendTransaction)
	SendTransaction(ctx context.Context, req TransactionRequest) (common.Hash, error)

	// TransactionReceipt returns the receipt for hash, or nil if it is not mined yet
	TransactionReceipt(ctx context.Context, hash common.Hash) (chains.TransactionReceipt, error)

	// Subscribe delivers accountsChanged and chainChanged notifications to sink
	Subscribe(sink chan<- ProviderEvent) event.Subscription
}

// TransactionRequest is the eth_sendTransaction parameter object
type TransactionRequest struct {
	From    common.Address `json:"from"`
	To      common.Address `json:"to"`
	Value   *hexutil.Big   `json:"value"`
	ChainID *hexutil.Big   `json:"chainId,omitempty"`
}

// ProviderEventKind identifies a provider notification
type ProviderEventKind int

const (
	AccountsChanged ProviderEventKind = iota
	ChainChanged
)

func (k ProviderEventKind) String() string {
	switch k {
	case AccountsChanged:
		return "accountsChanged"
	case ChainChanged:
		return "chainChanged"
	default:
		return "unknown"
	}
}

// ProviderEvent is a change notification emitted by a provider
type ProviderEvent struct {
	Kind     ProviderEventKind
	Accounts []common.Address
	ChainID  *big.Int
}

// receiptSource adapts a Provider's receipt query to chains.ReceiptSource
type receiptSource struct {
	provider Provider
}

// ReceiptSource exposes the provider's receipt query as a chains.ReceiptSource
func ReceiptSource(p Provider) chains.ReceiptSource {
	return &receiptSource{provider: p}
}

func (s *receiptSource) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (chains.TransactionReceipt, error) {
	return s.provider.TransactionReceipt(ctx, txHash)
}
