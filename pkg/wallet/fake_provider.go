package wallet

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/sigweihq/walletpay/pkg/chains"
	"github.com/sigweihq/walletpay/pkg/payerr"
)

// ReceiptFunc scripts the receipt returned for the n-th poll (1-based) of hash.
// Returning (nil, nil) means the transaction is not mined yet.
type ReceiptFunc func(hash common.Hash, poll int) (chains.TransactionReceipt, error)

// FakeProvider is an in-memory Provider for tests and local development
type FakeProvider struct {
	mu sync.Mutex

	accounts   []common.Address
	chainID    *big.Int
	authorized bool

	// RejectConnect makes RequestAccounts fail with a user rejection
	RejectConnect bool
	// RejectSend makes SendTransaction fail with a user rejection
	RejectSend bool
	// SendErr, when set, is returned from SendTransaction
	SendErr error
	// NextHash is returned by the next SendTransaction; a hash is derived otherwise
	NextHash common.Hash
	// Receipts scripts TransactionReceipt; nil means never mined
	Receipts ReceiptFunc
	// OnSend runs at the start of SendTransaction without holding the fake's lock; it may block
	OnSend func(ctx context.Context)

	sent     []TransactionRequest
	polls    map[common.Hash]int
	requests int

	feed event.Feed
}

var _ Provider = (*FakeProvider)(nil)

// NewFakeProvider creates a fake wallet holding accounts on chainID
func NewFakeProvider(chainID int64, accounts ...common.Address) *FakeProvider {
	return &FakeProvider{
		accounts: accounts,
		chainID:  big.NewInt(chainID),
		polls:    make(map[common.Hash]int),
	}
}

// Authorize marks the accounts as already shared with the application
func (f *FakeProvider) Authorize() *FakeProvider {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authorized = true
	return f
}

func (f *FakeProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	if f.RejectConnect {
		return nil, payerr.New(payerr.KindUserRejected, "eth_requestAccounts rejected by user")
	}
	f.authorized = true
	return append([]common.Address(nil), f.accounts...), nil
}

func (f *FakeProvider) Accounts(ctx context.Context) ([]common.Address, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.authorized {
		return nil, nil
	}
	return append([]common.Address(nil), f.accounts...), nil
}

func (f *FakeProvider) ChainID(ctx context.Context) (*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.chainID), nil
}

func (f *FakeProvider) SendTransaction(ctx context.Context, req TransactionRequest) (common.Hash, error) {
	f.mu.Lock()
	onSend := f.OnSend
	f.mu.Unlock()
	if onSend != nil {
		onSend(ctx)
	}
	if err := ctx.Err(); err != nil {
		return common.Hash{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	if f.RejectSend {
		return common.Hash{}, payerr.New(payerr.KindUserRejected, "eth_sendTransaction rejected by user")
	}
	if f.SendErr != nil {
		return common.Hash{}, f.SendErr
	}
	hash := f.NextHash
	if hash == (common.Hash{}) {
		hash = common.BigToHash(big.NewInt(int64(len(f.sent))))
	}
	f.NextHash = common.Hash{}
	return hash, nil
}

func (f *FakeProvider) TransactionReceipt(ctx context.Context, hash common.Hash) (chains.TransactionReceipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.polls[hash]++
	poll := f.polls[hash]
	script := f.Receipts
	f.mu.Unlock()

	if script == nil {
		return nil, nil
	}
	return script(hash, poll)
}

func (f *FakeProvider) Subscribe(sink chan<- ProviderEvent) event.Subscription {
	return f.feed.Subscribe(sink)
}

// EmitAccountsChanged switches the wallet's accounts and notifies subscribers
func (f *FakeProvider) EmitAccountsChanged(accounts ...common.Address) {
	f.mu.Lock()
	f.accounts = accounts
	f.mu.Unlock()
	f.feed.Send(ProviderEvent{Kind: AccountsChanged, Accounts: accounts})
}

// EmitChainChanged switches the wallet's network and notifies subscribers
func (f *FakeProvider) EmitChainChanged(chainID int64) {
	f.mu.Lock()
	f.chainID = big.NewInt(chainID)
	f.mu.Unlock()
	f.feed.Send(ProviderEvent{Kind: ChainChanged, ChainID: big.NewInt(chainID)})
}

// SetReceipts replaces the receipt script while waits may be running
func (f *FakeProvider) SetReceipts(fn ReceiptFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Receipts = fn
}

// SentTransactions returns every transaction request received so far
func (f *FakeProvider) SentTransactions() []TransactionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]TransactionRequest(nil), f.sent...)
}

// ReceiptPolls returns how many times the receipt for hash was queried
func (f *FakeProvider) ReceiptPolls(hash common.Hash) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls[hash]
}

// AccessRequests returns how many times account access was requested
func (f *FakeProvider) AccessRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}
