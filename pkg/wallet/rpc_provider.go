package wallet

import (
	"context"
	"log/slog"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sigweihq/walletpay/pkg/chains"
	"github.com/sigweihq/walletpay/pkg/chains/evm"
	"github.com/sigweihq/walletpay/pkg/constants"
	"github.com/sigweihq/walletpay/pkg/payerr"
)

// RPCProvider is a Provider backed by a JSON-RPC endpoint (a node with unlocked accounts,
// a signer, or a wallet bridge). JSON-RPC has no push notifications for account or chain
// changes, so they are detected by polling eth_accounts and eth_chainId.
type RPCProvider struct {
	client       *rpc.Client
	logger       *slog.Logger
	pollInterval time.Duration

	feed      event.Feed
	startOnce sync.Once
	closeOnce sync.Once
	quit      chan struct{}
	wg        sync.WaitGroup
}

var _ Provider = (*RPCProvider)(nil)

// DialRPCProvider connects to a JSON-RPC wallet endpoint
func DialRPCProvider(ctx context.Context, url string, pollInterval time.Duration, logger *slog.Logger) (*RPCProvider, error) {
	if url == "" {
		return nil, payerr.New(payerr.KindProviderUnavailable, "no wallet provider configured")
	}
	client, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, payerr.Wrap(payerr.KindProviderUnavailable, err, "failed to dial wallet provider")
	}
	return NewRPCProvider(client, pollInterval, logger), nil
}

// NewRPCProvider wraps an existing RPC client
func NewRPCProvider(client *rpc.Client, pollInterval time.Duration, logger *slog.Logger) *RPCProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if pollInterval <= 0 {
		pollInterval = constants.DefaultAccountPollInterval
	}
	return &RPCProvider{
		client:       client,
		logger:       logger,
		pollInterval: pollInterval,
		quit:         make(chan struct{}),
	}
}

func (p *RPCProvider) RequestAccounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	err := p.client.CallContext(ctx, &accounts, "eth_requestAccounts")
	if isMethodNotFound(err) {
		// Plain nodes expose their unlocked accounts without a permission prompt
		return p.Accounts(ctx)
	}
	if err != nil {
		return nil, classifyError(err, "eth_requestAccounts")
	}
	return accounts, nil
}

func (p *RPCProvider) Accounts(ctx context.Context) ([]common.Address, error) {
	var accounts []common.Address
	if err := p.client.CallContext(ctx, &accounts, "eth_accounts"); err != nil {
		return nil, classifyError(err, "eth_accounts")
	}
	return accounts, nil
}

func (p *RPCProvider) ChainID(ctx context.Context) (*big.Int, error) {
	var id hexutil.Big
	if err := p.client.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return nil, classifyError(err, "eth_chainId")
	}
	return (*big.Int)(&id), nil
}

func (p *RPCProvider) SendTransaction(ctx context.Context, req TransactionRequest) (common.Hash, error) {
	var hash common.Hash
	if err := p.client.CallContext(ctx, &hash, "eth_sendTransaction", req); err != nil {
		return common.Hash{}, classifyError(err, "eth_sendTransaction")
	}
	return hash, nil
}

func (p *RPCProvider) TransactionReceipt(ctx context.Context, hash common.Hash) (chains.TransactionReceipt, error) {
	receipt, err := evm.FetchReceipt(ctx, p.client, hash)
	if err != nil {
		return nil, classifyError(err, "eth_getTransactionReceipt")
	}
	if receipt == nil {
		return nil, nil
	}
	return receipt, nil
}

// Subscribe starts change detection on first use and delivers notifications to sink
func (p *RPCProvider) Subscribe(sink chan<- ProviderEvent) event.Subscription {
	p.startOnce.Do(func() {
		p.wg.Add(1)
		go p.watch()
	})
	return p.feed.Subscribe(sink)
}

// Close stops change detection and closes the RPC client
func (p *RPCProvider) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)
		p.wg.Wait()
		p.client.Close()
	})
}

func (p *RPCProvider) watch() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-p.quit
		cancel()
	}()

	var (
		accounts      []common.Address
		accountsKnown bool
		chainID       *big.Int
	)
	for {
		if current, err := p.Accounts(ctx); err == nil {
			if accountsKnown && !slices.Equal(accounts, current) {
				p.logger.Debug("Wallet accounts changed", "accounts", len(current))
				p.feed.Send(ProviderEvent{Kind: AccountsChanged, Accounts: current})
			}
			accounts, accountsKnown = current, true
		} else if ctx.Err() == nil {
			p.logger.Debug("Account poll failed", "error", err)
		}

		if current, err := p.ChainID(ctx); err == nil {
			if chainID != nil && chainID.Cmp(current) != 0 {
				p.logger.Debug("Wallet chain changed", "from", chainID, "to", current)
				p.feed.Send(ProviderEvent{Kind: ChainChanged, ChainID: current})
			}
			chainID = current
		} else if ctx.Err() == nil {
			p.logger.Debug("Chain poll failed", "error", err)
		}

		select {
		case <-p.quit:
			return
		case <-ticker.C:
		}
	}
}
