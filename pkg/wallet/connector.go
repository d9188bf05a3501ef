package wallet

import (
	"context"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/event"
	"github.com/sigweihq/walletpay/pkg/constants"
	"github.com/sigweihq/walletpay/pkg/payerr"
	"github.com/sigweihq/walletpay/pkg/types"
)

// Connector establishes a WalletSession against a Provider and keeps it current
// by translating provider notifications into session events.
type Connector struct {
	provider Provider
	logger   *slog.Logger

	// connectMu serializes Connect and ProbeExistingSession so the user is prompted at most once
	connectMu sync.Mutex

	mu      sync.RWMutex
	session types.WalletSession
	sub     event.Subscription
	wg      sync.WaitGroup

	feed event.Feed
}

// NewConnector creates a connector for provider. A nil provider is allowed and
// makes Connect fail with ProviderUnavailable.
func NewConnector(provider Provider, logger *slog.Logger) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connector{
		provider: provider,
		logger:   logger,
	}
}

// Connect requests account access and returns the resulting session.
// If a session is already established it is returned without prompting again.
func (c *Connector) Connect(ctx context.Context) (types.WalletSession, error) {
	if c.provider == nil {
		return types.WalletSession{}, payerr.New(payerr.KindProviderUnavailable, "no wallet provider available")
	}

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if session := c.Session(); session.Connected {
		return session, nil
	}

	accounts, err := c.provider.RequestAccounts(ctx)
	if err != nil {
		return types.WalletSession{}, payerr.Ensure(payerr.KindProviderUnavailable, err, "failed to request accounts")
	}
	if len(accounts) == 0 {
		return types.WalletSession{}, payerr.New(payerr.KindUserRejected, "wallet returned no accounts")
	}

	chainID, err := c.chainID(ctx)
	if err != nil {
		return types.WalletSession{}, err
	}

	session := types.WalletSession{Account: accounts[0], ChainID: chainID, Connected: true}
	c.establish(session)
	c.logger.Info("Wallet connected", "account", session.Account.Hex(), "chain_id", session.ChainID)
	return session, nil
}

// ProbeExistingSession silently restores a session when the provider already has
// authorized accounts. Any failure is reported as "no session".
func (c *Connector) ProbeExistingSession(ctx context.Context) (types.WalletSession, bool) {
	if c.provider == nil {
		return types.WalletSession{}, false
	}

	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if session := c.Session(); session.Connected {
		return session, true
	}

	accounts, err := c.provider.Accounts(ctx)
	if err != nil {
		c.logger.Debug("Session probe failed", "error", err)
		return types.WalletSession{}, false
	}
	if len(accounts) == 0 {
		return types.WalletSession{}, false
	}

	chainID, err := c.chainID(ctx)
	if err != nil {
		c.logger.Debug("Session probe failed", "error", err)
		return types.WalletSession{}, false
	}

	session := types.WalletSession{Account: accounts[0], ChainID: chainID, Connected: true}
	c.establish(session)
	c.logger.Info("Wallet session restored", "account", session.Account.Hex(), "chain_id", session.ChainID)
	return session, true
}

// Session returns the current session
func (c *Connector) Session() types.WalletSession {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// SubscribeSession delivers session events to sink until the subscription is closed
func (c *Connector) SubscribeSession(sink chan<- types.SessionEvent) event.Subscription {
	return c.feed.Subscribe(sink)
}

// Disconnect drops the provider subscription and marks the session disconnected
func (c *Connector) Disconnect() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	wasConnected := c.session.Connected
	c.session.Connected = false
	session := c.session
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
		c.wg.Wait()
	}
	if wasConnected {
		c.logger.Info("Wallet disconnected", "account", session.Account.Hex())
		c.feed.Send(types.SessionEvent{Kind: types.SessionDisconnected, Session: session})
	}
}

func (c *Connector) chainID(ctx context.Context) (int64, error) {
	id, err := c.provider.ChainID(ctx)
	if err != nil {
		return 0, payerr.Ensure(payerr.KindProviderUnavailable, err, "failed to query chain id")
	}
	return toChainID(id)
}

// establish stores session and starts listening for provider notifications once
func (c *Connector) establish(session types.WalletSession) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.session = session
	if c.sub != nil {
		return
	}
	events := make(chan ProviderEvent, constants.SessionEventBuffer)
	c.sub = c.provider.Subscribe(events)
	c.wg.Add(1)
	go c.watch(c.sub, events)
}

func (c *Connector) watch(sub event.Subscription, events <-chan ProviderEvent) {
	defer c.wg.Done()
	for {
		select {
		case ev := <-events:
			c.handle(ev)
		case err := <-sub.Err():
			if err != nil {
				c.logger.Warn("Wallet provider subscription failed", "error", err)
			}
			return
		}
	}
}

func (c *Connector) handle(ev ProviderEvent) {
	c.mu.Lock()
	var out types.SessionEvent
	switch ev.Kind {
	case AccountsChanged:
		if len(ev.Accounts) == 0 {
			c.session = types.WalletSession{ChainID: c.session.ChainID}
			out = types.SessionEvent{Kind: types.SessionDisconnected, Session: c.session}
			break
		}
		c.session = types.WalletSession{Account: ev.Accounts[0], ChainID: c.session.ChainID, Connected: true}
		out = types.SessionEvent{Kind: types.SessionAccountsChanged, Session: c.session}
	case ChainChanged:
		chainID, err := toChainID(ev.ChainID)
		if err != nil {
			c.mu.Unlock()
			c.logger.Warn("Ignoring chain change", "error", err)
			return
		}
		c.session = types.WalletSession{Account: c.session.Account, ChainID: chainID, Connected: c.session.Connected}
		out = types.SessionEvent{Kind: types.SessionChainChanged, Session: c.session}
	default:
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.logger.Info("Wallet session changed", "event", string(out.Kind), "account", out.Session.Account.Hex(), "chain_id", out.Session.ChainID)
	c.feed.Send(out)
}

func toChainID(id *big.Int) (int64, error) {
	if id == nil || id.Sign() <= 0 || !id.IsInt64() {
		return 0, payerr.New(payerr.KindProviderUnavailable, "provider reported invalid chain id %v", id)
	}
	return id.Int64(), nil
}
