package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/walletpay/pkg/payerr"
	"github.com/sigweihq/walletpay/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToAddress("0x1111111111111111111111111111111111111111")
	bob   = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func nextSessionEvent(t *testing.T, ch <-chan types.SessionEvent) types.SessionEvent {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		require.FailNow(t, "timed out waiting for session event")
		return types.SessionEvent{}
	}
}

func TestConnect(t *testing.T) {
	provider := NewFakeProvider(1337, alice)
	c := NewConnector(provider, nil)
	t.Cleanup(c.Disconnect)

	session, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.WalletSession{Account: alice, ChainID: 1337, Connected: true}, session)
	assert.Equal(t, session, c.Session())

	// Idempotent: no second prompt
	again, err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, session, again)
	assert.Equal(t, 1, provider.AccessRequests())
}

func TestConnectFailures(t *testing.T) {
	t.Run("no provider", func(t *testing.T) {
		c := NewConnector(nil, nil)
		_, err := c.Connect(context.Background())
		assert.ErrorIs(t, err, payerr.ErrProviderUnavailable)
	})

	t.Run("user rejects", func(t *testing.T) {
		provider := NewFakeProvider(1, alice)
		provider.RejectConnect = true
		c := NewConnector(provider, nil)

		_, err := c.Connect(context.Background())
		assert.ErrorIs(t, err, payerr.ErrUserRejected)
		assert.False(t, c.Session().Connected)
	})

	t.Run("no accounts", func(t *testing.T) {
		c := NewConnector(NewFakeProvider(1), nil)
		_, err := c.Connect(context.Background())
		assert.ErrorIs(t, err, payerr.ErrUserRejected)
	})
}

func TestProbeExistingSession(t *testing.T) {
	t.Run("not authorized", func(t *testing.T) {
		provider := NewFakeProvider(1, alice)
		c := NewConnector(provider, nil)

		session, ok := c.ProbeExistingSession(context.Background())
		assert.False(t, ok)
		assert.False(t, session.Connected)
		assert.Zero(t, provider.AccessRequests())
	})

	t.Run("already authorized", func(t *testing.T) {
		provider := NewFakeProvider(11155111, alice).Authorize()
		c := NewConnector(provider, nil)
		t.Cleanup(c.Disconnect)

		session, ok := c.ProbeExistingSession(context.Background())
		require.True(t, ok)
		assert.Equal(t, alice, session.Account)
		assert.Equal(t, int64(11155111), session.ChainID)
		assert.Zero(t, provider.AccessRequests())
	})

	t.Run("provider failure is not an error", func(t *testing.T) {
		provider := NewFakeProvider(1, alice).Authorize()
		c := NewConnector(provider, nil)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, ok := c.ProbeExistingSession(ctx)
		assert.False(t, ok)
	})

	t.Run("no provider", func(t *testing.T) {
		_, ok := NewConnector(nil, nil).ProbeExistingSession(context.Background())
		assert.False(t, ok)
	})
}

func TestSessionEvents(t *testing.T) {
	provider := NewFakeProvider(1, alice)
	c := NewConnector(provider, nil)
	t.Cleanup(c.Disconnect)

	events := make(chan types.SessionEvent, 4)
	sub := c.SubscribeSession(events)
	defer sub.Unsubscribe()

	_, err := c.Connect(context.Background())
	require.NoError(t, err)

	provider.EmitAccountsChanged(bob)
	ev := nextSessionEvent(t, events)
	assert.Equal(t, types.SessionAccountsChanged, ev.Kind)
	assert.Equal(t, types.WalletSession{Account: bob, ChainID: 1, Connected: true}, ev.Session)

	provider.EmitChainChanged(8453)
	ev = nextSessionEvent(t, events)
	assert.Equal(t, types.SessionChainChanged, ev.Kind)
	assert.Equal(t, types.WalletSession{Account: bob, ChainID: 8453, Connected: true}, ev.Session)
	assert.Equal(t, ev.Session, c.Session())

	provider.EmitAccountsChanged()
	ev = nextSessionEvent(t, events)
	assert.Equal(t, types.SessionDisconnected, ev.Kind)
	assert.False(t, ev.Session.Connected)
	assert.False(t, c.Session().Connected)
}

func TestDisconnect(t *testing.T) {
	provider := NewFakeProvider(1, alice)
	c := NewConnector(provider, nil)

	events := make(chan types.SessionEvent, 4)
	sub := c.SubscribeSession(events)
	defer sub.Unsubscribe()

	_, err := c.Connect(context.Background())
	require.NoError(t, err)

	c.Disconnect()
	ev := nextSessionEvent(t, events)
	assert.Equal(t, types.SessionDisconnected, ev.Kind)
	assert.False(t, c.Session().Connected)

	// Provider notifications no longer reach the session
	provider.EmitChainChanged(5)
	assert.Equal(t, int64(1), c.Session().ChainID)

	// Reconnecting prompts again and resubscribes
	_, err = c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, provider.AccessRequests())
	c.Disconnect()
}
