package transaction

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/walletpay/pkg/payerr"
	"github.com/sigweihq/walletpay/pkg/types"
	"github.com/sigweihq/walletpay/pkg/wallet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	payer    = common.HexToAddress("0x1111111111111111111111111111111111111111")
	receiver = common.HexToAddress("0x9999999999999999999999999999999999999999")
	session  = types.WalletSession{Account: payer, ChainID: 1337, Connected: true}
)

func halfEther(id string) types.PaymentIntent {
	amount, _ := new(big.Int).SetString("500000000000000000", 10)
	return types.PaymentIntent{
		ID:              id,
		AmountDisplay:   "0.5",
		AmountBaseUnits: amount,
		Description:     "test",
		ReceiverAddress: receiver,
	}
}

func TestBuildRequest(t *testing.T) {
	req, err := BuildRequest(halfEther("pay_1"), session)
	require.NoError(t, err)

	assert.Equal(t, payer, req.From)
	assert.Equal(t, receiver, req.To)
	assert.Equal(t, "0x6f05b59d3b20000", req.Value.String())
	assert.Equal(t, "0x539", req.ChainID.String())
}

func TestBuildRequestRejectsBadIntent(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*types.PaymentIntent)
	}{
		{"nil amount", func(i *types.PaymentIntent) { i.AmountBaseUnits = nil }},
		{"zero amount", func(i *types.PaymentIntent) { i.AmountBaseUnits = big.NewInt(0) }},
		{"no receiver", func(i *types.PaymentIntent) { i.ReceiverAddress = common.Address{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intent := halfEther("pay_1")
			tt.mutate(&intent)
			_, err := BuildRequest(intent, session)
			assert.ErrorIs(t, err, payerr.ErrValidation)
		})
	}
}

func TestSubmit(t *testing.T) {
	provider := wallet.NewFakeProvider(1337, payer)
	provider.NextHash = common.HexToHash("0xfeed")
	s := NewSubmitter(provider, nil)

	handle, err := s.Submit(context.Background(), halfEther("pay_1"), session)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xfeed"), handle.Hash)
	assert.Equal(t, "pay_1", handle.IntentID)
	assert.Equal(t, payer, handle.From)
	assert.False(t, handle.SubmittedAt.IsZero())

	recorded, ok := s.Handle("pay_1")
	require.True(t, ok)
	assert.Equal(t, handle, recorded)

	sent := provider.SentTransactions()
	require.Len(t, sent, 1)
	assert.Equal(t, "0x6f05b59d3b20000", sent[0].Value.String())
}

func TestSubmitTwiceSendsOnce(t *testing.T) {
	provider := wallet.NewFakeProvider(1337, payer)
	s := NewSubmitter(provider, nil)

	_, err := s.Submit(context.Background(), halfEther("pay_1"), session)
	require.NoError(t, err)

	_, err = s.Submit(context.Background(), halfEther("pay_1"), session)
	assert.ErrorIs(t, err, payerr.ErrInvalidState)
	assert.Len(t, provider.SentTransactions(), 1)
}

func TestSubmitRequiresConnectedSession(t *testing.T) {
	provider := wallet.NewFakeProvider(1337, payer)
	s := NewSubmitter(provider, nil)

	_, err := s.Submit(context.Background(), halfEther("pay_1"), types.WalletSession{Account: payer})
	assert.ErrorIs(t, err, payerr.ErrInvalidState)
	assert.Empty(t, provider.SentTransactions())

	_, err = s.Submit(context.Background(), types.PaymentIntent{}, session)
	assert.ErrorIs(t, err, payerr.ErrInvalidState)
}

func TestSubmitFailures(t *testing.T) {
	t.Run("user rejects", func(t *testing.T) {
		provider := wallet.NewFakeProvider(1337, payer)
		provider.RejectSend = true
		s := NewSubmitter(provider, nil)

		_, err := s.Submit(context.Background(), halfEther("pay_1"), session)
		assert.ErrorIs(t, err, payerr.ErrUserRejected)

		_, ok := s.Handle("pay_1")
		assert.False(t, ok)

		// The intent is spent; retrying requires a new one
		provider.RejectSend = false
		_, err = s.Submit(context.Background(), halfEther("pay_1"), session)
		assert.ErrorIs(t, err, payerr.ErrInvalidState)
		assert.Len(t, provider.SentTransactions(), 1)
	})

	t.Run("broadcast failure", func(t *testing.T) {
		provider := wallet.NewFakeProvider(1337, payer)
		provider.SendErr = errors.New("nonce too low")
		s := NewSubmitter(provider, nil)

		_, err := s.Submit(context.Background(), halfEther("pay_2"), session)
		assert.ErrorIs(t, err, payerr.ErrNetwork)
	})
}
