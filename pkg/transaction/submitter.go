// Package transaction turns payment intents into wallet transactions.
package transaction

import (
	"context"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sigweihq/walletpay/pkg/constants"
	"github.com/sigweihq/walletpay/pkg/payerr"
	"github.com/sigweihq/walletpay/pkg/types"
	"github.com/sigweihq/walletpay/pkg/utils"
	"github.com/sigweihq/walletpay/pkg/wallet"
)

// Sender signs and broadcasts a transaction request
type Sender interface {
	SendTransaction(ctx context.Context, req wallet.TransactionRequest) (common.Hash, error)
}

// Submitter submits each intent at most once
type Submitter struct {
	sender Sender
	logger *slog.Logger
	now    func() time.Time

	mu sync.Mutex
	// attempted holds every intent id a send was issued for, successful or not
	attempted map[string]struct{}
	handles   map[string]types.TransactionHandle
}

// NewSubmitter creates a submitter sending through sender
func NewSubmitter(sender Sender, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{
		sender:    sender,
		logger:    logger,
		now:       time.Now,
		attempted: make(map[string]struct{}),
		handles:   make(map[string]types.TransactionHandle),
	}
}

// BuildRequest converts an intent into the provider's transfer request
func BuildRequest(intent types.PaymentIntent, session types.WalletSession) (wallet.TransactionRequest, error) {
	if intent.AmountBaseUnits == nil || intent.AmountBaseUnits.Sign() <= 0 {
		return wallet.TransactionRequest{}, payerr.New(payerr.KindValidation, "intent %s has no positive amount", intent.ID)
	}
	if intent.ReceiverAddress == (common.Address{}) {
		return wallet.TransactionRequest{}, payerr.New(payerr.KindValidation, "intent %s has no receiver address", intent.ID)
	}

	req := wallet.TransactionRequest{
		From:  session.Account,
		To:    intent.ReceiverAddress,
		Value: (*hexutil.Big)(new(big.Int).Set(intent.AmountBaseUnits)),
	}
	if session.ChainID > 0 {
		req.ChainID = (*hexutil.Big)(big.NewInt(session.ChainID))
	}
	return req, nil
}

// Submit asks the wallet to sign and broadcast the transfer for intent.
// An intent is consumed by the first attempt: a rejected or failed send cannot be retried.
func (s *Submitter) Submit(ctx context.Context, intent types.PaymentIntent, session types.WalletSession) (types.TransactionHandle, error) {
	if !session.Connected {
		return types.TransactionHandle{}, payerr.New(payerr.KindInvalidState, "wallet is not connected")
	}
	if intent.ID == "" {
		return types.TransactionHandle{}, payerr.New(payerr.KindInvalidState, "no payment intent")
	}

	req, err := BuildRequest(intent, session)
	if err != nil {
		return types.TransactionHandle{}, err
	}

	s.mu.Lock()
	if _, ok := s.attempted[intent.ID]; ok {
		s.mu.Unlock()
		return types.TransactionHandle{}, payerr.New(payerr.KindInvalidState, "intent %s was already submitted", intent.ID)
	}
	s.attempted[intent.ID] = struct{}{}
	s.mu.Unlock()

	s.logger.Info("Submitting transaction",
		"intent_id", intent.ID,
		"from", req.From.Hex(),
		"to", req.To.Hex(),
		"value", utils.EncodeQuantity(intent.AmountBaseUnits),
		"amount_eth", utils.FormatBaseUnits(intent.AmountBaseUnits, constants.EtherDecimals),
		"chain_id", session.ChainID)

	hash, err := s.sender.SendTransaction(ctx, req)
	if err != nil {
		s.logger.Warn("Transaction not submitted", "intent_id", intent.ID, "error", err)
		return types.TransactionHandle{}, payerr.Ensure(payerr.KindNetwork, err, "failed to broadcast transaction")
	}

	handle := types.TransactionHandle{
		Hash:        hash,
		IntentID:    intent.ID,
		From:        session.Account,
		SubmittedAt: s.now(),
	}

	s.mu.Lock()
	s.handles[intent.ID] = handle
	s.mu.Unlock()

	s.logger.Info("Transaction submitted", "intent_id", intent.ID, "tx_hash", hash.Hex())
	return handle, nil
}

// Handle returns the handle recorded for intentID
func (s *Submitter) Handle(intentID string) (types.TransactionHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handles[intentID]
	return h, ok
}
