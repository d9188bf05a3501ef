// Package confirmation polls the chain until a submitted transaction resolves.
package confirmation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/walletpay/pkg/chains"
	"github.com/sigweihq/walletpay/pkg/constants"
	"github.com/sigweihq/walletpay/pkg/payerr"
	"github.com/sigweihq/walletpay/pkg/types"
)

// Watcher waits for transaction receipts. A receipt resolves the wait on first
// sight (single-confirmation policy).
type Watcher struct {
	source chains.ReceiptSource
	logger *slog.Logger

	mu     sync.Mutex
	active map[common.Hash]struct{}
}

// NewWatcher creates a watcher that queries source for receipts
func NewWatcher(source chains.ReceiptSource, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		source: source,
		logger: logger,
		active: make(map[common.Hash]struct{}),
	}
}

// Wait polls for the receipt of handle every interval until it resolves or timeout elapses.
// Zero or negative durations select the defaults.
//
// The result is Confirmed or Failed once a receipt is seen and TimedOut once the deadline
// passes. The first query error ends the wait with a NetworkError. Cancelling ctx returns
// a Pending result with ctx's error; the wait can then be issued again for the same handle.
func (w *Watcher) Wait(ctx context.Context, handle types.TransactionHandle, interval, timeout time.Duration) (types.ConfirmationResult, error) {
	if interval <= 0 {
		interval = constants.DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = constants.DefaultConfirmationTimeout
	}

	result := types.ConfirmationResult{Status: types.ConfirmationPending}
	if handle.Hash == (common.Hash{}) {
		return result, payerr.New(payerr.KindInvalidState, "no transaction to watch")
	}
	if !w.acquire(handle.Hash) {
		return result, payerr.New(payerr.KindInvalidState, "transaction %s is already being watched", handle.Hash.Hex())
	}
	defer w.release(handle.Hash)

	deadline := time.Now().Add(timeout)
	pollCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := w.logger.With("tx_hash", handle.Hash.Hex(), "intent_id", handle.IntentID)
	logger.Debug("Waiting for confirmation", "interval", interval, "timeout", timeout)

	for {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-pollCtx.Done():
			if err := ctx.Err(); err != nil {
				return result, err
			}
			logger.Info("Confirmation timed out", "polls", result.Polls)
			result.Status = types.ConfirmationTimedOut
			return result, nil
		case <-ticker.C:
		}

		// Tick and deadline can be ready together
		if !time.Now().Before(deadline) {
			logger.Info("Confirmation timed out", "polls", result.Polls)
			result.Status = types.ConfirmationTimedOut
			return result, nil
		}

		result.Polls++
		receipt, err := w.source.GetTransactionReceipt(pollCtx, handle.Hash)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return result, ctxErr
			}
			if errors.Is(pollCtx.Err(), context.DeadlineExceeded) {
				logger.Info("Confirmation timed out", "polls", result.Polls)
				result.Status = types.ConfirmationTimedOut
				return result, nil
			}
			logger.Warn("Receipt query failed", "poll", result.Polls, "error", err)
			return result, payerr.Ensure(payerr.KindNetwork, err, "receipt query for %s failed", handle.Hash.Hex())
		}
		if receipt == nil {
			logger.Debug("Transaction not mined yet", "poll", result.Polls)
			continue
		}

		result.Receipt = receipt
		if receipt.IsSuccessful() {
			result.Status = types.ConfirmationConfirmed
		} else {
			result.Status = types.ConfirmationFailed
		}
		logger.Info("Transaction resolved", "status", string(result.Status), "block", receipt.BlockNumber(), "polls", result.Polls)
		return result, nil
	}
}

// Watching reports whether a wait for hash is in progress
func (w *Watcher) Watching(hash common.Hash) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.active[hash]
	return ok
}

func (w *Watcher) acquire(hash common.Hash) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.active[hash]; ok {
		return false
	}
	w.active[hash] = struct{}{}
	return true
}

func (w *Watcher) release(hash common.Hash) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.active, hash)
}
