package backend

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sigweihq/walletpay/pkg/payerr"
	"github.com/sigweihq/walletpay/pkg/types"
)

// VerificationClient reports confirmed transactions to the backend.
// It only verifies (intent, hash) pairs previously marked confirmed, and each intent once.
type VerificationClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	confirmed map[string]common.Hash
	inFlight  map[string]bool
	verified  map[string]bool
}

func newVerificationClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *VerificationClient {
	return &VerificationClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
		confirmed:  make(map[string]common.Hash),
		inFlight:   make(map[string]bool),
		verified:   make(map[string]bool),
	}
}

// MarkConfirmed records that hash was observed confirmed on-chain for intentID
func (c *VerificationClient) MarkConfirmed(intentID string, hash common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed[intentID] = hash
}

// IsVerified reports whether intentID has been verified
func (c *VerificationClient) IsVerified(intentID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.verified[intentID]
}

// Verify asks the backend to verify hash as the payment for intentID.
// POST /verify_payment
func (c *VerificationClient) Verify(ctx context.Context, intentID string, hash common.Hash) (types.VerificationResult, error) {
	c.mu.Lock()
	switch {
	case c.verified[intentID]:
		c.mu.Unlock()
		return types.VerificationResult{}, payerr.New(payerr.KindInvalidState, "intent %s is already verified", intentID)
	case c.inFlight[intentID]:
		c.mu.Unlock()
		return types.VerificationResult{}, payerr.New(payerr.KindInvalidState, "intent %s is being verified", intentID)
	}
	if confirmed, ok := c.confirmed[intentID]; !ok || confirmed != hash {
		c.mu.Unlock()
		return types.VerificationResult{}, payerr.New(payerr.KindInvalidState, "transaction %s is not confirmed for intent %s", hash.Hex(), intentID)
	}
	c.inFlight[intentID] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inFlight, intentID)
		c.mu.Unlock()
	}()

	reqBody := types.VerifyPaymentRequest{
		PaymentID: intentID,
		TxHash:    hash.Hex(),
	}

	var resp types.VerifyPaymentResponse
	if err := httpRequest(ctx, c.httpClient, http.MethodPost, fmt.Sprintf("%s/verify_payment", c.baseURL), reqBody, &resp); err != nil {
		return types.VerificationResult{}, err
	}

	if !resp.Success {
		reason := resp.Error
		if reason == "" {
			reason = "backend rejected the transaction"
		}
		c.logger.Warn("Payment verification rejected", "intent_id", intentID, "tx_hash", hash.Hex(), "reason", reason)
		return types.VerificationResult{Verified: false, Message: reason}, payerr.New(payerr.KindVerificationMismatch, "%s", reason)
	}

	c.mu.Lock()
	c.verified[intentID] = true
	c.mu.Unlock()

	c.logger.Info("Payment verified", "intent_id", intentID, "tx_hash", hash.Hex())
	return types.VerificationResult{Verified: true, Message: resp.Message}, nil
}
