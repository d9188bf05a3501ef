package types

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// WalletSession is the active wallet account and chain
type WalletSession struct {
	Account   common.Address `json:"account"`
	ChainID   int64          `json:"chainId"`
	Connected bool           `json:"connected"`
}

// PaymentIntent is a backend-issued record describing a requested payment.
// It is immutable once created; AmountBaseUnits is the value used for submission.
type PaymentIntent struct {
	ID              string         `json:"id"`
	AmountDisplay   string         `json:"amountDisplay"`
	AmountBaseUnits *big.Int       `json:"amountBaseUnits"`
	Description     string         `json:"description"`
	ReceiverAddress common.Address `json:"receiverAddress"`
}

// TransactionHandle references a broadcast transaction submitted for an intent
type TransactionHandle struct {
	Hash        common.Hash    `json:"hash"`
	IntentID    string         `json:"intentId"`
	From        common.Address `json:"from"`
	SubmittedAt time.Time      `json:"submittedAt"`
}

// ConfirmationStatus is the outcome of waiting for a receipt
type ConfirmationStatus string

const (
	ConfirmationPending   ConfirmationStatus = "pending"
	ConfirmationConfirmed ConfirmationStatus = "confirmed"
	ConfirmationFailed    ConfirmationStatus = "failed"
	ConfirmationTimedOut  ConfirmationStatus = "timed_out"
)

// ConfirmationResult is the tagged result of a confirmation wait.
// Receipt is set for Confirmed and Failed.
type ConfirmationResult struct {
	Status  ConfirmationStatus `json:"status"`
	Receipt Receipt            `json:"-"`
	Polls   int                `json:"polls"`
}

// Receipt is the chain-provided outcome of a transaction
type Receipt interface {
	IsSuccessful() bool
	TxHash() common.Hash
	BlockNumber() *big.Int
}

// VerificationResult is the backend's verdict on a confirmed transaction
type VerificationResult struct {
	Verified bool   `json:"verified"`
	Message  string `json:"message,omitempty"`
}

// PaymentState is a state of the payment lifecycle
type PaymentState string

const (
	StateIdle          PaymentState = "idle"
	StateConnected     PaymentState = "connected"
	StateIntentCreated PaymentState = "intent_created"
	StateSubmitted     PaymentState = "submitted"
	StateConfirmed     PaymentState = "confirmed"
	StateVerified      PaymentState = "verified"
	StateFailed        PaymentState = "failed"
)

// IsTerminal reports whether only a new intent can leave the state
func (s PaymentState) IsTerminal() bool {
	return s == StateVerified || s == StateFailed
}

// Payment is a point-in-time copy of the coordinator's payment record
type Payment struct {
	FlowID       string              `json:"flowId"`
	State        PaymentState        `json:"state"`
	Session      WalletSession       `json:"session"`
	Intent       *PaymentIntent      `json:"intent,omitempty"`
	Handle       *TransactionHandle  `json:"handle,omitempty"`
	Confirmation *ConfirmationResult `json:"confirmation,omitempty"`
	Verification *VerificationResult `json:"verification,omitempty"`
	LastError    string              `json:"lastError,omitempty"`
}

// SessionEventKind identifies a wallet session notification
type SessionEventKind string

const (
	SessionAccountsChanged SessionEventKind = "accountsChanged"
	SessionChainChanged    SessionEventKind = "chainChanged"
	SessionDisconnected    SessionEventKind = "disconnected"
)

// SessionEvent carries the replacement session after a provider notification
type SessionEvent struct {
	Kind    SessionEventKind
	Session WalletSession
}

// CreatePaymentRequest is the body of POST /create_payment
type CreatePaymentRequest struct {
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

// PaymentPayload is the payment record returned by the backend.
// Amounts are json.Number because amount_wei routinely exceeds 2^53.
type PaymentPayload struct {
	ID              string      `json:"id" validate:"required"`
	AmountEth       json.Number `json:"amount_eth" validate:"required"`
	AmountWei       json.Number `json:"amount_wei" validate:"required,numeric"`
	ReceiverAddress string      `json:"receiver_address" validate:"required,eth_addr"`
	Description     string      `json:"description,omitempty"`
	Status          string      `json:"status,omitempty"`
	CreatedAt       string      `json:"created_at,omitempty"`
	TxHash          string      `json:"tx_hash,omitempty"`
	CompletedAt     string      `json:"completed_at,omitempty"`
}

// CreatePaymentResponse is the response of POST /create_payment
type CreatePaymentResponse struct {
	Success bool            `json:"success"`
	Payment *PaymentPayload `json:"payment,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// VerifyPaymentRequest is the body of POST /verify_payment
type VerifyPaymentRequest struct {
	PaymentID string `json:"payment_id"`
	TxHash    string `json:"tx_hash"`
}

// VerifyPaymentResponse is the response of POST /verify_payment
type VerifyPaymentResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// PaymentStatusResponse is the response of GET /payment_status/<id>
type PaymentStatusResponse struct {
	Success bool            `json:"success"`
	Payment *PaymentPayload `json:"payment,omitempty"`
	Error   string          `json:"error,omitempty"`
}
