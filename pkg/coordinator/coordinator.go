// Package coordinator sequences wallet connection, intent creation, submission,
// confirmation and verification into a single payment record.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
	"github.com/google/uuid"
	"github.com/sigweihq/walletpay/pkg/constants"
	"github.com/sigweihq/walletpay/pkg/metrics"
	"github.com/sigweihq/walletpay/pkg/payerr"
	"github.com/sigweihq/walletpay/pkg/types"
	"github.com/sigweihq/walletpay/pkg/utils"
)

// Connector establishes and tracks the wallet session
type Connector interface {
	Connect(ctx context.Context) (types.WalletSession, error)
	ProbeExistingSession(ctx context.Context) (types.WalletSession, bool)
	Session() types.WalletSession
	SubscribeSession(sink chan<- types.SessionEvent) event.Subscription
}

// IntentCreator mints payment intents
type IntentCreator interface {
	Create(ctx context.Context, amountDisplay, description string) (types.PaymentIntent, error)
}

// Submitter broadcasts the transaction for an intent
type Submitter interface {
	Submit(ctx context.Context, intent types.PaymentIntent, session types.WalletSession) (types.TransactionHandle, error)
}

// Watcher waits for a transaction to resolve on-chain
type Watcher interface {
	Wait(ctx context.Context, handle types.TransactionHandle, interval, timeout time.Duration) (types.ConfirmationResult, error)
}

// Verifier asks the backend to verify confirmed transactions
type Verifier interface {
	MarkConfirmed(intentID string, hash common.Hash)
	Verify(ctx context.Context, intentID string, hash common.Hash) (types.VerificationResult, error)
}

type Config struct {
	Connector Connector
	Intents   IntentCreator
	Submitter Submitter
	Watcher   Watcher
	Verifier  Verifier

	Logger  *slog.Logger
	Metrics metrics.Recorder

	PollInterval        time.Duration
	ConfirmationTimeout time.Duration
}

// Coordinator is the only writer of payment state. Operations are accepted one at a
// time and only from the state that precedes them; anything else is rejected with an
// InvalidStateTransition error and has no side effect.
type Coordinator struct {
	connector Connector
	intents   IntentCreator
	submitter Submitter
	watcher   Watcher
	verifier  Verifier
	logger    *slog.Logger
	metrics   metrics.Recorder

	pollInterval        time.Duration
	confirmationTimeout time.Duration

	mu      sync.Mutex
	payment types.Payment
	closed  bool

	// busy is set while an operation runs; generation changes on every reset so
	// an operation that outlives a reset discards its result.
	busy       bool
	running    string
	generation uint64
	cancelOp   context.CancelFunc

	sub       event.Subscription
	events    chan types.SessionEvent
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a coordinator in the Idle state and subscribes it to session events
func New(cfg Config) (*Coordinator, error) {
	var errs []error
	if cfg.Connector == nil {
		errs = append(errs, errors.New("connector is required"))
	}
	if cfg.Intents == nil {
		errs = append(errs, errors.New("intent client is required"))
	}
	if cfg.Submitter == nil {
		errs = append(errs, errors.New("submitter is required"))
	}
	if cfg.Watcher == nil {
		errs = append(errs, errors.New("watcher is required"))
	}
	if cfg.Verifier == nil {
		errs = append(errs, errors.New("verifier is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, payerr.Wrap(payerr.KindValidation, err, "invalid coordinator config")
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NoopRecorder{}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = constants.DefaultPollInterval
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = constants.DefaultConfirmationTimeout
	}

	c := &Coordinator{
		connector:           cfg.Connector,
		intents:             cfg.Intents,
		submitter:           cfg.Submitter,
		watcher:             cfg.Watcher,
		verifier:            cfg.Verifier,
		logger:              cfg.Logger,
		metrics:             cfg.Metrics,
		pollInterval:        cfg.PollInterval,
		confirmationTimeout: cfg.ConfirmationTimeout,
		payment:             types.Payment{FlowID: uuid.NewString(), State: types.StateIdle},
		events:              make(chan types.SessionEvent, constants.SessionEventBuffer),
	}

	c.sub = c.connector.SubscribeSession(c.events)
	c.wg.Add(1)
	go c.loop()

	return c, nil
}

// State returns the current payment state
func (c *Coordinator) State() types.PaymentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payment.State
}

// Snapshot returns a copy of the payment record
func (c *Coordinator) Snapshot() types.Payment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return clonePayment(c.payment)
}

// Connect connects the wallet. Allowed from Idle; a failure leaves the coordinator Idle.
func (c *Coordinator) Connect(ctx context.Context) (types.WalletSession, error) {
	op, err := c.begin(ctx, "connect", types.StateIdle)
	if err != nil {
		return types.WalletSession{}, err
	}

	session, err := c.connector.Connect(op.ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.release()
	c.observe(op)

	if err := c.stale(op); err != nil {
		return types.WalletSession{}, err
	}
	if err != nil {
		c.payment.LastError = err.Error()
		c.logger.Warn("Wallet connection failed", "flow_id", c.payment.FlowID, "error", err)
		return types.WalletSession{}, err
	}

	c.payment.Session = session
	c.payment.LastError = ""
	c.transition(types.StateConnected)
	return session, nil
}

// Restore silently re-establishes an already authorized wallet session at startup.
// It reports false, not an error, when there is nothing to restore.
func (c *Coordinator) Restore(ctx context.Context) (types.WalletSession, bool, error) {
	op, err := c.begin(ctx, "restore", types.StateIdle)
	if err != nil {
		return types.WalletSession{}, false, err
	}

	session, ok := c.connector.ProbeExistingSession(op.ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.release()

	if err := c.stale(op); err != nil {
		return types.WalletSession{}, false, err
	}
	if !ok {
		return types.WalletSession{}, false, nil
	}

	c.payment.Session = session
	c.transition(types.StateConnected)
	return session, true, nil
}

// CreateIntent starts a new payment for amountDisplay ether, discarding any previous
// intent. Allowed from Connected, IntentCreated, Verified and Failed.
func (c *Coordinator) CreateIntent(ctx context.Context, amountDisplay, description string) (types.PaymentIntent, error) {
	op, err := c.begin(ctx, "create_intent",
		types.StateConnected, types.StateIntentCreated, types.StateVerified, types.StateFailed)
	if err != nil {
		return types.PaymentIntent{}, err
	}

	c.mu.Lock()
	if err := c.stale(op); err != nil {
		c.release()
		c.mu.Unlock()
		return types.PaymentIntent{}, err
	}
	// Invalid input is rejected before anything is discarded
	if _, err := utils.ParseAmountToWei(amountDisplay); err != nil {
		c.release()
		c.mu.Unlock()
		return types.PaymentIntent{}, err
	}
	c.payment = types.Payment{
		FlowID:  uuid.NewString(),
		State:   c.payment.State,
		Session: c.payment.Session,
	}
	c.transition(types.StateConnected)
	c.mu.Unlock()

	intent, err := c.intents.Create(op.ctx, amountDisplay, description)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.release()
	c.observe(op)

	if err := c.stale(op); err != nil {
		return types.PaymentIntent{}, err
	}
	if err != nil {
		c.payment.LastError = err.Error()
		c.logger.Warn("Payment intent not created", "flow_id", c.payment.FlowID, "error", err)
		return types.PaymentIntent{}, err
	}

	c.payment.Intent = &intent
	c.transition(types.StateIntentCreated)
	return intent, nil
}

// Submit broadcasts the transaction for the current intent. Allowed from IntentCreated.
// Any failure is final for the intent: the coordinator moves to Failed.
func (c *Coordinator) Submit(ctx context.Context) (types.TransactionHandle, error) {
	op, err := c.begin(ctx, "submit", types.StateIntentCreated)
	if err != nil {
		return types.TransactionHandle{}, err
	}

	handle, err := c.submitter.Submit(op.ctx, *op.payment.Intent, op.payment.Session)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.release()
	c.observe(op)

	if err := c.stale(op); err != nil {
		return types.TransactionHandle{}, err
	}
	if err != nil {
		c.fail(err)
		return types.TransactionHandle{}, err
	}

	c.payment.Handle = &handle
	c.transition(types.StateSubmitted)
	return handle, nil
}

// AwaitConfirmation waits for the submitted transaction to resolve. Allowed from Submitted.
// Cancellation and query errors leave the coordinator in Submitted so the wait can be
// issued again; an on-chain failure or timeout moves it to Failed.
func (c *Coordinator) AwaitConfirmation(ctx context.Context) (types.ConfirmationResult, error) {
	op, err := c.begin(ctx, "confirmation", types.StateSubmitted)
	if err != nil {
		return types.ConfirmationResult{}, err
	}

	handle := *op.payment.Handle
	result, err := c.watcher.Wait(op.ctx, handle, c.pollInterval, c.confirmationTimeout)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.release()
	c.observe(op)

	if err := c.stale(op); err != nil {
		return result, err
	}
	if err != nil {
		c.payment.LastError = err.Error()
		c.logger.Warn("Confirmation wait interrupted", "flow_id", c.payment.FlowID, "tx_hash", handle.Hash.Hex(), "error", err)
		return result, err
	}

	c.payment.Confirmation = &result
	switch result.Status {
	case types.ConfirmationConfirmed:
		c.verifier.MarkConfirmed(handle.IntentID, handle.Hash)
		c.transition(types.StateConfirmed)
		return result, nil
	case types.ConfirmationFailed:
		err = payerr.New(payerr.KindTransactionFailed, "transaction %s reverted", handle.Hash.Hex())
	case types.ConfirmationTimedOut:
		err = payerr.New(payerr.KindConfirmationTimeout, "transaction %s not confirmed within %s", handle.Hash.Hex(), c.confirmationTimeout)
	default:
		c.payment.Confirmation = nil
		return result, payerr.New(payerr.KindNetwork, "confirmation wait ended without a result")
	}
	c.fail(err)
	return result, err
}

// Verify asks the backend to verify the confirmed transaction. Allowed from Confirmed.
// A network failure leaves the coordinator in Confirmed so verification can be retried.
func (c *Coordinator) Verify(ctx context.Context) (types.VerificationResult, error) {
	op, err := c.begin(ctx, "verify", types.StateConfirmed)
	if err != nil {
		return types.VerificationResult{}, err
	}

	handle := *op.payment.Handle
	result, err := c.verifier.Verify(op.ctx, handle.IntentID, handle.Hash)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.release()
	c.observe(op)

	if err := c.stale(op); err != nil {
		return types.VerificationResult{}, err
	}
	if err != nil {
		if isTransient(err) {
			c.payment.LastError = err.Error()
			return types.VerificationResult{}, err
		}
		c.payment.Verification = &result
		c.fail(err)
		return result, err
	}

	c.payment.Verification = &result
	c.transition(types.StateVerified)
	return result, nil
}

// Pay runs a whole payment from the current state: intent, submission, confirmation and verification
func (c *Coordinator) Pay(ctx context.Context, amountDisplay, description string) (types.Payment, error) {
	if _, err := c.CreateIntent(ctx, amountDisplay, description); err != nil {
		return c.Snapshot(), err
	}
	if _, err := c.Submit(ctx); err != nil {
		return c.Snapshot(), err
	}
	if _, err := c.AwaitConfirmation(ctx); err != nil {
		return c.Snapshot(), err
	}
	if _, err := c.Verify(ctx); err != nil {
		return c.Snapshot(), err
	}
	return c.Snapshot(), nil
}

// Close stops listening to session events, cancels any running operation and returns to Idle
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		c.sub.Unsubscribe()
		c.wg.Wait()

		c.mu.Lock()
		defer c.mu.Unlock()
		c.reset(types.StateIdle, types.WalletSession{}, "closed")
		c.closed = true
	})
}

type operation struct {
	name    string
	ctx     context.Context
	gen     uint64
	payment types.Payment
	started time.Time
}

// begin admits an operation when nothing else is running and the state is one of allowed
func (c *Coordinator) begin(ctx context.Context, name string, allowed ...types.PaymentState) (*operation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, c.reject(name, "coordinator is closed")
	}
	if c.busy {
		return nil, c.reject(name, "operation "+c.running+" in progress")
	}
	if !slices.Contains(allowed, c.payment.State) {
		return nil, c.reject(name, "not allowed in state "+string(c.payment.State))
	}

	opCtx, cancel := context.WithCancel(ctx)
	c.busy = true
	c.running = name
	c.cancelOp = cancel

	return &operation{
		name:    name,
		ctx:     opCtx,
		gen:     c.generation,
		payment: clonePayment(c.payment),
		started: time.Now(),
	}, nil
}

// release ends the running operation. Callers hold mu.
func (c *Coordinator) release() {
	if c.cancelOp != nil {
		c.cancelOp()
		c.cancelOp = nil
	}
	c.busy = false
	c.running = ""
}

// stale reports an error if the payment was reset while op was running. Callers hold mu.
func (c *Coordinator) stale(op *operation) error {
	if op.gen == c.generation {
		return nil
	}
	return payerr.New(payerr.KindInvalidStateTransition, "%s abandoned: payment was reset", op.name)
}

func (c *Coordinator) reject(name, reason string) error {
	c.metrics.IncCounter("rejected", c.labels())
	return payerr.New(payerr.KindInvalidStateTransition, "%s rejected: %s", name, reason)
}

// transition moves to state. Callers hold mu.
func (c *Coordinator) transition(state types.PaymentState) {
	from := c.payment.State
	c.payment.State = state
	if state != types.StateFailed {
		c.payment.LastError = ""
	}
	if from == state {
		return
	}
	c.logger.Info("Payment state changed", "flow_id", c.payment.FlowID, "from", string(from), "to", string(state))
	c.metrics.IncCounter(string(state), c.labels())
}

// fail records err and moves to Failed. Callers hold mu.
func (c *Coordinator) fail(err error) {
	c.transition(types.StateFailed)
	c.payment.LastError = err.Error()
	c.logger.Warn("Payment failed", "flow_id", c.payment.FlowID, "kind", string(payerr.KindOf(err)), "error", err)
}

// reset discards payment progress and cancels any running operation. Callers hold mu.
func (c *Coordinator) reset(state types.PaymentState, session types.WalletSession, reason string) {
	c.generation++
	if c.cancelOp != nil {
		c.cancelOp()
	}

	from := c.payment.State
	c.payment = types.Payment{
		FlowID:  uuid.NewString(),
		State:   state,
		Session: session,
	}
	c.logger.Info("Payment reset", "reason", reason, "from", string(from), "to", string(state), "flow_id", c.payment.FlowID)
	c.metrics.IncCounter("reset", c.labels())
}

func (c *Coordinator) observe(op *operation) {
	c.metrics.ObserveLatency(op.name, time.Since(op.started), c.labels())
}

func (c *Coordinator) labels() map[string]string {
	return map[string]string{"chain": chainLabel(c.payment.Session.ChainID)}
}

func chainLabel(chainID int64) string {
	if chainID == 0 {
		return "none"
	}
	if network, ok := constants.NetworkForChainID(chainID); ok {
		return network
	}
	return strconv.FormatInt(chainID, 10)
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return payerr.KindOf(err) == payerr.KindNetwork
}

func clonePayment(p types.Payment) types.Payment {
	out := p
	if p.Intent != nil {
		intent := *p.Intent
		if intent.AmountBaseUnits != nil {
			intent.AmountBaseUnits = new(big.Int).Set(intent.AmountBaseUnits)
		}
		out.Intent = &intent
	}
	if p.Handle != nil {
		handle := *p.Handle
		out.Handle = &handle
	}
	if p.Confirmation != nil {
		confirmation := *p.Confirmation
		out.Confirmation = &confirmation
	}
	if p.Verification != nil {
		verification := *p.Verification
		out.Verification = &verification
	}
	return out
}
