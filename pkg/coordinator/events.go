package coordinator

import (
	"github.com/sigweihq/walletpay/pkg/types"
)

func (c *Coordinator) loop() {
	defer c.wg.Done()
	for {
		select {
		case ev := <-c.events:
			c.handleSessionEvent(ev)
		case err, ok := <-c.sub.Err():
			if ok && err != nil {
				c.logger.Warn("Session subscription failed", "error", err)
			}
			return
		}
	}
}

// handleSessionEvent applies a wallet notification to the payment:
//   - disconnect returns to Idle
//   - a chain change discards all payment progress
//   - an account change discards progress only once a transaction was submitted
//     (or is being submitted) from the previous account
func (c *Coordinator) handleSessionEvent(ev types.SessionEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	state := c.payment.State

	switch ev.Kind {
	case types.SessionDisconnected:
		if state == types.StateIdle {
			c.payment.Session = ev.Session
			return
		}
		c.reset(types.StateIdle, ev.Session, "wallet disconnected")

	case types.SessionChainChanged:
		if state == types.StateIdle {
			c.payment.Session = ev.Session
			return
		}
		c.reset(restartState(ev.Session), ev.Session, "chain changed")

	case types.SessionAccountsChanged:
		switch {
		case state == types.StateSubmitted, state == types.StateConfirmed, c.running == "submit":
			c.reset(restartState(ev.Session), ev.Session, "account changed")
		default:
			c.payment.Session = ev.Session
			c.logger.Info("Wallet account changed", "flow_id", c.payment.FlowID, "account", ev.Session.Account.Hex())
		}
	}
}

func restartState(session types.WalletSession) types.PaymentState {
	if session.Connected {
		return types.StateConnected
	}
	return types.StateIdle
}
