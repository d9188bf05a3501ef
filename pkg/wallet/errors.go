package wallet

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sigweihq/walletpay/pkg/constants"
	"github.com/sigweihq/walletpay/pkg/payerr"
)

// classifyError maps JSON-RPC and EIP-1193 errors onto the payment error taxonomy
func classifyError(err error, method string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case constants.ProviderCodeUserRejected:
			return payerr.Wrap(payerr.KindUserRejected, err, "%s rejected by user", method)
		case constants.ProviderCodeUnauthorized:
			return payerr.Wrap(payerr.KindUserRejected, err, "%s not authorized", method)
		case constants.ProviderCodeUnsupported,
			constants.ProviderCodeDisconnected,
			constants.ProviderCodeChainDisconnected:
			return payerr.Wrap(payerr.KindProviderUnavailable, err, "%s unavailable", method)
		}
	}
	return payerr.Wrap(payerr.KindNetwork, err, "%s failed", method)
}

func isMethodNotFound(err error) bool {
	var rpcErr rpc.Error
	return errors.As(err, &rpcErr) && rpcErr.ErrorCode() == constants.RPCCodeMethodNotFound
}
