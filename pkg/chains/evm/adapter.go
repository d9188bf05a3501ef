package evm

import (
	"slices"

	"github.com/sigweihq/walletpay/pkg/chains"
	"github.com/sigweihq/walletpay/pkg/constants"
)

// Adapter provides EVM receipt access for one chain
type Adapter struct {
	network string
	chainID int64
	rpc     *RPCClient
}

// Network implements chains.ChainAdapter
func (a *Adapter) Network() string {
	return a.network
}

// ChainID implements chains.ChainAdapter
func (a *Adapter) ChainID() int64 {
	return a.chainID
}

// ReceiptSource implements chains.ChainAdapter
func (a *Adapter) ReceiptSource() chains.ReceiptSource {
	return a.rpc
}

// RPC returns the underlying RPC client
func (a *Adapter) RPC() *RPCClient {
	return a.rpc
}

// NewAdapter creates an EVM chain adapter for a chain registered in constants.NetworkToChainID
func NewAdapter(chainID int64, endpoints []string) (*Adapter, error) {
	network, ok := constants.NetworkForChainID(chainID)
	if !ok {
		return nil, &UnsupportedChainError{ChainID: chainID}
	}
	return &Adapter{
		network: network,
		chainID: chainID,
		rpc:     NewRPCClient(network, chainID, endpoints),
	}, nil
}

// RegisterEndpoints registers an adapter per chain. Chains without a known network or
// without endpoints are returned as errors and skipped.
func RegisterEndpoints(registry *chains.Registry, endpoints map[int64][]string) []error {
	var errs []error
	for chainID, urls := range endpoints {
		if len(urls) == 0 {
			continue
		}
		adapter, err := NewAdapter(chainID, urls)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := registry.Register(adapter); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

// MergeOfficialEndpoints returns configured extended with the built-in public endpoints
// of every known network. Configured endpoints keep precedence.
func MergeOfficialEndpoints(configured map[int64][]string) map[int64][]string {
	merged := make(map[int64][]string, len(configured)+len(constants.OfficialRPCEndpoints))
	for chainID, endpoints := range configured {
		merged[chainID] = append([]string(nil), endpoints...)
	}
	for network, endpoints := range constants.OfficialRPCEndpoints {
		chainID := constants.NetworkToChainID[network]
		for _, endpoint := range endpoints {
			if !slices.Contains(merged[chainID], endpoint) {
				merged[chainID] = append(merged[chainID], endpoint)
			}
		}
	}
	return merged
}
