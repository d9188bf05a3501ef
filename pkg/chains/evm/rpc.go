package evm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sigweihq/walletpay/pkg/chains"
	"github.com/sigweihq/walletpay/pkg/constants"
	"github.com/sigweihq/walletpay/pkg/payerr"
)

// Caller is the subset of *rpc.Client used for receipt queries
type Caller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// RPCClient implements chains.ReceiptSource for EVM chains over a set of JSON-RPC endpoints
type RPCClient struct {
	network string
	chainID int64

	mu        sync.RWMutex
	endpoints []string
	// healthy is the length of the prefix of endpoints that passed the last health check
	healthy int
	// prioritized is set once Prioritize ran; receipt queries then stop at the first failure
	prioritized bool
}

// NewRPCClient creates a new EVM RPC client
func NewRPCClient(network string, chainID int64, endpoints []string) *RPCClient {
	return &RPCClient{
		network:   network,
		chainID:   chainID,
		endpoints: endpoints,
	}
}

var _ chains.ReceiptSource = (*RPCClient)(nil)

// GetTransactionReceipt implements chains.ReceiptSource
// Uses random start position for load balancing across RPC endpoints.
// Before Prioritize has run the endpoints are unranked and a failed endpoint falls over
// to the next one; afterwards a query goes to one healthy endpoint and its failure is returned.
func (r *RPCClient) GetTransactionReceipt(ctx context.Context, txHash common.Hash) (chains.TransactionReceipt, error) {
	r.mu.RLock()
	endpoints := append([]string(nil), r.endpoints...)
	spread := r.healthy
	prioritized := r.prioritized
	r.mu.RUnlock()

	if len(endpoints) == 0 {
		return nil, payerr.New(payerr.KindNetwork, "no RPC endpoints configured for network %s", r.network)
	}
	if spread == 0 {
		spread = len(endpoints)
	}

	// Start at a random healthy position for load balancing
	startIdx := rand.Intn(spread)

	var lastErr error
	for i := 0; i < len(endpoints); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Wrap around using modulo for round-robin
		endpoint := endpoints[(startIdx+i)%len(endpoints)]

		client, err := rpc.DialContext(ctx, endpoint)
		if err != nil {
			lastErr = &RPCError{Endpoint: endpoint, Err: err}
			if prioritized {
				break
			}
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, constants.ReceiptRequestTimeout)
		receipt, err := FetchReceipt(callCtx, client, txHash)
		cancel()
		client.Close()

		if err != nil {
			lastErr = &RPCError{Endpoint: endpoint, Err: err}
			if prioritized {
				break
			}
			continue
		}
		if receipt == nil {
			return nil, nil
		}
		return receipt, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if prioritized {
		return nil, payerr.Wrap(payerr.KindNetwork, lastErr, "receipt query failed for network %s", r.network)
	}
	return nil, payerr.Wrap(payerr.KindNetwork, lastErr, "all RPC endpoints failed for network %s", r.network)
}

// IsHealthy performs a health check on an RPC endpoint
func (r *RPCClient) IsHealthy(ctx context.Context, endpoint string) bool {
	client, err := ethclient.DialContext(ctx, endpoint)
	if err != nil {
		return false
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, constants.HealthCheckTimeout)
	defer cancel()

	_, err = client.BlockNumber(ctx)
	return err == nil
}

// Endpoints returns the configured endpoints
func (r *RPCClient) Endpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.endpoints...)
}

// Prioritize health checks every endpoint and moves healthy ones to the front.
// Receipt queries then start at a healthy endpoint and keep unhealthy ones as a fallback.
func (r *RPCClient) Prioritize(ctx context.Context) (healthy, unhealthy int) {
	endpoints := r.Endpoints()

	healthyEndpoints := make([]string, 0, len(endpoints))
	unhealthyEndpoints := make([]string, 0, len(endpoints))
	for _, endpoint := range endpoints {
		if r.IsHealthy(ctx, endpoint) {
			healthyEndpoints = append(healthyEndpoints, endpoint)
		} else {
			unhealthyEndpoints = append(unhealthyEndpoints, endpoint)
		}
	}

	r.mu.Lock()
	r.endpoints = append(healthyEndpoints, unhealthyEndpoints...)
	r.healthy = len(healthyEndpoints)
	r.prioritized = true
	r.mu.Unlock()

	return len(healthyEndpoints), len(unhealthyEndpoints)
}

// FetchReceipt queries eth_getTransactionReceipt. A null result yields (nil, nil).
func FetchReceipt(ctx context.Context, caller Caller, txHash common.Hash) (*EVMReceipt, error) {
	var raw json.RawMessage
	err := caller.CallContext(ctx, &raw, "eth_getTransactionReceipt", txHash)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	cleaned, err := stripBlockTimestampFromLogs(raw)
	if err != nil {
		return nil, err
	}

	var receipt ethtypes.Receipt
	if err := json.Unmarshal(cleaned, &receipt); err != nil {
		return nil, fmt.Errorf("decode receipt: %w", err)
	}

	return &EVMReceipt{receipt: &receipt}, nil
}

// stripBlockTimestampFromLogs removes the blockTimestamp field from transaction logs
func stripBlockTimestampFromLogs(raw json.RawMessage) ([]byte, error) {
	var receiptMap map[string]interface{}
	if err := json.Unmarshal(raw, &receiptMap); err != nil {
		return nil, err
	}
	if receiptMap == nil {
		return nil, errors.New("receipt is not an object")
	}

	logs, ok := receiptMap["logs"].([]interface{})
	if ok {
		for _, log := range logs {
			logMap, ok := log.(map[string]interface{})
			if ok {
				delete(logMap, "blockTimestamp")
			}
		}
	}

	return json.Marshal(receiptMap)
}

// EVMReceipt implements chains.TransactionReceipt
type EVMReceipt struct {
	receipt *ethtypes.Receipt
}

// NewEVMReceipt creates a new EVM receipt wrapper
func NewEVMReceipt(receipt *ethtypes.Receipt) *EVMReceipt {
	return &EVMReceipt{receipt: receipt}
}

func (r *EVMReceipt) IsSuccessful() bool {
	return r.receipt.Status == ethtypes.ReceiptStatusSuccessful
}

func (r *EVMReceipt) TxHash() common.Hash {
	return r.receipt.TxHash
}

func (r *EVMReceipt) BlockNumber() *big.Int {
	return r.receipt.BlockNumber
}

// GetUnderlyingReceipt returns the underlying EVM receipt
func (r *EVMReceipt) GetUnderlyingReceipt() *ethtypes.Receipt {
	return r.receipt
}
