package constants

import "time"

const (
	DefaultPollInterval         = 2 * time.Second  // cadence of receipt polling
	DefaultConfirmationTimeout  = 10 * time.Minute // deadline for a receipt to appear
	DefaultAccountPollInterval  = 1 * time.Second  // cadence of account/chain change detection on JSON-RPC providers
	ReceiptRequestTimeout       = 10 * time.Second // timeout for a single receipt query against one endpoint
	HealthCheckTimeout          = 3 * time.Second  // timeout for an endpoint health check
	BackendTimeout              = 30 * time.Second // timeout for backend requests
	TLSHandshakeTimeout         = 10 * time.Second // timeout for TLS handshake
	ResponseHeaderTimeout       = 20 * time.Second // timeout for response header
	ExpectContinueTimeout       = 1 * time.Second  // timeout for expect continue
	MaxResponseBodySize         = 10 * 1024 * 1024 // maximum response body size in bytes (10MB)
	SessionEventBuffer          = 16               // buffered provider/session notifications per subscriber
	DefaultBackendURL           = "http://localhost:5000"
	DefaultWalletRPCURL         = "http://localhost:8545"
	DefaultLogLevel             = "info"
	DefaultMetricsListenAddress = ""
)

// EtherDecimals is the number of decimals between the display unit and base units (wei)
const EtherDecimals = 18

// Bounds on user-supplied amounts
const (
	MaxAmountExponent = 60  // largest decimal exponent accepted in either direction
	MaxBaseUnitBits   = 256 // on-chain values are uint256
)

// EIP-1193 provider error codes
const (
	ProviderCodeUserRejected      = 4001
	ProviderCodeUnauthorized      = 4100
	ProviderCodeUnsupported       = 4200
	ProviderCodeDisconnected      = 4900
	ProviderCodeChainDisconnected = 4901
	RPCCodeMethodNotFound         = -32601
)

// Network Types
const (
	NetworkEthereum    = "ethereum"
	NetworkSepolia     = "sepolia"
	NetworkHolesky     = "holesky"
	NetworkBase        = "base"
	NetworkBaseSepolia = "base-sepolia"
	NetworkPolygon     = "polygon"
	NetworkPolygonAmoy = "polygon-amoy"
	NetworkAvalanche   = "avalanche"
	NetworkDevnet      = "devnet"
)

// mapping from network name to numeric chain ID
var NetworkToChainID = map[string]int64{
	NetworkEthereum:    1,
	NetworkSepolia:     11155111,
	NetworkHolesky:     17000,
	NetworkBase:        8453,
	NetworkBaseSepolia: 84532,
	NetworkPolygon:     137,
	NetworkPolygonAmoy: 80002,
	NetworkAvalanche:   43114,
	NetworkDevnet:      1337,
}

var OfficialRPCEndpoints = map[string][]string{
	NetworkSepolia:     {"https://rpc.sepolia.org"},
	NetworkBase:        {"https://mainnet.base.org"},
	NetworkBaseSepolia: {"https://sepolia.base.org"},
	NetworkPolygonAmoy: {"https://rpc-amoy.polygon.technology"},
}

// NetworkForChainID returns the network name registered for a chain id
func NetworkForChainID(chainID int64) (string, bool) {
	for network, id := range NetworkToChainID {
		if id == chainID {
			return network, true
		}
	}
	return "", false
}
