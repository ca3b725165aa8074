package constants

import "time"

// API Server Constants
const (
	// DefaultAPIHost is the default API server host
	DefaultAPIHost = "0.0.0.0"

	// DefaultAPIPort is the default API server port
	DefaultAPIPort = 3000

	// MinPort is the minimum valid port number
	MinPort = 1

	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// DefaultReadTimeout is the default HTTP read timeout
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout is the default HTTP write timeout
	DefaultWriteTimeout = 15 * time.Second

	// DefaultIdleTimeout is the default HTTP idle timeout
	DefaultIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout is the default graceful shutdown timeout
	DefaultShutdownTimeout = 30 * time.Second

	// DefaultMaxHeaderBytes is the default maximum request header size (1 MB)
	DefaultMaxHeaderBytes = 1 << 20

	// DefaultMaxRequestBytes caps JSON-RPC request bodies
	DefaultMaxRequestBytes = 2 << 20

	// DefaultRateLimitPerSecond is the default rate limit (requests per second)
	DefaultRateLimitPerSecond = 100

	// DefaultRateLimitBurst is the default rate limit burst size
	DefaultRateLimitBurst = 200
)

// API Paths
const (
	// DefaultGraphQLPath is the default GraphQL endpoint path
	DefaultGraphQLPath = "/graphql"

	// DefaultJSONRPCPath is the default JSON-RPC endpoint path
	DefaultJSONRPCPath = "/api/v1/jsonrpc"

	// DefaultWebSocketPath is the default WebSocket endpoint path
	DefaultWebSocketPath = "/ws"
)

// Chain Constants
const (
	// ChainflipSS58Prefix is the SS58 address format registered for Chainflip
	ChainflipSS58Prefix = 2112

	// DefaultEVMReorgProtection is the number of EVM blocks withheld from indexing
	DefaultEVMReorgProtection = 2

	// DefaultMaxBlockRange bounds a single eth_getLogs window
	DefaultMaxBlockRange = 5000

	// DefaultStakingPallet is the pallet whose extrinsics raise claim signing requests
	DefaultStakingPallet = "Staking"

	// DefaultRPCTimeout is the default timeout for a single RPC call
	DefaultRPCTimeout = 30 * time.Second
)

// Sync Constants
const (
	// DefaultSyncThreshold is the ledger lag (in blocks) above which batch sync is used
	DefaultSyncThreshold = 50

	// DefaultLedgerBatchSize is the number of ledger blocks indexed concurrently per run
	DefaultLedgerBatchSize = 4

	// MaxLedgerBatchSize is the maximum number of concurrent ledger blocks per run
	MaxLedgerBatchSize = 256

	// DefaultDispatchDelay staggers concurrent block tasks
	DefaultDispatchDelay = 20 * time.Millisecond

	// DefaultPollInterval is the delay between live passes
	DefaultPollInterval = 6 * time.Second

	// DefaultMaxLiveFailures is the number of consecutive failed live passes
	// after which the indexer stops
	DefaultMaxLiveFailures = 10

	// DefaultRetryAttempts is the number of extra attempts after a failed RPC call
	DefaultRetryAttempts = 1

	// DefaultRetryDelay is the default delay between retries
	DefaultRetryDelay = 1 * time.Second
)

// Database Constants
const (
	// DefaultDatabaseDriver is the default relational backend
	DefaultDatabaseDriver = "postgres"

	// DefaultMaxOpenConns is the default size of the connection pool
	DefaultMaxOpenConns = 20

	// DefaultMaxIdleConns is the default number of idle connections kept
	DefaultMaxIdleConns = 5

	// DefaultConnMaxLifetime is the default maximum connection lifetime
	DefaultConnMaxLifetime = 30 * time.Minute

	// TxRetries is how often a block transaction is replayed after a
	// serialization failure or deadlock
	TxRetries = 3
)

// WebSocket Constants
const (
	// DefaultWSReadBufferSize is the default WebSocket read buffer size
	DefaultWSReadBufferSize = 1024

	// DefaultWSWriteBufferSize is the default WebSocket write buffer size
	DefaultWSWriteBufferSize = 1024

	// DefaultWSPingInterval is the default WebSocket ping interval
	DefaultWSPingInterval = 30 * time.Second

	// DefaultWSPongTimeout is the default WebSocket pong timeout
	DefaultWSPongTimeout = 60 * time.Second

	// DefaultWSWriteTimeout is the default WebSocket write timeout
	DefaultWSWriteTimeout = 10 * time.Second
)

// EventBus Constants
const (
	// DefaultEventBufferSize is the default event buffer size
	DefaultEventBufferSize = 100

	// DefaultSubscriberBufferSize is the default per-subscriber channel size
	DefaultSubscriberBufferSize = 16
)
