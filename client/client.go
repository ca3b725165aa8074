package client

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
)

// Client wraps the EVM JSON-RPC client with the calls the indexer needs
type Client struct {
	ethClient *ethclient.Client
	rpcClient *rpc.Client
	endpoint  string
	timeout   time.Duration
	logger    *zap.Logger
}

// Config holds client configuration
type Config struct {
	Endpoint string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// NewClient dials the EVM endpoint and verifies the connection
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx := context.Background()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	rpcClient, err := rpc.DialContext(ctx, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint: %w", err)
	}

	client := &Client{
		ethClient: ethclient.NewClient(rpcClient),
		rpcClient: rpcClient,
		endpoint:  cfg.Endpoint,
		timeout:   cfg.Timeout,
		logger:    logger,
	}

	chainID, err := client.ethClient.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("failed to ping RPC endpoint: %w", err)
	}

	logger.Info("connected to EVM RPC",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("chain_id", chainID.String()))

	return client, nil
}

// Close closes the client connection
func (c *Client) Close() {
	if c.ethClient != nil {
		c.ethClient.Close()
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// BlockNumber returns the latest block number
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	blockNumber, err := c.ethClient.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block number: %w", err)
	}
	return blockNumber, nil
}

// FilterLogs returns the logs of contract matching any of topics in [from, to]
func (c *Client) FilterLogs(ctx context.Context, contract common.Address, topics []common.Hash, from, to uint64) ([]types.Log, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{contract},
		Topics:    [][]common.Hash{topics},
	}
	logs, err := c.ethClient.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to filter logs %d-%d: %w", from, to, err)
	}
	return logs, nil
}

// CallContract executes a read-only call against the state at blockNumber
func (c *Client) CallContract(ctx context.Context, contract common.Address, data []byte, blockNumber uint64) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	msg := ethereum.CallMsg{
		To:   &contract,
		Data: data,
	}
	out, err := c.ethClient.CallContract(ctx, msg, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return nil, fmt.Errorf("failed to call %s at block %d: %w", contract.Hex(), blockNumber, err)
	}
	return out, nil
}

// TransactionByHash fetches a transaction by its hash
func (c *Client) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	tx, _, err := c.ethClient.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction %s: %w", hash.Hex(), err)
	}
	return tx, nil
}

// BatchTransactionsByHash fetches several transactions in a single batch
// request. Results are in the order of hashes.
func (c *Client) BatchTransactionsByHash(ctx context.Context, hashes []common.Hash) ([]*types.Transaction, error) {
	switch len(hashes) {
	case 0:
		return nil, nil
	case 1:
		tx, err := c.TransactionByHash(ctx, hashes[0])
		if err != nil {
			return nil, err
		}
		return []*types.Transaction{tx}, nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	txs := make([]*types.Transaction, len(hashes))
	batch := make([]rpc.BatchElem, len(hashes))

	for i, hash := range hashes {
		batch[i] = rpc.BatchElem{
			Method: "eth_getTransactionByHash",
			Args:   []interface{}{hash},
			Result: &txs[i],
		}
	}

	if err := c.rpcClient.BatchCallContext(ctx, batch); err != nil {
		return nil, fmt.Errorf("batch call failed: %w", err)
	}

	for i, elem := range batch {
		if elem.Error != nil {
			c.logger.Error("failed to fetch transaction in batch",
				zap.String("tx_hash", hashes[i].Hex()),
				zap.Error(elem.Error))
			return nil, fmt.Errorf("failed to fetch transaction %s: %w", hashes[i].Hex(), elem.Error)
		}
		if txs[i] == nil {
			return nil, fmt.Errorf("transaction %s: %w", hashes[i].Hex(), ethereum.NotFound)
		}
	}

	return txs, nil
}
