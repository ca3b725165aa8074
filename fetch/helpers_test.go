package fetch

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"testing"

	gethabi "github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	stakeabi "github.com/0xmhha/staking-indexer/abi"
	"github.com/0xmhha/staking-indexer/internal/constants"
	"github.com/0xmhha/staking-indexer/internal/testutil"
	"github.com/0xmhha/staking-indexer/ledger"
	"github.com/0xmhha/staking-indexer/storage"
)

var (
	testContract = common.HexToAddress("0x3E5F7C1d1B8C0D26d8aB57E4a4e0F6e3c5d1A201")
	testNodeID   = [32]byte{0xd4, 0x35, 0x93, 0xc7, 0x15, 0xfd, 0xd3, 0x1c, 0x61, 0x14, 0x1a, 0xbd}
	testStaker   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
)

func newTestStore(t *testing.T) *storage.Store {
	return testutil.NewTestStore(t)
}

func testAddress(t *testing.T, nodeID [32]byte) string {
	return testutil.NodeAddress(t, nodeID)
}

// fakeEVM serves logs, transactions and eth_call results from memory
type fakeEVM struct {
	mu      sync.Mutex
	tip     uint64
	logs    []types.Log
	txs     map[common.Hash]*types.Transaction
	pending map[uint64][]byte
	windows [][2]uint64
	batches int
}

func newFakeEVM(tip uint64) *fakeEVM {
	return &fakeEVM{
		tip:     tip,
		txs:     make(map[common.Hash]*types.Transaction),
		pending: make(map[uint64][]byte),
	}
}

func (f *fakeEVM) setTip(tip uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tip = tip
}

func (f *fakeEVM) addLog(log types.Log) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, log)
}

func (f *fakeEVM) BlockNumber(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tip, nil
}

func (f *fakeEVM) FilterLogs(ctx context.Context, contract common.Address, topics []common.Hash, from, to uint64) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.windows = append(f.windows, [2]uint64{from, to})

	var out []types.Log
	for _, log := range f.logs {
		if log.BlockNumber >= from && log.BlockNumber <= to {
			out = append(out, log)
		}
	}
	return out, nil
}

func (f *fakeEVM) CallContract(ctx context.Context, contract common.Address, data []byte, blockNumber uint64) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	output, ok := f.pending[blockNumber]
	if !ok {
		return nil, fmt.Errorf("no state at block %d", blockNumber)
	}
	return output, nil
}

func (f *fakeEVM) BatchTransactionsByHash(ctx context.Context, hashes []common.Hash) ([]*types.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	txs := make([]*types.Transaction, len(hashes))
	for i, hash := range hashes {
		tx, ok := f.txs[hash]
		if !ok {
			return nil, fmt.Errorf("transaction %s not found", hash.Hex())
		}
		txs[i] = tx
	}
	return txs, nil
}

func (f *fakeEVM) windowCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.windows)
}

// fakeLedger serves prepared blocks; unknown heights are empty blocks
type fakeLedger struct {
	mu       sync.Mutex
	tip      uint64
	blocks   map[uint64]*ledger.Block
	failures map[uint64]error
	fetched  map[uint64]int
}

func newFakeLedger(tip uint64) *fakeLedger {
	return &fakeLedger{
		tip:      tip,
		blocks:   make(map[uint64]*ledger.Block),
		failures: make(map[uint64]error),
		fetched:  make(map[uint64]int),
	}
}

func (f *fakeLedger) setTip(tip uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tip = tip
}

func (f *fakeLedger) add(block *ledger.Block) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blocks[block.Height] = block
}

func (f *fakeLedger) fail(height uint64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[height] = err
}

func (f *fakeLedger) fetchCount(height uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetched[height]
}

func (f *fakeLedger) LatestHeight(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tip, nil
}

func (f *fakeLedger) Block(ctx context.Context, height uint64) (*ledger.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched[height]++
	if err, ok := f.failures[height]; ok {
		return nil, err
	}
	if block, ok := f.blocks[height]; ok {
		return block, nil
	}
	return &ledger.Block{Height: height, Hash: fmt.Sprintf("0x%064x", height)}, nil
}

func (f *fakeLedger) StakedBalance(ctx context.Context, address string, height uint64) (*big.Int, error) {
	return nil, errors.New("not supported")
}

// chainData builds StakeManager logs, calldata and call results
type chainData struct {
	t      *testing.T
	sm     *stakeabi.StakeManager
	parsed gethabi.ABI
}

func newChainData(t *testing.T) *chainData {
	t.Helper()
	sm, err := stakeabi.NewStakeManager(testContract, stakeabi.StakeManagerABI)
	require.NoError(t, err)
	parsed, err := gethabi.JSON(strings.NewReader(stakeabi.StakeManagerABI))
	require.NoError(t, err)
	return &chainData{t: t, sm: sm, parsed: parsed}
}

func (c *chainData) log(name string, nodeID [32]byte, block uint64, index uint, txHash common.Hash, values ...interface{}) types.Log {
	c.t.Helper()
	event := c.parsed.Events[name]
	data, err := event.Inputs.NonIndexed().Pack(values...)
	require.NoError(c.t, err)
	return types.Log{
		Address:     testContract,
		Topics:      []common.Hash{event.ID, common.BytesToHash(nodeID[:])},
		Data:        data,
		BlockNumber: block,
		Index:       index,
		TxHash:      txHash,
	}
}

func (c *chainData) staked(nodeID [32]byte, block uint64, index uint, txHash common.Hash, amount int64) types.Log {
	return c.log(stakeabi.EventStaked, nodeID, block, index, txHash,
		big.NewInt(amount), testStaker, common.HexToAddress("0xbb"))
}

func (c *chainData) claimRegistered(nodeID [32]byte, block uint64, index uint, txHash common.Hash, amount, start, expiry int64) types.Log {
	return c.log(stakeabi.EventClaimRegistered, nodeID, block, index, txHash,
		big.NewInt(amount), testStaker, big.NewInt(start), big.NewInt(expiry))
}

func (c *chainData) claimExecuted(nodeID [32]byte, block uint64, index uint, txHash common.Hash, amount int64) types.Log {
	return c.log(stakeabi.EventClaimExecuted, nodeID, block, index, txHash, big.NewInt(amount))
}

type sigData struct {
	KeyManAddr  common.Address
	ChainID     *big.Int
	MsgHash     *big.Int
	Sig         *big.Int
	Nonce       *big.Int
	KTimesGAddr common.Address
}

func (c *chainData) registerClaimTx(nodeID [32]byte, msgHash common.Hash, amount, expiry int64) *types.Transaction {
	c.t.Helper()
	input, err := c.parsed.Pack(stakeabi.MethodRegisterClaim,
		sigData{
			KeyManAddr:  common.HexToAddress("0x01"),
			ChainID:     big.NewInt(1),
			MsgHash:     new(big.Int).SetBytes(msgHash[:]),
			Sig:         big.NewInt(7),
			Nonce:       big.NewInt(3),
			KTimesGAddr: common.HexToAddress("0x02"),
		},
		nodeID, big.NewInt(amount), testStaker, big.NewInt(expiry),
	)
	require.NoError(c.t, err)
	return types.NewTx(&types.LegacyTx{To: &testContract, Data: input})
}

func (c *chainData) pendingClaim(amount, start, expiry int64) []byte {
	c.t.Helper()
	output, err := c.parsed.Methods[stakeabi.MethodGetPendingClaim].Outputs.Pack(struct {
		Amount     *big.Int
		Staker     common.Address
		StartTime  *big.Int
		ExpiryTime *big.Int
	}{big.NewInt(amount), testStaker, big.NewInt(start), big.NewInt(expiry)})
	require.NoError(c.t, err)
	return output
}

func blockWith(height uint64, evs ...ledger.Event) *ledger.Block {
	return &ledger.Block{
		Height: height,
		Hash:   fmt.Sprintf("0x%064x", height),
		Events: evs,
	}
}

func stakedLedgerEvent(nodeID [32]byte, txHash common.Hash, amount int64) ledger.Event {
	return ledger.Event{
		Pallet:         "Staking",
		Name:           LedgerEventStaked,
		ExtrinsicIndex: ledger.NoExtrinsic,
		Fields: []ledger.Field{
			{Name: "account_id", Value: nodeID[:]},
			{Name: "tx_hash", Value: txHash.Bytes()},
			{Name: "stake_added", Value: big.NewInt(amount)},
			{Name: "total_stake", Value: big.NewInt(amount)},
		},
	}
}

// exactClaimArgs encodes ClaimAmount::Exact(amount) as SCALE
func exactClaimArgs(amount uint64) []byte {
	args := make([]byte, 17)
	args[0] = 1
	for i := 0; i < 8; i++ {
		args[1+i] = byte(amount >> (8 * i))
	}
	return args
}

// claimRequestBlock holds a staking claim extrinsic and the signature
// request it raised
func claimRequestBlock(height uint64, pallet string, signer []byte, msgHash common.Hash, args []byte) *ledger.Block {
	return &ledger.Block{
		Height: height,
		Hash:   fmt.Sprintf("0x%064x", height),
		Extrinsics: []ledger.Extrinsic{
			{Index: 0, Hash: fmt.Sprintf("0x%064x", 1000+height), Pallet: "Timestamp", Call: "set"},
			{Index: 1, Hash: fmt.Sprintf("0x%064x", 2000+height), Pallet: pallet, Call: "claim", Signer: signer, Args: args},
		},
		Events: []ledger.Event{
			{
				Pallet:         "EthereumThresholdSigner",
				Name:           LedgerEventThresholdSignatureRequest,
				ExtrinsicIndex: 1,
				Fields: []ledger.Field{
					{Name: "request_id", Value: big.NewInt(1)},
					{Name: "ceremony_id", Value: big.NewInt(9)},
					{Name: "key_id", Value: []byte{0x01}},
					{Name: "payload", Value: msgHash.Bytes()},
				},
			},
		},
	}
}

func claimExpiredEvent(nodeID [32]byte) ledger.Event {
	return ledger.Event{
		Pallet:         "Staking",
		Name:           LedgerEventClaimExpired,
		ExtrinsicIndex: ledger.NoExtrinsic,
		Fields: []ledger.Field{
			{Name: "account_id", Value: nodeID[:]},
			{Name: "amount", Value: big.NewInt(0)},
		},
	}
}

func newTestEVMIngestor(t *testing.T, source EVMSource, store *storage.Store, maxRange uint64) *EVMIngestor {
	t.Helper()
	sm, err := stakeabi.NewStakeManager(testContract, stakeabi.StakeManagerABI)
	require.NoError(t, err)
	return NewEVMIngestor(source, sm, store, nil, EVMConfig{
		ReorgProtection: 2,
		MaxBlockRange:   maxRange,
		SS58Prefix:      constants.ChainflipSS58Prefix,
	}, zap.NewNop())
}

func newTestLedgerIngestor(source ledger.Source, store *storage.Store) *LedgerIngestor {
	return NewLedgerIngestor(source, store, nil, LedgerConfig{
		StakingPallet: constants.DefaultStakingPallet,
		SS58Prefix:    constants.ChainflipSS58Prefix,
	}, zap.NewNop())
}
