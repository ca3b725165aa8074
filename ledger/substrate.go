package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strings"
	"sync"

	gsrpc "github.com/centrifuge/go-substrate-rpc-client/v4"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry/retriever"
	"github.com/centrifuge/go-substrate-rpc-client/v4/registry/state"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/centrifuge/go-substrate-rpc-client/v4/types/codec"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// Config holds ledger client configuration
type Config struct {
	// Endpoint is the node websocket or http URL
	Endpoint string

	// SS58Prefix is used to render account ids
	SS58Prefix uint16

	Logger *zap.Logger
}

// Client reads blocks, events and storage from a Substrate node
type Client struct {
	api    *gsrpc.SubstrateAPI
	events retriever.EventRetriever
	prefix uint16
	logger *zap.Logger

	mu       sync.Mutex
	metadata map[uint32]*types.Metadata
}

// NewClient connects to the node and prepares the event decoder
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.Endpoint == "" {
		return nil, fmt.Errorf("ledger endpoint cannot be empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	api, err := gsrpc.NewSubstrateAPI(cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ledger node: %w", err)
	}

	events, err := retriever.NewDefaultEventRetriever(state.NewEventProvider(api.RPC.State), api.RPC.State)
	if err != nil {
		return nil, fmt.Errorf("failed to create event retriever: %w", err)
	}

	return &Client{
		api:      api,
		events:   events,
		prefix:   cfg.SS58Prefix,
		logger:   logger,
		metadata: make(map[uint32]*types.Metadata),
	}, nil
}

// Close releases the node connection
func (c *Client) Close() {
	if closer, ok := c.api.Client.(interface{ Close() }); ok {
		closer.Close()
	}
}

// LatestHeight returns the height of the best block
func (c *Client) LatestHeight(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	header, err := c.api.RPC.Chain.GetHeaderLatest()
	if err != nil {
		return 0, fmt.Errorf("failed to get latest header: %w", err)
	}
	return uint64(header.Number), nil
}

// BlockHash returns the hash of the block at height
func (c *Client) BlockHash(ctx context.Context, height uint64) (types.Hash, error) {
	if err := ctx.Err(); err != nil {
		return types.Hash{}, err
	}
	hash, err := c.api.RPC.Chain.GetBlockHash(height)
	if err != nil {
		return types.Hash{}, fmt.Errorf("failed to get block hash %d: %w", height, err)
	}
	return hash, nil
}

// Block fetches the events and extrinsics of the block at height
func (c *Client) Block(ctx context.Context, height uint64) (*Block, error) {
	hash, err := c.BlockHash(ctx, height)
	if err != nil {
		return nil, err
	}

	meta, err := c.metadataAt(hash)
	if err != nil {
		return nil, err
	}

	extrinsics, err := c.extrinsics(hash, meta)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := c.events.GetEvents(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get events of block %d: %w", height, err)
	}

	events := make([]Event, 0, len(records))
	for _, record := range records {
		pallet, name := splitName(record.Name)
		event := Event{
			Pallet:         pallet,
			Name:           name,
			ExtrinsicIndex: NoExtrinsic,
			Fields:         make([]Field, 0, len(record.Fields)),
		}
		if record.Phase != nil && record.Phase.IsApplyExtrinsic {
			event.ExtrinsicIndex = int(record.Phase.AsApplyExtrinsic)
		}
		for _, field := range record.Fields {
			event.Fields = append(event.Fields, Field{Name: field.Name, Value: normalize(field.Value)})
		}
		events = append(events, event)
	}

	return &Block{
		Height:     height,
		Hash:       hash.Hex(),
		Events:     events,
		Extrinsics: extrinsics,
	}, nil
}

// extrinsics decodes the raw block body. The extrinsic hash is computed
// over the exact bytes returned by the node.
func (c *Client) extrinsics(hash types.Hash, meta *types.Metadata) ([]Extrinsic, error) {
	var raw struct {
		Block struct {
			Extrinsics []string `json:"extrinsics"`
		} `json:"block"`
	}
	if err := c.api.Client.Call(&raw, "chain_getBlock", hash.Hex()); err != nil {
		return nil, fmt.Errorf("failed to get block %s: %w", hash.Hex(), err)
	}

	out := make([]Extrinsic, 0, len(raw.Block.Extrinsics))
	for i, encoded := range raw.Block.Extrinsics {
		bz, err := codec.HexDecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid extrinsic %d hex: %w", i, err)
		}
		sum := blake2b.Sum256(bz)
		extrinsic := Extrinsic{Index: i, Hash: HexString(sum[:])}

		var ext types.Extrinsic
		if err := codec.Decode(bz, &ext); err != nil {
			// unknown signed extensions; keep the hash so indices stay aligned
			c.logger.Debug("Failed to decode extrinsic",
				zap.String("block", hash.Hex()),
				zap.Int("index", i),
				zap.Error(err),
			)
			out = append(out, extrinsic)
			continue
		}

		extrinsic.Pallet, extrinsic.Call = callName(meta, ext.Method.CallIndex)
		extrinsic.Args = []byte(ext.Method.Args)
		if ext.IsSigned() && ext.Signature.Signer.IsID {
			extrinsic.Signer = ext.Signature.Signer.AsID.ToBytes()
		}
		out = append(out, extrinsic)
	}
	return out, nil
}

// StakedBalance reads Flip.Account(address).stake at height
func (c *Client) StakedBalance(ctx context.Context, address string, height uint64) (*big.Int, error) {
	account, _, err := DecodeSS58(address)
	if err != nil {
		return nil, err
	}

	hash, err := c.BlockHash(ctx, height)
	if err != nil {
		return nil, err
	}
	meta, err := c.metadataAt(hash)
	if err != nil {
		return nil, err
	}

	key, err := types.CreateStorageKey(meta, "Flip", "Account", account)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage key: %w", err)
	}

	raw, err := c.api.RPC.State.GetStorageRaw(key, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to read Flip.Account of %s: %w", address, err)
	}
	if raw == nil || len(*raw) == 0 {
		return new(big.Int), nil
	}

	var flipAccount struct {
		Stake types.U128
		Bond  types.U128
	}
	if err := codec.Decode(*raw, &flipAccount); err != nil {
		return nil, fmt.Errorf("failed to decode Flip.Account of %s: %w", address, err)
	}
	if flipAccount.Stake.Int == nil {
		return new(big.Int), nil
	}
	return new(big.Int).Set(flipAccount.Stake.Int), nil
}

// Address renders an account id with the configured prefix
func (c *Client) Address(account []byte) (string, error) {
	return EncodeSS58(account, c.prefix)
}

func (c *Client) metadataAt(hash types.Hash) (*types.Metadata, error) {
	version, err := c.api.RPC.State.GetRuntimeVersion(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get runtime version: %w", err)
	}
	spec := uint32(version.SpecVersion)

	c.mu.Lock()
	meta, ok := c.metadata[spec]
	c.mu.Unlock()
	if ok {
		return meta, nil
	}

	meta, err = c.api.RPC.State.GetMetadata(hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata for spec %d: %w", spec, err)
	}

	c.mu.Lock()
	c.metadata[spec] = meta
	c.mu.Unlock()

	c.logger.Info("Loaded runtime metadata", zap.Uint32("spec_version", spec))
	return meta, nil
}

// callName resolves a call index against V14 metadata
func callName(meta *types.Metadata, index types.CallIndex) (string, string) {
	for _, pallet := range meta.AsMetadataV14.Pallets {
		if uint8(pallet.Index) != index.SectionIndex {
			continue
		}
		name := string(pallet.Name)
		if !pallet.HasCalls {
			return name, ""
		}
		id := pallet.Calls.Type.Int64()
		for _, t := range meta.AsMetadataV14.Lookup.Types {
			if t.ID.Int64() != id || !t.Type.Def.IsVariant {
				continue
			}
			for _, variant := range t.Type.Def.Variant.Variants {
				if uint8(variant.Index) == index.MethodIndex {
					return name, string(variant.Name)
				}
			}
		}
		return name, ""
	}
	return "", ""
}

func splitName(full string) (string, string) {
	if i := strings.IndexByte(full, '.'); i >= 0 {
		return full[:i], full[i+1:]
	}
	return "", full
}

// ErrMaxClaimAmount is returned when a claim requests the whole balance
var ErrMaxClaimAmount = errors.New("claim amount is max")

// DecodeClaimAmount decodes the leading ClaimAmount argument of a
// Staking.claim call: variant 0 is Max, variant 1 is Exact(u128)
func DecodeClaimAmount(args []byte) (*big.Int, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("empty call arguments")
	}
	switch args[0] {
	case 0:
		return nil, ErrMaxClaimAmount
	case 1:
		var amount types.U128
		if err := codec.Decode(args[1:], &amount); err != nil {
			return nil, fmt.Errorf("failed to decode claim amount: %w", err)
		}
		return amount.Int, nil
	}
	return nil, fmt.Errorf("unknown claim amount variant %d", args[0])
}

// normalize converts registry-decoded values into plain Go values
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case registry.DecodedFields:
		return normalizeFields(val)
	case *registry.DecodedField:
		if val == nil {
			return nil
		}
		return normalize(val.Value)
	case types.UCompact:
		n := big.Int(val)
		return new(big.Int).Set(&n)
	case *big.Int:
		return val
	case big.Int:
		return new(big.Int).Set(&val)
	case []byte:
		return val
	case []interface{}:
		return normalizeSeq(val)
	case string:
		return val
	case bool:
		return val
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return new(big.Int).SetUint64(rv.Uint())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return big.NewInt(rv.Int())
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.String()
	case reflect.Ptr:
		if rv.IsNil() {
			return nil
		}
		return normalize(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			out := make([]byte, rv.Len())
			for i := range out {
				out[i] = byte(rv.Index(i).Uint())
			}
			return out
		}
		items := make([]interface{}, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
		return normalizeSeq(items)
	case reflect.Struct:
		var fields []interface{}
		for i := 0; i < rv.NumField(); i++ {
			if rv.Field(i).CanInterface() {
				fields = append(fields, normalize(rv.Field(i).Interface()))
			}
		}
		if len(fields) == 1 {
			return fields[0]
		}
		return fields
	}
	return v
}

func normalizeFields(fields registry.DecodedFields) interface{} {
	if len(fields) == 1 && fields[0] != nil {
		return normalize(fields[0].Value)
	}
	out := make([]interface{}, 0, len(fields))
	for _, field := range fields {
		if field == nil {
			out = append(out, nil)
			continue
		}
		out = append(out, normalize(field.Value))
	}
	return out
}

// normalizeSeq turns a sequence of u8 into bytes
func normalizeSeq(items []interface{}) interface{} {
	if len(items) > 0 {
		bytes := make([]byte, len(items))
		isBytes := true
		for i, item := range items {
			rv := reflect.ValueOf(item)
			if !rv.IsValid() || rv.Kind() != reflect.Uint8 {
				isBytes = false
				break
			}
			bytes[i] = byte(rv.Uint())
		}
		if isBytes {
			return bytes
		}
	}

	out := make([]interface{}, len(items))
	for i, item := range items {
		out[i] = normalize(item)
	}
	return out
}
