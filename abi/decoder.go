package abi

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Event and method names of the StakeManager contract
const (
	EventStaked          = "Staked"
	EventClaimRegistered = "ClaimRegistered"
	EventClaimExecuted   = "ClaimExecuted"

	MethodRegisterClaim   = "registerClaim"
	MethodGetPendingClaim = "getPendingClaim"
)

var (
	// ErrUnknownEvent is returned for logs whose topic0 is not a StakeManager event
	ErrUnknownEvent = errors.New("unknown event")

	// ErrUnexpectedMethod is returned when calldata does not call the expected method
	ErrUnexpectedMethod = errors.New("unexpected method")
)

// StakedEvent is a decoded Staked log
type StakedEvent struct {
	NodeID      [32]byte
	Amount      *big.Int
	Staker      common.Address
	ReturnAddr  common.Address
	BlockNumber uint64
	TxHash      common.Hash
}

// ClaimRegisteredEvent is a decoded ClaimRegistered log
type ClaimRegisteredEvent struct {
	NodeID      [32]byte
	Amount      *big.Int
	Staker      common.Address
	StartTime   *big.Int
	ExpiryTime  *big.Int
	BlockNumber uint64
	TxHash      common.Hash
}

// ClaimExecutedEvent is a decoded ClaimExecuted log
type ClaimExecutedEvent struct {
	NodeID      [32]byte
	Amount      *big.Int
	BlockNumber uint64
	TxHash      common.Hash
}

// RegisterClaimCall holds the registerClaim arguments the indexer needs
type RegisterClaimCall struct {
	MsgHash *big.Int
	NodeID  [32]byte
	Amount  *big.Int
	Staker  common.Address
}

// PendingClaim is the getPendingClaim return tuple
type PendingClaim struct {
	Amount     *big.Int
	Staker     common.Address
	StartTime  *big.Int
	ExpiryTime *big.Int
}

// StakeManager decodes StakeManager logs and calldata and encodes the
// getPendingClaim view call
type StakeManager struct {
	Address common.Address
	parsed  abi.ABI
}

// NewStakeManager parses abiJSON for the contract at address
func NewStakeManager(address common.Address, abiJSON string) (*StakeManager, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	for _, name := range []string{EventStaked, EventClaimRegistered, EventClaimExecuted} {
		if _, ok := parsed.Events[name]; !ok {
			return nil, fmt.Errorf("event %s not found in ABI", name)
		}
	}
	for _, name := range []string{MethodRegisterClaim, MethodGetPendingClaim} {
		if _, ok := parsed.Methods[name]; !ok {
			return nil, fmt.Errorf("method %s not found in ABI", name)
		}
	}

	return &StakeManager{Address: address, parsed: parsed}, nil
}

// LoadStakeManager uses the ABI file at path, or the embedded ABI when path is empty
func LoadStakeManager(address common.Address, path string) (*StakeManager, error) {
	if path == "" {
		return NewStakeManager(address, StakeManagerABI)
	}

	abiJSON, err := ReadABIFile(path)
	if err != nil {
		return nil, err
	}
	return NewStakeManager(address, abiJSON)
}

// ReadABIFile reads a JSON ABI stored either as a bare array or as an
// artifact object with an "abi" field
func ReadABIFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read ABI file: %w", err)
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		return trimmed, nil
	}

	var artifact struct {
		ABI json.RawMessage `json:"abi"`
	}
	if err := json.Unmarshal(data, &artifact); err != nil {
		return "", fmt.Errorf("failed to parse ABI file: %w", err)
	}
	if len(artifact.ABI) == 0 || string(artifact.ABI) == "null" {
		return "", fmt.Errorf("invalid ABI file %s: missing abi field", path)
	}
	return string(artifact.ABI), nil
}

// EventID returns the topic0 of the named event
func (s *StakeManager) EventID(name string) common.Hash {
	return s.parsed.Events[name].ID
}

// Topics returns the topic0 filter matching all three indexed events
func (s *StakeManager) Topics() []common.Hash {
	return []common.Hash{
		s.EventID(EventStaked),
		s.EventID(EventClaimRegistered),
		s.EventID(EventClaimExecuted),
	}
}

// DecodeLog decodes log into a *StakedEvent, *ClaimRegisteredEvent or
// *ClaimExecutedEvent
func (s *StakeManager) DecodeLog(log *types.Log) (interface{}, error) {
	if len(log.Topics) == 0 {
		return nil, fmt.Errorf("log has no topics")
	}

	event, err := s.parsed.EventByID(log.Topics[0])
	if err != nil {
		return nil, fmt.Errorf("%w: topic %s", ErrUnknownEvent, log.Topics[0].Hex())
	}

	args, err := unpackLog(event, log)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", event.RawName, err)
	}

	nodeID, ok := args["nodeID"].([32]byte)
	if !ok {
		return nil, fmt.Errorf("failed to decode %s: nodeID is %T", event.RawName, args["nodeID"])
	}

	switch event.RawName {
	case EventStaked:
		return &StakedEvent{
			NodeID:      nodeID,
			Amount:      bigArg(args, "amount"),
			Staker:      addressArg(args, "staker"),
			ReturnAddr:  addressArg(args, "returnAddr"),
			BlockNumber: log.BlockNumber,
			TxHash:      log.TxHash,
		}, nil
	case EventClaimRegistered:
		return &ClaimRegisteredEvent{
			NodeID:      nodeID,
			Amount:      bigArg(args, "amount"),
			Staker:      addressArg(args, "staker"),
			StartTime:   bigArg(args, "startTime"),
			ExpiryTime:  bigArg(args, "expiryTime"),
			BlockNumber: log.BlockNumber,
			TxHash:      log.TxHash,
		}, nil
	case EventClaimExecuted:
		return &ClaimExecutedEvent{
			NodeID:      nodeID,
			Amount:      bigArg(args, "amount"),
			BlockNumber: log.BlockNumber,
			TxHash:      log.TxHash,
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, event.RawName)
}

func unpackLog(event *abi.Event, log *types.Log) (map[string]interface{}, error) {
	args := make(map[string]interface{})

	var indexed, nonIndexed abi.Arguments
	for _, input := range event.Inputs {
		if input.Indexed {
			indexed = append(indexed, input)
		} else {
			nonIndexed = append(nonIndexed, input)
		}
	}

	// Topics[1:] carry the indexed parameters
	if len(indexed) > 0 {
		if err := abi.ParseTopicsIntoMap(args, indexed, log.Topics[1:]); err != nil {
			return nil, fmt.Errorf("failed to parse indexed parameters: %w", err)
		}
	}
	if len(nonIndexed) > 0 {
		if err := nonIndexed.UnpackIntoMap(args, log.Data); err != nil {
			return nil, fmt.Errorf("failed to parse non-indexed parameters: %w", err)
		}
	}
	return args, nil
}

// DecodeRegisterClaim decodes registerClaim calldata
func (s *StakeManager) DecodeRegisterClaim(input []byte) (*RegisterClaimCall, error) {
	if len(input) < 4 {
		return nil, fmt.Errorf("input too short: %d bytes", len(input))
	}

	method, err := s.parsed.MethodById(input[:4])
	if err != nil {
		return nil, fmt.Errorf("method not found for selector %x: %w", input[:4], err)
	}
	if method.RawName != MethodRegisterClaim {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedMethod, method.RawName)
	}

	args := make(map[string]interface{})
	if err := method.Inputs.UnpackIntoMap(args, input[4:]); err != nil {
		return nil, fmt.Errorf("failed to decode parameters: %w", err)
	}

	msgHash, err := sigDataMsgHash(args["sigData"])
	if err != nil {
		return nil, err
	}
	nodeID, ok := args["nodeID"].([32]byte)
	if !ok {
		return nil, fmt.Errorf("nodeID is %T", args["nodeID"])
	}

	return &RegisterClaimCall{
		MsgHash: msgHash,
		NodeID:  nodeID,
		Amount:  bigArg(args, "amount"),
		Staker:  addressArg(args, "staker"),
	}, nil
}

// sigDataMsgHash reads msgHash, the third member of the SigData tuple.
// go-ethereum unpacks tuples into anonymous structs.
func sigDataMsgHash(sigData interface{}) (*big.Int, error) {
	v := reflect.ValueOf(sigData)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct || v.NumField() < 3 {
		return nil, fmt.Errorf("sigData is %T", sigData)
	}

	field := v.FieldByName("MsgHash")
	if !field.IsValid() {
		field = v.Field(2)
	}
	msgHash, ok := field.Interface().(*big.Int)
	if !ok {
		return nil, fmt.Errorf("sigData.msgHash is %s", field.Type())
	}
	return msgHash, nil
}

// PackGetPendingClaim encodes a getPendingClaim(nodeID) call
func (s *StakeManager) PackGetPendingClaim(nodeID [32]byte) ([]byte, error) {
	data, err := s.parsed.Pack(MethodGetPendingClaim, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", MethodGetPendingClaim, err)
	}
	return data, nil
}

// UnpackPendingClaim decodes the getPendingClaim return data
func (s *StakeManager) UnpackPendingClaim(output []byte) (*PendingClaim, error) {
	values, err := s.parsed.Unpack(MethodGetPendingClaim, output)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", MethodGetPendingClaim, err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s returned %d values", MethodGetPendingClaim, len(values))
	}

	v := reflect.ValueOf(values[0])
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%s returned %T", MethodGetPendingClaim, values[0])
	}

	claim := &PendingClaim{}
	var ok bool
	if claim.Amount, ok = structField(v, "Amount").(*big.Int); !ok {
		return nil, fmt.Errorf("pending claim amount has unexpected type")
	}
	if claim.Staker, ok = structField(v, "Staker").(common.Address); !ok {
		return nil, fmt.Errorf("pending claim staker has unexpected type")
	}
	if claim.StartTime, ok = structField(v, "StartTime").(*big.Int); !ok {
		return nil, fmt.Errorf("pending claim startTime has unexpected type")
	}
	if claim.ExpiryTime, ok = structField(v, "ExpiryTime").(*big.Int); !ok {
		return nil, fmt.Errorf("pending claim expiryTime has unexpected type")
	}
	return claim, nil
}

func structField(v reflect.Value, name string) interface{} {
	field := v.FieldByName(name)
	if !field.IsValid() {
		return nil
	}
	return field.Interface()
}

// MsgHashHex formats a uint256 message hash the way both chains are keyed
func MsgHashHex(msgHash *big.Int) string {
	return common.BigToHash(msgHash).Hex()
}

func bigArg(args map[string]interface{}, name string) *big.Int {
	if v, ok := args[name].(*big.Int); ok {
		return v
	}
	return new(big.Int)
}

func addressArg(args map[string]interface{}, name string) common.Address {
	if v, ok := args[name].(common.Address); ok {
		return v
	}
	return common.Address{}
}
