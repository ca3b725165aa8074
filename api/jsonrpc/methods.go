package jsonrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer/balance"
)

// Service is the query surface exposed over JSON-RPC
type Service interface {
	GetBalance(ctx context.Context, address string, ethereumHeight, chainflipHeight uint64) (*balance.Balance, error)
	GetState(ctx context.Context) (*balance.State, error)
}

// Handler dispatches JSON-RPC methods
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler creates a new JSON-RPC method handler
func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// HandleMethod routes the method call to the appropriate handler
func (h *Handler) HandleMethod(ctx context.Context, method string, params json.RawMessage) (interface{}, *Error) {
	switch method {
	case "get_balance":
		return h.getBalance(ctx, params)
	case "get_state":
		return h.getState(ctx)
	default:
		return nil, NewError(MethodNotFound, fmt.Sprintf("method %s not found", method), nil)
	}
}

type balanceParams struct {
	Address         string `json:"address"`
	EthereumHeight  uint64 `json:"ethereum_height"`
	ChainflipHeight uint64 `json:"chainflip_height"`
}

// parseBalanceParams accepts either a named object or the positional form
// [address, ethereum_height?, chainflip_height?]
func parseBalanceParams(raw json.RawMessage) (*balanceParams, error) {
	if len(raw) == 0 {
		return nil, errors.New("missing params")
	}

	var p balanceParams
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		if len(list) == 0 || len(list) > 3 {
			return nil, fmt.Errorf("expected 1 to 3 params, got %d", len(list))
		}
		if err := json.Unmarshal(list[0], &p.Address); err != nil {
			return nil, fmt.Errorf("invalid address: %w", err)
		}
		if len(list) > 1 {
			if err := json.Unmarshal(list[1], &p.EthereumHeight); err != nil {
				return nil, fmt.Errorf("invalid ethereum_height: %w", err)
			}
		}
		if len(list) > 2 {
			if err := json.Unmarshal(list[2], &p.ChainflipHeight); err != nil {
				return nil, fmt.Errorf("invalid chainflip_height: %w", err)
			}
		}
	} else if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}

	if p.Address == "" {
		return nil, errors.New("address is required")
	}
	return &p, nil
}

func (h *Handler) getBalance(ctx context.Context, raw json.RawMessage) (interface{}, *Error) {
	p, err := parseBalanceParams(raw)
	if err != nil {
		return nil, NewError(InvalidParams, "invalid params", err.Error())
	}

	result, err := h.service.GetBalance(ctx, p.Address, p.EthereumHeight, p.ChainflipHeight)
	if errors.Is(err, balance.ErrInvalidBlockHeight) {
		return nil, NewError(InvalidBlockHeight, "invalid block height", err.Error())
	}
	if err != nil {
		h.logger.Error("failed to get balance",
			zap.String("address", p.Address),
			zap.Error(err))
		return nil, NewError(InternalError, "failed to get balance", err.Error())
	}
	return result, nil
}

func (h *Handler) getState(ctx context.Context) (interface{}, *Error) {
	state, err := h.service.GetState(ctx)
	if err != nil {
		h.logger.Error("failed to get state", zap.Error(err))
		return nil, NewError(InternalError, "failed to get state", err.Error())
	}
	return state, nil
}
