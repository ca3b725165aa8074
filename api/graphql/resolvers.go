package graphql

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/graphql-go/graphql"
	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer/balance"
	"github.com/0xmhha/staking-indexer/storage"
)

func (s *Schema) resolveState(p graphql.ResolveParams) (interface{}, error) {
	state, err := s.service.GetState(p.Context)
	if err != nil {
		s.logger.Error("failed to get state", zap.Error(err))
		return nil, err
	}

	return map[string]interface{}{
		"ethereumHeight":  strconv.FormatUint(state.EthereumHeight, 10),
		"chainflipHeight": strconv.FormatUint(state.ChainflipHeight, 10),
	}, nil
}

func (s *Schema) resolveBalance(p graphql.ResolveParams) (interface{}, error) {
	address, _ := p.Args["address"].(string)

	ethereumHeight, err := heightArg(p.Args, "ethereumHeight")
	if err != nil {
		return nil, err
	}
	chainflipHeight, err := heightArg(p.Args, "chainflipHeight")
	if err != nil {
		return nil, err
	}

	result, err := s.service.GetBalance(p.Context, address, ethereumHeight, chainflipHeight)
	if err != nil {
		if !errors.Is(err, balance.ErrInvalidBlockHeight) {
			s.logger.Error("failed to get balance",
				zap.String("address", address),
				zap.Error(err))
		}
		return nil, err
	}

	return map[string]interface{}{
		"address":       result.Address,
		"stakedBalance": result.StakedBalance.String(),
		"rewards":       result.Rewards.String(),
	}, nil
}

func (s *Schema) resolveStakes(p graphql.ResolveParams) (interface{}, error) {
	address, _ := p.Args["address"].(string)
	limit, _ := p.Args["limit"].(int)

	stakes, err := s.service.Stakes(p.Context, address, limit)
	if err != nil {
		s.logger.Error("failed to list stakes", zap.String("address", address), zap.Error(err))
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(stakes))
	for _, st := range stakes {
		out = append(out, map[string]interface{}{
			"hash":            optString(st.Hash),
			"address":         st.Address,
			"amount":          st.Amount.String(),
			"initiatedHeight": optUint(st.InitiatedHeight),
			"completedHeight": optUint(st.CompletedHeight),
		})
	}
	return out, nil
}

func (s *Schema) resolveClaims(p graphql.ResolveParams) (interface{}, error) {
	address, _ := p.Args["address"].(string)
	limit, _ := p.Args["limit"].(int)

	claims, err := s.service.Claims(p.Context, address, limit)
	if err != nil {
		s.logger.Error("failed to list claims", zap.String("address", address), zap.Error(err))
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(claims))
	for _, c := range claims {
		out = append(out, claimMap(c))
	}
	return out, nil
}

func claimMap(c *storage.Claim) map[string]interface{} {
	return map[string]interface{}{
		"msgHash":         c.MsgHash,
		"chainflipHash":   optString(c.ChainflipHash),
		"node":            c.Node,
		"staker":          optString(c.Staker),
		"amount":          c.Amount.String(),
		"startTime":       optUint(c.StartTime),
		"expiryTime":      optUint(c.ExpiryTime),
		"initiatedHeight": optUint(c.InitiatedHeight),
		"completedHeight": optUint(c.CompletedHeight),
		"expiredHeight":   optUint(c.ExpiredHeight),
	}
}

func (s *Schema) resolveValidator(p graphql.ResolveParams) (interface{}, error) {
	address, _ := p.Args["address"].(string)

	v, err := s.service.Validator(p.Context, address)
	if err != nil {
		s.logger.Error("failed to get validator", zap.String("address", address), zap.Error(err))
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return map[string]interface{}{
		"address":      v.Address,
		"stakedAmount": v.StakedAmount.String(),
	}, nil
}

// optString and optUint map absent columns to GraphQL null
func optString(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func optUint(v *uint64) interface{} {
	if v == nil {
		return nil
	}
	return strconv.FormatUint(*v, 10)
}

// heightArg parses an optional decimal height argument; absent means zero
func heightArg(args map[string]interface{}, name string) (uint64, error) {
	raw, ok := args[name].(string)
	if !ok || raw == "" {
		return 0, nil
	}
	height, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", name, raw)
	}
	return height, nil
}
