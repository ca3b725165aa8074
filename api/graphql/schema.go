package graphql

import (
	"context"
	"fmt"

	"github.com/graphql-go/graphql"
	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer/balance"
	"github.com/0xmhha/staking-indexer/storage"
)

// Service is the query surface exposed over GraphQL
type Service interface {
	GetBalance(ctx context.Context, address string, ethereumHeight, chainflipHeight uint64) (*balance.Balance, error)
	GetState(ctx context.Context) (*balance.State, error)
	Stakes(ctx context.Context, address string, limit int) ([]*storage.Stake, error)
	Claims(ctx context.Context, node string, limit int) ([]*storage.Claim, error)
	Validator(ctx context.Context, address string) (*storage.Validator, error)
}

// Schema holds the GraphQL schema
type Schema struct {
	schema  graphql.Schema
	service Service
	logger  *zap.Logger
}

// NewSchema builds the query schema
func NewSchema(service Service, logger *zap.Logger) (*Schema, error) {
	s := &Schema{
		service: service,
		logger:  logger,
	}

	queries := graphql.Fields{
		"state": &graphql.Field{
			Type:    graphql.NewNonNull(stateType),
			Resolve: s.resolveState,
		},
		"balance": &graphql.Field{
			Type: balanceType,
			Args: graphql.FieldConfigArgument{
				"address": &graphql.ArgumentConfig{
					Type: graphql.NewNonNull(graphql.String),
				},
				"ethereumHeight": &graphql.ArgumentConfig{
					Type:        bigIntType,
					Description: "defaults to the indexed ethereum height",
				},
				"chainflipHeight": &graphql.ArgumentConfig{
					Type:        bigIntType,
					Description: "defaults to the indexed chainflip height",
				},
			},
			Resolve: s.resolveBalance,
		},
		"stakes": &graphql.Field{
			Type:    graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(stakeType))),
			Args:    historyArgs(),
			Resolve: s.resolveStakes,
		},
		"claims": &graphql.Field{
			Type:    graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(claimType))),
			Args:    historyArgs(),
			Resolve: s.resolveClaims,
		},
		"validator": &graphql.Field{
			Type: validatorType,
			Args: graphql.FieldConfigArgument{
				"address": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
			},
			Resolve: s.resolveValidator,
		},
	}

	schema, err := graphql.NewSchema(graphql.SchemaConfig{
		Query: graphql.NewObject(graphql.ObjectConfig{
			Name:   "Query",
			Fields: queries,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	s.schema = schema

	return s, nil
}

func historyArgs() graphql.FieldConfigArgument {
	return graphql.FieldConfigArgument{
		"address": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
		"limit": &graphql.ArgumentConfig{
			Type:        graphql.Int,
			Description: "newest first; defaults to 50, capped at 500",
		},
	}
}

// Schema returns the underlying graphql schema
func (s *Schema) Schema() graphql.Schema {
	return s.schema
}
