package graphql

import (
	"github.com/graphql-go/graphql"
)

// Heights and token amounts exceed the 32-bit GraphQL Int, so both travel
// as decimal strings.
var (
	bigIntType  = graphql.String
	decimalType = graphql.String

	stateType     *graphql.Object
	balanceType   *graphql.Object
	stakeType     *graphql.Object
	claimType     *graphql.Object
	validatorType *graphql.Object
)

func init() {
	stateType = graphql.NewObject(graphql.ObjectConfig{
		Name:        "State",
		Description: "Indexed checkpoint of both chains",
		Fields: graphql.Fields{
			"ethereumHeight": &graphql.Field{
				Type: graphql.NewNonNull(bigIntType),
			},
			"chainflipHeight": &graphql.Field{
				Type: graphql.NewNonNull(bigIntType),
			},
		},
	})

	balanceType = graphql.NewObject(graphql.ObjectConfig{
		Name:        "Balance",
		Description: "Reconciled stake of one account",
		Fields: graphql.Fields{
			"address": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
			},
			"stakedBalance": &graphql.Field{
				Type: graphql.NewNonNull(decimalType),
			},
			"rewards": &graphql.Field{
				Type: graphql.NewNonNull(decimalType),
			},
		},
	})

	stakeType = graphql.NewObject(graphql.ObjectConfig{
		Name:        "Stake",
		Description: "Principal committed on Ethereum and credited on Chainflip",
		Fields: graphql.Fields{
			"hash":            &graphql.Field{Type: graphql.String},
			"address":         &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"amount":          &graphql.Field{Type: graphql.NewNonNull(decimalType)},
			"initiatedHeight": &graphql.Field{Type: bigIntType},
			"completedHeight": &graphql.Field{Type: bigIntType},
		},
	})

	claimType = graphql.NewObject(graphql.ObjectConfig{
		Name:        "Claim",
		Description: "Withdrawal requested on Chainflip and executed on Ethereum",
		Fields: graphql.Fields{
			"msgHash":         &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"chainflipHash":   &graphql.Field{Type: graphql.String},
			"node":            &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"staker":          &graphql.Field{Type: graphql.String},
			"amount":          &graphql.Field{Type: graphql.NewNonNull(decimalType)},
			"startTime":       &graphql.Field{Type: bigIntType},
			"expiryTime":      &graphql.Field{Type: bigIntType},
			"initiatedHeight": &graphql.Field{Type: bigIntType},
			"completedHeight": &graphql.Field{Type: bigIntType},
			"expiredHeight":   &graphql.Field{Type: bigIntType},
		},
	})

	validatorType = graphql.NewObject(graphql.ObjectConfig{
		Name:        "Validator",
		Description: "Confirmed stake aggregated per account",
		Fields: graphql.Fields{
			"address":      &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
			"stakedAmount": &graphql.Field{Type: graphql.NewNonNull(decimalType)},
		},
	})
}
