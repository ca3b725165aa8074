package graphql

import (
	"context"
	"net/http"

	"github.com/graphql-go/graphql"
	graphqlhandler "github.com/graphql-go/handler"
	"go.uber.org/zap"
)

// Handler serves the query schema over HTTP. GET and POST bodies are both
// accepted by the underlying graphql-go handler.
type Handler struct {
	http.Handler
	schema *Schema
}

// NewHandler builds the schema and its HTTP transport. With playground set,
// browsers issuing a GET receive the GraphQL Playground page.
func NewHandler(service Service, logger *zap.Logger, playground bool) (*Handler, error) {
	schema, err := NewSchema(service, logger)
	if err != nil {
		return nil, err
	}
	return &Handler{
		Handler: graphqlhandler.New(&graphqlhandler.Config{
			Schema:     &schema.schema,
			Pretty:     true,
			Playground: playground,
		}),
		schema: schema,
	}, nil
}

// Execute runs query against the schema without the HTTP layer
func (h *Handler) Execute(ctx context.Context, query string, variables map[string]interface{}) *graphql.Result {
	return graphql.Do(graphql.Params{
		Context:        ctx,
		Schema:         h.schema.schema,
		RequestString:  query,
		VariableValues: variables,
	})
}
