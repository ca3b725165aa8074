package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/0xmhha/staking-indexer/internal/constants"
)

const maxBatchSize = 20

// Server serves get_balance and get_state over HTTP POST. Protocol errors
// are reported in the envelope with status 200.
type Server struct {
	handler *Handler
	logger  *zap.Logger
}

// NewServer creates a new JSON-RPC server
func NewServer(service Service, logger *zap.Logger) *Server {
	return &Server{
		handler: NewHandler(service, logger),
		logger:  logger,
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, constants.DefaultMaxRequestBytes))
	defer r.Body.Close()
	if err != nil {
		s.logger.Warn("failed to read request body", zap.Error(err))
		s.write(w, reply(nil, nil, NewError(ParseError, "request body too large or unreadable", err.Error())))
		return
	}

	body = bytes.TrimLeft(body, " \t\r\n")
	if len(body) > 0 && body[0] == '[' {
		s.write(w, s.serveBatch(r.Context(), body))
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		s.logger.Debug("failed to parse request", zap.Error(err))
		s.write(w, reply(nil, nil, NewError(ParseError, "parse error", err.Error())))
		return
	}
	s.write(w, s.dispatch(r.Context(), req))
}

// serveBatch returns either a slice of responses or a single error response
// when the batch itself is malformed
func (s *Server) serveBatch(ctx context.Context, body []byte) interface{} {
	var batch []Request
	if err := json.Unmarshal(body, &batch); err != nil {
		return reply(nil, nil, NewError(ParseError, "parse error", err.Error()))
	}
	switch {
	case len(batch) == 0:
		return reply(nil, nil, NewError(InvalidRequest, "empty batch", nil))
	case len(batch) > maxBatchSize:
		s.logger.Warn("batch request too large",
			zap.Int("batch_size", len(batch)),
			zap.Int("max_batch_size", maxBatchSize))
		return reply(nil, nil, NewError(InvalidRequest, fmt.Sprintf("batch too large (max %d requests)", maxBatchSize), nil))
	}

	responses := make([]Response, 0, len(batch))
	for _, req := range batch {
		responses = append(responses, s.dispatch(ctx, req))
	}
	return responses
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	if req.JSONRPC != Version {
		return reply(req.ID, nil, NewError(InvalidRequest, "invalid jsonrpc version", nil))
	}
	if req.Method == "" {
		return reply(req.ID, nil, NewError(InvalidRequest, "missing method", nil))
	}
	result, rpcErr := s.handler.HandleMethod(ctx, req.Method, req.Params)
	return reply(req.ID, result, rpcErr)
}

func (s *Server) write(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}
