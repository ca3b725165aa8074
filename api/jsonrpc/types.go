package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Version is the only protocol version accepted in the envelope
const Version = "2.0"

// Request is a JSON-RPC 2.0 call envelope
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      interface{}     `json:"id"`
}

// Response carries either Result or Error, never both
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is the error object of a failed call
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	// InvalidBlockHeight: a requested height is above the indexed checkpoint
	InvalidBlockHeight = -32001
)

// NewError creates a new JSON-RPC error
func NewError(code int, message string, data interface{}) *Error {
	return &Error{Code: code, Message: message, Data: data}
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// reply builds the response for id from a handler outcome
func reply(id interface{}, result interface{}, rpcErr *Error) Response {
	if rpcErr != nil {
		return Response{JSONRPC: Version, Error: rpcErr, ID: id}
	}
	return Response{JSONRPC: Version, Result: result, ID: id}
}
