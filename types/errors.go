package types

import "fmt"

// JSON-RPC standard error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Protocol-specific error codes.
const (
	CodeNotAuthenticated     = -32000
	CodeAuthenticationFailed = -32001
	CodeAgentNotFound        = -32002
	CodeMarketNotFound       = -32003
	CodeCoalitionNotFound    = -32004
	CodePaymentFailed        = -32005
	CodeRateLimitExceeded    = -32006
	CodeInvalidSignature     = -32007
	CodeExpiredRequest       = -32008
)

// RPCError is the error member of a JSON-RPC response. It doubles as a Go
// error so handlers can return wire errors directly.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error [%d]: %s", e.Code, e.Message)
}

// NewRPCError creates a wire error with the given code and message.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

// Errorf creates a wire error with a formatted message.
func Errorf(code int, format string, args ...any) *RPCError {
	return &RPCError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AsRPCError maps an arbitrary error onto a wire error. Errors that already
// are *RPCError pass through unchanged; everything else becomes an internal
// error so handler bugs never leak structured internals onto the wire.
func AsRPCError(err error) *RPCError {
	if err == nil {
		return nil
	}
	if rpcErr, ok := err.(*RPCError); ok {
		return rpcErr
	}
	return &RPCError{Code: CodeInternalError, Message: err.Error()}
}
