// Package rpcapi implements the JSON-RPC 2.0 method dispatch table (§4.J)
// and the error-code mapping from pkg/util's typed errors (§4.Q).
//
// Grounded on mathaix-clarateach/backend/internal/api/server.go's
// route-table + auth-middleware shape, adapted from HTTP routing to a
// method-name dispatch table invoked from the WebSocket transport.
package rpcapi

import (
	"encoding/json"
	"errors"

	"github.com/bwks/sherpa-sub001/pkg/util"
)

// Standard JSON-RPC 2.0 codes plus Sherpa's application codes (§4.Q).
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603

	CodeServerError  = -32000
	CodeAuthInvalid  = -32001
	CodeAuthRequired = -32002
	CodeAccessDenied = -32003
	CodeNotFound     = -32004
)

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string { return e.Message }

// NewError wraps err into the JSON-RPC error code its sentinel chain maps
// to, via errors.Is against pkg/util's sentinels. Context beyond the
// message is deliberately dropped — only message and code reach the
// client (§4.Q).
func NewError(err error) *Error {
	switch {
	case errors.Is(err, util.ErrAuthInvalid):
		return &Error{Code: CodeAuthInvalid, Message: err.Error()}
	case errors.Is(err, util.ErrAuthRequired):
		return &Error{Code: CodeAuthRequired, Message: err.Error()}
	case errors.Is(err, util.ErrAccessDenied), errors.Is(err, util.ErrPermissionDenied):
		return &Error{Code: CodeAccessDenied, Message: err.Error()}
	case errors.Is(err, util.ErrNotFound):
		return &Error{Code: CodeNotFound, Message: err.Error()}
	case errors.Is(err, util.ErrValidationFailed), errors.Is(err, util.ErrInvalidConfig):
		return &Error{Code: CodeInvalidParams, Message: err.Error()}
	default:
		return &Error{Code: CodeServerError, Message: err.Error()}
	}
}

// Request is one JSON-RPC request frame, carried inside a wsapi RpcRequest.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response is the terminal JSON-RPC result for a Request.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  *Error      `json:"error,omitempty"`
}
