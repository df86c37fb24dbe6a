// ABOUTME: JSON-RPC 2.0 frame types and error codes for the gateway wire protocol
// ABOUTME: Requests carry an id, notifications don't; responses are result or error

package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Version is the fixed jsonrpc version string.
const Version = "2.0"

// Error codes. The negative codes follow the JSON-RPC 2.0 spec; the
// -320xx range is reserved for gateway-specific conditions.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeForbidden      = -32003
	CodeUpstream       = -32010
)

// Request is an inbound frame. A nil ID marks it as a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// IsNotification reports whether the frame expects no response.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || string(r.ID) == "null"
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Response is an outbound reply to a request.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification is an outbound fire-and-forget frame.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewResponse builds a successful response frame.
func NewResponse(id json.RawMessage, result any) *Response {
	return &Response{JSONRPC: Version, ID: id, Result: result}
}

// NewErrorResponse builds an error response frame.
func NewErrorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{JSONRPC: Version, ID: id, Error: &Error{Code: code, Message: message}}
}

// NewNotification builds a notification frame.
func NewNotification(method string, params any) *Notification {
	return &Notification{JSONRPC: Version, Method: method, Params: params}
}

// Decode parses an inbound frame. It distinguishes malformed JSON
// (CodeParseError) from structurally invalid frames (CodeInvalidRequest).
func Decode(data []byte) (*Request, *Error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		// -32700 is reserved for malformed JSON; well-formed JSON of the
		// wrong shape (a batch array, a string) is an invalid request.
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			return nil, &Error{Code: CodeParseError, Message: "parse error"}
		}
		return nil, &Error{Code: CodeInvalidRequest, Message: "invalid request"}
	}
	if req.JSONRPC != Version || req.Method == "" {
		return nil, &Error{Code: CodeInvalidRequest, Message: "invalid request"}
	}
	return &req, nil
}

// UnmarshalParams decodes request params into a typed struct.
func UnmarshalParams(req *Request, v any) *Error {
	if len(req.Params) == 0 {
		return &Error{Code: CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(req.Params, v); err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params"}
	}
	return nil
}
