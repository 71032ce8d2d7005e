package mcp

import (
	"encoding/json"
	"fmt"
)

// jsonrpcVersion is stamped on every outbound message; MCP is pinned
// to JSON-RPC 2.0.
const jsonrpcVersion = "2.0"

// Request is an outbound call that expects a correlated response. The
// id ties the eventual response back to the pending call; ids come
// from the client's atomic counter and are never reused.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewRequest builds a request carrying the given id.
func NewRequest(id int64, method string, params any) *Request {
	return &Request{
		JSONRPC: jsonrpcVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// Notification is an outbound message with no id and therefore no
// response; the handshake's notifications/initialized is the main use.
type Notification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewNotification builds a fire-and-forget notification.
func NewNotification(method string, params any) *Notification {
	return &Notification{
		JSONRPC: jsonrpcVersion,
		Method:  method,
		Params:  params,
	}
}

// Response answers a request by id. A well-formed response carries
// either Result or Error, never both; Result stays raw so each typed
// operation can decode its own payload.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is the error object of a failed response: the provider
// received the request and explicitly rejected it.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// TimeoutError reports that no response arrived for a request within
// the per-call deadline. It is fatal to that one call, not to the
// session; the pending entry is removed before it is returned.
type TimeoutError struct {
	Method  string
	Timeout string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no response to %s within %s", e.Method, e.Timeout)
}
