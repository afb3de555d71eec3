// Package protocol implements the JSON-RPC 2.0 request/response protocol the
// bridge speaks to its backends, over either an HTTP endpoint or a spawned
// subprocess's standard streams. Callers address backends through Conn and
// Client and never see which transport is underneath.
package protocol

import "encoding/json"

// Message is a JSON-RPC 2.0 frame. Requests carry Method and Params,
// responses carry Result or Error correlated by ID.
type Message struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  interface{}     `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object, passed through from backends
// verbatim.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ToolDescriptor describes one invocable capability exposed by a backend,
// as returned by tools/list. Immutable once returned.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

const jsonrpcVersion = "2.0"

// newRequest builds a request frame for the given id.
func newRequest(id int64, method string, params interface{}) Message {
	if params == nil {
		params = map[string]interface{}{}
	}
	return Message{
		Jsonrpc: jsonrpcVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	}
}

// newNotification builds a request frame with no id; no response is expected.
func newNotification(method string, params interface{}) Message {
	if params == nil {
		params = map[string]interface{}{}
	}
	return Message{
		Jsonrpc: jsonrpcVersion,
		Method:  method,
		Params:  params,
	}
}

// messageID normalizes the id of an inbound frame to int64. JSON numbers
// decode as float64; anything else is uncorrelatable and returns false.
func messageID(raw interface{}) (int64, bool) {
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		id, err := v.Int64()
		return id, err == nil
	default:
		return 0, false
	}
}
