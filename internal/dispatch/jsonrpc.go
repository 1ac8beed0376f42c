// ABOUTME: JSON-RPC 2.0 envelope types and the request parser.
// ABOUTME: Non-conforming payloads parse to nil so unrelated traffic can share a channel.

package dispatch

import (
	"encoding/json"
)

// Version is the only accepted jsonrpc field value.
const Version = "2.0"

// RPC error codes surfaced in error envelopes.
const (
	CodeMethodNotFound = -32601
	CodeHandlerFailure = -32000
)

// ErrorDetail is the error member of an error envelope.
type ErrorDetail struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Request is a parsed JSON-RPC request. ID is never nil-absent here: the
// parser only produces a Request when an id was present, since a missing id
// marks a notification, which is ignored rather than answered.
type Request struct {
	Method string
	Params []any
	ID     any
}

// Envelope is an outbound JSON-RPC response. Exactly one of Result and Err
// is emitted; a successful call with no result still carries "result":null.
type Envelope struct {
	Result any
	Err    *ErrorDetail
	ID     any
}

// ResultEnvelope builds a success response echoing the request id.
func ResultEnvelope(id, result any) *Envelope {
	return &Envelope{Result: result, ID: id}
}

// ErrorEnvelope builds an error response echoing the request id.
func ErrorEnvelope(id any, code int, message string) *Envelope {
	return &Envelope{Err: &ErrorDetail{Code: code, Message: message}, ID: id}
}

// MarshalJSON emits the wire form with exact field names. Error envelopes
// carry no result member and result envelopes carry no error member.
func (e *Envelope) MarshalJSON() ([]byte, error) {
	if e.Err != nil {
		return json.Marshal(struct {
			JSONRPC string       `json:"jsonrpc"`
			Error   *ErrorDetail `json:"error"`
			ID      any          `json:"id"`
		}{Version, e.Err, e.ID})
	}
	return json.Marshal(struct {
		JSONRPC string `json:"jsonrpc"`
		Result  any    `json:"result"`
		ID      any    `json:"id"`
	}{Version, e.Result, e.ID})
}

// parseRequest interprets payload as a JSON-RPC request. It accepts a raw
// JSON string/bytes or an already-decoded object. Anything non-conforming
// returns nil: wrong jsonrpc version, non-string method, or absent id (a
// notification). Missing params defaults to an empty sequence.
func parseRequest(payload any) *Request {
	obj := asObject(payload)
	if obj == nil {
		return nil
	}

	version, ok := obj["jsonrpc"].(string)
	if !ok || version != Version {
		return nil
	}

	method, ok := obj["method"].(string)
	if !ok || method == "" {
		return nil
	}

	// The id member is the sole discriminator between a request and a
	// fire-and-forget notification.
	id, ok := obj["id"]
	if !ok {
		return nil
	}

	params := []any{}
	if rawParams, present := obj["params"]; present {
		arr, ok := rawParams.([]any)
		if !ok {
			return nil
		}
		params = arr
	}

	return &Request{Method: method, Params: params, ID: id}
}

// asObject normalizes the payload into a decoded JSON object, or nil.
func asObject(payload any) map[string]any {
	switch v := payload.(type) {
	case map[string]any:
		return v
	case string:
		return decodeObject([]byte(v))
	case []byte:
		return decodeObject(v)
	case json.RawMessage:
		return decodeObject(v)
	default:
		return nil
	}
}

func decodeObject(raw []byte) map[string]any {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}
