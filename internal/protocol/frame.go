// Package protocol defines the wire format for the OpenClaw gateway
// WebSocket protocol: JSON text frames, one frame per message.
package protocol

import "encoding/json"

// ProtocolVersion is negotiated during the connect handshake.
const ProtocolVersion = 3

// Frame types.
const (
	FrameTypeRequest  = "req"
	FrameTypeResponse = "res"
	FrameTypeEvent    = "event"
)

// Frame is the envelope exchanged with the gateway. The three variants
// (request, response, event) share one struct; unused fields stay empty.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`      // request/response correlation ID
	Method  string          `json:"method,omitempty"`  // RPC method name (request only)
	Params  json.RawMessage `json:"params,omitempty"`  // request params
	OK      bool            `json:"ok,omitempty"`      // response success flag
	Payload json.RawMessage `json:"payload,omitempty"` // response result or event data
	Event   string          `json:"event,omitempty"`   // event name (event only)
	Seq     int64           `json:"seq,omitempty"`     // event ordering sequence number
	Error   *ErrorShape     `json:"error,omitempty"`   // error info (response, ok=false)
}

// ErrorShape describes an RPC error reported by the gateway.
type ErrorShape struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// NewRequest creates a request frame. Params that fail to marshal are
// sent as an empty params field; the gateway rejects them with a
// descriptive response, which is preferable to failing locally with no
// correlation ID on the books.
func NewRequest(id, method string, params any) Frame {
	f := Frame{Type: FrameTypeRequest, ID: id, Method: method}
	if params != nil {
		if raw, err := json.Marshal(params); err == nil {
			f.Params = raw
		}
	}
	return f
}
