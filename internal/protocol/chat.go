package protocol

import "encoding/json"

// Chat event states. A run emits zero-or-more delta events followed by
// exactly one terminal state (final, error, or aborted).
const (
	ChatStateDelta   = "delta"
	ChatStateFinal   = "final"
	ChatStateError   = "error"
	ChatStateAborted = "aborted"
)

// ChatPayload is the "chat" event payload. The gateway's message schema
// is not strictly typed, so the message body and the top-level text
// fields are kept raw and extracted defensively by the client.
type ChatPayload struct {
	RunID        string          `json:"runId"`
	SessionKey   string          `json:"sessionKey,omitempty"`
	Seq          int64           `json:"seq,omitempty"`
	State        string          `json:"state"`
	Message      json.RawMessage `json:"message,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`

	// Loose top-level text carriers observed in the wild.
	Text    string          `json:"text,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
	Body    string          `json:"body,omitempty"`
}

// ChatSendParams is the "chat.send" request params. IdempotencyKey is a
// fresh client-generated token per call so retried sends are
// deduplicable server-side.
type ChatSendParams struct {
	SessionKey     string `json:"sessionKey"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotencyKey"`
}

// ChatHistoryParams is the "chat.history" request params.
type ChatHistoryParams struct {
	SessionKey string `json:"sessionKey"`
	Limit      int    `json:"limit"`
}

// AgentPayload is the loosely-typed "agent" lifecycle event payload.
type AgentPayload struct {
	Phase        string          `json:"phase,omitempty"`
	Lifecycle    string          `json:"lifecycle,omitempty"`
	Error        json.RawMessage `json:"error,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}
