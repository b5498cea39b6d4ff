package gateway

import (
	"encoding/json"
	"time"

	"github.com/knightafter/openClaw-web-interface/internal/domain"
	"github.com/knightafter/openClaw-web-interface/internal/protocol"
)

// chatMessageBody is the loosely-typed message object embedded in chat
// event payloads and history entries. The gateway does not guarantee
// any particular shape, so every field is optional.
type chatMessageBody struct {
	ID        string          `json:"id"`
	Role      string          `json:"role"`
	Content   json.RawMessage `json:"content"`
	Text      string          `json:"text"`
	Body      string          `json:"body"`
	Timestamp int64           `json:"timestamp"` // epoch milliseconds
}

// contentPart is one element of a structured content array.
type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ExtractText pulls human-readable text out of a chat payload, trying
// the known shapes in order:
//
//  1. message.content as an array of parts (strings or {type,text})
//  2. message.content as a plain string
//  3. message.text
//  4. message.body
//  5. text / content / body at the top level of the payload
//
// The first non-empty source wins. Returns "" when nothing matches;
// lossy by design, never fails.
func ExtractText(p *protocol.ChatPayload) string {
	if msg := decodeMessageBody(p.Message); msg != nil {
		if s := textFromContent(msg.Content); s != "" {
			return s
		}
		if msg.Text != "" {
			return msg.Text
		}
		if msg.Body != "" {
			return msg.Body
		}
	}
	if p.Text != "" {
		return p.Text
	}
	if s := stringFromRaw(p.Content); s != "" {
		return s
	}
	return p.Body
}

// MessageTime returns the timestamp carried by the payload's message
// body, or the current time when absent.
func MessageTime(p *protocol.ChatPayload) time.Time {
	if msg := decodeMessageBody(p.Message); msg != nil && msg.Timestamp > 0 {
		return time.UnixMilli(msg.Timestamp)
	}
	return time.Now()
}

// MessagesFromHistory parses a chat.history response payload into
// normalized messages, best effort. Accepts either a bare array or an
// object with a "messages" array; entries that yield no text are
// skipped. Returns nil when the payload has neither shape.
func MessagesFromHistory(payload json.RawMessage) []domain.Message {
	if len(payload) == 0 {
		return nil
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(payload, &entries); err != nil {
		var wrapper struct {
			Messages []json.RawMessage `json:"messages"`
		}
		if err := json.Unmarshal(payload, &wrapper); err != nil {
			return nil
		}
		entries = wrapper.Messages
	}

	var out []domain.Message
	for _, raw := range entries {
		msg := decodeMessageBody(raw)
		if msg == nil {
			continue
		}
		text := textFromContent(msg.Content)
		if text == "" {
			text = msg.Text
		}
		if text == "" {
			text = msg.Body
		}
		if text == "" {
			continue
		}
		role := msg.Role
		if role != domain.RoleUser {
			role = domain.RoleAssistant
		}
		id := msg.ID
		if id == "" {
			id = newID()
		}
		ts := time.Now()
		if msg.Timestamp > 0 {
			ts = time.UnixMilli(msg.Timestamp)
		}
		out = append(out, domain.Message{ID: id, Role: role, Content: text, Timestamp: ts})
	}
	return out
}

func decodeMessageBody(raw json.RawMessage) *chatMessageBody {
	if len(raw) == 0 {
		return nil
	}
	var msg chatMessageBody
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil
	}
	return &msg
}

// textFromContent handles the two content shapes: a structured array of
// parts, or a single string.
func textFromContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err == nil {
		var joined string
		for _, p := range parts {
			var s string
			if err := json.Unmarshal(p, &s); err == nil {
				joined += s
				continue
			}
			var part contentPart
			if err := json.Unmarshal(p, &part); err != nil {
				continue
			}
			if part.Type != "" && part.Type != "text" {
				continue
			}
			joined += part.Text
		}
		return joined
	}

	return stringFromRaw(raw)
}

func stringFromRaw(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}
