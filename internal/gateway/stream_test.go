package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knightafter/openClaw-web-interface/internal/domain"
	"github.com/knightafter/openClaw-web-interface/internal/protocol"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// capture records every notification a test emits.
type capture struct {
	mu       sync.Mutex
	messages []domain.Message
	deltas   []string
	errors   []string
	statuses []domain.ConnectionState
}

func newCapture(n *Notifier) *capture {
	c := &capture{}
	n.SubscribeMessages(func(m domain.Message) {
		c.mu.Lock()
		c.messages = append(c.messages, m)
		c.mu.Unlock()
	})
	n.SubscribeDeltas(func(_, fullText string) {
		c.mu.Lock()
		c.deltas = append(c.deltas, fullText)
		c.mu.Unlock()
	})
	n.SubscribeErrors(func(text string) {
		c.mu.Lock()
		c.errors = append(c.errors, text)
		c.mu.Unlock()
	})
	n.SubscribeStatus(func(s domain.ConnectionState) {
		c.mu.Lock()
		c.statuses = append(c.statuses, s)
		c.mu.Unlock()
	})
	return c
}

func (c *capture) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *capture) Deltas() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.deltas))
	copy(out, c.deltas)
	return out
}

func (c *capture) Errors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.errors))
	copy(out, c.errors)
	return out
}

func (c *capture) Statuses() []domain.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.ConnectionState, len(c.statuses))
	copy(out, c.statuses)
	return out
}

func newTestStream(t *testing.T) (*streamReassembler, *capture) {
	t.Helper()
	n := NewNotifier(discardLogger())
	return newStreamReassembler(n, discardLogger()), newCapture(n)
}

func chatEvent(runID, state, text string) *protocol.ChatPayload {
	p := &protocol.ChatPayload{RunID: runID, State: state}
	if text != "" {
		p.Message = json.RawMessage(`{"content":[{"type":"text","text":` + mustJSON(text) + `}]}`)
	}
	return p
}

func mustJSON(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func TestStreamDeltaReplacesBuffer(t *testing.T) {
	st, rec := newTestStream(t)

	st.handleChat(chatEvent("r1", protocol.ChatStateDelta, "He"))
	st.handleChat(chatEvent("r1", protocol.ChatStateDelta, "Hello"))

	assert.Equal(t, []string{"He", "Hello"}, rec.Deltas(),
		"each delta carries the full accumulated text")
	assert.Empty(t, rec.Messages())
}

func TestStreamFinalTextWins(t *testing.T) {
	st, rec := newTestStream(t)

	st.handleChat(chatEvent("r1", protocol.ChatStateDelta, "partial"))
	st.handleChat(chatEvent("r1", protocol.ChatStateFinal, "authoritative"))

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "authoritative", msgs[0].Content)
	assert.Equal(t, "r1", msgs[0].ID)
	assert.Equal(t, domain.RoleAssistant, msgs[0].Role)
	assert.False(t, msgs[0].IsError)
}

func TestStreamEmptyFinalUsesBuffer(t *testing.T) {
	st, rec := newTestStream(t)

	st.handleChat(chatEvent("r1", protocol.ChatStateDelta, "Hello"))
	st.handleChat(chatEvent("r1", protocol.ChatStateFinal, ""))

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "Hello", msgs[0].Content)
}

func TestStreamEmptyFinalNoDeltasPlaceholder(t *testing.T) {
	st, rec := newTestStream(t)

	st.handleChat(chatEvent("r1", protocol.ChatStateFinal, ""))

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "*Task completed.*", msgs[0].Content)
}

func TestStreamEmptyFinalAfterEmptyDeltas(t *testing.T) {
	st, rec := newTestStream(t)

	// A delta arrived but extracted no text; the placeholder must not
	// appear, yet a message is still emitted to clear the indicator.
	st.handleChat(chatEvent("r1", protocol.ChatStateDelta, ""))
	st.handleChat(chatEvent("r1", protocol.ChatStateFinal, ""))

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "", msgs[0].Content)
}

func TestStreamErrorClassified(t *testing.T) {
	st, rec := newTestStream(t)

	p := chatEvent("r1", protocol.ChatStateError, "")
	p.ErrorMessage = "429 too many requests"
	st.handleChat(p)

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsError)
	assert.Equal(t, msgRateLimit, msgs[0].Content)
}

func TestStreamErrorWithoutMessage(t *testing.T) {
	st, rec := newTestStream(t)

	st.handleChat(chatEvent("r1", protocol.ChatStateError, ""))

	msgs := rec.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsError)
	assert.Equal(t, "**Error:** Unknown error", msgs[0].Content)
}

func TestStreamAbortedSilent(t *testing.T) {
	st, rec := newTestStream(t)

	st.handleChat(chatEvent("r1", protocol.ChatStateDelta, "partial"))
	st.handleChat(chatEvent("r1", protocol.ChatStateAborted, ""))

	assert.Empty(t, rec.Messages())
	assert.Empty(t, rec.Errors())
}

func TestStreamDoubleTerminalIsNoOp(t *testing.T) {
	st, rec := newTestStream(t)

	st.handleChat(chatEvent("r1", protocol.ChatStateFinal, "done"))
	st.handleChat(chatEvent("r1", protocol.ChatStateFinal, "done"))
	st.handleChat(chatEvent("r1", protocol.ChatStateError, ""))

	assert.Len(t, rec.Messages(), 1)
}

func TestStreamBufferClearedBetweenRuns(t *testing.T) {
	st, rec := newTestStream(t)

	st.handleChat(chatEvent("r1", protocol.ChatStateDelta, "first run"))
	st.handleChat(chatEvent("r1", protocol.ChatStateFinal, ""))

	// The next run with an empty final and no deltas must not see the
	// previous run's buffer.
	st.handleChat(chatEvent("r2", protocol.ChatStateFinal, ""))

	msgs := rec.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first run", msgs[0].Content)
	assert.Equal(t, "*Task completed.*", msgs[1].Content)
}

func TestStreamUnknownStateIgnored(t *testing.T) {
	st, rec := newTestStream(t)

	st.handleChat(chatEvent("r1", "thinking", "hmm"))

	assert.Empty(t, rec.Messages())
	assert.Empty(t, rec.Deltas())
}
