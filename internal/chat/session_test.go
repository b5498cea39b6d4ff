package chat

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knightafter/openClaw-web-interface/internal/domain"
	"github.com/knightafter/openClaw-web-interface/internal/gateway"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeGateway satisfies the Gateway interface with a real notifier so
// tests can drive the session through the same channels the client uses.
type fakeGateway struct {
	notifier *gateway.Notifier

	mu         sync.Mutex
	sent       []string
	history    []domain.Message
	historyErr error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{notifier: gateway.NewNotifier(discardLogger())}
}

func (f *fakeGateway) SendMessage(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
}

func (f *fakeGateway) History(_ context.Context, _ int) ([]domain.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, f.historyErr
}

func (f *fakeGateway) Notifier() *gateway.Notifier { return f.notifier }

func (f *fakeGateway) sentMessages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	copy(out, f.sent)
	return out
}

// emitMessage pushes a normalized message through the notifier the way
// the stream reassembler would.
func (f *fakeGateway) emitMessage(msg domain.Message) {
	f.notifier.EmitMessage(msg)
}

func newTestSession(t *testing.T, cfg Config) (*Session, *fakeGateway) {
	t.Helper()
	fg := newFakeGateway()
	s := NewSession(fg, cfg, discardLogger())
	t.Cleanup(s.Close)
	return s, fg
}

func TestSessionSendAppendsAndForwards(t *testing.T) {
	s, fg := newTestSession(t, Config{})

	s.Send("  hello there  ")

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.RoleUser, msgs[0].Role)
	assert.Equal(t, "hello there", msgs[0].Content)
	assert.NotEmpty(t, msgs[0].ID)
	assert.True(t, s.Typing())
	assert.Equal(t, []string{"hello there"}, fg.sentMessages())
}

func TestSessionSendIgnoresBlank(t *testing.T) {
	s, fg := newTestSession(t, Config{})

	s.Send("   ")

	assert.Empty(t, s.Messages())
	assert.Empty(t, fg.sentMessages())
	assert.False(t, s.Typing())
}

func TestSessionIncomingMessageClearsTyping(t *testing.T) {
	s, fg := newTestSession(t, Config{})

	s.Send("question")
	require.True(t, s.Typing())

	fg.emitMessage(domain.Message{ID: "run-1", Role: domain.RoleAssistant, Content: "answer", Timestamp: time.Now()})

	assert.False(t, s.Typing())
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "answer", msgs[1].Content)
}

func TestSessionEmptyMessageOnlyClearsTyping(t *testing.T) {
	s, fg := newTestSession(t, Config{})

	s.Send("question")
	fg.emitMessage(domain.Message{ID: "run-1", Role: domain.RoleAssistant, Timestamp: time.Now()})

	assert.False(t, s.Typing())
	assert.Len(t, s.Messages(), 1, "empty messages stay out of the log")
}

func TestSessionDuplicateIDsDropped(t *testing.T) {
	s, fg := newTestSession(t, Config{})

	msg := domain.Message{ID: "m1", Role: domain.RoleAssistant, Content: "once", Timestamp: time.Now()}
	fg.emitMessage(msg)
	fg.emitMessage(msg)

	assert.Len(t, s.Messages(), 1)
}

func TestSessionDeltasUpdateStreamText(t *testing.T) {
	s, fg := newTestSession(t, Config{})

	fg.notifier.EmitDelta("r1", "He")
	fg.notifier.EmitDelta("r1", "Hello")
	assert.Equal(t, "Hello", s.StreamText())

	fg.emitMessage(domain.Message{ID: "r1", Role: domain.RoleAssistant, Content: "Hello", Timestamp: time.Now()})
	assert.Empty(t, s.StreamText(), "stream text clears on the finished message")
}

func TestSessionErrorNotification(t *testing.T) {
	s, fg := newTestSession(t, Config{})

	s.Send("question")
	fg.notifier.EmitError("**Connection lost** — Please wait while the client reconnects.")

	assert.False(t, s.Typing())
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].IsError)
	assert.Contains(t, msgs[1].Content, "Connection lost")
}

func TestSessionStatusTracked(t *testing.T) {
	s, fg := newTestSession(t, Config{})
	assert.Equal(t, domain.StateDisconnected, s.Status())

	fg.notifier.EmitStatus(domain.StateConnected)
	assert.Equal(t, domain.StateConnected, s.Status())
}

func TestSessionTypingBackstop(t *testing.T) {
	s, _ := newTestSession(t, Config{TypingTimeout: 30 * time.Millisecond})

	s.Send("question")
	require.True(t, s.Typing())

	require.Eventually(t, func() bool { return !s.Typing() }, time.Second, 5*time.Millisecond)

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].IsError)
	assert.Contains(t, msgs[1].Content, "Request timed out")
}

func TestSessionBackstopCancelledByResponse(t *testing.T) {
	s, fg := newTestSession(t, Config{TypingTimeout: 50 * time.Millisecond})

	s.Send("question")
	fg.emitMessage(domain.Message{ID: "r1", Role: domain.RoleAssistant, Content: "fast", Timestamp: time.Now()})

	time.Sleep(100 * time.Millisecond)
	for _, m := range s.Messages() {
		assert.NotContains(t, m.Content, "Request timed out")
	}
}

func TestSessionRateLimit(t *testing.T) {
	s, fg := newTestSession(t, Config{SendsPerMin: 60, SendBurst: 2})

	s.Send("one")
	s.Send("two")
	s.Send("three") // over burst

	assert.Equal(t, []string{"one", "two"}, fg.sentMessages())

	msgs := s.Messages()
	last := msgs[len(msgs)-1]
	assert.True(t, last.IsError)
	assert.Contains(t, last.Content, "too fast")
}

func TestSessionLoadHistory(t *testing.T) {
	s, fg := newTestSession(t, Config{})
	fg.history = []domain.Message{
		{ID: "h1", Role: domain.RoleUser, Content: "earlier", Timestamp: time.Now()},
		{ID: "h2", Role: domain.RoleAssistant, Content: "reply", Timestamp: time.Now()},
	}

	s.LoadHistory(context.Background())
	s.LoadHistory(context.Background()) // duplicate IDs merge cleanly

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "earlier", msgs[0].Content)
}

func TestSessionLoadHistoryFailureIsSilent(t *testing.T) {
	s, fg := newTestSession(t, Config{})
	fg.historyErr = errors.New("gateway down")

	s.LoadHistory(context.Background())

	assert.Empty(t, s.Messages())
}

func TestSessionHistoryBreakerTrips(t *testing.T) {
	s, fg := newTestSession(t, Config{})
	fg.historyErr = errors.New("gateway down")

	for i := 0; i < 5; i++ {
		s.LoadHistory(context.Background())
	}

	// After consecutive failures the breaker is open: a now-healthy
	// gateway is not called until the cool-off elapses.
	fg.mu.Lock()
	fg.historyErr = nil
	fg.history = []domain.Message{{ID: "h1", Role: domain.RoleUser, Content: "late", Timestamp: time.Now()}}
	fg.mu.Unlock()

	s.LoadHistory(context.Background())
	assert.Empty(t, s.Messages(), "open breaker short-circuits the fetch")
}

func TestSessionResubscribeIdempotent(t *testing.T) {
	s, fg := newTestSession(t, Config{})

	s.Subscribe()
	s.Subscribe()

	fg.emitMessage(domain.Message{ID: "m1", Role: domain.RoleAssistant, Content: "hi", Timestamp: time.Now()})

	assert.Len(t, s.Messages(), 1, "stacked subscriptions would still dedup by ID, but only one set may exist")
}

func TestSessionUpdatesSignal(t *testing.T) {
	s, fg := newTestSession(t, Config{})

	fg.emitMessage(domain.Message{ID: "m1", Role: domain.RoleAssistant, Content: "hi", Timestamp: time.Now()})

	select {
	case <-s.Updates():
	case <-time.After(time.Second):
		t.Fatal("no update signal")
	}
}

func TestSessionClear(t *testing.T) {
	s, fg := newTestSession(t, Config{})
	fg.emitMessage(domain.Message{ID: "m1", Role: domain.RoleAssistant, Content: "hi", Timestamp: time.Now()})

	s.Clear()

	assert.Empty(t, s.Messages())

	// Cleared IDs may legitimately reappear (e.g. history reload).
	fg.emitMessage(domain.Message{ID: "m1", Role: domain.RoleAssistant, Content: "hi", Timestamp: time.Now()})
	assert.Len(t, s.Messages(), 1)
}
