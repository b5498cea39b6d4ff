// Package chat maintains the client-side state of one chat session:
// the ordered message log, the streaming/waiting indicator, and history
// loading. It sits between the gateway client and the UI.
package chat

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/knightafter/openClaw-web-interface/internal/domain"
	"github.com/knightafter/openClaw-web-interface/internal/gateway"
)

// Backstop: if no terminal event arrives at all, the waiting indicator
// force-clears and a timeout message is synthesized.
const defaultTypingTimeout = 90 * time.Second

const (
	defaultHistoryLimit = 50
	defaultSendsPerMin  = 30
	defaultSendBurst    = 5
)

const (
	typedOutText     = "**Request timed out** — No response received from the AI. This could be a rate limit, network issue, or the model is overloaded. Please try again."
	sendThrottleText = "**Sending too fast** — Slow down a little and try again."
)

// Gateway is the slice of the protocol client this session consumes.
type Gateway interface {
	SendMessage(text string)
	History(ctx context.Context, limit int) ([]domain.Message, error)
	Notifier() *gateway.Notifier
}

// Config holds session-layer settings. Zero values use the defaults.
type Config struct {
	TypingTimeout time.Duration
	HistoryLimit  int
	SendsPerMin   float64
	SendBurst     int
}

func (c Config) withDefaults() Config {
	if c.TypingTimeout <= 0 {
		c.TypingTimeout = defaultTypingTimeout
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaultHistoryLimit
	}
	if c.SendsPerMin <= 0 {
		c.SendsPerMin = defaultSendsPerMin
	}
	if c.SendBurst <= 0 {
		c.SendBurst = defaultSendBurst
	}
	return c
}

// Session is the chat state consumed by the UI. All accessors return
// snapshots; the Updates channel signals that a new snapshot is worth
// taking.
type Session struct {
	gw      Gateway
	cfg     Config
	logger  *slog.Logger
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]domain.Message]
	updates chan struct{}

	mu          sync.Mutex
	messages    []domain.Message
	seen        map[string]bool
	status      domain.ConnectionState
	typing      bool
	streamText  string
	typingTimer *time.Timer
	unsubs      []func()
}

// NewSession creates a session bound to gw and subscribes to its
// notifications.
func NewSession(gw Gateway, cfg Config, logger *slog.Logger) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		gw:      gw,
		cfg:     cfg,
		logger:  logger.With("component", "chat-session"),
		limiter: rate.NewLimiter(rate.Limit(cfg.SendsPerMin)/60.0, cfg.SendBurst),
		updates: make(chan struct{}, 1),
		seen:    make(map[string]bool),
		status:  domain.StateDisconnected,
	}
	s.breaker = gobreaker.NewCircuitBreaker[[]domain.Message](gobreaker.Settings{
		Name:        "chat.history",
		MaxRequests: 1, // allow 1 probe in half-open state
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		},
	})
	s.Subscribe()
	return s
}

// Subscribe (re)attaches the session to the gateway's notification
// channels. Idempotent: a second call replaces the previous
// subscriptions instead of stacking them, so a re-mounting UI can call
// it freely.
func (s *Session) Subscribe() {
	s.mu.Lock()
	old := s.unsubs
	s.unsubs = nil
	s.mu.Unlock()
	for _, unsub := range old {
		unsub()
	}

	n := s.gw.Notifier()
	unsubs := []func(){
		n.SubscribeMessages(s.onMessage),
		n.SubscribeDeltas(s.onDelta),
		n.SubscribeErrors(s.onError),
		n.SubscribeStatus(s.onStatus),
	}

	s.mu.Lock()
	s.unsubs = append(s.unsubs, unsubs...)
	s.mu.Unlock()
}

// Close detaches from the gateway and stops timers.
func (s *Session) Close() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.stopTypingTimerLocked()
	s.mu.Unlock()
	for _, unsub := range unsubs {
		unsub()
	}
}

// Updates signals when session state has changed. The channel carries
// at most one pending signal; consumers drain it and re-snapshot.
func (s *Session) Updates() <-chan struct{} { return s.updates }

// Messages returns a snapshot of the message log.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Typing reports whether the waiting indicator is active.
func (s *Session) Typing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.typing
}

// StreamText returns the in-progress assistant text, or "" when no run
// is streaming.
func (s *Session) StreamText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamText
}

// Status returns the last observed connection state.
func (s *Session) Status() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Send appends the user message locally and issues the gateway send.
// Blank input is ignored; sends beyond the throttle surface a local
// error message instead of reaching the gateway.
func (s *Session) Send(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if !s.limiter.Allow() {
		s.logger.Warn("outbound send throttled")
		s.append(domain.Message{
			ID:        newID(),
			Role:      domain.RoleAssistant,
			Content:   sendThrottleText,
			Timestamp: time.Now(),
			IsError:   true,
		})
		return
	}

	s.append(domain.Message{
		ID:        newID(),
		Role:      domain.RoleUser,
		Content:   text,
		Timestamp: time.Now(),
	})
	s.startTyping()
	s.gw.SendMessage(text)
}

// LoadHistory merges recent server-side history into the log, best
// effort: failures are logged, not surfaced. Repeated failures trip a
// circuit breaker so a struggling gateway is not hammered on every
// reconnect.
func (s *Session) LoadHistory(ctx context.Context) {
	msgs, err := s.breaker.Execute(func() ([]domain.Message, error) {
		return s.gw.History(ctx, s.cfg.HistoryLimit)
	})
	if err != nil {
		s.logger.Debug("no history loaded", "error", err)
		return
	}
	for _, m := range msgs {
		s.append(m)
	}
}

// Clear empties the message log.
func (s *Session) Clear() {
	s.mu.Lock()
	s.messages = nil
	s.seen = make(map[string]bool)
	s.mu.Unlock()
	s.signal()
}

func (s *Session) onMessage(msg domain.Message) {
	s.clearTyping()
	// Empty messages exist only to clear the waiting indicator; they
	// are not part of the log.
	if strings.TrimSpace(msg.Content) == "" {
		s.signal()
		return
	}
	s.append(msg)
}

func (s *Session) onDelta(_ string, fullText string) {
	s.mu.Lock()
	s.streamText = fullText
	s.mu.Unlock()
	s.signal()
}

func (s *Session) onError(text string) {
	s.clearTyping()
	s.append(domain.Message{
		ID:        newID(),
		Role:      domain.RoleAssistant,
		Content:   text,
		Timestamp: time.Now(),
		IsError:   true,
	})
}

func (s *Session) onStatus(state domain.ConnectionState) {
	s.mu.Lock()
	s.status = state
	s.mu.Unlock()
	s.signal()
}

// append adds a message unless its ID was already seen. Duplicate
// suppression keeps idempotent re-subscription and replayed history
// from double-printing.
func (s *Session) append(msg domain.Message) {
	s.mu.Lock()
	if msg.ID != "" && s.seen[msg.ID] {
		s.mu.Unlock()
		return
	}
	if msg.ID != "" {
		s.seen[msg.ID] = true
	}
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.signal()
}

func (s *Session) startTyping() {
	s.mu.Lock()
	s.typing = true
	s.streamText = ""
	s.stopTypingTimerLocked()
	s.typingTimer = time.AfterFunc(s.cfg.TypingTimeout, s.typingTimedOut)
	s.mu.Unlock()
	s.signal()
}

func (s *Session) clearTyping() {
	s.mu.Lock()
	s.typing = false
	s.streamText = ""
	s.stopTypingTimerLocked()
	s.mu.Unlock()
	s.signal()
}

func (s *Session) stopTypingTimerLocked() {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
}

func (s *Session) typingTimedOut() {
	s.mu.Lock()
	if !s.typing {
		s.mu.Unlock()
		return
	}
	s.typing = false
	s.streamText = ""
	s.typingTimer = nil
	s.mu.Unlock()

	s.logger.Warn("no terminal event before typing backstop")
	s.append(domain.Message{
		ID:        newID(),
		Role:      domain.RoleAssistant,
		Content:   typedOutText,
		Timestamp: time.Now(),
		IsError:   true,
	})
}

func (s *Session) signal() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// newID generates a unique identifier for locally-created messages.
func newID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
