// Package gateway implements the client side of the OpenClaw gateway
// WebSocket protocol: connect handshake with challenge, multiplexed
// request/response RPC over one shared connection, server-pushed event
// demultiplexing with incremental chat streaming, and reconnection with
// backoff.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/knightafter/openClaw-web-interface/internal/domain"
	"github.com/knightafter/openClaw-web-interface/internal/protocol"
)

// Identity reported in the connect handshake.
const (
	clientID      = "openclaw-chat"
	clientVersion = "dev"
	clientMode    = "webchat"
	clientRole    = "operator"
)

// DefaultSessionKey is used when the configuration does not name one.
const DefaultSessionKey = "agent:main:web"

// Defaults for Config zero values.
const (
	defaultRequestTimeout = 30 * time.Second
	defaultConnectTimeout = 10 * time.Second
	defaultChallengeWait  = 3 * time.Second
	defaultReconnectBase  = time.Second
	defaultMaxReconnects  = 5
	writeTimeout          = 5 * time.Second
)

// User-facing notifications for connection-level failures.
const (
	authFailedText      = "**Authentication failed** — Your gateway token is invalid. Check `~/.openclaw/openclaw.json` for the correct token, then reconnect."
	connectionLostText  = "**Connection lost** — Please wait while the client reconnects."
	reconnectFailedText = "**Connection lost** — Could not reconnect after multiple attempts."
)

// Config holds gateway client settings. Zero values fall back to the
// package defaults above.
type Config struct {
	URL        string // gateway address; http(s) schemes are rewritten to ws(s)
	Token      string // bearer token for the connect handshake
	SessionKey string

	RequestTimeout time.Duration // per-RPC deadline
	ConnectTimeout time.Duration // overall dial+challenge+handshake deadline
	ChallengeWait  time.Duration // how long to wait for connect.challenge before proceeding
	ReconnectBase  time.Duration // reconnect delay is base × attempt number
	MaxReconnects  int
}

func (c Config) withDefaults() Config {
	if c.SessionKey == "" {
		c.SessionKey = DefaultSessionKey
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = defaultConnectTimeout
	}
	if c.ChallengeWait <= 0 {
		c.ChallengeWait = defaultChallengeWait
	}
	if c.ReconnectBase <= 0 {
		c.ReconnectBase = defaultReconnectBase
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = defaultMaxReconnects
	}
	return c
}

// Client is the protocol client facade. One Client owns one logical
// gateway connection; the application root constructs it once and hands
// it to consumers by reference. Do not construct a second Client
// against the same endpoint while one is live.
type Client struct {
	cfg      Config
	logger   *slog.Logger
	notifier *Notifier
	pending  *pendingTable
	stream   *streamReassembler

	mu           sync.Mutex
	conn         *websocket.Conn
	connected    bool
	closed       bool // explicit Disconnect; suppresses reconnection
	reconnecting bool
	attempts     int
	challengeCh  chan protocol.ChallengePayload // non-nil only while awaiting the challenge

	writeMu sync.Mutex
}

// New creates a gateway client. It does not connect.
func New(cfg Config, logger *slog.Logger) *Client {
	logger = logger.With("component", "gateway-client")
	notifier := NewNotifier(logger)
	return &Client{
		cfg:      cfg.withDefaults(),
		logger:   logger,
		notifier: notifier,
		pending:  newPendingTable(),
		stream:   newStreamReassembler(notifier, logger),
	}
}

// Notifier exposes the subscription surface for messages, deltas,
// status changes and errors.
func (c *Client) Notifier() *Notifier { return c.notifier }

// SessionKey returns the session key used for chat RPCs.
func (c *Client) SessionKey() string { return c.cfg.SessionKey }

// Connected reports whether the connect handshake has completed and the
// socket is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connect opens the socket, waits for the server's connect.challenge
// event (or a fallback timer, for servers that omit it), and performs
// the connect handshake. On success the reconnect attempt counter
// resets. Calling Connect while already connected is a no-op.
//
// A connection that never reached the connected state does not
// auto-reconnect on failure: the caller owns retry policy until the
// first successful handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return nil
	}
	c.closed = false
	c.mu.Unlock()

	wsURL := normalizeURL(c.cfg.URL)
	c.logger.Info("connecting to gateway", "url", wsURL)
	c.notifier.EmitStatus(domain.StateConnecting)

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	if err != nil {
		c.notifier.EmitStatus(domain.StateError)
		return domain.WrapOp("gateway.connect", err)
	}

	challengeCh := make(chan protocol.ChallengePayload, 1)
	c.mu.Lock()
	c.conn = conn
	c.challengeCh = challengeCh
	c.mu.Unlock()

	go c.readLoop(conn)

	// Race the inbound challenge against a fallback timer; either
	// outcome proceeds to the handshake. Tolerates servers that never
	// send a challenge without blocking the connect indefinitely.
	select {
	case ch := <-challengeCh:
		c.logger.Debug("received connect.challenge", "nonce", ch.Nonce)
	case <-time.After(c.cfg.ChallengeWait):
		c.logger.Debug("no connect.challenge received, sending connect anyway")
	case <-dialCtx.Done():
		conn.Close(websocket.StatusNormalClosure, "connect cancelled")
		return domain.WrapOp("gateway.connect", dialCtx.Err())
	}
	c.mu.Lock()
	c.challengeCh = nil
	c.mu.Unlock()

	if err := c.handshake(dialCtx, conn); err != nil {
		conn.Close(websocket.StatusNormalClosure, "handshake failed")
		return err
	}

	c.mu.Lock()
	c.connected = true
	c.attempts = 0
	c.mu.Unlock()

	c.logger.Info("connected to gateway")
	c.notifier.EmitStatus(domain.StateConnected)
	return nil
}

// handshake issues the connect request. It goes through requestOn, the
// low-level path with no connected-state guard: by definition this
// request is sent before the client considers itself connected.
func (c *Client) handshake(ctx context.Context, conn *websocket.Conn) error {
	params := protocol.ConnectParams{
		MinProtocol: protocol.ProtocolVersion,
		MaxProtocol: protocol.ProtocolVersion,
		Client: protocol.ClientInfo{
			ID:       clientID,
			Version:  clientVersion,
			Platform: runtime.GOOS,
			Mode:     clientMode,
		},
		Role:   clientRole,
		Scopes: []string{"operator.admin"},
		Auth:   protocol.ConnectAuth{Token: c.cfg.Token},
	}
	if _, err := c.requestOn(ctx, conn, protocol.MethodConnect, params); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrHandshakeFailed, err)
	}
	return nil
}

// Call invokes an arbitrary gateway RPC method. It fails immediately
// with ErrNotConnected unless the handshake has completed; there is no
// silent queuing. Concurrent calls are multiplexed over the shared
// connection and resolve independently, possibly out of order.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	conn, connected := c.conn, c.connected
	c.mu.Unlock()
	if !connected || conn == nil {
		return nil, domain.NewDomainError("gateway.call", domain.ErrNotConnected, "cannot send "+method)
	}
	return c.requestOn(ctx, conn, method, params)
}

// requestOn registers a pending entry, transmits the request frame and
// awaits the correlated response. Registration happens before the
// write so an instantaneous response cannot be lost.
func (c *Client) requestOn(ctx context.Context, conn *websocket.Conn, method string, params any) (json.RawMessage, error) {
	id := newID()
	frame := protocol.NewRequest(id, method, params)

	ch := c.pending.register(id, c.cfg.RequestTimeout)
	c.logger.Debug("sending request", "method", method, "id", id)

	if err := c.write(ctx, conn, frame); err != nil {
		c.pending.reject(id, err)
		return nil, domain.WrapOp("gateway.send "+method, err)
	}

	select {
	case res := <-ch:
		return res.payload, res.err
	case <-ctx.Done():
		c.pending.reject(id, ctx.Err())
		return nil, ctx.Err()
	}
}

func (c *Client) write(ctx context.Context, conn *websocket.Conn, frame protocol.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(wctx, conn, frame)
}

// SendMessage issues a chat.send RPC with a fresh idempotency key. It
// is fire-and-forget from the caller's perspective: failures surface
// through the error notification channel as a classified, user-facing
// message rather than a returned error.
func (c *Client) SendMessage(text string) {
	if !c.Connected() {
		c.logger.Warn("sendMessage while not connected")
		c.notifier.EmitError(connectionLostText)
		return
	}

	params := protocol.ChatSendParams{
		SessionKey:     c.cfg.SessionKey,
		Message:        text,
		IdempotencyKey: newID(),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
		defer cancel()
		if _, err := c.Call(ctx, protocol.MethodChatSend, params); err != nil {
			c.logger.Error("chat.send failed", "error", err)
			switch {
			case errors.Is(err, domain.ErrNotConnected),
				errors.Is(err, domain.ErrConnectionClosed),
				errors.Is(err, domain.ErrTimeout),
				errors.Is(err, context.DeadlineExceeded):
				c.notifier.EmitError(connectionLostText)
			default:
				_, friendly := ClassifyModelError(err.Error())
				c.notifier.EmitError(friendly)
			}
		}
	}()
}

// History fetches recent messages for the configured session. The
// response shape is parsed best effort; unparseable entries are
// dropped.
func (c *Client) History(ctx context.Context, limit int) ([]domain.Message, error) {
	payload, err := c.Call(ctx, protocol.MethodChatHistory, protocol.ChatHistoryParams{
		SessionKey: c.cfg.SessionKey,
		Limit:      limit,
	})
	if err != nil {
		return nil, domain.WrapOp("gateway.history", err)
	}
	return MessagesFromHistory(payload), nil
}

// Disconnect closes the connection, flushes pending requests and
// suppresses any further auto-reconnection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closed = true
	c.connected = false
	conn := c.conn
	c.conn = nil
	c.challengeCh = nil
	c.mu.Unlock()

	c.pending.flushAll(domain.NewDomainError("gateway.disconnect", domain.ErrConnectionClosed, "client disconnect"))
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "client disconnect")
	}
	c.notifier.EmitStatus(domain.StateDisconnected)
}

// readLoop reads frames until the connection dies. Malformed frames are
// logged and dropped: one bad frame must not poison the session.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(context.Background())
		if err != nil {
			c.handleClose(conn, err)
			return
		}
		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		c.handleFrame(&frame)
	}
}

func (c *Client) handleFrame(frame *protocol.Frame) {
	switch frame.Type {
	case protocol.FrameTypeResponse:
		if frame.OK {
			c.pending.resolve(frame.ID, frame.Payload)
			return
		}
		msg := "unknown error"
		if frame.Error != nil && frame.Error.Message != "" {
			msg = frame.Error.Message
		}
		c.pending.reject(frame.ID, errors.New(msg))
	case protocol.FrameTypeEvent:
		c.handleEvent(frame)
	default:
		c.logger.Debug("ignoring frame", "type", frame.Type)
	}
}

func (c *Client) handleEvent(frame *protocol.Frame) {
	switch frame.Event {
	case protocol.EventConnectChallenge:
		var p protocol.ChallengePayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			c.logger.Warn("malformed connect.challenge payload", "error", err)
		}
		c.mu.Lock()
		ch := c.challengeCh
		c.challengeCh = nil
		c.mu.Unlock()
		if ch != nil {
			ch <- p
		} else {
			c.logger.Debug("connect.challenge outside connect phase, ignoring")
		}
	case protocol.EventChat:
		var p protocol.ChatPayload
		if err := json.Unmarshal(frame.Payload, &p); err != nil {
			c.logger.Warn("dropping chat event with malformed payload", "error", err)
			return
		}
		c.stream.handleChat(&p)
	case protocol.EventTick:
		// Server heartbeat.
	case protocol.EventAgent:
		c.handleAgentEvent(frame.Payload)
	default:
		c.logger.Debug("unhandled event", "event", frame.Event)
	}
}

// handleAgentEvent surfaces errors from agent lifecycle events; other
// phases are informational only.
func (c *Client) handleAgentEvent(payload json.RawMessage) {
	var p protocol.AgentPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.logger.Warn("dropping agent event with malformed payload", "error", err)
		return
	}
	phase := p.Phase
	if phase == "" {
		phase = p.Lifecycle
	}
	c.logger.Debug("agent event", "phase", phase)
	if phase != "error" && phase != "failed" {
		return
	}
	c.notifier.EmitError(agentErrorText(&p))
}

func agentErrorText(p *protocol.AgentPayload) string {
	var detailed struct {
		Message string `json:"message"`
	}
	if len(p.Error) > 0 && json.Unmarshal(p.Error, &detailed) == nil && detailed.Message != "" {
		return detailed.Message
	}
	if p.ErrorMessage != "" {
		return p.ErrorMessage
	}
	if s := stringFromRaw(p.Error); s != "" {
		return s
	}
	return "Agent encountered an error"
}

// handleClose runs once per dead connection, on its reader goroutine.
// It distinguishes the permanent authentication failure (close code
// 1008 with an "unauthorized" reason, which a retry cannot heal) from
// transient closes, and only auto-reconnects when the connection had
// previously completed its handshake.
func (c *Client) handleClose(conn *websocket.Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// A stale reader from an earlier connection; the current
		// connection's state is not ours to touch.
		c.mu.Unlock()
		return
	}
	wasConnected := c.connected
	c.connected = false
	c.conn = nil
	c.challengeCh = nil
	closed := c.closed
	c.mu.Unlock()

	c.pending.flushAll(domain.NewDomainError("gateway.close", domain.ErrConnectionClosed, "connection closed"))

	if closed {
		return // explicit Disconnect already notified
	}

	code := websocket.CloseStatus(err)
	reason := ""
	var ce websocket.CloseError
	if errors.As(err, &ce) {
		reason = ce.Reason
	}

	if code == websocket.StatusPolicyViolation && strings.Contains(strings.ToLower(reason), "unauthorized") {
		c.logger.Error("gateway rejected credentials, not reconnecting", "code", int(code), "reason", reason)
		c.notifier.EmitStatus(domain.StateError)
		c.notifier.EmitError(authFailedText)
		return
	}

	c.logger.Warn("gateway connection closed", "code", int(code), "reason", reason, "error", err)
	c.notifier.EmitStatus(domain.StateDisconnected)

	if wasConnected {
		c.scheduleReconnect()
	}
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.reconnecting || c.closed {
		c.mu.Unlock()
		return
	}
	c.reconnecting = true
	c.mu.Unlock()
	go c.reconnectLoop()
}

// reconnectLoop retries the full connect path with a monotonically
// increasing delay (base × attempt number) up to the attempt budget. A
// successful handshake resets the counter; an auth-classified failure
// stops immediately regardless of remaining budget.
func (c *Client) reconnectLoop() {
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return
		}
		if c.attempts >= c.cfg.MaxReconnects {
			c.mu.Unlock()
			c.logger.Error("giving up after max reconnect attempts", "attempts", c.cfg.MaxReconnects)
			c.notifier.EmitStatus(domain.StateError)
			c.notifier.EmitError(reconnectFailedText)
			return
		}
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		delay := time.Duration(attempt) * c.cfg.ReconnectBase
		c.logger.Info("reconnecting", "attempt", attempt, "delay", delay)
		time.Sleep(delay)

		err := c.Connect(context.Background())
		if err == nil {
			return // attempt counter was reset by Connect
		}
		if isAuthError(err) {
			c.logger.Error("authentication error on reconnect, giving up", "error", err)
			c.notifier.EmitStatus(domain.StateError)
			c.notifier.EmitError(authFailedText)
			return
		}
		c.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
	}
}

func isAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unauthorized") || strings.Contains(msg, "token mismatch")
}

// normalizeURL rewrites web schemes to their WebSocket analogs and
// defaults bare addresses to ws://.
func normalizeURL(addr string) string {
	switch {
	case strings.HasPrefix(addr, "ws://"), strings.HasPrefix(addr, "wss://"):
		return addr
	case strings.HasPrefix(addr, "http://"):
		return "ws://" + strings.TrimPrefix(addr, "http://")
	case strings.HasPrefix(addr, "https://"):
		return "wss://" + strings.TrimPrefix(addr, "https://")
	default:
		return "ws://" + addr
	}
}
