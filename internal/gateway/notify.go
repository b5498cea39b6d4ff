package gateway

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/knightafter/openClaw-web-interface/internal/domain"
)

type messageSub struct {
	id      uint64
	handler func(domain.Message)
}

type deltaSub struct {
	id      uint64
	handler func(runID, fullText string)
}

type statusSub struct {
	id      uint64
	handler func(domain.ConnectionState)
}

type errorSub struct {
	id      uint64
	handler func(text string)
}

// Notifier fans client notifications out to registered subscribers.
// Unlike a single mutable callback slot, subscriptions accumulate and
// are removed individually via the returned unsubscribe function, so a
// re-mounting UI cannot silently replace another collaborator's handler.
//
// Handlers run synchronously on the client's reader goroutine: delta
// notifications for a run are therefore delivered in the order the
// frames arrived. Handlers must not block.
type Notifier struct {
	mu         sync.RWMutex
	nextID     atomic.Uint64
	msgSubs    []messageSub
	deltaSubs  []deltaSub
	statusSubs []statusSub
	errSubs    []errorSub
	logger     *slog.Logger
}

// NewNotifier creates a notifier.
func NewNotifier(logger *slog.Logger) *Notifier {
	return &Notifier{logger: logger}
}

// SubscribeMessages registers a handler for normalized assistant/user
// messages. Returns an unsubscribe function.
func (n *Notifier) SubscribeMessages(handler func(domain.Message)) func() {
	id := n.nextID.Add(1)
	n.mu.Lock()
	n.msgSubs = append(n.msgSubs, messageSub{id: id, handler: handler})
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, s := range n.msgSubs {
			if s.id == id {
				n.msgSubs = append(n.msgSubs[:i], n.msgSubs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeDeltas registers a handler for incremental streaming updates.
// fullText is the complete accumulated text so far, not an increment.
func (n *Notifier) SubscribeDeltas(handler func(runID, fullText string)) func() {
	id := n.nextID.Add(1)
	n.mu.Lock()
	n.deltaSubs = append(n.deltaSubs, deltaSub{id: id, handler: handler})
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, s := range n.deltaSubs {
			if s.id == id {
				n.deltaSubs = append(n.deltaSubs[:i], n.deltaSubs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeStatus registers a handler for connection state changes.
func (n *Notifier) SubscribeStatus(handler func(domain.ConnectionState)) func() {
	id := n.nextID.Add(1)
	n.mu.Lock()
	n.statusSubs = append(n.statusSubs, statusSub{id: id, handler: handler})
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, s := range n.statusSubs {
			if s.id == id {
				n.statusSubs = append(n.statusSubs[:i], n.statusSubs[i+1:]...)
				return
			}
		}
	}
}

// SubscribeErrors registers a handler for user-facing error text
// (markdown) that is not tied to a specific message.
func (n *Notifier) SubscribeErrors(handler func(text string)) func() {
	id := n.nextID.Add(1)
	n.mu.Lock()
	n.errSubs = append(n.errSubs, errorSub{id: id, handler: handler})
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		for i, s := range n.errSubs {
			if s.id == id {
				n.errSubs = append(n.errSubs[:i], n.errSubs[i+1:]...)
				return
			}
		}
	}
}

// EmitMessage dispatches a finished message to all subscribers.
func (n *Notifier) EmitMessage(msg domain.Message) {
	n.mu.RLock()
	subs := make([]messageSub, len(n.msgSubs))
	copy(subs, n.msgSubs)
	n.mu.RUnlock()
	for _, s := range subs {
		n.safeCall(func() { s.handler(msg) })
	}
}

// EmitDelta dispatches an in-progress streaming update. fullText is the
// complete accumulated text, not an increment.
func (n *Notifier) EmitDelta(runID, fullText string) {
	n.mu.RLock()
	subs := make([]deltaSub, len(n.deltaSubs))
	copy(subs, n.deltaSubs)
	n.mu.RUnlock()
	for _, s := range subs {
		n.safeCall(func() { s.handler(runID, fullText) })
	}
}

// EmitStatus dispatches a connection state change.
func (n *Notifier) EmitStatus(state domain.ConnectionState) {
	n.mu.RLock()
	subs := make([]statusSub, len(n.statusSubs))
	copy(subs, n.statusSubs)
	n.mu.RUnlock()
	for _, s := range subs {
		n.safeCall(func() { s.handler(state) })
	}
}

// EmitError dispatches user-facing error text not tied to a message.
func (n *Notifier) EmitError(text string) {
	n.mu.RLock()
	subs := make([]errorSub, len(n.errSubs))
	copy(subs, n.errSubs)
	n.mu.RUnlock()
	for _, s := range subs {
		n.safeCall(func() { s.handler(text) })
	}
}

func (n *Notifier) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("notification handler panicked", "panic", r)
		}
	}()
	fn()
}
