package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/knightafter/openClaw-web-interface/internal/domain"
)

// rpcResult is the terminal outcome of one in-flight request.
type rpcResult struct {
	payload json.RawMessage
	err     error
}

type pendingEntry struct {
	ch    chan rpcResult
	timer *time.Timer
}

// pendingTable tracks in-flight request IDs awaiting a matching response.
// Each entry is completed exactly once: by a matching response, by its
// own timeout, or by a bulk flush on disconnect, whichever occurs first.
type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
}

func newPendingTable() *pendingTable {
	return &pendingTable{entries: make(map[string]*pendingEntry)}
}

// register creates an entry for id and arms its timeout. It must be
// called before the request frame is transmitted so that an immediate
// response cannot race the registration. The returned channel receives
// exactly one result.
func (t *pendingTable) register(id string, timeout time.Duration) <-chan rpcResult {
	e := &pendingEntry{ch: make(chan rpcResult, 1)}
	t.mu.Lock()
	t.entries[id] = e
	e.timer = time.AfterFunc(timeout, func() {
		t.reject(id, domain.NewDomainError("gateway.request", domain.ErrTimeout,
			fmt.Sprintf("no response within %s", timeout)))
	})
	t.mu.Unlock()
	return e.ch
}

// resolve completes id with a payload. No-op if id is no longer pending.
func (t *pendingTable) resolve(id string, payload json.RawMessage) {
	t.complete(id, rpcResult{payload: payload})
}

// reject completes id with an error. No-op if id is no longer pending.
func (t *pendingTable) reject(id string, err error) {
	t.complete(id, rpcResult{err: err})
}

func (t *pendingTable) complete(id string, res rpcResult) {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()
	if !ok {
		return // already resolved, timed out, or flushed
	}
	e.timer.Stop()
	e.ch <- res
}

// flushAll rejects every still-pending entry and clears the table.
// Invoked on every observed disconnect so no caller waits forever
// across a dropped connection.
func (t *pendingTable) flushAll(err error) {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*pendingEntry)
	t.mu.Unlock()
	for _, e := range entries {
		e.timer.Stop()
		e.ch <- rpcResult{err: err}
	}
}

// size reports the number of in-flight requests.
func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
