package gateway

import (
	"log/slog"
	"sync"

	"github.com/knightafter/openClaw-web-interface/internal/domain"
	"github.com/knightafter/openClaw-web-interface/internal/protocol"
)

// placeholderText is emitted when a run finishes with no text and no
// deltas: the assistant performed a silent or tool-only action, and the
// UI's waiting indicator still has to clear.
const placeholderText = "*Task completed.*"

// streamReassembler accumulates delta events into a running text buffer
// per run and reconciles the buffer with the terminal event. At most
// one run streams at a time in this client, so a single buffer
// suffices; the delta flag is tracked per run ID to survive interleaved
// terminal events.
//
// Every terminal event (final, error, aborted) clears the run's
// transient state exactly once; a second terminal event for the same
// run is a no-op.
type streamReassembler struct {
	notifier *Notifier
	logger   *slog.Logger

	mu           sync.Mutex
	buffer       string
	hadDelta     map[string]bool
	lastFinished string // most recently terminated run ID
}

func newStreamReassembler(notifier *Notifier, logger *slog.Logger) *streamReassembler {
	return &streamReassembler{
		notifier: notifier,
		logger:   logger,
		hadDelta: make(map[string]bool),
	}
}

// handleChat dispatches a chat event payload by state.
func (r *streamReassembler) handleChat(p *protocol.ChatPayload) {
	switch p.State {
	case protocol.ChatStateDelta:
		r.onDelta(p)
	case protocol.ChatStateFinal:
		r.onFinal(p)
	case protocol.ChatStateError:
		r.onStreamError(p)
	case protocol.ChatStateAborted:
		r.onAborted(p)
	default:
		r.logger.Debug("chat event with unknown state", "state", p.State, "run_id", p.RunID)
	}
}

// onDelta replaces the buffer with the extracted text: the gateway
// sends the full accumulated text in each delta, not an increment.
func (r *streamReassembler) onDelta(p *protocol.ChatPayload) {
	text := ExtractText(p)

	r.mu.Lock()
	r.hadDelta[p.RunID] = true
	r.buffer = text
	r.mu.Unlock()

	r.notifier.EmitDelta(p.RunID, text)
}

// onFinal reconciles the terminal text with the buffer. Extracted text
// wins over the buffer; an empty final with no prior deltas yields the
// synthetic placeholder; an empty final after deltas emits the last
// buffered text, or an empty message as a last resort so the waiting
// indicator always clears.
func (r *streamReassembler) onFinal(p *protocol.ChatPayload) {
	r.mu.Lock()
	if r.terminalSeenLocked(p.RunID) {
		r.mu.Unlock()
		return
	}
	text := ExtractText(p)
	if text == "" {
		text = r.buffer
	}
	hadDeltas := r.hadDelta[p.RunID]
	r.clearRunLocked(p.RunID)
	r.mu.Unlock()

	id := p.RunID
	if id == "" {
		id = newID()
	}
	msg := domain.Message{
		ID:        id,
		Role:      domain.RoleAssistant,
		Timestamp: MessageTime(p),
	}

	switch {
	case text != "":
		msg.Content = text
	case !hadDeltas:
		msg.Content = placeholderText
	default:
		// Deltas were observed but neither the final event nor the
		// buffer carries text. Emit the empty message anyway so the
		// waiting indicator clears.
		r.logger.Debug("run finished with no final text", "run_id", p.RunID)
	}
	r.notifier.EmitMessage(msg)
}

// onStreamError clears run state and surfaces the classified error as
// an error-flagged assistant message.
func (r *streamReassembler) onStreamError(p *protocol.ChatPayload) {
	r.mu.Lock()
	if r.terminalSeenLocked(p.RunID) {
		r.mu.Unlock()
		return
	}
	r.clearRunLocked(p.RunID)
	r.mu.Unlock()

	raw := p.ErrorMessage
	if raw == "" {
		raw = "Unknown error"
	}
	code, friendly := ClassifyModelError(raw)
	r.logger.Error("run failed", "run_id", p.RunID, "code", string(code), "error", raw)

	id := p.RunID
	if id == "" {
		id = newID()
	}
	r.notifier.EmitMessage(domain.Message{
		ID:        id,
		Role:      domain.RoleAssistant,
		Content:   friendly,
		Timestamp: MessageTime(p),
		IsError:   true,
	})
}

// onAborted treats the event as a cancellation acknowledgment: run
// state clears, nothing is emitted.
func (r *streamReassembler) onAborted(p *protocol.ChatPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminalSeenLocked(p.RunID) {
		return
	}
	r.clearRunLocked(p.RunID)
}

func (r *streamReassembler) terminalSeenLocked(runID string) bool {
	return runID != "" && runID == r.lastFinished
}

func (r *streamReassembler) clearRunLocked(runID string) {
	r.buffer = ""
	delete(r.hadDelta, runID)
	r.lastFinished = runID
}
