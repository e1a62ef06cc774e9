package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MaxSnapshotLen bounds the stored editor-state snapshot, and with it memory
// use and prompt size.
const MaxSnapshotLen = 4000

// Runner drives one agent turn. Implemented by the agent runtime; accepted
// as an interface so the session layer stays testable without a model.
type Runner interface {
	// Run processes one user message against the prior history and returns
	// the final answer text plus the full updated message log for the turn.
	Run(ctx context.Context, sess *Session, history []Message, userMessage, extraInstructions string) (string, []Message, error)
}

// Session owns the per-connection conversation state: caller identity,
// message history, tool-call counter and the latest editor-state snapshot.
// State lives only in process memory and dies with the connection.
type Session struct {
	ID        string
	StartTime time.Time

	uid     string
	emitter Emitter
	logger  *slog.Logger

	mu        sync.Mutex
	history   []Message
	snapshot  string
	toolCalls int

	turnMu sync.Mutex // serializes turns; at most one HandleChat in flight
}

// New creates a session for a freshly opened connection
func New(uid string, emitter Emitter, logger *slog.Logger) *Session {
	s := &Session{
		ID:        uuid.NewString(),
		StartTime: time.Now(),
		uid:       uid,
		emitter:   emitter,
		logger:    logger,
	}
	logger.Info("created session", "session_id", s.ID, "uid", uid)
	return s
}

// CallerID returns the stable caller identity injected into tool calls
func (s *Session) CallerID() string {
	return s.uid
}

// NextToolCall increments the session's tool-call counter and returns the
// new count. Called by the gateway before each dispatch.
func (s *Session) NextToolCall() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolCalls++
	return s.toolCalls
}

// ToolCallCount returns the number of tool calls attempted so far
func (s *Session) ToolCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.toolCalls
}

// History returns a copy of the committed conversation history
func (s *Session) History() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.history))
	copy(out, s.history)
	return out
}

// Snapshot returns the stored editor-state snapshot, empty if none received
func (s *Session) Snapshot() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// SendProgress pushes a one-way progress message to the client. Exposed to
// the agent as a tool; it never fails the turn, so every outcome is a
// confirmation string.
func (s *Session) SendProgress(message string) string {
	if s.emitter == nil {
		s.logger.Warn("no connection available for progress update", "session_id", s.ID)
		return "No WebSocket connection available"
	}
	if err := s.emitter.Emit(ProgressEvent(message)); err != nil {
		s.logger.Error("failed to send progress update", "session_id", s.ID, "error", err)
		return fmt.Sprintf("Failed to send progress update: %v", err)
	}
	s.logger.Info("sent progress update", "session_id", s.ID, "message", message)
	return "Progress update sent: " + message
}

// HandleChat processes one inbound chat message: emits start, runs the agent
// turn, then streams the answer and emits complete. A failed turn emits
// error and leaves the history untouched. Turns are strictly serialized; a
// second message queues behind the one in flight.
func (s *Session) HandleChat(ctx context.Context, message string, runner Runner) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.emit(StartEvent("Processing your request..."))

	prior := s.History()
	output, updated, err := runner.Run(ctx, s, prior, message, s.stateDigest())
	if err != nil {
		s.logger.Error("turn failed", "session_id", s.ID, "error", err)
		s.emit(ErrorEvent(fmt.Sprintf("Error: %v", err)))
		return
	}

	if output == "" {
		output = "Request completed."
	}
	s.emit(StreamEvent(output))
	s.emit(CompleteEvent("Request completed successfully"))

	s.mu.Lock()
	s.history = updated
	s.mu.Unlock()

	s.logger.Info("turn completed", "session_id", s.ID, "history_len", len(updated))
}

// HandleStateUpdate replaces the stored editor-state snapshot wholesale.
// Payloads that are not valid JSON are dropped, keeping the previous value;
// valid payloads are truncated to MaxSnapshotLen characters before storing.
func (s *Session) HandleStateUpdate(payload json.RawMessage) {
	if len(payload) == 0 || !json.Valid(payload) {
		s.logger.Warn("dropping malformed editor state update", "session_id", s.ID)
		return
	}

	state := string(payload)
	if runes := []rune(state); len(runes) > MaxSnapshotLen {
		state = string(runes[:MaxSnapshotLen])
	}

	s.mu.Lock()
	s.snapshot = state
	s.mu.Unlock()

	s.logger.Info("stored editor state snapshot", "session_id", s.ID, "size", len(state))
}

// stateDigest renders the snapshot as extra instructions for the model
func (s *Session) stateDigest() string {
	snap := s.Snapshot()
	if snap == "" {
		return ""
	}
	return "Current editor document state (client-supplied, may lag behind your edits):\n" + snap
}

func (s *Session) emit(ev Event) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ev); err != nil {
		s.logger.Warn("failed to emit event", "session_id", s.ID, "type", ev.Type, "error", err)
	}
}
