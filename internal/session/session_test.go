package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingEmitter captures emitted events in order
type recordingEmitter struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (r *recordingEmitter) Emit(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("write on closed connection")
	}
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

// stubRunner returns a fixed outcome and records what it was asked
type stubRunner struct {
	output  string
	updated []Message
	err     error

	gotMessage string
	gotExtra   string
	gotHistory []Message
}

func (s *stubRunner) Run(ctx context.Context, sess *Session, history []Message, userMessage, extra string) (string, []Message, error) {
	s.gotMessage = userMessage
	s.gotExtra = extra
	s.gotHistory = history
	if s.err != nil {
		return "", nil, s.err
	}
	return s.output, s.updated, nil
}

func TestHandleChat_EventOrder(t *testing.T) {
	emitter := &recordingEmitter{}
	sess := New("user_test0001", emitter, testLogger())

	runner := &stubRunner{
		output: "Here is your email.",
		updated: []Message{
			{Role: RoleUser, Content: "hello"},
			{Role: RoleAssistant, Content: "Here is your email."},
		},
	}

	sess.HandleChat(context.Background(), "hello", runner)

	assert.Equal(t, []string{EventStart, EventStream, EventComplete}, emitter.types())
	assert.Equal(t, "Here is your email.", emitter.events[1].Content)
}

func TestHandleChat_CommitsHistoryOnSuccess(t *testing.T) {
	sess := New("user_test0001", &recordingEmitter{}, testLogger())

	updated := []Message{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi"},
	}
	sess.HandleChat(context.Background(), "hello", &stubRunner{output: "hi", updated: updated})

	history := sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, RoleUser, history[0].Role)
	assert.Equal(t, RoleAssistant, history[1].Role)
}

func TestHandleChat_FailureLeavesHistoryUntouched(t *testing.T) {
	emitter := &recordingEmitter{}
	sess := New("user_test0001", emitter, testLogger())

	// Commit one good turn first
	sess.HandleChat(context.Background(), "hello", &stubRunner{
		output:  "hi",
		updated: []Message{{Role: RoleUser, Content: "hello"}, {Role: RoleAssistant, Content: "hi"}},
	})
	before := sess.History()

	sess.HandleChat(context.Background(), "again", &stubRunner{err: errors.New("model exploded")})

	assert.Equal(t, before, sess.History())
	last := emitter.events[len(emitter.events)-1]
	assert.Equal(t, EventError, last.Type)
	assert.Contains(t, last.Message, "model exploded")
}

func TestHandleChat_EmptyAnswerFallback(t *testing.T) {
	emitter := &recordingEmitter{}
	sess := New("user_test0001", emitter, testLogger())

	sess.HandleChat(context.Background(), "hello", &stubRunner{output: "", updated: []Message{}})

	require.Equal(t, []string{EventStart, EventStream, EventComplete}, emitter.types())
	assert.NotEmpty(t, emitter.events[1].Content)
}

func TestHandleChat_PassesHistoryAndDigest(t *testing.T) {
	sess := New("user_test0001", &recordingEmitter{}, testLogger())

	sess.HandleStateUpdate(json.RawMessage(`{"x":1}`))

	runner := &stubRunner{output: "ok", updated: []Message{}}
	sess.HandleChat(context.Background(), "tweak the hero", runner)

	assert.Equal(t, "tweak the hero", runner.gotMessage)
	assert.Contains(t, runner.gotExtra, `{"x":1}`)
	assert.Empty(t, runner.gotHistory)
}

func TestHandleChat_NoDigestWithoutSnapshot(t *testing.T) {
	sess := New("user_test0001", &recordingEmitter{}, testLogger())

	runner := &stubRunner{output: "ok", updated: []Message{}}
	sess.HandleChat(context.Background(), "hello", runner)

	assert.Empty(t, runner.gotExtra)
}

func TestHandleStateUpdate_TruncatesTo4000(t *testing.T) {
	sess := New("user_test0001", nil, testLogger())

	big, err := json.Marshal(strings.Repeat("a", 5000))
	require.NoError(t, err)
	require.Greater(t, len(big), MaxSnapshotLen)

	sess.HandleStateUpdate(big)

	assert.Len(t, sess.Snapshot(), MaxSnapshotLen)
}

func TestHandleStateUpdate_MalformedKeepsPrevious(t *testing.T) {
	sess := New("user_test0001", nil, testLogger())

	sess.HandleStateUpdate(json.RawMessage(`{"x":1}`))
	require.Equal(t, `{"x":1}`, sess.Snapshot())

	sess.HandleStateUpdate(json.RawMessage(`{"x":`))
	assert.Equal(t, `{"x":1}`, sess.Snapshot())

	sess.HandleStateUpdate(nil)
	assert.Equal(t, `{"x":1}`, sess.Snapshot())
}

func TestSendProgress_NoChannel(t *testing.T) {
	sess := New("user_test0001", nil, testLogger())

	out := sess.SendProgress("half way there")
	assert.Equal(t, "No WebSocket connection available", out)
}

func TestSendProgress_WriteFailure(t *testing.T) {
	sess := New("user_test0001", &recordingEmitter{fail: true}, testLogger())

	out := sess.SendProgress("half way there")
	assert.Contains(t, out, "Failed to send progress update")
}

func TestSendProgress_OK(t *testing.T) {
	emitter := &recordingEmitter{}
	sess := New("user_test0001", emitter, testLogger())

	out := sess.SendProgress("building hero section")
	assert.Equal(t, "Progress update sent: building hero section", out)
	require.Len(t, emitter.events, 1)
	assert.Equal(t, EventProgress, emitter.events[0].Type)
	assert.Equal(t, "building hero section", emitter.events[0].Message)
}

func TestNextToolCall_Increments(t *testing.T) {
	sess := New("user_test0001", nil, testLogger())

	for i := 1; i <= 3; i++ {
		assert.Equal(t, i, sess.NextToolCall())
	}
	assert.Equal(t, 3, sess.ToolCallCount())
}

// blockingRunner holds the turn open until released, to observe serialization
type blockingRunner struct {
	entered  chan struct{}
	release  chan struct{}
	inFlight int
	maxSeen  int
	mu       sync.Mutex
}

func (b *blockingRunner) Run(ctx context.Context, sess *Session, history []Message, userMessage, extra string) (string, []Message, error) {
	b.mu.Lock()
	b.inFlight++
	if b.inFlight > b.maxSeen {
		b.maxSeen = b.inFlight
	}
	b.mu.Unlock()

	b.entered <- struct{}{}
	<-b.release

	b.mu.Lock()
	b.inFlight--
	b.mu.Unlock()
	return fmt.Sprintf("done: %s", userMessage), []Message{}, nil
}

func TestHandleChat_SerializesTurns(t *testing.T) {
	sess := New("user_test0001", &recordingEmitter{}, testLogger())
	runner := &blockingRunner{entered: make(chan struct{}, 2), release: make(chan struct{})}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess.HandleChat(context.Background(), "msg", runner)
		}()
	}

	<-runner.entered // first turn is in flight
	close(runner.release)
	wg.Wait()

	assert.Equal(t, 1, runner.maxSeen, "two turns must never run concurrently")
}
