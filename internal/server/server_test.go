package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"BeeChat/internal/config"
	"BeeChat/internal/session"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubRunner answers every turn with a fixed reply and records its inputs
type stubRunner struct {
	answer   string
	gotMsg   string
	gotExtra string
}

func (r *stubRunner) Run(ctx context.Context, sess *session.Session, history []session.Message, userMessage, extraInstructions string) (string, []session.Message, error) {
	r.gotMsg = userMessage
	r.gotExtra = extraInstructions
	return r.answer, append(history,
		session.Message{Role: session.RoleUser, Content: userMessage},
		session.Message{Role: session.RoleAssistant, Content: r.answer},
	), nil
}

func newTestServer(cfg config.Config, runner session.Runner) *httptest.Server {
	return httptest.NewServer(New(cfg, runner, nil, testLogger()).Routes())
}

func TestHealth(t *testing.T) {
	srv := newTestServer(config.Default(), &stubRunner{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "beechat", body["service"])
}

func TestToken_MissingCredentials(t *testing.T) {
	cfg := config.Default()
	cfg.Beefree.ClientID = ""
	cfg.Beefree.ClientSecret = ""
	srv := newTestServer(cfg, &stubRunner{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/auth/token", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body["detail"], "BEEFREE_CLIENT_ID")
}

func TestToken_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(config.Default(), &stubRunner{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/auth/token")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestToken_RelaysUpstreamVerbatim(t *testing.T) {
	var gotBody tokenRequest
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"access_token":"tok-123"}`))
	}))
	defer upstream.Close()

	cfg := config.Default()
	cfg.Beefree.ClientID = "cid"
	cfg.Beefree.ClientSecret = "csecret"
	cfg.Beefree.UID = "user_abc12345"
	cfg.Beefree.AuthURL = upstream.URL
	srv := newTestServer(cfg, &stubRunner{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/auth/token", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"access_token":"tok-123"}`, string(body))

	assert.Equal(t, "cid", gotBody.ClientID)
	assert.Equal(t, "csecret", gotBody.ClientSecret)
	assert.Equal(t, "user_abc12345", gotBody.UID)
}

func TestToken_UpstreamErrorRelayed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid credentials"}`, http.StatusUnauthorized)
	}))
	defer upstream.Close()

	cfg := config.Default()
	cfg.Beefree.ClientID = "cid"
	cfg.Beefree.ClientSecret = "wrong"
	cfg.Beefree.AuthURL = upstream.URL
	srv := newTestServer(cfg, &stubRunner{})
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/api/auth/token", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func dialWS(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) session.Event {
	t.Helper()
	var ev session.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestWebSocket_ChatTurn(t *testing.T) {
	runner := &stubRunner{answer: "Here is your hero row."}
	srv := newTestServer(config.Default(), runner)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "chat", "message": "add a hero row"}))

	assert.Equal(t, session.EventStart, readEvent(t, conn).Type)
	stream := readEvent(t, conn)
	assert.Equal(t, session.EventStream, stream.Type)
	assert.Equal(t, "Here is your hero row.", stream.Content)
	assert.Equal(t, session.EventComplete, readEvent(t, conn).Type)

	assert.Equal(t, "add a hero row", runner.gotMsg)
}

func TestWebSocket_EditorStateFeedsNextTurn(t *testing.T) {
	runner := &stubRunner{answer: "ok"}
	srv := newTestServer(config.Default(), runner)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type":    "editor_state",
		"content": map[string]interface{}{"rows": []string{"header"}},
	}))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "chat", "message": "what rows exist?"}))

	// start, stream, complete
	readEvent(t, conn)
	readEvent(t, conn)
	readEvent(t, conn)

	assert.Contains(t, runner.gotExtra, "header")
}

func TestWebSocket_UnknownFrameIgnored(t *testing.T) {
	runner := &stubRunner{answer: "still here"}
	srv := newTestServer(config.Default(), runner)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "chat", "message": "hello"}))

	// the unknown frame produces no events; the chat turn proceeds
	assert.Equal(t, session.EventStart, readEvent(t, conn).Type)
}

func TestWebSocket_MalformedFrameIgnored(t *testing.T) {
	runner := &stubRunner{answer: "fine"}
	srv := newTestServer(config.Default(), runner)
	defer srv.Close()

	conn := dialWS(t, srv)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "chat", "message": "hello"}))

	assert.Equal(t, session.EventStart, readEvent(t, conn).Type)
}

// holdingRunner blocks the first turn until released; later turns return
// immediately since release stays closed
type holdingRunner struct {
	started chan struct{}
	release chan struct{}
}

func (r *holdingRunner) Run(ctx context.Context, sess *session.Session, history []session.Message, userMessage, extraInstructions string) (string, []session.Message, error) {
	select {
	case r.started <- struct{}{}:
	default:
	}
	<-r.release
	return "late answer", append(history,
		session.Message{Role: session.RoleUser, Content: userMessage},
		session.Message{Role: session.RoleAssistant, Content: "late answer"},
	), nil
}

func TestWebSocket_DisconnectMidTurn(t *testing.T) {
	runner := &holdingRunner{started: make(chan struct{}, 1), release: make(chan struct{})}
	srv := newTestServer(config.Default(), runner)
	defer srv.Close()

	conn := dialWS(t, srv)
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "chat", "message": "slow request"}))
	assert.Equal(t, session.EventStart, readEvent(t, conn).Type)

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("turn never started")
	}

	// Client goes away while the turn is in flight. The late answer's writes
	// must be absorbed silently; nothing may panic or block the handler.
	require.NoError(t, conn.Close())
	close(runner.release)

	// The server keeps serving: a fresh connection completes a full turn.
	conn2 := dialWS(t, srv)
	defer conn2.Close()
	require.NoError(t, conn2.WriteJSON(map[string]string{"type": "chat", "message": "hello again"}))
	assert.Equal(t, session.EventStart, readEvent(t, conn2).Type)
	stream := readEvent(t, conn2)
	assert.Equal(t, session.EventStream, stream.Type)
	assert.Equal(t, "late answer", stream.Content)
	assert.Equal(t, session.EventComplete, readEvent(t, conn2).Type)
}

func TestIndex_UnknownPathIs404(t *testing.T) {
	srv := newTestServer(config.Default(), &stubRunner{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
