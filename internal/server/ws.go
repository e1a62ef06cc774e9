package server

import (
	"encoding/json"
	"net/http"
	"sync"

	"BeeChat/internal/session"

	"github.com/gorilla/websocket"
)

// Inbound frame types
const (
	frameChat        = "chat"
	frameEditorState = "editor_state"
)

// inboundFrame is one decoded client message. Content is kept raw so the
// session decides whether a state payload is usable.
type inboundFrame struct {
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Content json.RawMessage `json:"content"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The editor ships as a static page from this same server; cross-origin
	// embedding is not a supported deployment.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsEmitter serializes session events onto a websocket connection. gorilla
// permits a single concurrent writer, so all writes go through one mutex.
type wsEmitter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (e *wsEmitter) Emit(ev session.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn.WriteJSON(ev)
}

// handleWebSocket runs one connection: it creates a fresh session, then
// processes inbound frames sequentially until the client disconnects.
// Unknown frame types and malformed frames are logged and skipped, never
// fatal. No error event is attempted once the read loop observes a close.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.logger.Info("websocket connection established", "remote", r.RemoteAddr)

	emitter := &wsEmitter{conn: conn}
	sess := session.New(s.cfg.Beefree.UID, emitter, s.logger)

	if s.store != nil {
		if err := s.store.RecordSession(sess.ID, sess.CallerID(), sess.StartTime); err != nil {
			s.logger.Warn("failed to record session", "session_id", sess.ID, "error", err)
		}
	}

	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.logger.Info("websocket disconnected", "session_id", sess.ID)
			} else {
				s.logger.Error("websocket read failed", "session_id", sess.ID, "error", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("ignoring malformed frame", "session_id", sess.ID, "error", err)
			continue
		}

		switch frame.Type {
		case frameChat:
			s.logger.Info("received chat message", "session_id", sess.ID)
			sess.HandleChat(ctx, frame.Message, s.runner)
		case frameEditorState:
			s.logger.Info("received editor state update", "session_id", sess.ID)
			sess.HandleStateUpdate(frame.Content)
		default:
			s.logger.Warn("ignoring unknown frame type", "session_id", sess.ID, "type", frame.Type)
		}
	}
}
