package session

// Outbound event types, serialized to the client as {"type": ...} frames
const (
	EventStart    = "start"
	EventProgress = "progress"
	EventStream   = "stream"
	EventComplete = "complete"
	EventError    = "error"
)

// Event is an outbound frame produced by a session and consumed exclusively
// by the transport layer.
type Event struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Content string `json:"content,omitempty"`
}

// StartEvent signals that a turn has begun
func StartEvent(message string) Event {
	return Event{Type: EventStart, Message: message}
}

// ProgressEvent carries a mid-turn status update
func ProgressEvent(message string) Event {
	return Event{Type: EventProgress, Message: message}
}

// StreamEvent carries answer text
func StreamEvent(content string) Event {
	return Event{Type: EventStream, Content: content}
}

// CompleteEvent signals that a turn finished successfully
func CompleteEvent(message string) Event {
	return Event{Type: EventComplete, Message: message}
}

// ErrorEvent signals that a turn failed
func ErrorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}

// Emitter writes outbound events to the connected client.
// Implementations must be safe for use from a single in-flight turn.
type Emitter interface {
	Emit(Event) error
}
