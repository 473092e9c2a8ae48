package turn

// EventType names a stream lifecycle event.
type EventType string

const (
	// EventSession carries the resolved session id. Always first.
	EventSession EventType = "session"
	// EventDelta carries one fragment of reply text.
	EventDelta EventType = "delta"
	// EventDone terminates every stream, including failed ones.
	EventDone EventType = "done"
)

// FallbackMessage replaces the rest of a reply when the backend fails
// mid-stream.
const FallbackMessage = "Sorry, something went wrong while generating a reply."

// Event is one element of a streamed turn.
type Event struct {
	Type      EventType
	SessionID string
	Content   string
}

type sessionPayload struct {
	SessionID string `json:"session_id"`
}

type deltaPayload struct {
	Content string `json:"content"`
}

// Payload returns the JSON-encodable body of the event.
func (e Event) Payload() any {
	switch e.Type {
	case EventSession:
		return sessionPayload{SessionID: e.SessionID}
	case EventDelta:
		return deltaPayload{Content: e.Content}
	default:
		return struct{}{}
	}
}
