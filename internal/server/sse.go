package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/user/chatagent/internal/turn"
)

// eventWriter frames turn events as server-sent events and flushes each one
// so clients see deltas as they are produced.
type eventWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newEventWriter(w http.ResponseWriter) (*eventWriter, error) {
	rc := http.NewResponseController(w)

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := rc.Flush(); err != nil {
		if errors.Is(err, http.ErrNotSupported) {
			return nil, err
		}
		return nil, fmt.Errorf("flush headers: %w", err)
	}
	return &eventWriter{w: w, rc: rc}, nil
}

// Send writes one event.
func (e *eventWriter) Send(ev turn.Event) error {
	data, err := json.Marshal(ev.Payload())
	if err != nil {
		return fmt.Errorf("encode %s event: %w", ev.Type, err)
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	return e.rc.Flush()
}
