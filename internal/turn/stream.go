package turn

import (
	"context"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/user/chatagent/pkg/llm"
)

// CommitFunc stores the history produced by a streamed turn.
type CommitFunc func(history []llm.Message) error

// Stream runs one turn as a lazy event sequence: a session event, one delta
// per non-empty backend fragment, then done. If the backend fails the reply
// is completed with FallbackMessage and the stream still ends normally.
//
// The assembled reply is committed as a single assistant message after the
// backend finishes and before done is yielded. If the consumer stops early
// or ctx is cancelled nothing is committed.
func (e *Executor) Stream(ctx context.Context, sessionID string, history []llm.Message, commit CommitFunc) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		start := time.Now()
		status := "ok"
		defer func() {
			e.metrics.ObserveTurn("stream", status, time.Since(start))
		}()

		if !yield(Event{Type: EventSession, SessionID: sessionID}) {
			status = "cancelled"
			return
		}

		var reply strings.Builder
		var backendErr error
		for frag, err := range e.backend.Stream(ctx, history) {
			if err != nil {
				backendErr = err
				break
			}
			if frag == "" {
				continue
			}
			reply.WriteString(frag)
			e.countStreamed(frag)
			if !yield(Event{Type: EventDelta, Content: frag}) {
				status = "cancelled"
				return
			}
		}

		if backendErr != nil {
			if ctx.Err() != nil {
				status = "cancelled"
				return
			}
			slog.Error("stream backend failed", "session_id", sessionID, "error", backendErr)
			status = "fallback"
			reply.WriteString(FallbackMessage)
			if !yield(Event{Type: EventDelta, Content: FallbackMessage}) {
				status = "cancelled"
				return
			}
		}

		updated := make([]llm.Message, 0, len(history)+1)
		updated = append(updated, llm.CloneMessages(history)...)
		updated = append(updated, llm.AssistantMessage(reply.String()))
		if commit != nil {
			if err := commit(updated); err != nil {
				slog.Error("commit streamed turn", "session_id", sessionID, "error", err)
				status = "error"
			}
		}

		yield(Event{Type: EventDone})
	}
}

// Fallback is the event sequence of a turn that failed before the backend
// produced anything: session, a single FallbackMessage delta, done.
func Fallback(sessionID string) iter.Seq[Event] {
	return func(yield func(Event) bool) {
		if !yield(Event{Type: EventSession, SessionID: sessionID}) {
			return
		}
		if !yield(Event{Type: EventDelta, Content: FallbackMessage}) {
			return
		}
		yield(Event{Type: EventDone})
	}
}

func (e *Executor) countStreamed(frag string) {
	if e.countTokens == nil {
		return
	}
	e.metrics.AddStreamedTokens(e.countTokens(frag))
}
