package gateway

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/user/chatagent/internal/runtime"
	"github.com/user/chatagent/internal/tracing"
	"github.com/user/chatagent/internal/turn"
	"github.com/user/chatagent/internal/types"
	"github.com/user/chatagent/pkg/llm"
)

// ErrEmptyMessage is returned when a turn is requested without text.
var ErrEmptyMessage = errors.New("message is required")

var errAbandoned = errors.New("stream abandoned by client")

// Reply is the result of a synchronous turn.
type Reply struct {
	Reply     string                `json:"reply"`
	SessionID types.SessionID       `json:"session_id"`
	ToolCalls []turn.ToolCallRecord `json:"tool_calls"`
}

// Gateway routes chat messages into turns. It resolves (or creates)
// sessions, serialises turns per session, bounds global concurrency and
// stores the resulting history.
type Gateway struct {
	store    types.HistoryStore
	executor *turn.Executor
	Queue    *Queue
}

// New creates a Gateway with the given concurrency limit for simultaneous
// turns.
func New(store types.HistoryStore, executor *turn.Executor, maxConcurrent int64) *Gateway {
	return &Gateway{
		store:    store,
		executor: executor,
		Queue:    NewQueue(maxConcurrent),
	}
}

// Stop rejects new turns and waits up to timeout for running ones. Returns
// false if turns were still running at the deadline.
func (g *Gateway) Stop(timeout time.Duration) bool {
	g.Queue.Stop()
	return g.Queue.WaitIdle(timeout)
}

// Complete runs one synchronous turn for message on sessionID. An unknown
// sessionID starts a session under that id and an empty one gets a generated
// id; the id used is in the reply.
func (g *Gateway) Complete(ctx context.Context, sessionID types.SessionID, message string) (_ *Reply, err error) {
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}
	if g.Queue.Stopped() {
		return nil, ErrShuttingDown
	}
	id, _, err := g.store.GetOrCreate(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	ctx, span := tracing.StartTurn(ctx, "sync", string(id))
	defer func() { tracing.End(span, err) }()

	unlock := g.store.Lock(id)
	defer unlock()

	release, err := g.Queue.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	run := NewRun(id, "sync")
	run.Start()

	history, err := g.store.Get(ctx, id)
	if err != nil {
		run.Finish(err)
		return nil, fmt.Errorf("load history: %w", err)
	}
	history = append(history, llm.UserMessage(message))

	res, err := g.executor.Run(runtime.WithSessionID(ctx, id), history)
	if err != nil {
		run.Finish(err)
		return nil, err
	}
	if err := g.store.Replace(ctx, id, res.History); err != nil {
		run.Finish(err)
		return nil, fmt.Errorf("store history: %w", err)
	}
	run.Finish(nil)

	return &Reply{
		Reply:     res.Reply,
		SessionID: id,
		ToolCalls: res.ToolCalls,
	}, nil
}

// Stream starts a streamed turn for message on sessionID. The session is
// resolved before Stream returns; the turn itself runs while the returned
// sequence is consumed, holding the session lock throughout. Stopping early
// abandons the turn without touching history.
//
// ErrShuttingDown is returned up front once Stop has been called. A turn that
// cannot start after the sequence is handed out still yields session, one
// fallback delta and done, unless ctx is already cancelled.
func (g *Gateway) Stream(ctx context.Context, sessionID types.SessionID, message string) (types.SessionID, iter.Seq[turn.Event], error) {
	if strings.TrimSpace(message) == "" {
		return "", nil, ErrEmptyMessage
	}
	if g.Queue.Stopped() {
		return "", nil, ErrShuttingDown
	}
	id, _, err := g.store.GetOrCreate(ctx, sessionID)
	if err != nil {
		return "", nil, fmt.Errorf("resolve session: %w", err)
	}

	seq := func(yield func(turn.Event) bool) {
		run := NewRun(id, "stream")
		ctx, span := tracing.StartTurn(ctx, "stream", string(id))
		var turnErr error
		defer func() { tracing.End(span, turnErr) }()

		fail := func(err error) {
			turnErr = err
			run.Finish(err)
			if ctx.Err() != nil {
				return
			}
			slog.Error("stream turn could not start", "session_id", id, "error", err)
			for ev := range turn.Fallback(string(id)) {
				if !yield(ev) {
					return
				}
			}
		}

		unlock := g.store.Lock(id)
		defer unlock()

		release, err := g.Queue.Acquire(ctx)
		if err != nil {
			fail(err)
			return
		}
		defer release()
		run.Start()

		history, err := g.store.Get(ctx, id)
		if err != nil {
			fail(fmt.Errorf("load history: %w", err))
			return
		}
		history = append(history, llm.UserMessage(message))

		commit := func(h []llm.Message) error {
			return g.store.Replace(context.WithoutCancel(ctx), id, h)
		}

		completed := false
		for ev := range g.executor.Stream(runtime.WithSessionID(ctx, id), string(id), history, commit) {
			if ev.Type == turn.EventDone {
				completed = true
			}
			if !yield(ev) {
				break
			}
		}
		if !completed {
			cause := context.Cause(ctx)
			if cause == nil {
				cause = errAbandoned
			}
			turnErr = cause
			run.Finish(cause)
			return
		}
		run.Finish(nil)
	}
	return id, seq, nil
}

// Sessions returns summary information for every stored session.
func (g *Gateway) Sessions(ctx context.Context) ([]*types.SessionInfo, error) {
	return g.store.List(ctx)
}

// History returns the stored messages of one session.
func (g *Gateway) History(ctx context.Context, id types.SessionID) ([]llm.Message, error) {
	return g.store.Get(ctx, id)
}
