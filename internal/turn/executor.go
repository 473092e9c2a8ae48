package turn

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/user/chatagent/internal/metrics"
	"github.com/user/chatagent/pkg/llm"
)

// Backend is the agent the executor drives. runtime.Runtime implements it.
type Backend interface {
	// Invoke returns history extended with every message of the turn.
	Invoke(ctx context.Context, history []llm.Message) ([]llm.Message, error)
	// Stream yields the reply to history one text fragment at a time.
	Stream(ctx context.Context, history []llm.Message) iter.Seq2[string, error]
}

// Result is the outcome of a synchronous turn.
type Result struct {
	History   []llm.Message
	Reply     string
	ToolCalls []ToolCallRecord
}

// Executor runs turns against a Backend.
type Executor struct {
	backend     Backend
	metrics     *metrics.Metrics
	countTokens func(string) int
}

// NewExecutor creates an executor. m may be nil. countTokens, when set, is
// used to account streamed output.
func NewExecutor(backend Backend, m *metrics.Metrics, countTokens func(string) int) *Executor {
	return &Executor{backend: backend, metrics: m, countTokens: countTokens}
}

// Run executes one turn to completion. The returned history is the full
// sequence produced by the backend and should replace the stored one.
func (e *Executor) Run(ctx context.Context, history []llm.Message) (*Result, error) {
	start := time.Now()
	messages, err := e.backend.Invoke(ctx, history)
	if err != nil {
		e.metrics.ObserveTurn("sync", "error", time.Since(start))
		return nil, fmt.Errorf("invoke backend: %w", err)
	}
	e.metrics.ObserveTurn("sync", "ok", time.Since(start))

	var reply string
	if n := len(messages); n > 0 && messages[n-1].Role == llm.RoleAssistant {
		reply = messages[n-1].Content
	}

	return &Result{
		History:   messages,
		Reply:     reply,
		ToolCalls: ReconstructToolCalls(messages),
	}, nil
}
