package runtime

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"

	ctxengine "github.com/user/chatagent/internal/context"
	"github.com/user/chatagent/internal/metrics"
	"github.com/user/chatagent/internal/tracing"
	"github.com/user/chatagent/internal/types"
	"github.com/user/chatagent/pkg/llm"
)

// Runtime implements the agent loop: it drives the provider through tool
// rounds until a plain text reply is produced.
type Runtime struct {
	provider  llm.Provider
	engine    *ctxengine.Engine
	registry  *Registry
	maxRounds int
	retry     *RetryPolicy
	metrics   *metrics.Metrics
}

// New creates a Runtime with the given dependencies. A nil retry policy
// means a single attempt per backend call; m may be nil.
func New(
	provider llm.Provider,
	engine *ctxengine.Engine,
	registry *Registry,
	maxRounds int,
	retry *RetryPolicy,
	m *metrics.Metrics,
) *Runtime {
	if retry == nil {
		retry = NoRetry()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Runtime{
		provider:  provider,
		engine:    engine,
		registry:  registry,
		maxRounds: maxRounds,
		retry:     retry,
		metrics:   m,
	}
}

type sessionKey struct{}

// WithSessionID attaches the session being served to ctx so the rendered
// system prompt can mention it.
func WithSessionID(ctx context.Context, id types.SessionID) context.Context {
	return context.WithValue(ctx, sessionKey{}, id)
}

func sessionFrom(ctx context.Context) types.SessionID {
	id, _ := ctx.Value(sessionKey{}).(types.SessionID)
	return id
}

// Invoke runs one agent turn over history and returns the extended message
// sequence: history followed by every assistant and tool message produced,
// ending with the final assistant reply. history itself is not modified.
func (rt *Runtime) Invoke(ctx context.Context, history []llm.Message) ([]llm.Message, error) {
	messages := ctxengine.StripSystem(llm.CloneMessages(history))
	sessionID := sessionFrom(ctx)
	toolNames := rt.registry.Names()
	tools := rt.registry.AsLLMTools()

	for round := 0; round < rt.maxRounds; round++ {
		prompt, err := rt.engine.BuildPrompt(sessionID, messages, toolNames)
		if err != nil {
			return nil, fmt.Errorf("build prompt: %w", err)
		}

		var resp *llm.Response
		err = rt.retry.Execute(ctx, func() error {
			llmCtx, span := tracing.StartLLM(ctx, "complete", round)
			var callErr error
			resp, callErr = rt.provider.Complete(llmCtx, prompt, tools)
			rt.metrics.ObserveLLMRequest(callErr)
			tracing.End(span, callErr)
			return callErr
		})
		if err != nil {
			return nil, fmt.Errorf("LLM call: %w", err)
		}

		if len(resp.ToolCalls) == 0 {
			messages = append(messages, llm.AssistantMessage(resp.Content))
			return messages, nil
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			result := rt.executeTool(ctx, tc)
			messages = append(messages, llm.ToolResultMessage(tc.ID, result))
		}
	}

	return nil, fmt.Errorf("max tool rounds (%d) exceeded", rt.maxRounds)
}

// executeTool runs a single tool call. Failures are reported to the model
// as the tool output rather than aborting the turn.
func (rt *Runtime) executeTool(ctx context.Context, tc llm.ToolCall) string {
	name := tc.Function.Name
	ctx, span := tracing.StartTool(ctx, name, tc.ID)
	tool, ok := rt.registry.Get(name)
	if !ok {
		err := fmt.Errorf("unknown tool %q", name)
		rt.metrics.ObserveToolCall(name, err)
		tracing.End(span, err)
		return "error: " + err.Error()
	}
	if err := rt.registry.Validate(name, tc.Function.Arguments); err != nil {
		rt.metrics.ObserveToolCall(name, err)
		tracing.End(span, err)
		return fmt.Sprintf("error: %v", err)
	}

	slog.Debug("executing tool", "tool", name, "call_id", tc.ID)
	result, err := tool.Execute(ctx, tc.Function.Arguments)
	rt.metrics.ObserveToolCall(name, err)
	tracing.End(span, err)
	if err != nil {
		slog.Warn("tool failed", "tool", name, "call_id", tc.ID, "error", err)
		return fmt.Sprintf("error: %v", err)
	}
	return result
}

// Stream yields the text fragments of a single streamed reply to history.
// Tools are not offered in streaming mode, so earlier tool exchanges are
// replayed as plain assistant text. Stopping the iteration releases the
// provider's connection.
func (rt *Runtime) Stream(ctx context.Context, history []llm.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		messages := textOnly(ctxengine.StripSystem(history))
		prompt, err := rt.engine.BuildPrompt(sessionFrom(ctx), messages, nil)
		if err != nil {
			yield("", fmt.Errorf("build prompt: %w", err))
			return
		}

		streamCtx, span := tracing.StartLLM(ctx, "stream", 0)
		var streamErr error
		defer func() { tracing.End(span, streamErr) }()
		for delta, err := range rt.provider.Stream(streamCtx, prompt, nil) {
			if err != nil {
				streamErr = err
				break
			}
			if delta.Content == "" {
				continue
			}
			if !yield(delta.Content, nil) {
				return
			}
		}
		rt.metrics.ObserveLLMRequest(streamErr)
		if streamErr != nil {
			yield("", fmt.Errorf("LLM stream: %w", streamErr))
		}
	}
}

// textOnly rewrites tool calls and tool results as assistant text. Runs of
// assistant and tool messages between two user messages collapse into one
// assistant message, keeping the user/assistant alternation backends expect.
func textOnly(history []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	callNames := make(map[string]string)
	appendAssistant := func(text string) {
		if text == "" {
			return
		}
		if n := len(out); n > 0 && out[n-1].Role == llm.RoleAssistant {
			if out[n-1].Content != "" {
				out[n-1].Content += "\n"
			}
			out[n-1].Content += text
			return
		}
		out = append(out, llm.AssistantMessage(text))
	}

	for _, m := range history {
		switch {
		case m.Role == llm.RoleAssistant:
			lines := make([]string, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				lines = append(lines, m.Content)
			}
			for _, tc := range m.ToolCalls {
				callNames[tc.ID] = tc.Function.Name
				lines = append(lines, fmt.Sprintf("[called %s with %s]", tc.Function.Name, tc.Function.Arguments))
			}
			appendAssistant(strings.Join(lines, "\n"))
		case m.Role == llm.RoleTool:
			name := callNames[m.ToolCallID]
			if name == "" {
				name = "tool"
			}
			appendAssistant(fmt.Sprintf("[%s returned: %s]", name, m.Content))
		default:
			out = append(out, m)
		}
	}
	return out
}
