package turn

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"

	"github.com/user/chatagent/pkg/llm"
)

var errBackend = errors.New("backend down")

// fakeBackend scripts Invoke through a closure and Stream through a list of
// fragments with optional failure injection.
type fakeBackend struct {
	invoke func(history []llm.Message) ([]llm.Message, error)

	fragments []string
	// failAfter fails the stream once that many fragments were yielded;
	// negative disables failure.
	failAfter int
	failErr   error

	mu     sync.Mutex
	pulled int
	seen   [][]llm.Message
}

func (f *fakeBackend) Invoke(_ context.Context, history []llm.Message) ([]llm.Message, error) {
	f.mu.Lock()
	f.seen = append(f.seen, llm.CloneMessages(history))
	f.mu.Unlock()
	return f.invoke(history)
}

func (f *fakeBackend) Stream(ctx context.Context, history []llm.Message) iter.Seq2[string, error] {
	f.mu.Lock()
	f.seen = append(f.seen, llm.CloneMessages(history))
	f.mu.Unlock()
	return func(yield func(string, error) bool) {
		for i, frag := range f.fragments {
			if f.failAfter >= 0 && i == f.failAfter {
				err := f.failErr
				if err == nil {
					err = errBackend
				}
				yield("", err)
				return
			}
			if err := ctx.Err(); err != nil {
				yield("", err)
				return
			}
			f.mu.Lock()
			f.pulled++
			f.mu.Unlock()
			if !yield(frag, nil) {
				return
			}
		}
	}
}

func TestRunReturnsReplyAndToolCalls(t *testing.T) {
	backend := &fakeBackend{invoke: func(h []llm.Message) ([]llm.Message, error) {
		return append(llm.CloneMessages(h),
			llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{call("a", "calculator", `{"expression":"2+2"}`)}},
			llm.ToolResultMessage("a", "2+2 = 4"),
			llm.AssistantMessage("It is 4."),
		), nil
	}}
	exec := NewExecutor(backend, nil, nil)

	history := []llm.Message{llm.UserMessage("2+2")}
	res, err := exec.Run(context.Background(), history)
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply != "It is 4." {
		t.Errorf("expected reply, got %q", res.Reply)
	}
	if len(res.History) != 4 {
		t.Errorf("expected full returned sequence as history, got %d messages", len(res.History))
	}
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].ToolOutput != "2+2 = 4" {
		t.Errorf("unexpected tool calls: %+v", res.ToolCalls)
	}
}

func TestRunNonAssistantLastMessage(t *testing.T) {
	backend := &fakeBackend{invoke: func(h []llm.Message) ([]llm.Message, error) {
		return append(llm.CloneMessages(h),
			llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{call("a", "search", `{}`)}},
			llm.ToolResultMessage("a", "result"),
		), nil
	}}
	res, err := NewExecutor(backend, nil, nil).Run(context.Background(), []llm.Message{llm.UserMessage("x")})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reply != "" {
		t.Errorf("expected empty reply when last message is not assistant, got %q", res.Reply)
	}
}

func TestRunBackendFailure(t *testing.T) {
	backend := &fakeBackend{invoke: func([]llm.Message) ([]llm.Message, error) {
		return nil, errBackend
	}}
	_, err := NewExecutor(backend, nil, nil).Run(context.Background(), nil)
	if !errors.Is(err, errBackend) {
		t.Fatalf("expected backend error, got %v", err)
	}
}
