package llm

import (
	"context"
	"errors"
	"iter"
	"testing"
)

// MockProvider is a test double that satisfies the Provider interface.
type MockProvider struct {
	CompleteFunc func(ctx context.Context, messages []Message, tools []Tool) (*Response, error)
	StreamFunc   func(ctx context.Context, messages []Message, tools []Tool) iter.Seq2[Delta, error]
}

func (m *MockProvider) Complete(ctx context.Context, messages []Message, tools []Tool) (*Response, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, messages, tools)
	}
	return &Response{Content: "mock response"}, nil
}

func (m *MockProvider) Stream(ctx context.Context, messages []Message, tools []Tool) iter.Seq2[Delta, error] {
	if m.StreamFunc != nil {
		return m.StreamFunc(ctx, messages, tools)
	}
	return func(yield func(Delta, error) bool) {
		yield(Delta{Content: "mock stream"}, nil)
	}
}

func TestProviderInterface(t *testing.T) {
	var provider Provider = &MockProvider{}
	ctx := context.Background()
	messages := []Message{UserMessage("test")}

	resp, err := provider.Complete(ctx, messages, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content == "" {
		t.Error("expected non-empty response")
	}

	for delta, err := range provider.Stream(ctx, messages, nil) {
		if err != nil {
			t.Fatal(err)
		}
		if delta.Content == "" {
			t.Error("expected non-empty delta")
		}
	}
}

func TestMockProviderCustomStream(t *testing.T) {
	boom := errors.New("boom")
	mock := &MockProvider{
		StreamFunc: func(ctx context.Context, messages []Message, tools []Tool) iter.Seq2[Delta, error] {
			return func(yield func(Delta, error) bool) {
				for _, s := range []string{"hello ", "world"} {
					if !yield(Delta{Content: s}, nil) {
						return
					}
				}
				yield(Delta{}, boom)
			}
		},
	}

	var accumulated string
	var gotErr error
	for delta, err := range mock.Stream(context.Background(), nil, nil) {
		if err != nil {
			gotErr = err
			break
		}
		accumulated += delta.Content
	}
	if accumulated != "hello world" {
		t.Errorf("expected 'hello world', got %q", accumulated)
	}
	if !errors.Is(gotErr, boom) {
		t.Errorf("expected boom error, got %v", gotErr)
	}
}

func TestCloneMessagesDoesNotAlias(t *testing.T) {
	orig := []Message{{
		Role:      RoleAssistant,
		ToolCalls: []ToolCall{{ID: "a", Function: FunctionCall{Name: "x"}}},
	}}
	cp := CloneMessages(orig)
	cp[0].ToolCalls[0].ID = "b"
	if orig[0].ToolCalls[0].ID != "a" {
		t.Errorf("clone shares ToolCalls with original")
	}
	if CloneMessages(nil) != nil {
		t.Error("expected nil clone of nil slice")
	}
}

func TestToolResultMessage(t *testing.T) {
	m := ToolResultMessage("call_1", "42")
	if m.Role != RoleTool || m.ToolCallID != "call_1" || m.Content != "42" {
		t.Errorf("unexpected tool result message: %+v", m)
	}
}
