package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/user/chatagent/pkg/llm"
)

func TestNewRequiresAPIKey(t *testing.T) {
	if _, err := New(&llm.Config{}); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestClientProviderInterface(t *testing.T) {
	var _ llm.Provider = (*Client)(nil)
}

func TestConvertMessages(t *testing.T) {
	system, out, err := convertMessages([]llm.Message{
		{Role: llm.RoleSystem, Content: "be nice"},
		llm.UserMessage("2+2"),
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{ID: "a", Function: llm.FunctionCall{Name: "calculator", Arguments: json.RawMessage(`{"expression":"2+2"}`)}},
			{ID: "b", Function: llm.FunctionCall{Name: "search", Arguments: json.RawMessage(`{"query":"x"}`)}},
		}},
		llm.ToolResultMessage("a", "2+2 = 4"),
		llm.ToolResultMessage("b", "nothing"),
		llm.AssistantMessage("It is 4."),
	})
	if err != nil {
		t.Fatal(err)
	}
	if system != "be nice" {
		t.Errorf("expected system prompt to be split out, got %q", system)
	}
	// user, assistant(tool uses), user(two merged tool results), assistant
	if len(out) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(out))
	}
	if out[1].Role != anthropic.MessageParamRoleAssistant || len(out[1].Content) != 2 {
		t.Errorf("expected assistant message with 2 tool uses, got %+v", out[1])
	}
	if out[2].Role != anthropic.MessageParamRoleUser || len(out[2].Content) != 2 {
		t.Errorf("expected merged tool results, got %d blocks", len(out[2].Content))
	}
	if out[2].Content[0].OfToolResult == nil || out[2].Content[0].OfToolResult.ToolUseID != "a" {
		t.Errorf("expected first tool result for call a")
	}
}

func TestConvertMessagesRejectsBadToolInput(t *testing.T) {
	_, _, err := convertMessages([]llm.Message{
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{
			{ID: "a", Function: llm.FunctionCall{Name: "x", Arguments: json.RawMessage(`[1,2]`)}},
		}},
	})
	if err == nil {
		t.Fatal("expected error for non-object tool input")
	}
}

func TestConvertTools(t *testing.T) {
	out, err := convertTools([]llm.Tool{{
		Type: "function",
		Function: llm.Function{
			Name:        "calculator",
			Description: "math",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"expression":{"type":"string"}},"required":["expression"]}`),
		},
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].OfTool == nil || out[0].OfTool.Name != "calculator" {
		t.Fatalf("unexpected converted tools: %+v", out)
	}
}

func writeEvent(w http.ResponseWriter, name, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

func TestClientStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "test-key" {
			t.Errorf("expected api key header, got %q", r.Header.Get("X-Api-Key"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, "message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-20250514","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":5,"output_tokens":1}}}`)
		writeEvent(w, "content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`)
		writeEvent(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`)
		writeEvent(w, "content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`)
		writeEvent(w, "content_block_stop", `{"type":"content_block_stop","index":0}`)
		writeEvent(w, "message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":2}}`)
		writeEvent(w, "message_stop", `{"type":"message_stop"}`)
	}))
	defer server.Close()

	client, err := New(&llm.Config{APIKey: "test-key", BaseURL: server.URL})
	if err != nil {
		t.Fatal(err)
	}

	var got string
	for delta, err := range client.Stream(context.Background(), []llm.Message{llm.UserMessage("hi")}, nil) {
		if err != nil {
			t.Fatal(err)
		}
		got += delta.Content
	}
	if got != "Hello" {
		t.Errorf("expected 'Hello', got %q", got)
	}
}
