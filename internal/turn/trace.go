package turn

import (
	"encoding/json"

	"github.com/user/chatagent/pkg/llm"
)

// ToolCallRecord describes one tool invocation made during a turn.
type ToolCallRecord struct {
	ToolName   string         `json:"tool_name"`
	ToolInput  map[string]any `json:"tool_input"`
	ToolOutput string         `json:"tool_output"`
}

// ReconstructToolCalls pairs every tool call requested by an assistant
// message with the first later tool message carrying the same call id.
// Records follow request order, not result order. A call without a result
// gets an empty output.
func ReconstructToolCalls(messages []llm.Message) []ToolCallRecord {
	records := []ToolCallRecord{}
	for i, msg := range messages {
		if msg.Role != llm.RoleAssistant {
			continue
		}
		for _, tc := range msg.ToolCalls {
			records = append(records, ToolCallRecord{
				ToolName:   tc.Function.Name,
				ToolInput:  decodeInput(tc.Function.Arguments),
				ToolOutput: findResult(messages[i+1:], tc.ID),
			})
		}
	}
	return records
}

func findResult(later []llm.Message, callID string) string {
	for _, m := range later {
		if m.Role == llm.RoleTool && m.ToolCallID == callID {
			return m.Content
		}
	}
	return ""
}

func decodeInput(raw json.RawMessage) map[string]any {
	input := map[string]any{}
	if len(raw) == 0 {
		return input
	}
	if err := json.Unmarshal(raw, &input); err != nil || input == nil {
		return map[string]any{}
	}
	return input
}
