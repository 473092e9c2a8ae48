// Package anthropic implements llm.Provider on top of the Anthropic Messages
// API. Both Complete and Stream use the streaming endpoint; Complete simply
// assembles the streamed content blocks into one response.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/user/chatagent/pkg/llm"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
)

// Client implements the llm.Provider interface for Anthropic's Claude models.
type Client struct {
	client anthropic.Client
	config *llm.Config
}

// New creates a Client. An API key is required.
func New(config *llm.Config) (*Client, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	return &Client{
		client: anthropic.NewClient(opts...),
		config: config,
	}, nil
}

// Complete streams a message and returns the assembled text and tool calls.
func (c *Client) Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	stream, err := c.newStream(ctx, messages, tools)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var (
		resp     llm.Response
		text     strings.Builder
		current  *llm.ToolCall
		toolJSON strings.Builder
	)
	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			resp.Usage.InputTokens = int(event.AsMessageStart().Message.Usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				current = &llm.ToolCall{
					ID:       toolUse.ID,
					Type:     "function",
					Function: llm.FunctionCall{Name: toolUse.Name},
				}
				toolJSON.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				text.WriteString(delta.Text)
			case "input_json_delta":
				toolJSON.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if current != nil {
				args := json.RawMessage(toolJSON.String())
				if len(args) == 0 || !json.Valid(args) {
					args = json.RawMessage(`{}`)
				}
				current.Function.Arguments = args
				resp.ToolCalls = append(resp.ToolCalls, *current)
				current = nil
			}

		case "message_delta":
			resp.Usage.OutputTokens = int(event.AsMessageDelta().Usage.OutputTokens)

		case "error":
			return nil, errors.New("anthropic: stream error")
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	resp.Content = text.String()
	resp.Usage.TotalTokens = resp.Usage.InputTokens + resp.Usage.OutputTokens
	return &resp, nil
}

// Stream yields text deltas as they arrive. Tool-use blocks are ignored: the
// streaming mode produces plain text replies.
func (c *Client) Stream(ctx context.Context, messages []llm.Message, tools []llm.Tool) iter.Seq2[llm.Delta, error] {
	return func(yield func(llm.Delta, error) bool) {
		stream, err := c.newStream(ctx, messages, tools)
		if err != nil {
			yield(llm.Delta{}, err)
			return
		}
		defer stream.Close()

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				if delta.Type == "text_delta" && delta.Text != "" {
					if !yield(llm.Delta{Content: delta.Text}, nil) {
						return
					}
				}
			case "message_stop":
				return
			case "error":
				yield(llm.Delta{}, errors.New("anthropic: stream error"))
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(llm.Delta{}, fmt.Errorf("anthropic: %w", err))
		}
	}
}

func (c *Client) newStream(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	system, converted, err := convertMessages(messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: convert messages: %w", err)
	}

	model := c.config.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := c.config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  converted,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if c.config.Temperature != 0 {
		params.Temperature = anthropic.Float(float64(c.config.Temperature))
	}
	if len(tools) > 0 {
		converted, err := convertTools(tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = converted
	}

	return c.client.Messages.NewStreaming(ctx, params), nil
}

// convertMessages splits out the system prompt and maps the rest onto
// Anthropic's content blocks. Tool results travel as user messages, and
// consecutive messages with the same role are merged into one.
func convertMessages(messages []llm.Message) (string, []anthropic.MessageParam, error) {
	var system []string
	var out []anthropic.MessageParam
	lastRole := ""

	for _, msg := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		role := llm.RoleUser

		switch msg.Role {
		case llm.RoleSystem:
			system = append(system, msg.Content)
			continue
		case llm.RoleTool:
			blocks = append(blocks, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		case llm.RoleAssistant:
			role = llm.RoleAssistant
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]any
				if len(tc.Function.Arguments) > 0 {
					if err := json.Unmarshal(tc.Function.Arguments, &input); err != nil {
						return "", nil, fmt.Errorf("invalid tool call input: %w", err)
					}
				}
				if input == nil {
					input = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, input, tc.Function.Name))
			}
		default:
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
		}

		if len(blocks) == 0 {
			continue
		}
		if role == lastRole && len(out) > 0 {
			out[len(out)-1].Content = append(out[len(out)-1].Content, blocks...)
			continue
		}
		if role == llm.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
		lastRole = role
	}

	return strings.Join(system, "\n\n"), out, nil
}

func convertTools(tools []llm.Tool) ([]anthropic.ToolUnionParam, error) {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(t.Function.Parameters, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Function.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Function.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", t.Function.Name)
		}
		param.OfTool.Description = anthropic.String(t.Function.Description)
		out = append(out, param)
	}
	return out, nil
}
