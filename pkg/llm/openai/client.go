package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/user/chatagent/pkg/llm"
)

// Client implements the llm.Provider interface for OpenAI-compatible APIs.
type Client struct {
	config *llm.Config
	api    *openai.Client
	// stream has no whole-request timeout; long replies are bounded by ctx.
	stream *openai.Client
}

// New creates a new OpenAI-compatible client with the given configuration.
func New(config *llm.Config) *Client {
	return &Client{
		config: config,
		api:    newAPI(config, 120*time.Second),
		stream: newAPI(config, 0),
	}
}

func newAPI(config *llm.Config, timeout time.Duration) *openai.Client {
	cc := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		cc.BaseURL = config.BaseURL
	}
	cc.HTTPClient = &http.Client{Timeout: timeout}
	return openai.NewClientWithConfig(cc)
}

var emptySchema = json.RawMessage(`{"type":"object","properties":{}}`)

func toRequestMessages(messages []llm.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		out[i] = openai.ChatCompletionMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			args := string(tc.Function.Arguments)
			if args == "" {
				args = "{}"
			}
			out[i].ToolCalls = append(out[i].ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: args,
				},
			})
		}
	}
	return out
}

func toRequestTools(tools []llm.Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]openai.Tool, len(tools))
	for i, t := range tools {
		params := t.Function.Parameters
		if len(params) == 0 {
			params = emptySchema
		}
		out[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  params,
			},
		}
	}
	return out
}

// fromResponseToolCalls carries arguments over as raw JSON; the API sends
// them as a JSON-encoded string.
func fromResponseToolCalls(calls []openai.ToolCall) []llm.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]llm.ToolCall, len(calls))
	for i, tc := range calls {
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		out[i] = llm.ToolCall{
			ID:   tc.ID,
			Type: string(tc.Type),
			Function: llm.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: args,
			},
		}
	}
	return out
}

func (c *Client) request(messages []llm.Message, tools []llm.Tool, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       c.config.Model,
		Messages:    toRequestMessages(messages),
		Tools:       toRequestTools(tools),
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		Stream:      stream,
	}
}

// apiError keeps the "status N" wording the retry policy classifies on.
func apiError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("API error (status %d): %w", apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("API error (status %d): %w", reqErr.HTTPStatusCode, err)
	}
	return fmt.Errorf("sending request: %w", err)
}

// Complete sends a chat completion request and returns the full response.
func (c *Client) Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	resp, err := c.api.CreateChatCompletion(ctx, c.request(messages, tools, false))
	if err != nil {
		return nil, apiError(err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	msg := resp.Choices[0].Message
	return &llm.Response{
		Content:   msg.Content,
		ToolCalls: fromResponseToolCalls(msg.ToolCalls),
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

// Stream sends a streaming chat completion request and yields text deltas as
// they arrive. The response body is closed when the sequence ends or the
// consumer stops pulling.
//
// A stream that ends before any choice reported a finish reason was cut off
// upstream and yields io.ErrUnexpectedEOF.
func (c *Client) Stream(ctx context.Context, messages []llm.Message, tools []llm.Tool) iter.Seq2[llm.Delta, error] {
	return func(yield func(llm.Delta, error) bool) {
		stream, err := c.stream.CreateChatCompletionStream(ctx, c.request(messages, tools, true))
		if err != nil {
			yield(llm.Delta{}, apiError(err))
			return
		}
		defer stream.Close()

		finished := false
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				if !finished {
					yield(llm.Delta{}, fmt.Errorf("reading stream: %w", io.ErrUnexpectedEOF))
				}
				return
			}
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = ctxErr
				}
				yield(llm.Delta{}, fmt.Errorf("reading stream: %w", err))
				return
			}

			for _, ch := range chunk.Choices {
				if ch.FinishReason != "" {
					finished = true
				}
				if ch.Delta.Content == "" {
					continue
				}
				if !yield(llm.Delta{Content: ch.Delta.Content}, nil) {
					return
				}
			}
		}
	}
}
