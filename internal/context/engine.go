// internal/context/engine.go
package context

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/user/chatagent/internal/types"
	"github.com/user/chatagent/pkg/llm"
)

// Engine renders the system prompt that precedes every backend call and
// counts tokens for usage accounting. It never rewrites or trims history.
type Engine struct {
	tokenizer *tiktoken.Tiktoken
	prompt    *template.Template
	now       func() time.Time
}

// PromptData is the data available to the system prompt template.
type PromptData struct {
	Time      string
	SessionID string
	Tools     string
	ToolList  []string
}

// New creates a context engine. model selects the tokenizer (falling back to
// cl100k_base, and to a character estimate if no encoding can be loaded).
// promptPath optionally points at a text/template file replacing DefaultPrompt.
func New(model, promptPath string) (*Engine, error) {
	text := DefaultPrompt
	if promptPath != "" {
		data, err := os.ReadFile(promptPath)
		if err != nil {
			return nil, fmt.Errorf("read system prompt: %w", err)
		}
		text = string(data)
	}
	tmpl, err := template.New("system").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse system prompt: %w", err)
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			slog.Warn("tokenizer unavailable, estimating token counts", "model", model, "error", err)
			enc = nil
		}
	}

	return &Engine{
		tokenizer: enc,
		prompt:    tmpl,
		now:       time.Now,
	}, nil
}

// CountTokens returns the token count for a string.
func (e *Engine) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if e.tokenizer == nil {
		return (len(text) + 3) / 4
	}
	return len(e.tokenizer.Encode(text, nil, nil))
}

// BuildPrompt returns the messages sent to the backend: the rendered system
// prompt followed by history, unchanged.
func (e *Engine) BuildPrompt(sessionID types.SessionID, history []llm.Message, toolNames []string) ([]llm.Message, error) {
	sys, err := e.SystemPrompt(sessionID, toolNames)
	if err != nil {
		return nil, err
	}
	messages := make([]llm.Message, 0, 1+len(history))
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: sys})
	messages = append(messages, history...)
	return messages, nil
}

// SystemPrompt renders the system prompt template.
func (e *Engine) SystemPrompt(sessionID types.SessionID, toolNames []string) (string, error) {
	data := PromptData{
		Time:      e.now().Format(time.RFC3339),
		SessionID: string(sessionID),
		Tools:     strings.Join(toolNames, ", "),
		ToolList:  toolNames,
	}
	var buf bytes.Buffer
	if err := e.prompt.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render system prompt: %w", err)
	}
	return buf.String(), nil
}

// StripSystem drops leading system messages added by BuildPrompt.
func StripSystem(messages []llm.Message) []llm.Message {
	i := 0
	for i < len(messages) && messages[i].Role == llm.RoleSystem {
		i++
	}
	return messages[i:]
}
