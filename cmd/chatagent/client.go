package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"net/url"
	"strings"

	"github.com/user/chatagent/internal/gateway"
	"github.com/user/chatagent/internal/types"
	"github.com/user/chatagent/pkg/llm"
)

// apiClient talks to a running chatagent server.
type apiClient struct {
	baseURL    string
	httpClient *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: http.DefaultClient}
}

// serverURL turns a listen address such as ":8000" into a URL a client can
// dial.
func serverURL(listen string) string {
	if strings.HasPrefix(listen, "http://") || strings.HasPrefix(listen, "https://") {
		return listen
	}
	if strings.HasPrefix(listen, ":") {
		listen = "localhost" + listen
	}
	return "http://" + listen
}

type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func readAPIError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(data))
	}
	return &apiError{Status: resp.StatusCode, Message: body.Error}
}

func (c *apiClient) do(ctx context.Context, method, path string, body any, accept string) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", accept)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	return resp, nil
}

func (c *apiClient) getJSON(ctx context.Context, path string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

type chatBody struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// Chat runs one synchronous turn.
func (c *apiClient) Chat(ctx context.Context, sessionID, message string) (*gateway.Reply, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/chat", chatBody{Message: message, SessionID: sessionID}, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var reply gateway.Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("decode reply: %w", err)
	}
	return &reply, nil
}

// sseEvent is one decoded server-sent event.
type sseEvent struct {
	Name string
	Data string
}

// ChatStream runs one streamed turn, calling onDelta for every fragment. It
// returns the session id announced by the server.
func (c *apiClient) ChatStream(ctx context.Context, sessionID, message string, onDelta func(string)) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/chat/stream", chatBody{Message: message, SessionID: sessionID}, "text/event-stream")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var sid string
	for ev, err := range readEvents(resp.Body) {
		if err != nil {
			return sid, err
		}
		switch ev.Name {
		case "session":
			var p struct {
				SessionID string `json:"session_id"`
			}
			if err := json.Unmarshal([]byte(ev.Data), &p); err != nil {
				return sid, fmt.Errorf("decode session event: %w", err)
			}
			sid = p.SessionID
		case "delta":
			var p struct {
				Content string `json:"content"`
			}
			if err := json.Unmarshal([]byte(ev.Data), &p); err != nil {
				return sid, fmt.Errorf("decode delta event: %w", err)
			}
			onDelta(p.Content)
		case "done":
			return sid, nil
		}
	}
	return sid, io.ErrUnexpectedEOF
}

// readEvents splits an SSE body into events. Multi-line data fields are
// joined with newlines.
func readEvents(r io.Reader) iter.Seq2[sseEvent, error] {
	return func(yield func(sseEvent, error) bool) {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		var ev sseEvent
		var data []string
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				if ev.Name != "" || len(data) > 0 {
					ev.Data = strings.Join(data, "\n")
					if !yield(ev, nil) {
						return
					}
				}
				ev, data = sseEvent{}, nil
				continue
			}
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				ev.Name = value
			case "data":
				data = append(data, value)
			}
		}
		if err := scanner.Err(); err != nil {
			yield(sseEvent{}, fmt.Errorf("reading stream: %w", err))
		}
	}
}

func (c *apiClient) Sessions(ctx context.Context) ([]*types.SessionInfo, error) {
	var out []*types.SessionInfo
	return out, c.getJSON(ctx, "/api/sessions", &out)
}

func (c *apiClient) Messages(ctx context.Context, id string) ([]llm.Message, error) {
	var out []llm.Message
	return out, c.getJSON(ctx, "/api/sessions/"+url.PathEscape(id)+"/messages", &out)
}

func (c *apiClient) Health(ctx context.Context) error {
	var out map[string]string
	if err := c.getJSON(ctx, "/api/health", &out); err != nil {
		return err
	}
	if out["status"] != "ok" {
		return fmt.Errorf("unexpected health status %q", out["status"])
	}
	return nil
}
