//go:build integration

package test

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	ctxengine "github.com/user/chatagent/internal/context"
	"github.com/user/chatagent/internal/gateway"
	"github.com/user/chatagent/internal/metrics"
	"github.com/user/chatagent/internal/runtime"
	"github.com/user/chatagent/internal/runtime/tools"
	"github.com/user/chatagent/internal/server"
	"github.com/user/chatagent/internal/state"
	"github.com/user/chatagent/internal/turn"
	"github.com/user/chatagent/pkg/llm"
	"github.com/user/chatagent/pkg/llm/openai"
)

// fakeUpstream imitates an OpenAI-compatible chat completions endpoint. A
// non-streaming request whose last message is from the user and mentions
// "calculate" gets a calculator tool call; everything else gets an echo of
// the last message.
func fakeUpstream(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
			Stream bool `json:"stream"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		last := req.Messages[len(req.Messages)-1]

		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, word := range strings.Fields("streamed echo: " + last.Content) {
				chunk, _ := json.Marshal(map[string]any{
					"choices": []any{map[string]any{"delta": map[string]string{"content": word + " "}}},
				})
				fmt.Fprintf(w, "data: %s\n\n", chunk)
			}
			fmt.Fprint(w, `data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`+"\n\n")
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if last.Role == "user" && strings.Contains(last.Content, "calculate") {
			fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"","tool_calls":[`+
				`{"id":"call_1","type":"function","function":{"name":"calculator","arguments":"{\"expression\":\"6*7\"}"}}]}}],`+
				`"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`)
			return
		}
		content, _ := json.Marshal("echo: " + last.Content)
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%s}}],"usage":{"total_tokens":3}}`, content)
	}))
}

func newStack(t *testing.T, upstreamURL string) *httptest.Server {
	t.Helper()
	provider := openai.New(&llm.Config{BaseURL: upstreamURL, APIKey: "test", Model: "gpt-4o-mini"})
	engine, err := ctxengine.New("gpt-4o-mini", "")
	if err != nil {
		t.Fatal(err)
	}
	registry := runtime.NewRegistry()
	if err := registry.Register(tools.NewCalculator()); err != nil {
		t.Fatal(err)
	}
	sessions := state.NewSessionStore()
	m := metrics.New(sessions.Len)
	rt := runtime.New(provider, engine, registry, 5, runtime.NoRetry(), m)
	gw := gateway.New(sessions, turn.NewExecutor(rt, m, engine.CountTokens), 4)
	srv := httptest.NewServer(server.NewServer(gw, server.Options{Metrics: m.Handler()}))
	t.Cleanup(func() {
		srv.Close()
		gw.Stop(0)
	})
	return srv
}

func postChat(t *testing.T, url, sessionID, message string) gateway.Reply {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"message": message, "session_id": sessionID})
	resp, err := http.Post(url+"/api/chat", "application/json", strings.NewReader(string(body)))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("status %d: %s", resp.StatusCode, data)
	}
	var reply gateway.Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		t.Fatal(err)
	}
	return reply
}

func TestEndToEndToolCall(t *testing.T) {
	upstream := fakeUpstream(t)
	defer upstream.Close()
	srv := newStack(t, upstream.URL)

	reply := postChat(t, srv.URL, "", "please calculate 6*7")
	if reply.Reply != "echo: 6*7 = 42" {
		t.Errorf("unexpected reply %q", reply.Reply)
	}
	if len(reply.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(reply.ToolCalls))
	}
	tc := reply.ToolCalls[0]
	if tc.ToolName != "calculator" || tc.ToolInput["expression"] != "6*7" || tc.ToolOutput != "6*7 = 42" {
		t.Errorf("unexpected tool call record: %+v", tc)
	}

	resp, err := http.Get(srv.URL + "/api/sessions/" + string(reply.SessionID) + "/messages")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var history []llm.Message
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatal(err)
	}
	// user, assistant(tool call), tool result, assistant
	if len(history) != 4 {
		t.Errorf("expected 4 stored messages, got %d", len(history))
	}
}

func TestEndToEndStreamThenSync(t *testing.T) {
	upstream := fakeUpstream(t)
	defer upstream.Close()
	srv := newStack(t, upstream.URL)

	body := strings.NewReader(`{"message":"hello there"}`)
	resp, err := http.Post(srv.URL+"/api/chat/stream", "application/json", body)
	if err != nil {
		t.Fatal(err)
	}
	var (
		sid   string
		reply strings.Builder
		event string
	)
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if name, ok := strings.CutPrefix(line, "event: "); ok {
			event = name
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var p map[string]string
		json.Unmarshal([]byte(data), &p)
		switch event {
		case "session":
			sid = p["session_id"]
		case "delta":
			reply.WriteString(p["content"])
		}
	}
	resp.Body.Close()

	if sid == "" {
		t.Fatal("no session event received")
	}
	if got := strings.TrimSpace(reply.String()); got != "streamed echo: hello there" {
		t.Errorf("unexpected streamed reply %q", got)
	}

	follow := postChat(t, srv.URL, sid, "again")
	if string(follow.SessionID) != sid {
		t.Errorf("expected follow-up in session %s, got %s", sid, follow.SessionID)
	}
}

func TestEndToEndConcurrentSessions(t *testing.T) {
	upstream := fakeUpstream(t)
	defer upstream.Close()
	srv := newStack(t, upstream.URL)

	const n = 8
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			body := fmt.Sprintf(`{"message":"msg %d"}`, i)
			resp, err := http.Post(srv.URL+"/api/chat", "application/json", strings.NewReader(body))
			if err != nil {
				errs <- err
				return
			}
			defer resp.Body.Close()
			var reply gateway.Reply
			if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
				errs <- err
				return
			}
			if reply.Reply != fmt.Sprintf("echo: msg %d", i) {
				errs <- fmt.Errorf("turn %d got reply %q", i, reply.Reply)
			}
			ids[i] = string(reply.SessionID)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	seen := map[string]bool{}
	for _, id := range ids {
		if seen[id] {
			t.Errorf("session id %s issued twice", id)
		}
		seen[id] = true
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected metrics endpoint, got %d", resp.StatusCode)
	}
}
