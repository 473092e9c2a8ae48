package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestServerURL(t *testing.T) {
	tests := map[string]string{
		":8000":                 "http://localhost:8000",
		"127.0.0.1:9000":        "http://127.0.0.1:9000",
		"http://example.com":    "http://example.com",
		"https://chat.internal": "https://chat.internal",
	}
	for in, want := range tests {
		if got := serverURL(in); got != want {
			t.Errorf("serverURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestReadEvents(t *testing.T) {
	body := "event: session\ndata: {\"session_id\":\"s1\"}\n\n" +
		": comment\n\n" +
		"event: delta\ndata: line1\ndata: line2\n\n" +
		"event: done\ndata: {}\n\n"

	var got []sseEvent
	for ev, err := range readEvents(strings.NewReader(body)) {
		if err != nil {
			t.Fatal(err)
		}
		got = append(got, ev)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events, got %d: %+v", len(got), got)
	}
	if got[1].Name != "delta" || got[1].Data != "line1\nline2" {
		t.Errorf("unexpected multi-line event: %+v", got[1])
	}
}

func TestClientChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		var body chatBody
		json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"reply":"echo: %s","session_id":"sess-1","tool_calls":[]}`, body.Message)
	}))
	defer srv.Close()

	reply, err := newAPIClient(srv.URL).Chat(context.Background(), "", "hi")
	if err != nil {
		t.Fatal(err)
	}
	if reply.Reply != "echo: hi" || reply.SessionID != "sess-1" {
		t.Errorf("unexpected reply: %+v", reply)
	}
}

func TestClientChatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"backend failure"}`))
	}))
	defer srv.Close()

	_, err := newAPIClient(srv.URL).Chat(context.Background(), "", "hi")
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected apiError, got %v", err)
	}
	if apiErr.Status != http.StatusBadGateway || apiErr.Message != "backend failure" {
		t.Errorf("unexpected error: %+v", apiErr)
	}
}

func TestClientChatStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat/stream" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: session\ndata: {\"session_id\":\"sess-9\"}\n\n")
		fmt.Fprint(w, "event: delta\ndata: {\"content\":\"Hel\"}\n\n")
		fmt.Fprint(w, "event: delta\ndata: {\"content\":\"lo\"}\n\n")
		fmt.Fprint(w, "event: done\ndata: {}\n\n")
	}))
	defer srv.Close()

	var sb strings.Builder
	sid, err := newAPIClient(srv.URL).ChatStream(context.Background(), "", "hi", func(s string) { sb.WriteString(s) })
	if err != nil {
		t.Fatal(err)
	}
	if sid != "sess-9" {
		t.Errorf("expected session sess-9, got %q", sid)
	}
	if sb.String() != "Hello" {
		t.Errorf("expected Hello, got %q", sb.String())
	}
}

func TestClientChatStreamTruncated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: session\ndata: {\"session_id\":\"sess-9\"}\n\n")
	}))
	defer srv.Close()

	_, err := newAPIClient(srv.URL).ChatStream(context.Background(), "", "hi", func(string) {})
	if err == nil {
		t.Fatal("expected error for stream without done event")
	}
}

func TestClientSessionsAndHealth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"session_id":"a","message_count":2,"created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}]`))
	})
	mux.HandleFunc("GET /api/sessions/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `[{"role":"user","content":"for %s"}]`, r.PathValue("id"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newAPIClient(srv.URL + "/")
	ctx := context.Background()
	if err := c.Health(ctx); err != nil {
		t.Fatal(err)
	}
	list, err := c.Sessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].SessionID != "a" || list[0].MessageCount != 2 {
		t.Errorf("unexpected sessions: %+v", list)
	}
	msgs, err := c.Messages(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "for a" {
		t.Errorf("unexpected messages: %+v", msgs)
	}
}
