package tools

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

func braveServer(t *testing.T, h http.HandlerFunc) *Search {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	b := NewBraveSearcher("test-key")
	b.endpoint = server.URL
	return NewSearchWith(b)
}

type stubSearcher struct {
	results  []SearchResult
	err      error
	gotQuery string
	gotCount int
}

func (s *stubSearcher) Search(_ context.Context, query string, count int) ([]SearchResult, error) {
	s.gotQuery, s.gotCount = query, count
	return s.results, s.err
}

func TestSearchName(t *testing.T) {
	if got := NewSearch("test-key").Name(); got != "search" {
		t.Errorf("expected 'search', got %q", got)
	}
}

func TestSearchBrave(t *testing.T) {
	s := braveServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Subscription-Token") != "test-key" {
			t.Error("missing API key header")
		}
		if r.URL.Query().Get("q") != "golang testing" {
			t.Errorf("unexpected query: %s", r.URL.Query().Get("q"))
		}
		fmt.Fprint(w, `{"web":{"results":[
			{"title":"Go Testing","url":"https://go.dev/testing","description":"How to test in Go"},
			{"title":"Go Docs","url":"https://go.dev/doc","description":"Go documentation"}]}}`)
	})

	result, err := s.Execute(context.Background(), json.RawMessage(`{"query":"golang testing","count":2}`))
	if err != nil {
		t.Fatal(err)
	}
	want := "Search results for \"golang testing\":\n\n" +
		"1. Go Testing\n   https://go.dev/testing\n   How to test in Go\n\n" +
		"2. Go Docs\n   https://go.dev/doc\n   Go documentation"
	if result != want {
		t.Errorf("unexpected output:\n%s", result)
	}
}

func TestSearchNoResults(t *testing.T) {
	s := braveServer(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	})

	result, err := s.Execute(context.Background(), json.RawMessage(`{"query":"xyznonexistent"}`))
	if err != nil {
		t.Fatal(err)
	}
	if result != `No results found for "xyznonexistent".` {
		t.Errorf("unexpected output %q", result)
	}
}

func TestSearchAPIError(t *testing.T) {
	s := braveServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := s.Execute(context.Background(), json.RawMessage(`{"query":"go"}`))
	if err == nil || !strings.Contains(err.Error(), "status 429") {
		t.Fatalf("expected status 429 error, got %v", err)
	}
}

func TestSearchCount(t *testing.T) {
	tests := []struct {
		args string
		want int
	}{
		{`{"query":"go"}`, 5},
		{`{"query":"go","count":3}`, 3},
		{`{"query":"go","count":99}`, 20},
		{`{"query":"go","count":-1}`, 5},
	}
	for _, tt := range tests {
		stub := &stubSearcher{}
		if _, err := NewSearchWith(stub).Execute(context.Background(), json.RawMessage(tt.args)); err != nil {
			t.Fatal(err)
		}
		if stub.gotCount != tt.want {
			t.Errorf("%s: expected count %d, got %d", tt.args, tt.want, stub.gotCount)
		}
	}
}

func TestSearchTrimsQuery(t *testing.T) {
	stub := &stubSearcher{}
	if _, err := NewSearchWith(stub).Execute(context.Background(), json.RawMessage(`{"query":"  go  "}`)); err != nil {
		t.Fatal(err)
	}
	if stub.gotQuery != "go" {
		t.Errorf("expected trimmed query, got %q", stub.gotQuery)
	}
	if _, err := NewSearchWith(stub).Execute(context.Background(), json.RawMessage(`{"query":"   "}`)); err == nil {
		t.Error("expected error for blank query")
	}
}

func TestSearchBackendError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewSearchWith(&stubSearcher{err: boom}).Execute(context.Background(), json.RawMessage(`{"query":"go"}`))
	if !errors.Is(err, boom) {
		t.Errorf("expected backend error, got %v", err)
	}
}

func TestSearchPlaceholderWithoutKey(t *testing.T) {
	result, err := NewSearch("").Execute(context.Background(), json.RawMessage(`{"query":"weather"}`))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(result, `"weather"`) || !strings.Contains(result, "unavailable") {
		t.Errorf("unexpected placeholder output %q", result)
	}
}
