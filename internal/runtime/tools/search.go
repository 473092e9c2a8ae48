package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	defaultResultCount = 5
	maxResultCount     = 20
)

// SearchResult is one hit returned by a Searcher.
type SearchResult struct {
	Title       string
	URL         string
	Description string
}

// Searcher runs web queries for the search tool.
type Searcher interface {
	Search(ctx context.Context, query string, count int) ([]SearchResult, error)
}

// Search is the "search" tool. It delegates to a Searcher and renders the
// hits as a numbered list the model can cite.
type Search struct {
	backend Searcher
}

// NewSearch creates the search tool. With a Brave API key it queries the
// Brave Search API; without one it answers with a placeholder so the tool
// stays callable in development setups.
func NewSearch(apiKey string) *Search {
	if apiKey == "" {
		return &Search{backend: placeholderSearcher{}}
	}
	return &Search{backend: NewBraveSearcher(apiKey)}
}

// NewSearchWith creates the search tool over an arbitrary backend.
func NewSearchWith(backend Searcher) *Search {
	return &Search{backend: backend}
}

func (s *Search) Name() string { return "search" }
func (s *Search) Description() string {
	return "Search the internet. Use it when the user asks about recent or real-time information you do not know."
}
func (s *Search) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "minLength": 1, "description": "Search query"},
			"count": {"type": "integer", "minimum": 1, "maximum": 20, "description": "Number of results (default: 5)"}
		},
		"required": ["query"]
	}`)
}

func (s *Search) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	var params struct {
		Query string `json:"query"`
		Count int    `json:"count"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return "", fmt.Errorf("parse args: %w", err)
	}
	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", fmt.Errorf("query is required")
	}
	count := min(params.Count, maxResultCount)
	if count <= 0 {
		count = defaultResultCount
	}

	results, err := s.backend.Search(ctx, query, count)
	if err != nil {
		return "", err
	}
	return formatResults(query, results), nil
}

func formatResults(query string, results []SearchResult) string {
	if len(results) == 0 {
		return fmt.Sprintf("No results found for %q.", query)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Search results for %q:\n", query)
	for i, r := range results {
		fmt.Fprintf(&sb, "\n%d. %s\n", i+1, r.Title)
		if r.URL != "" {
			fmt.Fprintf(&sb, "   %s\n", r.URL)
		}
		if r.Description != "" {
			fmt.Fprintf(&sb, "   %s\n", r.Description)
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// placeholderSearcher stands in when no search API is configured.
type placeholderSearcher struct{}

func (placeholderSearcher) Search(_ context.Context, query string, _ int) ([]SearchResult, error) {
	return []SearchResult{{
		Title:       "Web search unavailable",
		Description: fmt.Sprintf("No live search backend is configured; no current information about %q could be retrieved.", query),
	}}, nil
}

// BraveSearcher queries the Brave Search web endpoint.
type BraveSearcher struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewBraveSearcher creates a Searcher authenticated with a Brave API key.
func NewBraveSearcher(apiKey string) *BraveSearcher {
	return &BraveSearcher{
		apiKey:   apiKey,
		endpoint: "https://api.search.brave.com/res/v1/web/search",
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

type braveResponse struct {
	Web struct {
		Results []struct {
			Title       string `json:"title"`
			URL         string `json:"url"`
			Description string `json:"description"`
		} `json:"results"`
	} `json:"web"`
}

func (b *BraveSearcher) Search(ctx context.Context, query string, count int) ([]SearchResult, error) {
	u, err := url.Parse(b.endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(count))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("search API error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var decoded braveResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	results := make([]SearchResult, 0, len(decoded.Web.Results))
	for _, r := range decoded.Web.Results {
		results = append(results, SearchResult{Title: r.Title, URL: r.URL, Description: r.Description})
	}
	return results, nil
}
