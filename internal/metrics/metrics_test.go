package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveTurn("sync", "ok", time.Second)
	m.ObserveLLMRequest(nil)
	m.ObserveToolCall("calculator", errors.New("x"))
	m.AddStreamedTokens(3)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 from nil metrics handler, got %d", w.Code)
	}
}

func TestCounters(t *testing.T) {
	m := New(nil)
	m.ObserveTurn("sync", "ok", 10*time.Millisecond)
	m.ObserveTurn("sync", "ok", 10*time.Millisecond)
	m.ObserveTurn("stream", "fallback", time.Millisecond)
	m.ObserveToolCall("calculator", nil)
	m.ObserveToolCall("calculator", errors.New("bad"))
	m.AddStreamedTokens(7)

	if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("sync", "ok")); got != 2 {
		t.Errorf("expected 2 sync turns, got %v", got)
	}
	if got := testutil.ToFloat64(m.TurnsTotal.WithLabelValues("stream", "fallback")); got != 1 {
		t.Errorf("expected 1 fallback turn, got %v", got)
	}
	if got := testutil.ToFloat64(m.ToolCallsTotal.WithLabelValues("calculator", "error")); got != 1 {
		t.Errorf("expected 1 failed tool call, got %v", got)
	}
	if got := testutil.ToFloat64(m.StreamedTokens); got != 7 {
		t.Errorf("expected 7 streamed tokens, got %v", got)
	}
}

func TestHandlerExposesSessionsGauge(t *testing.T) {
	m := New(func() int { return 4 })
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "chatagent_sessions 4") {
		t.Errorf("expected sessions gauge in output, got:\n%s", body)
	}
}
